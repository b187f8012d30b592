package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"miaomiao/internal/core"
)

// Printer writes coloured, user-facing lines.
type Printer struct {
	w      io.Writer
	green  *color.Color
	yellow *color.Color
	blue   *color.Color
	red    *color.Color
	faint  *color.Color
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:      w,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow, color.Bold),
		blue:   color.New(color.FgBlue),
		red:    color.New(color.FgRed),
		faint:  color.New(color.Faint),
	}
}

// NoColor strips escape codes, e.g. when output is not a terminal.
func (p *Printer) NoColor() *Printer {
	for _, c := range []*color.Color{p.green, p.yellow, p.blue, p.red, p.faint} {
		c.DisableColor()
	}
	return p
}

// Header prints a formatted header
func (p *Printer) Header(text string) {
	line := strings.Repeat("=", 40)
	p.green.Fprintf(p.w, "\n%s\n%s\n%s\n", line, text, line)
}

func (p *Printer) Success(text string) {
	p.green.Fprintf(p.w, "  ✓ %s\n", text)
}

func (p *Printer) Info(text string) {
	fmt.Fprintf(p.w, "  → %s\n", text)
}

func (p *Printer) Warning(text string) {
	p.yellow.Fprintf(p.w, "  ⚠ %s\n", text)
}

func (p *Printer) Error(text string) {
	p.red.Fprintf(p.w, "错误: %s\n", text)
}

func (p *Printer) Faint(text string) {
	p.faint.Fprintln(p.w, text)
}

func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Amount renders a labelled figure, green when non-negative, red otherwise.
func (p *Printer) Amount(label string, d decimal.Decimal) {
	c := p.green
	if d.IsNegative() {
		c = p.red
	}
	fmt.Fprintf(p.w, "  %-8s ", label)
	c.Fprintf(p.w, "%12s\n", core.FormatAmount(d))
}

// Transaction prints one ledger row.
func (p *Printer) Transaction(tx core.Transaction) {
	c := p.red
	if tx.Type == core.TypeIncome {
		c = p.green
	}
	fmt.Fprintf(p.w, "  %s %s  %-6s ", tx.Date.Format("2006-01-02 15:04"), tx.Emoji, tx.Category.Label())
	c.Fprintf(p.w, "%10s", core.FormatAmount(tx.Signed()))
	if tx.Description != "" {
		p.faint.Fprintf(p.w, "  %s", tx.Description)
	}
	p.faint.Fprintf(p.w, "  [%s]\n", shortID(tx.ID))
}

// Bar prints a proportional bar for a percentage in [0, 100].
func (p *Printer) Bar(label string, pct float64, amount decimal.Decimal) {
	n := int(pct / 5)
	if n < 0 {
		n = 0
	}
	if n > 20 {
		n = 20
	}
	fmt.Fprintf(p.w, "  %-8s ", label)
	p.blue.Fprintf(p.w, "%-20s", strings.Repeat("█", n))
	fmt.Fprintf(p.w, " %5.1f%% %10s\n", pct, core.FormatAmount(amount))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
