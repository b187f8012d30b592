package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"miaomiao/internal/core"
)

var columnWidths = []float64{12, 10, 8, 12, 12, 20, 6}

// XLSXWriter saves each export as a new workbook in a directory.
type XLSXWriter struct {
	dir string
	now func() time.Time
}

func NewXLSXWriter(dir string) *XLSXWriter {
	return &XLSXWriter{dir: dir, now: time.Now}
}

// FileName is the workbook name for user at t. The username is reduced to
// characters that are safe in a single path element.
func FileName(username string, t time.Time) string {
	return fmt.Sprintf("喵喵记账_%s_%s.xlsx", safeName(username), t.Format("20060102_150405"))
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return core.DefaultUsername
	}
	return s
}

func (w *XLSXWriter) Write(ctx context.Context, user core.User, txs []core.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetTitle); err != nil {
		return "", fmt.Errorf("name sheet: %w", err)
	}
	if err := writeRow(f, 1, Header); err != nil {
		return "", err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(Header), 1)
	if err := f.SetCellStyle(SheetTitle, "A1", last, bold); err != nil {
		return "", fmt.Errorf("header style: %w", err)
	}

	for i, tx := range txs {
		if err := writeRow(f, i+2, Row(tx)); err != nil {
			return "", err
		}
	}

	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetTitle, col, col, width); err != nil {
			return "", fmt.Errorf("column width: %w", err)
		}
	}

	path := filepath.Join(w.dir, FileName(user.Username, w.now()))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}

func writeRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(SheetTitle, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}
