// Package console is the interactive text front end: it parses command
// lines, runs them against the services and renders the derived views.
package console

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"miaomiao/internal/aggregate"
	"miaomiao/internal/auth"
	"miaomiao/internal/cli"
	"miaomiao/internal/core"
	"miaomiao/internal/export"
	"miaomiao/internal/ledger"
	"miaomiao/internal/log"
	"miaomiao/internal/services"
	"miaomiao/internal/session"
	"miaomiao/internal/stats"
	"miaomiao/internal/trace"
)

// ErrQuit ends Run without error.
var ErrQuit = errors.New("quit")

const prompt = "喵> "

// Deps are the collaborators the console drives.
type Deps struct {
	Session  *session.Session
	Auth     *auth.Service
	Ledger   *services.LedgerService
	Engine   *aggregate.Engine
	Stats    *stats.Updater
	Exporter *export.Exporter
	Printer  *cli.Printer
	Tracer   *trace.Tracer
	Logger   *log.Logger
	Now      func() time.Time
}

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

type Console struct {
	Deps
	commands map[string]command
	out      io.Writer
}

func New(d Deps, out io.Writer) *Console {
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Logger = log.OrDiscard(d.Logger).WithComponent(log.ComponentApp)
	if d.Tracer == nil {
		d.Tracer = trace.New(d.Logger)
	}
	c := &Console{Deps: d, out: out}
	c.commands = c.register()
	return c
}

// Run reads commands from in until EOF, quit or ctx ends. Command errors
// are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	c.Printer.Header("喵喵记账")
	c.Printer.Faint("输入 help 查看命令")

	for {
		fmt.Fprint(c.out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		err := c.Execute(ctx, scanner.Text())
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil && !errors.Is(err, flag.ErrHelp) {
			c.Printer.Error(describe(err))
			if c.Session.Message() == err.Error() {
				c.Session.ClearMessage()
			}
		}
		c.flushMessage()
	}
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	args, err := splitArgs(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}

	name := strings.ToLower(args[0])
	cmd, ok := c.commands[name]
	if !ok {
		return fmt.Errorf("未知命令 %q，输入 help 查看命令", args[0])
	}
	return c.Tracer.Run(ctx, name, func(ctx context.Context) error {
		return cmd.run(ctx, args[1:])
	})
}

func (c *Console) flushMessage() {
	if msg := c.Session.Message(); msg != "" {
		c.Printer.Info(msg)
		c.Session.ClearMessage()
	}
}

func (c *Console) help(context.Context, []string) error {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.Printer.Line("  %-9s %s", name, c.commands[name].usage)
	}
	return nil
}

// describe turns domain errors into the text shown to the user.
func describe(err error) string {
	switch {
	case errors.Is(err, core.ErrNotAuthenticated):
		return "请先登录"
	case errors.Is(err, core.ErrInvalidAmount):
		return "请输入有效的金额"
	case errors.Is(err, core.ErrInvalidCategory):
		return "未知分类: " + err.Error()
	case errors.Is(err, core.ErrInvalidType):
		return "类型应为 income 或 expense"
	case errors.Is(err, ledger.ErrNotFound):
		return "记录不存在"
	default:
		return err.Error()
	}
}

// splitArgs splits on whitespace, keeping double-quoted runs together.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t'):
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, errors.New("引号未闭合")
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}
