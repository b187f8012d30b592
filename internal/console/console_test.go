package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"miaomiao/internal/aggregate"
	"miaomiao/internal/auth"
	"miaomiao/internal/cli"
	"miaomiao/internal/core"
	"miaomiao/internal/export"
	"miaomiao/internal/ledger/memory"
	"miaomiao/internal/services"
	"miaomiao/internal/session"
	"miaomiao/internal/stats"
)

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type harness struct {
	console *Console
	out     *bytes.Buffer
	engine  *aggregate.Engine
	ledger  *services.LedgerService
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	sess := session.New()
	updater := stats.NewUpdater(store, sess, nil)
	engine := aggregate.NewEngine(store, sess, nil, aggregate.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)

	dir := t.TempDir()
	ledgerSvc := services.NewLedgerService(store, sess, updater, nil)
	out := &bytes.Buffer{}
	c := New(Deps{
		Session:  sess,
		Auth:     auth.NewService(store, sess, nil, auth.WithHashCost(bcrypt.MinCost)),
		Ledger:   ledgerSvc,
		Engine:   engine,
		Stats:    updater,
		Exporter: export.NewExporter(export.NewXLSXWriter(dir), nil),
		Printer:  cli.NewPrinter(out).NoColor(),
		Now:      func() time.Time { return fixedNow },
	}, out)
	return &harness{console: c, out: out, engine: engine, ledger: ledgerSvc, dir: dir}
}

func (h *harness) run(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, h.console.Execute(context.Background(), line), line)
}

func (h *harness) signIn(t *testing.T) {
	t.Helper()
	h.run(t, "register -phone 13800000000 -password secret1 -name 咪咪")
	h.run(t, "login -phone 13800000000 -password secret1")
}

func (h *harness) waitForViews(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.engine.Views().Transactions) == n
	}, time.Second, 5*time.Millisecond)
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", nil},
		{"  list  ", []string{"list"}},
		{`add 12 FOOD "hot pot with friends"`, []string{"add", "12", "FOOD", "hot pot with friends"}},
		{`profile -name ""`, []string{"profile", "-name", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := splitArgs(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := splitArgs(`add "oops`)
	assert.Error(t, err)
}

func TestCommandsRequireLogin(t *testing.T) {
	h := newHarness(t)
	for _, line := range []string{"add 10 FOOD", "summary", "stats", "export", "whoami", "list"} {
		err := h.console.Execute(context.Background(), line)
		assert.ErrorIs(t, err, core.ErrNotAuthenticated, line)
		assert.Equal(t, "请先登录", describe(err))
	}
}

func TestAddListSummary(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	h.run(t, `add -date 2024-03-10 -time 12:30 30 FOOD 午饭`)
	h.run(t, `add -amount 5000 -category SALARY -date 2024-03-01`)
	h.waitForViews(t, 2)

	h.out.Reset()
	h.run(t, "list")
	assert.Contains(t, h.out.String(), "2024-03-10 12:30")
	assert.Contains(t, h.out.String(), "午饭")
	assert.Contains(t, h.out.String(), "-30.00")

	h.out.Reset()
	h.run(t, "summary")
	out := h.out.String()
	assert.Contains(t, out, "2024-03 概览")
	assert.Contains(t, out, "5000.00")
	assert.Contains(t, out, "4970.00")
	assert.Contains(t, out, "100.0%")

	h.out.Reset()
	h.run(t, "whoami")
	assert.Contains(t, h.out.String(), "记账 2 天，共 2 笔")
}

func TestListSortByAmount(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.run(t, "add -date 2024-03-01 10 FOOD small")
	h.run(t, "add -date 2024-03-02 99 SHOPPING big")

	h.out.Reset()
	h.run(t, "list -sort amount")
	out := h.out.String()
	assert.Less(t, strings.Index(out, "big"), strings.Index(out, "small"))

	err := h.console.Execute(context.Background(), "list -sort weird")
	assert.Error(t, err)
}

func TestEditAndDelete(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	ctx := context.Background()
	h.run(t, "add -date 2024-03-05 10 FOOD")

	all, err := h.ledger.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	id := all[0].ID

	h.run(t, "edit "+id[:8]+` -amount 42.5 -category TRANSPORT -desc "taxi home"`)
	got, err := h.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "42.50", core.FormatAmount(got.Amount))
	assert.Equal(t, core.Category("TRANSPORT"), got.Category)
	assert.Equal(t, "taxi home", got.Description)
	assert.Equal(t, 5, got.Date.Day())

	h.run(t, "delete "+id[:8])
	all, err = h.ledger.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	err = h.console.Execute(ctx, "delete "+id[:8])
	assert.Equal(t, "记录不存在", describe(err))
}

func TestMonthTrendDaily(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)
	h.run(t, "add -date 2024-02-10 20 FOOD")
	h.run(t, "add -date 2024-03-03 7 FOOD")
	h.waitForViews(t, 2)

	h.out.Reset()
	h.run(t, "trend -n 2")
	out := h.out.String()
	assert.Contains(t, out, "2024-02")
	assert.Contains(t, out, "20.00")
	assert.Contains(t, out, "2024-03")

	h.run(t, "month 2024-02")
	require.Eventually(t, func() bool {
		return h.engine.Views().Month == core.MonthKey{Year: 2024, Month: time.February}
	}, time.Second, 5*time.Millisecond)

	h.out.Reset()
	h.run(t, "daily")
	assert.Contains(t, h.out.String(), "02-10")
	assert.NotContains(t, h.out.String(), "03-03")

	assert.Error(t, h.console.Execute(context.Background(), "month 2024/02"))
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	err := h.console.Execute(context.Background(), "export")
	assert.ErrorIs(t, err, export.ErrNoTransactions)

	h.run(t, "add -date 2024-03-01 10 FOOD")
	h.run(t, "add -date 2024-03-09 10 FOOD")

	h.out.Reset()
	h.run(t, "export -from 2024-03-01 -to 2024-03-05")
	assert.Contains(t, h.out.String(), "已导出 1 条记录")
	assert.Contains(t, h.out.String(), h.dir)
}

func TestProfileCommands(t *testing.T) {
	h := newHarness(t)
	h.signIn(t)

	h.run(t, "avatar 🐶")
	h.run(t, "profile -name 旺财")
	h.run(t, "passwd -old secret1 -new secret2")

	u := h.console.Session.CurrentUser()
	require.NotNil(t, u)
	assert.Equal(t, "🐶", u.Avatar)
	assert.Equal(t, "旺财", u.Username)

	h.run(t, "logout")
	assert.False(t, h.console.Session.IsLoggedIn())
	h.run(t, "login -phone 13800000000 -password secret2")
	assert.True(t, h.console.Session.IsLoggedIn())
}

func TestRunLoop(t *testing.T) {
	h := newHarness(t)
	in := strings.NewReader("help\nbogus\nregister -phone 1 -password secret1\nquit\nhelp\n")

	require.NoError(t, h.console.Run(context.Background(), in))
	out := h.out.String()
	assert.Contains(t, out, "未知命令")
	assert.Contains(t, out, "注册成功")
	assert.Equal(t, 1, strings.Count(out, "显示命令列表"))
	// help, register and quit; unknown names never reach a command
	assert.Equal(t, int64(3), h.console.Tracer.Metrics().TotalCommands)
}

func TestParseWhen(t *testing.T) {
	c := New(Deps{Printer: cli.NewPrinter(&bytes.Buffer{}), Session: session.New()}, &bytes.Buffer{})

	got, err := c.parseWhen("2024-01-02", "", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), got)

	got, err = c.parseWhen("", "08:15", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 8, 15, 0, 0, time.UTC), got)

	_, err = c.parseWhen("", "25:00", fixedNow)
	assert.Error(t, err)
	_, err = c.parseWhen("02/01/2024", "", fixedNow)
	assert.Error(t, err)
}
