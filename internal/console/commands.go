package console

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"miaomiao/internal/aggregate"
	"miaomiao/internal/core"
	"miaomiao/internal/export"
	"miaomiao/internal/ledger"
)

func (c *Console) register() map[string]command {
	quit := command{"退出", func(context.Context, []string) error { return ErrQuit }}
	return map[string]command{
		"help":     {"显示命令列表", c.help},
		"register": {"-phone P -password X [-name N]  注册账号", c.cmdRegister},
		"login":    {"-phone P -password X  登录", c.cmdLogin},
		"logout":   {"退出登录", c.cmdLogout},
		"whoami":   {"当前用户信息", c.cmdWhoami},
		"add":      {"-amount A -category C [-type T] [-desc D] [-date YYYY-MM-DD] [-time HH:MM]  记一笔", c.cmdAdd},
		"edit":     {"ID [-amount A] [-category C] [-type T] [-desc D] [-date YYYY-MM-DD]  修改记录", c.cmdEdit},
		"delete":   {"ID  删除记录", c.cmdDelete},
		"list":     {"[-sort date|amount] [-type T] [-category C] [-from D] [-to D]  交易列表", c.cmdList},
		"summary":  {"本月概览", c.cmdSummary},
		"month":    {"[YYYY-MM|now]  切换统计月份", c.cmdMonth},
		"stats":    {"记账天数与笔数", c.cmdStats},
		"trend":    {"[-n 6]  月度趋势", c.cmdTrend},
		"daily":    {"本月每日统计", c.cmdDaily},
		"export":   {"[-from D] [-to D]  导出交易记录", c.cmdExport},
		"passwd":   {"-old X -new Y  修改密码", c.cmdPasswd},
		"avatar":   {"EMOJI  修改头像", c.cmdAvatar},
		"profile":  {"-name N [-avatar E]  修改资料", c.cmdProfile},
		"quit":     quit,
		"exit":     quit,
	}
}

func (c *Console) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.out)
	return fs
}

func (c *Console) cmdRegister(ctx context.Context, args []string) error {
	fs := c.flags("register")
	phone := fs.String("phone", "", "手机号")
	password := fs.String("password", "", "密码")
	name := fs.String("name", "", "昵称")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := c.Auth.Register(ctx, *name, *phone, *password)
	if err != nil {
		return err
	}
	c.Printer.Success(fmt.Sprintf("%s %s 已注册，请登录", u.Avatar, u.Username))
	return nil
}

func (c *Console) cmdLogin(ctx context.Context, args []string) error {
	fs := c.flags("login")
	phone := fs.String("phone", "", "手机号")
	password := fs.String("password", "", "密码")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := c.Auth.Login(ctx, *phone, *password)
	if err != nil {
		return err
	}
	c.Printer.Success(fmt.Sprintf("欢迎回来 %s %s", u.Avatar, u.Username))
	return nil
}

func (c *Console) cmdLogout(context.Context, []string) error {
	c.Auth.Logout()
	c.Printer.Success("已退出登录")
	return nil
}

func (c *Console) cmdWhoami(context.Context, []string) error {
	u := c.Session.CurrentUser()
	if u == nil {
		return core.ErrNotAuthenticated
	}
	c.Printer.Line("  %s %s  (%s)", u.Avatar, u.Username, u.Phone)
	c.Printer.Line("  记账 %d 天，共 %d 笔", u.TotalDays, u.TotalTransactions)
	return nil
}

func (c *Console) cmdAdd(ctx context.Context, args []string) error {
	fs := c.flags("add")
	typ := fs.String("type", "", "income|expense，默认取分类的类型")
	amount := fs.String("amount", "", "金额")
	category := fs.String("category", "", "分类代码或名称")
	desc := fs.String("desc", "", "备注")
	date := fs.String("date", "", "日期 YYYY-MM-DD")
	clock := fs.String("time", "", "时间 HH:MM")
	if err := fs.Parse(args); err != nil {
		return err
	}
	// Positional form: add AMOUNT CATEGORY [DESCRIPTION...]
	if rest := fs.Args(); *amount == "" && len(rest) >= 2 {
		*amount, *category = rest[0], rest[1]
		if *desc == "" {
			*desc = strings.Join(rest[2:], " ")
		}
	}

	tx, err := c.buildTransaction(*typ, *amount, *category, *desc, *date, *clock)
	if err != nil {
		return err
	}
	saved, err := c.Ledger.Add(ctx, tx)
	if err != nil {
		return err
	}
	c.Printer.Success("已记录")
	c.Printer.Transaction(saved)
	return nil
}

func (c *Console) buildTransaction(typ, amount, category, desc, date, clock string) (core.Transaction, error) {
	amt, err := core.ParseAmount(amount)
	if err != nil {
		return core.Transaction{}, err
	}
	cat, err := core.ParseCategory(category)
	if err != nil {
		return core.Transaction{}, err
	}
	t := cat.Type()
	if typ != "" {
		if t, err = core.ParseType(typ); err != nil {
			return core.Transaction{}, err
		}
	}
	when, err := c.parseWhen(date, clock, c.Now())
	if err != nil {
		return core.Transaction{}, err
	}
	return core.NewTransaction("", amt, t, cat, desc, when), nil
}

func (c *Console) cmdEdit(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("用法: edit ID [-amount A] ...")
	}
	tx, err := c.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	fs := c.flags("edit")
	typ := fs.String("type", "", "income|expense")
	amount := fs.String("amount", "", "金额")
	category := fs.String("category", "", "分类")
	desc := fs.String("desc", "", "备注")
	date := fs.String("date", "", "日期 YYYY-MM-DD")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	var setErr error
	fs.Visit(func(f *flag.Flag) {
		if setErr != nil {
			return
		}
		switch f.Name {
		case "amount":
			tx.Amount, setErr = core.ParseAmount(*amount)
		case "type":
			tx.Type, setErr = core.ParseType(*typ)
		case "category":
			if tx.Category, setErr = core.ParseCategory(*category); setErr == nil {
				tx.Emoji = tx.Category.Emoji()
			}
		case "desc":
			tx.Description = strings.TrimSpace(*desc)
		case "date":
			tx.Date, setErr = c.parseWhen(*date, tx.Date.Format("15:04"), tx.Date)
		}
	})
	if setErr != nil {
		return setErr
	}

	if err := c.Ledger.Update(ctx, tx); err != nil {
		return err
	}
	c.Printer.Success("已修改")
	c.Printer.Transaction(tx)
	return nil
}

func (c *Console) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("用法: delete ID")
	}
	tx, err := c.resolve(ctx, args[0])
	if err != nil {
		return err
	}
	if err := c.Ledger.Delete(ctx, tx.ID); err != nil {
		return err
	}
	c.Printer.Success("已删除")
	return nil
}

func (c *Console) cmdList(ctx context.Context, args []string) error {
	fs := c.flags("list")
	order := fs.String("sort", "date", "date|amount")
	typ := fs.String("type", "", "income|expense")
	category := fs.String("category", "", "分类")
	from := fs.String("from", "", "起始日期")
	to := fs.String("to", "", "结束日期")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		txs []core.Transaction
		err error
	)
	switch {
	case *from != "" || *to != "":
		rng, rerr := c.parseRange(*from, *to)
		if rerr != nil {
			return rerr
		}
		txs, err = c.Ledger.ByDateRange(ctx, rng.First, rng.Last)
	case *typ != "":
		t, terr := core.ParseType(*typ)
		if terr != nil {
			return terr
		}
		txs, err = c.Ledger.ByType(ctx, t)
	case *category != "":
		cat, cerr := core.ParseCategory(*category)
		if cerr != nil {
			return cerr
		}
		txs, err = c.Ledger.ByCategory(ctx, cat)
	default:
		txs, err = c.Ledger.All(ctx)
	}
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		c.Printer.Faint("  暂无记录")
		return nil
	}

	switch *order {
	case "amount":
		for _, tx := range aggregate.SortByAmount(txs) {
			c.Printer.Transaction(tx)
		}
	case "date":
		for _, g := range aggregate.GroupByDay(txs) {
			c.Printer.Faint(g.Date.Format("2006-01-02 Mon"))
			for _, tx := range g.Transactions {
				c.Printer.Transaction(tx)
			}
		}
	default:
		return fmt.Errorf("未知排序方式 %q", *order)
	}
	return nil
}

func (c *Console) cmdSummary(context.Context, []string) error {
	if !c.Session.IsLoggedIn() {
		return core.ErrNotAuthenticated
	}
	v := c.Engine.Views()

	c.Printer.Header(v.Month.String() + " 概览")
	c.Printer.Amount("收入", v.MonthlyIncome)
	c.Printer.Amount("支出", v.MonthlyExpense.Neg())
	c.Printer.Amount("结余", v.MonthlyBalance)
	c.Printer.Amount("总资产", v.TotalBalance)

	c.printBreakdown("支出分类", v.ExpenseBreakdown)
	c.printBreakdown("收入排行", v.IncomeRanking)

	if len(v.Recent) > 0 {
		c.Printer.Faint("\n最近记录")
		for _, tx := range v.Recent {
			c.Printer.Transaction(tx)
		}
	}
	return nil
}

func (c *Console) printBreakdown(title string, rows []aggregate.CategoryAmount) {
	if len(rows) == 0 {
		return
	}
	c.Printer.Faint("\n" + title)
	for _, row := range rows {
		c.Printer.Bar(row.Category.Emoji()+row.Category.Label(), row.Percentage, row.Amount)
	}
}

func (c *Console) cmdMonth(_ context.Context, args []string) error {
	if len(args) == 0 || args[0] == "now" {
		c.Engine.SetReferenceMonth(core.MonthKey{})
		c.Printer.Success("统计月份: 本月")
		return nil
	}
	m, err := core.ParseMonth(args[0])
	if err != nil {
		return fmt.Errorf("月份格式应为 YYYY-MM: %w", err)
	}
	c.Engine.SetReferenceMonth(m)
	c.Printer.Success("统计月份: " + m.String())
	return nil
}

func (c *Console) cmdStats(ctx context.Context, _ []string) error {
	id, ok := c.Session.UserID()
	if !ok {
		return core.ErrNotAuthenticated
	}
	u, err := c.Stats.RefreshStatistics(ctx, id)
	if err != nil {
		return err
	}
	c.Printer.Line("  记账天数 %d", u.TotalDays)
	c.Printer.Line("  记账笔数 %d", u.TotalTransactions)
	return nil
}

func (c *Console) cmdTrend(_ context.Context, args []string) error {
	fs := c.flags("trend")
	n := fs.Int("n", 6, "月数")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !c.Session.IsLoggedIn() {
		return core.ErrNotAuthenticated
	}
	if *n < 1 || *n > 36 {
		return errors.New("月数应在 1 到 36 之间")
	}

	v := c.Engine.Views()
	c.Printer.Line("  %-8s %12s %12s %12s", "月份", "收入", "支出", "结余")
	for _, m := range aggregate.MonthlyTrend(v.Transactions, v.Month, *n) {
		c.Printer.Line("  %-8s %12s %12s %12s", m.Month,
			core.FormatAmount(m.Income), core.FormatAmount(m.Expense), core.FormatAmount(m.Balance))
	}
	return nil
}

func (c *Console) cmdDaily(context.Context, []string) error {
	if !c.Session.IsLoggedIn() {
		return core.ErrNotAuthenticated
	}
	v := c.Engine.Views()
	days := aggregate.DailyStats(v.Transactions, v.Month)
	if len(days) == 0 {
		c.Printer.Faint("  本月暂无记录")
		return nil
	}
	for _, d := range days {
		c.Printer.Line("  %s  %d笔  收入 %s  支出 %s", d.Date.Format("01-02"), d.Count,
			core.FormatAmount(d.Income), core.FormatAmount(d.Expense))
	}
	return nil
}

func (c *Console) cmdExport(ctx context.Context, args []string) error {
	fs := c.flags("export")
	from := fs.String("from", "", "起始日期")
	to := fs.String("to", "", "结束日期")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u := c.Session.CurrentUser()
	if u == nil {
		return core.ErrNotAuthenticated
	}

	var rng *export.DateRange
	if *from != "" || *to != "" {
		r, err := c.parseRange(*from, *to)
		if err != nil {
			return err
		}
		rng = &r
	}

	snapshot, err := c.Ledger.All(ctx)
	if err != nil {
		return err
	}
	c.Printer.Faint("  正在导出...")
	res := <-c.Exporter.Export(ctx, *u, snapshot, rng)
	if res.Err != nil {
		return res.Err
	}
	c.Printer.Success(fmt.Sprintf("已导出 %d 条记录: %s", res.Count, res.Location))
	return nil
}

func (c *Console) cmdPasswd(ctx context.Context, args []string) error {
	fs := c.flags("passwd")
	oldPw := fs.String("old", "", "原密码")
	newPw := fs.String("new", "", "新密码")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Auth.ChangePassword(ctx, *oldPw, *newPw); err != nil {
		return err
	}
	c.Printer.Success("密码已修改")
	return nil
}

func (c *Console) cmdAvatar(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("用法: avatar EMOJI")
	}
	if err := c.Auth.UpdateAvatar(ctx, args[0]); err != nil {
		return err
	}
	c.Printer.Success("头像已更新 " + args[0])
	return nil
}

func (c *Console) cmdProfile(ctx context.Context, args []string) error {
	fs := c.flags("profile")
	name := fs.String("name", "", "昵称")
	avatar := fs.String("avatar", "", "头像")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Auth.UpdateProfile(ctx, *name, *avatar); err != nil {
		return err
	}
	c.Printer.Success("资料已更新")
	return nil
}

// resolve finds one of the user's transactions by id or unique id prefix.
func (c *Console) resolve(ctx context.Context, prefix string) (core.Transaction, error) {
	all, err := c.Ledger.All(ctx)
	if err != nil {
		return core.Transaction{}, err
	}
	var matches []core.Transaction
	for _, tx := range all {
		if tx.ID == prefix {
			return tx, nil
		}
		if strings.HasPrefix(tx.ID, prefix) {
			matches = append(matches, tx)
		}
	}
	switch len(matches) {
	case 0:
		return core.Transaction{}, fmt.Errorf("记录 %s: %w", prefix, ledger.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return core.Transaction{}, fmt.Errorf("编号 %s 匹配 %d 条记录，请输入更长的编号", prefix, len(matches))
	}
}

// parseWhen combines a date and a clock time in the local zone. Empty
// parts are taken from fallback.
func (c *Console) parseWhen(date, clock string, fallback time.Time) (time.Time, error) {
	loc := fallback.Location()
	y, m, d := fallback.Date()
	hh, mm := fallback.Hour(), fallback.Minute()

	if date != "" {
		t, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("日期格式应为 YYYY-MM-DD: %w", err)
		}
		y, m, d = t.Date()
	}
	if clock != "" {
		parts := strings.SplitN(clock, ":", 2)
		if len(parts) != 2 {
			return time.Time{}, errors.New("时间格式应为 HH:MM")
		}
		var err1, err2 error
		hh, err1 = strconv.Atoi(parts[0])
		mm, err2 = strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
			return time.Time{}, errors.New("时间格式应为 HH:MM")
		}
	}
	return time.Date(y, m, d, hh, mm, 0, 0, loc), nil
}

// parseRange reads an inclusive date range; a missing end is open.
func (c *Console) parseRange(from, to string) (export.DateRange, error) {
	now := c.Now()
	r := export.DateRange{First: time.Date(1970, 1, 1, 0, 0, 0, 0, now.Location()), Last: now}
	var err error
	if from != "" {
		if r.First, err = time.ParseInLocation("2006-01-02", from, now.Location()); err != nil {
			return r, fmt.Errorf("日期格式应为 YYYY-MM-DD: %w", err)
		}
	}
	if to != "" {
		if r.Last, err = time.ParseInLocation("2006-01-02", to, now.Location()); err != nil {
			return r, fmt.Errorf("日期格式应为 YYYY-MM-DD: %w", err)
		}
	}
	if r.Last.Before(r.First) {
		return r, errors.New("结束日期早于起始日期")
	}
	return r, nil
}
