// Package aggregate derives the figures shown to a user from their ledger:
// monthly totals, category breakdowns, rankings, recent entries, trends and
// per-day statistics. Every function here is pure.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
)

// RecentLimit is how many entries the recent list holds.
const RecentLimit = 10

// RankingLimit is how many categories a ranking holds.
const RankingLimit = 5

var hundred = decimal.NewFromInt(100)

type (
	// CategoryAmount is one row of a category breakdown.
	CategoryAmount struct {
		Category   core.Category
		Amount     decimal.Decimal
		Count      int
		Percentage float64 // share of the breakdown total, 0..100
	}

	// MonthSummary holds the totals of one calendar month.
	MonthSummary struct {
		Month   core.MonthKey
		Income  decimal.Decimal
		Expense decimal.Decimal
		Balance decimal.Decimal
	}

	// DayStats holds the totals of one calendar day.
	DayStats struct {
		Date    time.Time
		Income  decimal.Decimal
		Expense decimal.Decimal
		Balance decimal.Decimal
		Count   int
	}

	// DayGroup is the transactions recorded on one calendar day.
	DayGroup struct {
		Date         time.Time
		Transactions []core.Transaction
	}
)

// MonthlyIncome sums the income recorded in month.
func MonthlyIncome(set []core.Transaction, month core.MonthKey) decimal.Decimal {
	return sumType(inMonth(set, month), core.TypeIncome)
}

// MonthlyExpense sums the expenses recorded in month.
func MonthlyExpense(set []core.Transaction, month core.MonthKey) decimal.Decimal {
	return sumType(inMonth(set, month), core.TypeExpense)
}

// MonthlyBalance is income minus expense for month.
func MonthlyBalance(set []core.Transaction, month core.MonthKey) decimal.Decimal {
	return MonthlyIncome(set, month).Sub(MonthlyExpense(set, month))
}

// TotalBalance is all-time income minus all-time expense.
func TotalBalance(set []core.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range set {
		total = total.Add(tx.Signed())
	}
	return total
}

// CategoryBreakdown groups the month's transactions of type t by category,
// largest sum first. Equal sums keep catalog order.
func CategoryBreakdown(set []core.Transaction, t core.Type, month core.MonthKey) []CategoryAmount {
	return breakdown(inMonth(set, month), t)
}

// RankingTop5 returns the leading entries of an already sorted breakdown.
func RankingTop5(b []CategoryAmount) []CategoryAmount {
	if len(b) > RankingLimit {
		b = b[:RankingLimit]
	}
	return append([]CategoryAmount{}, b...)
}

// RecentTransactions returns the n newest transactions. Equal timestamps
// are ordered by id.
func RecentTransactions(set []core.Transaction, n int) []core.Transaction {
	out := sortedByDate(set)
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// MonthlyTrend returns n consecutive months ending with end, oldest first.
func MonthlyTrend(set []core.Transaction, end core.MonthKey, n int) []MonthSummary {
	if n <= 0 {
		return []MonthSummary{}
	}
	months := make([]core.MonthKey, n)
	m := end
	for i := n - 1; i >= 0; i-- {
		months[i] = m
		m = m.Prev()
	}

	byMonth := make(map[core.MonthKey]*MonthSummary, n)
	out := make([]MonthSummary, n)
	for i, key := range months {
		out[i] = MonthSummary{Month: key, Income: decimal.Zero, Expense: decimal.Zero}
		byMonth[key] = &out[i]
	}
	for _, tx := range set {
		s, ok := byMonth[core.MonthOf(tx.Date)]
		if !ok {
			continue
		}
		if tx.Type == core.TypeIncome {
			s.Income = s.Income.Add(tx.Amount)
		} else {
			s.Expense = s.Expense.Add(tx.Amount)
		}
	}
	for i := range out {
		out[i].Balance = out[i].Income.Sub(out[i].Expense)
	}
	return out
}

// DailyStats returns per-day totals for the month, newest day first.
func DailyStats(set []core.Transaction, month core.MonthKey) []DayStats {
	byDay := map[dayKey]*DayStats{}
	for _, tx := range inMonth(set, month) {
		k := keyOf(tx.Date)
		s, ok := byDay[k]
		if !ok {
			s = &DayStats{Date: tx.Day(), Income: decimal.Zero, Expense: decimal.Zero}
			byDay[k] = s
		}
		if tx.Type == core.TypeIncome {
			s.Income = s.Income.Add(tx.Amount)
		} else {
			s.Expense = s.Expense.Add(tx.Amount)
		}
		s.Count++
	}

	out := make([]DayStats, 0, len(byDay))
	for _, s := range byDay {
		s.Balance = s.Income.Sub(s.Expense)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// UniqueDays counts the distinct calendar dates in set, ignoring time of day.
func UniqueDays(set []core.Transaction) int {
	seen := make(map[dayKey]struct{}, len(set))
	for _, tx := range set {
		seen[keyOf(tx.Date)] = struct{}{}
	}
	return len(seen)
}

// SortByAmount orders transactions by amount, largest first, then newest.
func SortByAmount(set []core.Transaction) []core.Transaction {
	out := sortedByDate(set)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount.GreaterThan(out[j].Amount) })
	return out
}

// GroupByDay buckets transactions by calendar day, newest day first.
func GroupByDay(set []core.Transaction) []DayGroup {
	var out []DayGroup
	index := map[dayKey]int{}
	for _, tx := range sortedByDate(set) {
		k := keyOf(tx.Date)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, DayGroup{Date: tx.Day()})
		}
		out[i].Transactions = append(out[i].Transactions, tx)
	}
	return out
}

func breakdown(set []core.Transaction, t core.Type) []CategoryAmount {
	byCat := map[core.Category]*CategoryAmount{}
	for _, tx := range set {
		if tx.Type != t {
			continue
		}
		row, ok := byCat[tx.Category]
		if !ok {
			row = &CategoryAmount{Category: tx.Category, Amount: decimal.Zero}
			byCat[tx.Category] = row
		}
		row.Amount = row.Amount.Add(tx.Amount)
		row.Count++
	}

	out := make([]CategoryAmount, 0, len(byCat))
	total := decimal.Zero
	for _, row := range byCat {
		out = append(out, *row)
		total = total.Add(row.Amount.Abs())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		if oi, oj := out[i].Category.Order(), out[j].Category.Order(); oi != oj {
			return oi < oj
		}
		return out[i].Category < out[j].Category
	})
	for i := range out {
		out[i].Percentage = percentage(out[i].Amount, total)
	}
	return out
}

// percentage is |part| / total * 100, or 0 when total is zero.
func percentage(part, total decimal.Decimal) float64 {
	if total.IsZero() {
		return 0
	}
	return part.Abs().Div(total).Mul(hundred).InexactFloat64()
}

func inMonth(set []core.Transaction, month core.MonthKey) []core.Transaction {
	out := make([]core.Transaction, 0, len(set))
	for _, tx := range set {
		if month.Contains(tx.Date) {
			out = append(out, tx)
		}
	}
	return out
}

func sumType(set []core.Transaction, t core.Type) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range set {
		if tx.Type == t {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

func sortedByDate(set []core.Transaction) []core.Transaction {
	out := append([]core.Transaction{}, set...)
	ledger.SortByDateDesc(out)
	return out
}

type dayKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dayKey {
	y, m, d := t.Date()
	return dayKey{y, m, d}
}
