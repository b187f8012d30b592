package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miaomiao/internal/core"
)

var march = core.MonthKey{Year: 2024, Month: time.March}

func at(year int, month time.Month, d, hour int) time.Time {
	return time.Date(year, month, d, hour, 0, 0, 0, time.UTC)
}

func mk(id string, amount string, typ core.Type, cat core.Category, date time.Time) core.Transaction {
	return core.Transaction{
		ID: id, UserID: "u1", Amount: decimal.RequireFromString(amount),
		Type: typ, Category: cat, Date: date,
	}
}

// scenarioSet is income 1000 on 03-01 and expenses 300 and 50 on 03-02.
func scenarioSet() []core.Transaction {
	return []core.Transaction{
		mk("a", "1000", core.TypeIncome, "SALARY", at(2024, time.March, 1, 9)),
		mk("b", "300", core.TypeExpense, "HOUSING", at(2024, time.March, 2, 10)),
		mk("c", "50", core.TypeExpense, "FOOD", at(2024, time.March, 2, 19)),
	}
}

func randomSet(r *rand.Rand, n int) []core.Transaction {
	cats := core.Categories()
	out := make([]core.Transaction, n)
	for i := range out {
		typ := core.TypeExpense
		if r.Intn(3) == 0 {
			typ = core.TypeIncome
		}
		out[i] = core.Transaction{
			ID:       string(rune('A' + i%26)) + decimal.NewFromInt(int64(i)).String(),
			UserID:   "u1",
			Amount:   decimal.New(int64(r.Intn(100000)+1), -2),
			Type:     typ,
			Category: cats[r.Intn(len(cats))],
			Date:     at(2024, time.Month(r.Intn(3)+2), r.Intn(28)+1, r.Intn(24)),
		}
	}
	return out
}

func TestScenarioMonthlyFigures(t *testing.T) {
	set := scenarioSet()

	assert.Equal(t, "1000", MonthlyIncome(set, march).String())
	assert.Equal(t, "350", MonthlyExpense(set, march).String())
	assert.Equal(t, "650", MonthlyBalance(set, march).String())
	assert.Equal(t, "650", TotalBalance(set).String())
	assert.Equal(t, 2, UniqueDays(set))

	b := CategoryBreakdown(set, core.TypeExpense, march)
	require.Len(t, b, 2)
	assert.Equal(t, core.Category("HOUSING"), b[0].Category)
	assert.Equal(t, "350", (b[0].Amount.Add(b[1].Amount)).String())

	// deleting the 50 expense
	set = set[:2]
	assert.Equal(t, "300", MonthlyExpense(set, march).String())
	assert.Equal(t, 2, UniqueDays(set))
}

func TestEmptySet(t *testing.T) {
	assert.True(t, MonthlyIncome(nil, march).IsZero())
	assert.True(t, MonthlyExpense(nil, march).IsZero())
	assert.True(t, MonthlyBalance(nil, march).IsZero())
	assert.True(t, TotalBalance(nil).IsZero())
	assert.Empty(t, CategoryBreakdown(nil, core.TypeExpense, march))
	assert.Empty(t, RecentTransactions(nil, RecentLimit))
	assert.Empty(t, DailyStats(nil, march))
	assert.Equal(t, 0, UniqueDays(nil))
}

func TestMonthFilter(t *testing.T) {
	set := append(scenarioSet(),
		mk("d", "70", core.TypeExpense, "FOOD", at(2024, time.April, 1, 0)),
		mk("e", "5", core.TypeIncome, "GIFT", at(2023, time.March, 1, 0)),
	)
	assert.Equal(t, "350", MonthlyExpense(set, march).String())
	assert.Equal(t, "1000", MonthlyIncome(set, march).String())
	assert.Equal(t, "585", TotalBalance(set).String(), "total balance ignores the month")
}

func TestPropertiesOverRandomSets(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		set := randomSet(r, r.Intn(40))
		for _, m := range []core.MonthKey{{Year: 2024, Month: time.February}, march, {Year: 2024, Month: time.April}} {
			income, expense := MonthlyIncome(set, m), MonthlyExpense(set, m)
			require.True(t, MonthlyBalance(set, m).Equal(income.Sub(expense)))

			for typ, want := range map[core.Type]decimal.Decimal{core.TypeIncome: income, core.TypeExpense: expense} {
				b := CategoryBreakdown(set, typ, m)
				sum := decimal.Zero
				pct := 0.0
				for j, row := range b {
					sum = sum.Add(row.Amount)
					pct += row.Percentage
					require.GreaterOrEqual(t, row.Percentage, 0.0)
					require.LessOrEqual(t, row.Percentage, 100.0)
					if j > 0 {
						require.True(t, b[j-1].Amount.GreaterThanOrEqual(row.Amount), "sorted descending")
					}
				}
				require.True(t, sum.Equal(want))
				if len(b) > 0 {
					require.InDelta(t, 100.0, pct, 1e-6)
				}
				assert.Equal(t, b, CategoryBreakdown(set, typ, m), "idempotent")
			}
		}

		signed := decimal.Zero
		for _, tx := range set {
			if tx.Type == core.TypeIncome {
				signed = signed.Add(tx.Amount)
			} else {
				signed = signed.Sub(tx.Amount)
			}
		}
		require.True(t, TotalBalance(set).Equal(signed))
	}
}

func TestBreakdownTieBreakUsesCatalogOrder(t *testing.T) {
	set := []core.Transaction{
		mk("1", "10", core.TypeExpense, "HOUSING", at(2024, time.March, 1, 0)),
		mk("2", "10", core.TypeExpense, "FOOD", at(2024, time.March, 2, 0)),
		mk("3", "10", core.TypeExpense, "TRANSPORT", at(2024, time.March, 3, 0)),
	}
	b := CategoryBreakdown(set, core.TypeExpense, march)
	require.Len(t, b, 3)
	assert.Equal(t, []core.Category{"FOOD", "TRANSPORT", "HOUSING"},
		[]core.Category{b[0].Category, b[1].Category, b[2].Category})
	assert.InDelta(t, 33.3333, b[0].Percentage, 1e-3)
}

func TestBreakdownCountsAndSingleType(t *testing.T) {
	set := append(scenarioSet(), mk("d", "25", core.TypeExpense, "FOOD", at(2024, time.March, 5, 0)))
	b := CategoryBreakdown(set, core.TypeExpense, march)
	require.Len(t, b, 2)
	assert.Equal(t, core.Category("HOUSING"), b[0].Category)
	assert.Equal(t, 2, b[1].Count)

	income := CategoryBreakdown(set, core.TypeIncome, march)
	require.Len(t, income, 1)
	assert.Equal(t, 100.0, income[0].Percentage)
}

func TestRankingTop5(t *testing.T) {
	var set []core.Transaction
	for i, c := range core.CategoriesFor(core.TypeExpense) {
		set = append(set, mk(string(c), decimal.NewFromInt(int64(i+1)).String(), core.TypeExpense, c, at(2024, time.March, 1, 0)))
	}
	b := CategoryBreakdown(set, core.TypeExpense, march)
	top := RankingTop5(b)
	require.Len(t, top, 5)
	assert.Equal(t, b[:5], top)
	assert.Equal(t, core.Category("OTHER_EXPENSE"), top[0].Category)

	assert.Len(t, RankingTop5(b[:2]), 2)
	assert.Empty(t, RankingTop5(nil))
}

func TestRecentTransactions(t *testing.T) {
	var set []core.Transaction
	for i := 0; i < 15; i++ {
		set = append(set, mk(decimal.NewFromInt(int64(100+i)).String(), "1", core.TypeExpense, "FOOD", at(2024, time.March, 1, i)))
	}
	// same timestamp as the newest, ordered by id
	set = append(set, mk("099", "1", core.TypeExpense, "FOOD", at(2024, time.March, 1, 14)))

	recent := RecentTransactions(set, RecentLimit)
	require.Len(t, recent, RecentLimit)
	assert.Equal(t, "099", recent[0].ID)
	assert.Equal(t, "114", recent[1].ID)
	for i := 1; i < len(recent); i++ {
		assert.False(t, recent[i].Date.After(recent[i-1].Date))
	}
	assert.Len(t, set, 16, "input untouched")
}

func TestMonthlyTrend(t *testing.T) {
	set := append(scenarioSet(),
		mk("d", "200", core.TypeExpense, "FOOD", at(2024, time.January, 15, 0)),
		mk("e", "80", core.TypeIncome, "GIFT", at(2023, time.December, 15, 0)),
	)
	trend := MonthlyTrend(set, march, 12)
	require.Len(t, trend, 12)
	assert.Equal(t, core.MonthKey{Year: 2023, Month: time.April}, trend[0].Month)
	assert.Equal(t, march, trend[11].Month)
	assert.Equal(t, "650", trend[11].Balance.String())
	assert.Equal(t, "-200", trend[9].Balance.String())
	assert.Equal(t, "80", trend[8].Income.String())
	assert.True(t, trend[10].Balance.IsZero())

	assert.Empty(t, MonthlyTrend(set, march, 0))
}

func TestDailyStats(t *testing.T) {
	days := DailyStats(scenarioSet(), march)
	require.Len(t, days, 2)
	assert.Equal(t, 2, days[0].Date.Day())
	assert.Equal(t, 2, days[0].Count)
	assert.Equal(t, "-350", days[0].Balance.String())
	assert.Equal(t, "1000", days[1].Income.String())
}

func TestSortByAmountAndGroupByDay(t *testing.T) {
	set := scenarioSet()
	sorted := SortByAmount(set)
	assert.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})

	groups := GroupByDay(set)
	require.Len(t, groups, 2)
	assert.Equal(t, 2, groups[0].Date.Day())
	require.Len(t, groups[0].Transactions, 2)
	assert.Equal(t, "c", groups[0].Transactions[0].ID)
}

func TestUniqueDaysIgnoresTimeOfDay(t *testing.T) {
	set := []core.Transaction{
		mk("1", "1", core.TypeExpense, "FOOD", at(2024, time.March, 2, 0)),
		mk("2", "1", core.TypeExpense, "FOOD", at(2024, time.March, 2, 23)),
		mk("3", "1", core.TypeExpense, "FOOD", at(2024, time.April, 2, 12)),
	}
	assert.Equal(t, 2, UniqueDays(set))
}
