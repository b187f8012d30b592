package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, phone string) core.User {
	t.Helper()
	u := core.NewUser("tester", phone, "hash")
	require.NoError(t, s.InsertUser(context.Background(), u))
	return u
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "100")

	shanghai := time.FixedZone("CST", 8*3600)
	tx := core.NewTransaction(u.ID, decimal.RequireFromString("12.34"), core.TypeExpense, "FOOD", "noodles",
		time.Date(2024, time.March, 2, 23, 30, 0, 0, shanghai))
	require.NoError(t, s.Insert(ctx, tx))

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(tx.Amount))
	assert.True(t, got.Date.Equal(tx.Date))
	assert.Equal(t, 2, got.Date.Day(), "calendar day keeps the recorded offset")
	assert.Equal(t, core.Category("FOOD"), got.Category)
	assert.Equal(t, "🍽️", got.Emoji)

	user, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultAvatar, user.Avatar)
}

func TestSQLiteQueriesOrderedByDateDesc(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "100")

	base := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		tx := core.NewTransaction(u.ID, decimal.NewFromInt(int64(i+1)), core.TypeExpense, "FOOD", "", base.AddDate(0, 0, i))
		require.NoError(t, s.Insert(ctx, tx))
		ids = append(ids, tx.ID)
	}
	income := core.NewTransaction(u.ID, decimal.NewFromInt(100), core.TypeIncome, "SALARY", "", base)
	require.NoError(t, s.Insert(ctx, income))

	all, err := s.QueryOnceByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[2], all[0].ID)

	ranged, err := s.QueryByDateRange(ctx, u.ID, base.AddDate(0, 0, 1), base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, ids[1], ranged[0].ID)

	byType, _ := s.QueryByType(ctx, u.ID, core.TypeIncome)
	assert.Len(t, byType, 1)
	byCat, _ := s.QueryByCategory(ctx, u.ID, "FOOD")
	assert.Len(t, byCat, 3)
}

func TestSQLiteMutations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "100")

	tx := core.NewTransaction(u.ID, decimal.NewFromInt(5), core.TypeExpense, "FOOD", "", time.Now())
	assert.ErrorIs(t, s.Update(ctx, tx), ledger.ErrNotFound)
	assert.ErrorIs(t, s.DeleteByID(ctx, tx.ID), ledger.ErrNotFound)

	ghost := tx
	ghost.UserID = "ghost"
	assert.ErrorIs(t, s.Insert(ctx, ghost), ledger.ErrUserNotFound)

	require.NoError(t, s.Insert(ctx, tx))
	tx.Amount = decimal.NewFromInt(7)
	require.NoError(t, s.Insert(ctx, tx), "insert replaces the existing row")
	tx.Category = "TRANSPORT"
	require.NoError(t, s.Update(ctx, tx))

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, core.Category("TRANSPORT"), got.Category)

	require.NoError(t, s.DeleteByID(ctx, tx.ID))
	_, err = s.GetTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSQLiteUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "100")

	assert.ErrorIs(t, s.InsertUser(ctx, core.NewUser("dup", "100", "h")), ledger.ErrPhoneExists)

	u.TotalDays, u.TotalTransactions = 2, 3
	require.NoError(t, s.UpdateUser(ctx, u))
	got, err := s.GetUserByPhone(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalDays)
	assert.Equal(t, 3, got.TotalTransactions)

	missing := core.NewUser("x", "999", "h")
	assert.ErrorIs(t, s.UpdateUser(ctx, missing), ledger.ErrUserNotFound)

	u.PasswordHash = "changed"
	require.NoError(t, s.UpdateUser(ctx, u))
	require.NoError(t, s.UpdateUserStatistics(ctx, u.ID, 5, 8))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalDays)
	assert.Equal(t, 8, got.TotalTransactions)
	assert.Equal(t, "changed", got.PasswordHash)
	assert.ErrorIs(t, s.UpdateUserStatistics(ctx, missing.ID, 1, 1), ledger.ErrUserNotFound)

	ids, err := s.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{u.ID}, ids)
}

func TestSQLiteDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "100")
	require.NoError(t, s.Insert(ctx, core.NewTransaction(u.ID, decimal.NewFromInt(1), core.TypeExpense, "FOOD", "", time.Now())))

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	all, err := s.QueryOnceByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLiteLiveQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)
	u := seedUser(t, s, "100")

	sub, err := s.QueryLiveByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, <-sub.C)

	tx := core.NewTransaction(u.ID, decimal.NewFromInt(1), core.TypeIncome, "GIFT", "", time.Now())
	require.NoError(t, s.Insert(ctx, tx))
	assert.Len(t, <-sub.C, 1)

	require.NoError(t, s.DeleteByID(ctx, tx.ID))
	assert.Empty(t, <-sub.C)
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	require.NoError(t, RunMigrations(path))
	require.NoError(t, RunMigrations(path))
}
