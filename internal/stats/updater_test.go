package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
	"miaomiao/internal/ledger/memory"
	"miaomiao/internal/session"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) QueryOnceByUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	args := m.Called(ctx, userID)
	txs, _ := args.Get(0).([]core.Transaction)
	return txs, args.Error(1)
}

func (m *mockStore) GetUser(ctx context.Context, id string) (core.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(core.User), args.Error(1)
}

func (m *mockStore) UpdateUserStatistics(ctx context.Context, id string, totalDays, totalTransactions int) error {
	return m.Called(ctx, id, totalDays, totalTransactions).Error(0)
}

// profileWriterStore changes the user's password right after the ledger has
// been read, as a concurrent profile edit would.
type profileWriterStore struct {
	*memory.Store
	hash string
}

func (s *profileWriterStore) QueryOnceByUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	txs, err := s.Store.QueryOnceByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = s.hash
	return txs, s.Store.UpdateUser(ctx, u)
}

func TestRefreshStatisticsCounts(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u := core.NewUser("mimi", "100", "hash")
	require.NoError(t, store.InsertUser(ctx, u))

	days := []time.Time{
		time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC),
	}
	for _, d := range days {
		require.NoError(t, store.Insert(ctx, core.NewTransaction(u.ID, decimal.NewFromInt(1), core.TypeExpense, "FOOD", "", d)))
	}

	sess := session.New()
	sess.SignIn(u)
	updater := NewUpdater(store, sess, nil)

	got, err := updater.RefreshStatistics(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalTransactions)
	assert.Equal(t, 3, got.TotalDays)

	persisted, _ := store.GetUser(ctx, u.ID)
	assert.Equal(t, 5, persisted.TotalTransactions)
	assert.Equal(t, 3, persisted.TotalDays)

	assert.Equal(t, 5, sess.CurrentUser().TotalTransactions, "session sees new counters")
}

func TestRefreshStatisticsKeepsConcurrentProfileChange(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	u := core.NewUser("mimi", "100", "old-hash")
	require.NoError(t, mem.InsertUser(ctx, u))
	require.NoError(t, mem.Insert(ctx, core.NewTransaction(u.ID, decimal.NewFromInt(1), core.TypeExpense, "FOOD", "", time.Now())))

	sess := session.New()
	sess.SignIn(u)
	store := &profileWriterStore{Store: mem, hash: "new-hash"}

	got, err := NewUpdater(store, sess, nil).RefreshStatistics(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalTransactions)
	assert.Equal(t, "new-hash", got.PasswordHash)

	persisted, err := mem.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", persisted.PasswordHash)
	assert.Equal(t, 1, persisted.TotalTransactions)
	assert.Equal(t, 1, persisted.TotalDays)
	assert.Equal(t, "new-hash", sess.CurrentUser().PasswordHash)
}

func TestRefreshStatisticsUnknownUser(t *testing.T) {
	_, err := NewUpdater(memory.New(), nil, nil).RefreshStatistics(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestRefreshStatisticsFreshUser(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u := core.NewUser("mimi", "100", "hash")
	u.TotalDays, u.TotalTransactions = 4, 9 // stale cache
	require.NoError(t, store.InsertUser(ctx, u))

	got, err := NewUpdater(store, nil, nil).RefreshStatistics(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalDays)
	assert.Equal(t, 0, got.TotalTransactions)
}

func TestRefreshStatisticsLeavesOtherSessionAlone(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u := core.NewUser("mimi", "100", "hash")
	other := core.NewUser("other", "200", "hash")
	require.NoError(t, store.InsertUser(ctx, u))
	require.NoError(t, store.InsertUser(ctx, other))
	require.NoError(t, store.Insert(ctx, core.NewTransaction(u.ID, decimal.NewFromInt(1), core.TypeExpense, "FOOD", "", time.Now())))

	sess := session.New()
	sess.SignIn(other)
	_, err := NewUpdater(store, sess, nil).RefreshStatistics(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, sess.CurrentUser().ID)
	assert.Equal(t, 0, sess.CurrentUser().TotalTransactions)
}

func TestRefreshStatisticsErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	user := core.NewUser("mimi", "100", "hash")

	t.Run("read failure", func(t *testing.T) {
		store := &mockStore{}
		store.On("QueryOnceByUser", ctx, user.ID).Return(nil, boom)
		_, err := NewUpdater(store, nil, nil).RefreshStatistics(ctx, user.ID)
		assert.ErrorIs(t, err, boom)
		store.AssertNotCalled(t, "UpdateUserStatistics", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("write failure keeps session untouched", func(t *testing.T) {
		store := &mockStore{}
		store.On("QueryOnceByUser", ctx, user.ID).Return([]core.Transaction{{ID: "t", Date: time.Now()}}, nil)
		store.On("UpdateUserStatistics", ctx, user.ID, 1, 1).Return(boom)

		sess := session.New()
		sess.SignIn(user)
		_, err := NewUpdater(store, sess, nil).RefreshStatistics(ctx, user.ID)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, sess.CurrentUser().TotalTransactions)
		store.AssertExpectations(t)
	})
}

func TestScheduleSwallowsFailures(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	store.On("QueryOnceByUser", ctx, "u1").Return(nil, errors.New("boom"))

	done := NewUpdater(store, nil, nil).Schedule(ctx, "u1")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled refresh did not finish")
	}
	store.AssertExpectations(t)
}

func TestScheduleRecoversPanic(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	// GetUser's return value cannot be asserted to core.User and panics.
	store.On("QueryOnceByUser", ctx, "u1").Return([]core.Transaction{}, nil)
	store.On("UpdateUserStatistics", ctx, "u1", 0, 0).Return(nil)
	store.On("GetUser", ctx, "u1").Return(nil, nil)

	done := NewUpdater(store, nil, nil).Schedule(ctx, "u1")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking refresh did not finish")
	}
}
