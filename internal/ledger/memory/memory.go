// Package memory is an in-process ledger store used by tests and the
// memory backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]core.User
	txs      map[string]core.Transaction
	notifier *ledger.Notifier
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    make(map[string]core.User),
		txs:      make(map[string]core.Transaction),
		notifier: ledger.NewNotifier(),
	}
}

func (s *Store) Close() error { return nil }

// Insert stores the transaction, replacing an existing row with the same id.
func (s *Store) Insert(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[tx.UserID]; !ok {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, ledger.ErrUserNotFound)
	}
	prev, replaced := s.txs[tx.ID]
	s.txs[tx.ID] = tx

	s.publishLocked(tx.UserID)
	if replaced && prev.UserID != tx.UserID {
		s.publishLocked(prev.UserID)
	}
	return nil
}

func (s *Store) Update(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.txs[tx.ID]
	if !ok {
		return fmt.Errorf("update transaction %s: %w", tx.ID, ledger.ErrNotFound)
	}
	if _, ok := s.users[tx.UserID]; !ok {
		return fmt.Errorf("update transaction %s: %w", tx.ID, ledger.ErrUserNotFound)
	}
	s.txs[tx.ID] = tx

	s.publishLocked(tx.UserID)
	if prev.UserID != tx.UserID {
		s.publishLocked(prev.UserID)
	}
	return nil
}

func (s *Store) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("delete transaction %s: %w", id, ledger.ErrNotFound)
	}
	delete(s.txs, id)
	s.publishLocked(tx.UserID)
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, ledger.ErrNotFound)
	}
	return tx, nil
}

func (s *Store) QueryOnceByUser(_ context.Context, userID string) ([]core.Transaction, error) {
	return s.filter(userID, func(core.Transaction) bool { return true }), nil
}

func (s *Store) QueryByDateRange(_ context.Context, userID string, from, to time.Time) ([]core.Transaction, error) {
	return s.filter(userID, func(tx core.Transaction) bool {
		return !tx.Date.Before(from) && tx.Date.Before(to)
	}), nil
}

func (s *Store) QueryByType(_ context.Context, userID string, t core.Type) ([]core.Transaction, error) {
	return s.filter(userID, func(tx core.Transaction) bool { return tx.Type == t }), nil
}

func (s *Store) QueryByCategory(_ context.Context, userID string, c core.Category) ([]core.Transaction, error) {
	return s.filter(userID, func(tx core.Transaction) bool { return tx.Category == c }), nil
}

// QueryLiveByUser subscribes to the user's transactions. The first
// snapshot is available immediately.
func (s *Store) QueryLiveByUser(ctx context.Context, userID string) (*ledger.Subscription, error) {
	// Holding the write lock keeps a concurrent mutation from slipping
	// between the initial snapshot and the registration.
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier.Subscribe(ctx, userID, s.snapshotLocked(userID)), nil
}

func (s *Store) GetUser(_ context.Context, id string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("get user %s: %w", id, ledger.ErrUserNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByPhone(_ context.Context, phone string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Phone == phone {
			return u, nil
		}
	}
	return core.User{}, fmt.Errorf("get user by phone: %w", ledger.ErrUserNotFound)
}

func (s *Store) InsertUser(_ context.Context, u core.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phoneTakenLocked(u.Phone, u.ID) {
		return fmt.Errorf("insert user: %w", ledger.ErrPhoneExists)
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) UpdateUser(_ context.Context, u core.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("update user %s: %w", u.ID, ledger.ErrUserNotFound)
	}
	if s.phoneTakenLocked(u.Phone, u.ID) {
		return fmt.Errorf("update user %s: %w", u.ID, ledger.ErrPhoneExists)
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) UpdateUserStatistics(_ context.Context, id string, totalDays, totalTransactions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("update user statistics %s: %w", id, ledger.ErrUserNotFound)
	}
	u.TotalDays = totalDays
	u.TotalTransactions = totalTransactions
	s.users[id] = u
	return nil
}

// DeleteUser removes the user and cascades to their transactions.
func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("delete user %s: %w", id, ledger.ErrUserNotFound)
	}
	delete(s.users, id)
	for txID, tx := range s.txs {
		if tx.UserID == id {
			delete(s.txs, txID)
		}
	}
	s.publishLocked(id)
	return nil
}

func (s *Store) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) filter(userID string, keep func(core.Transaction) bool) []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []core.Transaction{}
	for _, tx := range s.txs {
		if tx.UserID == userID && keep(tx) {
			out = append(out, tx)
		}
	}
	ledger.SortByDateDesc(out)
	return out
}

func (s *Store) snapshotLocked(userID string) []core.Transaction {
	out := []core.Transaction{}
	for _, tx := range s.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	ledger.SortByDateDesc(out)
	return out
}

func (s *Store) publishLocked(userID string) {
	if s.notifier.Subscribers(userID) == 0 {
		return
	}
	s.notifier.Publish(userID, s.snapshotLocked(userID))
}

func (s *Store) phoneTakenLocked(phone, exceptID string) bool {
	for id, u := range s.users {
		if id != exceptID && u.Phone == phone {
			return true
		}
	}
	return false
}
