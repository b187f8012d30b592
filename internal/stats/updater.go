// Package stats keeps the per-user counters cached on the user record in
// step with the ledger.
package stats

import (
	"context"
	"fmt"
	"sync"

	"miaomiao/internal/aggregate"
	"miaomiao/internal/core"
	"miaomiao/internal/log"
	"miaomiao/internal/session"
)

// Store is the slice of the ledger the updater needs.
type Store interface {
	QueryOnceByUser(ctx context.Context, userID string) ([]core.Transaction, error)
	GetUser(ctx context.Context, id string) (core.User, error)
	UpdateUserStatistics(ctx context.Context, id string, totalDays, totalTransactions int) error
}

// Updater recomputes TotalDays and TotalTransactions for a user. The
// session is optional; background workers run without one.
type Updater struct {
	store   Store
	session *session.Session
	logger  *log.Logger

	// per-user locks keep two refreshes of one user from writing their
	// counts out of order.
	locks sync.Map
}

func NewUpdater(store Store, sess *session.Session, logger *log.Logger) *Updater {
	return &Updater{
		store:   store,
		session: sess,
		logger:  log.OrDiscard(logger).WithComponent(log.ComponentStats),
	}
}

// RefreshStatistics reads the user's ledger afresh, recounts distinct days
// and transactions, writes only those two counters and refreshes the
// session from the re-read user row if that user is signed in.
func (u *Updater) RefreshStatistics(ctx context.Context, userID string) (core.User, error) {
	mu := u.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	txs, err := u.store.QueryOnceByUser(ctx, userID)
	if err != nil {
		return core.User{}, fmt.Errorf("read ledger: %w", err)
	}
	days, total := aggregate.UniqueDays(txs), len(txs)
	if err := u.store.UpdateUserStatistics(ctx, userID, days, total); err != nil {
		return core.User{}, fmt.Errorf("write statistics: %w", err)
	}

	user, err := u.store.GetUser(ctx, userID)
	if err != nil {
		return core.User{}, fmt.Errorf("read user: %w", err)
	}

	if u.session != nil {
		u.session.Refresh(user)
	}

	u.logger.DebugContext(ctx, "Statistics refreshed",
		log.FieldUserID, userID,
		log.FieldTotalDays, user.TotalDays,
		log.FieldTotalTx, user.TotalTransactions)
	return user, nil
}

// Schedule runs RefreshStatistics on its own goroutine. Failures and panics
// are logged and dropped. The returned channel closes when the refresh has
// finished, so callers may wait for it or ignore it.
func (u *Updater) Schedule(ctx context.Context, userID string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				u.logger.ErrorContext(ctx, "Statistics refresh panicked",
					log.FieldUserID, userID, "panic", r)
			}
		}()

		if _, err := u.RefreshStatistics(ctx, userID); err != nil {
			u.logger.WarnContext(ctx, "Statistics refresh failed",
				log.FieldOperation, log.OpRefresh,
				log.FieldUserID, userID,
				log.FieldError, err)
		}
	}()
	return done
}

func (u *Updater) lockFor(userID string) *sync.Mutex {
	mu, _ := u.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
