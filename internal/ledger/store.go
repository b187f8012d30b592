// Package ledger defines the storage port for transactions and users and
// the change feed that keeps live queries up to date.
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"miaomiao/internal/core"
)

var (
	ErrNotFound     = errors.New("transaction not found")
	ErrUserNotFound = errors.New("user not found")
	ErrPhoneExists  = errors.New("phone already registered")
)

type (
	// TransactionWriter mutates the ledger.
	TransactionWriter interface {
		// Insert stores tx, replacing any row with the same id.
		Insert(ctx context.Context, tx core.Transaction) error
		Update(ctx context.Context, tx core.Transaction) error
		DeleteByID(ctx context.Context, id string) error
	}

	// TransactionReader answers one-shot queries. Results are ordered by
	// date descending, then id.
	TransactionReader interface {
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		QueryOnceByUser(ctx context.Context, userID string) ([]core.Transaction, error)
		// QueryByDateRange returns transactions with from <= date < to.
		QueryByDateRange(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error)
		QueryByType(ctx context.Context, userID string, t core.Type) ([]core.Transaction, error)
		QueryByCategory(ctx context.Context, userID string, c core.Category) ([]core.Transaction, error)
	}

	// LiveQuerier pushes a fresh snapshot of a user's transactions after
	// every committed change.
	LiveQuerier interface {
		QueryLiveByUser(ctx context.Context, userID string) (*Subscription, error)
	}

	UserStore interface {
		GetUser(ctx context.Context, id string) (core.User, error)
		GetUserByPhone(ctx context.Context, phone string) (core.User, error)
		InsertUser(ctx context.Context, u core.User) error
		UpdateUser(ctx context.Context, u core.User) error
		// UpdateUserStatistics writes only the cached counters, leaving
		// profile and credential fields as they are.
		UpdateUserStatistics(ctx context.Context, id string, totalDays, totalTransactions int) error
		// DeleteUser removes the user and every transaction they own.
		DeleteUser(ctx context.Context, id string) error
		ListUserIDs(ctx context.Context) ([]string, error)
	}

	Store interface {
		TransactionWriter
		TransactionReader
		LiveQuerier
		UserStore
		Close() error
	}
)

// SortByDateDesc orders transactions newest first with id as tie-break.
func SortByDateDesc(txs []core.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
}
