package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"miaomiao/internal/amqp"
	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
	"miaomiao/internal/log"
	"miaomiao/internal/session"
)

const msgLoginRequired = "请先登录"

type (
	// Store is the part of the ledger the service reads and writes.
	Store interface {
		ledger.TransactionWriter
		ledger.TransactionReader
	}

	// StatsScheduler starts a best-effort statistics refresh.
	StatsScheduler interface {
		Schedule(ctx context.Context, userID string) <-chan struct{}
	}

	// Publisher announces ledger changes to other processes.
	Publisher interface {
		PublishLedgerChanged(ctx context.Context, msg *amqp.LedgerChangedMessage) error
	}
)

// Option configures a LedgerService.
type Option func(*LedgerService)

// WithPublisher enables change notifications. Without one they are skipped.
func WithPublisher(p Publisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

// LedgerService runs transaction commands for the signed-in user. The store
// write is authoritative: once it succeeds the command succeeds, and the
// statistics refresh and change notification that follow only log their
// failures.
type LedgerService struct {
	store     Store
	session   *session.Session
	stats     StatsScheduler
	publisher Publisher
	logger    *log.Logger
}

func NewLedgerService(store Store, sess *session.Session, stats StatsScheduler, logger *log.Logger, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:   store,
		session: sess,
		stats:   stats,
		logger:  log.OrDiscard(logger).WithComponent(log.ComponentLedger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add records tx for the signed-in user, whatever UserID the caller set.
func (s *LedgerService) Add(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	userID, err := s.currentUser()
	if err != nil {
		return core.Transaction{}, err
	}

	tx.UserID = userID
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Date.IsZero() {
		tx.Date = time.Now()
	}
	if tx.Emoji == "" {
		tx.Emoji = tx.Category.Emoji()
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if err := s.store.Insert(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Transaction added", log.NewFields().WithTransaction(tx).ToSlice()...)

	s.afterMutation(ctx, userID, tx.ID, amqp.OpAdded)
	return tx, nil
}

// Update replaces every field of an existing transaction except its id.
func (s *LedgerService) Update(ctx context.Context, tx core.Transaction) error {
	userID, err := s.currentUser()
	if err != nil {
		return err
	}
	if _, err := s.owned(ctx, userID, tx.ID); err != nil {
		return err
	}

	tx.UserID = userID
	if err := tx.Validate(); err != nil {
		return err
	}
	if err := s.store.Update(ctx, tx); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Transaction updated", log.NewFields().WithTransaction(tx).ToSlice()...)

	s.afterMutation(ctx, userID, tx.ID, amqp.OpUpdated)
	return nil
}

// Delete removes one of the signed-in user's transactions.
func (s *LedgerService) Delete(ctx context.Context, id string) error {
	userID, err := s.currentUser()
	if err != nil {
		return err
	}
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}

	if err := s.store.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldTransactionID, id,
		log.FieldUserID, userID)

	s.afterMutation(ctx, userID, id, amqp.OpDeleted)
	return nil
}

// Get returns one of the signed-in user's transactions.
func (s *LedgerService) Get(ctx context.Context, id string) (core.Transaction, error) {
	userID, err := s.currentUser()
	if err != nil {
		return core.Transaction{}, err
	}
	return s.owned(ctx, userID, id)
}

func (s *LedgerService) All(ctx context.Context) ([]core.Transaction, error) {
	userID, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	return s.store.QueryOnceByUser(ctx, userID)
}

// ByDateRange returns transactions dated on any calendar day from first to
// last, both inclusive.
func (s *LedgerService) ByDateRange(ctx context.Context, first, last time.Time) ([]core.Transaction, error) {
	userID, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	from := startOfDay(first)
	to := startOfDay(last).AddDate(0, 0, 1)
	return s.store.QueryByDateRange(ctx, userID, from, to)
}

func (s *LedgerService) ByType(ctx context.Context, t core.Type) ([]core.Transaction, error) {
	userID, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	return s.store.QueryByType(ctx, userID, t)
}

func (s *LedgerService) ByCategory(ctx context.Context, c core.Category) ([]core.Transaction, error) {
	userID, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	return s.store.QueryByCategory(ctx, userID, c)
}

func (s *LedgerService) currentUser() (string, error) {
	id, ok := s.session.UserID()
	if !ok {
		s.session.SetMessage(msgLoginRequired)
		return "", core.ErrNotAuthenticated
	}
	return id, nil
}

// owned loads a transaction and hides other users' rows as not found.
func (s *LedgerService) owned(ctx context.Context, userID, id string) (core.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if tx.UserID != userID {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return tx, nil
}

// afterMutation waits for the statistics refresh, then publishes the
// change. Neither step can fail the command.
func (s *LedgerService) afterMutation(ctx context.Context, userID, txID, op string) {
	if s.stats != nil {
		<-s.stats.Schedule(ctx, userID)
	}

	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping change message")
		return
	}
	msg := amqp.NewLedgerChangedMessage(userID, txID, op)
	if err := s.publisher.PublishLedgerChanged(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger change",
			log.FieldUserID, userID, log.FieldTransactionID, txID, log.FieldError, err)
	}
}

// IsNotFound reports whether err means the transaction does not exist for
// the signed-in user.
func IsNotFound(err error) bool {
	return errors.Is(err, ledger.ErrNotFound)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
