package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"miaomiao/internal/amqp"
	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
	"miaomiao/internal/log"
)

type (
	// Consumer delivers ledger-changed messages until ctx ends.
	Consumer interface {
		ConsumeLedgerChanged(ctx context.Context, handler amqp.Handler) error
	}

	Refresher interface {
		RefreshStatistics(ctx context.Context, userID string) (core.User, error)
	}

	UserLister interface {
		ListUserIDs(ctx context.Context) ([]string, error)
	}
)

// StatsReconciler keeps the persisted per-user statistics in step with the
// ledger from outside the interactive process. It refreshes a user when a
// change message names them and periodically sweeps every user to repair
// counts whose message was lost.
type StatsReconciler struct {
	refresher Refresher
	users     UserLister
	consumer  Consumer
	interval  time.Duration
	logger    *log.Logger
}

// NewStatsReconciler builds a reconciler. A nil consumer runs the sweep only.
func NewStatsReconciler(refresher Refresher, users UserLister, consumer Consumer, interval time.Duration, logger *log.Logger) *StatsReconciler {
	return &StatsReconciler{
		refresher: refresher,
		users:     users,
		consumer:  consumer,
		interval:  interval,
		logger:    log.OrDiscard(logger).WithComponent(log.ComponentWorker),
	}
}

// HandleLedgerChanged refreshes the user named by msg. Messages for users
// that no longer exist are acknowledged and dropped.
func (r *StatsReconciler) HandleLedgerChanged(ctx context.Context, msg *amqp.LedgerChangedMessage) error {
	r.logger.InfoContext(ctx, "Processing ledger changed message",
		log.FieldUserID, msg.UserID,
		log.FieldTransactionID, msg.TransactionID,
		log.FieldOperation, msg.Operation)

	u, err := r.refresher.RefreshStatistics(ctx, msg.UserID)
	if errors.Is(err, ledger.ErrUserNotFound) {
		r.logger.WarnContext(ctx, "User gone, dropping message", log.FieldUserID, msg.UserID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("refresh statistics: %w", err)
	}

	r.logger.InfoContext(ctx, "Statistics reconciled",
		log.FieldUserID, u.ID,
		log.FieldTotalDays, u.TotalDays,
		log.FieldTotalTx, u.TotalTransactions)
	return nil
}

// Sweep refreshes every user. Individual failures are logged and skipped.
func (r *StatsReconciler) Sweep(ctx context.Context) error {
	ids, err := r.users.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	failed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.refresher.RefreshStatistics(ctx, id); err != nil {
			r.logger.ErrorContext(ctx, "Failed to reconcile user", log.FieldUserID, id, log.FieldError, err)
			failed++
		}
	}

	r.logger.InfoContext(ctx, "Sweep completed",
		log.FieldOperation, log.OpReconcile,
		"total", len(ids),
		"errors", failed)
	return nil
}

// Run sweeps once, then consumes messages and sweeps on every tick until
// ctx is cancelled. Cancellation is a clean exit.
func (r *StatsReconciler) Run(ctx context.Context) error {
	if err := r.Sweep(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Startup sweep failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if r.consumer != nil {
		g.Go(func() error {
			return r.consumer.ConsumeLedgerChanged(gctx, r.HandleLedgerChanged)
		})
	} else {
		r.logger.InfoContext(ctx, "No message consumer configured, sweeping only")
	}

	g.Go(func() error {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if err := r.Sweep(gctx); err != nil && gctx.Err() == nil {
					r.logger.ErrorContext(gctx, "Periodic sweep failed", log.FieldError, err)
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
