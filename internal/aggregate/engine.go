package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
	"miaomiao/internal/log"
	"miaomiao/internal/session"
)

// Views is everything the presentation layer renders for the active user.
// Slices are shared between observers and must be treated as read-only.
type Views struct {
	UserID         string
	Month          core.MonthKey
	MonthlyIncome  decimal.Decimal
	MonthlyExpense decimal.Decimal
	MonthlyBalance decimal.Decimal
	TotalBalance   decimal.Decimal

	ExpenseBreakdown []CategoryAmount
	IncomeBreakdown  []CategoryAmount
	ExpenseRanking   []CategoryAmount
	IncomeRanking    []CategoryAmount
	Recent           []core.Transaction

	// Transactions is the snapshot the views were derived from.
	Transactions []core.Transaction
}

// Empty returns the views of a session with no user: zeros and empty lists.
func Empty(month core.MonthKey) Views {
	return Views{
		Month:            month,
		MonthlyIncome:    decimal.Zero,
		MonthlyExpense:   decimal.Zero,
		MonthlyBalance:   decimal.Zero,
		TotalBalance:     decimal.Zero,
		ExpenseBreakdown: []CategoryAmount{},
		IncomeBreakdown:  []CategoryAmount{},
		ExpenseRanking:   []CategoryAmount{},
		IncomeRanking:    []CategoryAmount{},
		Recent:           []core.Transaction{},
		Transactions:     []core.Transaction{},
	}
}

// Compute derives every view from one snapshot. Each stage feeds the next:
// the month filter feeds the totals and the breakdowns, the breakdowns feed
// the rankings.
func Compute(userID string, set []core.Transaction, month core.MonthKey) Views {
	v := Empty(month)
	v.UserID = userID
	if userID == "" {
		return v
	}

	monthSet := inMonth(set, month)
	v.MonthlyIncome = sumType(monthSet, core.TypeIncome)
	v.MonthlyExpense = sumType(monthSet, core.TypeExpense)
	v.MonthlyBalance = v.MonthlyIncome.Sub(v.MonthlyExpense)
	v.TotalBalance = TotalBalance(set)

	v.ExpenseBreakdown = breakdown(monthSet, core.TypeExpense)
	v.IncomeBreakdown = breakdown(monthSet, core.TypeIncome)
	v.ExpenseRanking = RankingTop5(v.ExpenseBreakdown)
	v.IncomeRanking = RankingTop5(v.IncomeBreakdown)

	v.Recent = RecentTransactions(set, RecentLimit)
	v.Transactions = append([]core.Transaction{}, set...)
	return v
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now, which picks the reference month.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine keeps Views in step with the active user's ledger. It follows the
// injected session: on sign-in it subscribes to the user's live query, on
// sign-out it drops back to empty views. Each snapshot is recomputed in
// full and published to observers in arrival order.
type Engine struct {
	live    ledger.LiveQuerier
	session *session.Session
	logger  *log.Logger
	now     func() time.Time

	// notifyMu serialises recompute+notify so observers see one total order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	started   bool
	listening bool
	gen       uint64
	userID    string
	snapshot  []core.Transaction
	month     core.MonthKey // zero follows the clock
	views     Views
	cancelSub context.CancelFunc
	observers map[int]func(Views)
	nextObs   int
	wg        sync.WaitGroup
}

func NewEngine(live ledger.LiveQuerier, sess *session.Session, logger *log.Logger, opts ...Option) *Engine {
	e := &Engine{
		live:      live,
		session:   sess,
		logger:    log.OrDiscard(logger).WithComponent(log.ComponentAggregate),
		now:       time.Now,
		observers: make(map[int]func(Views)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.views = Empty(core.MonthOf(e.now()))
	return e
}

// Start attaches the engine to the session and the current user, if any.
// It stops following when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.ctx = ctx
	e.started = true
	register := !e.listening
	e.listening = true
	e.mu.Unlock()

	if register {
		e.session.OnChange(func(u *core.User) {
			if err := e.follow(u); err != nil {
				e.logger.Error("Failed to follow session user", log.FieldError, err)
			}
		})
	}
	return e.follow(e.session.CurrentUser())
}

// Stop drops the live subscription and waits for the reader to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.gen++
	if e.cancelSub != nil {
		e.cancelSub()
		e.cancelSub = nil
	}
	e.started = false
	e.mu.Unlock()
	e.wg.Wait()
}

// Views returns the latest derived values.
func (e *Engine) Views() Views {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.views
}

// Observe registers fn and immediately calls it with the current views.
// fn runs on the engine's goroutine and must not call back into the engine
// or change the session.
func (e *Engine) Observe(fn func(Views)) (cancel func()) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	current := e.views
	e.mu.Unlock()

	fn(current)
	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

// SetReferenceMonth pins the month used for monthly figures. The zero
// MonthKey returns to following the clock.
func (e *Engine) SetReferenceMonth(m core.MonthKey) {
	e.publish(func() bool {
		e.month = m
		return true
	})
}

// Refresh recomputes from the current snapshot, picking up a clock that
// has moved into a new month.
func (e *Engine) Refresh() {
	e.publish(func() bool { return true })
}

func (e *Engine) follow(u *core.User) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	if e.cancelSub != nil {
		e.cancelSub()
		e.cancelSub = nil
	}
	e.gen++
	gen := e.gen
	ctx := e.ctx
	e.mu.Unlock()

	userID := ""
	if u != nil {
		userID = u.ID
	}
	// Reset before subscribing so the previous user's figures never outlive
	// the switch.
	e.publish(func() bool {
		if e.gen != gen {
			return false
		}
		e.userID = userID
		e.snapshot = nil
		return true
	})
	if u == nil {
		e.logger.Debug("Session cleared, views reset")
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub, err := e.live.QueryLiveByUser(subCtx, userID)
	if err != nil {
		cancel()
		return err
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.cancelSub = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Debug("Following live ledger", log.FieldUserID, userID)
	go e.run(gen, sub)
	return nil
}

func (e *Engine) run(gen uint64, sub *ledger.Subscription) {
	defer e.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-sub.Done():
			return
		case snapshot := <-sub.C:
			e.publish(func() bool {
				if e.gen != gen {
					return false
				}
				e.snapshot = snapshot
				return true
			})
		}
	}
}

// publish applies mutate under the state lock and, if it reports a change,
// recomputes and notifies every observer.
func (e *Engine) publish(mutate func() bool) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if !mutate() {
		e.mu.Unlock()
		return
	}
	month := e.month
	if month.IsZero() {
		month = core.MonthOf(e.now())
	}
	e.views = Compute(e.userID, e.snapshot, month)
	views := e.views
	observers := make([]func(Views), 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	e.mu.Unlock()

	e.logger.Debug("Views recomputed",
		log.FieldUserID, views.UserID,
		log.FieldCount, len(views.Transactions),
		log.FieldMonth, views.Month.String())
	for _, fn := range observers {
		fn(views)
	}
}
