package ledger

import (
	"context"
	"sync"

	"miaomiao/internal/core"
)

// Subscription receives snapshots of one user's transactions. C holds at
// most one pending snapshot: a newer one replaces an unread older one, so
// a slow reader always sees the latest state and never blocks writers.
type Subscription struct {
	C <-chan []core.Transaction

	ch     chan []core.Transaction
	done   chan struct{}
	userID string
	n      *Notifier
	once   sync.Once

	// stopMu guards stop, which the context callback may read before
	// Subscribe has stored it.
	stopMu sync.Mutex
	stop   func() bool
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.stopMu.Lock()
		stop := s.stop
		s.stopMu.Unlock()
		if stop != nil {
			stop()
		}
		s.n.remove(s)
		close(s.done)
	})
}

// Done is closed once the subscription has been closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Notifier fans committed snapshots out to live subscribers, per user.
// Stores call Publish while holding their write lock so subscribers see
// snapshots in commit order.
type Notifier struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a subscriber primed with the initial snapshot. The
// subscription closes itself when ctx is done.
func (n *Notifier) Subscribe(ctx context.Context, userID string, initial []core.Transaction) *Subscription {
	ch := make(chan []core.Transaction, 1)
	s := &Subscription{C: ch, ch: ch, done: make(chan struct{}), userID: userID, n: n}

	n.mu.Lock()
	if n.subs[userID] == nil {
		n.subs[userID] = make(map[*Subscription]struct{})
	}
	n.subs[userID][s] = struct{}{}
	ch <- clone(initial)
	n.mu.Unlock()

	s.stopMu.Lock()
	s.stop = context.AfterFunc(ctx, s.Close)
	s.stopMu.Unlock()
	return s
}

// Publish delivers snapshot to every subscriber of userID without blocking.
func (n *Notifier) Publish(userID string, snapshot []core.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for s := range n.subs[userID] {
		select {
		case <-s.ch:
		default:
		}
		s.ch <- clone(snapshot)
	}
}

// Subscribers reports how many live subscriptions exist for userID.
func (n *Notifier) Subscribers(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[userID])
}

func (n *Notifier) remove(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if set, ok := n.subs[s.userID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(n.subs, s.userID)
		}
	}
}

func clone(txs []core.Transaction) []core.Transaction {
	if txs == nil {
		return []core.Transaction{}
	}
	return append([]core.Transaction(nil), txs...)
}
