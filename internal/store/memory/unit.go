package memory

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
)

// Atomic runs fn with exclusive use of the store's write path. Writes made
// through the Store passed to fn are recorded in an undo log and reverted,
// newest first, when fn fails.
func (s *Store) Atomic(_ context.Context, fn func(engine.Store) error) error {
	s.atomicMu.Lock()
	defer s.atomicMu.Unlock()

	u := &unit{Store: s}
	if err := fn(u); err != nil {
		u.rollback()
		return err
	}
	return nil
}

// unit is the view of Store handed to an Atomic callback.
type unit struct {
	*Store
	undo []func()
}

var _ engine.Store = (*unit)(nil)

// Atomic on a unit joins it.
func (u *unit) Atomic(_ context.Context, fn func(engine.Store) error) error {
	return fn(u)
}

func (u *unit) rollback() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, f := range slices.Backward(u.undo) {
		f()
	}
}

func (u *unit) PutCustomer(ctx context.Context, c ledger.Customer) error {
	u.mu.RLock()
	old, had := u.customers[c.ID]
	u.mu.RUnlock()

	u.undo = append(u.undo, func() {
		if had {
			u.customers[c.ID] = old
		} else {
			delete(u.customers, c.ID)
		}
	})
	return u.Store.PutCustomer(ctx, c)
}

func (u *unit) PutOrder(ctx context.Context, o ledger.Order) error {
	u.mu.RLock()
	old, had := u.orders[o.ID]
	u.mu.RUnlock()

	u.undo = append(u.undo, func() {
		if had {
			u.orders[o.ID] = old
		} else {
			delete(u.orders, o.ID)
		}
	})
	return u.Store.PutOrder(ctx, o)
}

func (u *unit) PutPending(ctx context.Context, p engine.PendingEvent) (*engine.PendingEvent, error) {
	replaced, err := u.Store.PutPending(ctx, p)
	if err != nil {
		return nil, err
	}
	u.undo = append(u.undo, func() {
		if replaced != nil {
			u.setPending(*replaced)
		} else {
			u.dropPending(p.Key, p.Sequence)
		}
	})
	return replaced, nil
}

func (u *unit) TakePending(ctx context.Context, key event.StreamKey, seq int64) (engine.PendingEvent, bool, error) {
	p, ok, err := u.Store.TakePending(ctx, key, seq)
	if ok {
		u.undo = append(u.undo, func() { u.setPending(p) })
	}
	return p, ok, err
}

func (u *unit) PurgePending(ctx context.Context, key event.StreamKey) (int, error) {
	u.mu.RLock()
	lane := maps.Clone(u.pending[key])
	u.mu.RUnlock()

	n, err := u.Store.PurgePending(ctx, key)
	if n > 0 {
		u.undo = append(u.undo, func() { u.pending[key] = lane })
	}
	return n, err
}

func (u *unit) ExpirePending(ctx context.Context, olderThan time.Time) ([]engine.PendingEvent, error) {
	expired, err := u.Store.ExpirePending(ctx, olderThan)
	if len(expired) > 0 {
		u.undo = append(u.undo, func() {
			for _, p := range expired {
				u.setPending(p)
			}
		})
	}
	return expired, err
}
