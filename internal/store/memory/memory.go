// Package memory provides an in-process engine.Store.
//
// It is the default backend for tests and scenario runs. Values are copied
// on the way in and out so callers never alias stored state.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
)

// Store is a mutex-guarded in-memory store.
type Store struct {
	atomicMu  sync.Mutex // held for the duration of Atomic
	mu        sync.RWMutex
	customers map[string]ledger.Customer
	orders    map[string]ledger.Order
	pending   map[event.StreamKey]map[int64]engine.PendingEvent
	inbox     []engine.InboxEntry
	seen      map[string]struct{}
}

var (
	_ engine.Store  = (*Store)(nil)
	_ engine.Inbox  = (*Store)(nil)
	_ engine.Lister = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		customers: make(map[string]ledger.Customer),
		orders:    make(map[string]ledger.Order),
		pending:   make(map[event.StreamKey]map[int64]engine.PendingEvent),
		seen:      make(map[string]struct{}),
	}
}

func (s *Store) Customer(_ context.Context, id string) (ledger.Customer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return ledger.Customer{}, false, nil
	}
	return c.Clone(), true, nil
}

func (s *Store) PutCustomer(_ context.Context, c ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c.Clone()
	return nil
}

func (s *Store) Order(_ context.Context, id string) (ledger.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok, nil
}

func (s *Store) PutOrder(_ context.Context, o ledger.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *Store) PutPending(_ context.Context, p engine.PendingEvent) (*engine.PendingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var replaced *engine.PendingEvent
	if old, ok := s.pending[p.Key][p.Sequence]; ok {
		replaced = &old
	}
	s.setPending(p)
	return replaced, nil
}

func (s *Store) TakePending(_ context.Context, key event.StreamKey, seq int64) (engine.PendingEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[key][seq]
	if !ok {
		return engine.PendingEvent{}, false, nil
	}
	s.dropPending(key, seq)
	return p, true, nil
}

// setPending and dropPending require s.mu held for writing.
func (s *Store) setPending(p engine.PendingEvent) {
	lane, ok := s.pending[p.Key]
	if !ok {
		lane = make(map[int64]engine.PendingEvent)
		s.pending[p.Key] = lane
	}
	lane[p.Sequence] = p
}

func (s *Store) dropPending(key event.StreamKey, seq int64) {
	lane := s.pending[key]
	delete(lane, seq)
	if len(lane) == 0 {
		delete(s.pending, key)
	}
}

func (s *Store) PurgePending(_ context.Context, key event.StreamKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending[key])
	delete(s.pending, key)
	return n, nil
}

func (s *Store) PendingStats(_ context.Context) (engine.PendingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := engine.PendingStats{ByLane: make(map[event.Lane]int)}
	for key, lane := range s.pending {
		for _, p := range lane {
			stats.Total++
			stats.ByLane[key.Lane]++
			if stats.Oldest.IsZero() || p.BufferedAt.Before(stats.Oldest) {
				stats.Oldest = p.BufferedAt
			}
		}
	}
	return stats, nil
}

func (s *Store) ExpirePending(_ context.Context, olderThan time.Time) ([]engine.PendingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []engine.PendingEvent
	for key, lane := range s.pending {
		for seq, p := range lane {
			if p.BufferedAt.Before(olderThan) {
				expired = append(expired, p)
				delete(lane, seq)
			}
		}
		if len(lane) == 0 {
			delete(s.pending, key)
		}
	}
	sortPending(expired)
	return expired, nil
}

func (s *Store) AppendInbox(_ context.Context, entry engine.InboxEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[entry.Fingerprint]; dup {
		return false, nil
	}
	s.seen[entry.Fingerprint] = struct{}{}
	s.inbox = append(s.inbox, entry)
	return true, nil
}

func (s *Store) ReadInbox(_ context.Context) ([]engine.InboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.inbox), nil
}

func (s *Store) Customers(_ context.Context) ([]ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Customer, 0, len(s.customers))
	for _, id := range slices.Sorted(maps.Keys(s.customers)) {
		out = append(out, s.customers[id].Clone())
	}
	return out, nil
}

func (s *Store) Orders(_ context.Context) ([]ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Order, 0, len(s.orders))
	for _, id := range slices.Sorted(maps.Keys(s.orders)) {
		out = append(out, s.orders[id])
	}
	return out, nil
}

func (s *Store) PendingEvents(_ context.Context) ([]engine.PendingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []engine.PendingEvent
	for _, lane := range s.pending {
		for _, p := range lane {
			out = append(out, p)
		}
	}
	sortPending(out)
	return out, nil
}

func sortPending(ps []engine.PendingEvent) {
	slices.SortFunc(ps, func(a, b engine.PendingEvent) int {
		return cmp.Or(
			cmp.Compare(a.Key.String(), b.Key.String()),
			cmp.Compare(a.Sequence, b.Sequence),
		)
	})
}
