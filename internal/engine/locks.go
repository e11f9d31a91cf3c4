package engine

import (
	"sync"

	"github.com/roach88/loyalty/internal/event"
)

// lockTable hands out one exclusive lock per key.
//
// Entries are reference counted and removed once the last holder or waiter
// releases, so the table only grows with the number of keys in use.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// lock blocks until key is held and returns the release func.
// The release func must be called exactly once.
func (t *lockTable) lock(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

// size returns the number of keys currently held or awaited.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func customerLock(id string) string { return event.CustomerKey(id).String() }
func orderLock(id string) string    { return event.OrderKey(id).String() }
