package engine

import (
	"context"
	"time"

	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
)

// Store is the persistence surface the engine needs.
//
// Implementations must be safe for concurrent use and must copy values in and
// out so callers never share mutable state with the store. Each method is
// atomic on its own; Atomic groups the reads and writes of one event and its
// cascade.
type Store interface {
	Customer(ctx context.Context, id string) (ledger.Customer, bool, error)
	PutCustomer(ctx context.Context, c ledger.Customer) error
	Order(ctx context.Context, id string) (ledger.Order, bool, error)
	PutOrder(ctx context.Context, o ledger.Order) error
	Buffer

	// Atomic runs fn as one unit of work against the Store passed to it.
	// Units run one at a time. When fn returns an error none of its writes
	// persist. fn must not block on engine locks or use any other Store.
	Atomic(ctx context.Context, fn func(Store) error) error
}

// Buffer holds out-of-order events keyed by stream key and sequence.
type Buffer interface {
	// PutPending stores p at (p.Key, p.Sequence). An existing entry is
	// replaced and returned.
	PutPending(ctx context.Context, p PendingEvent) (*PendingEvent, error)

	// TakePending removes and returns the entry at (key, seq).
	TakePending(ctx context.Context, key event.StreamKey, seq int64) (PendingEvent, bool, error)

	// PurgePending removes every entry for key and returns how many were removed.
	PurgePending(ctx context.Context, key event.StreamKey) (int, error)

	PendingStats(ctx context.Context) (PendingStats, error)

	// ExpirePending removes and returns entries buffered before olderThan.
	ExpirePending(ctx context.Context, olderThan time.Time) ([]PendingEvent, error)
}

// PendingEvent is a buffered event awaiting its predecessor.
type PendingEvent struct {
	Key         event.StreamKey
	Sequence    int64
	Event       event.Event
	Fingerprint string
	BufferedAt  time.Time
}

// PendingStats summarises buffer depth.
type PendingStats struct {
	Total  int                `json:"total"`
	ByLane map[event.Lane]int `json:"by_lane"`
	// Oldest is the BufferedAt of the oldest entry, zero when empty.
	Oldest time.Time `json:"oldest,omitempty"`
}

// Inbox is an append-only log of received events.
//
// Entries are unique by fingerprint; redeliveries are ignored. The log is
// used to rebuild state and check determinism, not for reporting.
type Inbox interface {
	AppendInbox(ctx context.Context, entry InboxEntry) (bool, error)
	ReadInbox(ctx context.Context) ([]InboxEntry, error)
}

// InboxEntry is one received event.
type InboxEntry struct {
	ID          string // UUIDv7
	Receipt     int64  // from the engine Clock
	Fingerprint string
	Event       event.Event
	ReceivedAt  time.Time
}

// Lister enumerates stored state. Used for snapshots and rebuild checks.
type Lister interface {
	Customers(ctx context.Context) ([]ledger.Customer, error)
	Orders(ctx context.Context) ([]ledger.Order, error)
	PendingEvents(ctx context.Context) ([]PendingEvent, error)
}
