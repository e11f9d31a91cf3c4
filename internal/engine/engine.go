package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
)

// Engine dispatches loyalty events against a Store.
//
// Thread-safety model:
//   - Submit(), AvailablePoints(), Consume(): safe from any goroutine;
//     events for different customers proceed in parallel
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	store     Store
	inbox     Inbox
	policy    ledger.Policy
	logger    *slog.Logger
	now       func() time.Time
	clock     *Clock
	ids       IDGenerator
	retention time.Duration
	locks     *lockTable
	queue     *eventQueue
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the points policy (default ledger.DefaultPolicy()).
func WithPolicy(p ledger.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNow sets the wall clock used for buffer timestamps and inbox entries.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithClock sets the receipt clock. Used to resume numbering after a restart.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithInbox records every submitted event in ib before it is classified.
func WithInbox(ib Inbox) Option {
	return func(e *Engine) {
		e.inbox = ib
	}
}

// WithIDGenerator sets the inbox id generator (default UUIDv7Generator).
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithBufferRetention sets how long a buffered event may wait before
// SweepExpired evicts it. Zero keeps buffered events forever.
func WithBufferRetention(d time.Duration) Option {
	return func(e *Engine) {
		e.retention = d
	}
}

// New creates an Engine backed by s.
func New(s Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		policy: ledger.DefaultPolicy(),
		logger: slog.Default(),
		now:    time.Now,
		clock:  NewClock(),
		ids:    UUIDv7Generator{},
		locks:  newLockTable(),
		queue:  newEventQueue(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Policy returns the points policy in effect.
func (e *Engine) Policy() ledger.Policy {
	return e.policy
}

// Outcome describes what Submit did with an event.
type Outcome struct {
	Receipt        int64                `json:"receipt"`
	Fingerprint    string               `json:"fingerprint"`
	Classification event.Classification `json:"-"`
	// Replayed counts buffered events applied as a consequence of this one.
	Replayed int `json:"replayed"`
	// Overwrote is set when a buffered event with different content already
	// occupied this event's slot and was replaced.
	Overwrote bool `json:"overwrote,omitempty"`
}

// Submit processes one event.
//
// The returned error is non-nil for invalid events (event.ErrInvalidEvent),
// contract violations (*ContractError) and store failures. Duplicates,
// obsolete events and buffered events are not errors.
func (e *Engine) Submit(ctx context.Context, ev event.Event) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, err
	}
	fp, err := event.Fingerprint(ev)
	if err != nil {
		return Outcome{}, err
	}

	unlock, err := e.acquire(ctx, ev)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	// Per customer, receipt order is application order. Rebuild relies on it.
	out := Outcome{Receipt: e.clock.Next(), Fingerprint: fp}
	log := e.logger.With("receipt", out.Receipt, "event", ev.String())

	if e.inbox != nil {
		entry := InboxEntry{
			ID:          e.ids.Generate(),
			Receipt:     out.Receipt,
			Fingerprint: fp,
			Event:       ev,
			ReceivedAt:  e.now(),
		}
		if _, err := e.inbox.AppendInbox(ctx, entry); err != nil {
			return out, fmt.Errorf("record inbox: %w", err)
		}
	}

	// Classification, handler and cascade commit together. On failure the
	// ledger and buffer are unchanged and a redelivery starts over.
	err = e.store.Atomic(ctx, func(s Store) error {
		cls, err := e.classify(ctx, s, ev)
		if err != nil {
			return err
		}
		out.Classification = cls

		switch cls {
		case event.InOrder:
			n, err := e.apply(ctx, s, ev)
			out.Replayed = n
			return err
		case event.OutOfOrder:
			out.Overwrote, err = e.hold(ctx, s, ev, fp)
			return err
		}
		return nil
	})
	if err != nil {
		if out.Classification == event.InOrder {
			log.Warn("event rejected", "error", err)
		}
		return out, err
	}

	switch out.Classification {
	case event.InOrder:
		log.Debug("event applied", "replayed", out.Replayed)
	case event.Duplicate:
		log.Info("duplicate event discarded")
	case event.Drop:
		log.Info("obsolete event dropped")
	}

	return out, nil
}

// acquire takes the locks covering ev and returns the release func.
func (e *Engine) acquire(ctx context.Context, ev event.Event) (func(), error) {
	switch ev.Kind {
	case event.KindOrderReturned, event.KindOrderCanceled:
		return e.acquireResolution(ctx, ev.OrderID())
	default:
		return e.locks.lock(customerLock(ev.CustomerID())), nil
	}
}

// acquireResolution locks an order for a return or cancellation.
//
// When the order exists its owner is locked first, then the order. When it
// does not, only the order is locked so the event can be buffered; if a
// concurrent placement created the order in the meantime, the lookup is
// retried through the owner.
func (e *Engine) acquireResolution(ctx context.Context, orderID string) (func(), error) {
	for {
		o, ok, err := e.store.Order(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("load order %s: %w", orderID, err)
		}
		if ok {
			releaseCustomer := e.locks.lock(customerLock(o.CustomerID))
			releaseOrder := e.locks.lock(orderLock(orderID))
			return func() {
				releaseOrder()
				releaseCustomer()
			}, nil
		}

		releaseOrder := e.locks.lock(orderLock(orderID))
		_, ok, err = e.store.Order(ctx, orderID)
		if err != nil {
			releaseOrder()
			return nil, fmt.Errorf("load order %s: %w", orderID, err)
		}
		if !ok {
			return releaseOrder, nil
		}
		releaseOrder()
	}
}

// classify loads the state ev depends on and classifies it.
func (e *Engine) classify(ctx context.Context, s Store, ev event.Event) (event.Classification, error) {
	switch ev.Kind {
	case event.KindOrderReturned, event.KindOrderCanceled:
		o, ok, err := s.Order(ctx, ev.OrderID())
		if err != nil {
			return 0, fmt.Errorf("load order %s: %w", ev.OrderID(), err)
		}
		if !ok {
			return event.Classify(ev, nil, nil), nil
		}
		return event.Classify(ev, nil, &o), nil
	default:
		c, ok, err := s.Customer(ctx, ev.CustomerID())
		if err != nil {
			return 0, fmt.Errorf("load customer %s: %w", ev.CustomerID(), err)
		}
		if !ok {
			return event.Classify(ev, nil, nil), nil
		}
		return event.Classify(ev, &c, nil), nil
	}
}
