package engine

import (
	"context"
	"fmt"

	"github.com/roach88/loyalty/internal/event"
)

// Cascade replay.
//
// After an event is applied, the buffer is searched for the events it
// unblocked:
//
//   - CustomerCreated and OrderPlaced unblock the customer's next placement
//     (sequence 1 after creation, seq+1 after a placement)
//   - every applied event unblocks sequence 2 of its own entity key: the
//     deletion of a created customer, or the return or cancellation of a
//     placed order
//
// Replayed events are not classified again. They run the handler and then
// their own cascade, so a contiguous run of buffered placements drains one
// after another. The whole cascade shares the unit of work of the event that
// started it, so a failed replay puts taken events back.

// apply runs the handler for ev and then its cascade.
// Returns the number of buffered events replayed.
func (e *Engine) apply(ctx context.Context, s Store, ev event.Event) (int, error) {
	if err := e.handle(ctx, s, ev); err != nil {
		return 0, err
	}
	return e.cascade(ctx, s, ev)
}

func (e *Engine) cascade(ctx context.Context, s Store, ev event.Event) (int, error) {
	replayed := 0

	var next int64
	switch ev.Kind {
	case event.KindCustomerCreated:
		next = 1
	case event.KindOrderPlaced:
		next = ev.Sequence + 1
	}
	if next > 0 {
		n, err := e.replay(ctx, s, event.PlacementKey(ev.CustomerID()), next)
		replayed += n
		if err != nil {
			return replayed, err
		}
	}

	n, err := e.replay(ctx, s, ev.EntityKey(), 2)
	replayed += n
	return replayed, err
}

// replay applies the buffered event at (key, seq), if any.
func (e *Engine) replay(ctx context.Context, s Store, key event.StreamKey, seq int64) (int, error) {
	p, ok, err := s.TakePending(ctx, key, seq)
	if err != nil {
		return 0, fmt.Errorf("take pending %s#%d: %w", key, seq, err)
	}
	if !ok {
		return 0, nil
	}

	e.logger.Info("replaying buffered event",
		"key", key.String(),
		"sequence", seq,
		"event", p.Event.String(),
		"waited", e.now().Sub(p.BufferedAt).String(),
	)

	n, err := e.apply(ctx, s, p.Event)
	return n + 1, err
}
