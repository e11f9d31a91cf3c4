package engine

import (
	"context"
	"sync"

	"github.com/roach88/loyalty/internal/event"
)

// Submission is a queued event plus an optional completion callback.
type Submission struct {
	Event event.Event
	// Done, when set, receives the result of Submit. It runs on the Run
	// goroutine and must not block for long.
	Done func(Outcome, error)
}

// eventQueue is a thread-safe FIFO queue for submissions.
//
// The queue is unbounded so producers (broker consumers, file readers)
// never block on a slow store.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	items  []Submission
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		items:  make([]Submission, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a submission to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(s Submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, s)

	// Non-blocking: the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *eventQueue) TryDequeue() (Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Submission{}, false
	}

	s := q.items[0]
	// Clear the slot so the backing array does not pin the callback.
	q.items[0] = Submission{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return s, true
}

// Wait returns a channel that signals when submissions may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drained reports whether the queue is closed and empty.
func (q *eventQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Close signals that no more submissions will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Enqueue queues ev for the Run loop. done may be nil.
// Returns false once the engine has been stopped.
func (e *Engine) Enqueue(ev event.Event, done func(Outcome, error)) bool {
	return e.queue.Enqueue(Submission{Event: ev, Done: done})
}

// Run processes queued submissions until ctx is cancelled or Stop is called
// and the queue has drained.
//
// Errors are logged with full event context and processing continues.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		s, ok := e.queue.TryDequeue()
		if ok {
			out, err := e.Submit(ctx, s.Event)
			if err != nil {
				e.logEventError(s.Event, out, err)
			}
			if s.Done != nil {
				s.Done(out, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Close, so this fires repeatedly
			// once stopped; an empty queue then means we are done.
			if e.queue.drained() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns after draining what is already queued.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) logEventError(ev event.Event, out Outcome, err error) {
	e.logger.Error("event processing failed",
		"receipt", out.Receipt,
		"kind", ev.Kind.String(),
		"sequence", ev.Sequence,
		"customer", ev.CustomerID(),
		"order", ev.OrderID(),
		"contract", IsContractError(err),
		"error", err,
	)
}
