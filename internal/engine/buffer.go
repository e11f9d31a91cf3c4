package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/loyalty/internal/event"
)

// hold buffers an out-of-order event under its buffer key and sequence.
//
// A slot holds one event; the last write wins. Returns true when the slot
// held an event with a different fingerprint, which means the producer sent
// two different events with the same sequence.
func (e *Engine) hold(ctx context.Context, s Store, ev event.Event, fingerprint string) (bool, error) {
	p := PendingEvent{
		Key:         ev.BufferKey(),
		Sequence:    ev.Sequence,
		Event:       ev,
		Fingerprint: fingerprint,
		BufferedAt:  e.now(),
	}

	replaced, err := s.PutPending(ctx, p)
	if err != nil {
		return false, fmt.Errorf("buffer %s#%d: %w", p.Key, p.Sequence, err)
	}

	log := e.logger.With("key", p.Key.String(), "sequence", p.Sequence, "event", ev.String())
	switch {
	case replaced == nil:
		log.Info("event buffered")
	case replaced.Fingerprint == fingerprint:
		log.Debug("buffered event redelivered")
	default:
		log.Warn("buffered event overwritten by different content",
			"previous", replaced.Event.String(),
			"previous_fingerprint", replaced.Fingerprint,
			"fingerprint", fingerprint,
		)
		return true, nil
	}
	return false, nil
}

// BufferStats reports the depth of the event buffer.
func (e *Engine) BufferStats(ctx context.Context) (PendingStats, error) {
	stats, err := e.store.PendingStats(ctx)
	if err != nil {
		return PendingStats{}, fmt.Errorf("buffer stats: %w", err)
	}
	return stats, nil
}

// SweepExpired evicts buffered events older than the configured retention
// and returns them. It does nothing when retention is zero.
func (e *Engine) SweepExpired(ctx context.Context) ([]PendingEvent, error) {
	if e.retention <= 0 {
		return nil, nil
	}

	cutoff := e.now().Add(-e.retention)
	expired, err := e.store.ExpirePending(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire pending: %w", err)
	}
	for _, p := range expired {
		e.logger.Warn("buffered event evicted",
			"key", p.Key.String(),
			"sequence", p.Sequence,
			"event", p.Event.String(),
			"buffered_at", p.BufferedAt,
		)
	}
	return expired, nil
}

// RunSweeper calls SweepExpired every interval until ctx is cancelled.
// Returns immediately when retention or interval is zero.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	if e.retention <= 0 || interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.SweepExpired(ctx); err != nil {
				e.logger.Error("buffer sweep failed", "error", err)
			}
		}
	}
}
