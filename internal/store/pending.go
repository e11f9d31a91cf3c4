package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
)

const pendingColumns = `stream_key, seq, fingerprint, event, buffered_at`

// PutPending stores p in its slot and returns the entry it replaced, if any.
func (s *Store) PutPending(ctx context.Context, p engine.PendingEvent) (*engine.PendingEvent, error) {
	data, err := marshalEvent(p.Event)
	if err != nil {
		return nil, fmt.Errorf("put pending: %w", err)
	}

	var replaced *engine.PendingEvent
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+pendingColumns+` FROM pending_events WHERE stream_key = ? AND seq = ?
		`, p.Key.String(), p.Sequence)
		old, err := scanPending(row)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			replaced = &old
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending_events (stream_key, lane, seq, fingerprint, event, buffered_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(stream_key, seq) DO UPDATE SET
				fingerprint = excluded.fingerprint,
				event = excluded.event,
				buffered_at = excluded.buffered_at
		`, p.Key.String(), string(p.Key.Lane), p.Sequence, p.Fingerprint, data, toNanos(p.BufferedAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("put pending %s#%d: %w", p.Key, p.Sequence, err)
	}
	return replaced, nil
}

// TakePending removes and returns the entry at (key, seq).
func (s *Store) TakePending(ctx context.Context, key event.StreamKey, seq int64) (engine.PendingEvent, bool, error) {
	row := s.conn().QueryRowContext(ctx, `
		DELETE FROM pending_events WHERE stream_key = ? AND seq = ?
		RETURNING `+pendingColumns, key.String(), seq)
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.PendingEvent{}, false, nil
	}
	if err != nil {
		return engine.PendingEvent{}, false, fmt.Errorf("take pending %s#%d: %w", key, seq, err)
	}
	return p, true, nil
}

// PurgePending removes every entry for key.
func (s *Store) PurgePending(ctx context.Context, key event.StreamKey) (int, error) {
	res, err := s.conn().ExecContext(ctx, `DELETE FROM pending_events WHERE stream_key = ?`, key.String())
	if err != nil {
		return 0, fmt.Errorf("purge pending %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge pending %s: %w", key, err)
	}
	return int(n), nil
}

// PendingStats counts buffered events per lane.
func (s *Store) PendingStats(ctx context.Context) (engine.PendingStats, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT lane, COUNT(*), MIN(buffered_at) FROM pending_events
		GROUP BY lane ORDER BY lane
	`)
	if err != nil {
		return engine.PendingStats{}, fmt.Errorf("pending stats: %w", err)
	}
	defer rows.Close()

	stats := engine.PendingStats{ByLane: make(map[event.Lane]int)}
	for rows.Next() {
		var lane string
		var count int
		var oldest int64
		if err := rows.Scan(&lane, &count, &oldest); err != nil {
			return engine.PendingStats{}, fmt.Errorf("pending stats: %w", err)
		}
		stats.Total += count
		stats.ByLane[event.Lane(lane)] = count
		if t := fromNanos(oldest); stats.Oldest.IsZero() || t.Before(stats.Oldest) {
			stats.Oldest = t
		}
	}
	return stats, rows.Err()
}

// ExpirePending removes and returns entries buffered before olderThan,
// ordered by stream key and sequence.
func (s *Store) ExpirePending(ctx context.Context, olderThan time.Time) ([]engine.PendingEvent, error) {
	rows, err := s.conn().QueryContext(ctx, `
		DELETE FROM pending_events WHERE buffered_at < ?
		RETURNING `+pendingColumns, toNanos(olderThan))
	if err != nil {
		return nil, fmt.Errorf("expire pending: %w", err)
	}
	expired, err := scanPendingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("expire pending: %w", err)
	}
	sortPending(expired)
	return expired, nil
}

// PendingEvents returns every buffered event ordered by stream key and sequence.
func (s *Store) PendingEvents(ctx context.Context) ([]engine.PendingEvent, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_events
		ORDER BY stream_key ASC COLLATE BINARY, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	out, err := scanPendingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (engine.PendingEvent, error) {
	var (
		p          engine.PendingEvent
		key, data  string
		bufferedAt int64
	)
	if err := row.Scan(&key, &p.Sequence, &p.Fingerprint, &data, &bufferedAt); err != nil {
		return engine.PendingEvent{}, err
	}

	k, err := event.ParseStreamKey(key)
	if err != nil {
		return engine.PendingEvent{}, err
	}
	ev, err := unmarshalEvent(data)
	if err != nil {
		return engine.PendingEvent{}, err
	}
	p.Key = k
	p.Event = ev
	p.BufferedAt = fromNanos(bufferedAt)
	return p, nil
}

// scanPendingRows reads and closes rows.
func scanPendingRows(rows *sql.Rows) ([]engine.PendingEvent, error) {
	defer rows.Close()

	var out []engine.PendingEvent
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func sortPending(ps []engine.PendingEvent) {
	slices.SortFunc(ps, func(a, b engine.PendingEvent) int {
		return cmp.Or(
			cmp.Compare(a.Key.String(), b.Key.String()),
			cmp.Compare(a.Sequence, b.Sequence),
		)
	})
}
