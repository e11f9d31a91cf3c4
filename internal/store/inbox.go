package store

import (
	"context"
	"fmt"

	"github.com/roach88/loyalty/internal/engine"
)

// AppendInbox records a received event.
// Uses ON CONFLICT(fingerprint) DO NOTHING for idempotency - redeliveries
// return false and leave the original entry in place.
func (s *Store) AppendInbox(ctx context.Context, entry engine.InboxEntry) (bool, error) {
	data, err := marshalEvent(entry.Event)
	if err != nil {
		return false, fmt.Errorf("append inbox: %w", err)
	}

	res, err := s.conn().ExecContext(ctx, `
		INSERT INTO inbox (id, receipt, fingerprint, event, received_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, entry.ID, entry.Receipt, entry.Fingerprint, data, toNanos(entry.ReceivedAt))
	if err != nil {
		return false, fmt.Errorf("append inbox: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append inbox: %w", err)
	}
	return n > 0, nil
}

// ReadInbox returns every entry in receipt order.
func (s *Store) ReadInbox(ctx context.Context) ([]engine.InboxEntry, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, receipt, fingerprint, event, received_at FROM inbox
		ORDER BY receipt ASC, id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	defer rows.Close()

	var out []engine.InboxEntry
	for rows.Next() {
		var (
			entry      engine.InboxEntry
			data       string
			receivedAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Receipt, &entry.Fingerprint, &data, &receivedAt); err != nil {
			return nil, fmt.Errorf("read inbox: %w", err)
		}
		ev, err := unmarshalEvent(data)
		if err != nil {
			return nil, fmt.Errorf("read inbox %s: %w", entry.ID, err)
		}
		entry.Event = ev
		entry.ReceivedAt = fromNanos(receivedAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// LastReceipt returns the highest recorded receipt number, or 0.
// Used to resume the engine clock after a restart.
func (s *Store) LastReceipt(ctx context.Context) (int64, error) {
	var last int64
	if err := s.conn().QueryRowContext(ctx, `SELECT COALESCE(MAX(receipt), 0) FROM inbox`).Scan(&last); err != nil {
		return 0, fmt.Errorf("last receipt: %w", err)
	}
	return last, nil
}
