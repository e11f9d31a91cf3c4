package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/loyalty/internal/event"
)

// marshalEvent converts an event to its wire envelope JSON for storage.
func marshalEvent(ev event.Event) (string, error) {
	data, err := event.Encode(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), nil
}

// unmarshalEvent parses a stored wire envelope.
func unmarshalEvent(data string) (event.Event, error) {
	ev, err := event.Decode([]byte(data))
	if err != nil {
		return event.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

// Times are stored as UTC unix nanoseconds.
func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
