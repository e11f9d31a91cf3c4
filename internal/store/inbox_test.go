package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
)

func TestInbox_AppendIdempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	ev := event.CustomerCreated("c1", 1, at)
	entry := engine.InboxEntry{ID: "id-1", Receipt: 1, Fingerprint: event.MustFingerprint(ev), Event: ev, ReceivedAt: at}

	inserted, err := s.AppendInbox(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	entry.ID = "id-2"
	entry.Receipt = 2
	inserted, err = s.AppendInbox(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted, "same fingerprint is ignored")

	entries, err := s.ReadInbox(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "id-1", entries[0].ID)
	assert.Equal(t, ev, entries[0].Event)

	last, err := s.LastReceipt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestInbox_ReceiptOrder(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	last, err := s.LastReceipt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	events := []event.Event{
		event.OrderPlaced("c1", "o1", 10, 1, at),
		event.CustomerCreated("c1", 1, at),
		event.OrderReturned("o1", 2, at),
	}
	for i, receipt := range []int64{3, 1, 2} {
		ev := events[i]
		_, err := s.AppendInbox(ctx, engine.InboxEntry{
			ID:          engine.UUIDv7Generator{}.Generate(),
			Receipt:     receipt,
			Fingerprint: event.MustFingerprint(ev),
			Event:       ev,
			ReceivedAt:  at,
		})
		require.NoError(t, err)
	}

	entries, err := s.ReadInbox(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, event.KindCustomerCreated, entries[0].Event.Kind)
	assert.Equal(t, event.KindOrderReturned, entries[1].Event.Kind)
	assert.Equal(t, event.KindOrderPlaced, entries[2].Event.Kind)
}
