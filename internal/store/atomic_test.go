package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
)

func TestAtomic_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	placed := pending(event.OrderPlaced("c1", "o1", 200, 1, at), at)
	_, err := s.PutPending(ctx, placed)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Atomic(ctx, func(u engine.Store) error {
		require.NoError(t, u.PutCustomer(ctx, ledger.NewCustomer("c1")))

		p, ok, err := u.TakePending(ctx, placed.Key, placed.Sequence)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, u.PutOrder(ctx, ledger.Order{ID: "o1", CustomerID: "c1", PointsAwarded: 4, ProcessedSequence: 1, Status: ledger.StatusPlaced}))

		_, ok, err = u.Customer(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, ok, "unit reads its own writes")
		assert.Equal(t, placed.Fingerprint, p.Fingerprint)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := s.Customer(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Order(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := s.TakePending(ctx, placed.Key, placed.Sequence)
	require.NoError(t, err)
	require.True(t, ok, "taken entry restored")
	assert.Equal(t, placed, got)
}

func TestAtomic_CommitsNestedUnit(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	err := s.Atomic(ctx, func(u engine.Store) error {
		if err := u.PutCustomer(ctx, ledger.NewCustomer("c1")); err != nil {
			return err
		}
		return u.Atomic(ctx, func(inner engine.Store) error {
			_, err := inner.PutPending(ctx, pending(event.OrderPlaced("c1", "o2", 100, 2, at), at))
			return err
		})
	})
	require.NoError(t, err)

	_, ok, err := s.Customer(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := s.PendingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestAtomic_EngineFailureKeepsBufferedPlacement(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	e := engine.New(s, engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := e.Submit(ctx, event.OrderPlaced("c1", "o1", 200, 1, at))
	require.NoError(t, err)

	// A cancelled context fails the unit before anything commits.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Submit(cancelled, event.CustomerCreated("c1", 1, at))
	require.Error(t, err)

	stats, err := s.PendingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	out, err := e.Submit(ctx, event.CustomerCreated("c1", 1, at))
	require.NoError(t, err)
	assert.Equal(t, event.InOrder, out.Classification)
	assert.Equal(t, 1, out.Replayed)
}
