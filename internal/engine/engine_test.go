package engine_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
	"github.com/roach88/loyalty/internal/store/memory"
	"github.com/roach88/loyalty/internal/testutil"
)

var (
	at   = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)
	asOf = at.Add(time.Hour)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]engine.Option{engine.WithLogger(quietLogger())}, opts...)
	return engine.New(s, opts...), s
}

func submit(t *testing.T, e *engine.Engine, ev event.Event) engine.Outcome {
	t.Helper()
	out, err := e.Submit(context.Background(), ev)
	require.NoError(t, err, ev.String())
	return out
}

func points(t *testing.T, e *engine.Engine, customerID string) int64 {
	t.Helper()
	n, err := e.AvailablePoints(context.Background(), customerID, asOf)
	require.NoError(t, err)
	return n
}

func TestScenarioA_CreatedThenPlaced(t *testing.T) {
	e, _ := setupEngine(t)

	assert.Equal(t, event.InOrder, submit(t, e, event.CustomerCreated("c1", 1, at)).Classification)
	assert.Equal(t, event.InOrder, submit(t, e, event.OrderPlaced("c1", "o1", 120, 1, at)).Classification)

	assert.Equal(t, int64(2), points(t, e, "c1"))
}

func TestScenarioB_PlacedBeforeCreated(t *testing.T) {
	e, s := setupEngine(t)

	out := submit(t, e, event.OrderPlaced("custX", "o1", 200, 1, at))
	assert.Equal(t, event.OutOfOrder, out.Classification)

	_, err := e.AvailablePoints(context.Background(), "custX", asOf)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	out = submit(t, e, event.CustomerCreated("custX", 1, at))
	assert.Equal(t, event.InOrder, out.Classification)
	assert.Equal(t, 1, out.Replayed)

	assert.Equal(t, int64(4), points(t, e, "custX"))

	pending, err := s.PendingEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestScenarioC_ReturnReversesPoints(t *testing.T) {
	created := event.CustomerCreated("c1", 1, at)
	placed := event.OrderPlaced("c1", "o1", 100, 1, at)
	returned := event.OrderReturned("o1", 2, at)

	orders := map[string][]event.Event{
		"in order":            {created, placed, returned},
		"return first":        {created, returned, placed},
		"return before all":   {returned, created, placed},
		"placement first":     {placed, returned, created},
		"created last":        {returned, placed, created},
		"placement then made": {placed, created, returned},
	}

	for name, events := range orders {
		t.Run(name, func(t *testing.T) {
			e, s := setupEngine(t)
			for _, ev := range events {
				submit(t, e, ev)
			}

			assert.Equal(t, int64(0), points(t, e, "c1"))

			o, ok, err := s.Order(context.Background(), "o1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ledger.StatusReturned, o.Status)
			assert.Equal(t, int64(2), o.ProcessedSequence)
			assert.Equal(t, int64(2), o.PointsAwarded)
		})
	}
}

func TestScenarioD_DuplicatePlacement(t *testing.T) {
	t.Run("after creation", func(t *testing.T) {
		e, _ := setupEngine(t)
		submit(t, e, event.CustomerCreated("c1", 1, at))
		submit(t, e, event.OrderPlaced("c1", "o1", 200, 1, at))
		out := submit(t, e, event.OrderPlaced("c1", "o1", 200, 1, at))

		assert.Equal(t, event.Duplicate, out.Classification)
		assert.Equal(t, int64(4), points(t, e, "c1"))
	})

	t.Run("both buffered", func(t *testing.T) {
		e, _ := setupEngine(t)
		submit(t, e, event.OrderPlaced("c1", "o1", 200, 1, at))
		out := submit(t, e, event.OrderPlaced("c1", "o1", 200, 1, at))
		assert.Equal(t, event.OutOfOrder, out.Classification)
		assert.False(t, out.Overwrote, "identical redelivery is not an overwrite")

		submit(t, e, event.CustomerCreated("c1", 1, at))
		assert.Equal(t, int64(4), points(t, e, "c1"))
	})
}

func TestScenarioE_LatePlacementAfterDeletion(t *testing.T) {
	e, s := setupEngine(t)
	submit(t, e, event.CustomerCreated("c1", 1, at))
	submit(t, e, event.CustomerDeleted("c1", 2, at.Add(time.Minute)))

	out := submit(t, e, event.OrderPlaced("c1", "o1", 500, 1, at))
	assert.Equal(t, event.Drop, out.Classification)

	_, err := e.AvailablePoints(context.Background(), "c1", asOf)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, ok, err := s.Order(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmit_ContiguousPlacementsDrain(t *testing.T) {
	e, _ := setupEngine(t)

	submit(t, e, event.OrderPlaced("c1", "o3", 150, 3, at))
	submit(t, e, event.OrderPlaced("c1", "o2", 100, 2, at))
	submit(t, e, event.OrderPlaced("c1", "o1", 50, 1, at))
	submit(t, e, event.OrderReturned("o2", 2, at))

	out := submit(t, e, event.CustomerCreated("c1", 1, at))
	assert.Equal(t, 4, out.Replayed, "three placements plus the return unblocked by o2")

	assert.Equal(t, int64(1+3), points(t, e, "c1"))
}

func TestSubmit_GapStaysBuffered(t *testing.T) {
	e, _ := setupEngine(t)
	submit(t, e, event.CustomerCreated("c1", 1, at))
	submit(t, e, event.OrderPlaced("c1", "o1", 100, 1, at))

	out := submit(t, e, event.OrderPlaced("c1", "o3", 100, 3, at))
	assert.Equal(t, event.OutOfOrder, out.Classification)
	assert.Equal(t, int64(2), points(t, e, "c1"))

	stats, err := e.BufferStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByLane[event.LanePlacement])

	out = submit(t, e, event.OrderPlaced("c1", "o2", 100, 2, at))
	assert.Equal(t, 1, out.Replayed)
	assert.Equal(t, int64(6), points(t, e, "c1"))
}

func TestSubmit_Idempotent(t *testing.T) {
	stream := []event.Event{
		event.CustomerCreated("c1", 1, at),
		event.OrderPlaced("c1", "o1", 120, 1, at),
		event.OrderPlaced("c1", "o2", 80, 2, at.Add(time.Minute)),
		event.OrderCanceled("o2", 2, at.Add(2*time.Minute)),
	}

	once, onceStore := setupEngine(t)
	for _, ev := range stream {
		submit(t, once, ev)
	}

	twice, twiceStore := setupEngine(t)
	for _, ev := range stream {
		submit(t, twice, ev)
		out := submit(t, twice, ev)
		assert.NotEqual(t, event.InOrder, out.Classification, "redelivery of %s", ev)
	}

	assert.Equal(t, canonicalSnapshot(t, onceStore), canonicalSnapshot(t, twiceStore))
}

func TestSubmit_OrderIndependent(t *testing.T) {
	stream := []event.Event{
		event.CustomerCreated("c1", 1, at),
		event.OrderPlaced("c1", "o1", 120, 1, at),
		event.OrderPlaced("c1", "o2", 260, 2, at.Add(time.Minute)),
		event.OrderReturned("o1", 2, at.Add(time.Hour)),
		event.CustomerCreated("c2", 1, at),
		event.OrderPlaced("c2", "o3", 99, 1, at),
		event.OrderCanceled("o3", 2, at.Add(time.Hour)),
	}

	refEngine, ref := setupEngine(t)
	for _, ev := range stream {
		submit(t, refEngine, ev)
	}
	want := canonicalSnapshot(t, ref)

	permutations := 0
	permute(stream, func(order []event.Event) {
		permutations++
		e, s := setupEngine(t)
		for _, ev := range order {
			submit(t, e, ev)
		}
		require.Equal(t, want, canonicalSnapshot(t, s), "order %v", order)
	})
	assert.Equal(t, 5040, permutations)
}

func TestSubmit_BufferOverwriteKeepsLastWrite(t *testing.T) {
	e, s := setupEngine(t)

	first := submit(t, e, event.OrderPlaced("c1", "o1", 100, 1, at))
	assert.False(t, first.Overwrote)

	second := submit(t, e, event.OrderPlaced("c1", "o9", 500, 1, at))
	assert.Equal(t, event.OutOfOrder, second.Classification)
	assert.True(t, second.Overwrote)

	submit(t, e, event.CustomerCreated("c1", 1, at))

	assert.Equal(t, int64(10), points(t, e, "c1"))
	_, ok, err := s.Order(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, ok, "overwritten placement is lost")
}

func TestSubmit_DeletionPurgesBuffers(t *testing.T) {
	e, _ := setupEngine(t)
	submit(t, e, event.CustomerCreated("c1", 1, at))
	submit(t, e, event.OrderPlaced("c1", "o3", 100, 3, at))
	submit(t, e, event.OrderPlaced("c1", "o4", 100, 4, at))

	submit(t, e, event.CustomerDeleted("c1", 2, at))

	stats, err := e.BufferStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.True(t, stats.Oldest.IsZero())
}

func TestSubmit_DeletionBeforeCreation(t *testing.T) {
	e, s := setupEngine(t)

	out := submit(t, e, event.CustomerDeleted("c1", 2, at.Add(time.Hour)))
	assert.Equal(t, event.OutOfOrder, out.Classification)

	out = submit(t, e, event.CustomerCreated("c1", 1, at))
	assert.Equal(t, 1, out.Replayed)

	c, ok, err := s.Customer(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, c.DeletedAt)
	assert.True(t, c.DeletedAt.Equal(at.Add(time.Hour)))

	// a second creation after deletion is obsolete
	out = submit(t, e, event.CustomerCreated("c1", 1, at))
	assert.Equal(t, event.Drop, out.Classification)
}

func TestSubmit_DoubleResolution(t *testing.T) {
	e, _ := setupEngine(t)
	submit(t, e, event.CustomerCreated("c1", 1, at))
	submit(t, e, event.OrderPlaced("c1", "o1", 100, 1, at))
	submit(t, e, event.OrderReturned("o1", 2, at))

	out := submit(t, e, event.OrderCanceled("o1", 2, at))
	assert.Equal(t, event.Duplicate, out.Classification, "same sequence is a redelivery")

	_, err := e.Submit(context.Background(), event.OrderCanceled("o1", 3, at))
	require.Error(t, err)
	assert.True(t, engine.IsOrderAlreadyResolved(err))
	assert.True(t, engine.IsContractError(err))
	assert.False(t, engine.IsUnknownCustomer(err))
}

func TestSubmit_ResolutionOfUnknownOrderIsBuffered(t *testing.T) {
	e, s := setupEngine(t)
	out := submit(t, e, event.OrderCanceled("ghost", 2, at))
	assert.Equal(t, event.OutOfOrder, out.Classification)

	pending, err := s.PendingEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, event.OrderKey("ghost"), pending[0].Key)
	assert.Equal(t, int64(2), pending[0].Sequence)
	assert.Equal(t, out.Fingerprint, pending[0].Fingerprint)
}

func TestSubmit_InvalidEvent(t *testing.T) {
	e, _ := setupEngine(t)
	_, err := e.Submit(context.Background(), event.OrderPlaced("c1", "", 10, 1, at))
	assert.ErrorIs(t, err, event.ErrInvalidEvent)
}

func TestSubmit_ReturnAfterPartialConsumptionRemovesWholeRecord(t *testing.T) {
	e, _ := setupEngine(t)
	submit(t, e, event.CustomerCreated("c1", 1, at))
	submit(t, e, event.OrderPlaced("c1", "o1", 500, 1, at))
	submit(t, e, event.OrderPlaced("c1", "o2", 250, 2, at.Add(time.Second)))

	remaining, err := e.Consume(context.Background(), "c1", 4, asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(11), remaining)

	submit(t, e, event.OrderReturned("o1", 2, at))
	assert.Equal(t, int64(5), points(t, e, "c1"), "the remaining 6 points of o1 are removed, spent points are not clawed back")
}

func TestSubmit_ReceiptsIncrease(t *testing.T) {
	e, _ := setupEngine(t, engine.WithClock(engine.NewClockAt(41)))
	a := submit(t, e, event.CustomerCreated("c1", 1, at))
	b := submit(t, e, event.CustomerCreated("c1", 1, at))
	assert.Equal(t, int64(42), a.Receipt)
	assert.Equal(t, int64(43), b.Receipt)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngine(t)
	submit(t, e, event.CustomerCreated("c1", 1, at))
	submit(t, e, event.OrderPlaced("c1", "o1", 150, 1, at))

	_, err := e.Consume(ctx, "c1", 4, asOf)
	assert.ErrorIs(t, err, ledger.ErrInsufficientPoints)
	assert.Equal(t, int64(3), points(t, e, "c1"), "failed consume leaves balance unchanged")

	_, err = e.Consume(ctx, "c1", 0, asOf)
	assert.ErrorIs(t, err, ledger.ErrInvalidPoints)

	remaining, err := e.Consume(ctx, "c1", 3, asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	_, err = e.Consume(ctx, "nobody", 1, asOf)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestConsume_ExpiredPointsUnavailable(t *testing.T) {
	e, _ := setupEngine(t)
	submit(t, e, event.CustomerCreated("c1", 1, at))
	submit(t, e, event.OrderPlaced("c1", "o1", 500, 1, at))

	later := at.AddDate(0, 6, 0)
	n, err := e.AvailablePoints(context.Background(), "c1", later)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = e.Consume(context.Background(), "c1", 1, later)
	assert.ErrorIs(t, err, ledger.ErrInsufficientPoints)
}

func TestConsume_DeletedCustomerNotFound(t *testing.T) {
	e, _ := setupEngine(t)
	submit(t, e, event.CustomerCreated("c1", 1, at))
	submit(t, e, event.OrderPlaced("c1", "o1", 500, 1, at))
	submit(t, e, event.CustomerDeleted("c1", 2, at))

	_, err := e.Consume(context.Background(), "c1", 1, asOf)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestConsume_ConcurrentNeverOverdraws(t *testing.T) {
	e, _ := setupEngine(t)
	submit(t, e, event.CustomerCreated("c1", 1, at))
	submit(t, e, event.OrderPlaced("c1", "o1", 500, 1, at)) // 10 points

	const workers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Consume(context.Background(), "c1", 1, asOf); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, int64(0), points(t, e, "c1"))
}

func TestSubmit_ConcurrentPlacementAndReturn(t *testing.T) {
	for i := 0; i < 200; i++ {
		e, s := setupEngine(t)
		submit(t, e, event.CustomerCreated("c1", 1, at))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.Submit(context.Background(), event.OrderPlaced("c1", "o1", 100, 1, at))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.Submit(context.Background(), event.OrderReturned("o1", 2, at))
			assert.NoError(t, err)
		}()
		wg.Wait()

		o, ok, err := s.Order(context.Background(), "o1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, ledger.StatusReturned, o.Status, "iteration %d", i)
		require.Equal(t, int64(0), points(t, e, "c1"))
	}
}

func TestSubmit_ConcurrentCustomers(t *testing.T) {
	e, s := setupEngine(t)

	const customers = 20
	var wg sync.WaitGroup
	for i := 0; i < customers; i++ {
		id := string(rune('a' + i))
		stream := []event.Event{
			event.OrderPlaced(id, id+"-2", 100, 2, at),
			event.OrderReturned(id+"-1", 2, at),
			event.OrderPlaced(id, id+"-1", 100, 1, at),
			event.CustomerCreated(id, 1, at),
		}
		for _, ev := range stream {
			wg.Add(1)
			go func(ev event.Event) {
				defer wg.Done()
				_, err := e.Submit(context.Background(), ev)
				assert.NoError(t, err)
			}(ev)
		}
	}
	wg.Wait()

	for i := 0; i < customers; i++ {
		assert.Equal(t, int64(2), points(t, e, string(rune('a'+i))))
	}
	pending, err := s.PendingEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweepExpired(t *testing.T) {
	clock := testutil.NewFakeClock(at)
	e, _ := setupEngine(t, engine.WithNow(clock.Now), engine.WithBufferRetention(time.Hour))

	submit(t, e, event.OrderPlaced("c1", "o1", 100, 1, at))
	clock.Advance(30 * time.Minute)
	submit(t, e, event.OrderReturned("o9", 2, at))

	stats, err := e.BufferStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.True(t, stats.Oldest.Equal(at))

	clock.Advance(45 * time.Minute)
	expired, err := e.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, event.PlacementKey("c1"), expired[0].Key)

	stats, err = e.BufferStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByLane[event.LaneOrder])
}

func TestSweepExpired_DisabledByDefault(t *testing.T) {
	clock := testutil.NewFakeClock(at)
	e, _ := setupEngine(t, engine.WithNow(clock.Now))
	submit(t, e, event.OrderPlaced("c1", "o1", 100, 1, at))
	clock.Advance(24 * 365 * time.Hour)

	expired, err := e.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.NoError(t, e.RunSweeper(context.Background(), time.Second), "returns at once without retention")
}

func TestInbox_RecordsOnceAndRebuilds(t *testing.T) {
	ctx := context.Background()
	inbox := memory.New()
	e, s := setupEngine(t,
		engine.WithInbox(inbox),
		engine.WithIDGenerator(engine.NewFixedGenerator("id-1", "id-2", "id-3", "id-4", "id-5")),
	)

	stream := []event.Event{
		event.OrderPlaced("c1", "o1", 120, 1, at),
		event.CustomerCreated("c1", 1, at),
		event.CustomerCreated("c1", 1, at),
		event.OrderReturned("o1", 2, at),
		event.OrderReturned("o1", 3, at),
	}
	var errs int
	for _, ev := range stream {
		if _, err := e.Submit(ctx, ev); err != nil {
			errs++
		}
	}
	assert.Equal(t, 1, errs, "second return is a contract violation")

	entries, err := inbox.ReadInbox(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4, "redelivered creation recorded once")
	assert.Equal(t, "id-1", entries[0].ID)
	assert.Equal(t, int64(1), entries[0].Receipt)

	rebuilt := memory.New()
	stats, err := engine.Rebuild(ctx, entries, rebuilt, engine.WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, engine.RebuildStats{Events: 4, Applied: 2, Buffered: 1, Replayed: 1, Rejected: 1}, stats)
	assert.Equal(t, canonicalSnapshot(t, s), canonicalSnapshot(t, rebuilt))
}

func TestRun_ProcessesQueue(t *testing.T) {
	e, _ := setupEngine(t)

	var mu sync.Mutex
	var results []event.Classification
	done := func(out engine.Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, err)
		results = append(results, out.Classification)
	}

	require.True(t, e.Enqueue(event.OrderPlaced("c1", "o1", 100, 1, at), done))
	require.True(t, e.Enqueue(event.CustomerCreated("c1", 1, at), done))
	require.True(t, e.Enqueue(event.CustomerCreated("c1", 1, at), nil))
	e.Stop()
	assert.False(t, e.Enqueue(event.CustomerCreated("c2", 1, at), nil))

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []event.Classification{event.OutOfOrder, event.InOrder}, results)
	assert.Equal(t, int64(2), points(t, e, "c1"))
}

func TestRun_StopsOnCancel(t *testing.T) {
	e, _ := setupEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func canonicalSnapshot(t *testing.T, s *memory.Store) string {
	t.Helper()
	snap, err := engine.TakeSnapshot(context.Background(), s, ledger.DefaultPolicy(), asOf)
	require.NoError(t, err)
	data, err := snap.Canonical()
	require.NoError(t, err)
	return string(data)
}

// permute calls fn with every ordering of events (Heap's algorithm).
func permute(events []event.Event, fn func([]event.Event)) {
	a := append([]event.Event(nil), events...)
	var generate func(k int)
	generate = func(k int) {
		if k == 1 {
			fn(append([]event.Event(nil), a...))
			return
		}
		generate(k - 1)
		for i := 0; i < k-1; i++ {
			if k%2 == 0 {
				a[i], a[k-1] = a[k-1], a[i]
			} else {
				a[0], a[k-1] = a[k-1], a[0]
			}
			generate(k - 1)
		}
	}
	generate(len(a))
}
