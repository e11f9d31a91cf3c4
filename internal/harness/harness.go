package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
	"github.com/roach88/loyalty/internal/store"
	"github.com/roach88/loyalty/internal/store/memory"
	"github.com/roach88/loyalty/internal/testutil"
)

// Backend selects the store a scenario runs against.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

// backend is what the harness needs from a store.
type backend interface {
	engine.Store
	engine.Lister
}

type options struct {
	backend Backend
	logger  *slog.Logger
}

// Option configures a harness run.
type Option func(*options)

// WithBackend selects the store (default BackendMemory).
func WithBackend(b Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithLogger sets the engine logger (default: discard).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Harness runs one scenario against a fresh engine and store.
type Harness struct {
	scenario *Scenario
	opts     options
	policy   ledger.Policy
	start    time.Time
	asOf     time.Time
}

// run is the state left behind by one pass over the steps.
type run struct {
	engine *engine.Engine
	store  backend
	close  func() error
}

// Run executes a test scenario and returns the result.
//
// Each pass runs in a fresh store for isolation, with a fake wall clock
// starting at the scenario's start time so results are reproducible.
//
// Execution flow:
// 1. Run the steps in arrival order, checking per-step expectations
// 2. Evaluate assertions against the final ledger
// 3. With permute, re-run every other arrival order and compare snapshots
//
// The returned error is reserved for harness failures (store I/O); scenario
// failures are reported through Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := newHarness(scenario, opts)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	result := NewResult()

	r, err := h.execute(ctx, scenario.Steps, result, true)
	if err != nil {
		return nil, err
	}
	defer r.close()

	result.Snapshot, err = engine.TakeSnapshot(ctx, r.store, h.policy, h.asOf)
	if err != nil {
		return nil, err
	}

	actx := &AssertionContext{Ctx: ctx, Engine: r.engine, Store: r.store, AsOf: h.asOf, Trace: result.Trace}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	if scenario.Permute {
		if err := h.checkPermutations(ctx, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func newHarness(s *Scenario, opts []Option) (*Harness, error) {
	o := options{
		backend: BackendMemory,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Harness{scenario: s, opts: o, policy: s.Policy.policy(), start: DefaultStart}
	if s.Start != "" {
		t, err := parseTime(s.Start)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		h.start = t
	}
	h.asOf = h.start
	if s.AsOf != "" {
		t, err := parseTime(s.AsOf)
		if err != nil {
			return nil, fmt.Errorf("as_of: %w", err)
		}
		h.asOf = t
	}
	return h, nil
}

func (h *Harness) openStore() (backend, func() error, error) {
	switch h.opts.backend {
	case BackendMemory:
		return memory.New(), func() error { return nil }, nil
	case BackendSQLite:
		st, err := store.Open(":memory:")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", h.opts.backend)
	}
}

// execute runs steps on a fresh engine. When check is set, per-step
// expectations are validated and recorded in result.
func (h *Harness) execute(ctx context.Context, steps []Step, result *Result, check bool) (*run, error) {
	st, closeFn, err := h.openStore()
	if err != nil {
		return nil, err
	}

	clock := testutil.NewFakeClock(h.start)
	engineOpts := []engine.Option{
		engine.WithPolicy(h.policy),
		engine.WithLogger(h.opts.logger),
		engine.WithNow(clock.Now),
	}
	if h.scenario.Retention != "" {
		d, _ := time.ParseDuration(h.scenario.Retention)
		engineOpts = append(engineOpts, engine.WithBufferRetention(d))
	}
	e := engine.New(st, engineOpts...)
	r := &run{engine: e, store: st, close: closeFn}

	for i, step := range steps {
		tr, err := h.executeStep(ctx, e, clock, step)
		tr.Step = i + 1
		if err != nil {
			closeFn()
			return nil, fmt.Errorf("step %d (%s): %w", i+1, tr.Label, err)
		}
		if check {
			for _, msg := range checkStep(step, tr) {
				result.AddError(fmt.Sprintf("step %d (%s): %s", i+1, tr.Label, msg))
			}
			result.addTrace(tr)
		}
		h.opts.logger.Debug("scenario step completed", "step", i+1, "label", tr.Label, "error", tr.Error)
	}
	return r, nil
}

// executeStep runs one step. Expected failures (invalid events, contract
// violations, query refusals) are recorded in the trace; anything else is
// returned as an error.
func (h *Harness) executeStep(ctx context.Context, e *engine.Engine, clock *testutil.FakeClock, step Step) (TraceEvent, error) {
	var tr TraceEvent

	switch {
	case step.Event != nil || step.Raw != "":
		ev, err := decodeStep(step, clock.Now())
		if err != nil {
			tr.Label = "invalid event"
			tr.Error = ErrorInvalid
			return tr, nil
		}
		tr.Label = ev.String()

		out, err := e.Submit(ctx, ev)
		tr.Receipt = out.Receipt
		tr.Replayed = out.Replayed
		if out.Classification != 0 {
			tr.Classification = out.Classification.String()
		}
		name, known := errorName(err)
		if !known {
			return tr, err
		}
		tr.Error = name

	case step.Consume != nil:
		c := step.Consume
		tr.Label = fmt.Sprintf("consume %d from %s", c.Points, c.Customer)
		asOf := h.asOf
		if c.AsOf != "" {
			asOf, _ = parseTime(c.AsOf)
		}
		remaining, err := e.Consume(ctx, c.Customer, c.Points, asOf)
		name, known := errorName(err)
		if !known {
			return tr, err
		}
		tr.Error = name
		if err == nil {
			tr.Remaining = &remaining
		}

	case step.Advance != "":
		d, _ := time.ParseDuration(step.Advance)
		tr.Label = "advance " + step.Advance
		clock.Advance(d)

	case step.Sweep:
		tr.Label = "sweep"
		expired, err := e.SweepExpired(ctx)
		if err != nil {
			return tr, err
		}
		n := len(expired)
		tr.Evicted = &n
	}
	return tr, nil
}

func decodeStep(step Step, now time.Time) (event.Event, error) {
	if step.Raw != "" {
		return event.Decode([]byte(step.Raw))
	}
	env, err := step.Event.Envelope(now)
	if err != nil {
		return event.Event{}, err
	}
	return event.FromEnvelope(env)
}

// errorName maps an expected failure to its scenario name. known is false
// for errors a scenario cannot expect, such as store failures.
func errorName(err error) (name string, known bool) {
	var ce *engine.ContractError
	switch {
	case err == nil:
		return "", true
	case errors.Is(err, event.ErrInvalidEvent):
		return ErrorInvalid, true
	case errors.As(err, &ce):
		return string(ce.Code), true
	case errors.Is(err, engine.ErrNotFound):
		return ErrorNotFound, true
	case errors.Is(err, ledger.ErrInsufficientPoints):
		return ErrorInsufficient, true
	case errors.Is(err, ledger.ErrInvalidPoints):
		return ErrorInvalidPoints, true
	default:
		return "", false
	}
}

// checkStep compares a step's trace with its expectations.
func checkStep(step Step, tr TraceEvent) []string {
	var errs []string
	if step.Error != tr.Error {
		switch {
		case step.Error == "":
			errs = append(errs, fmt.Sprintf("unexpected error %s", tr.Error))
		case tr.Error == "":
			errs = append(errs, fmt.Sprintf("expected error %s, got none", step.Error))
		default:
			errs = append(errs, fmt.Sprintf("expected error %s, got %s", step.Error, tr.Error))
		}
	}

	switch {
	case step.Sweep && step.Expect != "":
		want, err := strconv.Atoi(step.Expect)
		if err != nil || tr.Evicted == nil || *tr.Evicted != want {
			errs = append(errs, fmt.Sprintf("expected %s evicted, got %s", step.Expect, formatIntPtr(tr.Evicted)))
		}
	case step.Expect != "" && step.Expect != tr.Classification:
		errs = append(errs, fmt.Sprintf("expected %s, got %s", step.Expect, orNone(tr.Classification)))
	}

	if step.Consume != nil && step.Consume.Remaining != nil && tr.Error == "" {
		if tr.Remaining == nil || *tr.Remaining != *step.Consume.Remaining {
			errs = append(errs, fmt.Sprintf("expected %d remaining, got %s", *step.Consume.Remaining, formatInt64Ptr(tr.Remaining)))
		}
	}
	return errs
}

// checkPermutations re-runs every other arrival order and compares the
// final snapshot with the arrival-order run. Stops at the first mismatch.
func (h *Harness) checkPermutations(ctx context.Context, result *Result) error {
	want, err := result.Snapshot.Canonical()
	if err != nil {
		return err
	}

	steps := h.scenario.Steps
	var runErr error
	permute(len(steps), func(order []int) bool {
		if isIdentity(order) {
			return true
		}
		reordered := make([]Step, len(order))
		for i, idx := range order {
			reordered[i] = steps[idx]
		}

		r, err := h.execute(ctx, reordered, nil, false)
		if err != nil {
			runErr = err
			return false
		}
		defer r.close()
		result.Permutations++

		snap, err := engine.TakeSnapshot(ctx, r.store, h.policy, h.asOf)
		if err != nil {
			runErr = err
			return false
		}
		got, err := snap.Canonical()
		if err != nil {
			runErr = err
			return false
		}
		if !bytes.Equal(want, got) {
			result.AddError(fmt.Sprintf("arrival order %s diverges from %s:\n  want %s\n  got  %s",
				describeOrder(order), describeOrder(identity(len(order))), want, got))
			return false
		}
		return true
	})
	return runErr
}

func describeOrder(order []int) string {
	parts := make([]string, len(order))
	for i, idx := range order {
		parts[i] = strconv.Itoa(idx + 1)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func formatIntPtr(p *int) string {
	if p == nil {
		return "none"
	}
	return strconv.Itoa(*p)
}

func formatInt64Ptr(p *int64) string {
	if p == nil {
		return "none"
	}
	return strconv.FormatInt(*p, 10)
}
