package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/event"
)

// AssertionContext provides what assertions need to inspect the final ledger.
type AssertionContext struct {
	Ctx    context.Context
	Engine *engine.Engine
	Store  backend
	AsOf   time.Time
	Trace  []TraceEvent
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", ev.Step, ev.Label)
			if ev.Classification != "" {
				fmt.Fprintf(&buf, " -> %s", ev.Classification)
			}
			if ev.Error != "" {
				fmt.Fprintf(&buf, " !%s", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions runs all assertions and returns failure messages.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(a Assertion, actx *AssertionContext) error {
	asOf := actx.AsOf
	if a.AsOf != "" {
		t, err := parseTime(a.AsOf)
		if err != nil {
			return err
		}
		asOf = t
	}

	switch a.Type {
	case AssertPoints:
		return assertPoints(a, actx, asOf)
	case AssertNotFound:
		return assertNotFound(a, actx, asOf)
	case AssertPending:
		return assertPending(a, actx)
	case AssertOrderStatus:
		return assertOrderStatus(a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertPoints checks the available balance as of the assertion time.
func assertPoints(a Assertion, actx *AssertionContext, asOf time.Time) error {
	n, err := actx.Engine.AvailablePoints(actx.Ctx, a.Customer, asOf)
	actual := fmt.Sprintf("%d", n)
	if err != nil {
		actual = "error: " + err.Error()
	}
	if err != nil || n != *a.Points {
		return &AssertionError{
			Type:     AssertPoints,
			Expected: fmt.Sprintf("%s has %d points as of %s", a.Customer, *a.Points, asOf.Format(time.RFC3339)),
			Actual:   actual,
			Trace:    actx.Trace,
		}
	}
	return nil
}

// assertNotFound checks that queries treat the customer as absent.
func assertNotFound(a Assertion, actx *AssertionContext, asOf time.Time) error {
	n, err := actx.Engine.AvailablePoints(actx.Ctx, a.Customer, asOf)
	if errors.Is(err, engine.ErrNotFound) {
		return nil
	}
	actual := fmt.Sprintf("found with %d points", n)
	if err != nil {
		actual = "error: " + err.Error()
	}
	return &AssertionError{
		Type:     AssertNotFound,
		Expected: fmt.Sprintf("%s not found", a.Customer),
		Actual:   actual,
		Trace:    actx.Trace,
	}
}

// assertPending counts buffered events, optionally in one lane.
func assertPending(a Assertion, actx *AssertionContext) error {
	pending, err := actx.Store.PendingEvents(actx.Ctx)
	if err != nil {
		return err
	}

	var keys []string
	for _, p := range pending {
		if a.Lane == "" || p.Key.Lane == event.Lane(a.Lane) {
			keys = append(keys, fmt.Sprintf("%s#%d", p.Key, p.Sequence))
		}
	}
	if len(keys) == *a.Count {
		return nil
	}

	scope := "all lanes"
	if a.Lane != "" {
		scope = "lane " + a.Lane
	}
	return &AssertionError{
		Type:     AssertPending,
		Expected: fmt.Sprintf("%d buffered in %s", *a.Count, scope),
		Actual:   fmt.Sprintf("%d buffered %v", len(keys), keys),
		Trace:    actx.Trace,
	}
}

// assertOrderStatus checks an order's lifecycle status.
func assertOrderStatus(a Assertion, actx *AssertionContext) error {
	o, ok, err := actx.Store.Order(actx.Ctx, a.Order)
	if err != nil {
		return err
	}
	actual := "order not found"
	if ok {
		if string(o.Status) == a.Status {
			return nil
		}
		actual = string(o.Status)
	}
	return &AssertionError{
		Type:     AssertOrderStatus,
		Expected: fmt.Sprintf("order %s is %s", a.Order, a.Status),
		Actual:   actual,
		Trace:    actx.Trace,
	}
}
