package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/loyalty/internal/event"
)

// goldenMap converts a result into a canonical-JSON-ready map: the trace of
// the arrival-order run and the final ledger snapshot.
func goldenMap(name string, result *Result) map[string]any {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"step":  ev.Step,
			"label": ev.Label,
		}
		if ev.Classification != "" {
			m["classification"] = ev.Classification
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		if ev.Receipt != 0 {
			m["receipt"] = ev.Receipt
		}
		if ev.Replayed != 0 {
			m["replayed"] = ev.Replayed
		}
		if ev.Remaining != nil {
			m["remaining"] = *ev.Remaining
		}
		if ev.Evicted != nil {
			m["evicted"] = *ev.Evicted
		}
		trace[i] = m
	}

	return map[string]any{
		"scenario": name,
		"trace":    trace,
		"ledger":   result.Snapshot.CanonicalMap(),
	}
}

// GoldenBytes renders a result as indented canonical JSON with a trailing
// newline. Key order is canonical, so the output is stable across runs.
func GoldenBytes(name string, result *Result) ([]byte, error) {
	canonical, err := event.MarshalCanonical(goldenMap(name, result))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares trace and final ledger
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := GoldenBytes(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
