package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
)

// maxPermuteEvents bounds permutation runs (8! = 40320).
const maxPermuteEvents = 8

// Scenario defines a conformance test scenario: a stream of events in
// arrival order plus assertions on the resulting ledger.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy overrides the default points policy.
	Policy *PolicySpec `yaml:"policy,omitempty"`

	// Start is the wall clock at the first step (RFC 3339).
	// Defaults to DefaultStart.
	Start string `yaml:"start,omitempty"`

	// AsOf is the default query time for points assertions and consume
	// steps (RFC 3339). Defaults to Start.
	AsOf string `yaml:"as_of,omitempty"`

	// Retention enables buffer eviction for sweep steps (Go duration).
	Retention string `yaml:"retention,omitempty"`

	// Permute re-runs every arrival order of the event steps and requires
	// identical final snapshots. Only event steps are allowed.
	Permute bool `yaml:"permute,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final ledger.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultStart is the wall clock used when a scenario does not set start.
var DefaultStart = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

// PolicySpec mirrors ledger.Policy in YAML.
type PolicySpec struct {
	Threshold    int64 `yaml:"threshold"`
	ExpiryMonths int   `yaml:"expiry_months"`
}

// Step is one scenario step. Exactly one of Event, Raw, Consume, Advance or
// Sweep is set.
type Step struct {
	// Event submits a well-formed event.
	Event *EventSpec `yaml:"event,omitempty"`

	// Raw submits a raw JSON envelope, typically to test rejection.
	Raw string `yaml:"raw,omitempty"`

	// Consume redeems points.
	Consume *ConsumeSpec `yaml:"consume,omitempty"`

	// Advance moves the wall clock forward (Go duration).
	Advance string `yaml:"advance,omitempty"`

	// Sweep evicts buffered events older than the retention.
	Sweep bool `yaml:"sweep,omitempty"`

	// Expect is the expected classification of an event step
	// (in_order, duplicate, out_of_order, drop), or the expected number of
	// evicted events for a sweep step.
	Expect string `yaml:"expect,omitempty"`

	// Error is the expected failure: "invalid", a contract error code,
	// "not_found", "insufficient" or "invalid_points".
	Error string `yaml:"error,omitempty"`
}

// EventSpec is the compact YAML form of a webhook envelope.
type EventSpec struct {
	Name     string   `yaml:"name"`
	Sequence int64    `yaml:"seq"`
	Time     string   `yaml:"time,omitempty"`
	Customer string   `yaml:"customer,omitempty"`
	Order    string   `yaml:"order,omitempty"`
	Amount   *float64 `yaml:"amount,omitempty"`
}

// ConsumeSpec redeems points for a customer.
type ConsumeSpec struct {
	Customer string `yaml:"customer"`
	Points   int64  `yaml:"points"`
	AsOf     string `yaml:"as_of,omitempty"`
	// Remaining is the expected balance afterwards.
	Remaining *int64 `yaml:"remaining,omitempty"`
}

// Assertion validates the final ledger.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Customer string `yaml:"customer,omitempty"`
	Order    string `yaml:"order,omitempty"`
	AsOf     string `yaml:"as_of,omitempty"`

	// Points is the expected available balance (points).
	Points *int64 `yaml:"points,omitempty"`

	// Count is the expected number of buffered events (pending).
	Count *int `yaml:"count,omitempty"`

	// Lane restricts a pending count to one lane.
	Lane string `yaml:"lane,omitempty"`

	// Status is the expected order status (order_status).
	Status string `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertPoints      = "points"
	AssertNotFound    = "not_found"
	AssertPending     = "pending"
	AssertOrderStatus = "order_status"
)

// Expected step errors besides contract error codes.
const (
	ErrorInvalid       = "invalid"
	ErrorNotFound      = "not_found"
	ErrorInsufficient  = "insufficient"
	ErrorInvalidPoints = "invalid_points"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, []string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Policy != nil {
		if err := s.Policy.policy().Validate(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	for field, v := range map[string]string{"start": s.Start, "as_of": s.AsOf} {
		if v == "" {
			continue
		}
		if _, err := parseTime(v); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if s.Retention != "" {
		if d, err := time.ParseDuration(s.Retention); err != nil || d <= 0 {
			return fmt.Errorf("retention must be a positive duration, got %q", s.Retention)
		}
	}

	events := 0
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], s); err != nil {
			return err
		}
		if s.Steps[i].Event != nil || s.Steps[i].Raw != "" {
			events++
		}
	}
	if s.Permute {
		if events != len(s.Steps) {
			return fmt.Errorf("permute: only event steps are allowed")
		}
		if events > maxPermuteEvents {
			return fmt.Errorf("permute: at most %d events, got %d", maxPermuteEvents, events)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step, s *Scenario) error {
	set := 0
	for _, ok := range []bool{st.Event != nil, st.Raw != "", st.Consume != nil, st.Advance != "", st.Sweep} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of event, raw, consume, advance, sweep is required", i)
	}

	switch {
	case st.Event != nil:
		if _, err := st.Event.Envelope(DefaultStart); err != nil {
			return fmt.Errorf("steps[%d].event: %w", i, err)
		}
		if st.Expect != "" {
			if _, ok := event.ParseClassification(st.Expect); !ok {
				return fmt.Errorf("steps[%d]: unknown classification %q", i, st.Expect)
			}
		}
	case st.Raw != "":
		if st.Expect != "" {
			if _, ok := event.ParseClassification(st.Expect); !ok {
				return fmt.Errorf("steps[%d]: unknown classification %q", i, st.Expect)
			}
		}
	case st.Consume != nil:
		if st.Consume.Customer == "" {
			return fmt.Errorf("steps[%d].consume: customer is required", i)
		}
		if st.Consume.AsOf != "" {
			if _, err := parseTime(st.Consume.AsOf); err != nil {
				return fmt.Errorf("steps[%d].consume.as_of: %w", i, err)
			}
		}
	case st.Advance != "":
		if d, err := time.ParseDuration(st.Advance); err != nil || d <= 0 {
			return fmt.Errorf("steps[%d]: advance must be a positive duration, got %q", i, st.Advance)
		}
	case st.Sweep:
		if s.Retention == "" {
			return fmt.Errorf("steps[%d]: sweep requires retention", i)
		}
		if st.Expect != "" {
			if n, err := strconv.Atoi(st.Expect); err != nil || n < 0 {
				return fmt.Errorf("steps[%d]: sweep expect must be an eviction count, got %q", i, st.Expect)
			}
		}
	}
	if (st.Consume != nil || st.Advance != "") && st.Expect != "" {
		return fmt.Errorf("steps[%d]: expect is only valid on event and sweep steps", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertPoints:
		if a.Customer == "" {
			return fmt.Errorf("assertions[%d]: customer is required for points", index)
		}
		if a.Points == nil {
			return fmt.Errorf("assertions[%d]: points is required for points", index)
		}
	case AssertNotFound:
		if a.Customer == "" {
			return fmt.Errorf("assertions[%d]: customer is required for not_found", index)
		}
	case AssertPending:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for pending", index)
		}
		switch event.Lane(a.Lane) {
		case "", event.LaneCustomer, event.LanePlacement, event.LaneOrder:
		default:
			return fmt.Errorf("assertions[%d]: unknown lane %q", index, a.Lane)
		}
	case AssertOrderStatus:
		if a.Order == "" {
			return fmt.Errorf("assertions[%d]: order is required for order_status", index)
		}
		if !ledger.OrderStatus(a.Status).Valid() {
			return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.AsOf != "" {
		if _, err := parseTime(a.AsOf); err != nil {
			return fmt.Errorf("assertions[%d].as_of: %w", index, err)
		}
	}
	return nil
}

func (p *PolicySpec) policy() ledger.Policy {
	if p == nil {
		return ledger.DefaultPolicy()
	}
	return ledger.Policy{Threshold: p.Threshold, ExpiryMonths: p.ExpiryMonths}
}

// Envelope converts e into a wire envelope. Events without a time
// are stamped with fallback.
func (e *EventSpec) Envelope(fallback time.Time) (event.Envelope, error) {
	if e.Name == "" {
		return event.Envelope{}, fmt.Errorf("name is required")
	}
	kind, err := event.ParseKind(e.Name)
	if err != nil {
		return event.Envelope{}, err
	}

	ts := fallback.UTC().Format(time.RFC3339Nano)
	if e.Time != "" {
		t, err := parseTime(e.Time)
		if err != nil {
			return event.Envelope{}, fmt.Errorf("time: %w", err)
		}
		ts = t.Format(time.RFC3339Nano)
	}

	payload := map[string]any{}
	if e.Customer != "" {
		payload["CustomerId"] = e.Customer
	}
	if e.Order != "" {
		payload["OrderId"] = e.Order
	}
	if e.Amount != nil {
		payload["TotalOrderAmount"] = *e.Amount
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return event.Envelope{}, err
	}

	return event.Envelope{
		EventTime:  ts,
		EventName:  e.Name,
		EntityName: kind.EntityName(),
		Sequence:   e.Sequence,
		Payload:    raw,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
