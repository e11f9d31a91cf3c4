package harness

import "github.com/roach88/loyalty/internal/engine"

// TraceEvent records what one step did.
type TraceEvent struct {
	Step           int    `json:"step"`
	Label          string `json:"label"`
	Classification string `json:"classification,omitempty"`
	Error          string `json:"error,omitempty"`
	Receipt        int64  `json:"receipt,omitempty"`
	Replayed       int    `json:"replayed,omitempty"`
	Remaining      *int64 `json:"remaining,omitempty"`
	Evicted        *int   `json:"evicted,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains one entry per step of the arrival-order run.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the final ledger of the arrival-order run.
	Snapshot engine.Snapshot `json:"-"`

	// Permutations counts the extra arrival orders checked.
	Permutations int `json:"permutations,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
