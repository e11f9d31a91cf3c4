package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestScenarios(t *testing.T) {
	scenarios, paths, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for i, s := range scenarios {
		for _, backend := range []Backend{BackendMemory, BackendSQLite} {
			t.Run(filepath.Base(paths[i])+"/"+string(backend), func(t *testing.T) {
				result, err := Run(s, WithBackend(backend))
				require.NoError(t, err)
				assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
				assert.Len(t, result.Trace, len(s.Steps))
			})
		}
	}
}

func TestScenarios_PermutationCounts(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/contiguous_drain.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	assert.Equal(t, 119, result.Permutations, "5! orders minus the listed one")
}

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"scenario_a", "partial_consume_return"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata/scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_ReportsStepMismatch(t *testing.T) {
	s := mustParse(t, `
name: wrong_expectations
description: "Expectations that do not hold"
steps:
  - event: {name: CustomerCreated, seq: 1, customer: c1}
    expect: duplicate
  - event: {name: OrderPlaced, seq: 1, customer: c1, order: o1, amount: 100}
    error: UNKNOWN_CUSTOMER
  - consume: {customer: c1, points: 1, remaining: 5}
assertions:
  - type: points
    customer: c1
    points: 1
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "step 1 (CustomerCreated#1(customer:c1)): expected duplicate, got in_order")
	assert.Contains(t, result.Errors[1], "expected error UNKNOWN_CUSTOMER, got none")
	assert.Contains(t, result.Errors[2], "expected 5 remaining, got 1")
}

func TestRun_ReportsUnexpectedError(t *testing.T) {
	s := mustParse(t, `
name: unexpected_error
description: "An error the scenario did not expect"
steps:
  - consume: {customer: nobody, points: 1}
assertions:
  - type: not_found
    customer: nobody
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected error not_found")
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	s := mustParse(t, `
name: failed_assertions
description: "Assertions that do not hold"
steps:
  - event: {name: CustomerCreated, seq: 1, customer: c1}
  - event: {name: OrderPlaced, seq: 1, customer: c1, order: o1, amount: 100}
  - event: {name: OrderReturned, seq: 2, order: o9}
assertions:
  - type: points
    customer: c1
    points: 3
  - type: not_found
    customer: c1
  - type: pending
    count: 0
  - type: order_status
    order: o1
    status: returned
  - type: order_status
    order: o9
    status: placed
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "Assertion failed: points")
	assert.Contains(t, result.Errors[0], "Actual: 2")
	assert.Contains(t, result.Errors[1], "found with 2 points")
	assert.Contains(t, result.Errors[2], "order:o9#2")
	assert.Contains(t, result.Errors[3], "Actual: placed")
	assert.Contains(t, result.Errors[4], "order not found")
	assert.Contains(t, result.Errors[4], "[3] OrderReturned#2(order:o9) -> out_of_order")
}

func TestRun_DetectsDivergentArrivalOrders(t *testing.T) {
	// A placement is dropped when the deletion is applied first but kept
	// when it was applied before the deletion.
	s := mustParse(t, `
name: delete_race
description: "Deletion interleavings do not converge"
permute: true
steps:
  - event: {name: CustomerCreated, seq: 1, customer: c1}
  - event: {name: CustomerDeleted, seq: 2, customer: c1}
  - event: {name: OrderPlaced, seq: 1, customer: c1, order: o1, amount: 100}
assertions:
  - type: not_found
    customer: c1
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "arrival order [")
	assert.Contains(t, result.Errors[0], "diverges from [1 2 3]")
}

func TestPermute(t *testing.T) {
	seen := map[string]bool{}
	first := true
	permute(3, func(order []int) bool {
		if first {
			assert.True(t, isIdentity(order))
			first = false
		}
		seen[describeOrder(order)] = true
		return true
	})
	assert.Len(t, seen, 6)

	calls := 0
	permute(4, func([]int) bool {
		calls++
		return calls < 5
	})
	assert.Equal(t, 5, calls, "stops when fn returns false")
}

func TestErrorName(t *testing.T) {
	name, known := errorName(nil)
	assert.True(t, known)
	assert.Empty(t, name)

	_, known = errorName(assert.AnError)
	assert.False(t, known, "store failures cannot be expected")
}
