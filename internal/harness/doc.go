// Package harness runs YAML conformance scenarios against the loyalty engine.
//
// # Scenario Format
//
//	name: scenario_b
//	description: "Placement before creation is buffered, then replayed"
//	permute: true
//	steps:
//	  - event: {name: OrderPlaced, seq: 1, customer: c1, order: o1, amount: 200}
//	    expect: out_of_order
//	  - event: {name: CustomerCreated, seq: 1, customer: c1}
//	    expect: in_order
//	assertions:
//	  - type: points
//	    customer: c1
//	    points: 4
//
// Steps are one of event, raw (a JSON envelope), consume, advance (moves the
// fake wall clock) or sweep (buffer eviction, needs retention). Event and
// raw steps may carry expect (a classification) and error ("invalid" or a
// contract error code); consume steps may carry error ("not_found",
// "insufficient", "invalid_points") and an expected remaining balance.
//
// # Assertion Types
//
//   - points: available balance of a customer as of as_of
//   - not_found: the customer is unknown or deleted
//   - pending: number of buffered events, optionally in one lane
//   - order_status: placed, returned or canceled
//
// # Convergence
//
// With permute set, every other arrival order of the events is replayed on
// a fresh store and its canonical ledger snapshot must equal the snapshot of
// the listed order. Per-step expectations apply to the listed order only.
//
// # Deterministic Testing
//
// Every run uses a fresh store and a fake wall clock starting at start, so
// receipts and snapshots are reproducible and can be compared with golden
// files under testdata/golden.
package harness
