// Package engine implements the loyalty event dispatcher.
//
// The engine receives lifecycle events for customers and orders, decides
// whether each one can be applied now, and keeps the rest in a buffer until
// the events they depend on arrive.
//
// ARCHITECTURE:
//
// Event Processing Flow:
// 1. Submit validates the event and acquires its per-entity locks
// 2. The event is stamped with a receipt number and recorded in the inbox
// log when one is configured
// 3. A unit of work (Store.Atomic) opens; steps 4 to 6 commit or fail together
// 4. The event is classified against current state (event.Classify)
// 5. In-order events run their handler, then cascade replay drains any
// buffered events they unblocked
// 6. Out-of-order events are buffered under their stream key and sequence
// 7. Duplicates and obsolete events are logged and discarded
//
// Locking:
// One exclusive lock per customer covers customer lifecycle, order placement
// and point consumption. A return or cancellation for an order not yet
// placed holds only the order lock; units of work run one at a time, so it
// either sees the placement or is buffered before the placement's cascade
// checks the order lane. Locks are always taken customer first, then order,
// and never inside a unit of work.
//
// Replay:
// Buffered events are taken from the buffer and applied without being
// classified again. A replayed event runs the same handler and cascade as a
// live one, so one arrival can unblock an arbitrary chain.
//
// Determinism:
// Applying every event of a complete stream yields the same ledger state
// regardless of arrival order. Redelivered events are idempotent.
package engine
