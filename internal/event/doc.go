// Package event defines the lifecycle events the ledger consumes and the
// rules for ordering them.
//
// # Event Union
//
// An Event is a closed union over five kinds. Each kind carries exactly one
// payload type, and Payload is a sealed interface so a switch over it is
// exhaustive within this module:
//
//	CustomerCreated, CustomerDeleted -> CustomerPayload{CustomerID}
//	OrderPlaced                      -> OrderPlacedPayload{OrderID, CustomerID, TotalAmount}
//	OrderReturned, OrderCanceled     -> OrderPayload{OrderID}
//
// # Streams
//
// Sequence numbers are scoped to a stream, not global. There are three lanes:
//
//   - customer:<customer-id>   lifecycle (created = 1, deleted = 2)
//   - placement:<customer-id>  one increasing counter across a customer's orders
//   - order:<order-id>         resolution (placed = 1 implicitly, return/cancel = 2)
//
// # Classification
//
// Classify labels an event against the current entity state as InOrder,
// Duplicate, OutOfOrder or Drop. It is a pure function; the engine is
// responsible for holding the right locks so the state it passes in is still
// current when the matching handler runs.
//
// # Fingerprints
//
// Fingerprint hashes the canonical JSON form of an event (RFC 8785 key
// ordering, NFC-normalised strings) with domain separation. Two deliveries of
// the same event always produce the same fingerprint, which lets the buffer
// tell a redelivery apart from a different event that reuses a sequence
// number.
package event
