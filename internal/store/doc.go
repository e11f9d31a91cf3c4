// Package store provides SQLite-backed durable storage for the loyalty ledger.
//
// The store implements engine.Store, engine.Inbox and engine.Lister:
//   - Customers and their point records
//   - Orders and their resolution state
//   - Pending events: the out-of-order buffer, one event per (stream key, seq)
//   - Inbox: append-only log of received events, unique by fingerprint
//
// # Critical Patterns
//
// Idempotent Inbox
//   - UNIQUE(fingerprint) with ON CONFLICT DO NOTHING
//   - Redelivered events are recorded once
//
// Deterministic Reads
//   - List queries order by primary key; the inbox orders by receipt, id
//   - Point records keep their ledger position
//
// Whole-Record Writes
//   - PutCustomer rewrites the customer and its records in one transaction
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Events are stored as their wire envelope (see event.Encode) so the buffer
// and inbox can be read by any consumer of the webhook format.
package store
