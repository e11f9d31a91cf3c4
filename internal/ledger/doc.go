// Package ledger holds the loyalty ledger model and the points policy.
//
// The model is deliberately plain data: Customer, Order and PointRecord are
// values that a store copies in and out. Nothing in this package locks or
// persists anything; the engine owns serialization and the store owns
// durability.
//
// # Points Policy
//
// Points are earned at order placement as floor(amount / threshold) and
// expire a fixed number of calendar months after they were earned. Expiry
// is evaluated at query time only:
//
//   - Available sums the points of records that have not expired as of a
//     given instant. Expired records are ignored but never removed.
//   - Consume deducts oldest-first from non-expired records. It either
//     satisfies the whole request or returns ErrInsufficientPoints and
//     leaves the input untouched.
//
// Month arithmetic uses time.AddDate, so an award earned on August 31 with a
// six month expiry lapses on March 3 (February 31 normalises forward).
package ledger
