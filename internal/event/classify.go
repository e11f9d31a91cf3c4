package event

import "github.com/roach88/loyalty/internal/ledger"

// Classification is the ordering verdict for one event.
type Classification int

const (
	// InOrder events are applied immediately.
	InOrder Classification = iota + 1
	// Duplicate events have already been applied and are discarded.
	Duplicate
	// OutOfOrder events arrived before their predecessor and are buffered.
	OutOfOrder
	// Drop events are obsolete (their entity is gone) and are discarded.
	Drop
)

// String returns the snake_case name used in logs and API responses.
func (c Classification) String() string {
	switch c {
	case InOrder:
		return "in_order"
	case Duplicate:
		return "duplicate"
	case OutOfOrder:
		return "out_of_order"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// ParseClassification is the inverse of Classification.String.
func ParseClassification(s string) (Classification, bool) {
	for _, c := range []Classification{InOrder, Duplicate, OutOfOrder, Drop} {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Classify decides how ev relates to the current state of its entities.
//
// customer is the customer named by the event (nil if unknown); order is the
// order named by the event (nil if unknown). Only the entity relevant to the
// event's kind is consulted.
//
// The branch order matters. For OrderPlaced the gap check runs first, then
// the duplicate check, and only then the deleted-customer check, so a
// redelivered placement for a deleted customer reports Duplicate rather than
// Drop.
func Classify(ev Event, customer *ledger.Customer, order *ledger.Order) Classification {
	switch ev.Kind {
	case KindOrderPlaced:
		switch {
		case customer == nil || ev.Sequence > customer.ProcessedSequence+1:
			return OutOfOrder
		case ev.Sequence <= customer.ProcessedSequence:
			return Duplicate
		case customer.Deleted():
			return Drop
		default:
			return InOrder
		}

	case KindOrderReturned, KindOrderCanceled:
		switch {
		case order == nil:
			return OutOfOrder
		case ev.Sequence == order.ProcessedSequence:
			return Duplicate
		default:
			return InOrder
		}

	case KindCustomerCreated:
		switch {
		case customer == nil:
			return InOrder
		case customer.Deleted():
			return Drop
		default:
			return Duplicate
		}

	case KindCustomerDeleted:
		switch {
		case customer == nil:
			return OutOfOrder
		case customer.Deleted():
			return Drop
		default:
			return InOrder
		}
	}

	// Validate rejects unknown kinds before classification.
	return Drop
}
