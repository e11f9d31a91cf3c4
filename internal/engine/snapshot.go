package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
)

// Snapshot is a deterministic view of ledger state.
//
// Everything is sorted and wall-clock buffering times are left out, so two
// stores fed the same complete stream in any order produce identical
// canonical bytes.
type Snapshot struct {
	Customers []CustomerSnapshot
	Orders    []ledger.Order
	Pending   []PendingSnapshot
}

// CustomerSnapshot is one customer with its available points.
type CustomerSnapshot struct {
	ledger.Customer
	Available int64
}

// PendingSnapshot identifies one buffered event.
type PendingSnapshot struct {
	Key         event.StreamKey
	Sequence    int64
	Event       string
	Fingerprint string
}

// TakeSnapshot reads every customer, order and buffered event from l.
// Available points are computed as of asOf.
func TakeSnapshot(ctx context.Context, l Lister, policy ledger.Policy, asOf time.Time) (Snapshot, error) {
	customers, err := l.Customers(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list customers: %w", err)
	}
	orders, err := l.Orders(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list orders: %w", err)
	}
	pending, err := l.PendingEvents(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list pending: %w", err)
	}

	var s Snapshot
	for _, c := range customers {
		c = c.Clone()
		slices.SortStableFunc(c.Records, compareRecords)
		s.Customers = append(s.Customers, CustomerSnapshot{
			Customer:  c,
			Available: policy.Available(c.Records, asOf),
		})
	}
	slices.SortFunc(s.Customers, func(a, b CustomerSnapshot) int { return cmp.Compare(a.ID, b.ID) })

	s.Orders = slices.Clone(orders)
	slices.SortFunc(s.Orders, func(a, b ledger.Order) int { return cmp.Compare(a.ID, b.ID) })

	for _, p := range pending {
		s.Pending = append(s.Pending, PendingSnapshot{
			Key:         p.Key,
			Sequence:    p.Sequence,
			Event:       p.Event.String(),
			Fingerprint: p.Fingerprint,
		})
	}
	slices.SortFunc(s.Pending, func(a, b PendingSnapshot) int {
		return cmp.Or(
			cmp.Compare(a.Key.String(), b.Key.String()),
			cmp.Compare(a.Sequence, b.Sequence),
		)
	})

	return s, nil
}

func compareRecords(a, b ledger.PointRecord) int {
	return cmp.Or(
		a.EarnedAt.Compare(b.EarnedAt),
		cmp.Compare(a.OrderID, b.OrderID),
		cmp.Compare(a.Points, b.Points),
	)
}

// CanonicalMap returns the snapshot as a canonical-JSON-ready map.
func (s Snapshot) CanonicalMap() map[string]any {
	customers := make([]any, 0, len(s.Customers))
	for _, c := range s.Customers {
		records := make([]any, 0, len(c.Records))
		for _, r := range c.Records {
			records = append(records, map[string]any{
				"earned_at": r.EarnedAt.UTC().Format(time.RFC3339Nano),
				"order_id":  r.OrderID,
				"points":    r.Points,
			})
		}
		m := map[string]any{
			"available":          c.Available,
			"id":                 c.ID,
			"processed_sequence": c.ProcessedSequence,
			"records":            records,
		}
		if c.DeletedAt != nil {
			m["deleted_at"] = c.DeletedAt.UTC().Format(time.RFC3339Nano)
		}
		customers = append(customers, m)
	}

	orders := make([]any, 0, len(s.Orders))
	for _, o := range s.Orders {
		orders = append(orders, map[string]any{
			"customer_id":        o.CustomerID,
			"id":                 o.ID,
			"points_awarded":     o.PointsAwarded,
			"processed_sequence": o.ProcessedSequence,
			"status":             string(o.Status),
		})
	}

	pending := make([]any, 0, len(s.Pending))
	for _, p := range s.Pending {
		pending = append(pending, map[string]any{
			"event":       p.Event,
			"fingerprint": p.Fingerprint,
			"key":         p.Key.String(),
			"sequence":    p.Sequence,
		})
	}

	return map[string]any{
		"customers": customers,
		"orders":    orders,
		"pending":   pending,
	}
}

// Canonical returns the snapshot as canonical JSON.
func (s Snapshot) Canonical() ([]byte, error) {
	return event.MarshalCanonical(s.CanonicalMap())
}
