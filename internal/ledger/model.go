package ledger

import (
	"slices"
	"time"
)

// OrderStatus is the resolution state of an order.
// Placed is the only non-terminal status.
type OrderStatus string

const (
	StatusPlaced   OrderStatus = "placed"
	StatusReturned OrderStatus = "returned"
	StatusCanceled OrderStatus = "canceled"
)

// Terminal reports whether the order can no longer change status.
func (s OrderStatus) Terminal() bool {
	return s == StatusReturned || s == StatusCanceled
}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPlaced, StatusReturned, StatusCanceled:
		return true
	}
	return false
}

// PointRecord is a single award of points.
//
// Points mutates downward as the award is consumed. OrderID links the award
// back to the order that earned it so a return or cancellation can reverse it.
type PointRecord struct {
	Points   int64     `json:"points"`
	EarnedAt time.Time `json:"earned_at"`
	OrderID  string    `json:"order_id"`
}

// Customer is a loyalty account.
//
// ProcessedSequence is the highest sequence applied from the customer's
// order-placement stream. Customers are never physically removed: deletion
// sets DeletedAt and the record is kept so late events can be dropped.
type Customer struct {
	ID                string        `json:"id"`
	Records           []PointRecord `json:"records"`
	ProcessedSequence int64         `json:"processed_sequence"`
	DeletedAt         *time.Time    `json:"deleted_at,omitempty"`
}

// NewCustomer returns a live customer with no points and no applied orders.
func NewCustomer(id string) Customer {
	return Customer{ID: id, Records: []PointRecord{}}
}

// Deleted reports whether the customer has been soft-deleted.
func (c Customer) Deleted() bool {
	return c.DeletedAt != nil
}

// Clone returns a deep copy so callers can mutate it without aliasing the
// original's record slice or deletion timestamp.
func (c Customer) Clone() Customer {
	out := c
	out.Records = slices.Clone(c.Records)
	if out.Records == nil {
		out.Records = []PointRecord{}
	}
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// RemoveOrderRecords drops every record earned by orderID and returns how
// many records were removed.
//
// The whole record goes, even if part of it was already consumed. A customer
// who spent some of an order's points before returning it therefore loses
// the remainder and keeps nothing back for the spent part.
func (c *Customer) RemoveOrderRecords(orderID string) int {
	before := len(c.Records)
	c.Records = slices.DeleteFunc(c.Records, func(r PointRecord) bool {
		return r.OrderID == orderID
	})
	return before - len(c.Records)
}

// Order is a placed order and its resolution state.
//
// ProcessedSequence tracks the order's own resolution stream: placement is
// implicitly sequence 1 and a return or cancellation is sequence 2.
// PointsAwarded records the award at placement and is kept after reversal.
type Order struct {
	ID                string      `json:"id"`
	CustomerID        string      `json:"customer_id"`
	PointsAwarded     int64       `json:"points_awarded"`
	ProcessedSequence int64       `json:"processed_sequence"`
	Status            OrderStatus `json:"status"`
}
