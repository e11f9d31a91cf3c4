package event

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidEvent is wrapped by every validation and decoding failure.
var ErrInvalidEvent = errors.New("invalid event")

// Kind identifies one of the five lifecycle events.
type Kind int

const (
	KindUnknown Kind = iota
	KindCustomerCreated
	KindCustomerDeleted
	KindOrderPlaced
	KindOrderReturned
	KindOrderCanceled
)

var kindNames = map[Kind]string{
	KindCustomerCreated: "CustomerCreated",
	KindCustomerDeleted: "CustomerDeleted",
	KindOrderPlaced:     "OrderPlaced",
	KindOrderReturned:   "OrderReturned",
	KindOrderCanceled:   "OrderCanceled",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a wire event name to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: unsupported event name %q", ErrInvalidEvent, name)
}

// EntityName returns the entity the kind belongs to ("Customer" or "Order").
func (k Kind) EntityName() string {
	switch k {
	case KindCustomerCreated, KindCustomerDeleted:
		return "Customer"
	default:
		return "Order"
	}
}

// Payload is the kind-specific body of an event.
// It is sealed: only the payload types in this package implement it.
type Payload interface {
	sealed()
}

// CustomerPayload is carried by CustomerCreated and CustomerDeleted.
type CustomerPayload struct {
	CustomerID string
}

// OrderPlacedPayload is carried by OrderPlaced.
type OrderPlacedPayload struct {
	OrderID     string
	CustomerID  string
	TotalAmount float64
}

// OrderPayload is carried by OrderReturned and OrderCanceled.
type OrderPayload struct {
	OrderID string
}

func (CustomerPayload) sealed()    {}
func (OrderPlacedPayload) sealed() {}
func (OrderPayload) sealed()       {}

// Event is one delivery from the lifecycle stream.
type Event struct {
	Kind     Kind
	Time     time.Time
	Sequence int64
	Payload  Payload
}

// CustomerCreated builds a CustomerCreated event.
func CustomerCreated(customerID string, seq int64, at time.Time) Event {
	return Event{Kind: KindCustomerCreated, Time: at, Sequence: seq, Payload: CustomerPayload{CustomerID: customerID}}
}

// CustomerDeleted builds a CustomerDeleted event.
func CustomerDeleted(customerID string, seq int64, at time.Time) Event {
	return Event{Kind: KindCustomerDeleted, Time: at, Sequence: seq, Payload: CustomerPayload{CustomerID: customerID}}
}

// OrderPlaced builds an OrderPlaced event.
func OrderPlaced(customerID, orderID string, amount float64, seq int64, at time.Time) Event {
	return Event{
		Kind:     KindOrderPlaced,
		Time:     at,
		Sequence: seq,
		Payload:  OrderPlacedPayload{OrderID: orderID, CustomerID: customerID, TotalAmount: amount},
	}
}

// OrderReturned builds an OrderReturned event.
func OrderReturned(orderID string, seq int64, at time.Time) Event {
	return Event{Kind: KindOrderReturned, Time: at, Sequence: seq, Payload: OrderPayload{OrderID: orderID}}
}

// OrderCanceled builds an OrderCanceled event.
func OrderCanceled(orderID string, seq int64, at time.Time) Event {
	return Event{Kind: KindOrderCanceled, Time: at, Sequence: seq, Payload: OrderPayload{OrderID: orderID}}
}

// CustomerID returns the customer the event addresses, or "" for order
// resolutions, whose owner is only known once the order has been placed.
func (e Event) CustomerID() string {
	switch p := e.Payload.(type) {
	case CustomerPayload:
		return p.CustomerID
	case OrderPlacedPayload:
		return p.CustomerID
	}
	return ""
}

// OrderID returns the order the event addresses, or "" for lifecycle events.
func (e Event) OrderID() string {
	switch p := e.Payload.(type) {
	case OrderPlacedPayload:
		return p.OrderID
	case OrderPayload:
		return p.OrderID
	}
	return ""
}

// BufferKey returns the stream an out-of-order event is held under.
func (e Event) BufferKey() StreamKey {
	switch e.Kind {
	case KindCustomerCreated, KindCustomerDeleted:
		return CustomerKey(e.CustomerID())
	case KindOrderPlaced:
		return PlacementKey(e.CustomerID())
	default:
		return OrderKey(e.OrderID())
	}
}

// EntityKey returns the entity's own stream: the lifecycle lane for customer
// events and the resolution lane for order events (including placement).
func (e Event) EntityKey() StreamKey {
	switch e.Kind {
	case KindCustomerCreated, KindCustomerDeleted:
		return CustomerKey(e.CustomerID())
	default:
		return OrderKey(e.OrderID())
	}
}

// Validate checks that the payload matches the kind and that every required
// field is present.
func (e Event) Validate() error {
	if e.Sequence < 1 {
		return fmt.Errorf("%w: sequence must be >= 1, got %d", ErrInvalidEvent, e.Sequence)
	}
	if e.Time.IsZero() {
		return fmt.Errorf("%w: event time is required", ErrInvalidEvent)
	}

	switch e.Kind {
	case KindCustomerCreated, KindCustomerDeleted:
		p, ok := e.Payload.(CustomerPayload)
		if !ok {
			return payloadMismatch(e)
		}
		if strings.TrimSpace(p.CustomerID) == "" {
			return fmt.Errorf("%w: %s: customer id is required", ErrInvalidEvent, e.Kind)
		}
	case KindOrderPlaced:
		p, ok := e.Payload.(OrderPlacedPayload)
		if !ok {
			return payloadMismatch(e)
		}
		if strings.TrimSpace(p.OrderID) == "" || strings.TrimSpace(p.CustomerID) == "" {
			return fmt.Errorf("%w: %s: order id and customer id are required", ErrInvalidEvent, e.Kind)
		}
		if p.TotalAmount < 0 || math.IsNaN(p.TotalAmount) || math.IsInf(p.TotalAmount, 0) {
			return fmt.Errorf("%w: %s: total amount must be a non-negative number", ErrInvalidEvent, e.Kind)
		}
	case KindOrderReturned, KindOrderCanceled:
		p, ok := e.Payload.(OrderPayload)
		if !ok {
			return payloadMismatch(e)
		}
		if strings.TrimSpace(p.OrderID) == "" {
			return fmt.Errorf("%w: %s: order id is required", ErrInvalidEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidEvent, e.Kind)
	}
	return nil
}

func payloadMismatch(e Event) error {
	return fmt.Errorf("%w: %s cannot carry %T", ErrInvalidEvent, e.Kind, e.Payload)
}

// String renders the event for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s#%d(%s)", e.Kind, e.Sequence, e.BufferKey())
}

// Lane names a sequence stream.
type Lane string

const (
	LaneCustomer  Lane = "customer"
	LanePlacement Lane = "placement"
	LaneOrder     Lane = "order"
)

// StreamKey is the identity a sequence number is meaningful against.
type StreamKey struct {
	Lane Lane
	ID   string
}

// CustomerKey returns the lifecycle stream of a customer.
func CustomerKey(customerID string) StreamKey {
	return StreamKey{Lane: LaneCustomer, ID: customerID}
}

// PlacementKey returns the order-placement stream of a customer.
func PlacementKey(customerID string) StreamKey {
	return StreamKey{Lane: LanePlacement, ID: customerID}
}

// OrderKey returns the resolution stream of an order.
func OrderKey(orderID string) StreamKey {
	return StreamKey{Lane: LaneOrder, ID: orderID}
}

// String renders the key as "<lane>:<id>".
func (k StreamKey) String() string {
	return string(k.Lane) + ":" + k.ID
}

// ParseStreamKey is the inverse of StreamKey.String.
func ParseStreamKey(s string) (StreamKey, error) {
	lane, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return StreamKey{}, fmt.Errorf("malformed stream key %q", s)
	}
	switch Lane(lane) {
	case LaneCustomer, LanePlacement, LaneOrder:
		return StreamKey{Lane: Lane(lane), ID: id}, nil
	}
	return StreamKey{}, fmt.Errorf("unknown lane in stream key %q", s)
}
