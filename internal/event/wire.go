package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the JSON shape producers post to the webhook:
//
//	{
//	  "EventTime": "2025-01-10T12:00:00Z",
//	  "EventName": "OrderPlaced",
//	  "EntityName": "Order",
//	  "Sequence": 1,
//	  "Payload": {"OrderId": "o1", "CustomerId": "c1", "TotalOrderAmount": 120}
//	}
type Envelope struct {
	EventTime  string          `json:"EventTime"`
	EventName  string          `json:"EventName"`
	EntityName string          `json:"EntityName,omitempty"`
	Sequence   int64           `json:"Sequence"`
	Payload    json.RawMessage `json:"Payload"`
}

type wirePayload struct {
	CustomerID       string   `json:"CustomerId,omitempty"`
	OrderID          string   `json:"OrderId,omitempty"`
	TotalOrderAmount *float64 `json:"TotalOrderAmount,omitempty"`
}

// Decode parses and validates a JSON envelope.
func Decode(data []byte) (Event, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return Event{}, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidEvent, err)
	}
	return FromEnvelope(env)
}

// FromEnvelope converts a decoded envelope into a validated Event.
// Payload fields that do not belong to the kind are ignored.
func FromEnvelope(env Envelope) (Event, error) {
	if env.EventName == "" {
		return Event{}, fmt.Errorf("%w: EventName is required", ErrInvalidEvent)
	}
	kind, err := ParseKind(env.EventName)
	if err != nil {
		return Event{}, err
	}
	if env.EventTime == "" {
		return Event{}, fmt.Errorf("%w: EventTime is required", ErrInvalidEvent)
	}
	at, err := time.Parse(time.RFC3339Nano, env.EventTime)
	if err != nil {
		return Event{}, fmt.Errorf("%w: EventTime: %v", ErrInvalidEvent, err)
	}
	if len(bytes.TrimSpace(env.Payload)) == 0 {
		return Event{}, fmt.Errorf("%w: Payload is required", ErrInvalidEvent)
	}

	var p wirePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Event{}, fmt.Errorf("%w: Payload: %v", ErrInvalidEvent, err)
	}

	var ev Event
	switch kind {
	case KindCustomerCreated:
		ev = CustomerCreated(p.CustomerID, env.Sequence, at)
	case KindCustomerDeleted:
		ev = CustomerDeleted(p.CustomerID, env.Sequence, at)
	case KindOrderPlaced:
		if p.TotalOrderAmount == nil {
			return Event{}, fmt.Errorf("%w: OrderPlaced: TotalOrderAmount is required", ErrInvalidEvent)
		}
		ev = OrderPlaced(p.CustomerID, p.OrderID, *p.TotalOrderAmount, env.Sequence, at)
	case KindOrderReturned:
		ev = OrderReturned(p.OrderID, env.Sequence, at)
	case KindOrderCanceled:
		ev = OrderCanceled(p.OrderID, env.Sequence, at)
	}

	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Envelope converts the event back to its wire shape.
func (e Event) Envelope() (Envelope, error) {
	var p wirePayload
	switch pl := e.Payload.(type) {
	case CustomerPayload:
		p.CustomerID = pl.CustomerID
	case OrderPlacedPayload:
		amount := pl.TotalAmount
		p.OrderID = pl.OrderID
		p.CustomerID = pl.CustomerID
		p.TotalOrderAmount = &amount
	case OrderPayload:
		p.OrderID = pl.OrderID
	default:
		return Envelope{}, fmt.Errorf("%w: unsupported payload %T", ErrInvalidEvent, e.Payload)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	return Envelope{
		EventTime:  e.Time.UTC().Format(time.RFC3339Nano),
		EventName:  e.Kind.String(),
		EntityName: e.Kind.EntityName(),
		Sequence:   e.Sequence,
		Payload:    raw,
	}, nil
}

// Encode returns the JSON wire form of the event.
func Encode(e Event) ([]byte, error) {
	env, err := e.Envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
