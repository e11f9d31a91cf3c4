package event

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindCustomerCreated, KindCustomerDeleted, KindOrderPlaced, KindOrderReturned, KindOrderCanceled} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("OrderShipped")
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Equal(t, "Kind(0)", KindUnknown.String())
}

func TestEvent_Keys(t *testing.T) {
	tests := []struct {
		ev     Event
		buffer string
		entity string
	}{
		{CustomerCreated("c1", 1, at), "customer:c1", "customer:c1"},
		{CustomerDeleted("c1", 2, at), "customer:c1", "customer:c1"},
		{OrderPlaced("c1", "o1", 10, 3, at), "placement:c1", "order:o1"},
		{OrderReturned("o1", 2, at), "order:o1", "order:o1"},
		{OrderCanceled("o1", 2, at), "order:o1", "order:o1"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.buffer, tt.ev.BufferKey().String(), tt.ev.Kind.String())
		assert.Equal(t, tt.entity, tt.ev.EntityKey().String(), tt.ev.Kind.String())
	}
}

func TestEvent_IDs(t *testing.T) {
	placed := OrderPlaced("c1", "o1", 10, 1, at)
	assert.Equal(t, "c1", placed.CustomerID())
	assert.Equal(t, "o1", placed.OrderID())

	ret := OrderReturned("o1", 2, at)
	assert.Equal(t, "", ret.CustomerID())
	assert.Equal(t, "o1", ret.OrderID())

	created := CustomerCreated("c1", 1, at)
	assert.Equal(t, "", created.OrderID())
}

func TestParseStreamKey(t *testing.T) {
	for _, k := range []StreamKey{CustomerKey("a"), PlacementKey("b:c"), OrderKey("o-1")} {
		parsed, err := ParseStreamKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseStreamKey("nocolon")
	assert.Error(t, err)
	_, err = ParseStreamKey("shipment:1")
	assert.Error(t, err)
	_, err = ParseStreamKey("order:")
	assert.Error(t, err)
}

func TestEvent_Validate(t *testing.T) {
	valid := []Event{
		CustomerCreated("c1", 1, at),
		CustomerDeleted("c1", 2, at),
		OrderPlaced("c1", "o1", 0, 1, at),
		OrderReturned("o1", 2, at),
		OrderCanceled("o1", 2, at),
	}
	for _, ev := range valid {
		assert.NoError(t, ev.Validate(), ev.String())
	}

	invalid := map[string]Event{
		"zero sequence":    CustomerCreated("c1", 0, at),
		"zero time":        CustomerCreated("c1", 1, time.Time{}),
		"blank customer":   CustomerCreated("  ", 1, at),
		"missing order id": OrderPlaced("c1", "", 10, 1, at),
		"missing customer": OrderPlaced("", "o1", 10, 1, at),
		"negative amount":  OrderPlaced("c1", "o1", -1, 1, at),
		"NaN amount":       OrderPlaced("c1", "o1", math.NaN(), 1, at),
		"blank return":     OrderReturned("", 2, at),
		"payload mismatch": {Kind: KindOrderReturned, Sequence: 2, Time: at, Payload: CustomerPayload{CustomerID: "c1"}},
		"unknown kind":     {Kind: KindUnknown, Sequence: 1, Time: at, Payload: OrderPayload{OrderID: "o1"}},
	}
	for name, ev := range invalid {
		assert.ErrorIs(t, ev.Validate(), ErrInvalidEvent, name)
	}
}
