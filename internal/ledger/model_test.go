package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPlaced.Terminal())
	assert.True(t, StatusReturned.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, OrderStatus("shipped").Valid())
}

func TestCustomer_Clone_NoAliasing(t *testing.T) {
	deleted := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	c := Customer{
		ID:        "c1",
		Records:   []PointRecord{{Points: 2, EarnedAt: deleted, OrderID: "o1"}},
		DeletedAt: &deleted,
	}

	cp := c.Clone()
	cp.Records[0].Points = 99
	*cp.DeletedAt = deleted.Add(time.Hour)

	assert.Equal(t, int64(2), c.Records[0].Points)
	assert.Equal(t, deleted, *c.DeletedAt)
}

func TestCustomer_Clone_NilRecords(t *testing.T) {
	cp := Customer{ID: "c1"}.Clone()
	assert.NotNil(t, cp.Records)
	assert.Empty(t, cp.Records)
}

func TestNewCustomer(t *testing.T) {
	c := NewCustomer("c1")
	assert.Equal(t, "c1", c.ID)
	assert.Empty(t, c.Records)
	assert.Equal(t, int64(0), c.ProcessedSequence)
	assert.False(t, c.Deleted())
}

func TestCustomer_RemoveOrderRecords_RemovesWholeRecord(t *testing.T) {
	c := NewCustomer("c1")
	c.Records = []PointRecord{
		{Points: 1, OrderID: "o1"}, // partially consumed from 4
		{Points: 3, OrderID: "o2"},
		{Points: 2, OrderID: "o1"},
	}

	removed := c.RemoveOrderRecords("o1")

	assert.Equal(t, 2, removed)
	assert.Equal(t, []PointRecord{{Points: 3, OrderID: "o2"}}, c.Records)
	assert.Equal(t, 0, c.RemoveOrderRecords("missing"))
}
