package engine

import (
	"context"
	"fmt"

	"github.com/roach88/loyalty/internal/event"
	"github.com/roach88/loyalty/internal/ledger"
)

// handle applies one in-order event to s.
// The caller holds the locks for ev and runs inside a unit of work.
func (e *Engine) handle(ctx context.Context, s Store, ev event.Event) error {
	switch ev.Kind {
	case event.KindCustomerCreated:
		return e.customerCreated(ctx, s, ev)
	case event.KindCustomerDeleted:
		return e.customerDeleted(ctx, s, ev)
	case event.KindOrderPlaced:
		return e.orderPlaced(ctx, s, ev)
	case event.KindOrderReturned:
		return e.orderResolved(ctx, s, ev, ledger.StatusReturned)
	case event.KindOrderCanceled:
		return e.orderResolved(ctx, s, ev, ledger.StatusCanceled)
	default:
		return fmt.Errorf("%w: no handler for %s", event.ErrInvalidEvent, ev.Kind)
	}
}

func (e *Engine) customerCreated(ctx context.Context, s Store, ev event.Event) error {
	id := ev.CustomerID()
	_, ok, err := s.Customer(ctx, id)
	if err != nil {
		return fmt.Errorf("load customer %s: %w", id, err)
	}
	if ok {
		return nil
	}
	if err := s.PutCustomer(ctx, ledger.NewCustomer(id)); err != nil {
		return fmt.Errorf("create customer %s: %w", id, err)
	}
	return nil
}

func (e *Engine) customerDeleted(ctx context.Context, s Store, ev event.Event) error {
	id := ev.CustomerID()
	c, ok, err := s.Customer(ctx, id)
	if err != nil {
		return fmt.Errorf("load customer %s: %w", id, err)
	}
	if !ok {
		return nil
	}

	deletedAt := ev.Time
	c.DeletedAt = &deletedAt
	if err := s.PutCustomer(ctx, c); err != nil {
		return fmt.Errorf("delete customer %s: %w", id, err)
	}

	purged := 0
	for _, key := range []event.StreamKey{event.CustomerKey(id), event.PlacementKey(id)} {
		n, err := s.PurgePending(ctx, key)
		if err != nil {
			return fmt.Errorf("purge %s: %w", key, err)
		}
		purged += n
	}
	if purged > 0 {
		e.logger.Info("purged buffered events of deleted customer", "customer", id, "count", purged)
	}
	return nil
}

func (e *Engine) orderPlaced(ctx context.Context, s Store, ev event.Event) error {
	p := ev.Payload.(event.OrderPlacedPayload)

	c, ok, err := s.Customer(ctx, p.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer %s: %w", p.CustomerID, err)
	}
	if !ok {
		return contractError(CodeUnknownCustomer, ev, p.CustomerID, "order %s placed for unknown customer", p.OrderID)
	}

	points := e.policy.PointsEarned(p.TotalAmount)
	order := ledger.Order{
		ID:                p.OrderID,
		CustomerID:        p.CustomerID,
		PointsAwarded:     points,
		ProcessedSequence: 1,
		Status:            ledger.StatusPlaced,
	}

	// A return racing this placement runs its unit before or after this one:
	// it either sees the order or is already buffered under the order lane,
	// where cascade replay finds it.
	if err := s.PutOrder(ctx, order); err != nil {
		return fmt.Errorf("create order %s: %w", p.OrderID, err)
	}

	if points > 0 {
		c.Records = append(c.Records, ledger.PointRecord{
			Points:   points,
			EarnedAt: ev.Time,
			OrderID:  p.OrderID,
		})
	}
	c.ProcessedSequence = ev.Sequence
	if err := s.PutCustomer(ctx, c); err != nil {
		return fmt.Errorf("update customer %s: %w", p.CustomerID, err)
	}
	return nil
}

func (e *Engine) orderResolved(ctx context.Context, s Store, ev event.Event, status ledger.OrderStatus) error {
	id := ev.OrderID()
	o, ok, err := s.Order(ctx, id)
	if err != nil {
		return fmt.Errorf("load order %s: %w", id, err)
	}
	if !ok {
		e.logger.Debug("resolution for unknown order ignored", "order", id)
		return nil
	}
	if o.Status.Terminal() {
		return contractError(CodeOrderAlreadyResolved, ev, id, "order already %s", o.Status)
	}

	o.Status = status
	o.ProcessedSequence = ev.Sequence
	if err := s.PutOrder(ctx, o); err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}

	c, ok, err := s.Customer(ctx, o.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer %s: %w", o.CustomerID, err)
	}
	if !ok {
		return nil
	}
	if removed := c.RemoveOrderRecords(id); removed > 0 {
		if err := s.PutCustomer(ctx, c); err != nil {
			return fmt.Errorf("update customer %s: %w", o.CustomerID, err)
		}
	}
	return nil
}
