package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/loyalty/internal/ledger"
)

// AvailablePoints returns the customer's unexpired points as of asOf.
// Returns ErrNotFound for unknown or deleted customers.
func (e *Engine) AvailablePoints(ctx context.Context, customerID string, asOf time.Time) (int64, error) {
	release := e.locks.lock(customerLock(customerID))
	defer release()

	c, ok, err := e.store.Customer(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("load customer %s: %w", customerID, err)
	}
	if !ok || c.Deleted() {
		return 0, ErrNotFound
	}
	return e.policy.Available(c.Records, asOf), nil
}

// Consume redeems points from the customer's oldest unexpired records and
// returns the points still available afterwards.
//
// Returns ErrNotFound for unknown or deleted customers,
// ledger.ErrInvalidPoints for a non-positive amount and
// ledger.ErrInsufficientPoints when the balance is too low. On error the
// ledger is unchanged.
func (e *Engine) Consume(ctx context.Context, customerID string, points int64, asOf time.Time) (int64, error) {
	release := e.locks.lock(customerLock(customerID))
	defer release()

	var c ledger.Customer
	err := e.store.Atomic(ctx, func(s Store) error {
		var ok bool
		var err error
		c, ok, err = s.Customer(ctx, customerID)
		if err != nil {
			return fmt.Errorf("load customer %s: %w", customerID, err)
		}
		if !ok || c.Deleted() {
			return ErrNotFound
		}

		records, err := e.policy.Consume(c.Records, points, asOf)
		if err != nil {
			return err
		}
		c.Records = records
		if err := s.PutCustomer(ctx, c); err != nil {
			return fmt.Errorf("update customer %s: %w", customerID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	remaining := e.policy.Available(c.Records, asOf)
	e.logger.Info("points consumed", "customer", customerID, "points", points, "remaining", remaining)
	return remaining, nil
}
