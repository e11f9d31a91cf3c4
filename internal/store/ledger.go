package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/loyalty/internal/ledger"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Customer returns the customer with id and its point records in ledger order.
func (s *Store) Customer(ctx context.Context, id string) (ledger.Customer, bool, error) {
	c, ok, err := readCustomer(ctx, s.conn(), id)
	if err != nil {
		return ledger.Customer{}, false, fmt.Errorf("read customer: %w", err)
	}
	return c, ok, nil
}

func readCustomer(ctx context.Context, q querier, id string) (ledger.Customer, bool, error) {
	c := ledger.NewCustomer(id)
	var deletedAt sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT processed_seq, deleted_at FROM customers WHERE id = ?
	`, id).Scan(&c.ProcessedSequence, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Customer{}, false, nil
	}
	if err != nil {
		return ledger.Customer{}, false, err
	}
	c.DeletedAt = fromNullNanos(deletedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT points, earned_at, order_id FROM point_records
		WHERE customer_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return ledger.Customer{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var r ledger.PointRecord
		var earnedAt int64
		if err := rows.Scan(&r.Points, &earnedAt, &r.OrderID); err != nil {
			return ledger.Customer{}, false, err
		}
		r.EarnedAt = fromNanos(earnedAt)
		c.Records = append(c.Records, r)
	}
	if err := rows.Err(); err != nil {
		return ledger.Customer{}, false, err
	}
	return c, true, nil
}

// PutCustomer upserts the customer and replaces its point records.
func (s *Store) PutCustomer(ctx context.Context, c ledger.Customer) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO customers (id, processed_seq, deleted_at)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				processed_seq = excluded.processed_seq,
				deleted_at = excluded.deleted_at
		`, c.ID, c.ProcessedSequence, nullNanos(c.DeletedAt)); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM point_records WHERE customer_id = ?`, c.ID); err != nil {
			return err
		}
		for i, r := range c.Records {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO point_records (customer_id, position, points, earned_at, order_id)
				VALUES (?, ?, ?, ?, ?)
			`, c.ID, i, r.Points, toNanos(r.EarnedAt), r.OrderID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write customer %s: %w", c.ID, err)
	}
	return nil
}

// Order returns the order with id.
func (s *Store) Order(ctx context.Context, id string) (ledger.Order, bool, error) {
	o := ledger.Order{ID: id}
	var status string
	err := s.conn().QueryRowContext(ctx, `
		SELECT customer_id, points_awarded, processed_seq, status FROM orders WHERE id = ?
	`, id).Scan(&o.CustomerID, &o.PointsAwarded, &o.ProcessedSequence, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Order{}, false, nil
	}
	if err != nil {
		return ledger.Order{}, false, fmt.Errorf("read order: %w", err)
	}
	o.Status = ledger.OrderStatus(status)
	return o, true, nil
}

// PutOrder upserts the order.
func (s *Store) PutOrder(ctx context.Context, o ledger.Order) error {
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, points_awarded, processed_seq, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			points_awarded = excluded.points_awarded,
			processed_seq = excluded.processed_seq,
			status = excluded.status
	`, o.ID, o.CustomerID, o.PointsAwarded, o.ProcessedSequence, string(o.Status))
	if err != nil {
		return fmt.Errorf("write order %s: %w", o.ID, err)
	}
	return nil
}

// Customers returns every customer ordered by id.
func (s *Store) Customers(ctx context.Context) ([]ledger.Customer, error) {
	ids, err := s.customerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	out := make([]ledger.Customer, 0, len(ids))
	for _, id := range ids {
		c, ok, err := readCustomer(ctx, s.conn(), id)
		if err != nil {
			return nil, fmt.Errorf("list customers: %w", err)
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) customerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.conn().QueryContext(ctx, `SELECT id FROM customers ORDER BY id ASC COLLATE BINARY`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Orders returns every order ordered by id.
func (s *Store) Orders(ctx context.Context) ([]ledger.Order, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, customer_id, points_awarded, processed_seq, status
		FROM orders ORDER BY id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []ledger.Order
	for rows.Next() {
		var o ledger.Order
		var status string
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.PointsAwarded, &o.ProcessedSequence, &status); err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		o.Status = ledger.OrderStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}
