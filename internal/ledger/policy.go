package ledger

import (
	"fmt"
	"math"
	"slices"
	"time"
)

const (
	// DefaultThreshold is the order amount that earns one point.
	DefaultThreshold int64 = 50

	// DefaultExpiryMonths is how long an award stays spendable.
	DefaultExpiryMonths = 6
)

// Policy holds the award and expiry rules.
type Policy struct {
	Threshold    int64
	ExpiryMonths int
}

// DefaultPolicy returns one point per 50 spent, expiring after six months.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, ExpiryMonths: DefaultExpiryMonths}
}

// Validate checks that the policy can be applied.
func (p Policy) Validate() error {
	if p.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %d", p.Threshold)
	}
	if p.ExpiryMonths <= 0 {
		return fmt.Errorf("expiry months must be positive, got %d", p.ExpiryMonths)
	}
	return nil
}

// PointsEarned returns floor(amount / threshold).
// Negative, NaN and infinite amounts earn nothing.
func (p Policy) PointsEarned(amount float64) int64 {
	if p.Threshold <= 0 || amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	return int64(math.Floor(amount / float64(p.Threshold)))
}

// ExpiresAt returns the instant an award earned at earnedAt stops counting.
func (p Policy) ExpiresAt(earnedAt time.Time) time.Time {
	return earnedAt.AddDate(0, p.ExpiryMonths, 0)
}

// Expired reports whether r no longer counts as of asOf.
// A record expires exactly at ExpiresAt.
func (p Policy) Expired(r PointRecord, asOf time.Time) bool {
	return !p.ExpiresAt(r.EarnedAt).After(asOf)
}

// Available sums the points of records that have not expired as of asOf.
// It does not modify records.
func (p Policy) Available(records []PointRecord, asOf time.Time) int64 {
	var total int64
	for _, r := range records {
		if p.Expired(r, asOf) {
			continue
		}
		total += r.Points
	}
	return total
}

// Consume deducts n points oldest-first and returns the resulting records.
//
// The input slice is never modified. On ErrInsufficientPoints or
// ErrInvalidPoints the caller keeps its records as they were; on success it
// replaces them with the returned slice. Expired records are skipped and kept.
// Records that reach zero are dropped.
func (p Policy) Consume(records []PointRecord, n int64, asOf time.Time) ([]PointRecord, error) {
	if n <= 0 {
		return nil, ErrInvalidPoints
	}
	if available := p.Available(records, asOf); n > available {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientPoints, n, available)
	}

	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b PointRecord) int {
		return a.EarnedAt.Compare(b.EarnedAt)
	})

	remaining := n
	for i := range out {
		if remaining == 0 {
			break
		}
		if p.Expired(out[i], asOf) {
			continue
		}
		take := min(out[i].Points, remaining)
		out[i].Points -= take
		remaining -= take
	}

	return slices.DeleteFunc(out, func(r PointRecord) bool {
		return r.Points <= 0
	}), nil
}
