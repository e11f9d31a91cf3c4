package ledger

import "errors"

var (
	// ErrInsufficientPoints is returned by Consume when the request exceeds
	// the customer's available (non-expired) balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInvalidPoints is returned when a consumption request is not a
	// positive number of points.
	ErrInvalidPoints = errors.New("points must be positive")
)
