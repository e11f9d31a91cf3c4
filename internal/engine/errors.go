package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/loyalty/internal/event"
)

// ErrNotFound is returned by queries for unknown or deleted customers.
var ErrNotFound = errors.New("customer not found")

// ContractError reports an event that violates the producer's contract.
//
// Contract errors include:
//   - Unknown customer: an order was placed for a customer that was never created
//   - Order already resolved: a second return or cancellation for one order
//
// Classification and buffering never produce contract errors; only handlers do.
type ContractError struct {
	// Code identifies the error category.
	Code ContractErrorCode

	// Message is a human-readable description.
	Message string

	// Kind and Sequence identify the offending event.
	Kind     event.Kind
	Sequence int64

	// Entity is the customer or order id involved.
	Entity string
}

// ContractErrorCode categorizes contract errors.
type ContractErrorCode string

const (
	// CodeUnknownCustomer indicates OrderPlaced for a customer that does not exist.
	CodeUnknownCustomer ContractErrorCode = "UNKNOWN_CUSTOMER"

	// CodeOrderAlreadyResolved indicates a return or cancellation for an order
	// that was already returned or canceled.
	CodeOrderAlreadyResolved ContractErrorCode = "ORDER_ALREADY_RESOLVED"
)

// Error implements the error interface.
func (e *ContractError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s (event=%s#%d, entity=%s)", e.Code, e.Message, e.Kind, e.Sequence, e.Entity)
	}
	return fmt.Sprintf("%s: %s (event=%s#%d)", e.Code, e.Message, e.Kind, e.Sequence)
}

func contractError(code ContractErrorCode, ev event.Event, entity, format string, args ...any) *ContractError {
	return &ContractError{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Kind:     ev.Kind,
		Sequence: ev.Sequence,
		Entity:   entity,
	}
}

// IsContractError returns true if err wraps a *ContractError.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

// IsUnknownCustomer returns true if the error is an unknown customer error.
// Uses errors.As to handle wrapped errors.
func IsUnknownCustomer(err error) bool {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Code == CodeUnknownCustomer
	}
	return false
}

// IsOrderAlreadyResolved returns true if the error is a double resolution.
// Uses errors.As to handle wrapped errors.
func IsOrderAlreadyResolved(err error) bool {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Code == CodeOrderAlreadyResolved
	}
	return false
}
