package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel kinds. Every structured error below unwraps to one of these so
// callers can classify with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidState           = errors.New("invalid state")
	ErrInvariantViolation     = errors.New("invariant violation")
	ErrLockTimeout            = errors.New("lock timeout")
	ErrPartialApply           = errors.New("partial apply")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

type ValidationError struct {
	Field    string
	EntityID string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("invalid %s (%s): %s", e.Field, e.EntityID, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(field, entityID, reason string) *ValidationError {
	return &ValidationError{Field: field, EntityID: entityID, Reason: reason}
}

// InvalidStateError is returned when a purchase order is not in a status that
// allows the requested operation.
type InvalidStateError struct {
	PurchaseOrderID string
	Status          string
	Operation       string
	// Detail names a blocker other than the status, such as stock that was
	// already received against the order.
	Detail string
}

func (e *InvalidStateError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("purchase order %s cannot be %s: %s", e.PurchaseOrderID, e.Operation, e.Detail)
	}
	return fmt.Sprintf("purchase order %s cannot be %s: status is %s", e.PurchaseOrderID, e.Operation, e.Status)
}

// ReceivedStockDetail is the InvalidStateError detail used when ledger
// entries already reference an order.
func ReceivedStockDetail(entries int) string {
	return fmt.Sprintf("stock already received for %d line(s)", entries)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

type InvariantViolation struct {
	IngredientID string
	Stock        int64
	DeltaQty     int64
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("stock for ingredient %s would become negative: %d %+d", e.IngredientID, e.Stock, e.DeltaQty)
}

func (e *InvariantViolation) Unwrap() error {
	return ErrInvariantViolation
}

type LockTimeoutError struct {
	IngredientID string
	Wait         time.Duration
}

func (e *LockTimeoutError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("timed out after %s waiting for ingredient lock %s", e.Wait, e.IngredientID)
	}
	return fmt.Sprintf("timed out waiting for ingredient lock %s", e.IngredientID)
}

func (e *LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

// PartialApplyError reports a completion that stopped before every line was
// written. Pending lists the line ids that still need to be applied; calling
// complete again resumes from there.
type PartialApplyError struct {
	PurchaseOrderID string
	Applied         []string
	Pending         []string
	FailedLineID    string
	Cause           error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("purchase order %s partially applied (%d pending: %s): %v",
		e.PurchaseOrderID, len(e.Pending), strings.Join(e.Pending, ","), e.Cause)
}

// Unwrap exposes both the partial-apply kind and the underlying cause.
func (e *PartialApplyError) Unwrap() []error {
	return []error{ErrPartialApply, e.Cause}
}

// Retryable reports whether calling complete again can succeed without
// operator intervention.
func (e *PartialApplyError) Retryable() bool {
	return !IsClientError(e.Cause)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var partial *PartialApplyError
	if errors.As(err, &partial) {
		return partial.Retryable()
	}
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsClientError returns true if the error is due to input or state the caller
// has to correct.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvariantViolation)
}
