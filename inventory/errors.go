/*
errors.go - Error taxonomy for the stock ledger

PURPOSE:
  Every failure the engine raises is either a sentinel or a structured error
  that unwraps to one, so callers branch with errors.Is / errors.As and still
  get the offending field and the limit quantities needed for display.

ERROR CATEGORIES:
  1. Validation    - bad input (quantity, price, kind, event association)
  2. Stock         - insufficient stock or valuation, over-return
  3. Confirmation  - soft failure, retry with the listed approvals
  4. Lifecycle     - not found, conflicts, protected deletes, completed events

SEE ALSO:
  - api/errors.go: maps these to HTTP status codes
*/
package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrMissingPrice       = errors.New("missing unit price")
	ErrInvalidPrice       = errors.New("invalid unit price")
	ErrInvalidKind        = errors.New("invalid transaction kind")
	ErrInvalidAssociation = errors.New("invalid event association")

	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientValue is returned when a decreasing movement priced by
	// the caller would take the item's valuation below zero.
	ErrInsufficientValue = errors.New("insufficient stock value")

	ErrExceedsAllocation = errors.New("return exceeds allocation")

	// ErrConfirmationRequired is a soft failure. The caller may retry the
	// same operation with the listed confirmations approved.
	ErrConfirmationRequired = errors.New("confirmation required")

	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrProtected is returned when a deletion guard rejects the delete.
	ErrProtected = errors.New("protected")

	ErrEventCompleted        = errors.New("event is completed")
	ErrOutstandingAllocation = errors.New("event has outstanding allocations")
	ErrBelowAllocated        = errors.New("requested quantity below allocated quantity")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Err: err}
}

type InsufficientStockError struct {
	ItemID    ItemID
	ItemName  string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d",
		e.ItemName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type InsufficientValueError struct {
	ItemID    ItemID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientValueError) Error() string {
	return fmt.Sprintf("insufficient stock value: available %s, requested %s",
		e.Available.StringFixed(PriceScale), e.Requested.StringFixed(PriceScale))
}

func (e *InsufficientValueError) Unwrap() error {
	return ErrInsufficientValue
}

// ExceedsAllocationError reports the exact quantity still returnable for
// the (item, event) pair.
type ExceedsAllocationError struct {
	ItemID    ItemID
	EventID   EventID
	Available int64
	Requested int64
}

func (e *ExceedsAllocationError) Error() string {
	return fmt.Sprintf("return of %d exceeds net allocation: only %d can be returned",
		e.Requested, e.Available)
}

func (e *ExceedsAllocationError) Unwrap() error {
	return ErrExceedsAllocation
}

type ConfirmationRequiredError struct {
	Confirmations []Confirmation
}

func (e *ConfirmationRequiredError) Error() string {
	msgs := make([]string, len(e.Confirmations))
	for i, c := range e.Confirmations {
		msgs[i] = c.Message
	}
	return fmt.Sprintf("confirmation required: %s", strings.Join(msgs, "; "))
}

func (e *ConfirmationRequiredError) Unwrap() error {
	return ErrConfirmationRequired
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ProtectedError lists what blocks a deletion.
type ProtectedError struct {
	Resource string
	ID       string
	Reason   string
	Blockers []string
}

func (e *ProtectedError) Error() string {
	if len(e.Blockers) == 0 {
		return fmt.Sprintf("cannot delete %s %s: %s", e.Resource, e.ID, e.Reason)
	}
	return fmt.Sprintf("cannot delete %s %s: %s (%s)",
		e.Resource, e.ID, e.Reason, strings.Join(e.Blockers, ", "))
}

func (e *ProtectedError) Unwrap() error {
	return ErrProtected
}

type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Resource, e.Message)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// OutstandingAllocationError lists the items still held by an event.
type OutstandingAllocationError struct {
	EventID EventID
	Items   []string
}

func (e *OutstandingAllocationError) Error() string {
	return fmt.Sprintf("event still holds stock of: %s", strings.Join(e.Items, ", "))
}

func (e *OutstandingAllocationError) Unwrap() error {
	return ErrOutstandingAllocation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// FieldOf returns the input field an error refers to, or "".
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	switch {
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrExceedsAllocation):
		return "quantity"
	case errors.Is(err, ErrInsufficientValue):
		return "unit_price"
	}
	return ""
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrMissingPrice) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidAssociation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientValue) ||
		errors.Is(err, ErrExceedsAllocation) ||
		errors.Is(err, ErrBelowAllocated)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConfirmationRequired(err error) bool {
	return errors.Is(err, ErrConfirmationRequired)
}
