/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place so callers (and the HTTP layer) can map
  failures to a well-defined, inspectable state.

ERROR CATEGORIES:
  1. Validation   - bad input, raised before any ledger mutation
  2. Not found    - update/delete of an id that does not exist
  3. Consistency  - a revert-then-reapply sequence failed and was rolled back
  4. Concurrency  - optimistic version mismatch, retry the whole operation

USAGE:
  if errors.Is(err, engine.ErrNotFound) { ... }

  var verr *engine.ValidationError
  if errors.As(err, &verr) { fmt.Println(verr.Field) }

SEE ALSO:
  - store.go: Stores return NotFoundError, ErrDuplicateEntry, ErrConcurrencyConflict
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConsistency is returned when a multi-step mutation was rejected in full.
	ErrConsistency = errors.New("consistency error")

	// ErrConcurrencyConflict is returned when a row changed under an optimistic
	// transaction. The caller should retry the whole operation.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrInsufficientStock is returned when negative stock is disallowed.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDuplicateEntry is returned when a unique constraint is violated.
	ErrDuplicateEntry = errors.New("duplicate entry")

	// errLockSetChanged aborts an attempt whose committed state needs a key
	// that was not locked. Never surfaces to callers.
	errLockSetChanged = errors.New("lock set changed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing row.
type NotFoundError struct {
	Kind string // "item", "customer", "order", "purchase", "transaction"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConsistencyError wraps the cause of a rejected revert-then-reapply sequence.
// Nothing it touched was committed.
type ConsistencyError struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s %s %s rejected: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *ConsistencyError) Unwrap() []error {
	return []error{ErrConsistency, e.Err}
}

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ItemID    string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// consistencyError wraps store/infrastructure failures of update and delete
// operations. Errors that already describe a well-defined outcome pass through.
func consistencyError(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrConsistency) {
		return err
	}
	return &ConsistencyError{Op: op, Entity: entity, ID: id, Err: err}
}
