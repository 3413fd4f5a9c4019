package datakit

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("datakit: entity not found")

	// ErrNotSingular is returned when a lookup that expects exactly one result
	// returns zero or multiple results.
	ErrNotSingular = errors.New("datakit: entity not singular")

	// ErrConcurrency is returned when a save lost an optimistic concurrency
	// check and the conflict was not resolved.
	ErrConcurrency = errors.New("datakit: concurrency conflict")

	// ErrValidation is returned when tracked entities fail validation.
	ErrValidation = errors.New("datakit: validation failed")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("datakit: cannot start a transaction within a transaction")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("datakit: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("datakit: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a lookup expects a singular result
// but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int // Number of results returned (-1 if unknown)
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("datakit: %s not singular (got %d results, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("datakit: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Label returns the entity label.
func (e *NotSingularError) Label() string {
	return e.label
}

// Count returns the number of results, or -1 if unknown.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError for the given entity type.
func NewNotSingularError(label string) *NotSingularError {
	return &NotSingularError{label: label, count: -1}
}

// NewNotSingularErrorWithCount returns a new NotSingularError with the result count.
func NewNotSingularErrorWithCount(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// FieldError is a validation failure of one property.
type FieldError struct {
	Entity string // Entity type name, filled in by the session
	Field  string // Go field name, empty for entity-level failures
	Err    error
}

// Error returns the error string.
func (e *FieldError) Error() string {
	switch {
	case e.Entity != "" && e.Field != "":
		return fmt.Sprintf("%s.%s: %v", e.Entity, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	case e.Entity != "":
		return fmt.Sprintf("%s: %v", e.Entity, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewFieldError returns a FieldError for the given field.
func NewFieldError(field string, err error) *FieldError {
	return &FieldError{Field: field, Err: err}
}

// ValidationError lists every property that failed validation during a save.
type ValidationError struct {
	Errors []*FieldError
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("datakit: validation failed: %s", e.Errors[0])
	}
	var sb strings.Builder
	sb.WriteString("datakit: validation failed:")
	for _, fe := range e.Errors {
		fmt.Fprintf(&sb, "\n  - %s", fe)
	}
	return sb.String()
}

// Is reports whether the target error matches ValidationError.
func (e *ValidationError) Is(err error) bool {
	return err == ErrValidation
}

// Unwrap returns the field errors.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		errs[i] = fe
	}
	return errs
}

// Fields returns the names of the failing fields.
func (e *ValidationError) Fields() []string {
	names := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		names = append(names, fe.Field)
	}
	return names
}

// NewValidationError returns a new ValidationError for the given field.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Errors: []*FieldError{NewFieldError(field, err)}}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// ConcurrencyError is returned when an update or delete matched no row
// because another writer changed or deleted it since it was loaded.
type ConcurrencyError struct {
	Entity  string // Entity type name
	Key     any    // Primary key value
	Deleted bool   // The row no longer exists
	Err     error  // Optional underlying error
}

// Error returns the error string.
func (e *ConcurrencyError) Error() string {
	var msg string
	if e.Deleted {
		msg = fmt.Sprintf("datakit: %s (key=%v) was deleted by another writer", e.Entity, e.Key)
	} else {
		msg = fmt.Sprintf("datakit: %s (key=%v) was modified by another writer", e.Entity, e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether the target error matches ConcurrencyError.
func (e *ConcurrencyError) Is(err error) bool {
	return err == ErrConcurrency
}

// Unwrap returns the underlying error.
func (e *ConcurrencyError) Unwrap() error {
	return e.Err
}

// IsConcurrencyError returns true if the error is a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConcurrencyError
	return errors.As(err, &e) || errors.Is(err, ErrConcurrency)
}

// UpdateError wraps a database error raised while writing an entity.
type UpdateError struct {
	Entity string // Entity type being written
	Op     string // Operation ("insert", "update", "delete")
	Hint   string // Explanation for known database error codes
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *UpdateError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("datakit: %s %s: %v (%s)", e.Op, e.Entity, e.Err, e.Hint)
	}
	return fmt.Sprintf("datakit: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// NewUpdateError returns a new UpdateError.
func NewUpdateError(entity, op, hint string, err error) *UpdateError {
	return &UpdateError{Entity: entity, Op: op, Hint: hint, Err: err}
}

// IsUpdateError returns true if the error is an UpdateError.
func IsUpdateError(err error) bool {
	if err == nil {
		return false
	}
	var e *UpdateError
	return errors.As(err, &e)
}

// UnitOfWorkError wraps the failure of a unit of work commit and names the
// last context it attempted to save.
type UnitOfWorkError struct {
	Context string
	Err     error
}

// Error returns the error string.
func (e *UnitOfWorkError) Error() string {
	return fmt.Sprintf("datakit: unit of work failed at context %q: %v", e.Context, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnitOfWorkError) Unwrap() error {
	return e.Err
}

// IsUnitOfWorkError returns true if the error is a UnitOfWorkError.
func IsUnitOfWorkError(err error) bool {
	if err == nil {
		return false
	}
	var e *UnitOfWorkError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("datakit: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "datakit: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("datakit: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Entity string // Entity type being queried
	Op     string // Operation (e.g., "find", "select")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("datakit: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("datakit: querying %s: %v", e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}
