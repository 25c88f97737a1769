/*
errors.go - Centralized error types for the rateio engine

ERROR CATEGORIES:
  1. User-correctable - the entry set failed validation (ValidationFailedError)
  2. Precondition     - the calculator was called on unvalidated input
  3. Infrastructure   - generator missing, repository down, concurrent edit

Validation itself never returns an error: Validate produces a
ValidationResult. ValidationFailedError only appears when a submission is
rejected because of that result.

USAGE:
  id, err := builder.BuildAndSubmit(ctx, genID, rateio.ModePercentage, entries)
  var vf *rateio.ValidationFailedError
  switch {
  case errors.As(err, &vf):
      // re-prompt with vf.Issues
  case rateio.IsRetryable(err):
      // offer retry
  }

SEE ALSO:
  - validate.go: Issue codes
  - builder.go: Where infrastructure errors are produced
*/
package rateio

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
	// ErrValidationFailed is returned when submitted entries fail validation.
	ErrValidationFailed = errors.New("validation failed")

	// ErrPreconditionViolated is returned when the calculator receives input
	// that never passed validation. This is a programming error.
	ErrPreconditionViolated = errors.New("precondition violated")

	// ErrGeneratorNotFound is returned when the generator doesn't exist.
	ErrGeneratorNotFound = errors.New("generator not found")

	// ErrSubscriberNotFound is returned by admin stores for unknown subscribers.
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrRecordNotFound is returned by repositories for unknown record ids.
	ErrRecordNotFound = errors.New("allocation record not found")

	// ErrRepositoryUnavailable wraps storage failures. Retryable.
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	// ErrConcurrentGeneratorMutation is returned when the generator's expected
	// generation changed between the read and the snapshot.
	ErrConcurrentGeneratorMutation = errors.New("generator changed during submission")

	// ErrDuplicatePeriod is returned by repositories that enforce one record
	// per (generator, period).
	ErrDuplicatePeriod = errors.New("allocation record already exists for period")

	// ErrDraftClosed is returned when submitting a draft that already reached
	// a terminal success state.
	ErrDraftClosed = errors.New("draft already persisted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationFailedError carries the issues that blocked a submission.
type ValidationFailedError struct {
	Issues []Issue
}

func (e *ValidationFailedError) Error() string {
	codes := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		codes[i] = string(is.Code)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(codes, ", "))
}

func (e *ValidationFailedError) Unwrap() error { return ErrValidationFailed }

// PreconditionError explains which structural rule the calculator caught.
type PreconditionError struct {
	Mode   Mode
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition violated (%s): %s", e.Mode, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionViolated }

// RepositoryError wraps an underlying storage failure with the operation name.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() []error { return []error{ErrRepositoryUnavailable, e.Err} }

// GeneratorMutationError reports the snapshot and current expected generation.
type GeneratorMutationError struct {
	GeneratorID GeneratorID
	Snapshot    decimal.Decimal
	Current     decimal.Decimal
}

func (e *GeneratorMutationError) Error() string {
	return fmt.Sprintf("generator %s expected generation changed: %s kWh -> %s kWh",
		e.GeneratorID, e.Snapshot.StringFixed(Scale), e.Current.StringFixed(Scale))
}

func (e *GeneratorMutationError) Unwrap() error { return ErrConcurrentGeneratorMutation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRepositoryUnavailable)
}

// IsClientError returns true if the operator must correct the input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGeneratorNotFound) ||
		errors.Is(err, ErrSubscriberNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}

// IsConflict returns true if the submission needs re-confirmation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentGeneratorMutation) || errors.Is(err, ErrDuplicatePeriod)
}
