// Package shared contains common domain types and errors that are used across
// all domain packages. This package has zero external dependencies.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidInput = errors.New("invalid input")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "segmentation", "clustering"
	Op      string // Operation that failed, e.g., "Extract", "Persist"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Wrap returns a copy of a predefined domain error carrying err as its cause.
// errors.Is still matches the original predefined error.
func (e *DomainError) Wrap(err error) *DomainError {
	return WrapError(e.Domain, e.Op, e.Kind, e.Message, err)
}

// Segmentation domain errors
var (
	ErrNoData              = NewDomainError("segmentation", "Extract", ErrNotFound, "no students to cluster")
	ErrInsufficientSamples = NewDomainError("segmentation", "Cluster", ErrValidation, "not enough students for the requested cluster count")
	ErrInvalidFeatures     = NewDomainError("segmentation", "Normalize", ErrInvalidInput, "feature matrix is malformed")
	ErrAssignmentMismatch  = NewDomainError("segmentation", "Label", ErrInvalidInput, "cluster assignments do not match student records")
	ErrSourceUnavailable   = NewDomainError("segmentation", "Fetch", ErrServiceUnavailable, "student data source is unavailable")
	ErrSinkFailure         = NewDomainError("segmentation", "Persist", ErrExternalService, "failed to persist clustering results")
	ErrRunInProgress       = NewDomainError("segmentation", "Run", ErrConcurrentModification, "a clustering run is already in progress")
	ErrReportNotFound      = NewDomainError("segmentation", "FindReport", ErrNotFound, "no clustering report available")
)

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidInput)
}

// ErrorKind returns a short stable name for err, suitable for logs, events
// and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrInsufficientSamples):
		return "insufficient_samples"
	case errors.Is(err, ErrInvalidFeatures), errors.Is(err, ErrAssignmentMismatch):
		return "invalid_features"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrSinkFailure):
		return "sink_failure"
	case errors.Is(err, ErrRunInProgress):
		return "run_in_progress"
	case errors.Is(err, ErrReportNotFound):
		return "report_not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

// Chain returns the messages of err and each wrapped cause, outermost first.
// Joined errors are followed along their first branch only.
func Chain(err error) []string {
	var out []string
	for err != nil {
		out = append(out, err.Error())
		next := errors.Unwrap(err)
		if next == nil {
			if joined, ok := err.(interface{ Unwrap() []error }); ok {
				if errs := joined.Unwrap(); len(errs) > 0 {
					next = errs[0]
				}
			}
		}
		err = next
	}
	return out
}
