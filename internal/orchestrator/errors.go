package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress means a run for the same change set and revision is
	// already active.
	ErrRunInProgress = errors.New("review run already in progress")
	// ErrSuperseded cancels a run when a newer revision arrives.
	ErrSuperseded = errors.New("superseded by a newer revision")
	// ErrClosed cancels a run when its change set is closed.
	ErrClosed = errors.New("change set closed")
)

// Severity classifies a ReviewError.
type Severity string

const (
	// SeverityCritical fails the run.
	SeverityCritical Severity = "critical"
	// SeverityHigh is recorded in the receipt; the run continues.
	SeverityHigh Severity = "high"
	// SeverityLow is logged only.
	SeverityLow Severity = "low"
)

// ReviewError is a structured failure of one operation inside a run.
type ReviewError struct {
	Operation string
	Severity  Severity
	Err       error
	Context   string
}

func (e *ReviewError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As on the underlying error.
func (e *ReviewError) Unwrap() error {
	return e.Err
}

// NewReviewError creates a ReviewError.
func NewReviewError(operation string, severity Severity, err error, context string) *ReviewError {
	return &ReviewError{Operation: operation, Severity: severity, Err: err, Context: context}
}
