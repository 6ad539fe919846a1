// Package domain defines core types, interfaces, and errors for the extraction engine.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// Stage phases reported by StageError.
const (
	PhaseCompiling = "compiling"
	PhaseExecuting = "executing"
	PhaseCounting  = "counting"
	PhaseCleaning  = "cleaning"
)

// StageError reports a failure of one pipeline stage, with the format it ran for.
type StageError struct {
	Format  string
	Version string
	Sheet   string
	Phase   string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s v%s: stage %s (%s): %v", e.Format, e.Version, e.Sheet, e.Phase, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
