// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrActionNotFound indicates an action was not found or is deleted.
	ErrActionNotFound = errors.New("action not found")

	// ErrAnalysisNotFound indicates an analysis was not found or is deleted.
	ErrAnalysisNotFound = errors.New("analysis not found")

	// ErrModelNotFound indicates a model was not found.
	ErrModelNotFound = errors.New("model not found")

	// ErrWeightNotFound indicates a model weight was not found.
	ErrWeightNotFound = errors.New("model weight not found")

	// ErrProfileNotFound indicates a profile was not found.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrDuplicateProfile indicates a second profile for the same person type.
	ErrDuplicateProfile = errors.New("profile already exists for person type")

	// ErrDuplicateModel indicates a second model of the same type in one analysis.
	ErrDuplicateModel = errors.New("model already exists for model type")
)

// EntityError wraps persistence errors with the operation and entity involved.
type EntityError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Delete")
	Entity string // Entity kind, e.g. "analysis"
	ID     int64  // Entity ID if applicable
	Err    error  // Underlying error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %d: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entity string, id int64, err error) *EntityError {
	return &EntityError{
		Op:     op,
		Entity: entity,
		ID:     id,
		Err:    err,
	}
}

// IsActionNotFound checks if an error indicates an action was not found.
func IsActionNotFound(err error) bool {
	return errors.Is(err, ErrActionNotFound)
}

// IsAnalysisNotFound checks if an error indicates an analysis was not found.
func IsAnalysisNotFound(err error) bool {
	return errors.Is(err, ErrAnalysisNotFound)
}

// IsModelNotFound checks if an error indicates a model was not found.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return IsActionNotFound(err) ||
		IsAnalysisNotFound(err) ||
		IsModelNotFound(err) ||
		errors.Is(err, ErrWeightNotFound) ||
		errors.Is(err, ErrProfileNotFound)
}

// IsConflict checks if an error indicates a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateProfile) || errors.Is(err, ErrDuplicateModel)
}
