// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/montracker/pkg/graph"
	"github.com/dukex/montracker/pkg/models"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnknownModelType  = errors.New("unknown model type")
	ErrUnknownPersonType = errors.New("unknown person type")
	ErrInvalidWeight     = errors.New("weight must be a positive integer")
	ErrIncompleteData    = errors.New("analysis is missing data required to start")

	// Business Logic Conflicts (409 Conflict).
	ErrStateConflict = errors.New("analysis is not in draft")

	// Programmer errors (500).
	ErrDraftModel = errors.New("draft model has no remote result to merge")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownModelType) ||
		errors.Is(err, ErrUnknownPersonType) ||
		errors.Is(err, ErrInvalidWeight) ||
		errors.Is(err, graph.ErrUnknownModelType)
}

// IsIncompleteData checks if an analysis cannot start until the user supplies more data.
func IsIncompleteData(err error) bool {
	return errors.Is(err, ErrIncompleteData)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrStateConflict)
}

// IsInternalError checks if an error is a broken invariant or a programming mistake.
func IsInternalError(err error) bool {
	return errors.Is(err, graph.ErrInvariantViolation) ||
		errors.Is(err, graph.ErrInvalidEdge) ||
		errors.Is(err, ErrDraftModel)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func conflict(op string, status models.ModelStatus) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "STATE_CONFLICT",
		Message: fmt.Sprintf("analysis status is %s", status),
		Err:     ErrStateConflict,
	}
}
