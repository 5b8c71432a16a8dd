package services

import (
	"errors"
	"fmt"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

var (
	// ErrValidation signals the caller provided malformed input.
	ErrValidation = errors.New("order: validation failed")
	// ErrNotFound indicates a referenced order, item, service or catalog entry does not exist.
	ErrNotFound = errors.New("order: not found")
	// ErrInvalidState indicates the order status does not allow the operation.
	ErrInvalidState = errors.New("order: invalid status transition")
	// ErrConcurrency indicates another writer changed the order first.
	ErrConcurrency = errors.New("order: concurrent modification")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalidInput(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrNotFound, e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// InvalidStateError carries the current and attempted status for diagnostics.
type InvalidStateError struct {
	Operation string
	Current   OrderStatus
	Attempted OrderStatus
}

func (e *InvalidStateError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s not allowed while %s (attempted %s)", ErrInvalidState, e.Operation, e.Current, e.Attempted)
	}
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidState, e.Current, e.Attempted)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ConcurrencyError reports a lost optimistic-lock race.
type ConcurrencyError struct {
	OrderID string
	Err     error
}

func (e *ConcurrencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: order %q: %v", ErrConcurrency, e.OrderID, e.Err)
	}
	return fmt.Sprintf("%s: order %q", ErrConcurrency, e.OrderID)
}

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

func (e *ConcurrencyError) Unwrap() error { return e.Err }

// checkTransition routes every status change through the transition table.
func checkTransition(current, target OrderStatus) error {
	if !current.CanTransitionTo(target) {
		return &InvalidStateError{Current: current, Attempted: target}
	}
	return nil
}

func requireStatus(operation string, order domain.Order, target OrderStatus, allowed ...OrderStatus) error {
	for _, status := range allowed {
		if order.Status == status {
			return nil
		}
	}
	return &InvalidStateError{Operation: operation, Current: order.Status, Attempted: target}
}

// mapRepositoryError translates persistence failures while leaving service errors untouched.
func mapRepositoryError(err error, resource, id string) error {
	if err == nil {
		return nil
	}

	var (
		validation *ValidationError
		notFound   *NotFoundError
		state      *InvalidStateError
		conflict   *ConcurrencyError
	)
	if errors.As(err, &validation) || errors.As(err, &notFound) || errors.As(err, &state) || errors.As(err, &conflict) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return &NotFoundError{Resource: resource, ID: id, Err: err}
		case repoErr.IsConflict():
			return &ConcurrencyError{OrderID: id, Err: err}
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}
