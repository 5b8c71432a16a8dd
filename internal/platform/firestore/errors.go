package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind uint8

const (
	kindUnknown errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error categorises a Firestore failure for the service layer.
type Error struct {
	Op   string
	kind errorKind
	err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("firestore %s: %v", e.Op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict covers both existing documents and stale order versions.
func (e *Error) IsConflict() bool { return e != nil && e.kind == kindConflict }

func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

func kindOf(code codes.Code) errorKind {
	switch code {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return kindUnavailable
	default:
		return kindUnknown
	}
}

// WrapError attaches op and a category to err. Cancellation surfaces as the plain context error
// so handlers can tell a client disconnect from a backend fault.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	if code == codes.Canceled {
		return context.Canceled
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{Op: op, kind: kindOf(code), err: err}
}

// NotFound reports a missing or soft-deleted document.
func NotFound(op, message string) error {
	return &Error{Op: op, kind: kindNotFound, err: errors.New(message)}
}

// Conflict reports a failed optimistic version check.
func Conflict(op, message string) error {
	return &Error{Op: op, kind: kindConflict, err: errors.New(message)}
}
