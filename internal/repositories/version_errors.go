package repositories

import (
	"fmt"
	"strings"
)

// VersionErrorCode enumerates failure reasons for cache version operations.
type VersionErrorCode string

const (
	// VersionErrorUnknown represents an unspecified failure.
	VersionErrorUnknown VersionErrorCode = "version_unknown"
	// VersionErrorInvalidNamespace indicates the caller supplied an empty or malformed namespace.
	VersionErrorInvalidNamespace VersionErrorCode = "version_invalid_namespace"
	// VersionErrorUnavailable indicates the backing store could not be reached.
	VersionErrorUnavailable VersionErrorCode = "version_unavailable"
)

// VersionError wraps cache version failures with machine readable codes.
type VersionError struct {
	Op      string
	Code    VersionErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *VersionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewVersionError constructs a typed version error.
func NewVersionError(op string, code VersionErrorCode, message string, err error) *VersionError {
	if message == "" {
		message = string(code)
	}
	return &VersionError{Op: op, Code: code, Message: message, Err: err}
}

// ValidateNamespace trims and checks a cache namespace.
func ValidateNamespace(op, namespace string) (string, error) {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		return "", NewVersionError(op, VersionErrorInvalidNamespace, "namespace is required", nil)
	}
	if strings.ContainsAny(ns, " /\t\n") {
		return "", NewVersionError(op, VersionErrorInvalidNamespace, fmt.Sprintf("namespace %q contains invalid characters", ns), nil)
	}
	return ns, nil
}
