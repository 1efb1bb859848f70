package application

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn is returned when a mutation is attempted with no
	// active user.
	ErrNotLoggedIn = errors.New("application: not logged in")
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("application: not found")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// RemoteError wraps a failed remote operation. The in-memory and durable
// state have already been updated optimistically; the caller decides
// whether to retry or surface the failure.
type RemoteError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (r *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", r.Op, r.Err)
}

// Unwrap exposes the underlying cause.
func (r *RemoteError) Unwrap() error {
	return r.Err
}

// ConfigurationError reports an unusable manager configuration. It is
// returned from constructors only; once a manager exists its configuration
// is valid for its lifetime.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (c *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", c.Field, c.Message)
}
