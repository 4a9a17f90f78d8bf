// Package xerrors provides the operation-error taxonomy used across the
// controller: a single error shape that carries what failed, which
// component it failed in, and what it was operating on, so log lines
// and metric labels can be derived from the error itself.
package xerrors

import (
	"fmt"
	"strings"
)

// OperationError is a structured error describing a failed operation.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Component != "" {
		b.WriteString(", component: ")
		b.WriteString(e.Component)
	}
	if e.Resource != "" {
		b.WriteString(", resource: ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(", cause: ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds a minimal OperationError with only operation and cause.
func FailedTo(action string, cause error) error {
	return &OperationError{Operation: action, Cause: cause}
}

// FailedToWithDetails builds a fully-populated OperationError.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{Operation: action, Component: component, Resource: resource, Cause: cause}
}

// Wrapf wraps err with additional context, returning nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

// KubernetesError describes a failed Kubernetes API call.
func KubernetesError(action, resource string, cause error) error {
	return FailedToWithDetails(action, "kubernetes", resource, cause)
}

// StorageError describes a failed workflow storage operation.
func StorageError(action string, cause error) error {
	return FailedToWithDetails(action, "storage", "", cause)
}

// NetworkError describes a failed network call to a named endpoint.
func NetworkError(action, endpoint string, cause error) error {
	return FailedToWithDetails(action, "network", endpoint, cause)
}

// ValidationError describes an invalid field value.
func ValidationError(field, reason string) error {
	return fmt.Errorf("validation failed for field %s: %s", field, reason)
}

// ConfigurationError describes an invalid configuration setting.
func ConfigurationError(setting, reason string) error {
	return fmt.Errorf("configuration error for setting %s: %s", setting, reason)
}

// TimeoutError describes an operation that exceeded its deadline.
func TimeoutError(action, after string) error {
	return fmt.Errorf("timeout while %s after %s", action, after)
}

// ParseError describes a failed parse of a named resource as a named format.
func ParseError(resource, format string, cause error) error {
	return FailedToWithDetails(fmt.Sprintf("parse %s as %s", resource, format), "parser", resource, cause)
}

// IsRetryable classifies an error as transient based on common substrings
// seen in Kubernetes client and network errors. It errs toward false: an
// error not recognized as transient is treated as permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"timeout", "timed out", "connection refused", "connection reset", "service unavailable", "too many requests", "temporary failure", "eof"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// Chain joins non-nil errors into a single error, or returns nil if none
// are non-nil.
func Chain(errs ...error) error {
	var nonNil []string
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err.Error())
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s", nonNil[0])
	default:
		return fmt.Errorf("multiple errors: %s", strings.Join(nonNil, "; "))
	}
}
