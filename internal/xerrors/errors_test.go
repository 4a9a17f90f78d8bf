package xerrors

import (
	"fmt"
	"strings"
	"testing"
)

func TestOperationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *OperationError
		expected string
	}{
		{
			name: "full error",
			err: &OperationError{
				Operation: "patch deployment",
				Component: "kubernetes",
				Resource:  "team-a/app",
				Cause:     fmt.Errorf("connection timeout"),
			},
			expected: "failed to patch deployment, component: kubernetes, resource: team-a/app, cause: connection timeout",
		},
		{
			name: "minimal error",
			err: &OperationError{
				Operation: "parse suppression",
				Cause:     fmt.Errorf("invalid rfc3339"),
			},
			expected: "failed to parse suppression, cause: invalid rfc3339",
		},
		{
			name: "no cause",
			err: &OperationError{
				Operation: "validate spec",
				Component: "validator",
			},
			expected: "failed to validate spec, component: validator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("OperationError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOperationErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &OperationError{Operation: "test", Cause: cause}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	errNoCause := &OperationError{Operation: "test"}
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("Unwrap() with no cause = %v, want nil", unwrapped)
	}
}

func TestFailedTo(t *testing.T) {
	err := FailedTo("connect to apiserver", fmt.Errorf("connection refused"))
	want := "failed to connect to apiserver: connection refused"
	if err.Error() != want {
		t.Errorf("FailedTo() = %q, want %q", err.Error(), want)
	}
}

func TestFailedToWithDetails(t *testing.T) {
	cause := fmt.Errorf("timeout")
	err := FailedToWithDetails("get deployment", "kubernetes", "team-a/app", cause)

	opErr, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("FailedToWithDetails() should return *OperationError, got %T", err)
	}
	if opErr.Operation != "get deployment" {
		t.Errorf("Operation = %q", opErr.Operation)
	}
	if opErr.Cause != cause {
		t.Errorf("Cause = %v, want %v", opErr.Cause, cause)
	}
}

func TestWrapf(t *testing.T) {
	original := fmt.Errorf("original error")
	result := Wrapf(original, "additional context: %s", "test")
	want := "additional context: test: original error"
	if result.Error() != want {
		t.Errorf("Wrapf() = %q, want %q", result.Error(), want)
	}

	if Wrapf(nil, "should not wrap") != nil {
		t.Error("Wrapf(nil, ...) should return nil")
	}
}

func TestKubernetesError(t *testing.T) {
	err := KubernetesError("patch", "team-a/app", fmt.Errorf("conflict"))
	if !strings.Contains(err.Error(), "kubernetes") {
		t.Errorf("KubernetesError should contain component, got %q", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("max_in_flight", "must be greater than 0")
	want := "validation failed for field max_in_flight: must be greater than 0"
	if err.Error() != want {
		t.Errorf("ValidationError() = %q, want %q", err.Error(), want)
	}
}

func TestConfigurationError(t *testing.T) {
	err := ConfigurationError("kubernetes.namespace", "value is required")
	want := "configuration error for setting kubernetes.namespace: value is required"
	if err.Error() != want {
		t.Errorf("ConfigurationError() = %q, want %q", err.Error(), want)
	}
}

func TestTimeoutError(t *testing.T) {
	err := TimeoutError("waiting for deployment readiness", "90s")
	want := "timeout while waiting for deployment readiness after 90s"
	if err.Error() != want {
		t.Errorf("TimeoutError() = %q, want %q", err.Error(), want)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"timeout", fmt.Errorf("request timeout"), true},
		{"connection refused", fmt.Errorf("dial tcp: connection refused"), true},
		{"service unavailable", fmt.Errorf("503 service unavailable"), true},
		{"permanent", fmt.Errorf("invalid image reference"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestChain(t *testing.T) {
	tests := []struct {
		name     string
		errors   []error
		expected string
		isNil    bool
	}{
		{name: "no errors", errors: []error{nil, nil}, isNil: true},
		{name: "single error", errors: []error{fmt.Errorf("single error"), nil}, expected: "single error"},
		{
			name:     "multiple errors",
			errors:   []error{fmt.Errorf("error 1"), fmt.Errorf("error 2"), nil, fmt.Errorf("error 3")},
			expected: "multiple errors: error 1; error 2; error 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Chain(tt.errors...)
			if tt.isNil {
				if result != nil {
					t.Errorf("Chain() = %v, want nil", result)
				}
				return
			}
			if result.Error() != tt.expected {
				t.Errorf("Chain() = %q, want %q", result.Error(), tt.expected)
			}
		})
	}
}
