package models

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestClassifyErrorReason(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, ReasonUnknown},
		{context.Canceled, ReasonAbort},
		{context.DeadlineExceeded, ReasonTimeout},
		{errors.New("rate limit exceeded"), ReasonRateLimit},
		{errors.New("429 too many requests"), ReasonRateLimit},
		{errors.New("unauthorized"), ReasonAuthError},
		{errors.New("invalid api key"), ReasonAuthError},
		{errors.New("billing quota exceeded"), ReasonBilling},
		{errors.New("payment required 402"), ReasonBilling},
		{errors.New("model not found"), ReasonUnavailable},
		{errors.New("content_filter triggered"), ReasonContentBlock},
		{errors.New("internal server error"), ReasonServerError},
		{errors.New("bad gateway 502"), ReasonServerError},
		{errors.New("invalid request"), ReasonInvalid},
		{errors.New("connection timeout"), ReasonTimeout},
		{errors.New("user abort"), ReasonAbort},
		{errors.New("random error"), ReasonUnknown},
	}

	for _, tt := range tests {
		result := classifyErrorReason(tt.err)
		if result != tt.expected {
			errStr := "nil"
			if tt.err != nil {
				errStr = tt.err.Error()
			}
			t.Errorf("classifyErrorReason(%q) = %q, want %q", errStr, result, tt.expected)
		}
	}
}

func TestCoerceToFailoverError(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		result := CoerceToFailoverError(nil, "provider", "model")
		if result != nil {
			t.Error("expected nil for nil error")
		}
	})

	t.Run("regular error", func(t *testing.T) {
		err := errors.New("rate limit exceeded")
		result := CoerceToFailoverError(err, "anthropic", "claude-3")

		if result.Provider != "anthropic" {
			t.Errorf("Provider = %q, want %q", result.Provider, "anthropic")
		}
		if result.Model != "claude-3" {
			t.Errorf("Model = %q, want %q", result.Model, "claude-3")
		}
		if result.Reason != ReasonRateLimit {
			t.Errorf("Reason = %q, want %q", result.Reason, ReasonRateLimit)
		}
	})

	t.Run("existing FailoverError preserves reason and status", func(t *testing.T) {
		existing := &FailoverError{
			Err:    errors.New("test"),
			Reason: ReasonTimeout,
			Status: 504,
		}
		result := CoerceToFailoverError(existing, "anthropic", "claude-3")

		if result.Provider != "anthropic" {
			t.Errorf("Provider = %q, want %q", result.Provider, "anthropic")
		}
		if result.Reason != ReasonTimeout {
			t.Errorf("Reason should be preserved: got %q, want %q", result.Reason, ReasonTimeout)
		}
		if result.Status != 504 {
			t.Errorf("Status should be preserved: got %d, want %d", result.Status, 504)
		}
	})

	t.Run("existing FailoverError keeps its own provider/model", func(t *testing.T) {
		existing := &FailoverError{Err: errors.New("test"), Provider: "openai", Model: "gpt-4", Reason: ReasonAuthError}
		result := CoerceToFailoverError(existing, "anthropic", "claude-3")

		if result.Provider != "openai" || result.Model != "gpt-4" {
			t.Errorf("expected existing provider/model preserved, got %s/%s", result.Provider, result.Model)
		}
	})
}

func TestFailoverErrorError(t *testing.T) {
	err := &FailoverError{
		Err:      errors.New("connection failed"),
		Provider: "anthropic",
		Model:    "claude-3",
		Reason:   ReasonTimeout,
		Status:   504,
		Code:     "gateway_timeout",
	}

	errStr := err.Error()

	for _, want := range []string{"[timeout]", "anthropic", "model=claude-3", "status=504", "code=gateway_timeout", "connection failed"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("Error() = %q, want it to contain %q", errStr, want)
		}
	}
}

func TestFailoverErrorUnwrap(t *testing.T) {
	cause := errors.New("original error")
	err := &FailoverError{Err: cause, Reason: ReasonTimeout}

	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find cause")
	}
}
