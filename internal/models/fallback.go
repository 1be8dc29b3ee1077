package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FailoverError classifies a provider failure by Reason so callers can
// decide whether to retry, fall back to another model, or give up.
type FailoverError struct {
	Err      error
	Provider string
	Model    string
	Reason   string
	Status   int
	Code     string
}

func (e *FailoverError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))

	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}

	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, " ")
}

func (e *FailoverError) Unwrap() error {
	return e.Err
}

// Reason taxonomy for a FailoverError, surfaced to callers as the agent
// request runner's RetryReason.
const (
	ReasonRateLimit    = "rate_limit"
	ReasonAuthError    = "auth_error"
	ReasonTimeout      = "timeout"
	ReasonServerError  = "server_error"
	ReasonBilling      = "billing"
	ReasonUnavailable  = "model_unavailable"
	ReasonAbort        = "abort"
	ReasonInvalid      = "invalid_request"
	ReasonContentBlock = "content_blocked"
	ReasonUnknown      = "unknown"
)

// CoerceToFailoverError classifies err by content into a FailoverError,
// tagging it with provider/model for the caller's retry-reason reporting.
// If err already is a FailoverError, its provider/model are filled in only
// where unset, and the original Reason is preserved.
func CoerceToFailoverError(err error, provider, model string) *FailoverError {
	if err == nil {
		return nil
	}

	var existing *FailoverError
	if errors.As(err, &existing) {
		if existing.Provider == "" {
			existing.Provider = provider
		}
		if existing.Model == "" {
			existing.Model = model
		}
		return existing
	}

	return &FailoverError{
		Err:      err,
		Provider: provider,
		Model:    model,
		Reason:   classifyErrorReason(err),
	}
}

// classifyErrorReason determines a Reason from error content: context
// cancellation/deadlines are checked structurally, everything else by
// matching the error message against the same vocabulary providers use
// in their own error text.
func classifyErrorReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ReasonAbort
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "aborted") ||
		strings.Contains(errStr, "cancelled") ||
		strings.Contains(errStr, "user abort"):
		return ReasonAbort

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") ||
		strings.Contains(errStr, "etimedout"):
		return ReasonTimeout

	case strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429"):
		return ReasonRateLimit

	case strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403"):
		return ReasonAuthError

	case strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "insufficient") ||
		strings.Contains(errStr, "402"):
		return ReasonBilling

	case strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "model_not_found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "unavailable"):
		return ReasonUnavailable

	case strings.Contains(errStr, "content_filter") ||
		strings.Contains(errStr, "content policy") ||
		strings.Contains(errStr, "safety") ||
		strings.Contains(errStr, "blocked"):
		return ReasonContentBlock

	case strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504"):
		return ReasonServerError

	case strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "400"):
		return ReasonInvalid

	default:
		return ReasonUnknown
	}
}
