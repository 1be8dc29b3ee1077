// Package providers implements provider adapters that translate one
// provider's wire protocol into the uniform AssistantMessageEvent
// vocabulary.
package providers

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes a provider-adapter failure. These are the four
// kinds an assistant request attempt can fail with; anything else is a
// programming error, not a provider error.
type ErrorKind string

const (
	// ErrorAuthMissing: no credentials resolved; fails before any network I/O.
	ErrorAuthMissing ErrorKind = "provider_auth_missing"

	// ErrorTransport: network/socket/read failure.
	ErrorTransport ErrorKind = "provider_transport"

	// ErrorHTTP: non-2xx HTTP response; carries status code and body prefix.
	ErrorHTTP ErrorKind = "provider_http"

	// ErrorProtocol: malformed or unexpected SSE/JSON, including missing
	// terminal events, unknown event types, or missing required fields.
	ErrorProtocol ErrorKind = "provider_protocol"
)

// IsRetryable reports whether a failure observed before any Start event is
// eligible for the assistant request runner's retry loop. Only a failure to
// resolve credentials before the request was ever sent qualifies: advancing
// to the next candidate model may find credentials this one lacked. Once a
// request actually went out, a transport error, non-2xx response, or
// malformed reply is terminal rather than retried — retrying the identical
// request against the identical model would not be expected to behave any
// differently.
func (k ErrorKind) IsRetryable() bool {
	return k == ErrorAuthMissing
}

// ProviderError is a structured error from a provider adapter attempt. It
// carries enough context for the assistant request runner's retry/fallback
// loop and for rendering a compact JSON error_message on an Assistant
// message with stop_reason=Error.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Status   int
	Body     string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// AuthMissing constructs a ProviderAuthMissing error.
func AuthMissing(provider, model, message string) *ProviderError {
	return &ProviderError{Kind: ErrorAuthMissing, Provider: provider, Model: model, Message: message}
}

// Transport constructs a ProviderTransport error wrapping cause.
func Transport(provider, model string, cause error) *ProviderError {
	return &ProviderError{Kind: ErrorTransport, Provider: provider, Model: model, Cause: cause, Message: cause.Error()}
}

// HTTPError constructs a ProviderHttp error carrying the status code and a
// prefix of the response body.
func HTTPError(provider, model string, status int, body string) *ProviderError {
	const bodyPrefixLen = 2048
	if len(body) > bodyPrefixLen {
		body = body[:bodyPrefixLen]
	}
	return &ProviderError{
		Kind:     ErrorHTTP,
		Provider: provider,
		Model:    model,
		Status:   status,
		Body:     body,
		Message:  fmt.Sprintf("http %d: %s", status, body),
	}
}

// Protocol constructs a ProviderProtocol error.
func Protocol(provider, model, message string) *ProviderError {
	return &ProviderError{Kind: ErrorProtocol, Provider: provider, Model: model, Message: message}
}

// IsProviderError reports whether err is, or wraps, a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// AsProviderError extracts a *ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
