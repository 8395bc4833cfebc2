package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the taxonomy of §7 — a tagged variant rather than a hierarchy
// of error types, so the orchestrator can reason about retriability
// exhaustively with a single switch.
type ErrorKind string

const (
	KindTransportError        ErrorKind = "transport_error"
	KindProtocolViolation     ErrorKind = "protocol_violation"
	KindSchemaValidationInput ErrorKind = "schema_validation_input"
	KindSchemaValidationOutput ErrorKind = "schema_validation_output"
	KindScriptError           ErrorKind = "script_error"
	KindTimeoutError          ErrorKind = "timeout_error"
	KindCancelledError        ErrorKind = "cancelled_error"
	KindNotFound              ErrorKind = "not_found"
	KindConflict              ErrorKind = "conflict"
	KindAuthenticationFailed  ErrorKind = "authentication_failed"
	KindAuthorizationDenied   ErrorKind = "authorization_denied"
	KindRateLimited           ErrorKind = "rate_limited"
	KindQueueFull             ErrorKind = "queue_full"
	KindConfigError           ErrorKind = "config_error"
	KindInternalError         ErrorKind = "internal_error"
	KindWorkerCrash           ErrorKind = "worker_crash"
)

// ScriptErrorSubkind is the worker-visible error taxonomy of §4.2.3.
type ScriptErrorSubkind string

const (
	ScriptAuthenticationError  ScriptErrorSubkind = "AuthenticationError"
	ScriptAuthorizationError   ScriptErrorSubkind = "AuthorizationError"
	ScriptNetworkError         ScriptErrorSubkind = "NetworkError"
	ScriptHTTPError            ScriptErrorSubkind = "HttpError"
	ScriptValidationError      ScriptErrorSubkind = "ValidationError"
	ScriptConfigurationError   ScriptErrorSubkind = "ConfigurationError"
	ScriptRateLimitError       ScriptErrorSubkind = "RateLimitError"
	ScriptServiceUnavailable   ScriptErrorSubkind = "ServiceUnavailableError"
	ScriptTimeoutError         ScriptErrorSubkind = "TimeoutError"
	ScriptDataError            ScriptErrorSubkind = "DataError"
	ScriptUnknownError         ScriptErrorSubkind = "UnknownError"
)

// Error is the structured, taxonomy-tagged error carried across the
// orchestrator/worker boundary and persisted in Execution.ErrorDetails.
type Error struct {
	Kind          ErrorKind          `json:"kind"`
	ScriptSubkind ScriptErrorSubkind `json:"script_subkind,omitempty"`
	Message       string             `json:"message"`
	HTTPStatus    int                `json:"http_status,omitempty"`
	Cause         error              `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a tagged Error, wrapping cause with context the way
// infrastructure/errors.WrapWithContext does across the pack.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Retriable reports whether the orchestrator's retry policy (§4.1.5, §7)
// should schedule another attempt for this error kind.
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindTransportError, KindTimeoutError, KindWorkerCrash:
		return true
	case KindScriptError:
		switch e.ScriptSubkind {
		case ScriptNetworkError, ScriptServiceUnavailable, ScriptRateLimitError:
			return true
		default:
			return false
		}
	default:
		return false
	}
}

// AsDomainError extracts an *Error from err, if present anywhere in its chain.
func AsDomainError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HTTPStatusToScriptSubkind implements §4.2.2's status-code-to-error mapping.
func HTTPStatusToScriptSubkind(status int) ScriptErrorSubkind {
	switch {
	case status == 401:
		return ScriptAuthenticationError
	case status == 403:
		return ScriptAuthorizationError
	case status == 429:
		return ScriptRateLimitError
	case status >= 500:
		return ScriptServiceUnavailable
	case status >= 400:
		return ScriptHTTPError
	default:
		return ScriptUnknownError
	}
}
