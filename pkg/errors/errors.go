// Package errors provides the error taxonomy used across scanorch.
//
// Adapter-local failures never leave an adapter as Go errors; they are
// recorded on the adapter's ScanResult. The kinds below classify the errors
// that do cross package boundaries: pre-flight rejections from the
// orchestrator, quota decisions, store lookups and HTTP tool clients.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Base Error Types
// =============================================================================

// Error is the base error type for all scanorch errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "orchestrator.StartScan")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindAuthentication
	KindNotFound
	KindConflict
	KindRateLimit
	KindTimeout
	KindNetwork
	KindExecution
	KindQuotaExceeded
	KindConcurrencyLimit
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindExecution:
		return "execution"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindConcurrencyLimit:
		return "concurrency_limit"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		} else {
			msg = e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// Status Error
// =============================================================================

// StatusError is returned by HTTP tool clients for non-2xx responses.
type StatusError struct {
	// StatusCode is the HTTP status code
	StatusCode int `json:"status_code"`

	// Endpoint is the request path that failed
	Endpoint string `json:"endpoint"`

	// Body is a truncated copy of the response body
	Body string `json:"body,omitempty"`
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: %s: %s", e.Endpoint, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, http.StatusText(e.StatusCode))
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op, then Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with the operation name.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: GetKind(err), Err: err}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind != KindUnknown {
			return e.Kind
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return KindUnknown
}

// AsStatusError checks if err is a StatusError and returns it.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	if GetKind(err) == KindNotFound {
		return true
	}
	if se, ok := AsStatusError(err); ok {
		return se.StatusCode == http.StatusNotFound
	}
	return false
}

// IsTimeoutError checks if the error is a timeout error.
func IsTimeoutError(err error) bool {
	return GetKind(err) == KindTimeout
}

// IsQuotaError reports whether err is a quota or concurrency rejection.
func IsQuotaError(err error) bool {
	k := GetKind(err)
	return k == KindQuotaExceeded || k == KindConcurrencyLimit
}

// IsRecoverable reports whether the caller may retry the same request later
// without changing it.
func IsRecoverable(err error) bool {
	return IsQuotaError(err) || IsRetryable(err)
}

// IsRetryable checks if the error is transient.
func IsRetryable(err error) bool {
	switch GetKind(err) {
	case KindRateLimit, KindNetwork, KindTimeout:
		return true
	}
	if se, ok := AsStatusError(err); ok {
		if se.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return se.StatusCode >= 500 && se.StatusCode != http.StatusNotImplemented
	}
	return false
}

// =============================================================================
// Common Errors
// =============================================================================

var (
	// ErrInvalidTarget is returned for a target URL without scheme or host.
	ErrInvalidTarget = &Error{Kind: KindInvalidInput, Message: "invalid target URL"}

	// ErrMissingAPIKey is returned when an API-backed adapter has no key.
	ErrMissingAPIKey = &Error{Kind: KindAuthentication, Message: "API key is required"}

	// ErrQuotaExceeded is returned when the monthly scan limit is reached.
	ErrQuotaExceeded = &Error{Kind: KindQuotaExceeded, Message: "monthly scan limit reached"}

	// ErrConcurrencyLimit is returned when too many scans are running.
	ErrConcurrencyLimit = &Error{Kind: KindConcurrencyLimit, Message: "concurrent scan limit reached"}

	// ErrScanNotFound is returned for an unknown scan id.
	ErrScanNotFound = &Error{Kind: KindNotFound, Message: "scan not found"}

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = &Error{Kind: KindTimeout, Message: "operation timed out"}
)
