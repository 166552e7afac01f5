// Package apperr defines the error kinds surfaced to API clients.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping.
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindResource   Kind = "ResourceError"
	KindRateLimit  Kind = "RateLimitError"
	KindCancelled  Kind = "CancelledError"
	KindNotFound   Kind = "NotFoundError"
	KindSyntax     Kind = "SyntaxError"
	KindTimeout    Kind = "TimeoutError"
	KindUpstream   Kind = "UpstreamError"
	KindInternal   Kind = "InternalError"
)

// StatusClientClosedRequest is the de facto status for requests the client
// abandoned or explicitly cancelled.
const StatusClientClosedRequest = 499

// Error is an error with an HTTP status and optional details.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err,
// &apperr.Error{Kind: apperr.KindRateLimit}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation returns a 400 error carrying every failed check.
func Validation(message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message, Details: details}
}

// Resource returns a 503 error for an unavailable upstream.
func Resource(message string, err error) *Error {
	return &Error{Kind: KindResource, Status: http.StatusServiceUnavailable, Message: message, Err: err}
}

// RateLimit returns a 429 error.
func RateLimit(message string) *Error {
	return &Error{Kind: KindRateLimit, Status: http.StatusTooManyRequests, Message: message}
}

// Cancelled returns a 499 error.
func Cancelled(message string) *Error {
	return &Error{Kind: KindCancelled, Status: StatusClientClosedRequest, Message: message, Err: context.Canceled}
}

// NotFound returns a 404 error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: message}
}

// Syntax returns a 400 error for malformed request bodies.
func Syntax(err error) *Error {
	return &Error{Kind: KindSyntax, Status: http.StatusBadRequest, Message: "Invalid request syntax", Err: err}
}

// Timeout returns a 504 error for an upstream call that ran out of time.
func Timeout(message string, err error) *Error {
	return &Error{Kind: KindTimeout, Status: http.StatusGatewayTimeout, Message: message, Err: err}
}

// Upstream returns a 502 error carrying the upstream's own message.
func Upstream(message string) *Error {
	return &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Message: message}
}

// Internal returns a 500 error.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: message, Err: err}
}

// From maps any error to an *Error, defaulting to an internal error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled("Request cancelled")
	}
	return Internal(err.Error(), err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
