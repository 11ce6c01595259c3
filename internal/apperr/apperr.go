// Package apperr defines the closed set of error kinds Sentinel can return
// to an HTTP caller, along with their status codes and wire error codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the closed set of error classifications.
type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindInvalidToken     Kind = "invalid_token"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindBadRequest       Kind = "bad_request"
	KindInvalidJSON      Kind = "invalid_json"
	KindRateLimited      Kind = "rate_limit_exceeded"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindServiceUnavail   Kind = "service_unavailable"
	KindUpstreamError    Kind = "upstream_error"
	KindCacheError       Kind = "cache_error"
	KindInternal         Kind = "internal_error"
)

// Error is Sentinel's single error type. Every error that reaches the HTTP
// layer is (or wraps) one of these.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any

	// RetryAfter, when non-zero, is rendered as a Retry-After header on
	// ServiceUnavailable responses.
	RetryAfterSeconds int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the HTTP status the error maps to.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindUnauthorized, KindInvalidToken:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest, KindInvalidJSON:
		return http.StatusBadRequest
	case KindRateLimited, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindServiceUnavail:
		return http.StatusServiceUnavailable
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindCacheError, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the wire error code (the "code" field in the JSON envelope).
func (e *Error) Code() string {
	switch e.Kind {
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindInvalidToken:
		return "INVALID_TOKEN"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindBadRequest:
		return "BAD_REQUEST"
	case KindInvalidJSON:
		return "INVALID_JSON"
	case KindRateLimited:
		return "RATE_LIMIT_EXCEEDED"
	case KindQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case KindServiceUnavail:
		return "SERVICE_UNAVAILABLE"
	case KindUpstreamError:
		return "UPSTREAM_ERROR"
	case KindCacheError:
		return "CACHE_ERROR"
	case KindInternal:
		return "INTERNAL_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func WithDetails(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func Unauthorized(msg string) *Error   { return New(KindUnauthorized, msg) }
func InvalidToken(msg string) *Error   { return New(KindInvalidToken, msg) }
func Forbidden(msg string) *Error      { return New(KindForbidden, msg) }
func NotFound(msg string) *Error       { return New(KindNotFound, msg) }
func BadRequest(msg string) *Error     { return New(KindBadRequest, msg) }
func InvalidJSON(msg string) *Error    { return New(KindInvalidJSON, msg) }
func CacheError(msg string, cause error) *Error {
	return Wrap(KindCacheError, msg, cause)
}
func Internal(msg string, cause error) *Error {
	return Wrap(KindInternal, msg, cause)
}

// RateLimited builds a 429 rate-limit error carrying limit details (used
// for per-user request/token rate limits reported by governance).
func RateLimited(msg string, details map[string]any) *Error {
	return WithDetails(KindRateLimited, msg, details)
}

// QuotaExceeded builds a 429 quota error. Unlike RateLimited, it never
// carries a reset_at detail since quota exhaustion has no fixed retry time.
func QuotaExceeded(msg string, details map[string]any) *Error {
	return WithDetails(KindQuotaExceeded, msg, details)
}

// ServiceUnavailable builds a 503 with a Retry-After hint.
func ServiceUnavailable(msg string, retryAfterSeconds int) *Error {
	return &Error{Kind: KindServiceUnavail, Message: msg, RetryAfterSeconds: retryAfterSeconds}
}

// UpstreamError wraps a failure returned by (or in talking to) an upstream
// provider or the governance service.
func UpstreamError(msg string, cause error) *Error {
	return Wrap(KindUpstreamError, msg, cause)
}

// As extracts an *Error from err, following the standard unwrap chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
