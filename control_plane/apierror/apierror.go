// Package apierror defines the user-facing error taxonomy (spec §7): a
// typed error carrying a stable code and the HTTP status it maps to, so
// every handler returns the same {"error":{"code":"...","message":"..."}}
// shape regardless of which layer raised it.
package apierror

import (
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeWorkspaceNotFound   Code = "WORKSPACE_NOT_FOUND"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeTooManyRequests     Code = "TOO_MANY_REQUESTS"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeInvalidRequest:      http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeWorkspaceNotFound:   http.StatusNotFound,
	CodeInvalidState:        http.StatusConflict,
	CodeTooManyRequests:     http.StatusTooManyRequests,
	CodeUpstreamUnavailable: http.StatusBadGateway,
	CodeInternal:            http.StatusInternalServerError,
}

// Error is the typed, HTTP-status-bearing error every handler in this
// module returns instead of a bare error value.
type Error struct {
	Code       Code
	Message    string
	RetryAfter int // seconds; only meaningful for CodeTooManyRequests
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code this error maps to.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func InvalidRequest(message string) *Error    { return New(CodeInvalidRequest, message) }
func Unauthorized(message string) *Error      { return New(CodeUnauthorized, message) }
func Forbidden(message string) *Error         { return New(CodeForbidden, message) }
func WorkspaceNotFound(message string) *Error { return New(CodeWorkspaceNotFound, message) }
func InvalidState(message string) *Error      { return New(CodeInvalidState, message) }
func Internal(message string, cause error) *Error {
	return Wrap(CodeInternal, message, cause)
}
func UpstreamUnavailable(message string, cause error) *Error {
	return Wrap(CodeUpstreamUnavailable, message, cause)
}

// TooManyRequests sets Retry-After in seconds, per spec §7's rate-limit
// response contract.
func TooManyRequests(message string, retryAfterSeconds int) *Error {
	return &Error{Code: CodeTooManyRequests, Message: message, RetryAfter: retryAfterSeconds}
}

// Body is the exact JSON wire shape for an error response.
type Body struct {
	Error BodyError `json:"error"`
}

type BodyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Body() Body {
	return Body{Error: BodyError{Code: string(e.Code), Message: e.Message}}
}
