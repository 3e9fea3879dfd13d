// Package apperr defines the error taxonomy shared by the services and its
// mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindBadRequest         Kind = "BAD_REQUEST"
	KindConflict           Kind = "CONFLICT"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindInternal           Kind = "INTERNAL"
)

var (
	// ErrNotFound matches any error of kind NotFound via errors.Is.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrBadRequest matches any error of kind BadRequest via errors.Is.
	ErrBadRequest = &Error{Kind: KindBadRequest}
	// ErrConflict matches any error of kind Conflict via errors.Is.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrServiceUnavailable matches any error of kind ServiceUnavailable via errors.Is.
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports kind equality so callers can match against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || t.Code == e.Code)
}

// WithDetail returns a copy of e with an extra detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	clone := *e
	clone.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

// NotFound builds a NotFound error.
func NotFound(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// BadRequest builds a BadRequest error.
func BadRequest(code, format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a Conflict error.
func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unavailable builds a ServiceUnavailable error wrapping cause.
func Unavailable(code string, cause error, format string, args ...any) *Error {
	return &Error{Kind: KindServiceUnavailable, Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Wrap attaches a kind to cause, keeping cause reachable through errors.Unwrap.
func Wrap(kind Kind, code string, cause error, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to its response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
