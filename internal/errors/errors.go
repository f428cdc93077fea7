// Package errors defines the typed errors services return to the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/studiodesk/studiodesk/internal/app/storage"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeNotFound      Code = "not_found"
	CodeInvalidInput  Code = "invalid_input"
	CodeUnauthorized  Code = "unauthorized"
	CodeForbidden     Code = "forbidden"
	CodeConflict      Code = "conflict"
	CodeInvalidToken  Code = "invalid_token"
	CodeRateLimited   Code = "rate_limited"
	CodeInternal      Code = "internal"
	CodeUnavailable   Code = "unavailable"
	CodeNotConfigured Code = "not_configured"
)

// ServiceError carries a code, an HTTP status and optional details.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches another ServiceError by code so errors.Is(err, NotFound("")) works.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy with an extra detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(code Code, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func NotFound(resource, id string) *ServiceError {
	msg := resource + " not found"
	if id != "" {
		msg = fmt.Sprintf("%s %s not found", resource, id)
	}
	return newError(CodeNotFound, http.StatusNotFound, msg, nil)
}

func InvalidInput(message string) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, message, nil)
}

func Required(field string) *ServiceError {
	return InvalidInput(field+" is required").WithDetails("field", field)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "forbidden"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

func Unavailable(message string) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, nil)
}

func NotConfigured(feature string) *ServiceError {
	return newError(CodeNotConfigured, http.StatusNotImplemented, feature+" not configured", nil)
}

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// FromStore converts storage sentinels into service errors. Other errors pass
// through unchanged so the HTTP layer reports them as internal.
func FromStore(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case GetServiceError(err) != nil:
		return err
	case stderrors.Is(err, storage.ErrNotFound):
		return NotFound(resource, id)
	case stderrors.Is(err, storage.ErrConflict):
		se := Conflict(resource + " already exists")
		se.Err = err
		return se
	default:
		return err
	}
}
