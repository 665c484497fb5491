package http

import (
	"fmt"
	"net/http"
)

// AppError is an error reported to API clients. Status selects the HTTP code;
// Code, Field and Params are written into the response body.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithParam attaches a detail such as how many events of a batch were accepted.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError keeps the cause for logs; it is never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newAppError(status int, code, field, message string) *AppError {
	return &AppError{Code: code, Message: message, Field: field, Status: status}
}

// BadRequestError is a request the API could not read at all.
func BadRequestError(message string) *AppError {
	return newAppError(http.StatusBadRequest, "ERR_BAD_REQUEST", "", message)
}

// MalformedError is a readable event, fill or proposal carrying an unusable value.
func MalformedError(field, message string) *AppError {
	return newAppError(http.StatusBadRequest, "ERR_MALFORMED_INPUT", field, message)
}

func NotFoundError(message string) *AppError {
	return newAppError(http.StatusNotFound, "ERR_NOT_FOUND", "", message)
}

// UnavailableError covers a full event queue, a lost feed or a disabled journal.
func UnavailableError(message string) *AppError {
	return newAppError(http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "", message)
}

// InvariantError reports a quote cycle aborted by a broken hard rule.
func InvariantError(message string) *AppError {
	return newAppError(http.StatusInternalServerError, "ERR_INVARIANT", "", message)
}

func InternalError(message string) *AppError {
	return newAppError(http.StatusInternalServerError, "ERR_INTERNAL", "", message)
}
