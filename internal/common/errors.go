package common

import (
	"errors"
	"net/http"
)

// AppError pairs a failure with the code and status a checkout client sees.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WithDetails attaches machine-readable context, such as the offending cart line.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// ErrorMapper translates a domain error into an AppError, or returns nil when it does not recognise it.
type ErrorMapper func(error) *AppError

// Classify runs err through the mappers in order. An AppError already in the chain wins;
// otherwise the first non-nil mapping is used and fallback covers the rest.
func Classify(err error, fallback *AppError, mappers ...ErrorMapper) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, m := range mappers {
		if mapped := m(err); mapped != nil {
			return mapped
		}
	}
	out := *fallback
	out.Err = err
	return &out
}

// Write renders the nested {"error": {code, message, details}} body.
func (e *AppError) Write(w http.ResponseWriter) {
	JSONError(w, e.status(), e.Code, e.Message, e.Details)
}

// WriteFlat renders the storefront checkout body {"error": message, "code": code}.
func (e *AppError) WriteFlat(w http.ResponseWriter) {
	JSONErrorMessage(w, e.status(), e.Code, e.Message)
}

func (e *AppError) status() int {
	if e.HTTPStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatus
}
