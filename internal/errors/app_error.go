// Package errors defines the error kinds raised while intercepting and
// translating completion traffic, and the JSON error document written back
// to the client when a flow cannot be served.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the JSON error document returned to the client.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is a stable machine-readable error code.
	Code string `json:"code"`
	// Message is the client-facing error message.
	Message string `json:"message"`
	// Details provides additional error context (optional).
	Details map[string]any `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the error wrapped in an OpenAI-style {"error": {...}} envelope.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(struct {
		Error *AppError `json:"error"`
	}{Error: e})
	return b
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// FromError maps any error raised by the proxy onto an AppError.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var cfgErr *ConfigurationError
	if stderrors.As(err, &cfgErr) {
		return &AppError{
			HTTPStatusCode: http.StatusInternalServerError,
			Code:           "configuration_error",
			Message:        cfgErr.Error(),
			Details:        map[string]any{"missing": cfgErr.Missing},
			Err:            err,
		}
	}

	var httpErr *UpstreamHTTPError
	if stderrors.As(err, &httpErr) {
		return &AppError{
			HTTPStatusCode: http.StatusBadGateway,
			Code:           "upstream_http_error",
			Message:        httpErr.Error(),
			Details:        map[string]any{"upstream_status": httpErr.StatusCode},
			Err:            err,
		}
	}

	var decodeErr *StreamDecodeError
	if stderrors.As(err, &decodeErr) {
		return New(http.StatusBadGateway, "stream_decode_error", decodeErr.Error(), err)
	}

	return New(http.StatusInternalServerError, "internal_error", err.Error(), err)
}
