// Package apperrors defines the HTTP-facing error envelope used by the
// request façade to translate internal error kinds into status codes.
package apperrors

import "net/http"

// APIError is a machine-readable error surfaced to HTTP callers.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a replacement message.
func (e *APIError) WithMessage(msg string) *APIError {
	cp := *e
	cp.Message = msg
	return &cp
}

var (
	ErrBadRequest = &APIError{Status: http.StatusBadRequest, Code: "bad_request", Message: "bad request"}
	ErrNotFound   = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "not found"}
	ErrQueueFull  = &APIError{Status: http.StatusServiceUnavailable, Code: "queue_full", Message: "queue is full"}
	ErrInternal   = &APIError{Status: http.StatusInternalServerError, Code: "internal", Message: "internal error"}
)

// NewValidationError builds a 400 error naming the offending field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "validation_error",
		Message: field + ": " + message,
	}
}

// NewNotFoundError builds a 404 error naming the missing resource.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: resource + " not found",
	}
}
