// Package response renders the JSON envelope every façade handler returns.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chainforge/deployctl/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response body", slog.String("error", err.Error()))
	}
}

// OK writes a 200 with the given payload.
func OK(w http.ResponseWriter, body any) {
	writeJSON(w, http.StatusOK, body)
}

// Created writes a 201 with the given payload.
func Created(w http.ResponseWriter, body any) {
	writeJSON(w, http.StatusCreated, body)
}

// Accepted writes a 202 with the given payload.
func Accepted(w http.ResponseWriter, body any) {
	writeJSON(w, http.StatusAccepted, body)
}

// Error writes the status/code/message carried by an *apperrors.APIError,
// falling back to a generic 500 for any other error type.
func Error(w http.ResponseWriter, err error) {
	var apiErr *apperrors.APIError
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.Status, apiErr)
		return
	}
	writeJSON(w, http.StatusInternalServerError, apperrors.ErrInternal)
}
