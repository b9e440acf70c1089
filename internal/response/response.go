// Package response provides standardized HTTP response helpers.
package response

import (
	"encoding/json"
	"net/http"
)

// Error codes returned to the presentation client.
const (
	ErrCodeValidationError = "VALIDATION_ERROR"
	ErrCodeUnregistered    = "UNREGISTERED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeUnavailable     = "TEMPORARILY_UNAVAILABLE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// APIError represents a structured API error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError in the standard response format.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message}})
}

// WriteValidationError writes a 400 validation error.
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeValidationError, message)
}

// WriteUnregistered writes a 404 for an unknown user id.
func WriteUnregistered(w http.ResponseWriter) {
	WriteError(w, http.StatusNotFound, ErrCodeUnregistered, "Unknown user id; register first")
}

// WriteNotFound writes a 404 not found error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// WriteUnavailable writes a 503 for a failing backing store. Clients must
// treat this as "try again", never as an empty result.
func WriteUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// WriteInternalError writes a 500 internal error.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}
