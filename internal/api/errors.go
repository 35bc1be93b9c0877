package api

import (
	"encoding/json"
	"net/http"

	kmerrors "github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondServiceError maps a service-layer error onto the wire. Internal
// errors are flattened so callers never see database or upstream detail.
func respondServiceError(w http.ResponseWriter, err error) {
	catErr := kmerrors.Categorize(err)

	if catErr.StatusCode >= http.StatusInternalServerError {
		respondError(w, catErr.StatusCode, catErr.Code, "An internal error occurred", nil)
		return
	}

	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message, catErr.Details)
}
