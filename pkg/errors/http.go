package errors

import (
	"encoding/json"
	"net/http"
	"time"
)

// NewResponse builds the JSON body for an application error
func NewResponse(appErr *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Type:      appErr.Type,
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// WriteJSON writes appErr with its status code. The internal error is never
// exposed.
func WriteJSON(w http.ResponseWriter, appErr *AppError, requestID string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	return json.NewEncoder(w).Encode(NewResponse(appErr, requestID))
}
