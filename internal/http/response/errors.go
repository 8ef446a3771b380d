package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/pkg/logger"
)

// ErrorResponse represents a structured JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WriteErrorWithDetails writes a structured JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, message, code, details string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code, Details: details})
}

// Common error codes
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeBusy           = "SESSION_BUSY"
	CodeSourceBusy     = "DECODE_SOURCE_BUSY"
	CodeSessionClosed  = "SESSION_CLOSED"
	CodeTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeNoActiveCamera = "CAMERA_NOT_STREAMING"
)

// Convenience functions for common errors
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message, CodeConflict)
}

// SessionError maps a rejected session operation to a response.
func SessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		NotFound(w, "Scan session not found")
	case errors.Is(err, domain.ErrSessionClosed):
		WriteError(w, http.StatusGone, "Scan session closed", CodeSessionClosed)
	case errors.Is(err, domain.ErrBusy):
		WriteError(w, http.StatusConflict, "Scan session is busy", CodeBusy)
	case errors.Is(err, domain.ErrDecodeSourceBusy):
		WriteError(w, http.StatusConflict, "Stop the camera before uploading an image", CodeSourceBusy)
	case errors.Is(err, domain.ErrInvalidTransition):
		Conflict(w, "Operation not allowed in the current state")
	default:
		InternalError(w, "Internal server error")
	}
}
