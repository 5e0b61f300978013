package server

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIError is the JSON body of every non-2xx response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewAPIError(statusCode int, errorCode, message string, details any) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

func invalidParameter(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, "INVALID_PARAMETER", message, nil)
}

func storeFailure() *APIError {
	return NewAPIError(http.StatusInternalServerError, "STORE_ERROR", "Failed to read turnout data", nil)
}

var errNotFound = NewAPIError(http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
