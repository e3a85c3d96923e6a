package apierr

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/prerender/internal/logger"
)

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// AUTH_ - Authentication and authorization errors
	ErrAuthMissing ErrorCode = "AUTH_MISSING"
	ErrAuthInvalid ErrorCode = "AUTH_INVALID"

	// RENDER_ - Page rendering errors
	ErrRenderFailed ErrorCode = "RENDER_FAILED"

	// SYSTEM_ - System and server errors
	ErrSystemInternal    ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemUnavailable ErrorCode = "SYSTEM_UNAVAILABLE"

	// VALIDATION_ - Request validation errors
	ErrValidationInvalidJSON  ErrorCode = "VALIDATION_INVALID_JSON"
	ErrValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrValidationInvalidURL   ErrorCode = "VALIDATION_INVALID_URL"

	// RESOURCE_ - Resource errors
	ErrResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"

	// RATE_LIMIT_ - Rate limiting errors
	ErrRateLimitGlobal ErrorCode = "RATE_LIMIT_GLOBAL"
	ErrRateLimitIP     ErrorCode = "RATE_LIMIT_IP"
)

// Error represents a structured API error.
//
// The body is flat: {"error": title, "code": code, "message": diagnostic}. Callers that only
// look at "error" get a human readable summary; "message" carries the underlying detail.
type Error struct {
	Title     string                 `json:"error"`
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	status    int                    // HTTP status code (not serialized)
}

// New creates a new API error
func New(code ErrorCode, title string, status int) *Error {
	return &Error{
		Title:  title,
		Code:   code,
		status: status,
	}
}

// WithMessage sets the diagnostic message
func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Title + ": " + e.Message
	}
	return string(e.Code) + ": " + e.Title
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	json.NewEncoder(w).Encode(err)
}

// AuthMissing creates an authentication missing error
func AuthMissing() *Error {
	return New(ErrAuthMissing, "Authentication required", http.StatusUnauthorized)
}

// AuthInvalid creates an invalid authentication error
func AuthInvalid() *Error {
	return New(ErrAuthInvalid, "Invalid authentication credentials", http.StatusUnauthorized)
}

// RenderFailed creates a render failure error carrying the renderer's diagnostic.
func RenderFailed(message string) *Error {
	return New(ErrRenderFailed, "Failed to render page", http.StatusInternalServerError).
		WithMessage(message)
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	return New(ErrSystemInternal, "Internal server error", http.StatusInternalServerError).
		WithMessage(message)
}

// SystemUnavailable creates a service unavailable error
func SystemUnavailable(message string) *Error {
	return New(ErrSystemUnavailable, "Service unavailable", http.StatusServiceUnavailable).
		WithMessage(message)
}

// ValidationInvalidJSON creates an invalid JSON error
func ValidationInvalidJSON(message string) *Error {
	return New(ErrValidationInvalidJSON, "Invalid JSON request body", http.StatusBadRequest).
		WithMessage(message)
}

// ValidationMissingField creates a missing field error
func ValidationMissingField(field string) *Error {
	return New(ErrValidationMissingField, field+" parameter is required", http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationInvalidURL creates an invalid URL error
func ValidationInvalidURL(message string) *Error {
	return New(ErrValidationInvalidURL, "Invalid URL", http.StatusBadRequest).
		WithMessage(message)
}

// ResourceNotFound creates a resource not found error
func ResourceNotFound(path string) *Error {
	return New(ErrResourceNotFound, "Not found", http.StatusNotFound).
		WithDetails(map[string]interface{}{"path": path})
}

// RateLimitGlobal creates a global rate limit error
func RateLimitGlobal() *Error {
	return New(ErrRateLimitGlobal, "Rate limit exceeded - too many requests globally", http.StatusTooManyRequests)
}

// RateLimitIP creates an IP rate limit error
func RateLimitIP() *Error {
	return New(ErrRateLimitIP, "Rate limit exceeded - too many requests from your IP", http.StatusTooManyRequests)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	return logger.RequestID(ctx)
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}
