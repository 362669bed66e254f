// Package apierrors provides structured API errors with HTTP context and
// gin response helpers.
package apierrors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/videoforge/videoforge/internal/logger"
	"github.com/videoforge/videoforge/internal/transcoder"
)

// APIError represents a structured error with HTTP context.
type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// ToGinResponse sends the error as a standardized JSON response.
func (e *APIError) ToGinResponse(c *gin.Context) {
	statusCode := e.HTTPStatus
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	response := gin.H{
		"error": e.Message,
		"code":  e.Code,
	}
	if len(e.Context) > 0 {
		response["details"] = e.Context
	}

	logger.Named("http").Debug("error response",
		"status", statusCode,
		"code", e.Code,
		"message", e.Message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method)

	c.JSON(statusCode, response)
}

// Common error constructors

func NewValidationError(message, field string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Context:    map[string]interface{}{"field": field},
	}
}

func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
		Context:    map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewForbiddenError(message string) *APIError {
	return &APIError{
		Code:       "FORBIDDEN",
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

func NewInvalidStateError(message string) *APIError {
	return &APIError{
		Code:       "INVALID_STATE",
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

func NewInternalError(message string, cause error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// HTTP helpers

func HandleValidationError(c *gin.Context, message, field string) {
	NewValidationError(message, field).ToGinResponse(c)
}

func HandleNotFound(c *gin.Context, resource, id string) {
	NewNotFoundError(resource, id).ToGinResponse(c)
}

func HandleForbidden(c *gin.Context, message string) {
	NewForbiddenError(message).ToGinResponse(c)
}

func HandleInternalError(c *gin.Context, message string, err error) {
	NewInternalError(message, err).ToGinResponse(c)
}

// HandleServiceError maps orchestrator errors onto API responses. Unknown
// errors become internal errors, treated as storage faults for the single
// triggering request.
func HandleServiceError(c *gin.Context, err error, resource, id string) {
	switch {
	case errors.Is(err, transcoder.ErrJobNotFound):
		HandleNotFound(c, resource, id)
	case errors.Is(err, transcoder.ErrForbidden):
		HandleForbidden(c, "Access denied")
	case errors.Is(err, transcoder.ErrInvalidState):
		NewInvalidStateError("Cannot cancel a completed, failed, or cancelled job").ToGinResponse(c)
	case transcoder.IsInvalidTransition(err):
		NewInvalidStateError(err.Error()).ToGinResponse(c)
	default:
		HandleInternalError(c, "Operation failed", err)
	}
}
