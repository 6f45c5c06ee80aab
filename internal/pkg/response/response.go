package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes surfaced to clients. Internal wrapping is never exposed.
const (
	CodeInvalidURL      = "INVALID_URL"
	CodeURLTooLong      = "URL_TOO_LONG"
	CodeAliasInvalid    = "ALIAS_INVALID"
	CodeAliasTaken      = "ALIAS_TAKEN"
	CodeExpiryInPast    = "EXPIRY_IN_PAST"
	CodeURLBlocked      = "URL_BLOCKED"
	CodeInvalidCode     = "INVALID_CODE"
	CodeInvalidRedirect = "INVALID_REDIRECT"
	CodeValidation      = "VALIDATION"
	CodeNotFound        = "NOT_FOUND"
	CodeGone            = "GONE"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeDependency      = "DEPENDENCY_UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// Pagination metadata returned with paginated responses.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

// OK sends a 200 response.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func abortWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

// BadRequest sends a 400 error with a machine-readable code.
func BadRequest(c *gin.Context, code, message string) {
	abortWith(c, http.StatusBadRequest, code, message)
}

// Validation sends a 400 VALIDATION error.
func Validation(c *gin.Context, message string) {
	abortWith(c, http.StatusBadRequest, CodeValidation, message)
}

// Unauthorized sends a 401 error.
func Unauthorized(c *gin.Context, message string) {
	abortWith(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// NotFound sends a 404 error.
func NotFound(c *gin.Context, message string) {
	abortWith(c, http.StatusNotFound, CodeNotFound, message)
}

// Gone sends a 410 error for expired codes.
func Gone(c *gin.Context, message string) {
	abortWith(c, http.StatusGone, CodeGone, message)
}

// TooManyRequests sends a 429 error.
func TooManyRequests(c *gin.Context, message string) {
	abortWith(c, http.StatusTooManyRequests, CodeRateLimited, message)
}

// DependencyUnavailable sends a 503 when a synchronous dependency is down.
func DependencyUnavailable(c *gin.Context, message string) {
	abortWith(c, http.StatusServiceUnavailable, CodeDependency, message)
}

// InternalError sends a 500 error without leaking internals.
func InternalError(c *gin.Context) {
	abortWith(c, http.StatusInternalServerError, CodeInternal, "internal error")
}

// MethodNotAllowed sends a 405 error.
func MethodNotAllowed(c *gin.Context) {
	abortWith(c, http.StatusMethodNotAllowed, CodeValidation, "method not allowed")
}
