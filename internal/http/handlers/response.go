// Package handlers implements the public HTTP API on top of the request and
// user services.
//
// Every failure is answered with ErrorResponse:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "detail": "Request not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-genreq-backend/internal/http/middleware"
)

// ErrorResponse is the error body of every endpoint.
type ErrorResponse struct {
	// RequestID echoes X-Request-ID for log correlation.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Code is a stable machine-readable identifier (see errors.go).
	Code string `json:"code" example:"not_found"`
	// Detail is safe to show to users.
	Detail string `json:"detail" example:"Request not found"`
}

// fail aborts with the error envelope.
func fail(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Detail:    detail,
	})
}

// Fail is fail for other packages (router fallbacks).
func Fail(c *gin.Context, status int, code, detail string) { fail(c, status, code, detail) }

// internalError logs err and answers 500 with a fixed detail, so storage or
// driver messages never reach the client. The error is also recorded on the
// Gin context, which raises the access log line to error level.
func internalError(c *gin.Context, err error) {
	middleware.LoggerFrom(c).Error().Err(err).Str("route", c.FullPath()).Msg("internal error")
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, ErrCodeInternal, detailInternal)
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func requestID(c *gin.Context) string {
	if id := middleware.RequestIDFrom(c); id != "" {
		return id
	}
	return c.Writer.Header().Get(middleware.HeaderRequestID)
}
