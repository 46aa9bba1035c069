// Package middleware contains shared Gin middleware used by the HTTP layer:
// correlation ids, access logging with redaction, panic recovery, Prometheus
// instrumentation, bearer-token identity, security headers and
// Idempotency-Key validation.
//
// Values produced by one middleware and consumed by another (or by handlers)
// travel through the Gin context under the keys declared in this file and are
// read back with the accessors below.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Gin context keys.
const (
	requestIDKey = "requestID"
	loggerKey    = "logger"
	identityKey  = "identity"
	userIDKey    = "userID"
	recordIDKey  = "recordID"
)

// RequestIDFrom returns the correlation id assigned by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// LoggerFrom returns the request-scoped logger attached by AccessLog. Outside
// that middleware it falls back to the global logger, so callers never need a
// nil check.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// attachLogger stores l in the Gin context and on the request context, where
// services pick it up through log.Ctx.
func attachLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(loggerKey, l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

// SetRecordID tags the exchange with the stored generation request it created
// or read. The id appears as "record_id" in the access log line.
func SetRecordID(c *gin.Context, id uint) {
	if id != 0 {
		c.Set(recordIDKey, id)
	}
}

func recordIDFrom(c *gin.Context) uint {
	return c.GetUint(recordIDKey)
}

// abortJSON ends the chain with the API error envelope.
func abortJSON(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"detail":     detail,
	})
}

// routeOf is the registered route of c, or "unmatched" for 404s so that
// probes of arbitrary paths cannot blow up log and metric cardinality.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
