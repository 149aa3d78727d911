// Package middleware carries the shared Gin middleware chain: request
// IDs, structured request logs, panic recovery, and CORS.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"flotilla/pkg/ctxkeys"
	"flotilla/pkg/logging"
)

// Context is the request context type handlers accept.
type Context = *gin.Context

// HandlerFunc is the middleware function type.
type HandlerFunc = gin.HandlerFunc

// RequestIDMiddleware tags each request with an ID, honoring one supplied
// by the caller so IDs correlate across service hops.
func RequestIDMiddleware() HandlerFunc {
	return func(c Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(string(ctxkeys.KeyRequestID), requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// LoggingMiddleware emits one structured line per request. It runs after
// the handler chain, so identity fields set by the auth middleware are
// present by the time the line is written.
func LoggingMiddleware(logger logging.Logger) HandlerFunc {
	return func(c Context) {
		start := time.Now()

		c.Next()

		logger.WithFields(logging.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"latency":    time.Since(start),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
			"request_id": GetRequestID(c),
			"tenant_id":  c.GetString(string(ctxkeys.KeyTenantID)),
			"user_id":    c.GetString(string(ctxkeys.KeyUserID)),
		}).Info("Request completed")
	}
}

// RecoveryMiddleware converts handler panics into a JSON 500 so the
// process survives and the client still gets a parseable body.
func RecoveryMiddleware(logger logging.Logger) HandlerFunc {
	return func(c Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithFields(logging.Fields{
					"error":      err,
					"client_ip":  c.ClientIP(),
					"method":     c.Request.Method,
					"path":       c.Request.URL.Path,
					"request_id": GetRequestID(c),
				}).Error("Recovered handler panic")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()

		c.Next()
	}
}

// CORSMiddleware answers preflight requests and marks every response as
// callable from any origin. The dashboard runs on a different host.
func CORSMiddleware() HandlerFunc {
	return func(c Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
