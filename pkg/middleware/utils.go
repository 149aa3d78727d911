package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"flotilla/pkg/ctxkeys"
	"flotilla/pkg/logging"
)

// GetRequestID returns the ID assigned by RequestIDMiddleware, or ""
// when the middleware is not mounted.
func GetRequestID(c *gin.Context) string {
	return c.GetString(string(ctxkeys.KeyRequestID))
}

// GetContextLogger returns a logger pre-tagged with the request's
// correlation fields, for handlers that log mid-request.
func GetContextLogger(c *gin.Context, logger logging.Logger) *logrus.Entry {
	return logger.WithFields(logging.Fields{
		"request_id": GetRequestID(c),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"client_ip":  c.ClientIP(),
		"tenant_id":  c.GetString(string(ctxkeys.KeyTenantID)),
		"user_id":    c.GetString(string(ctxkeys.KeyUserID)),
	})
}
