package auth

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"flotilla/pkg/ctxkeys"
)

// Synthetic identity attached to requests authenticated with the shared
// service token.
const (
	serviceUserID   = "00000000-0000-0000-0000-000000000000"
	serviceTenantID = "00000000-0000-0000-0000-000000000001"
)

// bearerToken pulls the token out of an Authorization header value.
func bearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
	c.Abort()
}

// setIdentity records who is calling for handlers and the request logger.
func setIdentity(c *gin.Context, userID, tenantID, email, role, authType string) {
	c.Set(string(ctxkeys.KeyUserID), userID)
	c.Set(string(ctxkeys.KeyTenantID), tenantID)
	c.Set(string(ctxkeys.KeyEmail), email)
	c.Set(string(ctxkeys.KeyRole), role)
	c.Set(string(ctxkeys.KeyAuthType), authType)
}

// ServiceAuthMiddleware guards internal endpoints with the shared
// service-to-service bearer token.
func ServiceAuthMiddleware(expectedToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "authentication required")
			return
		}

		token, ok := bearerToken(header)
		if !ok {
			abortUnauthorized(c, "malformed authorization header")
			return
		}

		if err := ValidateServiceToken(token, expectedToken); err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Next()
	}
}

// JWTAuthMiddleware authenticates dashboard requests. Session tokens arrive
// as a Bearer header or, for browser clients, an httpOnly access_token
// cookie. Sibling services calling dashboard endpoints may present the
// shared service token instead; those requests get a synthetic service
// identity.
func JWTAuthMiddleware(secret []byte) gin.HandlerFunc {
	serviceToken := os.Getenv("SERVICE_TOKEN")

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			cookieToken, err := c.Cookie("access_token")
			if err != nil || cookieToken == "" {
				abortUnauthorized(c, "authentication required")
				return
			}
			header = "Bearer " + cookieToken
		}

		token, ok := bearerToken(header)
		if !ok {
			abortUnauthorized(c, "malformed authorization header")
			return
		}

		if claims, err := ValidateJWT(token, secret); err == nil {
			setIdentity(c, claims.UserID, claims.TenantID, claims.Email, claims.Role, "jwt")
			c.Set(string(ctxkeys.KeyJWTToken), token)
			// Also stash the token in the request context so code that
			// only sees a context.Context can forward the caller's
			// identity to collaborator services.
			ctx := context.WithValue(c.Request.Context(), ctxkeys.KeyJWTToken, token)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		if serviceToken != "" && ValidateServiceToken(token, serviceToken) == nil {
			setIdentity(c, serviceUserID, serviceTenantID, "service@internal", "service", "service")
			c.Next()
			return
		}

		abortUnauthorized(c, "invalid session token")
	}
}
