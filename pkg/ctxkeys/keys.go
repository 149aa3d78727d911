// Package ctxkeys defines the typed context keys shared between the auth
// middleware and downstream code. Handlers read the same values from gin
// via c.GetString(string(key)); the typed form exists for plain
// context.Context plumbing, where string keys collide across packages.
package ctxkeys

import (
	"context"
)

// Key is the distinct string type used for request-scoped identity values,
// so entries cannot collide with other packages' context keys.
type Key string

const (
	KeyUserID    Key = "user_id"
	KeyTenantID  Key = "tenant_id"
	KeyEmail     Key = "email"
	KeyRole      Key = "role"
	KeyJWTToken  Key = "jwt_token"
	KeyAuthType  Key = "auth_type"
	KeyRequestID Key = "request_id"
)

// GetJWTToken extracts the caller's JWT from a request context, for
// clients that forward user identity to collaborator services.
func GetJWTToken(ctx context.Context) string {
	if v, ok := ctx.Value(KeyJWTToken).(string); ok {
		return v
	}
	return ""
}
