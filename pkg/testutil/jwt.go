package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"flotilla/pkg/auth"
)

// JWTHelper mints session tokens for tests that drive routes behind the
// dashboard auth middleware. The secret here is the one tests hand to the
// middleware; it never matches a real deployment secret.
type JWTHelper struct {
	Secret []byte
}

func NewJWTHelper() *JWTHelper {
	return &JWTHelper{Secret: []byte("test-secret-for-unit-tests")}
}

// ValidToken returns a signed session token for the given dashboard identity.
func (h *JWTHelper) ValidToken(userID, tenantID, email, role string) (string, error) {
	return auth.GenerateJWT(userID, tenantID, email, role, h.Secret)
}

// ExpiredToken returns a token whose session ended an hour ago.
func (h *JWTHelper) ExpiredToken(userID, tenantID, email, role string) (string, error) {
	now := time.Now()
	claims := &auth.Claims{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Secret)
}

// ForeignToken returns a token signed under a different secret, as an
// attacker or a stale deployment would present.
func (h *JWTHelper) ForeignToken(userID, tenantID, email, role string) (string, error) {
	return auth.GenerateJWT(userID, tenantID, email, role, []byte("some-other-deployment-secret"))
}
