package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrMissingServiceToken = errors.New("missing service token")
	ErrInvalidServiceToken = errors.New("unrecognized service token")
)

// ValidateServiceToken checks a service-to-service bearer token. The
// comparison is constant time so the token cannot be guessed byte by byte
// from response timing.
func ValidateServiceToken(token, expectedToken string) error {
	if token == "" {
		return ErrMissingServiceToken
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return ErrInvalidServiceToken
	}

	return nil
}
