package auth

import "errors"

var (
	// ErrTokenInvalid is returned for a token that fails signature,
	// expiry, issuer or subject checks.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrSecretMissing is returned when signing without a secret.
	ErrSecretMissing = errors.New("auth: jwt secret is not configured")
)
