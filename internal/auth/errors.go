package auth

import "errors"

var (
	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidKey is returned when an API key does not match.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrInvalidHash is returned for malformed/unsupported stored hashes.
	ErrInvalidHash = errors.New("invalid argon2id hash")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid auth config")
)
