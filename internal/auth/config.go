package auth

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for caller authentication.
//
// It is environment-driven so deployments can rotate keys without code
// changes. Either credential source may be configured independently; when
// neither is, authentication is disabled (dev mode).
type Config struct {
	// Issuer is the value required in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL is the lifetime of tokens issued by this service's
	// TokenManager (operator tooling).
	AccessTokenTTL time.Duration

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key for
	// PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string

	// APIKeys maps caller subject -> Argon2id hash of the static key.
	APIKeys map[string]string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:         "whatsotp",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// Optional:
//   - WHATSOTP_PASETO_V4_SECRET_KEY_HEX
//   - WHATSOTP_AUTH_ISSUER
//   - WHATSOTP_AUTH_ACCESS_TTL
//   - WHATSOTP_AUTH_CLOCK_SKEW
//   - WHATSOTP_API_KEYS ("subject:argon2id-hash" pairs joined with ";")
//
// Returns ErrConfig when a set variable is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("WHATSOTP_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv("WHATSOTP_AUTH_ACCESS_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: WHATSOTP_AUTH_ACCESS_TTL", ErrConfig)
		}
		cfg.AccessTokenTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("WHATSOTP_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: WHATSOTP_AUTH_CLOCK_SKEW", ErrConfig)
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("WHATSOTP_PASETO_V4_SECRET_KEY_HEX"))

	if raw := strings.TrimSpace(os.Getenv("WHATSOTP_API_KEYS")); raw != "" {
		keys, err := ParseAPIKeys(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.APIKeys = keys
	}

	return cfg, nil
}

// ParseAPIKeys parses "subject:hash" pairs joined with ";".
func ParseAPIKeys(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		subject, hash, ok := strings.Cut(pair, ":")
		subject = strings.TrimSpace(subject)
		hash = strings.TrimSpace(hash)
		if !ok || subject == "" || !strings.HasPrefix(hash, "$argon2id$") {
			return nil, fmt.Errorf("%w: WHATSOTP_API_KEYS entry %q", ErrConfig, subject)
		}
		out[subject] = hash
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: WHATSOTP_API_KEYS is empty", ErrConfig)
	}
	return out, nil
}
