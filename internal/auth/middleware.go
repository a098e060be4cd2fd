package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Identity is the resolved caller identity attached to the request context.
type Identity struct {
	Subject string
}

type identityKey struct{}

// WithIdentity attaches an identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the caller identity from ctx.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticator resolves caller identity from bearer tokens or API keys.
type Authenticator struct {
	log     *slog.Logger
	tokens  *TokenManager
	apiKeys map[string]string
}

// NewAuthenticator constructs an Authenticator from config. With neither
// credential source configured it runs in disabled (dev) mode: every caller
// is "dev".
func NewAuthenticator(log *slog.Logger, cfg Config) (*Authenticator, error) {
	a := &Authenticator{log: log, apiKeys: cfg.APIKeys}

	if cfg.PasetoV4SecretKeyHex != "" {
		mgr, err := NewTokenManager(cfg.PasetoV4SecretKeyHex, cfg.Issuer, cfg.AccessTokenTTL, cfg.ClockSkew)
		if err != nil {
			return nil, err
		}
		a.tokens = mgr
	}

	if !a.Enabled() {
		log.Warn("auth.disabled", "reason", "no credential source configured")
	}
	return a, nil
}

// Enabled reports whether any credential source is configured.
func (a *Authenticator) Enabled() bool {
	return a.tokens != nil || len(a.apiKeys) > 0
}

// TokenManager returns the underlying token manager (nil when tokens are not
// configured).
func (a *Authenticator) TokenManager() *TokenManager { return a.tokens }

// Require wraps next and rejects requests without a valid credential.
// The resolved identity is attached to the request context.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), Identity{Subject: "dev"})))
			return
		}

		id, err := a.resolve(r)
		if err != nil {
			a.log.Info("auth.reject", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"message":"unauthorized"}`))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (a *Authenticator) resolve(r *http.Request) (Identity, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || a.tokens == nil {
			return Identity{}, ErrInvalidToken
		}
		claims, err := a.tokens.Verify(strings.TrimSpace(tok), time.Now().UTC())
		if err != nil {
			return Identity{}, err
		}
		return Identity{Subject: claims.Subject}, nil
	}

	if raw := r.Header.Get("X-API-Key"); raw != "" {
		subject, key, ok := strings.Cut(raw, ":")
		if !ok {
			return Identity{}, ErrInvalidKey
		}
		hash, found := a.apiKeys[subject]
		if !found {
			return Identity{}, ErrInvalidKey
		}
		match, err := VerifyAPIKey(hash, key)
		if err != nil || !match {
			return Identity{}, ErrInvalidKey
		}
		return Identity{Subject: subject}, nil
	}

	return Identity{}, ErrInvalidToken
}
