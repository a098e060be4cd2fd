package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func identityEcho(t *testing.T, want string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			t.Errorf("no identity on context")
		}
		if id.Subject != want {
			t.Errorf("subject=%q want=%q", id.Subject, want)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireDisabledModeAllowsAsDev(t *testing.T) {
	t.Parallel()

	a, err := NewAuthenticator(discardLogger(), DefaultConfig())
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	if a.Enabled() {
		t.Fatalf("authenticator enabled with no credential source")
	}

	rr := httptest.NewRecorder()
	a.Require(identityEcho(t, "dev")).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/otp/logs", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusOK)
	}
}

func TestRequireBearerToken(t *testing.T) {
	t.Parallel()

	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()

	a, err := NewAuthenticator(discardLogger(), cfg)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	tok, _, err := a.TokenManager().Issue("billing-svc", time.Now().UTC())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/otp/send", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	a.Require(identityEcho(t, "billing-svc")).ServeHTTP(rr, r)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusOK)
	}

	// Missing and malformed credentials are rejected with the JSON error shape.
	for _, header := range []string{"", "Bearer not-a-token", "Basic abc"} {
		r := httptest.NewRequest(http.MethodPost, "/otp/send", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		a.Require(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Errorf("handler reached with credentials %q", header)
		})).ServeHTTP(rr, r)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status=%d want=%d", header, rr.Code, http.StatusUnauthorized)
		}
		if got := rr.Body.String(); got != `{"success":false,"message":"unauthorized"}` {
			t.Fatalf("body=%q", got)
		}
	}
}

func TestRequireAPIKey(t *testing.T) {
	t.Parallel()

	hash, err := HashAPIKey("super-secret-api-key", testParams())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	cfg := DefaultConfig()
	cfg.APIKeys = map[string]string{"notifications": hash}

	a, err := NewAuthenticator(discardLogger(), cfg)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/otp/send", nil)
	r.Header.Set("X-API-Key", "notifications:super-secret-api-key")
	rr := httptest.NewRecorder()
	a.Require(identityEcho(t, "notifications")).ServeHTTP(rr, r)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusOK)
	}

	for _, raw := range []string{
		"notifications:wrong-key",
		"unknown-subject:super-secret-api-key",
		"no-separator",
	} {
		r := httptest.NewRequest(http.MethodPost, "/otp/send", nil)
		r.Header.Set("X-API-Key", raw)
		rr := httptest.NewRecorder()
		a.Require(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Errorf("handler reached with key %q", raw)
		})).ServeHTTP(rr, r)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: status=%d want=%d", raw, rr.Code, http.StatusUnauthorized)
		}
	}
}
