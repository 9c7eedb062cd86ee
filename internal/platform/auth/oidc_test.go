package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type quietLogger struct{}

func (quietLogger) Printf(string, ...any) {}

type oidcFixture struct {
	validator *OIDCValidator
	token     string
}

func newOIDCFixture(t *testing.T, mutate func(jwt.MapClaims)) oidcFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{
		Key:       &key.PublicKey,
		KeyID:     "push-key",
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=600")
		if err := json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}); err != nil {
			t.Fatalf("encode jwks: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	prevTimeFunc := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = prevTimeFunc })

	cache := NewJWKSCache(server.URL,
		WithJWKSLogger(quietLogger{}),
		WithJWKSClock(func() time.Time { return now }),
	)
	validator := NewOIDCValidator(cache, WithOIDCLogger(quietLogger{}))

	claims := jwt.MapClaims{
		"aud":   []string{"https://api.orchard.example"},
		"iss":   "https://accounts.google.com",
		"sub":   "112233445566",
		"email": "pubsub-push@orchard.example",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	unsigned.Header["kid"] = "push-key"
	signed, err := unsigned.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return oidcFixture{validator: validator, token: signed}
}

func TestJWKSCacheSingleFetchWhileFresh(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{
		Key:       &key.PublicKey,
		KeyID:     "rot-1",
		Algorithm: jwt.SigningMethodRS256.Alg(),
		Use:       "sig",
	}

	var mu sync.Mutex
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetches++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "max-age=3600")
		if err := json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}); err != nil {
			t.Fatalf("encode jwks: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	cache := NewJWKSCache(server.URL,
		WithJWKSLogger(quietLogger{}),
		WithJWKSClock(func() time.Time { return time.Unix(1_000_000, 0) }),
	)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := cache.Key(ctx, "rot-1")
		if err != nil {
			t.Fatalf("Key call %d: %v", i, err)
		}
		if _, ok := got.(*rsa.PublicKey); !ok {
			t.Fatalf("Key call %d: got %T, want *rsa.PublicKey", i, got)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if fetches != 1 {
		t.Fatalf("fetches = %d, want 1", fetches)
	}
}

func TestJWKSCacheUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     "known",
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}})
	}))
	t.Cleanup(server.Close)

	cache := NewJWKSCache(server.URL, WithJWKSLogger(quietLogger{}))
	if _, err := cache.Key(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown kid")
	}
}

func TestRequireOIDCAcceptsValidToken(t *testing.T) {
	fx := newOIDCFixture(t, nil)
	gate := fx.validator.RequireOIDC("https://api.orchard.example", []string{"https://accounts.google.com"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/events", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token)

	gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("service identity missing from context")
		}
		if identity.Email != "pubsub-push@orchard.example" {
			t.Fatalf("email = %q", identity.Email)
		}
		if identity.Issuer != "https://accounts.google.com" {
			t.Fatalf("issuer = %q", identity.Issuer)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestRequireOIDCRejectsAudienceMismatch(t *testing.T) {
	fx := newOIDCFixture(t, nil)
	gate := fx.validator.RequireOIDC("https://other.orchard.example", []string{"https://accounts.google.com"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/events", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	gate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run on audience mismatch")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireOIDCRejectsUnknownIssuer(t *testing.T) {
	fx := newOIDCFixture(t, func(claims jwt.MapClaims) {
		claims["iss"] = "https://evil.example"
	})
	gate := fx.validator.RequireOIDC("https://api.orchard.example", []string{"https://accounts.google.com"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/events", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	gate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run for unknown issuer")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireOIDCAcceptsIAPHeader(t *testing.T) {
	fx := newOIDCFixture(t, func(claims jwt.MapClaims) {
		claims["aud"] = []string{"/projects/123/global/backendServices/456"}
		claims["iss"] = "https://cloud.google.com/iap"
	})
	gate := fx.validator.RequireOIDC("/projects/123/global/backendServices/456", []string{"https://cloud.google.com/iap"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/events", nil)
	req.Header.Set("X-Goog-Iap-Jwt-Assertion", fx.token)
	gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestRequireOIDCRetryableWhenJWKSDown(t *testing.T) {
	fx := newOIDCFixture(t, nil)
	fx.validator.cache.url = "http://127.0.0.1:1/jwks"

	gate := fx.validator.RequireOIDC("https://api.orchard.example", []string{"https://accounts.google.com"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/events", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	gate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run when keys cannot be fetched")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
