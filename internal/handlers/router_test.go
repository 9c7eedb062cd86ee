package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func perform(router chi.Router, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

// errorCode extracts the error code from the JSON error envelope.
func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestNewRouterHealthEndpoints(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.2.3", StartedAt: now.Add(-time.Minute)}),
		WithHealthClock(func() time.Time { return now }),
	)))

	for _, target := range []string{"/healthz", "/readyz"} {
		rr := perform(router, http.MethodGet, target)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", target, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: expected content-type application/json, got %s", target, ct)
		}
	}
}

func TestNewRouterFallbackResponses(t *testing.T) {
	router := NewRouter()

	cases := []struct {
		name   string
		method string
		target string
		status int
		code   string
	}{
		{"unregistered group answers 501", http.MethodGet, "/api/v1/orders", http.StatusNotImplemented, "not_implemented"},
		{"unregistered catalog answers 501", http.MethodGet, "/api/v1/products", http.StatusNotImplemented, "not_implemented"},
		{"unknown route answers 404", http.MethodGet, "/does/not/exist", http.StatusNotFound, "route_not_found"},
		{"wrong method answers 405", http.MethodPost, "/healthz", http.StatusMethodNotAllowed, "method_not_allowed"},
		{"internal absent by default", http.MethodPost, "/internal/idempotency/cleanup", http.StatusNotFound, "route_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := perform(router, tc.method, tc.target)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected %s error, got %s", tc.code, code)
			}
		})
	}
}

func TestNewRouterMountsRegistrars(t *testing.T) {
	noContent := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

	router := NewRouter(
		WithPublicRoutes(func(r chi.Router) { r.Get("/categories", noContent) }),
		WithMeRoutes(func(r chi.Router) { r.Get("/cart", noContent) }),
		WithAdminRoutes(func(r chi.Router) { r.Get("/products", noContent) }),
	)

	for _, target := range []string{"/api/v1/categories", "/api/v1/me/cart", "/api/v1/admin/products"} {
		if rr := perform(router, http.MethodGet, target); rr.Code != http.StatusNoContent {
			t.Errorf("%s: expected status 204, got %d", target, rr.Code)
		}
	}
}

func TestNewRouterGroupMiddlewares(t *testing.T) {
	tag := func(value string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Test-Middleware", value)
				next.ServeHTTP(w, r)
			})
		}
	}
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

	router := NewRouter(
		WithWebhookRoutes(func(r chi.Router) { r.Post("/stripe", ok) }),
		WithWebhookMiddlewares(tag("webhooks")),
		WithInternalRoutes(func(r chi.Router) { r.Post("/idempotency/cleanup", ok) }),
		WithInternalMiddlewares(tag("internal")),
	)

	rr := perform(router, http.MethodPost, "/api/v1/webhooks/stripe")
	if rr.Code != http.StatusOK || rr.Header().Get("X-Test-Middleware") != "webhooks" {
		t.Fatalf("webhook group: status %d middleware %q", rr.Code, rr.Header().Get("X-Test-Middleware"))
	}

	rr = perform(router, http.MethodPost, "/internal/idempotency/cleanup")
	if rr.Code != http.StatusOK || rr.Header().Get("X-Test-Middleware") != "internal" {
		t.Fatalf("internal group: status %d middleware %q", rr.Code, rr.Header().Get("X-Test-Middleware"))
	}

	// The internal group stays outside the API prefix.
	if rr := perform(router, http.MethodPost, "/api/v1/internal/idempotency/cleanup"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected internal routes outside api prefix, got %d", rr.Code)
	}
}
