package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSimpleRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	limiter := newSimpleRateLimiter(2, time.Minute, clock)

	if !limiter.Allow("user-1") || !limiter.Allow("user-1") {
		t.Fatalf("expected first two requests to pass")
	}
	if limiter.Allow("user-1") {
		t.Fatalf("expected third request inside the window to be rejected")
	}
	if !limiter.Allow("user-2") {
		t.Fatalf("expected separate keys to have separate budgets")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("user-1") {
		t.Fatalf("expected the window to reset after it elapses")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
		req.RemoteAddr = addr
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if send("10.0.0.1:1234", "") != http.StatusOK || send("10.0.0.1:5678", "") != http.StatusOK {
		t.Fatalf("expected first two requests from the same host to pass")
	}
	if send("10.0.0.1:9999", "") != http.StatusTooManyRequests {
		t.Fatalf("expected third request to be limited")
	}
	if send("10.0.0.2:1234", "") != http.StatusOK {
		t.Fatalf("expected a different host to have its own budget")
	}
	// The forwarded hop identifies the caller when a proxy sits in front.
	if send("10.0.0.1:1234", "203.0.113.7, 10.0.0.1") != http.StatusOK {
		t.Fatalf("expected forwarded client to have its own budget")
	}
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	handler := RateLimitMiddleware(0, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected zero limit to disable the guard, got %d", rr.Code)
		}
	}
}

func TestSimpleRateLimiterDisabled(t *testing.T) {
	if limiter := newSimpleRateLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
	if limiter := newSimpleRateLimiter(5, 0, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero window")
	}
}
