package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func postOrder(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func decodeErrorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Error
}

func TestMiddlewareRequiresKeyHeader(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testNow }))

	ran := false
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		ran = true
	})).ServeHTTP(rec, postOrder("", `{"sku":"mug"}`))

	if ran {
		t.Fatalf("handler ran without an idempotency key")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("error = %q", code)
	}
}

func TestMiddlewarePassesThroughSafeMethods(t *testing.T) {
	mw := Middleware(NewMemoryStore())

	ran := false
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !ran || rec.Code != http.StatusOK {
		t.Fatalf("GET should bypass the guard: ran=%v status=%d", ran, rec.Code)
	}
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testNow }))

	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ord_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder("key-1", `{"sku":"mug"}`))
	if calls != 1 || first.Code != http.StatusCreated {
		t.Fatalf("first request: calls=%d status=%d", calls, first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder("key-1", `{"sku":"mug"}`))
	if calls != 1 {
		t.Fatalf("handler ran again on retry, calls=%d", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", second.Code)
	}
	if second.Header().Get(replayHeader) != "true" {
		t.Fatalf("replay header missing")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("replay content type = %q", second.Header().Get("Content-Type"))
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replay body = %q, want %q", second.Body.String(), first.Body.String())
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testNow }))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder("key-2", `{"sku":"mug"}`))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder("key-2", `{"sku":"vase"}`))
	if second.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", second.Code)
	}
	if code := decodeErrorCode(t, second.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("error = %q", code)
	}
}

func TestMiddlewareConflictsWhileFirstRequestInFlight(t *testing.T) {
	store := NewMemoryStore()
	mw := Middleware(store, WithClock(func() time.Time { return testNow }))
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run while the key is pending")
	}))

	req := postOrder("key-3", `{"sku":"mug"}`)
	body, err := bufferBody(req)
	if err != nil {
		t.Fatalf("buffer body: %v", err)
	}
	caller := callerID(req.Context())
	fp := fingerprint(req, body, caller)
	if _, err := store.Reserve(req.Context(), "key-3|"+caller, fp, testNow, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("error = %q", code)
	}
}

func TestMiddlewareReleasesKeyWhenSaveFails(t *testing.T) {
	store := &failingSaveStore{}
	mw := Middleware(store, WithClock(func() time.Time { return testNow }))

	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})).ServeHTTP(rec, postOrder("key-4", `{"sku":"mug"}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "idempotency_store_error" {
		t.Fatalf("error = %q", code)
	}
	if !store.released {
		t.Fatalf("reservation not released after save failure")
	}
}

func TestMemoryStoreReclaimsExpiredKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	res, err := store.Reserve(ctx, "key-5", "fp-a", testNow, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("initial reserve: state=%v err=%v", res.State, err)
	}

	// After expiry even a different fingerprint takes the key over.
	res, err = store.Reserve(ctx, "key-5", "fp-b", testNow.Add(2*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("post-expiry reserve: state=%v err=%v", res.State, err)
	}

	removed, err := store.CleanupExpired(ctx, testNow.Add(time.Hour), 10)
	if err != nil || removed != 1 {
		t.Fatalf("cleanup: removed=%d err=%v", removed, err)
	}
}

type failingSaveStore struct {
	released bool
}

func (s *failingSaveStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *failingSaveStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return errors.New("save failed")
}

func (s *failingSaveStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *failingSaveStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
