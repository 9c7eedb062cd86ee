package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orchard-market/api/internal/platform/httpx"
	"github.com/orchard-market/api/internal/platform/idempotency"
)

const defaultCleanupBatchSize = 200

// InternalHandlers serves operational endpoints invoked by Cloud Scheduler.
type InternalHandlers struct {
	idempotency idempotency.Store
	batchSize   int
	clock       func() time.Time
}

// InternalOption customises internal handler construction.
type InternalOption func(*InternalHandlers)

// WithIdempotencyStore wires the store drained by the cleanup endpoint.
func WithIdempotencyStore(store idempotency.Store) InternalOption {
	return func(h *InternalHandlers) {
		h.idempotency = store
	}
}

// WithCleanupBatchSize bounds how many records a single cleanup run removes.
func WithCleanupBatchSize(size int) InternalOption {
	return func(h *InternalHandlers) {
		if size > 0 {
			h.batchSize = size
		}
	}
}

// WithInternalClock injects a custom clock.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalHandlers constructs handlers for the /internal group.
func NewInternalHandlers(opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{
		batchSize: defaultCleanupBatchSize,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the internal maintenance endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/idempotency/cleanup", h.cleanupIdempotency)
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	if h.idempotency == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("service_unavailable", "idempotency store not configured", http.StatusServiceUnavailable))
		return
	}

	removed, err := h.idempotency.CleanupExpired(r.Context(), h.clock().UTC(), h.batchSize)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cleanup_failed", "failed to remove expired idempotency records", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"removed": removed})
}
