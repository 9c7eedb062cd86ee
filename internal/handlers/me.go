package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/platform/auth"
	"github.com/orchard-market/api/internal/platform/httpx"
	"github.com/orchard-market/api/internal/platform/pagination"
	"github.com/orchard-market/api/internal/repositories"
	"github.com/orchard-market/api/internal/services"
)

const defaultMeReviewPageSize = 20

// MeHandlers exposes user scoped read endpoints under /me.
type MeHandlers struct {
	authn     *auth.Authenticator
	addresses repositories.AddressRepository
	reviews   services.ReviewService
}

// NewMeHandlers constructs a new MeHandlers instance.
func NewMeHandlers(authn *auth.Authenticator, addresses repositories.AddressRepository, reviews services.ReviewService) *MeHandlers {
	return &MeHandlers{
		authn:     authn,
		addresses: addresses,
		reviews:   reviews,
	}
}

// Routes registers the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/addresses", h.listAddresses)
	r.Get("/reviews", h.listReviews)
}

func (h *MeHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		httpx.WriteError(ctx, w, httpx.NewError("address_store_unavailable", "address store unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	addresses, err := h.addresses.List(ctx, identity.UID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("address_error", "failed to load addresses", http.StatusInternalServerError))
		return
	}

	items := make([]addressPayload, 0, len(addresses))
	for _, address := range addresses {
		items = append(items, buildAddressPayload(address))
	}
	writeJSONResponse(w, http.StatusOK, addressListResponse{Items: items})
}

func (h *MeHandlers) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	pageSize, err := pagination.PageSize(query.Get("page_size"), defaultMeReviewPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.reviews.ListByUser(ctx, services.ListUserReviewsCommand{
		UserID: identity.UID,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	items := make([]reviewPayload, 0, len(page.Items))
	for _, review := range page.Items {
		items = append(items, buildReviewPayload(review))
	}
	writeJSONResponse(w, http.StatusOK, reviewListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type addressListResponse struct {
	Items []addressPayload `json:"items"`
}

type addressPayload struct {
	ID            string `json:"id"`
	ReceiverName  string `json:"receiver_name"`
	ReceiverPhone string `json:"receiver_phone"`
	Province      string `json:"province"`
	City          string `json:"city"`
	District      string `json:"district"`
	Detail        string `json:"detail"`
	IsDefault     bool   `json:"is_default"`
}

func buildAddressPayload(address domain.Address) addressPayload {
	return addressPayload{
		ID:            address.ID,
		ReceiverName:  address.ReceiverName,
		ReceiverPhone: address.ReceiverPhone,
		Province:      address.Province,
		City:          address.City,
		District:      address.District,
		Detail:        address.Detail,
		IsDefault:     address.IsDefault,
	}
}
