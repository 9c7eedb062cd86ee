package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/platform/httpx"
	"github.com/orchard-market/api/internal/platform/pagination"
	"github.com/orchard-market/api/internal/services"
)

const (
	defaultCatalogPageSize = 20
	maxCatalogPageSize     = 100
)

// CatalogHandlers exposes the public storefront read surface.
type CatalogHandlers struct {
	catalog services.CatalogService
	reviews services.ReviewService
}

// NewCatalogHandlers constructs a new CatalogHandlers instance.
func NewCatalogHandlers(catalog services.CatalogService, reviews services.ReviewService) *CatalogHandlers {
	return &CatalogHandlers{
		catalog: catalog,
		reviews: reviews,
	}
}

// Routes registers the public catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/categories", h.listCategories)
	r.Get("/categories/{categoryID}/products", h.listCategoryProducts)
	r.Get("/products", h.listProducts)
	r.Get("/products/{spuID}", h.getProduct)
	r.Get("/products/{spuID}/skus", h.listSKUs)
	r.Get("/products/{spuID}/reviews", h.listProductReviews)
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := services.CategoryListFilter{ActiveOnly: true}
	if raw := strings.TrimSpace(r.URL.Query().Get("parent_id")); raw != "" {
		filter.ParentID = &raw
	}

	categories, err := h.catalog.ListCategories(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		items = append(items, buildCategoryPayload(category))
	}
	writeJSONResponse(w, http.StatusOK, categoryListResponse{Items: items})
}

func (h *CatalogHandlers) listCategoryProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category id is required", http.StatusBadRequest))
		return
	}
	h.writeProductPage(w, r, services.ProductListFilter{CategoryID: categoryID, ActiveOnly: true})
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	h.writeProductPage(w, r, services.ProductListFilter{
		Search:     strings.TrimSpace(r.URL.Query().Get("search")),
		ActiveOnly: true,
	})
}

func (h *CatalogHandlers) writeProductPage(w http.ResponseWriter, r *http.Request, filter services.ProductListFilter) {
	ctx := r.Context()
	query := r.URL.Query()

	pageSize, err := pagination.PageSize(query.Get("page_size"), defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	spuID := strings.TrimSpace(chi.URLParam(r, "spuID"))
	if spuID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, spuID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *CatalogHandlers) listSKUs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	spuID := strings.TrimSpace(chi.URLParam(r, "spuID"))
	if spuID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	skus, err := h.catalog.ListSKUs(ctx, spuID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]skuPayload, 0, len(skus))
	for _, sku := range skus {
		items = append(items, buildSKUPayload(sku))
	}
	writeJSONResponse(w, http.StatusOK, skuListResponse{Items: items})
}

func (h *CatalogHandlers) listProductReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	spuID := strings.TrimSpace(chi.URLParam(r, "spuID"))
	if spuID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	pageSize, err := pagination.PageSize(query.Get("page_size"), defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.reviews.ListBySPU(ctx, services.ListProductReviewsCommand{
		SPUID: spuID,
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

// Payloads --------------------------------------------------------------------

type categoryListResponse struct {
	Items []categoryPayload `json:"items"`
}

type categoryPayload struct {
	ID        string  `json:"id"`
	ParentID  *string `json:"parent_id,omitempty"`
	Name      string  `json:"name"`
	Slug      string  `json:"slug"`
	SortOrder int     `json:"sort_order"`
	Active    bool    `json:"active"`
	CreatedAt string  `json:"created_at,omitempty"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

func buildCategoryPayload(category domain.Category) categoryPayload {
	return categoryPayload{
		ID:        category.ID,
		ParentID:  category.ParentID,
		Name:      category.Name,
		Slug:      category.Slug,
		SortOrder: category.SortOrder,
		Active:    category.Active,
		CreatedAt: formatTime(category.CreatedAt),
		UpdatedAt: formatTime(category.UpdatedAt),
	}
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productPayload struct {
	ID          string `json:"id"`
	CategoryID  string `json:"category_id"`
	Name        string `json:"name"`
	Subtitle    string `json:"subtitle,omitempty"`
	Description string `json:"description,omitempty"`
	MainImage   string `json:"main_image,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildProductPayload(product domain.ProductSPU) productPayload {
	return productPayload{
		ID:          product.ID,
		CategoryID:  product.CategoryID,
		Name:        product.Name,
		Subtitle:    product.Subtitle,
		Description: product.Description,
		MainImage:   product.MainImage,
		Active:      product.Active,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
}

type skuListResponse struct {
	Items []skuPayload `json:"items"`
}

type skuPayload struct {
	ID         string                `json:"id"`
	SPUID      string                `json:"spu_id"`
	Title      string                `json:"title"`
	Price      int64                 `json:"price"`
	Attributes []skuAttributePayload `json:"attributes,omitempty"`
	CoverImage string                `json:"cover_image,omitempty"`
	Active     bool                  `json:"active"`
}

type skuAttributePayload struct {
	AttributeID string `json:"attribute_id"`
	ValueID     string `json:"value_id"`
}

func buildSKUPayload(sku domain.ProductSKU) skuPayload {
	attributes := make([]skuAttributePayload, 0, len(sku.Attributes))
	for _, selection := range sku.Attributes {
		attributes = append(attributes, skuAttributePayload{
			AttributeID: selection.AttributeID,
			ValueID:     selection.ValueID,
		})
	}
	return skuPayload{
		ID:         sku.ID,
		SPUID:      sku.SPUID,
		Title:      sku.Title,
		Price:      sku.Price,
		Attributes: attributes,
		CoverImage: sku.CoverImage,
		Active:     sku.Active,
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_not_found", "catalog entity not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
