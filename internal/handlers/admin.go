package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/platform/auth"
	"github.com/orchard-market/api/internal/platform/httpx"
	"github.com/orchard-market/api/internal/platform/pagination"
	"github.com/orchard-market/api/internal/services"
)

const maxAdminBodySize = 64 * 1024

type upsertCategoryRequest struct {
	Name      string  `json:"name"`
	Slug      string  `json:"slug"`
	ParentID  *string `json:"parent_id"`
	SortOrder int     `json:"sort_order"`
	Active    *bool   `json:"active"`
}

type upsertProductRequest struct {
	Name        string `json:"name"`
	Subtitle    string `json:"subtitle"`
	Description string `json:"description"`
	CategoryID  string `json:"category_id"`
	MainImage   string `json:"main_image"`
	Active      *bool  `json:"active"`
}

type upsertSKURequest struct {
	SPUID        string                `json:"spu_id"`
	Title        string                `json:"title"`
	Price        int64                 `json:"price"`
	Attributes   []skuAttributePayload `json:"attributes"`
	CoverImage   string                `json:"cover_image"`
	Active       *bool                 `json:"active"`
	InitialStock *int64                `json:"initial_stock"`
}

type upsertAttributeRequest struct {
	AttributeID string `json:"attribute_id"`
	Name        string `json:"name"`
	Values      []struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"values"`
}

type setStockRequest struct {
	Quantity int64 `json:"quantity"`
}

type shipOrderRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type batchShipRequest struct {
	Orders []batchShipLine `json:"orders"`
}

type batchShipLine struct {
	OrderID        string `json:"order_id"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type refundDecisionRequest struct {
	Remark string `json:"remark"`
}

type moderateReviewRequest struct {
	Status string `json:"status"`
}

// AdminHandlers exposes the staff-facing management endpoints.
type AdminHandlers struct {
	authn     *auth.Authenticator
	catalog   services.CatalogService
	inventory services.InventoryService
	orders    services.OrderService
	refunds   services.RefundService
	reviews   services.ReviewService
}

// AdminHandlersConfig bundles the dependencies for NewAdminHandlers.
type AdminHandlersConfig struct {
	Authenticator *auth.Authenticator
	Catalog       services.CatalogService
	Inventory     services.InventoryService
	Orders        services.OrderService
	Refunds       services.RefundService
	Reviews       services.ReviewService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(cfg AdminHandlersConfig) *AdminHandlers {
	return &AdminHandlers{
		authn:     cfg.Authenticator,
		catalog:   cfg.Catalog,
		inventory: cfg.Inventory,
		orders:    cfg.Orders,
		refunds:   cfg.Refunds,
		reviews:   cfg.Reviews,
	}
}

// Routes registers the /admin endpoints. All routes require a staff role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}

	r.Post("/categories", h.createCategory)
	r.Put("/categories/{categoryID}", h.updateCategory)
	r.Delete("/categories/{categoryID}", h.deleteCategory)
	r.Get("/categories/{categoryID}/attributes", h.listAttributes)
	r.Put("/categories/{categoryID}/attributes", h.upsertAttribute)

	r.Post("/products", h.createProduct)
	r.Put("/products/{spuID}", h.updateProduct)
	r.Delete("/products/{spuID}", h.deleteProduct)

	r.Post("/skus", h.createSKU)
	r.Put("/skus/{skuID}", h.updateSKU)
	r.Delete("/skus/{skuID}", h.deleteSKU)

	r.Get("/inventory/low-stock", h.listLowStock)
	r.Get("/inventory/{skuID}", h.getStock)
	r.Put("/inventory/{skuID}", h.setStock)

	r.Get("/orders", h.listOrders)
	r.Post("/orders/batch-ship", h.batchShipOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/ship", h.shipOrder)

	r.Get("/refunds", h.listRefunds)
	r.Post("/refunds/{refundID}/approve", h.approveRefund)
	r.Post("/refunds/{refundID}/reject", h.rejectRefund)

	r.Post("/reviews/{reviewID}/moderate", h.moderateReview)
}

func (h *AdminHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	h.upsertCategory(w, r, "")
}

func (h *AdminHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	h.upsertCategory(w, r, strings.TrimSpace(chi.URLParam(r, "categoryID")))
}

func (h *AdminHandlers) upsertCategory(w http.ResponseWriter, r *http.Request, categoryID string) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var request upsertCategoryRequest
	if !decodeAdminBody(w, r, &request) {
		return
	}

	cmd := services.UpsertCategoryCommand{
		CategoryID: categoryID,
		Name:       strings.TrimSpace(request.Name),
		Slug:       strings.TrimSpace(request.Slug),
		ParentID:   request.ParentID,
		SortOrder:  request.SortOrder,
		Active:     request.Active,
		ActorID:    identity.UID,
	}

	var (
		category domain.Category
		err      error
		status   = http.StatusOK
	)
	if categoryID == "" {
		category, err = h.catalog.CreateCategory(ctx, cmd)
		status = http.StatusCreated
	} else {
		category, err = h.catalog.UpdateCategory(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, status, buildCategoryPayload(category))
}

func (h *AdminHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.catalog.DeleteCategory(ctx, strings.TrimSpace(chi.URLParam(r, "categoryID"))); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusNoContent, nil)
}

func (h *AdminHandlers) listAttributes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attributes, err := h.catalog.ListAttributes(ctx, strings.TrimSpace(chi.URLParam(r, "categoryID")))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]attributePayload, 0, len(attributes))
	for _, attribute := range attributes {
		items = append(items, buildAttributePayload(attribute))
	}
	writeJSONResponse(w, http.StatusOK, attributeListResponse{Items: items})
}

func (h *AdminHandlers) upsertAttribute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var request upsertAttributeRequest
	if !decodeAdminBody(w, r, &request) {
		return
	}

	values := make([]domain.AttributeValue, 0, len(request.Values))
	for _, value := range request.Values {
		values = append(values, domain.AttributeValue{ID: strings.TrimSpace(value.ID), Value: strings.TrimSpace(value.Value)})
	}

	attribute, err := h.catalog.UpsertAttribute(ctx, services.UpsertAttributeCommand{
		AttributeID: strings.TrimSpace(request.AttributeID),
		CategoryID:  strings.TrimSpace(chi.URLParam(r, "categoryID")),
		Name:        strings.TrimSpace(request.Name),
		Values:      values,
		ActorID:     identity.UID,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAttributePayload(attribute))
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.upsertProduct(w, r, "")
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	h.upsertProduct(w, r, strings.TrimSpace(chi.URLParam(r, "spuID")))
}

func (h *AdminHandlers) upsertProduct(w http.ResponseWriter, r *http.Request, spuID string) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var request upsertProductRequest
	if !decodeAdminBody(w, r, &request) {
		return
	}

	cmd := services.UpsertProductCommand{
		SPUID:       spuID,
		Name:        strings.TrimSpace(request.Name),
		Subtitle:    strings.TrimSpace(request.Subtitle),
		Description: strings.TrimSpace(request.Description),
		CategoryID:  strings.TrimSpace(request.CategoryID),
		MainImage:   strings.TrimSpace(request.MainImage),
		Active:      request.Active,
		ActorID:     identity.UID,
	}

	var (
		product domain.ProductSPU
		err     error
		status  = http.StatusOK
	)
	if spuID == "" {
		product, err = h.catalog.CreateProduct(ctx, cmd)
		status = http.StatusCreated
	} else {
		product, err = h.catalog.UpdateProduct(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, status, buildProductPayload(product))
}

func (h *AdminHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.catalog.DeleteProduct(ctx, strings.TrimSpace(chi.URLParam(r, "spuID"))); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusNoContent, nil)
}

func (h *AdminHandlers) createSKU(w http.ResponseWriter, r *http.Request) {
	h.upsertSKU(w, r, "")
}

func (h *AdminHandlers) updateSKU(w http.ResponseWriter, r *http.Request) {
	h.upsertSKU(w, r, strings.TrimSpace(chi.URLParam(r, "skuID")))
}

func (h *AdminHandlers) upsertSKU(w http.ResponseWriter, r *http.Request, skuID string) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var request upsertSKURequest
	if !decodeAdminBody(w, r, &request) {
		return
	}

	attributes := make([]domain.AttributeSelection, 0, len(request.Attributes))
	for _, selection := range request.Attributes {
		attributes = append(attributes, domain.AttributeSelection{
			AttributeID: strings.TrimSpace(selection.AttributeID),
			ValueID:     strings.TrimSpace(selection.ValueID),
		})
	}

	cmd := services.UpsertSKUCommand{
		SKUID:        skuID,
		SPUID:        strings.TrimSpace(request.SPUID),
		Title:        strings.TrimSpace(request.Title),
		Price:        request.Price,
		Attributes:   attributes,
		CoverImage:   strings.TrimSpace(request.CoverImage),
		Active:       request.Active,
		ActorID:      identity.UID,
		InitialStock: request.InitialStock,
	}

	var (
		sku    domain.ProductSKU
		err    error
		status = http.StatusOK
	)
	if skuID == "" {
		sku, err = h.catalog.CreateSKU(ctx, cmd)
		status = http.StatusCreated
	} else {
		sku, err = h.catalog.UpdateSKU(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, status, buildSKUPayload(sku))
}

func (h *AdminHandlers) deleteSKU(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.catalog.DeleteSKU(ctx, strings.TrimSpace(chi.URLParam(r, "skuID"))); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusNoContent, nil)
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	record, err := h.inventory.GetStock(ctx, strings.TrimSpace(chi.URLParam(r, "skuID")))
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildInventoryPayload(record))
}

func (h *AdminHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var request setStockRequest
	if !decodeAdminBody(w, r, &request) {
		return
	}

	record, err := h.inventory.SetStock(ctx, services.SetStockCommand{
		SKUID:    strings.TrimSpace(chi.URLParam(r, "skuID")),
		Quantity: request.Quantity,
		ActorID:  identity.UID,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildInventoryPayload(record))
}

func (h *AdminHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	threshold := int64(10)
	if raw := strings.TrimSpace(query.Get("threshold")); raw != "" {
		parsed, err := parseInt64Param(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "threshold must be a non-negative integer", http.StatusBadRequest))
			return
		}
		threshold = parsed
	}

	pageSize, err := pagination.PageSize(query.Get("page_size"), defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.ListLowStock(ctx, services.LowStockFilter{
		Threshold: threshold,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]inventoryPayload, 0, len(page.Items))
	for _, record := range page.Items {
		items = append(items, buildInventoryPayload(record))
	}
	writeJSONResponse(w, http.StatusOK, inventoryListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		statuses = append(statuses, domain.OrderStatus(raw))
	}

	pageSize, err := pagination.PageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID: strings.TrimSpace(query.Get("user_id")),
		Status: statuses,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Admin:   true,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var request shipOrderRequest
	if !decodeAdminBody(w, r, &request) {
		return
	}

	order, err := h.orders.Ship(ctx, services.ShipOrderCommand{
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		Carrier:        strings.TrimSpace(request.Carrier),
		TrackingNumber: strings.TrimSpace(request.TrackingNumber),
		ActorID:        identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

const maxBatchShipLines = 50

// batchShipOrders ships a batch of orders in one call. Each line succeeds or
// fails on its own; a bad tracking number on one order does not hold up the
// rest of the pick list.
func (h *AdminHandlers) batchShipOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var request batchShipRequest
	if !decodeAdminBody(w, r, &request) {
		return
	}
	if len(request.Orders) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orders must not be empty", http.StatusBadRequest))
		return
	}
	if len(request.Orders) > maxBatchShipLines {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many orders in one batch", http.StatusBadRequest))
		return
	}

	results := make([]batchShipResultPayload, 0, len(request.Orders))
	for _, line := range request.Orders {
		order, err := h.orders.Ship(ctx, services.ShipOrderCommand{
			OrderID:        strings.TrimSpace(line.OrderID),
			Carrier:        strings.TrimSpace(line.Carrier),
			TrackingNumber: strings.TrimSpace(line.TrackingNumber),
			ActorID:        identity.UID,
		})
		if err != nil {
			results = append(results, batchShipResultPayload{
				OrderID: strings.TrimSpace(line.OrderID),
				Error:   orderErrorCode(err),
			})
			continue
		}
		results = append(results, batchShipResultPayload{
			OrderID: order.ID,
			Status:  string(order.Status),
		})
	}
	writeJSONResponse(w, http.StatusOK, batchShipResponse{Results: results})
}

func (h *AdminHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var statuses []domain.RefundStatus
	for _, raw := range parseFilterValues(query["status"]) {
		statuses = append(statuses, domain.RefundStatus(raw))
	}

	pageSize, err := pagination.PageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.refunds.List(ctx, services.RefundListFilter{
		Status: statuses,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeRefundError(ctx, w, err)
		return
	}

	items := make([]refundPayload, 0, len(page.Items))
	for _, refund := range page.Items {
		items = append(items, buildRefundPayload(refund))
	}
	writeJSONResponse(w, http.StatusOK, refundListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) approveRefund(w http.ResponseWriter, r *http.Request) {
	h.decideRefund(w, r, true)
}

func (h *AdminHandlers) rejectRefund(w http.ResponseWriter, r *http.Request) {
	h.decideRefund(w, r, false)
}

func (h *AdminHandlers) decideRefund(w http.ResponseWriter, r *http.Request, approve bool) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var request refundDecisionRequest
	if body, err := readLimitedBody(r, maxAdminBodySize); err == nil {
		if err := json.Unmarshal(body, &request); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.ProcessRefundCommand{
		RefundID: strings.TrimSpace(chi.URLParam(r, "refundID")),
		ActorID:  identity.UID,
		Remark:   strings.TrimSpace(request.Remark),
	}

	var (
		refund domain.RefundRequest
		err    error
	)
	if approve {
		refund, err = h.refunds.Approve(ctx, cmd)
	} else {
		refund, err = h.refunds.Reject(ctx, cmd)
	}
	if err != nil {
		writeRefundError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRefundPayload(refund))
}

func (h *AdminHandlers) moderateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var request moderateReviewRequest
	if !decodeAdminBody(w, r, &request) {
		return
	}

	review, err := h.reviews.Moderate(ctx, services.ModerateReviewCommand{
		ReviewID: strings.TrimSpace(chi.URLParam(r, "reviewID")),
		Status:   domain.ReviewStatus(strings.ToLower(strings.TrimSpace(request.Status))),
		ActorID:  identity.UID,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildReviewPayload(review))
}

// decodeAdminBody reads and unmarshals the request body, writing the error
// response itself when it fails.
func decodeAdminBody(w http.ResponseWriter, r *http.Request, target any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

type attributeListResponse struct {
	Items []attributePayload `json:"items"`
}

type attributePayload struct {
	ID         string                  `json:"id"`
	CategoryID string                  `json:"category_id"`
	Name       string                  `json:"name"`
	Values     []attributeValuePayload `json:"values"`
}

type attributeValuePayload struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

func buildAttributePayload(attribute domain.Attribute) attributePayload {
	values := make([]attributeValuePayload, 0, len(attribute.Values))
	for _, value := range attribute.Values {
		values = append(values, attributeValuePayload{ID: value.ID, Value: value.Value})
	}
	return attributePayload{
		ID:         attribute.ID,
		CategoryID: attribute.CategoryID,
		Name:       attribute.Name,
		Values:     values,
	}
}

type inventoryListResponse struct {
	Items         []inventoryPayload `json:"items"`
	NextPageToken string             `json:"next_page_token,omitempty"`
}

type inventoryPayload struct {
	SKUID     string `json:"sku_id"`
	Quantity  int64  `json:"quantity"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildInventoryPayload(record domain.InventoryRecord) inventoryPayload {
	return inventoryPayload{
		SKUID:     record.SKUID,
		Quantity:  record.Quantity,
		UpdatedAt: formatTime(record.UpdatedAt),
	}
}

type batchShipResponse struct {
	Results []batchShipResultPayload `json:"results"`
}

type batchShipResultPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// orderErrorCode flattens a shipping failure into the same codes the
// single-order endpoints use in their error envelopes.
func orderErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		return "invalid_request"
	case errors.Is(err, services.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, services.ErrOrderInvalidState):
		return "order_invalid_state"
	case errors.Is(err, services.ErrOrderConflict):
		return "order_conflict"
	default:
		return "order_error"
	}
}

type refundListResponse struct {
	Items         []refundPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("inventory_not_found", "inventory record not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}

func parseInt64Param(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}
