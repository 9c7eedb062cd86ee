package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/payments"
	"github.com/orchard-market/api/internal/platform/auth"
	"github.com/orchard-market/api/internal/platform/httpx"
	"github.com/orchard-market/api/internal/platform/pagination"
	"github.com/orchard-market/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
)

type createOrderRequest struct {
	CartItemIDs   []string       `json:"cart_item_ids"`
	AddressID     string         `json:"address_id"`
	PaymentMethod string         `json:"payment_method"`
	Metadata      map[string]any `json:"metadata"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type checkoutSessionRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type requestRefundRequest struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

type createReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// OrderHandlers exposes the buyer-facing order lifecycle endpoints.
type OrderHandlers struct {
	authn         *auth.Authenticator
	orders        services.OrderService
	refunds       services.RefundService
	reviews       services.ReviewService
	checkout      services.CheckoutService
	payments      *payments.Manager
	reviewLimiter rateLimiter
}

// OrderHandlersConfig bundles the dependencies for NewOrderHandlers.
type OrderHandlersConfig struct {
	Authenticator *auth.Authenticator
	Orders        services.OrderService
	Refunds       services.RefundService
	Reviews       services.ReviewService
	Checkout      services.CheckoutService
	Payments      *payments.Manager
	ReviewLimit   int
	ReviewWindow  time.Duration
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(cfg OrderHandlersConfig) *OrderHandlers {
	limit := cfg.ReviewLimit
	window := cfg.ReviewWindow
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &OrderHandlers{
		authn:         cfg.Authenticator,
		orders:        cfg.Orders,
		refunds:       cfg.Refunds,
		reviews:       cfg.Reviews,
		checkout:      cfg.Checkout,
		payments:      cfg.Payments,
		reviewLimiter: newSimpleRateLimiter(limit, window, nil),
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Route("/{orderID}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Post("/cancel", h.cancelOrder)
		r.Post("/pay", h.payOrder)
		r.Post("/confirm-delivery", h.confirmDelivery)
		r.Post("/checkout-session", h.createCheckoutSession)
		r.Post("/refund", h.requestRefund)
		r.Get("/refund", h.getRefund)
		r.Post("/items/{itemID}/review", h.createReview)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var request createOrderRequest
	if err := json.Unmarshal(body, &request); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateFromCart(ctx, services.CreateOrderCommand{
		UserID:        identity.UID,
		CartItemIDs:   request.CartItemIDs,
		AddressID:     strings.TrimSpace(request.AddressID),
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(request.PaymentMethod))),
		Metadata:      cloneMap(request.Metadata),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		statuses = append(statuses, domain.OrderStatus(raw))
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize, err := pagination.PageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:    identity.UID,
		Status:    statuses,
		DateRange: dateRange,
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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var request cancelOrderRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		if err := json.Unmarshal(body, &request); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  identity.UID,
		Reason:  strings.TrimSpace(request.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

// payOrder settles a mock-method order synchronously. Stripe orders go
// through the checkout-session endpoint and the webhook instead.
func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil || h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment processing unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{OrderID: orderID, UserID: identity.UID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.PaymentMethod != domain.PaymentMethodMock {
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order is not payable with the mock method", http.StatusConflict))
		return
	}

	session, err := h.payments.CreateCheckoutSession(ctx, payments.PaymentContext{PreferredProvider: string(domain.PaymentMethodMock)}, payments.CheckoutSessionRequest{
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		OrderID:  order.ID,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "mock payment failed", http.StatusBadGateway))
		return
	}

	paid, err := h.orders.MarkPaid(ctx, services.MarkPaidCommand{
		OrderID:       order.ID,
		UserID:        identity.UID,
		PaymentMethod: domain.PaymentMethodMock,
		ProviderRef:   session.IntentID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(paid))
}

func (h *OrderHandlers) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.ConfirmDelivery(ctx, services.ConfirmDeliveryCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var request checkoutSessionRequest
	if err := json.Unmarshal(body, &request); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.CreateSession(ctx, services.CreateCheckoutSessionCommand{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:     identity.UID,
		SuccessURL: strings.TrimSpace(request.SuccessURL),
		CancelURL:  strings.TrimSpace(request.CancelURL),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, checkoutSessionPayload{
		SessionID: session.SessionID,
		URL:       session.URL,
		ExpiresAt: formatTime(session.ExpiresAt),
	})
}

func (h *OrderHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.refunds == nil {
		httpx.WriteError(ctx, w, httpx.NewError("refund_service_unavailable", "refund service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var request requestRefundRequest
	if err := json.Unmarshal(body, &request); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	refund, err := h.refunds.Request(ctx, services.RequestRefundCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  identity.UID,
		Reason:  domain.RefundReason(strings.ToLower(strings.TrimSpace(request.Reason))),
		Detail:  strings.TrimSpace(request.Detail),
	})
	if err != nil {
		writeRefundError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildRefundPayload(refund))
}

func (h *OrderHandlers) getRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.refunds == nil {
		httpx.WriteError(ctx, w, httpx.NewError("refund_service_unavailable", "refund service unavailable", http.StatusServiceUnavailable))
		return
	}

	refund, err := h.refunds.GetByOrder(ctx, services.GetRefundCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  identity.UID,
	})
	if err != nil {
		writeRefundError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRefundPayload(refund))
}

func (h *OrderHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.reviewLimiter != nil && !h.reviewLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many review submissions", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var request createReviewRequest
	if err := json.Unmarshal(body, &request); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Create(ctx, services.CreateReviewCommand{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderID")),
		LineItemID: strings.TrimSpace(chi.URLParam(r, "itemID")),
		UserID:     identity.UID,
		Rating:     request.Rating,
		Comment:    request.Comment,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildReviewPayload(review))
}

// Payloads --------------------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	TotalAmount int64  `json:"total_amount"`
	ItemCount   int    `json:"item_count"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Currency:    order.Currency,
		TotalAmount: order.TotalAmount,
		ItemCount:   len(order.Items),
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

type orderPayload struct {
	ID            string                 `json:"id"`
	OrderNumber   string                 `json:"order_number"`
	UserID        string                 `json:"user_id"`
	Status        string                 `json:"status"`
	Currency      string                 `json:"currency"`
	TotalAmount   int64                  `json:"total_amount"`
	PaymentMethod string                 `json:"payment_method"`
	Shipping      shippingPayload        `json:"shipping"`
	Shipment      *shipmentPayload       `json:"shipment,omitempty"`
	Items         []orderLineItemPayload `json:"items"`
	CreatedAt     string                 `json:"created_at,omitempty"`
	PaidAt        *string                `json:"paid_at,omitempty"`
	ShippedAt     *string                `json:"shipped_at,omitempty"`
	CompletedAt   *string                `json:"completed_at,omitempty"`
	CancelledAt   *string                `json:"cancelled_at,omitempty"`
}

type shippingPayload struct {
	ReceiverName  string `json:"receiver_name"`
	ReceiverPhone string `json:"receiver_phone"`
	Province      string `json:"province"`
	City          string `json:"city"`
	District      string `json:"district"`
	Detail        string `json:"detail"`
}

type shipmentPayload struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type orderLineItemPayload struct {
	ID         string `json:"id"`
	SKUID      string `json:"sku_id"`
	SKUTitle   string `json:"sku_title"`
	SPUName    string `json:"spu_name"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int64  `json:"quantity"`
	Subtotal   int64  `json:"subtotal"`
	IsReviewed bool   `json:"is_reviewed"`
}

type checkoutSessionPayload struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderLineItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineItemPayload{
			ID:         item.ID,
			SKUID:      item.SKUID,
			SKUTitle:   item.SKUTitle,
			SPUName:    item.SPUName,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Subtotal:   item.Subtotal,
			IsReviewed: item.IsReviewed,
		})
	}

	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		Currency:      order.Currency,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: string(order.PaymentMethod),
		Shipping: shippingPayload{
			ReceiverName:  order.Shipping.ReceiverName,
			ReceiverPhone: order.Shipping.ReceiverPhone,
			Province:      order.Shipping.Province,
			City:          order.Shipping.City,
			District:      order.Shipping.District,
			Detail:        order.Shipping.Detail,
		},
		Items:       items,
		CreatedAt:   formatTime(order.CreatedAt),
		PaidAt:      pointerTime(order.PaidAt),
		ShippedAt:   pointerTime(order.ShippedAt),
		CompletedAt: pointerTime(order.CompletedAt),
		CancelledAt: pointerTime(order.CancelledAt),
	}
	if order.Shipment != nil {
		payload.Shipment = &shipmentPayload{
			Carrier:        order.Shipment.Carrier,
			TrackingNumber: order.Shipment.TrackingNumber,
		}
	}
	return payload
}

type refundPayload struct {
	ID           string  `json:"id"`
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	Reason       string  `json:"reason"`
	BuyerNote    string  `json:"buyer_note,omitempty"`
	AdminRemark  string  `json:"admin_remark,omitempty"`
	RefundAmount int64   `json:"refund_amount"`
	CreatedAt    string  `json:"created_at,omitempty"`
	ProcessedAt  *string `json:"processed_at,omitempty"`
}

func buildRefundPayload(refund domain.RefundRequest) refundPayload {
	return refundPayload{
		ID:           refund.ID,
		OrderID:      refund.OrderID,
		Status:       string(refund.Status),
		Reason:       string(refund.Reason),
		BuyerNote:    refund.BuyerNote,
		AdminRemark:  refund.AdminRemark,
		RefundAmount: refund.RefundAmount,
		CreatedAt:    formatTime(refund.CreatedAt),
		ProcessedAt:  pointerTime(refund.ProcessedAt),
	}
}

// Shared error writers --------------------------------------------------------

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("request_too_large", "request body exceeds limit", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order does not belong to the caller", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeRefundError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrRefundInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRefundUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("refund_forbidden", "refund does not belong to the caller", http.StatusForbidden))
	case errors.Is(err, services.ErrRefundNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("refund_not_found", "refund request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrRefundConflict):
		httpx.WriteError(ctx, w, httpx.NewError("refund_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRefundInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("refund_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("refund_error", "failed to process refund request", http.StatusInternalServerError))
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutOrderNotFound), errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order does not belong to the caller", http.StatusForbidden))
	case errors.Is(err, services.ErrCheckoutInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment provider rejected the request", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to create checkout session", http.StatusInternalServerError))
	}
}
