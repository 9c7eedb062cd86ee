package services

import (
	"context"
	"time"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	SortOrder       = domain.SortOrder
	Category        = domain.Category
	ProductSPU      = domain.ProductSPU
	ProductSKU      = domain.ProductSKU
	Attribute       = domain.Attribute
	AttributeValue  = domain.AttributeValue
	InventoryRecord = domain.InventoryRecord
	Order           = domain.Order
	OrderLineItem   = domain.OrderLineItem
	OrderStatus     = domain.OrderStatus
	PaymentMethod   = domain.PaymentMethod
	Shipment        = domain.Shipment
	RefundRequest   = domain.RefundRequest
	RefundStatus    = domain.RefundStatus
	RefundReason    = domain.RefundReason
	Review          = domain.Review
	ReviewStatus    = domain.ReviewStatus
	OwnershipGrant  = domain.OwnershipGrant
	Cart            = domain.Cart
	CartItem        = domain.CartItem
	Address         = domain.Address
)

// CatalogService serves storefront browsing and admin catalog maintenance.
type CatalogService interface {
	ListCategories(ctx context.Context, filter CategoryListFilter) ([]Category, error)
	GetCategory(ctx context.Context, categoryID string) (Category, error)
	CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	DeleteCategory(ctx context.Context, categoryID string) error
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[ProductSPU], error)
	GetProduct(ctx context.Context, spuID string) (ProductSPU, error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (ProductSPU, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (ProductSPU, error)
	DeleteProduct(ctx context.Context, spuID string) error
	ListSKUs(ctx context.Context, spuID string) ([]ProductSKU, error)
	GetSKU(ctx context.Context, skuID string) (ProductSKU, error)
	CreateSKU(ctx context.Context, cmd UpsertSKUCommand) (ProductSKU, error)
	UpdateSKU(ctx context.Context, cmd UpsertSKUCommand) (ProductSKU, error)
	DeleteSKU(ctx context.Context, skuID string) error
	ListAttributes(ctx context.Context, categoryID string) ([]Attribute, error)
	UpsertAttribute(ctx context.Context, cmd UpsertAttributeCommand) (Attribute, error)
}

// InventoryService centralizes stock reads and admin adjustments; order flows
// reserve and release stock through the order service's unit of work.
type InventoryService interface {
	GetStock(ctx context.Context, skuID string) (InventoryRecord, error)
	SetStock(ctx context.Context, cmd SetStockCommand) (InventoryRecord, error)
	ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[InventoryRecord], error)
}

// OrderService encapsulates order creation and the status lifecycle.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error)
	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	ConfirmDelivery(ctx context.Context, cmd ConfirmDeliveryCommand) (Order, error)
}

// RefundService manages the one-to-one refund request attached to an order.
type RefundService interface {
	Request(ctx context.Context, cmd RequestRefundCommand) (RefundRequest, error)
	GetByOrder(ctx context.Context, cmd GetRefundCommand) (RefundRequest, error)
	List(ctx context.Context, filter RefundListFilter) (domain.CursorPage[RefundRequest], error)
	Approve(ctx context.Context, cmd ProcessRefundCommand) (RefundRequest, error)
	Reject(ctx context.Context, cmd ProcessRefundCommand) (RefundRequest, error)
}

// ReviewService coordinates per-line-item review creation and moderation.
type ReviewService interface {
	Create(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	ListBySPU(ctx context.Context, cmd ListProductReviewsCommand) (domain.CursorPage[Review], error)
	ListByUser(ctx context.Context, cmd ListUserReviewsCommand) (domain.CursorPage[Review], error)
	Moderate(ctx context.Context, cmd ModerateReviewCommand) (Review, error)
}

// CheckoutService coordinates PSP session creation and webhook ingestion.
type CheckoutService interface {
	CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
	HandleStripeEvent(ctx context.Context, cmd StripeWebhookCommand) error
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// RefundEventPublisher accepts refund decision notifications for downstream processing.
type RefundEventPublisher interface {
	PublishRefundEvent(ctx context.Context, event RefundEvent) error
}

// ReviewEventPublisher accepts review submissions for downstream moderation tooling.
type ReviewEventPublisher interface {
	PublishReviewEvent(ctx context.Context, event ReviewEvent) error
}

// Command and DTO definitions ------------------------------------------------

type CategoryListFilter struct {
	ParentID   *string
	ActiveOnly bool
}

type UpsertCategoryCommand struct {
	CategoryID string
	Name       string
	Slug       string
	ParentID   *string
	SortOrder  int
	Active     *bool
	ActorID    string
}

type ProductListFilter struct {
	CategoryID string
	Search     string
	ActiveOnly bool
	Pagination
}

type UpsertProductCommand struct {
	SPUID       string
	Name        string
	Subtitle    string
	Description string
	CategoryID  string
	MainImage   string
	Active      *bool
	ActorID     string
}

type UpsertSKUCommand struct {
	SKUID      string
	SPUID      string
	Title      string
	Price      int64
	Attributes []domain.AttributeSelection
	CoverImage string
	Active     *bool
	ActorID    string
	// InitialStock seeds the inventory record when the SKU is first created.
	InitialStock *int64
}

type UpsertAttributeCommand struct {
	AttributeID string
	CategoryID  string
	Name        string
	Values      []AttributeValue
	ActorID     string
}

type SetStockCommand struct {
	SKUID    string
	Quantity int64
	ActorID  string
}

type LowStockFilter struct {
	Threshold int64
	Pagination
}

type CreateOrderCommand struct {
	UserID        string
	CartItemIDs   []string
	AddressID     string
	PaymentMethod PaymentMethod
	Metadata      map[string]any
}

type GetOrderCommand struct {
	OrderID string
	UserID  string
	// Admin bypasses the ownership check.
	Admin bool
}

type OrderListFilter = repositories.OrderListFilter

type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Admin   bool
	Reason  string
}

type MarkPaidCommand struct {
	OrderID       string
	UserID        string
	PaymentMethod PaymentMethod
	// ProviderRef stores the PSP's reference (Stripe session id, mock receipt).
	ProviderRef string
	// AllowRepeat treats an already-paid order as success so webhook
	// redeliveries stay idempotent.
	AllowRepeat bool
	// SkipOwnerCheck is set for webhook-driven payments where no user
	// identity accompanies the request.
	SkipOwnerCheck bool
}

type ShipOrderCommand struct {
	OrderID        string
	Carrier        string
	TrackingNumber string
	ActorID        string
}

type ConfirmDeliveryCommand struct {
	OrderID string
	UserID  string
	Admin   bool
}

type RequestRefundCommand struct {
	OrderID string
	UserID  string
	Reason  RefundReason
	Detail  string
}

type GetRefundCommand struct {
	OrderID string
	UserID  string
	Admin   bool
}

type RefundListFilter = repositories.RefundListFilter

type ProcessRefundCommand struct {
	RefundID string
	ActorID  string
	Remark   string
}

type CreateReviewCommand struct {
	OrderID    string
	LineItemID string
	UserID     string
	Rating     int
	Comment    string
}

type ListProductReviewsCommand struct {
	SPUID string
	Pagination
}

type ListUserReviewsCommand struct {
	UserID string
	Pagination
}

type ModerateReviewCommand struct {
	ReviewID string
	Status   ReviewStatus
	ActorID  string
}

type CreateCheckoutSessionCommand struct {
	OrderID    string
	UserID     string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession carries the PSP redirect details returned to the client.
type CheckoutSession struct {
	SessionID string
	URL       string
	ExpiresAt time.Time
}

type StripeWebhookCommand struct {
	Payload   []byte
	Signature string
}

type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	OccurredAt     time.Time
	Metadata       map[string]any
}

type RefundEvent struct {
	Type       string
	RefundID   string
	OrderID    string
	Status     RefundStatus
	OccurredAt time.Time
}

type ReviewEvent struct {
	Type       string
	ReviewID   string
	SPUID      string
	Rating     int
	OccurredAt time.Time
}
