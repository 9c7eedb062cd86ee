package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of items together with the next page token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Category is a flat catalog grouping with a parent pointer.
type Category struct {
	ID        string
	ParentID  *string
	Name      string
	Slug      string
	SortOrder int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductSPU is a product concept grouping purchasable variants.
type ProductSPU struct {
	ID          string
	CategoryID  string
	Name        string
	Subtitle    string
	Description string
	MainImage   string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductSKU is a purchasable variant with its own price and stock record.
type ProductSKU struct {
	ID         string
	SPUID      string
	Title      string
	Price      int64
	Attributes []AttributeSelection
	CoverImage string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AttributeSelection binds an attribute key to the value chosen for a SKU.
type AttributeSelection struct {
	AttributeID string
	ValueID     string
}

// Attribute is a variant dimension (e.g. color) scoped to a category.
type Attribute struct {
	ID         string
	CategoryID string
	Name       string
	Values     []AttributeValue
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AttributeValue is a single selectable value of an attribute.
type AttributeValue struct {
	ID    string
	Value string
}

// InventoryRecord tracks the on-hand quantity for a single SKU.
//
// Quantity is never negative; reservations decrement it only after an
// in-transaction sufficiency check.
type InventoryRecord struct {
	SKUID     string
	Quantity  int64
	UpdatedAt time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment completion.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment succeeded.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped indicates staff handed the order to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCompleted indicates the buyer confirmed delivery.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the buyer aborted the order before payment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates an approved refund closed the order.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentMethod enumerates how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodMock settles the order synchronously without a gateway.
	PaymentMethodMock PaymentMethod = "mock"
	// PaymentMethodStripe settles the order through a Stripe checkout session.
	PaymentMethodStripe PaymentMethod = "stripe"
)

// ShippingSnapshot is the receiver information denormalized onto the order
// at creation time.
type ShippingSnapshot struct {
	ReceiverName  string
	ReceiverPhone string
	Province      string
	City          string
	District      string
	Detail        string
}

// Shipment stores carrier information recorded when staff ship an order.
type Shipment struct {
	Carrier        string
	TrackingNumber string
}

// Order is the aggregate root for a purchase.
//
// TotalAmount equals the sum of line item subtotals at creation time and is
// never recomputed afterwards.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        OrderStatus
	Currency      string
	TotalAmount   int64
	PaymentMethod PaymentMethod
	Shipping      ShippingSnapshot
	Shipment      *Shipment
	Items         []OrderLineItem
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PaidAt        *time.Time
	ShippedAt     *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
}

// OrderLineItem is the immutable snapshot of a purchased SKU.
type OrderLineItem struct {
	ID         string
	SKUID      string
	SKUTitle   string
	SPUName    string
	UnitPrice  int64
	Quantity   int64
	Subtotal   int64
	IsReviewed bool
}

// RefundStatus enumerates the single-shot refund request lifecycle.
type RefundStatus string

const (
	// RefundStatusPending indicates the request awaits a staff decision.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusApproved indicates staff approved the refund.
	RefundStatusApproved RefundStatus = "approved"
	// RefundStatusRejected indicates staff rejected the refund.
	RefundStatusRejected RefundStatus = "rejected"
)

// RefundReason enumerates the buyer-selectable refund reasons.
type RefundReason string

const (
	// RefundReasonNotReceived indicates the order never arrived.
	RefundReasonNotReceived RefundReason = "not_received"
	// RefundReasonNotAsDescribed indicates the goods differ from the listing.
	RefundReasonNotAsDescribed RefundReason = "not_as_described"
	// RefundReasonQualityIssue indicates defective goods.
	RefundReasonQualityIssue RefundReason = "quality_issue"
	// RefundReasonWrongItem indicates the wrong item was delivered.
	RefundReasonWrongItem RefundReason = "wrong_item"
	// RefundReasonOther covers anything else; the buyer note carries detail.
	RefundReasonOther RefundReason = "other"
)

// RefundRequest is the one-to-one refund companion to an order.
//
// RefundAmount is fixed at creation (the full order total) and never mutated.
type RefundRequest struct {
	ID           string
	OrderID      string
	UserID       string
	Status       RefundStatus
	Reason       RefundReason
	BuyerNote    string
	AdminRemark  string
	RefundAmount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time
}

// ReviewStatus enumerates review moderation states.
type ReviewStatus string

const (
	// ReviewStatusPending indicates the review awaits moderation.
	ReviewStatusPending ReviewStatus = "pending"
	// ReviewStatusApproved indicates the review is publicly visible.
	ReviewStatusApproved ReviewStatus = "approved"
	// ReviewStatusRejected indicates the review was hidden by moderation.
	ReviewStatusRejected ReviewStatus = "rejected"
)

// Review is a buyer's rating of a single purchased line item.
type Review struct {
	ID         string
	OrderID    string
	LineItemID string
	SPUID      string
	UserID     string
	Rating     int
	Comment    string
	Status     ReviewStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OwnershipGrant records that a user owns a SKU, granted on payment success
// and on delivery confirmation. Grants are idempotent per (user, SKU) pair.
type OwnershipGrant struct {
	ID        string
	UserID    string
	SKUID     string
	OrderID   string
	GrantedAt time.Time
}

// Address is a stored shipping address owned by a user.
type Address struct {
	ID            string
	UserID        string
	ReceiverName  string
	ReceiverPhone string
	Province      string
	City          string
	District      string
	Detail        string
	IsDefault     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartItem is a single SKU selection in a user's cart.
type CartItem struct {
	ID       string
	SKUID    string
	Quantity int64
	AddedAt  time.Time
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// IsTerminal reports whether the order status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}
