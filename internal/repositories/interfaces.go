package repositories

import (
	"context"
	"time"

	domain "github.com/orchard-market/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Categories() CategoryRepository
	Products() ProductRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Refunds() RefundRepository
	Reviews() ReviewRepository
	Ownership() OwnershipRepository
	Carts() CartRepository
	Addresses() AddressRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CategoryRepository stores the flat category list.
type CategoryRepository interface {
	Insert(ctx context.Context, category domain.Category) error
	Update(ctx context.Context, category domain.Category) error
	Delete(ctx context.Context, categoryID string) error
	FindByID(ctx context.Context, categoryID string) (domain.Category, error)
	List(ctx context.Context, filter CategoryFilter) ([]domain.Category, error)
}

// ProductRepository bundles SPU, SKU, and attribute storage with shared transactions.
type ProductRepository interface {
	InsertSPU(ctx context.Context, spu domain.ProductSPU) error
	UpdateSPU(ctx context.Context, spu domain.ProductSPU) error
	DeleteSPU(ctx context.Context, spuID string) error
	GetSPU(ctx context.Context, spuID string) (domain.ProductSPU, error)
	ListSPUs(ctx context.Context, filter SPUFilter) (domain.CursorPage[domain.ProductSPU], error)

	InsertSKU(ctx context.Context, sku domain.ProductSKU) error
	UpdateSKU(ctx context.Context, sku domain.ProductSKU) error
	// DeleteSKU fails with a conflict while any order line item references the SKU.
	DeleteSKU(ctx context.Context, skuID string) error
	GetSKU(ctx context.Context, skuID string) (domain.ProductSKU, error)
	ListSKUs(ctx context.Context, spuID string) ([]domain.ProductSKU, error)

	GetAttribute(ctx context.Context, attributeID string) (domain.Attribute, error)
	ListAttributes(ctx context.Context, categoryID string) ([]domain.Attribute, error)
	UpsertAttribute(ctx context.Context, attribute domain.Attribute) (domain.Attribute, error)
}

// InventoryRepository manages per-SKU stock with transactional guarantees.
//
// Reserve performs an atomic conditional decrement: the sufficiency check and
// the write happen inside one storage transaction so concurrent reservations
// cannot overdraw stock.
type InventoryRepository interface {
	Reserve(ctx context.Context, req InventoryReserveRequest) (InventoryAdjustResult, error)
	Release(ctx context.Context, req InventoryReleaseRequest) (InventoryAdjustResult, error)
	Get(ctx context.Context, skuID string) (domain.InventoryRecord, error)
	Put(ctx context.Context, record domain.InventoryRecord) error
	ListLowStock(ctx context.Context, query InventoryLowStockQuery) (domain.CursorPage[domain.InventoryRecord], error)
}

// InventoryLine pairs a SKU with a quantity for reserve/release requests.
type InventoryLine struct {
	SKUID    string
	Quantity int64
}

// InventoryReserveRequest decrements stock for every line or fails as a whole.
type InventoryReserveRequest struct {
	Lines []InventoryLine
	Now   time.Time
}

// InventoryReleaseRequest restores stock unconditionally for every line.
type InventoryReleaseRequest struct {
	Lines []InventoryLine
	Now   time.Time
}

// InventoryAdjustResult reports the updated records keyed by SKU id.
type InventoryAdjustResult struct {
	Records map[string]domain.InventoryRecord
}

// InventoryLowStockQuery controls pagination and threshold filtering for low stock listings.
type InventoryLowStockQuery struct {
	Threshold int64
	PageSize  int
	PageToken string
}

// OrderRepository persists order headers with embedded line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// MarkItemReviewed flips the is_reviewed flag on a single line item.
	MarkItemReviewed(ctx context.Context, orderID string, lineItemID string, now time.Time) error
	// CountItemsBySKU reports how many line items across all orders reference the SKU.
	CountItemsBySKU(ctx context.Context, skuID string) (int64, error)
}

// RefundRepository persists the one-to-one refund request per order.
type RefundRepository interface {
	Insert(ctx context.Context, refund domain.RefundRequest) error
	Update(ctx context.Context, refund domain.RefundRequest) error
	FindByID(ctx context.Context, refundID string) (domain.RefundRequest, error)
	FindByOrder(ctx context.Context, orderID string) (domain.RefundRequest, error)
	List(ctx context.Context, filter RefundListFilter) (domain.CursorPage[domain.RefundRequest], error)
}

// ReviewRepository stores per-line-item reviews.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) (domain.Review, error)
	FindByID(ctx context.Context, reviewID string) (domain.Review, error)
	FindByLineItem(ctx context.Context, orderID string, lineItemID string) (domain.Review, error)
	ListBySPU(ctx context.Context, spuID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	UpdateStatus(ctx context.Context, reviewID string, status domain.ReviewStatus, update ReviewModerationUpdate) (domain.Review, error)
}

// OwnershipRepository records idempotent (user, SKU) ownership grants.
type OwnershipRepository interface {
	// Grant creates the grant when absent and returns the existing one
	// unchanged when present.
	Grant(ctx context.Context, grant domain.OwnershipGrant) (domain.OwnershipGrant, bool, error)
	Exists(ctx context.Context, userID string, skuID string) (bool, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.OwnershipGrant], error)
}

// CartRepository reads and clears the external cart; the cart surface itself
// is owned by another system.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	// ReplaceItems overwrites the cart contents; order creation uses it to
	// drop the consumed entries. Write-only so it can follow inventory
	// writes inside the same transaction.
	ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) error
}

// AddressRepository reads stored shipping addresses per user.
type AddressRepository interface {
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	List(ctx context.Context, userID string) ([]domain.Address, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (HealthReport, error)
}

// HealthReport aggregates dependency status for readiness checks.
type HealthReport struct {
	Checks      []HealthCheck
	CollectedAt time.Time
}

// HealthCheck captures a single dependency probe result.
type HealthCheck struct {
	Name    string
	Healthy bool
	Detail  string
	Latency time.Duration
}

// Filter DTOs shared across repositories ------------------------------------

type CategoryFilter struct {
	ParentID   *string
	ActiveOnly bool
}

type SPUFilter struct {
	CategoryID *string
	ActiveOnly bool
	Search     string
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type RefundListFilter struct {
	Status     []domain.RefundStatus
	Pagination domain.Pagination
}

// ReviewModerationUpdate carries moderation metadata for status transitions.
type ReviewModerationUpdate struct {
	ModeratedBy string
	ModeratedAt time.Time
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
