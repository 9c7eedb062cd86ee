package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/orchard-market/api/internal/domain"
	pfirestore "github.com/orchard-market/api/internal/platform/firestore"
	"github.com/orchard-market/api/internal/platform/pagination"
	"github.com/orchard-market/api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber   string              `firestore:"orderNumber"`
	UserID        string              `firestore:"userId"`
	Status        string              `firestore:"status"`
	Currency      string              `firestore:"currency"`
	TotalAmount   int64               `firestore:"totalAmount"`
	PaymentMethod string              `firestore:"paymentMethod"`
	Shipping      shippingDocument    `firestore:"shipping"`
	Shipment      *shipmentDocument   `firestore:"shipment,omitempty"`
	Items         []orderItemDocument `firestore:"items"`
	SKUIDs        []string            `firestore:"skuIds"`
	Metadata      map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	PaidAt        *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt     *time.Time          `firestore:"shippedAt,omitempty"`
	CompletedAt   *time.Time          `firestore:"completedAt,omitempty"`
	CancelledAt   *time.Time          `firestore:"cancelledAt,omitempty"`
}

type shippingDocument struct {
	ReceiverName  string `firestore:"receiverName"`
	ReceiverPhone string `firestore:"receiverPhone"`
	Province      string `firestore:"province"`
	City          string `firestore:"city"`
	District      string `firestore:"district"`
	Detail        string `firestore:"detail"`
}

type shipmentDocument struct {
	Carrier        string `firestore:"carrier"`
	TrackingNumber string `firestore:"trackingNumber"`
}

type orderItemDocument struct {
	ID         string `firestore:"id"`
	SKUID      string `firestore:"skuId"`
	SKUTitle   string `firestore:"skuTitle"`
	SPUName    string `firestore:"spuName"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int64  `firestore:"quantity"`
	Subtotal   int64  `firestore:"subtotal"`
	IsReviewed bool   `firestore:"isReviewed"`
}

// OrderRepository persists order aggregates with embedded line items.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document, failing with a conflict when the id exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.orders.Create(ctx, order.ID, encodeOrder(order))
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.orders.Set(ctx, order.ID, encodeOrder(order))
}

// FindByID loads the order aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// List pages orders newest first, optionally filtered by user, status, and date range.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 || pageSize > pagination.DefaultMaxPageSize {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].Data.CreatedAt, docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

// MarkItemReviewed flips the is_reviewed flag on one embedded line item.
func (r *OrderRepository) MarkItemReviewed(ctx context.Context, orderID string, lineItemID string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	itemID := strings.TrimSpace(lineItemID)
	if id == "" || itemID == "" {
		return errors.New("order repository: order id and line item id are required")
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Doc(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}

		found := false
		for i := range doc.Items {
			if doc.Items[i].ID == itemID {
				if doc.Items[i].IsReviewed {
					return pfirestore.ConflictError("orders.markItemReviewed",
						fmt.Errorf("line item %s already reviewed", itemID))
				}
				doc.Items[i].IsReviewed = true
				found = true
				break
			}
		}
		if !found {
			return pfirestore.NotFoundError("orders.markItemReviewed",
				fmt.Errorf("line item %s not found on order %s", itemID, id))
		}

		doc.UpdatedAt = now.UTC()
		return tx.Set(ref, doc)
	})
}

// CountItemsBySKU reports how many orders reference the SKU; used to protect
// SKUs against deletion while line items point at them.
func (r *OrderRepository) CountItemsBySKU(ctx context.Context, skuID string) (int64, error) {
	if r == nil || r.orders == nil {
		return 0, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(skuID)
	if id == "" {
		return 0, errors.New("order repository: sku id is required")
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("skuIds", "array-contains", id).Select()
	})
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		TotalAmount:   order.TotalAmount,
		PaymentMethod: string(order.PaymentMethod),
		Shipping: shippingDocument{
			ReceiverName:  order.Shipping.ReceiverName,
			ReceiverPhone: order.Shipping.ReceiverPhone,
			Province:      order.Shipping.Province,
			City:          order.Shipping.City,
			District:      order.Shipping.District,
			Detail:        order.Shipping.Detail,
		},
		Metadata:    order.Metadata,
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		PaidAt:      utcOrNil(order.PaidAt),
		ShippedAt:   utcOrNil(order.ShippedAt),
		CompletedAt: utcOrNil(order.CompletedAt),
		CancelledAt: utcOrNil(order.CancelledAt),
	}
	if order.Shipment != nil {
		doc.Shipment = &shipmentDocument{
			Carrier:        order.Shipment.Carrier,
			TrackingNumber: order.Shipment.TrackingNumber,
		}
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	seen := make(map[string]struct{}, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:         item.ID,
			SKUID:      item.SKUID,
			SKUTitle:   item.SKUTitle,
			SPUName:    item.SPUName,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Subtotal:   item.Subtotal,
			IsReviewed: item.IsReviewed,
		})
		if _, ok := seen[item.SKUID]; !ok {
			seen[item.SKUID] = struct{}{}
			doc.SKUIDs = append(doc.SKUIDs, item.SKUID)
		}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   doc.OrderNumber,
		UserID:        doc.UserID,
		Status:        domain.OrderStatus(doc.Status),
		Currency:      doc.Currency,
		TotalAmount:   doc.TotalAmount,
		PaymentMethod: domain.PaymentMethod(doc.PaymentMethod),
		Shipping: domain.ShippingSnapshot{
			ReceiverName:  doc.Shipping.ReceiverName,
			ReceiverPhone: doc.Shipping.ReceiverPhone,
			Province:      doc.Shipping.Province,
			City:          doc.Shipping.City,
			District:      doc.Shipping.District,
			Detail:        doc.Shipping.Detail,
		},
		Metadata:    doc.Metadata,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		PaidAt:      doc.PaidAt,
		ShippedAt:   doc.ShippedAt,
		CompletedAt: doc.CompletedAt,
		CancelledAt: doc.CancelledAt,
	}
	if doc.Shipment != nil {
		order.Shipment = &domain.Shipment{
			Carrier:        doc.Shipment.Carrier,
			TrackingNumber: doc.Shipment.TrackingNumber,
		}
	}
	order.Items = make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderLineItem{
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
	return order
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
