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

const refundsCollection = "refundRequests"

type refundDocument struct {
	OrderID      string     `firestore:"orderId"`
	UserID       string     `firestore:"userId"`
	Status       string     `firestore:"status"`
	Reason       string     `firestore:"reason"`
	BuyerNote    string     `firestore:"buyerNote,omitempty"`
	AdminRemark  string     `firestore:"adminRemark,omitempty"`
	RefundAmount int64      `firestore:"refundAmount"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
	ProcessedAt  *time.Time `firestore:"processedAt,omitempty"`
}

// RefundRepository persists the one-to-one refund request per order.
type RefundRepository struct {
	provider *pfirestore.Provider
	refunds  *pfirestore.Collection[refundDocument]
}

// NewRefundRepository constructs a Firestore-backed refund repository.
func NewRefundRepository(provider *pfirestore.Provider) (*RefundRepository, error) {
	if provider == nil {
		return nil, errors.New("refund repository requires firestore provider")
	}
	return &RefundRepository{
		provider: provider,
		refunds:  pfirestore.NewCollection[refundDocument](provider, refundsCollection),
	}, nil
}

// Insert creates the refund request. The one-per-order invariant is enforced
// with a transactional duplicate check on the order id.
func (r *RefundRepository) Insert(ctx context.Context, refund domain.RefundRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("refund repository not initialised")
	}
	if strings.TrimSpace(refund.ID) == "" {
		return errors.New("refund repository: refund id is required")
	}
	orderID := strings.TrimSpace(refund.OrderID)
	if orderID == "" {
		return errors.New("refund repository: order id is required")
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := r.refunds.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("orderId", "==", orderID).Limit(1)
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return pfirestore.ConflictError("refunds.insert",
				fmt.Errorf("refund request already exists for order %s", orderID))
		}

		ref, err := r.refunds.Doc(ctx, refund.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, encodeRefund(refund))
	})
}

// Update overwrites the refund request document.
func (r *RefundRepository) Update(ctx context.Context, refund domain.RefundRequest) error {
	if r == nil || r.refunds == nil {
		return errors.New("refund repository not initialised")
	}
	if strings.TrimSpace(refund.ID) == "" {
		return errors.New("refund repository: refund id is required")
	}
	return r.refunds.Set(ctx, refund.ID, encodeRefund(refund))
}

// FindByID loads a refund request.
func (r *RefundRepository) FindByID(ctx context.Context, refundID string) (domain.RefundRequest, error) {
	if r == nil || r.refunds == nil {
		return domain.RefundRequest{}, errors.New("refund repository not initialised")
	}
	doc, err := r.refunds.Get(ctx, strings.TrimSpace(refundID))
	if err != nil {
		return domain.RefundRequest{}, err
	}
	return decodeRefund(doc.ID, doc.Data), nil
}

// FindByOrder loads the refund request attached to an order, if any.
func (r *RefundRepository) FindByOrder(ctx context.Context, orderID string) (domain.RefundRequest, error) {
	if r == nil || r.refunds == nil {
		return domain.RefundRequest{}, errors.New("refund repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.RefundRequest{}, errors.New("refund repository: order id is required")
	}

	docs, err := r.refunds.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", id).Limit(1)
	})
	if err != nil {
		return domain.RefundRequest{}, err
	}
	if len(docs) == 0 {
		return domain.RefundRequest{}, pfirestore.NotFoundError("refunds.findByOrder",
			fmt.Errorf("no refund request for order %s", id))
	}
	return decodeRefund(docs[0].ID, docs[0].Data), nil
}

// List pages refund requests for staff, oldest pending first.
func (r *RefundRepository) List(ctx context.Context, filter repositories.RefundListFilter) (domain.CursorPage[domain.RefundRequest], error) {
	if r == nil || r.refunds == nil {
		return domain.CursorPage[domain.RefundRequest]{}, errors.New("refund repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 || pageSize > pagination.DefaultMaxPageSize {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.RefundRequest]{}, err
	}

	docs, err := r.refunds.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.RefundRequest]{}, err
	}

	page := domain.CursorPage[domain.RefundRequest]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].Data.CreatedAt, docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.RefundRequest]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decodeRefund(doc.ID, doc.Data))
	}
	return page, nil
}

func encodeRefund(refund domain.RefundRequest) refundDocument {
	return refundDocument{
		OrderID:      refund.OrderID,
		UserID:       refund.UserID,
		Status:       string(refund.Status),
		Reason:       string(refund.Reason),
		BuyerNote:    refund.BuyerNote,
		AdminRemark:  refund.AdminRemark,
		RefundAmount: refund.RefundAmount,
		CreatedAt:    refund.CreatedAt.UTC(),
		UpdatedAt:    refund.UpdatedAt.UTC(),
		ProcessedAt:  utcOrNil(refund.ProcessedAt),
	}
}

func decodeRefund(id string, doc refundDocument) domain.RefundRequest {
	return domain.RefundRequest{
		ID:           id,
		OrderID:      doc.OrderID,
		UserID:       doc.UserID,
		Status:       domain.RefundStatus(doc.Status),
		Reason:       domain.RefundReason(doc.Reason),
		BuyerNote:    doc.BuyerNote,
		AdminRemark:  doc.AdminRemark,
		RefundAmount: doc.RefundAmount,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		ProcessedAt:  doc.ProcessedAt,
	}
}

var _ repositories.RefundRepository = (*RefundRepository)(nil)
