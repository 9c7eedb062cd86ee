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

const reviewsCollection = "reviews"

type reviewDocument struct {
	OrderID     string     `firestore:"orderId"`
	LineItemID  string     `firestore:"lineItemId"`
	SPUID       string     `firestore:"spuId"`
	UserID      string     `firestore:"userId"`
	Rating      int        `firestore:"rating"`
	Comment     string     `firestore:"comment"`
	Status      string     `firestore:"status"`
	ModeratedBy string     `firestore:"moderatedBy,omitempty"`
	ModeratedAt *time.Time `firestore:"moderatedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

// ReviewRepository stores per-line-item reviews.
type ReviewRepository struct {
	provider *pfirestore.Provider
	reviews  *pfirestore.Collection[reviewDocument]
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	return &ReviewRepository{
		provider: provider,
		reviews:  pfirestore.NewCollection[reviewDocument](provider, reviewsCollection),
	}, nil
}

// Insert creates the review, enforcing one review per line item.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.provider == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	if strings.TrimSpace(review.ID) == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("orderId", "==", review.OrderID).
				Where("lineItemId", "==", review.LineItemID).
				Limit(1)
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return pfirestore.ConflictError("reviews.insert",
				fmt.Errorf("review already exists for line item %s", review.LineItemID))
		}

		ref, err := r.reviews.Doc(ctx, review.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, encodeReview(review))
	})
	if err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// FindByID loads a review.
func (r *ReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	doc, err := r.reviews.Get(ctx, strings.TrimSpace(reviewID))
	if err != nil {
		return domain.Review{}, err
	}
	return decodeReview(doc.ID, doc.Data), nil
}

// FindByLineItem loads the review attached to an order line item, if any.
func (r *ReviewRepository) FindByLineItem(ctx context.Context, orderID string, lineItemID string) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	docs, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID)).
			Where("lineItemId", "==", strings.TrimSpace(lineItemID)).
			Limit(1)
	})
	if err != nil {
		return domain.Review{}, err
	}
	if len(docs) == 0 {
		return domain.Review{}, pfirestore.NotFoundError("reviews.findByLineItem",
			fmt.Errorf("no review for line item %s", lineItemID))
	}
	return decodeReview(docs[0].ID, docs[0].Data), nil
}

// ListBySPU pages approved reviews for a product, newest first.
func (r *ReviewRepository) ListBySPU(ctx context.Context, spuID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	return r.list(ctx, "spuId", spuID, pager)
}

// ListByUser pages a buyer's reviews, newest first.
func (r *ReviewRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	return r.list(ctx, "userId", userID, pager)
}

func (r *ReviewRepository) list(ctx context.Context, field string, value string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	if r == nil || r.reviews == nil {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository not initialised")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 || pageSize > pagination.DefaultMaxPageSize {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	docs, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where(field, "==", strings.TrimSpace(value)).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	page := domain.CursorPage[domain.Review]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].Data.CreatedAt, docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.Review]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decodeReview(doc.ID, doc.Data))
	}
	return page, nil
}

// UpdateStatus transitions the review moderation state.
func (r *ReviewRepository) UpdateStatus(ctx context.Context, reviewID string, status domain.ReviewStatus, update repositories.ReviewModerationUpdate) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(reviewID)
	if id == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}

	moderatedAt := update.ModeratedAt.UTC()
	err := r.reviews.Update(ctx, id, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "moderatedBy", Value: update.ModeratedBy},
		{Path: "moderatedAt", Value: moderatedAt},
		{Path: "updatedAt", Value: moderatedAt},
	})
	if err != nil {
		return domain.Review{}, err
	}
	return r.FindByID(ctx, id)
}

func encodeReview(review domain.Review) reviewDocument {
	return reviewDocument{
		OrderID:    review.OrderID,
		LineItemID: review.LineItemID,
		SPUID:      review.SPUID,
		UserID:     review.UserID,
		Rating:     review.Rating,
		Comment:    review.Comment,
		Status:     string(review.Status),
		CreatedAt:  review.CreatedAt.UTC(),
		UpdatedAt:  review.UpdatedAt.UTC(),
	}
}

func decodeReview(id string, doc reviewDocument) domain.Review {
	return domain.Review{
		ID:         id,
		OrderID:    doc.OrderID,
		LineItemID: doc.LineItemID,
		SPUID:      doc.SPUID,
		UserID:     doc.UserID,
		Rating:     doc.Rating,
		Comment:    doc.Comment,
		Status:     domain.ReviewStatus(doc.Status),
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)
