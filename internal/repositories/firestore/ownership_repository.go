package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/orchard-market/api/internal/domain"
	pfirestore "github.com/orchard-market/api/internal/platform/firestore"
	"github.com/orchard-market/api/internal/platform/pagination"
	"github.com/orchard-market/api/internal/repositories"
)

const ownershipCollection = "ownershipGrants"

type ownershipDocument struct {
	UserID    string    `firestore:"userId"`
	SKUID     string    `firestore:"skuId"`
	OrderID   string    `firestore:"orderId"`
	GrantedAt time.Time `firestore:"grantedAt"`
}

// OwnershipRepository records idempotent (user, SKU) ownership grants.
//
// Documents are keyed by "<userID>_<skuID>" so duplicate grants collapse onto
// the same document and re-delivery never creates a second grant.
type OwnershipRepository struct {
	provider *pfirestore.Provider
	grants   *pfirestore.Collection[ownershipDocument]
}

// NewOwnershipRepository constructs a Firestore-backed ownership repository.
func NewOwnershipRepository(provider *pfirestore.Provider) (*OwnershipRepository, error) {
	if provider == nil {
		return nil, errors.New("ownership repository requires firestore provider")
	}
	return &OwnershipRepository{
		provider: provider,
		grants:   pfirestore.NewCollection[ownershipDocument](provider, ownershipCollection),
	}, nil
}

// Grant creates the grant when absent and returns the existing grant
// unchanged when present. The boolean reports whether a new grant was written.
func (r *OwnershipRepository) Grant(ctx context.Context, grant domain.OwnershipGrant) (domain.OwnershipGrant, bool, error) {
	if r == nil || r.provider == nil {
		return domain.OwnershipGrant{}, false, errors.New("ownership repository not initialised")
	}
	id := grantDocID(grant.UserID, grant.SKUID)
	if id == "" {
		return domain.OwnershipGrant{}, false, errors.New("ownership repository: user id and sku id are required")
	}

	grantedAt := grant.GrantedAt.UTC()
	if grantedAt.IsZero() {
		grantedAt = time.Now().UTC()
	}

	var saved domain.OwnershipGrant
	created := false
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.grants.Doc(ctx, id)
		if err != nil {
			return err
		}

		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var doc ownershipDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore ownership decode %s: %w", id, err)
			}
			saved = decodeGrant(id, doc)
			return nil
		case status.Code(err) == codes.NotFound:
			doc := ownershipDocument{
				UserID:    strings.TrimSpace(grant.UserID),
				SKUID:     strings.TrimSpace(grant.SKUID),
				OrderID:   strings.TrimSpace(grant.OrderID),
				GrantedAt: grantedAt,
			}
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			saved = decodeGrant(id, doc)
			created = true
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return domain.OwnershipGrant{}, false, pfirestore.WrapError("ownership.grant", err)
	}
	return saved, created, nil
}

// Exists reports whether the user owns the SKU.
func (r *OwnershipRepository) Exists(ctx context.Context, userID string, skuID string) (bool, error) {
	if r == nil || r.grants == nil {
		return false, errors.New("ownership repository not initialised")
	}
	id := grantDocID(userID, skuID)
	if id == "" {
		return false, errors.New("ownership repository: user id and sku id are required")
	}

	_, err := r.grants.Get(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListByUser pages the user's grants, newest first.
func (r *OwnershipRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.OwnershipGrant], error) {
	if r == nil || r.grants == nil {
		return domain.CursorPage[domain.OwnershipGrant]{}, errors.New("ownership repository not initialised")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 || pageSize > pagination.DefaultMaxPageSize {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OwnershipGrant]{}, err
	}

	docs, err := r.grants.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", strings.TrimSpace(userID)).
			OrderBy("grantedAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.OwnershipGrant]{}, err
	}

	page := domain.CursorPage[domain.OwnershipGrant]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].Data.GrantedAt, docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.OwnershipGrant]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decodeGrant(doc.ID, doc.Data))
	}
	return page, nil
}

func grantDocID(userID string, skuID string) string {
	uid := strings.TrimSpace(userID)
	sku := strings.TrimSpace(skuID)
	if uid == "" || sku == "" {
		return ""
	}
	return uid + "_" + sku
}

func decodeGrant(id string, doc ownershipDocument) domain.OwnershipGrant {
	return domain.OwnershipGrant{
		ID:        id,
		UserID:    doc.UserID,
		SKUID:     doc.SKUID,
		OrderID:   doc.OrderID,
		GrantedAt: doc.GrantedAt,
	}
}

var _ repositories.OwnershipRepository = (*OwnershipRepository)(nil)
