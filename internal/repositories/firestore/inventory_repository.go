package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

const inventoryCollection = "inventory"

type inventoryDocument struct {
	Quantity  int64     `firestore:"quantity"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// InventoryRepository stores per-SKU stock documents keyed by SKU id.
type InventoryRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.Collection[inventoryDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider: provider,
		stocks:   pfirestore.NewCollection[inventoryDocument](provider, inventoryCollection),
	}, nil
}

// Reserve decrements stock for every line inside one transaction. The
// sufficiency check runs against the transactional read, so two concurrent
// reservations can never overdraw a SKU.
func (r *InventoryRepository) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (repositories.InventoryAdjustResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventoryAdjustResult{}, errors.New("inventory repository not initialised")
	}
	lines, err := normaliseLines(req.Lines)
	if err != nil {
		return repositories.InventoryAdjustResult{}, err
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result := repositories.InventoryAdjustResult{Records: make(map[string]domain.InventoryRecord, len(lines))}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs := make(map[string]inventoryDocument, len(lines))
		for _, line := range lines {
			ref, err := r.stocks.Doc(ctx, line.SKUID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewInventoryError(repositories.InventoryErrorRecordNotFound, fmt.Sprintf("no stock record for sku %s", line.SKUID), nil)
				}
				return err
			}
			var doc inventoryDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore inventory decode %s: %w", line.SKUID, err)
			}
			if doc.Quantity < line.Quantity {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock,
					fmt.Sprintf("sku %s has %d on hand, requested %d", line.SKUID, doc.Quantity, line.Quantity), nil)
			}
			docs[line.SKUID] = doc
		}

		for _, line := range lines {
			doc := docs[line.SKUID]
			doc.Quantity -= line.Quantity
			doc.UpdatedAt = now

			ref, err := r.stocks.Doc(ctx, line.SKUID)
			if err != nil {
				return err
			}
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
			result.Records[line.SKUID] = domain.InventoryRecord{SKUID: line.SKUID, Quantity: doc.Quantity, UpdatedAt: now}
		}
		return nil
	})
	if err != nil {
		return repositories.InventoryAdjustResult{}, wrapInventoryErr("inventory.reserve", err)
	}
	return result, nil
}

// Release restores stock unconditionally for every line. Missing records are
// created so a release never fails for compensation paths.
func (r *InventoryRepository) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (repositories.InventoryAdjustResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventoryAdjustResult{}, errors.New("inventory repository not initialised")
	}
	lines, err := normaliseLines(req.Lines)
	if err != nil {
		return repositories.InventoryAdjustResult{}, err
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result := repositories.InventoryAdjustResult{Records: make(map[string]domain.InventoryRecord, len(lines))}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs := make(map[string]inventoryDocument, len(lines))
		for _, line := range lines {
			ref, err := r.stocks.Doc(ctx, line.SKUID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			switch {
			case err == nil:
				var doc inventoryDocument
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("firestore inventory decode %s: %w", line.SKUID, err)
				}
				docs[line.SKUID] = doc
			case status.Code(err) == codes.NotFound:
				docs[line.SKUID] = inventoryDocument{}
			default:
				return err
			}
		}

		for _, line := range lines {
			doc := docs[line.SKUID]
			doc.Quantity += line.Quantity
			doc.UpdatedAt = now

			ref, err := r.stocks.Doc(ctx, line.SKUID)
			if err != nil {
				return err
			}
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
			result.Records[line.SKUID] = domain.InventoryRecord{SKUID: line.SKUID, Quantity: doc.Quantity, UpdatedAt: now}
		}
		return nil
	})
	if err != nil {
		return repositories.InventoryAdjustResult{}, wrapInventoryErr("inventory.release", err)
	}
	return result, nil
}

// Get loads the stock record for a SKU.
func (r *InventoryRepository) Get(ctx context.Context, skuID string) (domain.InventoryRecord, error) {
	if r == nil || r.stocks == nil {
		return domain.InventoryRecord{}, errors.New("inventory repository not initialised")
	}
	doc, err := r.stocks.Get(ctx, strings.TrimSpace(skuID))
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	return domain.InventoryRecord{SKUID: doc.ID, Quantity: doc.Data.Quantity, UpdatedAt: doc.Data.UpdatedAt}, nil
}

// Put upserts the stock record, used by admin stock adjustments.
func (r *InventoryRepository) Put(ctx context.Context, record domain.InventoryRecord) error {
	if r == nil || r.stocks == nil {
		return errors.New("inventory repository not initialised")
	}
	skuID := strings.TrimSpace(record.SKUID)
	if skuID == "" {
		return errors.New("inventory repository: sku id is required")
	}
	if record.Quantity < 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidLine, "quantity must not be negative", nil)
	}
	updatedAt := record.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.stocks.Set(ctx, skuID, inventoryDocument{Quantity: record.Quantity, UpdatedAt: updatedAt})
}

// ListLowStock pages through records at or below the threshold.
func (r *InventoryRepository) ListLowStock(ctx context.Context, query repositories.InventoryLowStockQuery) (domain.CursorPage[domain.InventoryRecord], error) {
	if r == nil || r.stocks == nil {
		return domain.CursorPage[domain.InventoryRecord]{}, errors.New("inventory repository not initialised")
	}

	pageSize := query.PageSize
	if pageSize <= 0 || pageSize > pagination.DefaultMaxPageSize {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(query.PageToken)
	if err != nil {
		return domain.CursorPage[domain.InventoryRecord]{}, err
	}

	docs, err := r.stocks.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("quantity", "<=", query.Threshold).
			OrderBy("quantity", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.InventoryRecord]{}, err
	}

	page := domain.CursorPage[domain.InventoryRecord]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].Data.Quantity, docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.InventoryRecord]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, domain.InventoryRecord{
			SKUID:     doc.ID,
			Quantity:  doc.Data.Quantity,
			UpdatedAt: doc.Data.UpdatedAt,
		})
	}
	return page, nil
}

// normaliseLines aggregates duplicate SKUs and orders lines deterministically
// so transactional reads touch documents in a stable order.
func normaliseLines(lines []repositories.InventoryLine) ([]repositories.InventoryLine, error) {
	if len(lines) == 0 {
		return nil, errors.New("inventory repository: at least one line is required")
	}
	merged := make(map[string]int64, len(lines))
	for _, line := range lines {
		skuID := strings.TrimSpace(line.SKUID)
		if skuID == "" {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorInvalidLine, "sku id is required", nil)
		}
		if line.Quantity <= 0 {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorInvalidLine, fmt.Sprintf("sku %s quantity must be positive", skuID), nil)
		}
		merged[skuID] += line.Quantity
	}

	out := make([]repositories.InventoryLine, 0, len(merged))
	for skuID, qty := range merged {
		out = append(out, repositories.InventoryLine{SKUID: skuID, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKUID < out[j].SKUID })
	return out, nil
}

func wrapInventoryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		return invErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
