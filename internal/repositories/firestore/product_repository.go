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

const (
	spusCollection       = "productSpus"
	skusCollection       = "productSkus"
	attributesCollection = "attributes"
)

type spuDocument struct {
	CategoryID  string    `firestore:"categoryId"`
	Name        string    `firestore:"name"`
	NameFolded  string    `firestore:"nameFolded"`
	Subtitle    string    `firestore:"subtitle,omitempty"`
	Description string    `firestore:"description,omitempty"`
	MainImage   string    `firestore:"mainImage,omitempty"`
	Active      bool      `firestore:"active"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type skuDocument struct {
	SPUID      string                  `firestore:"spuId"`
	Title      string                  `firestore:"title"`
	Price      int64                   `firestore:"price"`
	Attributes []attributeSelectionDoc `firestore:"attributes,omitempty"`
	CoverImage string                  `firestore:"coverImage,omitempty"`
	Active     bool                    `firestore:"active"`
	CreatedAt  time.Time               `firestore:"createdAt"`
	UpdatedAt  time.Time               `firestore:"updatedAt"`
}

type attributeSelectionDoc struct {
	AttributeID string `firestore:"attributeId"`
	ValueID     string `firestore:"valueId"`
}

type attributeDocument struct {
	CategoryID string                  `firestore:"categoryId"`
	Name       string                  `firestore:"name"`
	Values     []attributeValueDocItem `firestore:"values"`
	CreatedAt  time.Time               `firestore:"createdAt"`
	UpdatedAt  time.Time               `firestore:"updatedAt"`
}

type attributeValueDocItem struct {
	ID    string `firestore:"id"`
	Value string `firestore:"value"`
}

// ProductRepository bundles SPU, SKU, and attribute storage.
type ProductRepository struct {
	provider   *pfirestore.Provider
	spus       *pfirestore.Collection[spuDocument]
	skus       *pfirestore.Collection[skuDocument]
	attributes *pfirestore.Collection[attributeDocument]
	folder     func(string) string
	// countItemsBySKU guards SKU deletion against dangling line item references.
	countItemsBySKU func(ctx context.Context, skuID string) (int64, error)
}

// ProductRepositoryDeps bundles collaborators for the product repository.
type ProductRepositoryDeps struct {
	Provider *pfirestore.Provider
	// Folder normalises names for case and accent insensitive search.
	Folder func(string) string
	// CountItemsBySKU reports line item references; wired from the order repository.
	CountItemsBySKU func(ctx context.Context, skuID string) (int64, error)
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(deps ProductRepositoryDeps) (*ProductRepository, error) {
	if deps.Provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	folder := deps.Folder
	if folder == nil {
		folder = strings.ToLower
	}
	return &ProductRepository{
		provider:        deps.Provider,
		spus:            pfirestore.NewCollection[spuDocument](deps.Provider, spusCollection),
		skus:            pfirestore.NewCollection[skuDocument](deps.Provider, skusCollection),
		attributes:      pfirestore.NewCollection[attributeDocument](deps.Provider, attributesCollection),
		folder:          folder,
		countItemsBySKU: deps.CountItemsBySKU,
	}, nil
}

// InsertSPU creates the SPU document.
func (r *ProductRepository) InsertSPU(ctx context.Context, spu domain.ProductSPU) error {
	if err := r.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(spu.ID) == "" {
		return errors.New("product repository: spu id is required")
	}
	return r.spus.Create(ctx, spu.ID, r.encodeSPU(spu))
}

// UpdateSPU overwrites the SPU document.
func (r *ProductRepository) UpdateSPU(ctx context.Context, spu domain.ProductSPU) error {
	if err := r.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(spu.ID) == "" {
		return errors.New("product repository: spu id is required")
	}
	return r.spus.Set(ctx, spu.ID, r.encodeSPU(spu))
}

// DeleteSPU removes the SPU; its SKUs must be deleted first.
func (r *ProductRepository) DeleteSPU(ctx context.Context, spuID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	id := strings.TrimSpace(spuID)

	skus, err := r.ListSKUs(ctx, id)
	if err != nil {
		return err
	}
	if len(skus) > 0 {
		return pfirestore.ConflictError("productSpus.delete",
			fmt.Errorf("spu %s still has %d skus", id, len(skus)))
	}
	return r.spus.Delete(ctx, id)
}

// GetSPU loads a SPU.
func (r *ProductRepository) GetSPU(ctx context.Context, spuID string) (domain.ProductSPU, error) {
	if err := r.ready(); err != nil {
		return domain.ProductSPU{}, err
	}
	doc, err := r.spus.Get(ctx, strings.TrimSpace(spuID))
	if err != nil {
		return domain.ProductSPU{}, err
	}
	return decodeSPU(doc.ID, doc.Data), nil
}

// ListSPUs pages products filtered by category, active flag, and folded-name prefix search.
func (r *ProductRepository) ListSPUs(ctx context.Context, filter repositories.SPUFilter) (domain.CursorPage[domain.ProductSPU], error) {
	if err := r.ready(); err != nil {
		return domain.CursorPage[domain.ProductSPU]{}, err
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 || pageSize > pagination.DefaultMaxPageSize {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.ProductSPU]{}, err
	}

	docs, err := r.spus.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.CategoryID != nil {
			q = q.Where("categoryId", "==", strings.TrimSpace(*filter.CategoryID))
		}
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		if search := r.folder(strings.TrimSpace(filter.Search)); search != "" {
			q = q.Where("nameFolded", ">=", search).Where("nameFolded", "<", search+"")
			q = q.OrderBy("nameFolded", firestore.Asc)
		}
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.ProductSPU]{}, err
	}

	page := domain.CursorPage[domain.ProductSPU]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.ProductSPU]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decodeSPU(doc.ID, doc.Data))
	}
	return page, nil
}

// InsertSKU creates the SKU document.
func (r *ProductRepository) InsertSKU(ctx context.Context, sku domain.ProductSKU) error {
	if err := r.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(sku.ID) == "" {
		return errors.New("product repository: sku id is required")
	}
	return r.skus.Create(ctx, sku.ID, encodeSKU(sku))
}

// UpdateSKU overwrites the SKU document.
func (r *ProductRepository) UpdateSKU(ctx context.Context, sku domain.ProductSKU) error {
	if err := r.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(sku.ID) == "" {
		return errors.New("product repository: sku id is required")
	}
	return r.skus.Set(ctx, sku.ID, encodeSKU(sku))
}

// DeleteSKU removes the SKU unless an order line item still references it.
func (r *ProductRepository) DeleteSKU(ctx context.Context, skuID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	id := strings.TrimSpace(skuID)
	if id == "" {
		return errors.New("product repository: sku id is required")
	}

	if r.countItemsBySKU != nil {
		refs, err := r.countItemsBySKU(ctx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return pfirestore.ConflictError("productSkus.delete",
				fmt.Errorf("sku %s is referenced by %d order line items", id, refs))
		}
	}
	return r.skus.Delete(ctx, id)
}

// GetSKU loads a SKU.
func (r *ProductRepository) GetSKU(ctx context.Context, skuID string) (domain.ProductSKU, error) {
	if err := r.ready(); err != nil {
		return domain.ProductSKU{}, err
	}
	doc, err := r.skus.Get(ctx, strings.TrimSpace(skuID))
	if err != nil {
		return domain.ProductSKU{}, err
	}
	return decodeSKU(doc.ID, doc.Data), nil
}

// ListSKUs returns the SKUs of a SPU.
func (r *ProductRepository) ListSKUs(ctx context.Context, spuID string) ([]domain.ProductSKU, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	docs, err := r.skus.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("spuId", "==", strings.TrimSpace(spuID)).
			OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductSKU, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeSKU(doc.ID, doc.Data))
	}
	return out, nil
}

// GetAttribute loads an attribute with its values.
func (r *ProductRepository) GetAttribute(ctx context.Context, attributeID string) (domain.Attribute, error) {
	if err := r.ready(); err != nil {
		return domain.Attribute{}, err
	}
	doc, err := r.attributes.Get(ctx, strings.TrimSpace(attributeID))
	if err != nil {
		return domain.Attribute{}, err
	}
	return decodeAttribute(doc.ID, doc.Data), nil
}

// ListAttributes returns the attributes of a category.
func (r *ProductRepository) ListAttributes(ctx context.Context, categoryID string) ([]domain.Attribute, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	docs, err := r.attributes.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("categoryId", "==", strings.TrimSpace(categoryID)).
			OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Attribute, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeAttribute(doc.ID, doc.Data))
	}
	return out, nil
}

// UpsertAttribute writes the attribute with its values.
func (r *ProductRepository) UpsertAttribute(ctx context.Context, attribute domain.Attribute) (domain.Attribute, error) {
	if err := r.ready(); err != nil {
		return domain.Attribute{}, err
	}
	if strings.TrimSpace(attribute.ID) == "" {
		return domain.Attribute{}, errors.New("product repository: attribute id is required")
	}
	if err := r.attributes.Set(ctx, attribute.ID, encodeAttribute(attribute)); err != nil {
		return domain.Attribute{}, err
	}
	return attribute, nil
}

func (r *ProductRepository) ready() error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	return nil
}

func (r *ProductRepository) encodeSPU(spu domain.ProductSPU) spuDocument {
	return spuDocument{
		CategoryID:  spu.CategoryID,
		Name:        spu.Name,
		NameFolded:  r.folder(spu.Name),
		Subtitle:    spu.Subtitle,
		Description: spu.Description,
		MainImage:   spu.MainImage,
		Active:      spu.Active,
		CreatedAt:   spu.CreatedAt.UTC(),
		UpdatedAt:   spu.UpdatedAt.UTC(),
	}
}

func decodeSPU(id string, doc spuDocument) domain.ProductSPU {
	return domain.ProductSPU{
		ID:          id,
		CategoryID:  doc.CategoryID,
		Name:        doc.Name,
		Subtitle:    doc.Subtitle,
		Description: doc.Description,
		MainImage:   doc.MainImage,
		Active:      doc.Active,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func encodeSKU(sku domain.ProductSKU) skuDocument {
	doc := skuDocument{
		SPUID:      sku.SPUID,
		Title:      sku.Title,
		Price:      sku.Price,
		CoverImage: sku.CoverImage,
		Active:     sku.Active,
		CreatedAt:  sku.CreatedAt.UTC(),
		UpdatedAt:  sku.UpdatedAt.UTC(),
	}
	for _, attr := range sku.Attributes {
		doc.Attributes = append(doc.Attributes, attributeSelectionDoc{
			AttributeID: attr.AttributeID,
			ValueID:     attr.ValueID,
		})
	}
	return doc
}

func decodeSKU(id string, doc skuDocument) domain.ProductSKU {
	sku := domain.ProductSKU{
		ID:         id,
		SPUID:      doc.SPUID,
		Title:      doc.Title,
		Price:      doc.Price,
		CoverImage: doc.CoverImage,
		Active:     doc.Active,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
	for _, attr := range doc.Attributes {
		sku.Attributes = append(sku.Attributes, domain.AttributeSelection{
			AttributeID: attr.AttributeID,
			ValueID:     attr.ValueID,
		})
	}
	return sku
}

func encodeAttribute(attribute domain.Attribute) attributeDocument {
	doc := attributeDocument{
		CategoryID: attribute.CategoryID,
		Name:       attribute.Name,
		CreatedAt:  attribute.CreatedAt.UTC(),
		UpdatedAt:  attribute.UpdatedAt.UTC(),
	}
	for _, value := range attribute.Values {
		doc.Values = append(doc.Values, attributeValueDocItem{ID: value.ID, Value: value.Value})
	}
	return doc
}

func decodeAttribute(id string, doc attributeDocument) domain.Attribute {
	attr := domain.Attribute{
		ID:         id,
		CategoryID: doc.CategoryID,
		Name:       doc.Name,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
	for _, value := range doc.Values {
		attr.Values = append(attr.Values, domain.AttributeValue{ID: value.ID, Value: value.Value})
	}
	return attr
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
