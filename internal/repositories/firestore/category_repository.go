package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/orchard-market/api/internal/domain"
	pfirestore "github.com/orchard-market/api/internal/platform/firestore"
	"github.com/orchard-market/api/internal/repositories"
)

const categoriesCollection = "categories"

type categoryDocument struct {
	ParentID  *string   `firestore:"parentId,omitempty"`
	Name      string    `firestore:"name"`
	Slug      string    `firestore:"slug"`
	SortOrder int       `firestore:"sortOrder"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CategoryRepository stores the flat category list.
type CategoryRepository struct {
	categories *pfirestore.Collection[categoryDocument]
}

// NewCategoryRepository constructs a Firestore-backed category repository.
func NewCategoryRepository(provider *pfirestore.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository requires firestore provider")
	}
	return &CategoryRepository{
		categories: pfirestore.NewCollection[categoryDocument](provider, categoriesCollection),
	}, nil
}

// Insert creates the category, failing with a conflict when the id exists.
func (r *CategoryRepository) Insert(ctx context.Context, category domain.Category) error {
	if r == nil || r.categories == nil {
		return errors.New("category repository not initialised")
	}
	if strings.TrimSpace(category.ID) == "" {
		return errors.New("category repository: category id is required")
	}
	return r.categories.Create(ctx, category.ID, encodeCategory(category))
}

// Update overwrites the category document.
func (r *CategoryRepository) Update(ctx context.Context, category domain.Category) error {
	if r == nil || r.categories == nil {
		return errors.New("category repository not initialised")
	}
	if strings.TrimSpace(category.ID) == "" {
		return errors.New("category repository: category id is required")
	}
	return r.categories.Set(ctx, category.ID, encodeCategory(category))
}

// Delete removes the category.
func (r *CategoryRepository) Delete(ctx context.Context, categoryID string) error {
	if r == nil || r.categories == nil {
		return errors.New("category repository not initialised")
	}
	return r.categories.Delete(ctx, strings.TrimSpace(categoryID))
}

// FindByID loads a category.
func (r *CategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	if r == nil || r.categories == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	doc, err := r.categories.Get(ctx, strings.TrimSpace(categoryID))
	if err != nil {
		return domain.Category{}, err
	}
	return decodeCategory(doc.ID, doc.Data), nil
}

// List returns categories ordered by sort order. Category counts are small
// enough that the listing is not paginated.
func (r *CategoryRepository) List(ctx context.Context, filter repositories.CategoryFilter) ([]domain.Category, error) {
	if r == nil || r.categories == nil {
		return nil, errors.New("category repository not initialised")
	}

	docs, err := r.categories.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ParentID != nil {
			q = q.Where("parentId", "==", strings.TrimSpace(*filter.ParentID))
		}
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		return q.OrderBy("sortOrder", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Category, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeCategory(doc.ID, doc.Data))
	}
	return out, nil
}

func encodeCategory(category domain.Category) categoryDocument {
	return categoryDocument{
		ParentID:  category.ParentID,
		Name:      category.Name,
		Slug:      category.Slug,
		SortOrder: category.SortOrder,
		Active:    category.Active,
		CreatedAt: category.CreatedAt.UTC(),
		UpdatedAt: category.UpdatedAt.UTC(),
	}
}

func decodeCategory(id string, doc categoryDocument) domain.Category {
	return domain.Category{
		ID:        id,
		ParentID:  doc.ParentID,
		Name:      doc.Name,
		Slug:      doc.Slug,
		SortOrder: doc.SortOrder,
		Active:    doc.Active,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)
