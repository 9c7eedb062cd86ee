package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/orchard-market/api/internal/domain"
	platformstorage "github.com/orchard-market/api/internal/platform/storage"
	"github.com/orchard-market/api/internal/repositories"
)

const (
	categoryIDPrefix  = "cat_"
	spuIDPrefix       = "spu_"
	skuIDPrefix       = "sku_"
	attributeIDPrefix = "attr_"
)

var categorySlugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog operation.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates a catalog entity could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogConflict indicates a duplicate or a protective relationship violation.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// ImageURLResolver turns a stored object path into a servable URL.
type ImageURLResolver func(ctx context.Context, path string) (string, error)

// imagePath validates a caller-supplied image object key. Empty values are
// allowed so images stay optional.
func imagePath(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	key, err := platformstorage.ValidateObjectKey(value)
	if err != nil {
		return "", fmt.Errorf("%w: image path: %v", ErrCatalogInvalidInput, err)
	}
	return key, nil
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Categories  repositories.CategoryRepository
	Products    repositories.ProductRepository
	Inventory   repositories.InventoryRepository
	Clock       func() time.Time
	IDGenerator func() string
	ImageURLs   ImageURLResolver
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	categories repositories.CategoryRepository
	products   repositories.ProductRepository
	inventory  repositories.InventoryRepository
	clock      func() time.Time
	newID      func() string
	imageURL   ImageURLResolver
	logger     func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Categories == nil {
		return nil, errors.New("catalog service: category repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("catalog service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	imageURL := deps.ImageURLs
	if imageURL == nil {
		imageURL = func(_ context.Context, path string) (string, error) {
			return path, nil
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		categories: deps.Categories,
		products:   deps.Products,
		inventory:  deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		imageURL: imageURL,
		logger:   logger,
	}, nil
}

func (s *catalogService) ListCategories(ctx context.Context, filter CategoryListFilter) ([]Category, error) {
	categories, err := s.categories.List(ctx, repositories.CategoryFilter{
		ParentID:   filter.ParentID,
		ActiveOnly: filter.ActiveOnly,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return categories, nil
}

func (s *catalogService) GetCategory(ctx context.Context, categoryID string) (Category, error) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	category, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: category name is required", ErrCatalogInvalidInput)
	}
	if cmd.ParentID != nil {
		if _, err := s.categories.FindByID(ctx, strings.TrimSpace(*cmd.ParentID)); err != nil {
			return Category{}, fmt.Errorf("%w: parent category: %v", ErrCatalogInvalidInput, err)
		}
	}

	now := s.now()
	category := Category{
		ID:        categoryIDPrefix + s.newID(),
		ParentID:  cmd.ParentID,
		Name:      name,
		Slug:      normalizeSlug(firstNonEmpty(cmd.Slug, name)),
		SortOrder: cmd.SortOrder,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cmd.Active != nil {
		category.Active = *cmd.Active
	}

	if err := s.categories.Insert(ctx, category); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}

	category, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}

	if name := strings.TrimSpace(cmd.Name); name != "" {
		category.Name = name
	}
	if slug := strings.TrimSpace(cmd.Slug); slug != "" {
		category.Slug = normalizeSlug(slug)
	}
	if cmd.ParentID != nil {
		category.ParentID = cmd.ParentID
	}
	if cmd.SortOrder != 0 {
		category.SortOrder = cmd.SortOrder
	}
	if cmd.Active != nil {
		category.Active = *cmd.Active
	}
	category.UpdatedAt = s.now()

	if err := s.categories.Update(ctx, category); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

// DeleteCategory refuses to remove a category that still carries products or
// child categories.
func (s *catalogService) DeleteCategory(ctx context.Context, categoryID string) error {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}

	page, err := s.products.ListSPUs(ctx, repositories.SPUFilter{
		CategoryID: &categoryID,
		Pagination: domain.Pagination{PageSize: 1},
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if len(page.Items) > 0 {
		return fmt.Errorf("%w: category %s still has products", ErrCatalogConflict, categoryID)
	}

	children, err := s.categories.List(ctx, repositories.CategoryFilter{ParentID: &categoryID})
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: category %s still has child categories", ErrCatalogConflict, categoryID)
	}

	return s.mapRepositoryError(s.categories.Delete(ctx, categoryID))
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[ProductSPU], error) {
	repoFilter := repositories.SPUFilter{
		ActiveOnly: filter.ActiveOnly,
		Search:     strings.TrimSpace(filter.Search),
		Pagination: filter.Pagination,
	}
	if categoryID := strings.TrimSpace(filter.CategoryID); categoryID != "" {
		repoFilter.CategoryID = &categoryID
	}

	page, err := s.products.ListSPUs(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[ProductSPU]{}, s.mapRepositoryError(err)
	}
	for i := range page.Items {
		page.Items[i].MainImage = s.resolveImage(ctx, page.Items[i].MainImage)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, spuID string) (ProductSPU, error) {
	spuID = strings.TrimSpace(spuID)
	if spuID == "" {
		return ProductSPU{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	spu, err := s.products.GetSPU(ctx, spuID)
	if err != nil {
		return ProductSPU{}, s.mapRepositoryError(err)
	}
	spu.MainImage = s.resolveImage(ctx, spu.MainImage)
	return spu, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (ProductSPU, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return ProductSPU{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return ProductSPU{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	if _, err := s.categories.FindByID(ctx, categoryID); err != nil {
		return ProductSPU{}, fmt.Errorf("%w: category: %v", ErrCatalogInvalidInput, err)
	}

	mainImage, err := imagePath(cmd.MainImage)
	if err != nil {
		return ProductSPU{}, err
	}

	now := s.now()
	spu := ProductSPU{
		ID:          spuIDPrefix + s.newID(),
		CategoryID:  categoryID,
		Name:        name,
		Subtitle:    strings.TrimSpace(cmd.Subtitle),
		Description: strings.TrimSpace(cmd.Description),
		MainImage:   mainImage,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cmd.Active != nil {
		spu.Active = *cmd.Active
	}

	if err := s.products.InsertSPU(ctx, spu); err != nil {
		return ProductSPU{}, s.mapRepositoryError(err)
	}
	return spu, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (ProductSPU, error) {
	spuID := strings.TrimSpace(cmd.SPUID)
	if spuID == "" {
		return ProductSPU{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	spu, err := s.products.GetSPU(ctx, spuID)
	if err != nil {
		return ProductSPU{}, s.mapRepositoryError(err)
	}

	if name := strings.TrimSpace(cmd.Name); name != "" {
		spu.Name = name
	}
	if subtitle := strings.TrimSpace(cmd.Subtitle); subtitle != "" {
		spu.Subtitle = subtitle
	}
	if description := strings.TrimSpace(cmd.Description); description != "" {
		spu.Description = description
	}
	if image, err := imagePath(cmd.MainImage); err != nil {
		return ProductSPU{}, err
	} else if image != "" {
		spu.MainImage = image
	}
	if categoryID := strings.TrimSpace(cmd.CategoryID); categoryID != "" && categoryID != spu.CategoryID {
		if _, err := s.categories.FindByID(ctx, categoryID); err != nil {
			return ProductSPU{}, fmt.Errorf("%w: category: %v", ErrCatalogInvalidInput, err)
		}
		spu.CategoryID = categoryID
	}
	if cmd.Active != nil {
		spu.Active = *cmd.Active
	}
	spu.UpdatedAt = s.now()

	if err := s.products.UpdateSPU(ctx, spu); err != nil {
		return ProductSPU{}, s.mapRepositoryError(err)
	}
	return spu, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, spuID string) error {
	spuID = strings.TrimSpace(spuID)
	if spuID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	return s.mapRepositoryError(s.products.DeleteSPU(ctx, spuID))
}

func (s *catalogService) ListSKUs(ctx context.Context, spuID string) ([]ProductSKU, error) {
	spuID = strings.TrimSpace(spuID)
	if spuID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	skus, err := s.products.ListSKUs(ctx, spuID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	for i := range skus {
		skus[i].CoverImage = s.resolveImage(ctx, skus[i].CoverImage)
	}
	return skus, nil
}

func (s *catalogService) GetSKU(ctx context.Context, skuID string) (ProductSKU, error) {
	skuID = strings.TrimSpace(skuID)
	if skuID == "" {
		return ProductSKU{}, fmt.Errorf("%w: sku id is required", ErrCatalogInvalidInput)
	}
	sku, err := s.products.GetSKU(ctx, skuID)
	if err != nil {
		return ProductSKU{}, s.mapRepositoryError(err)
	}
	sku.CoverImage = s.resolveImage(ctx, sku.CoverImage)
	return sku, nil
}

func (s *catalogService) CreateSKU(ctx context.Context, cmd UpsertSKUCommand) (ProductSKU, error) {
	spuID := strings.TrimSpace(cmd.SPUID)
	if spuID == "" {
		return ProductSKU{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return ProductSKU{}, fmt.Errorf("%w: sku title is required", ErrCatalogInvalidInput)
	}
	if cmd.Price < 0 {
		return ProductSKU{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}
	if err := validateAttributeSelections(cmd.Attributes); err != nil {
		return ProductSKU{}, err
	}
	if _, err := s.products.GetSPU(ctx, spuID); err != nil {
		return ProductSKU{}, s.mapRepositoryError(err)
	}

	coverImage, err := imagePath(cmd.CoverImage)
	if err != nil {
		return ProductSKU{}, err
	}

	now := s.now()
	sku := ProductSKU{
		ID:         skuIDPrefix + s.newID(),
		SPUID:      spuID,
		Title:      title,
		Price:      cmd.Price,
		Attributes: cmd.Attributes,
		CoverImage: coverImage,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if cmd.Active != nil {
		sku.Active = *cmd.Active
	}

	if err := s.products.InsertSKU(ctx, sku); err != nil {
		return ProductSKU{}, s.mapRepositoryError(err)
	}

	if cmd.InitialStock != nil {
		record := domain.InventoryRecord{SKUID: sku.ID, Quantity: *cmd.InitialStock, UpdatedAt: now}
		if err := s.inventory.Put(ctx, record); err != nil {
			s.logger(ctx, "catalog.sku.stock.seed.failed", map[string]any{
				"sku":   sku.ID,
				"error": err.Error(),
			})
		}
	}

	return sku, nil
}

func (s *catalogService) UpdateSKU(ctx context.Context, cmd UpsertSKUCommand) (ProductSKU, error) {
	skuID := strings.TrimSpace(cmd.SKUID)
	if skuID == "" {
		return ProductSKU{}, fmt.Errorf("%w: sku id is required", ErrCatalogInvalidInput)
	}
	if cmd.Price < 0 {
		return ProductSKU{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}

	sku, err := s.products.GetSKU(ctx, skuID)
	if err != nil {
		return ProductSKU{}, s.mapRepositoryError(err)
	}

	if title := strings.TrimSpace(cmd.Title); title != "" {
		sku.Title = title
	}
	if cmd.Price > 0 {
		sku.Price = cmd.Price
	}
	if len(cmd.Attributes) > 0 {
		if err := validateAttributeSelections(cmd.Attributes); err != nil {
			return ProductSKU{}, err
		}
		sku.Attributes = cmd.Attributes
	}
	if image, err := imagePath(cmd.CoverImage); err != nil {
		return ProductSKU{}, err
	} else if image != "" {
		sku.CoverImage = image
	}
	if cmd.Active != nil {
		sku.Active = *cmd.Active
	}
	sku.UpdatedAt = s.now()

	if err := s.products.UpdateSKU(ctx, sku); err != nil {
		return ProductSKU{}, s.mapRepositoryError(err)
	}
	return sku, nil
}

func (s *catalogService) DeleteSKU(ctx context.Context, skuID string) error {
	skuID = strings.TrimSpace(skuID)
	if skuID == "" {
		return fmt.Errorf("%w: sku id is required", ErrCatalogInvalidInput)
	}
	return s.mapRepositoryError(s.products.DeleteSKU(ctx, skuID))
}

func (s *catalogService) ListAttributes(ctx context.Context, categoryID string) ([]Attribute, error) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return nil, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	attributes, err := s.products.ListAttributes(ctx, categoryID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return attributes, nil
}

func (s *catalogService) UpsertAttribute(ctx context.Context, cmd UpsertAttributeCommand) (Attribute, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Attribute{}, fmt.Errorf("%w: attribute name is required", ErrCatalogInvalidInput)
	}
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return Attribute{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	if len(cmd.Values) == 0 {
		return Attribute{}, fmt.Errorf("%w: attribute needs at least one value", ErrCatalogInvalidInput)
	}

	now := s.now()
	attribute := Attribute{
		ID:         strings.TrimSpace(cmd.AttributeID),
		CategoryID: categoryID,
		Name:       name,
		Values:     cmd.Values,
		UpdatedAt:  now,
	}
	if attribute.ID == "" {
		attribute.ID = attributeIDPrefix + s.newID()
		attribute.CreatedAt = now
	}

	saved, err := s.products.UpsertAttribute(ctx, attribute)
	if err != nil {
		return Attribute{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *catalogService) resolveImage(ctx context.Context, path string) string {
	if path == "" {
		return ""
	}
	resolved, err := s.imageURL(ctx, path)
	if err != nil {
		s.logger(ctx, "catalog.image.resolve.failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return path
	}
	return resolved
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *catalogService) now() time.Time {
	return s.clock()
}

func validateAttributeSelections(selections []domain.AttributeSelection) error {
	seen := make(map[string]bool, len(selections))
	for _, sel := range selections {
		if strings.TrimSpace(sel.AttributeID) == "" || strings.TrimSpace(sel.ValueID) == "" {
			return fmt.Errorf("%w: attribute selections need attribute and value ids", ErrCatalogInvalidInput)
		}
		if seen[sel.AttributeID] {
			return fmt.Errorf("%w: duplicate attribute selection %s", ErrCatalogInvalidInput, sel.AttributeID)
		}
		seen[sel.AttributeID] = true
	}
	return nil
}

func normalizeSlug(input string) string {
	slug := categorySlugSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(input)), "-")
	return strings.Trim(slug, "-")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ CatalogService = (*catalogService)(nil)
