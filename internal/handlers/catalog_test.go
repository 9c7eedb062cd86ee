package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/services"
)

type stubCatalogService struct {
	listCategoriesFn func(context.Context, services.CategoryListFilter) ([]services.Category, error)
	getCategoryFn    func(context.Context, string) (services.Category, error)
	createCategoryFn func(context.Context, services.UpsertCategoryCommand) (services.Category, error)
	updateCategoryFn func(context.Context, services.UpsertCategoryCommand) (services.Category, error)
	deleteCategoryFn func(context.Context, string) error
	listProductsFn   func(context.Context, services.ProductListFilter) (domain.CursorPage[services.ProductSPU], error)
	getProductFn     func(context.Context, string) (services.ProductSPU, error)
	createProductFn  func(context.Context, services.UpsertProductCommand) (services.ProductSPU, error)
	updateProductFn  func(context.Context, services.UpsertProductCommand) (services.ProductSPU, error)
	deleteProductFn  func(context.Context, string) error
	listSKUsFn       func(context.Context, string) ([]services.ProductSKU, error)
	getSKUFn         func(context.Context, string) (services.ProductSKU, error)
	createSKUFn      func(context.Context, services.UpsertSKUCommand) (services.ProductSKU, error)
	updateSKUFn      func(context.Context, services.UpsertSKUCommand) (services.ProductSKU, error)
	deleteSKUFn      func(context.Context, string) error
	listAttrsFn      func(context.Context, string) ([]services.Attribute, error)
	upsertAttrFn     func(context.Context, services.UpsertAttributeCommand) (services.Attribute, error)
}

func (s *stubCatalogService) ListCategories(ctx context.Context, filter services.CategoryListFilter) ([]services.Category, error) {
	if s.listCategoriesFn != nil {
		return s.listCategoriesFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubCatalogService) GetCategory(ctx context.Context, categoryID string) (services.Category, error) {
	if s.getCategoryFn != nil {
		return s.getCategoryFn(ctx, categoryID)
	}
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) CreateCategory(ctx context.Context, cmd services.UpsertCategoryCommand) (services.Category, error) {
	if s.createCategoryFn != nil {
		return s.createCategoryFn(ctx, cmd)
	}
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateCategory(ctx context.Context, cmd services.UpsertCategoryCommand) (services.Category, error) {
	if s.updateCategoryFn != nil {
		return s.updateCategoryFn(ctx, cmd)
	}
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteCategory(ctx context.Context, categoryID string) error {
	if s.deleteCategoryFn != nil {
		return s.deleteCategoryFn(ctx, categoryID)
	}
	return errors.New("not implemented")
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.ProductSPU], error) {
	if s.listProductsFn != nil {
		return s.listProductsFn(ctx, filter)
	}
	return domain.CursorPage[services.ProductSPU]{}, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, spuID string) (services.ProductSPU, error) {
	if s.getProductFn != nil {
		return s.getProductFn(ctx, spuID)
	}
	return services.ProductSPU{}, errors.New("not implemented")
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.ProductSPU, error) {
	if s.createProductFn != nil {
		return s.createProductFn(ctx, cmd)
	}
	return services.ProductSPU{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.ProductSPU, error) {
	if s.updateProductFn != nil {
		return s.updateProductFn(ctx, cmd)
	}
	return services.ProductSPU{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, spuID string) error {
	if s.deleteProductFn != nil {
		return s.deleteProductFn(ctx, spuID)
	}
	return errors.New("not implemented")
}

func (s *stubCatalogService) ListSKUs(ctx context.Context, spuID string) ([]services.ProductSKU, error) {
	if s.listSKUsFn != nil {
		return s.listSKUsFn(ctx, spuID)
	}
	return nil, nil
}

func (s *stubCatalogService) GetSKU(ctx context.Context, skuID string) (services.ProductSKU, error) {
	if s.getSKUFn != nil {
		return s.getSKUFn(ctx, skuID)
	}
	return services.ProductSKU{}, errors.New("not implemented")
}

func (s *stubCatalogService) CreateSKU(ctx context.Context, cmd services.UpsertSKUCommand) (services.ProductSKU, error) {
	if s.createSKUFn != nil {
		return s.createSKUFn(ctx, cmd)
	}
	return services.ProductSKU{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateSKU(ctx context.Context, cmd services.UpsertSKUCommand) (services.ProductSKU, error) {
	if s.updateSKUFn != nil {
		return s.updateSKUFn(ctx, cmd)
	}
	return services.ProductSKU{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteSKU(ctx context.Context, skuID string) error {
	if s.deleteSKUFn != nil {
		return s.deleteSKUFn(ctx, skuID)
	}
	return errors.New("not implemented")
}

func (s *stubCatalogService) ListAttributes(ctx context.Context, categoryID string) ([]services.Attribute, error) {
	if s.listAttrsFn != nil {
		return s.listAttrsFn(ctx, categoryID)
	}
	return nil, nil
}

func (s *stubCatalogService) UpsertAttribute(ctx context.Context, cmd services.UpsertAttributeCommand) (services.Attribute, error) {
	if s.upsertAttrFn != nil {
		return s.upsertAttrFn(ctx, cmd)
	}
	return services.Attribute{}, errors.New("not implemented")
}

func newCatalogRouter(catalog services.CatalogService, reviews services.ReviewService) chi.Router {
	router := chi.NewRouter()
	NewCatalogHandlers(catalog, reviews).Routes(router)
	return router
}

func TestCatalogHandlersListCategories(t *testing.T) {
	created := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

	var captured services.CategoryListFilter
	catalog := &stubCatalogService{
		listCategoriesFn: func(_ context.Context, filter services.CategoryListFilter) ([]services.Category, error) {
			captured = filter
			return []services.Category{
				{ID: "cat_1", Name: "Kitchen", Slug: "kitchen", Active: true, CreatedAt: created},
			}, nil
		},
	}

	router := newCatalogRouter(catalog, nil)

	req := httptest.NewRequest(http.MethodGet, "/categories?parent_id=cat_root", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.ActiveOnly {
		t.Fatalf("expected public listing to request active categories only")
	}
	if captured.ParentID == nil || *captured.ParentID != "cat_root" {
		t.Fatalf("expected parent filter cat_root, got %#v", captured.ParentID)
	}

	var resp categoryListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Slug != "kitchen" {
		t.Fatalf("unexpected categories: %#v", resp.Items)
	}
}

func TestCatalogHandlersListProducts(t *testing.T) {
	var captured services.ProductListFilter
	catalog := &stubCatalogService{
		listProductsFn: func(_ context.Context, filter services.ProductListFilter) (domain.CursorPage[services.ProductSPU], error) {
			captured = filter
			return domain.CursorPage[services.ProductSPU]{
				Items: []services.ProductSPU{
					{ID: "spu_1", CategoryID: "cat_1", Name: "Ceramic Mug", MainImage: "https://cdn.example/mug.png", Active: true},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	router := newCatalogRouter(catalog, nil)

	req := httptest.NewRequest(http.MethodGet, "/products?search=mug&page_size=5&page_token=tok123", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Search != "mug" {
		t.Fatalf("expected search filter mug, got %q", captured.Search)
	}
	if !captured.ActiveOnly {
		t.Fatalf("expected public listing to request active products only")
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %#v", captured.Pagination)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].MainImage != "https://cdn.example/mug.png" {
		t.Fatalf("unexpected products: %#v", resp.Items)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %s", resp.NextPageToken)
	}
}

func TestCatalogHandlersListCategoryProducts(t *testing.T) {
	var captured services.ProductListFilter
	catalog := &stubCatalogService{
		listProductsFn: func(_ context.Context, filter services.ProductListFilter) (domain.CursorPage[services.ProductSPU], error) {
			captured = filter
			return domain.CursorPage[services.ProductSPU]{}, nil
		},
	}

	router := newCatalogRouter(catalog, nil)

	req := httptest.NewRequest(http.MethodGet, "/categories/cat_1/products", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.CategoryID != "cat_1" {
		t.Fatalf("expected category filter cat_1, got %q", captured.CategoryID)
	}
	if captured.Pagination.PageSize != defaultCatalogPageSize {
		t.Fatalf("expected default page size, got %d", captured.Pagination.PageSize)
	}
}

func TestCatalogHandlersGetProductNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		getProductFn: func(context.Context, string) (services.ProductSPU, error) {
			return services.ProductSPU{}, services.ErrCatalogNotFound
		},
	}

	router := newCatalogRouter(catalog, nil)

	req := httptest.NewRequest(http.MethodGet, "/products/spu_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "catalog_not_found" {
		t.Fatalf("expected catalog_not_found error, got %s", code)
	}
}

func TestCatalogHandlersListSKUs(t *testing.T) {
	catalog := &stubCatalogService{
		listSKUsFn: func(_ context.Context, spuID string) ([]services.ProductSKU, error) {
			if spuID != "spu_1" {
				t.Fatalf("expected spu_1, got %s", spuID)
			}
			return []services.ProductSKU{
				{
					ID:    "sku_1",
					SPUID: "spu_1",
					Title: "Mug / Blue",
					Price: 1299,
					Attributes: []domain.AttributeSelection{
						{AttributeID: "attr_color", ValueID: "val_blue"},
					},
					Active: true,
				},
			}, nil
		},
	}

	router := newCatalogRouter(catalog, nil)

	req := httptest.NewRequest(http.MethodGet, "/products/spu_1/skus", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp skuListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Price != 1299 {
		t.Fatalf("unexpected skus: %#v", resp.Items)
	}
	if len(resp.Items[0].Attributes) != 1 || resp.Items[0].Attributes[0].ValueID != "val_blue" {
		t.Fatalf("unexpected attributes: %#v", resp.Items[0].Attributes)
	}
}

func TestCatalogHandlersListProductReviews(t *testing.T) {
	var captured services.ListProductReviewsCommand
	reviews := &stubReviewService{
		listBySPUFn: func(_ context.Context, cmd services.ListProductReviewsCommand) (domain.CursorPage[services.Review], error) {
			captured = cmd
			return domain.CursorPage[services.Review]{
				Items: []services.Review{
					{ID: "rev_1", SPUID: "spu_1", UserID: "user-1", Rating: 5, Comment: "great", Status: domain.ReviewStatusApproved},
				},
			}, nil
		},
	}

	router := newCatalogRouter(&stubCatalogService{}, reviews)

	req := httptest.NewRequest(http.MethodGet, "/products/spu_1/reviews?page_size=10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.SPUID != "spu_1" || captured.PageSize != 10 {
		t.Fatalf("unexpected list command: %#v", captured)
	}

	var resp reviewListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Rating != 5 {
		t.Fatalf("unexpected reviews: %#v", resp.Items)
	}
}

func TestCatalogHandlersServiceUnavailable(t *testing.T) {
	router := newCatalogRouter(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
