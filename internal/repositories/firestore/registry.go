package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/orchard-market/api/internal/platform/firestore"
	"github.com/orchard-market/api/internal/repositories"
)

// RegistryDeps bundles collaborators for the Firestore repository registry.
type RegistryDeps struct {
	Provider *pfirestore.Provider
	// Folder normalises product names for search; optional.
	Folder func(string) string
	// HealthChecks are probed by the readiness endpoint.
	HealthChecks []repositories.DependencyCheck
}

// Registry wires every Firestore-backed repository behind the
// repositories.Registry interface. RunInTx opens one Firestore transaction
// and every repository call made inside the callback joins it through the
// context.
type Registry struct {
	provider *pfirestore.Provider

	categories *CategoryRepository
	products   *ProductRepository
	inventory  *InventoryRepository
	orders     *OrderRepository
	refunds    *RefundRepository
	reviews    *ReviewRepository
	ownership  *OwnershipRepository
	carts      *CartRepository
	addresses  *AddressRepository
	counters   *CounterRepository
	health     repositories.HealthRepository
}

// NewRegistry constructs the registry and all contained repositories.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}

	categories, err := NewCategoryRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build category repository: %w", err)
	}
	orders, err := NewOrderRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	products, err := NewProductRepository(ProductRepositoryDeps{
		Provider:        deps.Provider,
		Folder:          deps.Folder,
		CountItemsBySKU: orders.CountItemsBySKU,
	})
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	inventory, err := NewInventoryRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build inventory repository: %w", err)
	}
	refunds, err := NewRefundRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build refund repository: %w", err)
	}
	reviews, err := NewReviewRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build review repository: %w", err)
	}
	ownership, err := NewOwnershipRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build ownership repository: %w", err)
	}
	carts, err := NewCartRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build cart repository: %w", err)
	}
	addresses, err := NewAddressRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build address repository: %w", err)
	}
	counters, err := NewCounterRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}

	checks := deps.HealthChecks
	if len(checks) == 0 {
		checks = []repositories.DependencyCheck{{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := deps.Provider.Client(ctx)
				return err
			},
		}}
	}
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider:   deps.Provider,
		categories: categories,
		products:   products,
		inventory:  inventory,
		orders:     orders,
		refunds:    refunds,
		reviews:    reviews,
		ownership:  ownership,
		carts:      carts,
		addresses:  addresses,
		counters:   counters,
		health:     health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn inside one Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("repository registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

func (r *Registry) Categories() repositories.CategoryRepository { return r.categories }
func (r *Registry) Products() repositories.ProductRepository    { return r.products }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Orders() repositories.OrderRepository        { return r.orders }
func (r *Registry) Refunds() repositories.RefundRepository      { return r.refunds }
func (r *Registry) Reviews() repositories.ReviewRepository      { return r.reviews }
func (r *Registry) Ownership() repositories.OwnershipRepository { return r.ownership }
func (r *Registry) Carts() repositories.CartRepository          { return r.carts }
func (r *Registry) Addresses() repositories.AddressRepository   { return r.addresses }
func (r *Registry) Counters() repositories.CounterRepository    { return r.counters }
func (r *Registry) Health() repositories.HealthRepository       { return r.health }

var _ repositories.Registry = (*Registry)(nil)
