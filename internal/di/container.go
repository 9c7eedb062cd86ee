package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/orchard-market/api/internal/payments"
	"github.com/orchard-market/api/internal/platform/config"
	"github.com/orchard-market/api/internal/repositories"
	"github.com/orchard-market/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog   services.CatalogService
	Inventory services.InventoryService
	Orders    services.OrderService
	Refunds   services.RefundService
	Reviews   services.ReviewService
	Checkout  services.CheckoutService
}

// Dependencies carries the infrastructure the container wires services from.
type Dependencies struct {
	Registry     repositories.Registry
	Payments     *payments.Manager
	OrderEvents  services.OrderEventPublisher
	RefundEvents services.RefundEventPublisher
	ReviewEvents services.ReviewEventPublisher
	ImageURLs    services.ImageURLResolver
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services
	reg := deps.Registry
	if reg == nil {
		return svc, nil
	}

	if repo := reg.Inventory(); repo != nil {
		inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
			Inventory: repo,
			Clock:     time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build inventory service: %w", err)
		}
		svc.Inventory = inventorySvc
	}

	if categories := reg.Categories(); categories != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Categories: categories,
			Products:   reg.Products(),
			Inventory:  reg.Inventory(),
			Clock:      time.Now,
			ImageURLs:  deps.ImageURLs,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:     ordersRepo,
			Carts:      reg.Carts(),
			Addresses:  reg.Addresses(),
			Products:   reg.Products(),
			Inventory:  reg.Inventory(),
			Ownership:  reg.Ownership(),
			Counters:   reg.Counters(),
			UnitOfWork: reg,
			Clock:      time.Now,
			Currency:   cfg.Payments.Currency,
			Events:     deps.OrderEvents,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if refundsRepo := reg.Refunds(); refundsRepo != nil && ordersRepo != nil {
		refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
			Refunds:    refundsRepo,
			Orders:     ordersRepo,
			Inventory:  reg.Inventory(),
			UnitOfWork: reg,
			Clock:      time.Now,
			Events:     deps.RefundEvents,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build refund service: %w", err)
		}
		svc.Refunds = refundSvc
	}

	if reviewsRepo := reg.Reviews(); reviewsRepo != nil && ordersRepo != nil {
		reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
			Reviews:   reviewsRepo,
			Orders:    ordersRepo,
			Products:  reg.Products(),
			Clock:     time.Now,
			Sanitizer: newCommentSanitizer(),
			Events:    deps.ReviewEvents,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build review service: %w", err)
		}
		svc.Reviews = reviewSvc
	}

	if svc.Orders != nil && deps.Payments != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:        svc.Orders,
			Payments:      deps.Payments,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Clock:         time.Now,
			Logger:        deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	return svc, nil
}

// newCommentSanitizer strips markup from review comments before persistence.
func newCommentSanitizer() func(string) string {
	policy := bluemonday.StrictPolicy()
	return func(input string) string {
		return strings.TrimSpace(policy.Sanitize(input))
	}
}
