package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orchard-market/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Middleware is the http middleware shape chi expects.
type Middleware = func(http.Handler) http.Handler

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// mountGroup is one sub-router under the API prefix. Groups without a
// registrar answer 501 so the surface stays predictable during rollout.
type mountGroup struct {
	path        string
	name        string
	routes      RouteRegistrar
	middlewares []Middleware
}

type routerConfig struct {
	basePath    string
	middlewares []Middleware
	health      *HealthHandlers

	public RouteRegistrar
	groups []*mountGroup

	internal            RouteRegistrar
	internalMiddlewares []Middleware
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

func (cfg *routerConfig) group(path string) *mountGroup {
	for _, g := range cfg.groups {
		if g.path == path {
			return g
		}
	}
	return nil
}

// NewRouter constructs the chi router with shared middleware and expected route groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []Middleware{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: []*mountGroup{
			{path: "/me", name: "me"},
			{path: "/orders", name: "orders"},
			{path: "/admin", name: "admin"},
			{path: "/webhooks", name: "webhooks"},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	useAll(r, cfg.middlewares)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	// Operational endpoints invoked by Cloud Scheduler mount outside the
	// API prefix.
	if cfg.internal != nil {
		r.Route("/internal", func(group chi.Router) {
			useAll(group, cfg.internalMiddlewares)
			cfg.internal(group)
		})
	}

	r.Route(cfg.basePath, func(api chi.Router) {
		// Storefront catalog endpoints register at the API root so the
		// paths stay flat (/categories, /products).
		if cfg.public != nil {
			cfg.public(api)
		} else {
			registerNotImplemented(api, "catalog")
		}
		for _, g := range cfg.groups {
			api.Route(g.path, func(sub chi.Router) {
				useAll(sub, g.middlewares)
				if g.routes != nil {
					g.routes(sub)
					return
				}
				registerNotImplemented(sub, g.name)
			})
		}
	})

	return r
}

func useAll(r chi.Router, middlewares []Middleware) {
	for _, mw := range middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithPublicRoutes configures the registrar for the storefront catalog endpoints.
func WithPublicRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.public = reg }
}

// WithMeRoutes configures the registrar responsible for user scoped endpoints.
func WithMeRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/me").routes = reg }
}

// WithOrderRoutes configures the registrar responsible for order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/orders").routes = reg }
}

// WithAdminRoutes configures the registrar responsible for admin endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/admin").routes = reg }
}

// WithWebhookRoutes configures the registrar responsible for webhook endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/webhooks").routes = reg }
}

// WithWebhookMiddlewares configures middlewares applied to the /webhooks group.
func WithWebhookMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("/webhooks")
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithInternalRoutes configures the registrar for the /internal group.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.internal = reg }
}

// WithInternalMiddlewares configures middlewares applied to the /internal group.
func WithInternalMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) { cfg.internalMiddlewares = append(cfg.internalMiddlewares, mw...) }
}
