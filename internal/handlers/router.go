package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/httpx"
)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// RouteRegistrar adds a resource's routes to the group mounted for it.
type RouteRegistrar func(r chi.Router)

type mount struct {
	path      string
	registrar RouteRegistrar
}

type routerConfig struct {
	prefix      string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	mounts      []mount
}

type Option func(*routerConfig)

// NewRouter builds the HTTP surface: unauthenticated probes at the root and the versioned
// order API under /api/v1. Resources without a registrar answer 501 so clients can tell a
// disabled feature from a typo.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		prefix:  defaultAPIPrefix,
		timeout: defaultTimeout,
		mounts:  []mount{{path: "/orders"}, {path: "/catalog"}},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.CleanPath, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.prefix, func(api chi.Router) {
		for _, m := range cfg.mounts {
			registrar := m.registrar
			if registrar == nil {
				registrar = notImplemented(m.path)
			}
			api.Route(m.path, func(group chi.Router) { registrar(group) })
		}
	})
	return r
}

func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithRequestTimeout bounds each request's context. Non-positive keeps the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

func WithOrderRoutes(reg RouteRegistrar) Option {
	return withMount("/orders", reg)
}

func WithCatalogRoutes(reg RouteRegistrar) Option {
	return withMount("/catalog", reg)
}

func withMount(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		for i := range cfg.mounts {
			if cfg.mounts[i].path == path {
				cfg.mounts[i].registrar = reg
				return
			}
		}
		cfg.mounts = append(cfg.mounts, mount{path: path, registrar: reg})
	}
}

func routeNotFound(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError(errorNotFoundCode,
		fmt.Sprintf("no route for %s", r.URL.Path), http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("method_not_allowed",
		fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path), http.StatusMethodNotAllowed))
}

func notImplemented(path string) RouteRegistrar {
	return func(r chi.Router) {
		handler := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented",
				fmt.Sprintf("%s is not enabled on this deployment", path), http.StatusNotImplemented))
		}
		r.HandleFunc("/", handler)
		r.HandleFunc("/*", handler)
	}
}
