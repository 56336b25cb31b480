// Package runtime provides the core Gateway struct and lifecycle management
// for the service gateway.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/service-gateway/internal/adapters/discovery/consul"
	discoveryfile "github.com/tjfontaine/service-gateway/internal/adapters/discovery/file"
	"github.com/tjfontaine/service-gateway/internal/adapters/discovery/static"
	"github.com/tjfontaine/service-gateway/internal/adapters/events/direct"
	"github.com/tjfontaine/service-gateway/internal/adapters/policy/basic"
	"github.com/tjfontaine/service-gateway/internal/adapters/policy/window"
	apimw "github.com/tjfontaine/service-gateway/internal/api/middleware"
	"github.com/tjfontaine/service-gateway/internal/controlplane"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
	"github.com/tjfontaine/service-gateway/internal/frontdoor"
	"github.com/tjfontaine/service-gateway/internal/pkg/config"
	"github.com/tjfontaine/service-gateway/internal/proxy"
	"github.com/tjfontaine/service-gateway/internal/registry"
	"github.com/tjfontaine/service-gateway/internal/router"
	"github.com/tjfontaine/service-gateway/internal/security"
	"github.com/tjfontaine/service-gateway/internal/storage"
)

// configWatcher is implemented by config providers that can report edits.
type configWatcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Gateway is the main entry point for running the service gateway.
// It owns the route table, the instance registry and its prober, and the
// public and admin HTTP servers.
type Gateway struct {
	// Dependencies (injected via options)
	config  ports.ConfigProvider
	store   ports.EventStore
	events  ports.EventPublisher
	policy  ports.AdmissionPolicy
	sources []ports.InstanceSource
	client  *http.Client
	logger  *slog.Logger

	addr      string
	adminAddr string

	// Built by Start
	cfg         *config.Config
	routes      *router.Table
	registry    *registry.Registry
	prober      *registry.Prober
	server      *http.Server
	adminServer *http.Server
	listener    net.Listener
	adminLn     net.Listener
	ownsStore   bool

	// Lifecycle management
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// New creates a new Gateway with the given options.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}

	return gw, nil
}

// Start loads configuration, seeds the registry, starts the health prober
// and begins serving.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg, err := g.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g.cfg = cfg

	g.routes, err = router.New(cfg.ServiceRoutes())
	if err != nil {
		return fmt.Errorf("build route table: %w", err)
	}

	events := g.events
	if err := g.initEvents(cfg); err != nil {
		return fmt.Errorf("init events: %w", err)
	}
	started := false
	defer func() {
		if !started {
			g.releaseEvents(events)
		}
	}()

	if g.policy == nil {
		if g.policy, err = newPolicy(cfg.Security); err != nil {
			return fmt.Errorf("init policy: %w", err)
		}
	}

	if err := g.initRegistry(ctx, cfg); err != nil {
		return fmt.Errorf("init registry: %w", err)
	}

	if err := g.startServers(cfg); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.cancel = cancel

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.prober.Run(runCtx)
	}()

	if w, ok := g.config.(configWatcher); ok {
		if err := w.Watch(runCtx, nil); err != nil {
			g.logger.Debug("config file not watched", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gateway started",
		slog.String("addr", g.listener.Addr().String()),
		slog.Int("routes", len(cfg.Routes)),
		slog.Int("instances", len(g.registry.Snapshot())))

	started = true
	return nil
}

// Shutdown gracefully stops the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	var errs []error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if g.adminServer != nil {
		if err := g.adminServer.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown admin server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()

	if g.events != nil {
		if err := g.events.Close(); err != nil {
			g.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if g.store != nil && g.ownsStore {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if err := g.config.Close(); err != nil {
		g.logger.Error("failed to close config", slog.String("error", err.Error()))
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the address the public server listens on.
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// AdminAddr returns the admin server address, or "" when it is disabled.
func (g *Gateway) AdminAddr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.adminLn == nil {
		return ""
	}
	return g.adminLn.Addr().String()
}

// Registry exposes the instance registry, mainly for embedding and tests.
func (g *Gateway) Registry() *registry.Registry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry
}

// Prober exposes the health prober so callers can force a sweep.
func (g *Gateway) Prober() *registry.Prober {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.prober
}

func (g *Gateway) initEvents(cfg *config.Config) error {
	if g.store == nil {
		store, err := storage.Open(cfg.Storage)
		if err != nil {
			return err
		}
		g.store = store
		g.ownsStore = store != nil
	}

	if g.events == nil && g.store != nil {
		publisher, err := direct.NewPublisher(g.store)
		if err != nil {
			return fmt.Errorf("create direct event publisher: %w", err)
		}
		g.events = publisher
	}

	if g.events == nil {
		g.logger.Info("event log disabled")
	}
	return nil
}

// releaseEvents undoes initEvents after a failed start: an opened store is
// closed and the publisher is reset to what the caller supplied.
func (g *Gateway) releaseEvents(supplied ports.EventPublisher) {
	g.events = supplied
	if g.store != nil && g.ownsStore {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
		g.store = nil
		g.ownsStore = false
	}
}

func newPolicy(cfg config.SecurityConfig) (ports.AdmissionPolicy, error) {
	if cfg.RateLimit.Enabled {
		return window.New(cfg.RateLimit, cfg.AuthPathPattern)
	}
	pattern, err := regexp.Compile(cfg.AuthPathPattern)
	if err != nil {
		return nil, err
	}
	return basic.NewPolicy(pattern), nil
}

// initRegistry seeds the registry from every source and prepares the prober.
// Every seeded instance starts unhealthy.
func (g *Gateway) initRegistry(ctx context.Context, cfg *config.Config) error {
	strategy, err := registry.NewStrategy(cfg.Registry.Selection)
	if err != nil {
		return err
	}
	g.registry = registry.New(registry.WithStrategy(strategy), registry.WithLogger(g.logger))

	sources := []ports.InstanceSource{static.New(cfg)}
	if cfg.Discovery.ServicesFile != "" {
		sources = append(sources, discoveryfile.New(cfg.Discovery.ServicesFile, g.logger))
	}
	if cfg.Discovery.Consul.Address != "" {
		src, err := consul.New(consul.Config{
			Address:    cfg.Discovery.Consul.Address,
			Datacenter: cfg.Discovery.Consul.Datacenter,
		}, g.logger)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}
	sources = append(sources, g.sources...)

	services := g.routes.Services()
	for _, src := range sources {
		instances, err := src.Instances(ctx, services)
		if err != nil {
			return fmt.Errorf("source %s: %w", src.Name(), err)
		}
		for _, inst := range instances {
			if err := g.registry.Register(inst); err != nil {
				g.logger.Warn("skipping instance",
					slog.String("source", src.Name()),
					slog.String("error", err.Error()))
			}
		}
	}

	for _, svc := range services {
		if !g.registry.Has(svc) {
			g.logger.Warn("service has no instances", slog.String("service", svc))
		}
	}

	proberOpts := []registry.ProberOption{registry.WithProberLogger(g.logger)}
	if g.client != nil {
		proberOpts = append(proberOpts, registry.WithHTTPClient(g.client))
	}
	if g.events != nil {
		proberOpts = append(proberOpts, registry.WithEventPublisher(g.events))
	}
	g.prober = registry.NewProber(g.registry, cfg.Health, proberOpts...)
	return nil
}

// Handler builds the public request pipeline. Start must have run.
func (g *Gateway) Handler() http.Handler {
	cfg := g.cfg

	r := chi.NewRouter()
	if cfg.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(apimw.RequestIDMiddleware)
	r.Use(apimw.LoggingMiddleware(g.logger))
	r.Use(apimw.Recoverer(g.logger))
	r.Use(apimw.TimeoutMiddleware(cfg.Server.RequestTimeout))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "service-gateway")
	})

	gateOpts := []security.Option{
		security.WithIdentity(cfg.Server.Identity),
		security.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		security.WithLogger(g.logger),
	}
	if g.events != nil {
		gateOpts = append(gateOpts, security.WithEventPublisher(g.events))
	}
	r.Use(security.NewGate(g.policy, gateOpts...).Middleware)

	fwdOpts := []proxy.Option{
		proxy.WithAPIPrefix(cfg.Server.APIPrefix),
		proxy.WithIdentity(cfg.Server.Identity),
		proxy.WithTrustForwardedProto(cfg.Server.TrustProxyHeaders),
		proxy.WithLogger(g.logger),
	}
	if g.client != nil {
		fwdOpts = append(fwdOpts, proxy.WithHTTPClient(g.client))
	}

	fd := frontdoor.NewHandler(
		g.routes,
		registry.NewSelector(g.registry),
		proxy.NewForwarder(cfg.Server.ForwardTimeout, fwdOpts...),
		frontdoor.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		frontdoor.WithLogger(g.logger),
	)
	r.Handle("/*", fd)
	r.NotFound(fd.ServeHTTP)
	r.MethodNotAllowed(fd.ServeHTTP)

	return r
}

func (g *Gateway) startServers(cfg *config.Config) error {
	addr := g.addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Server.Port)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	g.listener = ln

	// No WriteTimeout: slow-down delays and upstream calls are bounded by
	// the request timeout middleware instead.
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	g.serve(g.server, ln, "HTTP server")

	adminAddr := g.adminAddr
	if adminAddr == "" && cfg.Admin.Port > 0 {
		adminAddr = fmt.Sprintf(":%d", cfg.Admin.Port)
	}
	if adminAddr == "" {
		return nil
	}

	adminLn, err := net.Listen("tcp", adminAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("listen %s: %w", adminAddr, err)
	}
	g.adminLn = adminLn
	g.adminServer = &http.Server{
		Handler:           controlplane.NewServer(g.registry, g.routes, g.store),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.serve(g.adminServer, adminLn, "admin server")
	return nil
}

func (g *Gateway) serve(srv *http.Server, ln net.Listener, name string) {
	go func() {
		g.logger.Info(name+" listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("server error", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}
