// Package frontdoor is the single catch-all entrypoint for proxied traffic.
//
// A request that has passed the security gate moves through
// Routed -> AuthChecked -> InstanceSelected -> Forwarded -> Completed.
// Each stage returns an explicit *domain.GatewayError on failure, and the
// first failure ends the request with the matching status.
package frontdoor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tjfontaine/service-gateway/internal/api/middleware"
	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/proxy"
	"github.com/tjfontaine/service-gateway/internal/security"
	"github.com/tjfontaine/service-gateway/internal/telemetry"
)

// RouteResolver maps a path to its route.
type RouteResolver interface {
	Resolve(path string) (domain.ServiceRoute, error)
}

// InstanceSelector picks a healthy instance of a service.
type InstanceSelector interface {
	Select(service string) (domain.ServiceInstance, error)
}

// Forwarder sends a request to an instance.
type Forwarder interface {
	Forward(ctx context.Context, route domain.ServiceRoute, inst domain.ServiceInstance, in *http.Request, body []byte, clientIP string) (*proxy.Response, error)
}

// Handler proxies every request to the owning backend service.
type Handler struct {
	routes    RouteResolver
	selector  InstanceSelector
	forwarder Forwarder
	maxBody   int64
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxBodyBytes bounds the request body read for forwarding.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		h.maxBody = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates the entrypoint handler.
func NewHandler(routes RouteResolver, selector InstanceSelector, forwarder Forwarder, opts ...Option) *Handler {
	h := &Handler{
		routes:    routes,
		selector:  selector,
		forwarder: forwarder,
		maxBody:   10 << 20,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HasBearerToken reports whether an Authorization value carries a bearer
// token. The token itself is validated by the backend service.
func HasBearerToken(authorization string) bool {
	return strings.HasPrefix(authorization, "Bearer ")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	route, err := h.routes.Resolve(r.URL.Path)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.AddLogField(ctx, "service", route.ServiceName)

	if route.RequiresAuth && !HasBearerToken(r.Header.Get("Authorization")) {
		middleware.WriteError(w, r, domain.ErrAuthRequired().WithService(route.ServiceName))
		return
	}

	inst, err := h.selector.Select(route.ServiceName)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.AddLogField(ctx, "instance", inst.ID)

	body, err := h.readBody(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.logger.DebugContext(ctx, "forwarding request",
		slog.String("service", route.ServiceName),
		slog.String("instance", inst.ID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	resp, err := h.forwarder.Forward(ctx, route, inst, r, body, security.ClientIP(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if err := proxy.Relay(w, resp); err != nil {
		// Status is already on the wire; only the log can learn about it.
		middleware.AddError(ctx, err)
	}
	middleware.AddLogField(ctx, "state", string(domain.StateCompleted))
	telemetry.MetricRequests.WithLabelValues(string(domain.StateCompleted)).Inc()
}

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > h.maxBody {
		return nil, domain.ErrPayloadTooLarge(h.maxBody)
	}
	return body, nil
}
