package runtime

import (
	"log/slog"
	"net/http"

	"github.com/tjfontaine/service-gateway/internal/adapters/config/file"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig loads configuration from a YAML file plus GATEWAY_
// environment overrides (default). Edits to the file are reported but
// never applied while running.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		g.config = file.NewProvider(path, g.logger)
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
// For advanced use cases where you need full control over config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(g *Gateway) error {
		g.config = provider
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithEventStore sets a custom event store instead of the one named by
// storage.type.
func WithEventStore(store ports.EventStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithEventPublisher sets a custom event publisher.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(g *Gateway) error {
		g.events = publisher
		return nil
	}
}

// WithAdmissionPolicy sets a custom admission policy instead of the one
// derived from security.rate_limit.
func WithAdmissionPolicy(policy ports.AdmissionPolicy) Option {
	return func(g *Gateway) error {
		g.policy = policy
		return nil
	}
}

// WithInstanceSource adds a registry seed source after the configured ones.
func WithInstanceSource(source ports.InstanceSource) Option {
	return func(g *Gateway) error {
		g.sources = append(g.sources, source)
		return nil
	}
}

// WithHTTPClient sets the client used for forwarding and health probes.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) error {
		g.client = client
		return nil
	}
}

// WithListenAddrs overrides the listen addresses derived from server.port
// and admin.port. An empty adminAddr keeps the configured behavior.
func WithListenAddrs(addr, adminAddr string) Option {
	return func(g *Gateway) error {
		g.addr = addr
		g.adminAddr = adminAddr
		return nil
	}
}
