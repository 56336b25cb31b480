// Package static seeds the registry from the gateway configuration.
package static

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
	"github.com/tjfontaine/service-gateway/internal/pkg/config"
)

// Source yields one instance per route base URL, or the explicit instances
// listed under services: when a service has them.
type Source struct {
	routes   []config.RouteConfig
	services []config.ServiceConfig
}

var _ ports.InstanceSource = (*Source)(nil)

// New creates a static source from the loaded config.
func New(cfg *config.Config) *Source {
	return &Source{routes: cfg.Routes, services: cfg.Services}
}

func (s *Source) Name() string { return "static" }

func (s *Source) Instances(ctx context.Context, services []string) ([]domain.ServiceInstance, error) {
	wanted := make(map[string]bool, len(services))
	for _, svc := range services {
		wanted[svc] = true
	}

	explicit := make(map[string]bool)
	var out []domain.ServiceInstance
	for _, svc := range s.services {
		if !wanted[svc.Name] || len(svc.Instances) == 0 {
			continue
		}
		explicit[svc.Name] = true
		for _, inst := range svc.Instances {
			id := inst.ID
			if id == "" {
				id = uuid.NewString()
			}
			out = append(out, domain.ServiceInstance{
				ID:          id,
				ServiceName: svc.Name,
				Scheme:      inst.Scheme,
				Host:        inst.Host,
				Port:        inst.Port,
			})
		}
	}

	seeded := make(map[string]bool)
	for _, r := range s.routes {
		if !wanted[r.Service] || explicit[r.Service] || seeded[r.Service] || r.BaseURL == "" {
			continue
		}
		scheme, host, port, err := ParseBaseURL(r.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.PathPrefix, err)
		}
		seeded[r.Service] = true
		out = append(out, domain.ServiceInstance{
			ID:          r.Service + "-1",
			ServiceName: r.Service,
			Scheme:      scheme,
			Host:        host,
			Port:        port,
		})
	}

	return out, nil
}

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// ParseBaseURL splits an http(s) base URL into scheme, host and port,
// defaulting the port from the scheme.
func ParseBaseURL(raw string) (string, string, int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", "", 0, fmt.Errorf("base url %q has no host", raw)
	}

	defaultPort, ok := defaultPorts[u.Scheme]
	if !ok {
		return "", "", 0, fmt.Errorf("base url %q has unsupported scheme %q", raw, u.Scheme)
	}
	portStr := u.Port()
	if portStr == "" {
		portStr = defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", "", 0, fmt.Errorf("base url %q has invalid port %q", raw, net.JoinHostPort(u.Hostname(), portStr))
	}
	return u.Scheme, u.Hostname(), port, nil
}
