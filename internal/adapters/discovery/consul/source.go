// Package consul seeds the registry from the Consul service catalog.
package consul

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
)

// Config holds the Consul connection settings.
type Config struct {
	Address    string // host:port
	Datacenter string
	HTTPClient *http.Client
}

// Source lists catalog registrations for each routed service. Consul's own
// health view is ignored; the gateway's prober decides health.
type Source struct {
	client     *consulapi.Client
	datacenter string
	logger     *slog.Logger
}

var _ ports.InstanceSource = (*Source)(nil)

// New creates a Consul-backed source.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("consul address required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	consulCfg := consulapi.DefaultConfig()
	consulCfg.Address = cfg.Address
	consulCfg.Scheme = "http"
	if cfg.HTTPClient != nil {
		consulCfg.HttpClient = cfg.HTTPClient
	}

	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return &Source{client: client, datacenter: cfg.Datacenter, logger: logger}, nil
}

func (s *Source) Name() string { return "consul" }

func (s *Source) Instances(ctx context.Context, services []string) ([]domain.ServiceInstance, error) {
	opts := (&consulapi.QueryOptions{Datacenter: s.datacenter}).WithContext(ctx)

	var out []domain.ServiceInstance
	for _, svc := range services {
		entries, _, err := s.client.Catalog().Service(svc, "", opts)
		if err != nil {
			return nil, fmt.Errorf("consul catalog %s: %w", svc, err)
		}
		if len(entries) == 0 {
			s.logger.Warn("service has no consul registrations", "service", svc)
			continue
		}

		for _, e := range entries {
			addr := e.ServiceAddress
			if addr == "" {
				addr = e.Address
			}
			if addr == "" {
				continue
			}
			out = append(out, domain.ServiceInstance{
				ID:          e.ServiceID,
				ServiceName: svc,
				Host:        addr,
				Port:        e.ServicePort,
			})
		}
	}

	s.logger.Info("loaded consul catalog", "services", len(services), "instances", len(out))
	return out, nil
}
