// Package registry tracks backend service instances and their health.
//
// Instances are added once during startup seeding and never removed. After
// that, the only writer is the Prober, which flips health through SetHealth.
// All reads hand out copies, so callers never share an instance record with
// the probe loop.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
)

// Registry holds the instances of every known service.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*domain.ServiceInstance
	byService map[string][]string // service -> instance IDs in registration order

	strategy Strategy
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStrategy sets the selection strategy. Defaults to RandomStrategy.
func WithStrategy(s Strategy) RegistryOption {
	return func(r *Registry) {
		r.strategy = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry.
func New(opts ...RegistryOption) *Registry {
	r := &Registry{
		instances: make(map[string]*domain.ServiceInstance),
		byService: make(map[string][]string),
		strategy:  RandomStrategy{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an instance. New instances always start unhealthy and become
// eligible for traffic only after a successful probe.
func (r *Registry) Register(inst domain.ServiceInstance) error {
	if inst.ID == "" {
		return fmt.Errorf("instance has no id")
	}
	if inst.ServiceName == "" {
		return fmt.Errorf("instance %s has no service name", inst.ID)
	}
	if scheme := inst.URLScheme(); scheme != "http" && scheme != "https" {
		return fmt.Errorf("instance %s has unsupported scheme %q", inst.ID, inst.Scheme)
	}
	if inst.Host == "" || inst.Port <= 0 {
		return fmt.Errorf("instance %s has an invalid address %q", inst.ID, inst.Address())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[inst.ID]; exists {
		return fmt.Errorf("instance %s already registered", inst.ID)
	}

	inst.Healthy = false
	inst.LastCheckedAt = time.Time{}
	r.instances[inst.ID] = &inst
	r.byService[inst.ServiceName] = append(r.byService[inst.ServiceName], inst.ID)

	r.logger.Debug("instance registered",
		slog.String("service", inst.ServiceName),
		slog.String("instance", inst.ID),
		slog.String("address", inst.Address()),
	)
	return nil
}

// Has reports whether any instance of service is registered.
func (r *Registry) Has(service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byService[service]) > 0
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byService))
	for name := range r.byService {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Instances returns copies of every instance of service in registration order.
func (r *Registry) Instances(service string) []domain.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(service, false)
}

// HealthyInstances returns copies of the healthy instances of service.
func (r *Registry) HealthyInstances(service string) []domain.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(service, true)
}

// Snapshot returns copies of all instances grouped by service name.
func (r *Registry) Snapshot() []domain.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byService))
	for name := range r.byService {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]domain.ServiceInstance, 0, len(r.instances))
	for _, name := range names {
		out = append(out, r.collect(name, false)...)
	}
	return out
}

// GetHealthyInstance picks one healthy instance of service using the
// configured strategy. It never returns an unhealthy instance.
func (r *Registry) GetHealthyInstance(service string) (domain.ServiceInstance, bool) {
	healthy := r.HealthyInstances(service)
	if len(healthy) == 0 {
		return domain.ServiceInstance{}, false
	}
	return r.strategy.Choose(service, healthy), true
}

// SetHealth records a probe outcome and returns the previous health flag.
func (r *Registry) SetHealth(id string, healthy bool, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return false, fmt.Errorf("instance %s not registered", id)
	}

	previous := inst.Healthy
	inst.Healthy = healthy
	inst.LastCheckedAt = at
	return previous, nil
}

// collect must be called with r.mu held.
func (r *Registry) collect(service string, healthyOnly bool) []domain.ServiceInstance {
	ids := r.byService[service]
	out := make([]domain.ServiceInstance, 0, len(ids))
	for _, id := range ids {
		inst := r.instances[id]
		if healthyOnly && !inst.Healthy {
			continue
		}
		out = append(out, *inst)
	}
	return out
}
