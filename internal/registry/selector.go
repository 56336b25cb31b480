package registry

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
)

// Strategy chooses one instance from a non-empty healthy set.
type Strategy interface {
	Choose(service string, healthy []domain.ServiceInstance) domain.ServiceInstance
}

// RandomStrategy picks uniformly at random.
type RandomStrategy struct{}

func (RandomStrategy) Choose(_ string, healthy []domain.ServiceInstance) domain.ServiceInstance {
	return healthy[rand.IntN(len(healthy))]
}

// RoundRobinStrategy rotates through the healthy set, one counter per service.
type RoundRobinStrategy struct {
	counters sync.Map // service -> *atomic.Uint64
}

func (s *RoundRobinStrategy) Choose(service string, healthy []domain.ServiceInstance) domain.ServiceInstance {
	v, _ := s.counters.LoadOrStore(service, new(atomic.Uint64))
	n := v.(*atomic.Uint64).Add(1) - 1
	return healthy[n%uint64(len(healthy))]
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", "random":
		return RandomStrategy{}, nil
	case "round_robin":
		return &RoundRobinStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", name)
	}
}

// Selector resolves a service name to a healthy instance.
type Selector struct {
	registry *Registry
}

// NewSelector creates a selector backed by reg.
func NewSelector(reg *Registry) *Selector {
	return &Selector{registry: reg}
}

// Select returns a healthy instance of service or a no_healthy_instance error.
func (s *Selector) Select(service string) (domain.ServiceInstance, error) {
	inst, ok := s.registry.GetHealthyInstance(service)
	if !ok {
		return domain.ServiceInstance{}, domain.ErrNoHealthyInstance(service)
	}
	return inst, nil
}
