// Package memory provides a bounded in-memory event store.
package memory

import (
	"context"
	"sync"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
)

// DefaultCapacity is the number of events kept before the oldest are dropped.
const DefaultCapacity = 10000

// Store keeps the most recent events in a ring buffer.
type Store struct {
	mu       sync.RWMutex
	events   []*domain.GatewayEvent
	next     int
	full     bool
	capacity int
}

var _ ports.EventStore = (*Store)(nil)

// New creates a store holding at most capacity events.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		events:   make([]*domain.GatewayEvent, capacity),
		capacity: capacity,
	}
}

func (s *Store) AppendEvent(ctx context.Context, event *domain.GatewayEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *event
	s.events[s.next] = &e
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, opts ports.EventListOptions) ([]*domain.GatewayEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = s.capacity
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	out := make([]*domain.GatewayEvent, 0, min(limit, size))
	for i := 0; i < size && len(out) < limit; i++ {
		idx := (s.next - 1 - i + s.capacity) % s.capacity
		e := s.events[idx]
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
