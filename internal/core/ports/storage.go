package ports

import (
	"context"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
)

// EventStore persists gateway audit events.
// Implementations: in-memory (default), SQLite.
type EventStore interface {
	// AppendEvent stores a single event
	AppendEvent(ctx context.Context, event *domain.GatewayEvent) error

	// ListEvents returns events newest first
	ListEvents(ctx context.Context, opts EventListOptions) ([]*domain.GatewayEvent, error)

	// Close closes the storage connection
	Close() error
}

// EventListOptions filters ListEvents.
type EventListOptions struct {
	Type  domain.EventType
	Limit int
}
