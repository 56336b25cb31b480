package domain

import (
	"time"
)

// GatewayEvent is an audit record published by the prober and the security gate.
// Events are observability only; nothing on the request path reads them back.
type GatewayEvent struct {
	ID         string    `json:"id" db:"id"`
	Type       EventType `json:"type" db:"type"`
	Service    string    `json:"service,omitempty" db:"service"`
	InstanceID string    `json:"instance_id,omitempty" db:"instance_id"`
	ClientIP   string    `json:"client_ip,omitempty" db:"client_ip"`
	Method     string    `json:"method,omitempty" db:"method"`
	URL        string    `json:"url,omitempty" db:"url"`
	Detail     string    `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// EventType identifies the type of gateway event.
type EventType string

const (
	EventHealthTransition EventType = "health.transition"
	EventAbusePattern     EventType = "security.abuse_pattern"
	EventRateLimited      EventType = "security.rate_limited"
)
