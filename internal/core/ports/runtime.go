// Package ports defines the core interfaces the gateway runtime is assembled from.
package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/pkg/config"
)

// ConfigProvider loads configuration once at startup.
// Routes are not hot-reloadable, so there is no Watch.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Close() error
}

// InstanceSource contributes service instances when the registry is seeded.
// Implementations: static config (default), YAML services file, Consul catalog.
type InstanceSource interface {
	Name() string
	Instances(ctx context.Context, services []string) ([]domain.ServiceInstance, error)
}

// EventPublisher publishes gateway audit events.
// Implementations: direct storage (default).
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.GatewayEvent) error
	Close() error
}

// AdmissionPolicy decides whether a request may proceed.
// Implementations: basic (no limits), sliding window.
type AdmissionPolicy interface {
	CheckRequest(ctx context.Context, req *PolicyRequest) (*PolicyDecision, error)
}

// Bucket names a rate limit policy bucket.
type Bucket string

const (
	BucketAuth    Bucket = "auth"
	BucketGeneral Bucket = "general"
)

// PolicyRequest contains request context for policy checks.
type PolicyRequest struct {
	ClientIP string
	Method   string
	Path     string
}

// PolicyDecision is the result of a policy check.
type PolicyDecision struct {
	Allow         bool
	Reason        string
	Bucket        Bucket
	RetryAfter    int           // seconds
	Delay         time.Duration // slow-down to apply before proceeding
	RateLimitInfo *RateLimitInfo
}

// RateLimitInfo contains rate limit information.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   int64 // Unix timestamp
}
