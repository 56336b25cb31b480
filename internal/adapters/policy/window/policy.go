// Package window provides a per-client request window admission policy with
// an escalating slow-down ahead of the hard ceiling.
//
// A window opens at a key's first request and lasts Window. Every request,
// including rejected ones, increments the counter for its bucket|ip key.
// Keys live in a bounded LRU whose TTL equals the window, so idle clients
// age out without a janitor.
package window

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
	"github.com/tjfontaine/service-gateway/internal/pkg/config"
)

// Policy implements ports.AdmissionPolicy.
type Policy struct {
	cfg         config.RateLimitConfig
	authPattern *regexp.Regexp
	now         func() time.Time

	mu       sync.Mutex
	counters *expirable.LRU[string, *domain.RateLimitCounter]
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		p.now = now
	}
}

// New creates a policy from the rate limit config. authPathPattern selects
// the paths counted against the auth bucket.
func New(cfg config.RateLimitConfig, authPathPattern string, opts ...Option) (*Policy, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive")
	}
	if cfg.AuthMax <= 0 || cfg.GeneralMax <= 0 {
		return nil, fmt.Errorf("rate limit maxima must be positive")
	}
	pattern, err := regexp.Compile(authPathPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid auth path pattern: %w", err)
	}

	p := &Policy{
		cfg:         cfg,
		authPattern: pattern,
		now:         time.Now,
		counters:    expirable.NewLRU[string, *domain.RateLimitCounter](cfg.MaxKeys, nil, cfg.Window),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Classify returns the bucket a path counts against.
func (p *Policy) Classify(path string) ports.Bucket {
	if p.authPattern.MatchString(path) {
		return ports.BucketAuth
	}
	return ports.BucketGeneral
}

// CheckRequest counts the request and decides whether it may proceed.
func (p *Policy) CheckRequest(ctx context.Context, req *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	if req == nil {
		return nil, fmt.Errorf("nil policy request")
	}

	bucket := p.Classify(req.Path)
	limit := p.cfg.GeneralMax
	if bucket == ports.BucketAuth {
		limit = p.cfg.AuthMax
	}

	counter := p.increment(string(bucket)+"|"+req.ClientIP, p.now())

	decision := &ports.PolicyDecision{
		Allow:  true,
		Bucket: bucket,
		RateLimitInfo: &ports.RateLimitInfo{
			Limit:     limit,
			Remaining: max(limit-counter.Count, 0),
			ResetAt:   counter.ResetAt(p.cfg.Window).Unix(),
		},
	}

	if counter.Count > limit {
		decision.Allow = false
		decision.Reason = fmt.Sprintf("%s limit of %d per %s exceeded", bucket, limit, p.cfg.Window)
		decision.RetryAfter = int(p.cfg.Window / time.Second)
		return decision, nil
	}

	if bucket == ports.BucketGeneral {
		decision.Delay = p.slowDown(counter.Count)
	}
	return decision, nil
}

// Counter returns a copy of the counter for key, if one is live.
func (p *Policy) Counter(key string) (domain.RateLimitCounter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.counters.Get(key)
	if !ok || c.Expired(p.now(), p.cfg.Window) {
		return domain.RateLimitCounter{}, false
	}
	return *c, true
}

// increment atomically opens or advances the window for key and returns a
// copy of the updated counter.
func (p *Policy) increment(key string, now time.Time) domain.RateLimitCounter {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.counters.Get(key)
	if !ok || c.Expired(now, p.cfg.Window) {
		c = &domain.RateLimitCounter{Key: key, WindowStart: now}
		p.counters.Add(key, c)
	}
	c.Count++
	return *c
}

func (p *Policy) slowDown(count int) time.Duration {
	if p.cfg.SlowDownAfter <= 0 || count <= p.cfg.SlowDownAfter {
		return 0
	}
	delay := time.Duration(count-p.cfg.SlowDownAfter) * p.cfg.SlowDownStep
	if p.cfg.SlowDownMax > 0 && delay > p.cfg.SlowDownMax {
		delay = p.cfg.SlowDownMax
	}
	return delay
}
