package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
	"github.com/tjfontaine/service-gateway/internal/pkg/config"
	"github.com/tjfontaine/service-gateway/internal/pkg/safehttp"
	"github.com/tjfontaine/service-gateway/internal/telemetry"
)

// Prober periodically checks every registered instance and updates its
// health flag in the registry.
type Prober struct {
	registry  *Registry
	cfg       config.HealthConfig
	client    *http.Client
	publisher ports.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithHTTPClient overrides the probe client. The per-probe timeout is applied
// through the request context, not the client.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) {
		p.client = c
	}
}

// WithEventPublisher records health transitions as gateway events.
func WithEventPublisher(pub ports.EventPublisher) ProberOption {
	return func(p *Prober) {
		p.publisher = pub
	}
}

// WithProberLogger sets the logger.
func WithProberLogger(logger *slog.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

// WithClock overrides the time source used for LastCheckedAt.
func WithClock(now func() time.Time) ProberOption {
	return func(p *Prober) {
		p.now = now
	}
}

// NewProber creates a prober for reg.
func NewProber(reg *Registry, cfg config.HealthConfig, opts ...ProberOption) *Prober {
	p := &Prober{
		registry: reg,
		cfg:      cfg,
		client:   safehttp.NewClient(0),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.Path == "" {
		p.cfg.Path = "/health"
	}
	return p
}

// Run waits InitialDelay, then sweeps every Interval until ctx is cancelled.
// The interval is measured from the end of one sweep to the start of the next,
// so a slow sweep never overlaps the following one.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info("health prober started",
		slog.Duration("initial_delay", p.cfg.InitialDelay),
		slog.Duration("interval", p.cfg.Interval),
	)

	timer := time.NewTimer(p.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("health prober stopped")
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			continue
		}

		p.Sweep(ctx)
		timer.Reset(p.cfg.Interval)
	}
}

// Sweep probes all instances concurrently and returns once every probe has
// settled. One slow instance delays only its own result.
func (p *Prober) Sweep(ctx context.Context) {
	instances := p.registry.Snapshot()

	var g errgroup.Group
	for _, inst := range instances {
		g.Go(func() error {
			err := p.probe(ctx, inst)
			if ctx.Err() != nil {
				// Cancelled by shutdown, not an answer from the instance.
				return nil
			}
			p.record(ctx, inst, err)
			return nil
		})
	}
	_ = g.Wait()
}

// probe returns nil when the instance answered 2xx within the timeout.
func (p *Prober) probe(ctx context.Context, inst domain.ServiceInstance) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		telemetry.MetricProbeDuration.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.BaseURL()+p.cfg.Path, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (p *Prober) record(ctx context.Context, inst domain.ServiceInstance, probeErr error) {
	healthy := probeErr == nil

	previous, err := p.registry.SetHealth(inst.ID, healthy, p.now())
	if err != nil {
		p.logger.Error("failed to record probe result", slog.String("instance", inst.ID), slog.String("error", err.Error()))
		return
	}
	telemetry.SetInstanceHealth(inst.ServiceName, inst.ID, healthy)

	if previous == healthy {
		return
	}

	attrs := []any{
		slog.String("service", inst.ServiceName),
		slog.String("instance", inst.ID),
		slog.String("address", inst.Address()),
	}
	detail := "healthy"
	direction := "up"
	if healthy {
		p.logger.Info("instance became healthy", attrs...)
	} else {
		detail = "unhealthy: " + probeErr.Error()
		direction = "down"
		p.logger.Warn("instance became unhealthy", append(attrs, slog.String("error", probeErr.Error()))...)
	}
	telemetry.MetricHealthTransitions.WithLabelValues(inst.ServiceName, direction).Inc()

	if p.publisher == nil {
		return
	}
	event := &domain.GatewayEvent{
		Type:       domain.EventHealthTransition,
		Service:    inst.ServiceName,
		InstanceID: inst.ID,
		Detail:     detail,
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Error("failed to publish health transition", slog.String("instance", inst.ID), slog.String("error", err.Error()))
	}
}
