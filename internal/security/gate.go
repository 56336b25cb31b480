// Package security implements the admission gate in front of all routing:
// rate limiting with progressive slow-down, abuse pattern logging and
// response hardening headers.
package security

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/service-gateway/internal/api/middleware"
	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
	"github.com/tjfontaine/service-gateway/internal/telemetry"
)

// Gate is the first request-path stage.
type Gate struct {
	policy    ports.AdmissionPolicy
	detector  *AbuseDetector
	publisher ports.EventPublisher
	identity  string
	maxBody   int64
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithEventPublisher records abuse matches and rejections as gateway events.
func WithEventPublisher(pub ports.EventPublisher) Option {
	return func(g *Gate) {
		g.publisher = pub
	}
}

// WithIdentity sets the value that replaces X-Powered-By and Server.
func WithIdentity(identity string) Option {
	return func(g *Gate) {
		g.identity = identity
	}
}

// WithMaxBodyBytes bounds how much of a request body is buffered.
func WithMaxBodyBytes(n int64) Option {
	return func(g *Gate) {
		g.maxBody = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithSleep overrides how slow-down delays are waited out.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(g *Gate) {
		g.sleep = sleep
	}
}

// NewGate creates a gate enforcing policy.
func NewGate(policy ports.AdmissionPolicy, opts ...Option) *Gate {
	g := &Gate{
		policy:   policy,
		detector: NewAbuseDetector(),
		identity: "api-gateway",
		maxBody:  10 << 20,
		logger:   slog.Default(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware wraps next with the gate.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hw := &headerWriter{ResponseWriter: w, identity: g.identity, now: g.now}
		// A handler that writes nothing still gets the headers.
		defer hw.apply()

		ctx := r.Context()
		clientIP := ClientIP(r)

		body, err := g.bufferBody(r)
		if err != nil {
			middleware.WriteError(hw, r, err)
			return
		}

		if matches := g.detector.DetectRequest(r.URL.RequestURI(), body); len(matches) > 0 {
			g.reportAbuse(ctx, r, clientIP, matches)
		}

		decision, err := g.policy.CheckRequest(ctx, &ports.PolicyRequest{
			ClientIP: clientIP,
			Method:   r.Method,
			Path:     r.URL.Path,
		})
		if err != nil {
			g.logger.Error("admission policy failed", slog.String("error", err.Error()))
			middleware.WriteError(hw, r, err)
			return
		}
		hw.rateLimit = decision.RateLimitInfo

		if !decision.Allow {
			g.reject(hw, r, clientIP, decision)
			return
		}

		if decision.Delay > 0 {
			telemetry.MetricSlowedDown.Inc()
			middleware.AddLogField(ctx, "slow_down", decision.Delay.String())
			if err := g.sleep(ctx, decision.Delay); err != nil {
				if errors.Is(err, context.Canceled) {
					// Client went away while waiting; nothing to answer.
					middleware.AddError(ctx, err)
					return
				}
				middleware.WriteError(hw, r, err)
				return
			}
		}

		middleware.AddLogField(ctx, "client_ip", clientIP)
		next.ServeHTTP(hw, r)
	})
}

// bufferBody reads the body into memory and replaces r.Body with a reader
// over the buffered bytes.
func (g *Gate) bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, g.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > g.maxBody {
		return nil, domain.ErrPayloadTooLarge(g.maxBody)
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	return body, nil
}

func (g *Gate) reportAbuse(ctx context.Context, r *http.Request, clientIP string, matches []string) {
	g.logger.Warn("suspicious request pattern",
		slog.String("ip", clientIP),
		slog.String("method", r.Method),
		slog.String("url", r.URL.RequestURI()),
		slog.Any("patterns", matches),
		slog.String("request_id", middleware.GetRequestID(ctx)),
	)
	for _, m := range matches {
		telemetry.MetricAbusePatterns.WithLabelValues(m).Inc()
	}
	g.publish(ctx, &domain.GatewayEvent{
		Type:     domain.EventAbusePattern,
		ClientIP: clientIP,
		Method:   r.Method,
		URL:      r.URL.RequestURI(),
		Detail:   strings.Join(matches, ","),
	})
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, clientIP string, decision *ports.PolicyDecision) {
	telemetry.MetricRateLimited.WithLabelValues(string(decision.Bucket)).Inc()

	var gwErr *domain.GatewayError
	if decision.Bucket == ports.BucketAuth {
		gwErr = domain.ErrTooManyAttempts(decision.RetryAfter)
	} else {
		gwErr = domain.ErrTooManyRequests(decision.RetryAfter)
	}

	g.publish(r.Context(), &domain.GatewayEvent{
		Type:     domain.EventRateLimited,
		ClientIP: clientIP,
		Method:   r.Method,
		URL:      r.URL.RequestURI(),
		Detail:   decision.Reason,
	})
	middleware.WriteError(w, r, gwErr)
}

func (g *Gate) publish(ctx context.Context, event *domain.GatewayEvent) {
	if g.publisher == nil {
		return
	}
	if err := g.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		g.logger.Error("failed to publish gateway event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
