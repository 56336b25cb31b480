// Package proxy forwards a resolved request to one backend instance and
// relays the answer back.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/pkg/safehttp"
	"github.com/tjfontaine/service-gateway/internal/router"
	"github.com/tjfontaine/service-gateway/internal/telemetry"
)

// Request headers that never travel upstream.
var strippedRequestHeaders = []string{"Host", "Content-Length", "Connection"}

// Response headers that describe the upstream hop only.
var hopByHopResponseHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
}

// Response is an upstream answer, relayed verbatim whatever its status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder sends requests to backend instances.
type Forwarder struct {
	client              *http.Client
	timeout             time.Duration
	apiPrefix           string
	identity            string
	trustForwardedProto bool
	logger              *slog.Logger
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient overrides the outbound client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) {
		f.client = c
	}
}

// WithAPIPrefix sets the path inserted between the instance base URL and
// the stripped request path. Defaults to /api/v1.
func WithAPIPrefix(prefix string) Option {
	return func(f *Forwarder) {
		f.apiPrefix = prefix
	}
}

// WithIdentity sets the X-Gateway header value.
func WithIdentity(identity string) Option {
	return func(f *Forwarder) {
		f.identity = identity
	}
}

// WithTrustForwardedProto honors an inbound X-Forwarded-Proto set by a
// fronting proxy.
func WithTrustForwardedProto(trust bool) Option {
	return func(f *Forwarder) {
		f.trustForwardedProto = trust
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// NewForwarder creates a forwarder whose upstream calls are bounded by
// timeout, whichever client is in use.
func NewForwarder(timeout time.Duration, opts ...Option) *Forwarder {
	f := &Forwarder{
		timeout:   timeout,
		apiPrefix: "/api/v1",
		identity:  "api-gateway",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = safehttp.NewClient(timeout)
	}
	return f
}

// TargetURL builds the upstream URL for the inbound URL u on inst. The path
// stays in its escaped form end to end.
func (f *Forwarder) TargetURL(route domain.ServiceRoute, inst domain.ServiceInstance, u *url.URL) string {
	target := inst.BaseURL() + f.apiPrefix + router.StripEscapedPrefix(route, u)
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}

// Forward sends in to inst. Any HTTP status counts as a successful forward;
// only transport failures return an error, always an upstream_unavailable
// gateway error wrapping the cause. The call is not retried.
func (f *Forwarder) Forward(ctx context.Context, route domain.ServiceRoute, inst domain.ServiceInstance, in *http.Request, body []byte, clientIP string) (*Response, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	target := f.TargetURL(route, inst, in.URL)

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	out, err := http.NewRequestWithContext(ctx, in.Method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable(route.ServiceName), err)
	}
	out.Header = f.upstreamHeaders(in, clientIP)

	start := time.Now()
	resp, err := f.client.Do(out)
	if err != nil {
		f.logger.Warn("upstream request failed",
			slog.String("service", route.ServiceName),
			slog.String("instance", inst.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable(route.ServiceName), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	telemetry.MetricForwardDuration.WithLabelValues(route.ServiceName).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", domain.ErrUpstreamUnavailable(route.ServiceName), err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

func (f *Forwarder) upstreamHeaders(in *http.Request, clientIP string) http.Header {
	h := in.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	for _, name := range strippedRequestHeaders {
		h.Del(name)
	}

	proto := "http"
	if in.TLS != nil || (f.trustForwardedProto && in.Header.Get("X-Forwarded-Proto") == "https") {
		proto = "https"
	}

	h.Set("X-Forwarded-For", clientIP)
	h.Set("X-Forwarded-Proto", proto)
	h.Set("X-Gateway", f.identity)
	return h
}

// Relay writes resp to w: status, headers minus hop-by-hop ones, and body.
func Relay(w http.ResponseWriter, resp *Response) error {
	h := w.Header()
	for name, values := range resp.Header {
		if hopByHopResponseHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		h[name] = append([]string(nil), values...)
	}
	w.WriteHeader(resp.StatusCode)
	_, err := w.Write(resp.Body)
	return err
}
