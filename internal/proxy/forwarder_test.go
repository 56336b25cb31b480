package proxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
)

type seenRequest struct {
	Method      string
	Path        string
	EscapedPath string
	Query       string
	Header      http.Header
	Body        string
	Host        string
}

func echoBackend(t *testing.T, status int) (*httptest.Server, *seenRequest) {
	t.Helper()
	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*seen = seenRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			EscapedPath: r.URL.EscapedPath(),
			Query:       r.URL.RawQuery,
			Header:      r.Header.Clone(),
			Body:        string(b),
			Host:        r.Host,
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"from": "backend"})
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func instanceOf(t *testing.T, srv *httptest.Server, service string) domain.ServiceInstance {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return domain.ServiceInstance{ID: service + "-1", ServiceName: service, Host: host, Port: port, Healthy: true}
}

var usersRoute = domain.ServiceRoute{PathPrefix: "/users", ServiceName: "user-service", RequiresAuth: true}

func TestTargetURL(t *testing.T) {
	f := NewForwarder(time.Second)
	inst := domain.ServiceInstance{Host: "user-service", Port: 3002}

	assert.Equal(t, "http://user-service:3002/api/v1/42?expand=1", f.TargetURL(usersRoute, inst, mustParseURL(t, "/users/42?expand=1")))
	assert.Equal(t, "http://user-service:3002/api/v1", f.TargetURL(usersRoute, inst, mustParseURL(t, "/users")))
	assert.Equal(t, "http://user-service:3002/api/v1/a%2Fb", f.TargetURL(usersRoute, inst, mustParseURL(t, "/users/a%2Fb")))

	custom := NewForwarder(time.Second, WithAPIPrefix(""))
	assert.Equal(t, "http://user-service:3002/42", custom.TargetURL(usersRoute, inst, mustParseURL(t, "/users/42")))

	tls := domain.ServiceInstance{Scheme: "https", Host: "billing.example.com", Port: 443}
	assert.Equal(t, "https://billing.example.com:443/api/v1/1", f.TargetURL(usersRoute, tls, mustParseURL(t, "/users/1")))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestForwardKeepsEncodedPath(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		wantEscaped string
		wantQuery   string
	}{
		{name: "encoded percent", target: "/users/100%25", wantEscaped: "/api/v1/100%25"},
		{name: "encoded question mark", target: "/users/a%3Fadmin=1", wantEscaped: "/api/v1/a%3Fadmin=1"},
		{name: "encoded slash", target: "/users/a%2Fb", wantEscaped: "/api/v1/a%2Fb"},
		{name: "encoded slash with query", target: "/users/a%2Fb?x=1", wantEscaped: "/api/v1/a%2Fb", wantQuery: "x=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, seen := echoBackend(t, http.StatusOK)
			f := NewForwarder(time.Second)

			resp, err := f.Forward(context.Background(), usersRoute, instanceOf(t, srv, "user-service"), httptest.NewRequest("GET", tt.target, nil), nil, "10.0.0.1")
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.wantEscaped, seen.EscapedPath)
			assert.Equal(t, tt.wantQuery, seen.Query)
		})
	}
}

func TestForwardTimeoutWithInjectedClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	// The injected client carries no timeout of its own.
	f := NewForwarder(100*time.Millisecond, WithHTTPClient(&http.Client{}))
	start := time.Now()
	_, err := f.Forward(context.Background(), usersRoute, instanceOf(t, srv, "user-service"), httptest.NewRequest("GET", "/users/1", nil), nil, "10.0.0.1")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestForwardRewritesRequest(t *testing.T) {
	srv, seen := echoBackend(t, http.StatusCreated)
	f := NewForwarder(time.Second, WithIdentity("api-gateway"))

	in := httptest.NewRequest("POST", "http://gateway.local/users/42/orders?sort=desc", nil)
	in.Header.Set("Authorization", "Bearer abc")
	in.Header.Set("X-Forwarded-For", "6.6.6.6")
	in.Header.Set("Connection", "keep-alive")
	in.Header.Set("Content-Length", "999")
	in.Header.Set("X-Custom", "kept")

	resp, err := f.Forward(context.Background(), usersRoute, instanceOf(t, srv, "user-service"), in, []byte(`{"qty":2}`), "203.0.113.9")
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	assert.JSONEq(t, `{"from":"backend"}`, string(resp.Body))

	assert.Equal(t, "POST", seen.Method)
	assert.Equal(t, "/api/v1/42/orders", seen.Path)
	assert.Equal(t, "sort=desc", seen.Query)
	assert.Equal(t, `{"qty":2}`, seen.Body)
	assert.Equal(t, "Bearer abc", seen.Header.Get("Authorization"))
	assert.Equal(t, "kept", seen.Header.Get("X-Custom"))
	assert.Equal(t, "203.0.113.9", seen.Header.Get("X-Forwarded-For"), "client value is overwritten")
	assert.Equal(t, "http", seen.Header.Get("X-Forwarded-Proto"))
	assert.Equal(t, "api-gateway", seen.Header.Get("X-Gateway"))
	assert.NotEqual(t, "gateway.local", seen.Host, "inbound Host must not be forwarded")
}

func TestForwardedProto(t *testing.T) {
	srv, seen := echoBackend(t, http.StatusOK)
	inst := instanceOf(t, srv, "user-service")

	tests := []struct {
		name  string
		trust bool
		tls   bool
		hdr   string
		want  string
	}{
		{"plain", false, false, "", "http"},
		{"tls", false, true, "", "https"},
		{"untrusted header", false, false, "https", "http"},
		{"trusted header", true, false, "https", "https"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewForwarder(time.Second, WithTrustForwardedProto(tt.trust))
			in := httptest.NewRequest("GET", "/users/1", nil)
			if tt.tls {
				in.TLS = &tls.ConnectionState{}
			}
			if tt.hdr != "" {
				in.Header.Set("X-Forwarded-Proto", tt.hdr)
			}
			_, err := f.Forward(context.Background(), usersRoute, inst, in, nil, "10.0.0.1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, seen.Header.Get("X-Forwarded-Proto"))
		})
	}
}

func TestForwardRelaysErrorStatuses(t *testing.T) {
	srv, _ := echoBackend(t, http.StatusInternalServerError)
	f := NewForwarder(time.Second)

	resp, err := f.Forward(context.Background(), usersRoute, instanceOf(t, srv, "user-service"), httptest.NewRequest("GET", "/users/1", nil), nil, "10.0.0.1")
	require.NoError(t, err, "upstream 5xx is not a forwarding error")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestForwardTransportFailure(t *testing.T) {
	srv, _ := echoBackend(t, http.StatusOK)
	inst := instanceOf(t, srv, "user-service")
	srv.Close()

	f := NewForwarder(time.Second)
	_, err := f.Forward(context.Background(), usersRoute, inst, httptest.NewRequest("GET", "/users/1", nil), nil, "10.0.0.1")
	require.Error(t, err)

	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, domain.ErrorKindUpstreamUnavailable, gwErr.Kind)
	assert.Equal(t, "Service user-service is currently unavailable", gwErr.Message)
}

func TestForwardTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	f := NewForwarder(100 * time.Millisecond)
	start := time.Now()
	_, err := f.Forward(context.Background(), usersRoute, instanceOf(t, srv, "user-service"), httptest.NewRequest("GET", "/users/1", nil), nil, "10.0.0.1")

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestForwardCancelledByClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := NewForwarder(10*time.Second).Forward(ctx, usersRoute, instanceOf(t, srv, "user-service"), httptest.NewRequest("GET", "/users/1", nil), nil, "10.0.0.1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelay(t *testing.T) {
	rec := httptest.NewRecorder()
	err := Relay(rec, &Response{
		StatusCode: http.StatusTeapot,
		Header: http.Header{
			"Content-Type":      {"text/plain"},
			"Set-Cookie":        {"a=1", "b=2"},
			"Connection":        {"close"},
			"Keep-Alive":        {"timeout=5"},
			"Transfer-Encoding": {"chunked"},
		},
		Body: []byte("short and stout"),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"a=1", "b=2"}, rec.Header().Values("Set-Cookie"))
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Empty(t, rec.Header().Get("Keep-Alive"))
	assert.Empty(t, rec.Header().Get("Transfer-Encoding"))
}
