package static

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/service-gateway/internal/pkg/config"
)

func TestSource_FromRoutes(t *testing.T) {
	cfg := &config.Config{Routes: config.DefaultRoutes()}
	src := New(cfg)

	instances, err := src.Instances(context.Background(), []string{"auth-service", "user-service"})
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "auth-service-1", instances[0].ID)
	assert.Equal(t, "auth-service", instances[0].Host)
	assert.Equal(t, 3001, instances[0].Port)
	assert.False(t, instances[0].Healthy)

	assert.Equal(t, "user-service", instances[1].ServiceName)
	assert.Equal(t, 3002, instances[1].Port)
}

func TestSource_ExplicitInstancesReplaceRouteURL(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{
			{PathPrefix: "/users", Service: "user-service", BaseURL: "http://user-service:3002"},
		},
		Services: []config.ServiceConfig{
			{Name: "user-service", Instances: []config.InstanceConfig{
				{ID: "u1", Host: "10.0.0.1", Port: 3002},
				{Host: "10.0.0.2", Port: 3002},
			}},
			{Name: "unrouted", Instances: []config.InstanceConfig{{ID: "x", Host: "10.0.0.9", Port: 1}}},
		},
	}

	instances, err := New(cfg).Instances(context.Background(), []string{"user-service"})
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "u1", instances[0].ID)
	assert.NotEmpty(t, instances[1].ID)
	assert.Equal(t, "10.0.0.2", instances[1].Host)
}

func TestSource_KeepsHTTPSScheme(t *testing.T) {
	cfg := &config.Config{
		Routes: []config.RouteConfig{
			{PathPrefix: "/billing", Service: "billing-service", BaseURL: "https://billing.example.com"},
		},
	}

	instances, err := New(cfg).Instances(context.Background(), []string{"billing-service"})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "https", instances[0].Scheme)
	assert.Equal(t, 443, instances[0].Port)
	assert.Equal(t, "https://billing.example.com:443", instances[0].BaseURL())
}

func TestParseBaseURL(t *testing.T) {
	tests := []struct {
		raw     string
		scheme  string
		host    string
		port    int
		wantErr bool
	}{
		{raw: "http://user-service:3002", scheme: "http", host: "user-service", port: 3002},
		{raw: "http://example.com", scheme: "http", host: "example.com", port: 80},
		{raw: "https://example.com", scheme: "https", host: "example.com", port: 443},
		{raw: "https://billing.internal:8443", scheme: "https", host: "billing.internal", port: 8443},
		{raw: "ftp://example.com:21", wantErr: true},
		{raw: "ftp://example.com", wantErr: true},
		{raw: "http://:3000", wantErr: true},
		{raw: "http://host:99999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			scheme, host, port, err := ParseBaseURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, scheme)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}
