package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
)

// EnvPrefix is the prefix for environment overrides, e.g. GATEWAY_SERVER__PORT=8080.
const EnvPrefix = "GATEWAY_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Admin     AdminConfig     `koanf:"admin"`
	Routes    []RouteConfig   `koanf:"routes"`
	Services  []ServiceConfig `koanf:"services"`
	Registry  RegistryConfig  `koanf:"registry"`
	Health    HealthConfig    `koanf:"health"`
	Security  SecurityConfig  `koanf:"security"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port              int           `koanf:"port"`
	Identity          string        `koanf:"identity"`   // value of X-Gateway and the replaced X-Powered-By
	APIPrefix         string        `koanf:"api_prefix"` // prepended to the stripped path when forwarding
	ForwardTimeout    time.Duration `koanf:"forward_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
	TrustProxyHeaders bool          `koanf:"trust_proxy_headers"` // honor X-Forwarded-For / X-Real-IP from a fronting proxy
}

type AdminConfig struct {
	Port int `koanf:"port"` // 0 disables the admin server
}

type RouteConfig struct {
	PathPrefix   string `koanf:"path_prefix"`
	Service      string `koanf:"service"`
	BaseURL      string `koanf:"base_url"`
	RequiresAuth bool   `koanf:"requires_auth"`
}

// ServiceConfig lists instances explicitly. When absent, each route's base URL
// seeds exactly one instance for its service.
type ServiceConfig struct {
	Name      string           `koanf:"name"`
	Instances []InstanceConfig `koanf:"instances"`
}

type InstanceConfig struct {
	ID     string `koanf:"id"`
	Scheme string `koanf:"scheme"` // http (default) or https
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
}

type RegistryConfig struct {
	Selection string `koanf:"selection"` // random, round_robin
}

type HealthConfig struct {
	Path         string        `koanf:"path"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
}

type SecurityConfig struct {
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
	AuthPathPattern string          `koanf:"auth_path_pattern"`
}

type RateLimitConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Window        time.Duration `koanf:"window"`
	AuthMax       int           `koanf:"auth_max"`
	GeneralMax    int           `koanf:"general_max"`
	SlowDownAfter int           `koanf:"slow_down_after"`
	SlowDownStep  time.Duration `koanf:"slow_down_step"`
	SlowDownMax   time.Duration `koanf:"slow_down_max"`
	MaxKeys       int           `koanf:"max_keys"`
}

type DiscoveryConfig struct {
	ServicesFile string       `koanf:"services_file"`
	Consul       ConsulConfig `koanf:"consul"`
}

type ConsulConfig struct {
	Address    string `koanf:"address"` // host:port, empty disables
	Datacenter string `koanf:"datacenter"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
}

// DefaultRoutes is the code-level route table used when the config file
// declares no routes.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{PathPrefix: "/auth", Service: "auth-service", BaseURL: "http://auth-service:3001", RequiresAuth: false},
		{PathPrefix: "/users", Service: "user-service", BaseURL: "http://user-service:3002", RequiresAuth: true},
		{PathPrefix: "/products", Service: "product-service", BaseURL: "http://product-service:3003", RequiresAuth: false},
		{PathPrefix: "/orders", Service: "order-service", BaseURL: "http://order-service:3004", RequiresAuth: true},
		{PathPrefix: "/billing", Service: "billing-service", BaseURL: "http://billing-service:3005", RequiresAuth: true},
		{PathPrefix: "/notifications", Service: "notification-service", BaseURL: "http://notification-service:3006", RequiresAuth: true},
	}
}

var defaults = map[string]any{
	"server.port":                         3000,
	"server.identity":                     "api-gateway",
	"server.api_prefix":                   "/api/v1",
	"server.forward_timeout":              30 * time.Second,
	"server.request_timeout":              60 * time.Second,
	"server.max_body_bytes":               int64(10 << 20),
	"admin.port":                          9090,
	"registry.selection":                  "random",
	"health.path":                         "/health",
	"health.initial_delay":                5 * time.Second,
	"health.interval":                     30 * time.Second,
	"health.timeout":                      5 * time.Second,
	"security.rate_limit.enabled":         true,
	"security.rate_limit.window":          15 * time.Minute,
	"security.rate_limit.auth_max":        10,
	"security.rate_limit.general_max":     100,
	"security.rate_limit.slow_down_after": 50,
	"security.rate_limit.slow_down_step":  500 * time.Millisecond,
	"security.rate_limit.slow_down_max":   20 * time.Second,
	"security.rate_limit.max_keys":        100000,
	"security.auth_path_pattern":          `^/auth/(login|register)(/|$)`,
	"storage.type":                        "memory",
	"storage.sqlite.path":                 "./data/gateway-events.db",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file at path (a missing file is fine), applies
// GATEWAY_ environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars and defaults
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Routes) == 0 {
		cfg.Routes = DefaultRoutes()
	}

	// Substitute environment variables in base URLs
	for i := range cfg.Routes {
		cfg.Routes[i].BaseURL = substituteEnvVars(cfg.Routes[i].BaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as request-time surprises.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Routes))
	for _, r := range c.Routes {
		if r.PathPrefix == "" {
			return fmt.Errorf("route for service %q has an empty path_prefix", r.Service)
		}
		if r.Service == "" {
			return fmt.Errorf("route %q has no service", r.PathPrefix)
		}
		if seen[r.PathPrefix] {
			return fmt.Errorf("duplicate route path_prefix %q", r.PathPrefix)
		}
		seen[r.PathPrefix] = true
	}

	switch c.Registry.Selection {
	case "random", "round_robin":
	default:
		return fmt.Errorf("unknown registry.selection %q", c.Registry.Selection)
	}

	switch c.Storage.Type {
	case "memory", "sqlite", "none":
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}

	if _, err := regexp.Compile(c.Security.AuthPathPattern); err != nil {
		return fmt.Errorf("invalid security.auth_path_pattern: %w", err)
	}

	rl := c.Security.RateLimit
	if rl.Enabled && (rl.Window <= 0 || rl.AuthMax <= 0 || rl.GeneralMax <= 0) {
		return fmt.Errorf("rate limit window and maxima must be positive")
	}

	return nil
}

// ServiceRoutes converts the configured routes to domain routes in declaration order.
func (c *Config) ServiceRoutes() []domain.ServiceRoute {
	routes := make([]domain.ServiceRoute, 0, len(c.Routes))
	for _, r := range c.Routes {
		routes = append(routes, domain.ServiceRoute{
			PathPrefix:   r.PathPrefix,
			ServiceName:  r.Service,
			BaseURL:      r.BaseURL,
			RequiresAuth: r.RequiresAuth,
		})
	}
	return routes
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
