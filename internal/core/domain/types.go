// Package domain holds the gateway's core types: routes, service instances,
// request states, events and the error taxonomy.
package domain

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// ServiceRoute binds a path prefix to a backend service.
// Routes are configured at startup and never change afterwards.
type ServiceRoute struct {
	PathPrefix   string `json:"path_prefix"`
	ServiceName  string `json:"service"`
	BaseURL      string `json:"base_url"`
	RequiresAuth bool   `json:"requires_auth"`
}

// ServiceInstance is one network endpoint believed to implement a service.
// Only the prober mutates Healthy and LastCheckedAt.
type ServiceInstance struct {
	ID            string    `json:"id"`
	ServiceName   string    `json:"service"`
	Scheme        string    `json:"scheme,omitempty"` // http (default) or https
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Healthy       bool      `json:"healthy"`
	LastCheckedAt time.Time `json:"last_checked_at,omitzero"`
}

// Address returns host:port.
func (i ServiceInstance) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// URLScheme returns the scheme used to reach the instance, http unless set.
func (i ServiceInstance) URLScheme() string {
	if i.Scheme == "" {
		return "http"
	}
	return i.Scheme
}

// BaseURL returns the instance's root URL.
func (i ServiceInstance) BaseURL() string {
	return fmt.Sprintf("%s://%s", i.URLScheme(), i.Address())
}

// RateLimitCounter is a per-key sliding window counter.
type RateLimitCounter struct {
	Key         string
	WindowStart time.Time
	Count       int
}

// Expired reports whether the window has elapsed at now.
func (c *RateLimitCounter) Expired(now time.Time, window time.Duration) bool {
	return !now.Before(c.WindowStart.Add(window))
}

// ResetAt returns when the current window ends.
func (c *RateLimitCounter) ResetAt(window time.Duration) time.Time {
	return c.WindowStart.Add(window)
}
