// Package controlplane serves the gateway's admin API on a separate port.
package controlplane

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
)

// maxEventLimit caps /api/events page size.
const maxEventLimit = 1000

// InstanceLister is the registry view exposed by the admin API.
type InstanceLister interface {
	Snapshot() []domain.ServiceInstance
}

// RouteLister is the route table view exposed by the admin API.
type RouteLister interface {
	Routes() []domain.ServiceRoute
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	instances InstanceLister
	routes    RouteLister
	events    ports.EventStore
}

// NewServer builds the admin router. events may be nil when the audit log
// is disabled.
func NewServer(instances InstanceLister, routes RouteLister, events ports.EventStore) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		instances: instances,
		routes:    routes,
		events:    events,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/instances", s.handleInstances)
		r.Get("/routes", s.handleRoutes)
		r.Get("/events", s.handleEvents)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type StatsResponse struct {
	Uptime           string      `json:"uptime"`
	GoVersion        string      `json:"go_version"`
	NumGoroutine     int         `json:"num_goroutine"`
	Memory           MemoryStats `json:"memory"`
	Services         int         `json:"services"`
	Instances        int         `json:"instances"`
	HealthyInstances int         `json:"healthy_instances"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

type InstanceView struct {
	ID            string     `json:"id"`
	Service       string     `json:"service"`
	Address       string     `json:"address"`
	URL           string     `json:"url"`
	Healthy       bool       `json:"healthy"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

type RouteView struct {
	PathPrefix   string `json:"path_prefix"`
	Service      string `json:"service"`
	BaseURL      string `json:"base_url"`
	RequiresAuth bool   `json:"requires_auth"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	snapshot := s.instances.Snapshot()
	services := make(map[string]bool)
	healthy := 0
	for _, inst := range snapshot {
		services[inst.ServiceName] = true
		if inst.Healthy {
			healthy++
		}
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		Services:         len(services),
		Instances:        len(snapshot),
		HealthyInstances: healthy,
	})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	snapshot := s.instances.Snapshot()
	out := make([]InstanceView, 0, len(snapshot))
	for _, inst := range snapshot {
		v := InstanceView{
			ID:      inst.ID,
			Service: inst.ServiceName,
			Address: inst.Address(),
			URL:     inst.BaseURL(),
			Healthy: inst.Healthy,
		}
		if !inst.LastCheckedAt.IsZero() {
			checked := inst.LastCheckedAt
			v.LastCheckedAt = &checked
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := s.routes.Routes()
	out := make([]RouteView, 0, len(routes))
	for _, route := range routes {
		out = append(out, RouteView{
			PathPrefix:   route.PathPrefix,
			Service:      route.ServiceName,
			BaseURL:      route.BaseURL,
			RequiresAuth: route.RequiresAuth,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event log disabled"})
		return
	}

	opts := ports.EventListOptions{
		Type:  domain.EventType(r.URL.Query().Get("type")),
		Limit: 100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		opts.Limit = min(limit, maxEventLimit)
	}

	events, err := s.events.ListEvents(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []*domain.GatewayEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
