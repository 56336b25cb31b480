package router

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
)

// Table maps request paths to backend services by literal prefix.
type Table struct {
	routes []domain.ServiceRoute
}

// New creates a route table. Declaration order is the lookup order.
func New(routes []domain.ServiceRoute) (*Table, error) {
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		if r.PathPrefix == "" {
			return nil, fmt.Errorf("route for service %q has an empty path prefix", r.ServiceName)
		}
		if r.ServiceName == "" {
			return nil, fmt.Errorf("route %q has no service name", r.PathPrefix)
		}
		if seen[r.PathPrefix] {
			return nil, fmt.Errorf("duplicate route path prefix %q", r.PathPrefix)
		}
		seen[r.PathPrefix] = true
	}

	return &Table{routes: append([]domain.ServiceRoute(nil), routes...)}, nil
}

// Resolve returns the first route whose prefix is a literal prefix of path.
// "/usersettings" resolves to a "/users" route; that is intentional.
func (t *Table) Resolve(path string) (domain.ServiceRoute, error) {
	for _, r := range t.routes {
		if strings.HasPrefix(path, r.PathPrefix) {
			return r, nil
		}
	}
	return domain.ServiceRoute{}, domain.ErrRouteNotFound()
}

// Routes returns a copy of the table in declaration order.
func (t *Table) Routes() []domain.ServiceRoute {
	return append([]domain.ServiceRoute(nil), t.routes...)
}

// Services lists the distinct service names referenced by the table.
func (t *Table) Services() []string {
	seen := make(map[string]bool, len(t.routes))
	var out []string
	for _, r := range t.routes {
		if !seen[r.ServiceName] {
			seen[r.ServiceName] = true
			out = append(out, r.ServiceName)
		}
	}
	return out
}

// StripPrefix removes the route's prefix from path.
func StripPrefix(route domain.ServiceRoute, path string) string {
	return strings.TrimPrefix(path, route.PathPrefix)
}

// StripEscapedPrefix removes the route's prefix from the escaped form of u's
// path, so encoded bytes such as %2F, %3F and %25 survive forwarding. When
// the prefix itself arrived encoded, the remainder is re-escaped from the
// decoded path.
func StripEscapedPrefix(route domain.ServiceRoute, u *url.URL) string {
	escapedPrefix := (&url.URL{Path: route.PathPrefix}).EscapedPath()
	if rest, ok := strings.CutPrefix(u.EscapedPath(), escapedPrefix); ok {
		return rest
	}
	return (&url.URL{Path: StripPrefix(route, u.Path)}).EscapedPath()
}
