package domain

// RequestState is a step of the per-request state machine.
type RequestState string

const (
	StateReceived         RequestState = "received"
	StateSecurityChecked  RequestState = "security_checked"
	StateRouted           RequestState = "routed"
	StateAuthChecked      RequestState = "auth_checked"
	StateInstanceSelected RequestState = "instance_selected"
	StateForwarded        RequestState = "forwarded"
	StateCompleted        RequestState = "completed"

	// Early-exit terminal states
	StateRateLimited         RequestState = "rate_limited"
	StateRouteNotFound       RequestState = "route_not_found"
	StateAuthRequired        RequestState = "auth_required"
	StateNoHealthyInstance   RequestState = "no_healthy_instance"
	StateUpstreamUnavailable RequestState = "upstream_unavailable"
	StatePayloadTooLarge     RequestState = "payload_too_large"
	StateInternalError       RequestState = "internal_error"
)

// Terminal reports whether no further transition follows s.
func (s RequestState) Terminal() bool {
	switch s {
	case StateCompleted, StateRateLimited, StateRouteNotFound, StateAuthRequired,
		StateNoHealthyInstance, StateUpstreamUnavailable, StatePayloadTooLarge, StateInternalError:
		return true
	}
	return false
}
