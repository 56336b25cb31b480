package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a gateway error.
type ErrorKind string

const (
	// ErrorKindRouteNotFound indicates no configured prefix matched the request path.
	ErrorKindRouteNotFound ErrorKind = "route_not_found"

	// ErrorKindAuthRequired indicates a protected route was called without a bearer token.
	ErrorKindAuthRequired ErrorKind = "auth_required"

	// ErrorKindNoHealthyInstance indicates the service is known but nothing is healthy.
	ErrorKindNoHealthyInstance ErrorKind = "no_healthy_instance"

	// ErrorKindUpstreamUnavailable indicates a network-level failure while forwarding.
	ErrorKindUpstreamUnavailable ErrorKind = "upstream_unavailable"

	// ErrorKindTooManyAttempts indicates the strict (authentication) bucket is exhausted.
	ErrorKindTooManyAttempts ErrorKind = "too_many_attempts"

	// ErrorKindTooManyRequests indicates the general bucket is exhausted.
	ErrorKindTooManyRequests ErrorKind = "too_many_requests"

	// ErrorKindPayloadTooLarge indicates the request body exceeded server.max_body_bytes.
	ErrorKindPayloadTooLarge ErrorKind = "payload_too_large"

	// ErrorKindInternal indicates an unanticipated failure.
	ErrorKindInternal ErrorKind = "internal"
)

// GatewayError is the error returned by every request-path stage. It carries
// enough information to render the client-facing error body.
type GatewayError struct {
	// Kind is the category of error
	Kind ErrorKind `json:"-"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Service is the backend service the error relates to (if any)
	Service string `json:"-"`

	// RetryAfter is the number of seconds a client should wait (rate limits only)
	RetryAfter int `json:"retryAfter,omitempty"`

	// StatusCode overrides the status derived from Kind when non-zero
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Service, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Kind {
	case ErrorKindRouteNotFound:
		return http.StatusNotFound
	case ErrorKindAuthRequired:
		return http.StatusUnauthorized
	case ErrorKindNoHealthyInstance, ErrorKindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case ErrorKindTooManyAttempts, ErrorKindTooManyRequests:
		return http.StatusTooManyRequests
	case ErrorKindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// State returns the terminal request state this error ends a request in.
func (e *GatewayError) State() RequestState {
	switch e.Kind {
	case ErrorKindRouteNotFound:
		return StateRouteNotFound
	case ErrorKindAuthRequired:
		return StateAuthRequired
	case ErrorKindNoHealthyInstance:
		return StateNoHealthyInstance
	case ErrorKindUpstreamUnavailable:
		return StateUpstreamUnavailable
	case ErrorKindTooManyAttempts, ErrorKindTooManyRequests:
		return StateRateLimited
	case ErrorKindPayloadTooLarge:
		return StatePayloadTooLarge
	default:
		return StateInternalError
	}
}

// NewGatewayError creates a new gateway error.
func NewGatewayError(kind ErrorKind, message string) *GatewayError {
	return &GatewayError{
		Kind:    kind,
		Message: message,
	}
}

// WithService records the service name on the error.
func (e *GatewayError) WithService(service string) *GatewayError {
	e.Service = service
	return e
}

// WithRetryAfter sets the retry hint in seconds.
func (e *GatewayError) WithRetryAfter(seconds int) *GatewayError {
	e.RetryAfter = seconds
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *GatewayError) WithStatusCode(code int) *GatewayError {
	e.StatusCode = code
	return e
}

// Convenience constructors for common errors

// ErrRouteNotFound creates a route not found error.
func ErrRouteNotFound() *GatewayError {
	return NewGatewayError(ErrorKindRouteNotFound, "Route not found")
}

// ErrAuthRequired creates an authentication required error.
func ErrAuthRequired() *GatewayError {
	return NewGatewayError(ErrorKindAuthRequired, "Authentication required")
}

// ErrNoHealthyInstance creates an error naming a service with no healthy instances.
func ErrNoHealthyInstance(service string) *GatewayError {
	return NewGatewayError(ErrorKindNoHealthyInstance,
		fmt.Sprintf("Service %s is unavailable: no healthy instances", service)).
		WithService(service)
}

// ErrUpstreamUnavailable creates an error for a failed forward to service.
func ErrUpstreamUnavailable(service string) *GatewayError {
	return NewGatewayError(ErrorKindUpstreamUnavailable,
		fmt.Sprintf("Service %s is currently unavailable", service)).
		WithService(service)
}

// ErrTooManyAttempts creates a strict-bucket rate limit error.
func ErrTooManyAttempts(retryAfter int) *GatewayError {
	return NewGatewayError(ErrorKindTooManyAttempts,
		"Too many authentication attempts, please try again later").
		WithRetryAfter(retryAfter)
}

// ErrTooManyRequests creates a general-bucket rate limit error.
func ErrTooManyRequests(retryAfter int) *GatewayError {
	return NewGatewayError(ErrorKindTooManyRequests,
		"Too many requests from this IP, please try again later").
		WithRetryAfter(retryAfter)
}

// ErrInternal creates a generic internal error.
func ErrInternal() *GatewayError {
	return NewGatewayError(ErrorKindInternal, "Internal server error")
}

// ErrPayloadTooLarge reports a request body larger than limit bytes.
func ErrPayloadTooLarge(limit int64) *GatewayError {
	return NewGatewayError(ErrorKindPayloadTooLarge,
		fmt.Sprintf("Request body exceeds %d bytes", limit))
}

// AsGatewayError converts any error to a *GatewayError.
// Errors that are not gateway errors become a generic internal error so
// their text never reaches the client.
func AsGatewayError(err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return ErrInternal()
}
