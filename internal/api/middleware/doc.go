/*
Package middleware provides HTTP middleware components for the service gateway.

# Middleware Components

## Request ID (requestid.go)

RequestIDMiddleware assigns each request an ID and exposes it through:
  - The request context (accessible via GetRequestID)
  - The X-Request-ID response header
  - The X-Request-ID request header, so backends see the same ID

An inbound X-Request-ID that parses as a UUID is reused.

## Logging (logging.go)

LoggingMiddleware provides structured request logging using slog:
  - Logs request start (method, path, remote_addr)
  - Logs request completion (status, duration)
  - Supports custom log fields via AddLogField/AddError

## Timeout (timeout.go)

TimeoutMiddleware bounds the whole request with a context deadline.

## Errors (errors.go)

WriteError renders a *domain.GatewayError as the gateway's JSON error body
and records the terminal state and error on the request log.

# Middleware Chain Order

The inbound chain assembled by internal/runtime is:
 1. RealIP (only when trust_proxy_headers is set)
 2. RequestIDMiddleware
 3. LoggingMiddleware
 4. Recoverer
 5. TimeoutMiddleware
 6. OTel instrumentation
 7. security.Gate
 8. frontdoor.Handler
*/
package middleware
