package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds the whole request pipeline, slow-down delay and
// upstream call included. Stages observe the deadline through the request
// context; a request that ran out of time is tagged in the request log.
// A zero timeout disables the bound.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				AddLogField(ctx, "timeout", timeout.String())
			}
		})
	}
}
