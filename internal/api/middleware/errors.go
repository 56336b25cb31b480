package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/telemetry"
)

// errorBody is the JSON shape of every gateway-originated error.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// WriteError writes err as a JSON error response. Errors that are not a
// *domain.GatewayError are reported as a generic internal error, so internal
// details never reach the client. The real error still goes to the request log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	gwErr := domain.AsGatewayError(err)

	AddError(r.Context(), err)
	AddLogField(r.Context(), "state", string(gwErr.State()))
	AddLogField(r.Context(), "service", gwErr.Service)
	telemetry.MetricRequests.WithLabelValues(string(gwErr.State())).Inc()

	status := gwErr.HTTPStatusCode()
	body := errorBody{
		StatusCode: status,
		Message:    gwErr.Message,
	}
	if status == http.StatusTooManyRequests && gwErr.RetryAfter > 0 {
		body.RetryAfter = gwErr.RetryAfter
		w.Header().Set("Retry-After", strconv.Itoa(gwErr.RetryAfter))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
