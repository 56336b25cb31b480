package security

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tjfontaine/service-gateway/internal/core/ports"
)

// hardeningHeaders are set on every response that leaves the gateway.
var hardeningHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"Referrer-Policy":        "no-referrer",
	"X-XSS-Protection":       "0",
	"X-DNS-Prefetch-Control": "off",
}

// headerWriter applies hardening and rate limit headers just before the
// status line is written, so they win over anything copied from upstream.
type headerWriter struct {
	http.ResponseWriter
	identity    string
	rateLimit   *ports.RateLimitInfo
	now         func() time.Time
	wroteHeader bool
}

func (hw *headerWriter) WriteHeader(code int) {
	hw.apply()
	hw.ResponseWriter.WriteHeader(code)
}

func (hw *headerWriter) Write(b []byte) (int, error) {
	hw.apply()
	return hw.ResponseWriter.Write(b)
}

// Flush forwards Flush to the underlying ResponseWriter if it supports http.Flusher.
func (hw *headerWriter) Flush() {
	hw.apply()
	if f, ok := hw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (hw *headerWriter) Unwrap() http.ResponseWriter {
	return hw.ResponseWriter
}

func (hw *headerWriter) apply() {
	if hw.wroteHeader {
		return
	}
	hw.wroteHeader = true

	h := hw.Header()
	for k, v := range hardeningHeaders {
		h.Set(k, v)
	}
	if hw.identity != "" {
		h.Set("X-Powered-By", hw.identity)
		h.Set("Server", hw.identity)
	}

	if rl := hw.rateLimit; rl != nil && rl.Limit > 0 {
		reset := max(rl.ResetAt-hw.now().Unix(), 0)
		h.Set("RateLimit-Limit", strconv.Itoa(rl.Limit))
		h.Set("RateLimit-Remaining", strconv.Itoa(rl.Remaining))
		h.Set("RateLimit-Reset", strconv.FormatInt(reset, 10))
	}
}
