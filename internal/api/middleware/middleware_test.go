package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seenCtx, seenHeader string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtx = GetRequestID(r.Context())
		seenHeader = r.Header.Get(RequestIDHeader)
	}))

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/users", nil))

		got := rec.Header().Get(RequestIDHeader)
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("X-Request-ID = %q, want a UUID", got)
		}
		if seenCtx != got || seenHeader != got {
			t.Fatalf("context id %q / forwarded header %q, want %q", seenCtx, seenHeader, got)
		}
	})

	t.Run("reuses a valid inbound id", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest("GET", "/users", nil)
		req.Header.Set(RequestIDHeader, id)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != id {
			t.Fatalf("X-Request-ID = %q, want %q", got, id)
		}
	})

	t.Run("replaces a malformed inbound id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/users", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got == "<script>" {
			t.Fatal("malformed request id was echoed")
		}
	})
}

func TestGetRequestIDMissing(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Fatalf("GetRequestID() = %q, want empty", got)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestIDMiddleware(LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "service", "user-service")
		AddLogField(r.Context(), "ignored", "")
		AddError(r.Context(), errors.New("boom"))
		AddError(r.Context(), nil)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream said no"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/users/1", nil))

	var entry map[string]any
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}

	if entry["msg"] != "request completed" {
		t.Fatalf("msg = %v", entry["msg"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN for 5xx", entry["level"])
	}
	if entry["status"] != float64(http.StatusBadGateway) {
		t.Errorf("status = %v", entry["status"])
	}
	if entry["bytes"] != float64(len("upstream said no")) {
		t.Errorf("bytes = %v", entry["bytes"])
	}
	if entry["service"] != "user-service" || entry["error"] != "boom" {
		t.Errorf("custom fields missing: %v", entry)
	}
	if _, ok := entry["ignored"]; ok {
		t.Error("empty field should not be logged")
	}
	if entry["request_id"] != rec.Header().Get(RequestIDHeader) {
		t.Errorf("request_id = %v", entry["request_id"])
	}
}

func TestAddLogFieldWithoutMiddleware(t *testing.T) {
	AddLogField(context.Background(), "k", "v")
	AddError(context.Background(), errors.New("x"))
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
		<-r.Context().Done()
	}))

	start := time.Now()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !ok || deadline.Before(start) {
		t.Fatal("expected a deadline on the request context")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("context was not cancelled")
	}

	// Zero disables the deadline.
	TimeoutMiddleware(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, has := r.Context().Deadline(); has {
			t.Error("unexpected deadline")
		}
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestTimeoutMiddleware_TagsRequestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := TimeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	LoggingMiddleware(logger)(inner).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/slow", nil))

	if !strings.Contains(buf.String(), `"timeout":"10ms"`) {
		t.Errorf("request log missing timeout field: %s", buf.String())
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantStatus     int
		wantMessage    string
		wantRetryAfter string
	}{
		{
			name:        "route not found",
			err:         domain.ErrRouteNotFound(),
			wantStatus:  http.StatusNotFound,
			wantMessage: "Route not found",
		},
		{
			name:        "no healthy instance",
			err:         domain.ErrNoHealthyInstance("order-service"),
			wantStatus:  http.StatusServiceUnavailable,
			wantMessage: "Service order-service is unavailable: no healthy instances",
		},
		{
			name:           "too many attempts",
			err:            domain.ErrTooManyAttempts(900),
			wantStatus:     http.StatusTooManyRequests,
			wantMessage:    "Too many authentication attempts, please try again later",
			wantRetryAfter: "900",
		},
		{
			name:        "unknown error is masked",
			err:         errors.New("dial tcp: secret detail"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest("GET", "/x", nil), tt.err)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetryAfter)
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid body: %v", err)
			}
			if body["statusCode"] != float64(tt.wantStatus) || body["message"] != tt.wantMessage {
				t.Errorf("body = %v", body)
			}
			_, hasRetry := body["retryAfter"]
			if hasRetry != (tt.wantRetryAfter != "") {
				t.Errorf("retryAfter presence = %v, body = %v", hasRetry, body)
			}
		})
	}
}

func TestRecovererWritesJSONError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map write")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/orders/7", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body %q: %v", rec.Body.String(), err)
	}
	if body["statusCode"] != float64(500) || body["message"] != "Internal server error" {
		t.Errorf("body = %v", body)
	}
	if !strings.Contains(logs.String(), "nil map write") {
		t.Errorf("panic not logged: %s", logs.String())
	}
}

func TestRecovererReraisesAbort(t *testing.T) {
	handler := Recoverer(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}
