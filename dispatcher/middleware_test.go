package dispatcher

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/userport/enrichment-worker/telemetry"
)

func TestLoggingMiddlewareSeedsTraceIDFromRequestHeader(t *testing.T) {
	var captured telemetry.TraceContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = telemetry.CaptureTrace(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := LoggingMiddleware(nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured.TraceID != "req-123" {
		t.Errorf("expected trace_id seeded from X-Request-ID, got %q", captured.TraceID)
	}
}

func TestLoggingMiddlewareGeneratesTraceIDWhenHeaderMissing(t *testing.T) {
	var captured telemetry.TraceContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = telemetry.CaptureTrace(r.Context())
	})

	handler := LoggingMiddleware(nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured.TraceID == "" {
		t.Error("expected a generated trace_id when X-Request-ID is absent")
	}
}

func TestRedactHeadersStripsAuthorizationAndCookie(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "session=abc")
	h.Set("X-Custom", "value")

	redacted := redactHeaders(h)

	if redacted["Authorization"] != "[redacted]" {
		t.Errorf("expected Authorization redacted, got %q", redacted["Authorization"])
	}
	if redacted["Cookie"] != "[redacted]" {
		t.Errorf("expected Cookie redacted, got %q", redacted["Cookie"])
	}
	if redacted["X-Custom"] != "value" {
		t.Errorf("expected non-sensitive header preserved, got %q", redacted["X-Custom"])
	}
}

func TestAuthMiddlewareSkipsHealthRoute(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	handler := AuthMiddleware("https://example.com", nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected /health to bypass auth middleware")
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("should not reach handler") })
	handler := AuthMiddleware("https://example.com", nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/tasks/failed", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
