package dispatcher

import (
	"context"
	"net/http"

	"github.com/userport/enrichment-worker/core"
	"github.com/userport/enrichment-worker/telemetry"
	"google.golang.org/api/idtoken"
)

var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
}

// LoggingMiddleware seeds trace_id from the X-Request-ID header (or mints a
// fresh one) and logs request start/finish, stripping sensitive headers
// before anything reaches a log line — ported from
// original_source/workers/main.py's logging_middleware.
func LoggingMiddleware(logger core.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Request-ID")
			if traceID == "" {
				traceID = telemetry.NewTraceID()
			}

			ctx := telemetry.WithTrace(r.Context(), telemetry.TraceContext{TraceID: traceID})
			r = r.WithContext(ctx)

			if logger != nil {
				logger.InfoWithContext(ctx, "request started", map[string]interface{}{
					"method":  r.Method,
					"path":    r.URL.Path,
					"headers": redactHeaders(r.Header),
				})
			}

			next.ServeHTTP(w, r)
		})
	}
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		lower := toLowerHeader(k)
		if _, sensitive := sensitiveHeaders[lower]; sensitive {
			out[k] = "[redacted]"
			continue
		}
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func toLowerHeader(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// AuthMiddleware requires a valid OIDC bearer token on every route except
// /health, per spec §6: "Authorization: Bearer <OIDC> required for all
// authenticated routes except /health."
func AuthMiddleware(audience string, logger core.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "missing bearer token", "UNAUTHENTICATED")
				return
			}

			if _, err := idtoken.Validate(context.Background(), token, audience); err != nil {
				if logger != nil {
					logger.WarnWithContext(r.Context(), "bearer token validation failed", map[string]interface{}{
						"path":  r.URL.Path,
						"error": err.Error(),
					})
				}
				writeErrorResponse(w, http.StatusUnauthorized, "invalid bearer token", "UNAUTHENTICATED")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}

// Chain composes middleware in application order: Chain(a, b)(h) runs a,
// then b, then h.
func Chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}
