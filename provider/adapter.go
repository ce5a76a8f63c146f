// Package provider implements ProviderAdapter (spec §4.6): a uniform
// outbound-call abstraction composing cache → pool → retry → remote, given
// to each concrete data-source adapter as a shared pipeline. Construction
// follows ai.AIConfig's functional-options style
// (ai/provider.go); the pipeline composition itself is grounded on
// orchestration/task_worker.go's pool-then-retry call shape.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/userport/enrichment-worker/cache"
	"github.com/userport/enrichment-worker/core"
	"github.com/userport/enrichment-worker/resilience"
)

// Request is the outbound call shape every concrete adapter builds:
// method/URL/params/headers/body, plus the cache-control knobs from §4.6
// step 1 and the tenant scope the cache key is partitioned by.
type Request struct {
	Method      string
	URL         string
	Params      map[string]string
	Headers     map[string]string
	Body        []byte
	TenantID    string
	ForceRefresh bool
	CacheTTLHours int
}

// Response is the uniform outbound-call result: decoded status plus raw
// body bytes (adapters decode further per their own schema, which is out
// of scope here per §1).
type Response struct {
	StatusCode int
	Body       []byte
	FromCache  bool
}

// Option configures an Adapter, mirroring ai.AIOption's functional-options
// construction style.
type Option func(*Adapter)

func WithLogger(logger core.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

func WithRetryConfig(cfg *resilience.RetryConfig) Option {
	return func(a *Adapter) { a.retry = resilience.NewRetryDriver(cfg) }
}

// Adapter is the shared ProviderAdapter pipeline: cache → pool → retry →
// remote, per spec §4.6's normative operation sequence. Concrete adapters
// (LinkedInAdapter, BuiltWithAdapter, ...) hold only a BaseURL and a
// request-building function; they delegate every call to Call.
type Adapter struct {
	name   string
	pool   *resilience.ConnectionPool
	retry  *resilience.RetryDriver
	cache  *cache.ResponseCache
	logger core.Logger
}

func New(name string, pool *resilience.ConnectionPool, respCache *cache.ResponseCache, opts ...Option) *Adapter {
	a := &Adapter{
		name:  name,
		pool:  pool,
		retry: resilience.NewRetryDriver(resilience.ProviderRetryConfig()),
		cache: respCache,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Call executes the §4.6 operation sequence: cache lookup unless
// ForceRefresh, then an acquire-inside-retry remote call, then a cache
// store on success. Every invocation logs at start and end carrying the
// ambient TraceContext, per §4.6's logging invariant.
func (a *Adapter) Call(ctx context.Context, req Request) (Response, error) {
	a.logStart(ctx, req)

	if !req.ForceRefresh {
		if entry, ok := a.cache.Get(ctx, req.TenantID, req.Method, req.URL, req.Params, req.Headers); ok {
			a.logEnd(ctx, req, entry.StatusCode, true, nil)
			return Response{StatusCode: entry.StatusCode, Body: entry.ResponseData, FromCache: true}, nil
		}
	}

	var resp Response
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		handle, acquireErr := a.pool.Acquire(ctx)
		if acquireErr != nil {
			return acquireErr
		}
		defer a.pool.Release(handle)

		httpReq, buildErr := buildHTTPRequest(ctx, req)
		if buildErr != nil {
			return buildErr
		}

		httpResp, doErr := handle.Client().Do(httpReq)
		if doErr != nil {
			return core.NewDomainError(core.KindRetryable, "provider.call", "provider request failed", doErr)
		}
		defer httpResp.Body.Close()

		body, readErr := io.ReadAll(httpResp.Body)
		if readErr != nil {
			return core.NewDomainError(core.KindRetryable, "provider.call", "provider response read failed", readErr)
		}

		if isRetryableStatus(httpResp.StatusCode) {
			return core.NewDomainError(core.KindRetryable, "provider.call", fmt.Sprintf("retryable provider status %d", httpResp.StatusCode), nil)
		}

		resp = Response{StatusCode: httpResp.StatusCode, Body: body}
		return nil
	})

	a.logEnd(ctx, req, resp.StatusCode, false, err)
	if err != nil {
		return Response{}, err
	}

	if resp.StatusCode < 400 {
		entry := cache.ResponseEntry{
			Method:       req.Method,
			URL:          req.URL,
			Params:       req.Params,
			Headers:      req.Headers,
			ResponseData: resp.Body,
			StatusCode:   resp.StatusCode,
		}
		if req.CacheTTLHours > 0 {
			entry.ExpiresAt = ttlFromHours(req.CacheTTLHours)
		}
		_ = a.cache.Set(ctx, req.TenantID, entry)
	}

	return resp, nil
}

func buildHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := req.URL
	if len(req.Params) > 0 {
		u += "?" + encodeParams(req.Params)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func encodeParams(params map[string]string) string {
	var buf bytes.Buffer
	first := true
	for k, v := range params {
		if !first {
			buf.WriteByte('&')
		}
		first = false
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(v)
	}
	return buf.String()
}

func ttlFromHours(hours int) time.Time {
	return time.Now().Add(time.Duration(hours) * time.Hour)
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func (a *Adapter) logStart(ctx context.Context, req Request) {
	if a.logger == nil {
		return
	}
	a.logger.InfoWithContext(ctx, "provider request started", map[string]interface{}{
		"provider": a.name, "method": req.Method, "url": req.URL,
	})
}

func (a *Adapter) logEnd(ctx context.Context, req Request, status int, cached bool, err error) {
	if a.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"provider": a.name, "method": req.Method, "url": req.URL,
		"status_code": status, "from_cache": cached,
	}
	if err != nil {
		fields["error"] = err.Error()
		a.logger.ErrorWithContext(ctx, "provider request failed", fields)
		return
	}
	a.logger.InfoWithContext(ctx, "provider request completed", fields)
}
