package resilience

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/userport/enrichment-worker/core"
	"github.com/userport/enrichment-worker/telemetry"
)

// ConnectionPoolConfig bounds how many concurrent callers may hold an
// in-flight HTTP request at once, and how the shared *http.Client is tuned.
type ConnectionPoolConfig struct {
	MaxConnections      int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	RequestTimeout      time.Duration
}

func DefaultConnectionPoolConfig() *ConnectionPoolConfig {
	return &ConnectionPoolConfig{
		MaxConnections:      100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		RequestTimeout:      30 * time.Second,
	}
}

// ConnectionPool shares a bounded set of HTTP keep-alive connections across
// concurrent callers, via an explicit acquire/release gate on top of a
// single *http.Client. Acquire fails fast with a retryable PoolExhausted
// error when in-flight count would exceed MaxConnections; Release is
// unconditional (a released handle is always safe to call, even after a
// failed acquire).
type ConnectionPool struct {
	config  *ConnectionPoolConfig
	client  *http.Client
	mu      sync.Mutex
	inUse   int
}

// Handle is returned by Acquire and must be passed to Release exactly once.
type Handle struct {
	client *http.Client
}

func (h Handle) Client() *http.Client { return h.client }

func NewConnectionPool(config *ConnectionPoolConfig) *ConnectionPool {
	if config == nil {
		config = DefaultConnectionPoolConfig()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	// telemetry.NewTracedHTTPClientWithTransport wraps transport in
	// otelhttp, propagating the caller's span across every outbound call
	// this pool serves (ProviderAdapter, CallbackClient).
	client := telemetry.NewTracedHTTPClientWithTransport(transport)
	client.Timeout = config.RequestTimeout

	return &ConnectionPool{
		config: config,
		client: client,
	}
}

// Acquire reserves one in-flight slot and returns a Handle sharing the
// pool's underlying *http.Client. Callers MUST call Release when done,
// success or failure alike.
func (p *ConnectionPool) Acquire(ctx context.Context) (Handle, error) {
	select {
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inUse >= p.config.MaxConnections {
		return Handle{}, core.NewDomainError(core.KindRetryable, "pool.acquire", "connection pool exhausted", core.ErrPoolExhausted)
	}
	p.inUse++
	return Handle{client: p.client}, nil
}

// Release returns the in-flight slot. Safe to call even if Acquire failed
// (no-op in that case, since callers only hold a zero Handle).
func (p *ConnectionPool) Release(h Handle) {
	if h.client == nil {
		return
	}
	p.mu.Lock()
	if p.inUse > 0 {
		p.inUse--
	}
	p.mu.Unlock()
}

// InUse reports the current in-flight count, for metrics/health checks.
func (p *ConnectionPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}
