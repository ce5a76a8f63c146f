package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/userport/enrichment-worker/cache"
	"github.com/userport/enrichment-worker/resilience"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	respCache := cache.NewResponseCache(client)
	pool := resilience.NewConnectionPool(resilience.DefaultConnectionPoolConfig())

	return New("test-source", pool, respCache), srv
}

func TestCallCachesSuccessfulResponse(t *testing.T) {
	var calls int32
	adapter, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	req := Request{Method: "GET", URL: srv.URL + "/thing", TenantID: "tenant-a"}

	resp1, err := adapter.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp1.FromCache {
		t.Error("expected first call to be a live fetch")
	}

	resp2, err := adapter.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp2.FromCache {
		t.Error("expected second call to hit the cache")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly one live HTTP call, got %d", calls)
	}
}

func TestCallForceRefreshBypassesCache(t *testing.T) {
	var calls int32
	adapter, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	req := Request{Method: "GET", URL: srv.URL + "/thing", TenantID: "tenant-a"}
	if _, err := adapter.Call(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req.ForceRefresh = true
	if _, err := adapter.Call(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected force_refresh to bypass cache, got %d calls", calls)
	}
}

func TestCallRetriesOnRetryableStatus(t *testing.T) {
	var calls int32
	adapter, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	req := Request{Method: "GET", URL: srv.URL + "/flaky", TenantID: "tenant-a"}
	resp, err := adapter.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected eventual 200, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) < 2 {
		t.Errorf("expected at least 2 attempts, got %d", calls)
	}
}

func TestLinkedInAdapterFetchesThroughSharedPipeline(t *testing.T) {
	adapter, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"name":"Acme"}`))
	})

	li := NewLinkedInAdapter(adapter, srv.URL)
	resp, err := li.Fetch(context.Background(), "/profile", map[string]string{"id": "123"}, "tenant-a", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
