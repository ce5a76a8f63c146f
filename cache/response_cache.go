// Package cache implements the two content-addressed caches named in the
// worker's data model: ResponseCache (raw provider HTTP responses) and
// AICache (LLM completions). Both share the same Redis-backed shape
// pioneered by core.RedisSchemaCache — hit/miss counters, TTL + key-prefix
// options, graceful degradation when Redis errors — generalized from a
// single cached value type to a full response/entry envelope.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// secretHeaders never participate in the cache key fingerprint and are
// stripped from the stored envelope, mirroring the original Python
// cache service's header-stripping before hashing.
var secretHeaders = map[string]struct{}{
	"authorization": {},
	"api-key":       {},
	"x-api-key":     {},
}

// ResponseEntry is the CacheEntry of spec §3: a stored external-API
// response keyed by SHA-256 of its normalized request shape.
type ResponseEntry struct {
	Key               string            `json:"key"`
	Method            string            `json:"method"`
	URL               string            `json:"url"`
	Params            map[string]string `json:"params"`
	Headers           map[string]string `json:"headers"` // secret headers already stripped
	ResponseData      json.RawMessage   `json:"response_data"`
	StatusCode        int               `json:"status_code"`
	CreatedAt         time.Time         `json:"created_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
	TenantID          string            `json:"tenant_id,omitempty"`
}

// ResponseCacheKey computes the content-addressed key for a request: a
// SHA-256 hash over sorted-key JSON of {method, url, params, non-secret headers}.
// Secret headers (Authorization, api-key, x-api-key) are stripped before
// hashing, so their presence or value never changes the key.
func ResponseCacheKey(method, url string, params, headers map[string]string) string {
	cleanHeaders := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := toLower(k)
		if _, secret := secretHeaders[lower]; secret {
			continue
		}
		cleanHeaders[lower] = v
	}

	payload := struct {
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Params  map[string]string `json:"params"`
		Headers map[string]string `json:"headers"`
	}{Method: method, URL: url, Params: sortedCopy(params), Headers: sortedCopy(cleanHeaders)}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(m))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// ResponseCache is a Redis-backed, tenant-scoped cache of ResponseEntry
// values, keyed by ResponseCacheKey.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string

	hits   int64
	misses int64
}

type ResponseCacheOption func(*ResponseCache)

func WithResponseTTL(ttl time.Duration) ResponseCacheOption {
	return func(c *ResponseCache) { c.ttl = ttl }
}

func WithResponsePrefix(prefix string) ResponseCacheOption {
	return func(c *ResponseCache) { c.prefix = prefix }
}

// DefaultResponseCacheTTL is the default freshness window for cached
// provider responses.
const DefaultResponseCacheTTL = 6 * time.Hour

func NewResponseCache(client *redis.Client, opts ...ResponseCacheOption) *ResponseCache {
	c := &ResponseCache{client: client, ttl: DefaultResponseCacheTTL, prefix: "response_cache:"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ResponseCache) redisKey(tenantID, key string) string {
	if tenantID == "" {
		return fmt.Sprintf("%s%s", c.prefix, key)
	}
	return fmt.Sprintf("%s%s:%s", c.prefix, tenantID, key)
}

// Get consults the cache for the given method/url/params/headers under
// tenantID. Returns (entry, true) on a fresh hit, (zero, false) otherwise —
// including on Redis errors, which are treated as misses (graceful
// degradation per core.RedisSchemaCache's pattern).
func (c *ResponseCache) Get(ctx context.Context, tenantID, method, url string, params, headers map[string]string) (ResponseEntry, bool) {
	key := ResponseCacheKey(method, url, params, headers)
	raw, err := c.client.Get(ctx, c.redisKey(tenantID, key)).Bytes()
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return ResponseEntry{}, false
	}

	var entry ResponseEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return ResponseEntry{}, false
	}
	atomic.AddInt64(&c.hits, 1)
	return entry, true
}

// Set stores a ResponseEntry under the cache key derived from its request
// shape, with the configured TTL (or entry.ExpiresAt if already set and
// shorter).
func (c *ResponseCache) Set(ctx context.Context, tenantID string, entry ResponseEntry) error {
	if entry.Key == "" {
		entry.Key = ResponseCacheKey(entry.Method, entry.URL, entry.Params, entry.Headers)
	}
	if len(entry.Headers) > 0 {
		clean := make(map[string]string, len(entry.Headers))
		for k, v := range entry.Headers {
			if _, secret := secretHeaders[toLower(k)]; !secret {
				clean[k] = v
			}
		}
		entry.Headers = clean
	}
	entry.CreatedAt = timeNow()
	ttl := c.ttl
	if !entry.ExpiresAt.IsZero() {
		if until := entry.ExpiresAt.Sub(entry.CreatedAt); until > 0 && until < ttl {
			ttl = until
		}
	} else {
		entry.ExpiresAt = entry.CreatedAt.Add(ttl)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal response cache entry: %w", err)
	}
	return c.client.Set(ctx, c.redisKey(tenantID, entry.Key), data, ttl).Err()
}

// Stats returns hit/miss counters for monitoring.
func (c *ResponseCache) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return map[string]interface{}{
		"hits":     hits,
		"misses":   misses,
		"hit_rate": hitRate,
	}
}

// timeNow is split out so it can be overridden by tests without depending
// on a global clock (workflows in this repo never call time.Now() from
// scripted code, but the production path wants monotonic wall time).
var timeNow = time.Now
