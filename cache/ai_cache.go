package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// AIEntry is the AICacheEntry of spec §3: a cached LLM completion keyed on
// model, canonical prompt, response-schema fingerprint, and temperature.
type AIEntry struct {
	Key               string          `json:"key"`
	Model             string          `json:"model"`
	Prompt            string          `json:"prompt"`
	SchemaFingerprint string          `json:"schema_fingerprint"`
	Temperature       float64         `json:"temperature"`
	Response          json.RawMessage `json:"response"`
	TokenUsage        TokenUsage      `json:"token_usage"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
	TenantID          string          `json:"tenant_id,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// DeterministicTTL and StochasticTTL are the spec-recommended default TTLs:
// temperature=0 completions are reproducible and cached longer than
// temperature>0 ones.
const (
	DeterministicTTL = 24 * time.Hour
	StochasticTTL    = time.Hour
)

// AICacheKey fingerprints {model, prompt, schema_fingerprint, temperature}.
// Temperature participates in the key because it changes whether a cached
// completion is a faithful stand-in for a fresh call.
func AICacheKey(model, prompt, schemaFingerprint string, temperature float64) string {
	payload := struct {
		Model       string  `json:"model"`
		Prompt      string  `json:"prompt"`
		Schema      string  `json:"schema_fingerprint"`
		Temperature float64 `json:"temperature"`
	}{model, prompt, schemaFingerprint, temperature}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:32]
}

// AICache is a Redis-backed cache of AIEntry values, keyed by AICacheKey.
type AICache struct {
	client *redis.Client
	prefix string

	hits   int64
	misses int64
}

type AICacheOption func(*AICache)

func WithAIPrefix(prefix string) AICacheOption {
	return func(c *AICache) { c.prefix = prefix }
}

func NewAICache(client *redis.Client, opts ...AICacheOption) *AICache {
	c := &AICache{client: client, prefix: "ai_cache:"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *AICache) redisKey(tenantID, key string) string {
	if tenantID == "" {
		return fmt.Sprintf("%s%s", c.prefix, key)
	}
	return fmt.Sprintf("%s%s:%s", c.prefix, tenantID, key)
}

// Get looks up a cached completion. Temperature is part of the lookup key
// itself (via AICacheKey), so callers that want to bypass the cache for
// high-temperature calls should simply not call Get/Set for those calls.
func (c *AICache) Get(ctx context.Context, tenantID, model, prompt, schemaFingerprint string, temperature float64) (AIEntry, bool) {
	key := AICacheKey(model, prompt, schemaFingerprint, temperature)
	raw, err := c.client.Get(ctx, c.redisKey(tenantID, key)).Bytes()
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return AIEntry{}, false
	}
	var entry AIEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return AIEntry{}, false
	}
	atomic.AddInt64(&c.hits, 1)
	return entry, true
}

// Set stores entry, choosing TTL by whether the call was deterministic
// (temperature == 0) unless the caller already populated ExpiresAt.
func (c *AICache) Set(ctx context.Context, tenantID string, entry AIEntry) error {
	if entry.Key == "" {
		entry.Key = AICacheKey(entry.Model, entry.Prompt, entry.SchemaFingerprint, entry.Temperature)
	}
	entry.CreatedAt = timeNow()
	if entry.ExpiresAt.IsZero() {
		ttl := StochasticTTL
		if entry.Temperature == 0 {
			ttl = DeterministicTTL
		}
		entry.ExpiresAt = entry.CreatedAt.Add(ttl)
	}
	ttl := entry.ExpiresAt.Sub(entry.CreatedAt)
	if ttl <= 0 {
		ttl = StochasticTTL
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ai cache entry: %w", err)
	}
	return c.client.Set(ctx, c.redisKey(tenantID, entry.Key), data, ttl).Err()
}

func (c *AICache) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return map[string]interface{}{"hits": hits, "misses": misses, "hit_rate": hitRate}
}
