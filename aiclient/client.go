// Package aiclient composes the teacher's multi-provider ai.AIClient
// implementations (ai/providers/{openai,anthropic,bedrock,gemini}, kept
// near-verbatim and re-homed under this module's path) behind the same
// cache/pool/retry contract ProviderAdapter gives REST sources, with
// cache.AICache substituting for cache.ResponseCache per spec §4.5/§4.6's
// "AICache ... drives the same composition" note.
package aiclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/userport/enrichment-worker/cache"
	"github.com/userport/enrichment-worker/core"
	"github.com/userport/enrichment-worker/resilience"
)

// Backend is the narrow surface every ai/providers/* Client already
// implements (core.AIClient), isolating this package from any one
// provider's construction details.
type Backend interface {
	GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error)
}

// Client wraps a Backend with AICache lookup/store and RetryDriver-backed
// retry, mirroring provider.Adapter.Call's cache→retry→remote sequence
// (§4.6) with AICache as the cache tier (§4.5).
type Client struct {
	backend Backend
	cache   *cache.AICache
	retry   *resilience.RetryDriver
	logger  core.Logger
}

type Option func(*Client)

func WithLogger(logger core.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithRetryConfig(cfg *resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = resilience.NewRetryDriver(cfg) }
}

func New(backend Backend, aiCache *cache.AICache, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		cache:   aiCache,
		retry:   resilience.NewRetryDriver(resilience.ProviderRetryConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate produces a completion for prompt under schemaFingerprint (the
// caller's fingerprint of the expected response shape — opaque to this
// package, per §1's non-goal on task business semantics), consulting
// AICache first unless forceRefresh. Temperature participates in both the
// cache key and the cached TTL choice (cache.DeterministicTTL vs
// cache.StochasticTTL), per §3's AICacheEntry invariant.
func (c *Client) Generate(ctx context.Context, tenantID, schemaFingerprint string, prompt string, options *core.AIOptions, forceRefresh bool) (*core.AIResponse, error) {
	if options == nil {
		options = &core.AIOptions{}
	}

	if !forceRefresh {
		if entry, ok := c.cache.Get(ctx, tenantID, options.Model, prompt, schemaFingerprint, float64(options.Temperature)); ok {
			return entryToResponse(entry), nil
		}
	}

	var resp *core.AIResponse
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		r, genErr := c.backend.GenerateResponse(ctx, prompt, options)
		if genErr != nil {
			return core.NewDomainError(core.KindRetryable, "aiclient.generate", "completion request failed", genErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generate completion: %w", err)
	}

	entry := cache.AIEntry{
		// Keyed on the requested model so the Get above finds it again.
		Key:               cache.AICacheKey(options.Model, prompt, schemaFingerprint, float64(options.Temperature)),
		Model:             resp.Model,
		Prompt:            prompt,
		SchemaFingerprint: schemaFingerprint,
		Temperature:       float64(options.Temperature),
		Response:          marshalContent(resp.Content),
		TokenUsage: cache.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	_ = c.cache.Set(ctx, tenantID, entry)

	return resp, nil
}

func marshalContent(content string) json.RawMessage {
	data, _ := json.Marshal(content)
	return data
}

func unmarshalContent(raw json.RawMessage) string {
	var content string
	_ = json.Unmarshal(raw, &content)
	return content
}

func entryToResponse(entry cache.AIEntry) *core.AIResponse {
	return &core.AIResponse{
		Content: unmarshalContent(entry.Response),
		Model:   entry.Model,
		Usage: core.TokenUsage{
			PromptTokens:     entry.TokenUsage.PromptTokens,
			CompletionTokens: entry.TokenUsage.CompletionTokens,
			TotalTokens:      entry.TokenUsage.TotalTokens,
		},
	}
}
