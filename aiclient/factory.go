package aiclient

import (
	"fmt"
	"os"

	"github.com/userport/enrichment-worker/ai/providers/anthropic"
	"github.com/userport/enrichment-worker/ai/providers/gemini"
	"github.com/userport/enrichment-worker/ai/providers/openai"
	"github.com/userport/enrichment-worker/cache"
	"github.com/userport/enrichment-worker/core"
)

// ProviderName selects which of the teacher's ai/providers/* clients backs
// a Client, mirroring ai.Provider's constant set minus the auto-detect and
// custom-provider cases this worker doesn't need.
type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderAnthropic ProviderName = "anthropic"
	ProviderGemini    ProviderName = "gemini"
	ProviderBedrock   ProviderName = "bedrock"
)

// NewBackend constructs the Backend for name, reading its API key from the
// provider's conventional environment variable when apiKey is empty —
// mirroring ai.NewOpenAIClient's own os.Getenv fallback.
func NewBackend(name ProviderName, apiKey string, logger core.Logger) (Backend, error) {
	switch name {
	case ProviderOpenAI:
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return openai.NewClient(apiKey, "", "", logger), nil
	case ProviderAnthropic:
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return anthropic.NewClient(apiKey, "", logger), nil
	case ProviderGemini:
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		return gemini.NewClient(apiKey, "", logger), nil
	case ProviderBedrock:
		return nil, fmt.Errorf("bedrock backend requires building with -tags bedrock; see NewBedrockBackend")
	default:
		return nil, fmt.Errorf("unknown ai provider %q", name)
	}
}

// NewFromProvider resolves name to a Backend and builds a Client wired to
// aiCache for the cache tier named in spec §4.5.
func NewFromProvider(name ProviderName, apiKey string, aiCache *cache.AICache, logger core.Logger, opts ...Option) (*Client, error) {
	backend, err := NewBackend(name, apiKey, logger)
	if err != nil {
		return nil, err
	}
	allOpts := append([]Option{WithLogger(logger)}, opts...)
	return New(backend, aiCache, allOpts...), nil
}
