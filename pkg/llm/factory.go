package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"ragline/pkg/ratelimit"
)

// ClientFactory creates LLM clients based on provider name or model.
type ClientFactory struct {
	openaiAPIKey  string
	openaiBaseURL string
	ollamaURL     string
	limiter       *ratelimit.Limiter
	logger        hclog.Logger
}

// ClientFactoryConfig holds configuration for the client factory.
type ClientFactoryConfig struct {
	OpenAIAPIKey  string        // OpenAI API key
	OpenAIBaseURL string        // OpenAI-compatible base URL (optional)
	OllamaURL     string        // Ollama server URL (default: http://localhost:11434)
	RateDelay     time.Duration // Minimum inter-call delay shared by produced clients
	Logger        hclog.Logger  // Logger (optional)
}

// NewClientFactory creates a new LLM client factory. All clients produced by
// one factory share a single rate limiter, keeping the process-wide pacing
// guarantee regardless of how many clients exist.
func NewClientFactory(config ClientFactoryConfig) *ClientFactory {
	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &ClientFactory{
		openaiAPIKey:  config.OpenAIAPIKey,
		openaiBaseURL: config.OpenAIBaseURL,
		ollamaURL:     config.OllamaURL,
		limiter:       ratelimit.New(config.RateDelay),
		logger:        config.Logger.Named("llm-factory"),
	}
}

// GetClient returns an LLM client for the given model, detecting the
// provider from the model name:
//   - "gpt-*", "o1-*", "o3-*" → OpenAI
//   - everything else → Ollama (local models)
func (f *ClientFactory) GetClient(model string) (Client, error) {
	provider := f.detectProvider(model)

	f.logger.Debug("selecting LLM client",
		"model", model,
		"provider", provider,
	)

	switch provider {
	case "openai":
		if f.openaiAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required for model %s", model)
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  f.openaiAPIKey,
			BaseURL: f.openaiBaseURL,
			Model:   model,
			Limiter: f.limiter,
			Logger:  f.logger,
		})
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: f.ollamaURL,
			Model:   model,
			Limiter: f.limiter,
			Logger:  f.logger,
		})
	default:
		return nil, fmt.Errorf("unsupported model: %s (unknown provider)", model)
	}
}

// detectProvider detects the LLM provider from the model name.
func (f *ClientFactory) detectProvider(model string) string {
	modelLower := strings.ToLower(model)

	if strings.HasPrefix(modelLower, "gpt-") {
		return "openai"
	}
	if strings.HasPrefix(modelLower, "o1-") || strings.HasPrefix(modelLower, "o3-") {
		return "openai"
	}

	// Local models (llama, mistral, qwen, gemma, phi, ...) run via Ollama.
	return "ollama"
}
