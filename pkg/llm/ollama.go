package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"ragline/pkg/ratelimit"
)

// OllamaClient implements the Client interface for Ollama's local API.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     hclog.Logger
}

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	BaseURL string             // Base URL (default: http://localhost:11434)
	Model   string             // Chat model (default: llama3)
	Timeout time.Duration      // HTTP timeout (default: 300s for local generation)
	Limiter *ratelimit.Limiter // Rate limiter (optional)
	Logger  hclog.Logger       // Logger (optional)
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(config OllamaConfig) (*OllamaClient, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	if config.Model == "" {
		config.Model = "llama3"
	}

	if config.Timeout == 0 {
		config.Timeout = 300 * time.Second // Local LLM can be slower
	}

	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &OllamaClient{
		baseURL: config.BaseURL,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: config.Limiter,
		logger:  config.Logger.Named("ollama-client"),
	}, nil
}

// ModelName returns the model identifier.
func (c *OllamaClient) ModelName() string {
	return c.model
}

// Generate sends a prompt and returns the completion text.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	opts = opts.withDefaults()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	startTime := time.Now()

	messages := []ollamaChatMessage{}
	if opts.SystemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: prompt})

	reqBody := ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options: &ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var completion string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(reqJSON))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			var errResp ollamaErrorResponse
			apiErr := fmt.Errorf("Ollama API error (%d): %s", resp.StatusCode, string(respBody))
			if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
				apiErr = fmt.Errorf("Ollama API error (%d): %s", resp.StatusCode, errResp.Error)
			}
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		var chatResp ollamaChatResponse
		if err := json.Unmarshal(respBody, &chatResp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		if chatResp.Message.Content == "" {
			return backoff.Permanent(fmt.Errorf("empty response from Ollama"))
		}

		completion = chatResp.Message.Content
		return nil
	}

	if err := backoff.Retry(operation, newRetryPolicy(ctx)); err != nil {
		return "", err
	}

	c.logger.Debug("generated completion via Ollama",
		"model", c.model,
		"generation_time_ms", time.Since(startTime).Milliseconds(),
	)

	return completion, nil
}

// Ollama API types

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"` // Max tokens to generate
}

type ollamaChatResponse struct {
	Model     string            `json:"model"`
	CreatedAt string            `json:"created_at"`
	Message   ollamaChatMessage `json:"message"`
	Done      bool              `json:"done"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
