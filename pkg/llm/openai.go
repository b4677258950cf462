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

// OpenAIClient implements the Client interface for OpenAI's chat API (or any
// compatible endpoint).
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     hclog.Logger
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string             // OpenAI API key (required)
	BaseURL string             // Base URL (default: https://api.openai.com/v1)
	Model   string             // Chat model (default: gpt-4o-mini)
	Timeout time.Duration      // HTTP timeout (default: 120s)
	Limiter *ratelimit.Limiter // Rate limiter (optional)
	Logger  hclog.Logger       // Logger (optional)
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}

	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}

	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &OpenAIClient{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: config.Limiter,
		logger:  config.Logger.Named("openai-client"),
	}, nil
}

// ModelName returns the model identifier.
func (c *OpenAIClient) ModelName() string {
	return c.model
}

// Generate sends a prompt and returns the completion text.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	opts = opts.withDefaults()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	startTime := time.Now()

	messages := []openAIChatMessage{}
	if opts.SystemPrompt != "" {
		messages = append(messages, openAIChatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, openAIChatMessage{Role: "user", Content: prompt})

	reqBody := openAIChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var completion string
	var tokensUsed int
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(reqJSON))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

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
			var errResp openAIErrorResponse
			apiErr := fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, string(respBody))
			if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
				apiErr = fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, errResp.Error.Message)
			}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		var chatResp openAIChatResponse
		if err := json.Unmarshal(respBody, &chatResp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		if len(chatResp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("no choices in response"))
		}

		completion = chatResp.Choices[0].Message.Content
		tokensUsed = chatResp.Usage.TotalTokens
		return nil
	}

	if err := backoff.Retry(operation, newRetryPolicy(ctx)); err != nil {
		return "", err
	}

	c.logger.Debug("generated completion via OpenAI",
		"model", c.model,
		"tokens_used", tokensUsed,
		"generation_time_ms", time.Since(startTime).Milliseconds(),
	)

	return completion, nil
}

// newRetryPolicy returns the shared exponential backoff policy: 3 retries on
// transient failures with a ~2s base delay.
func newRetryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx)
}

// OpenAI API types

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int               `json:"index"`
		Message      openAIChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
