package embeddings

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

	"ragline/pkg/models"
	"ragline/pkg/ratelimit"
)

// OpenAIClient implements the Client interface against OpenAI's embeddings
// API (or any compatible endpoint).
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     hclog.Logger
}

// OpenAIConfig holds configuration for the OpenAI embeddings client.
type OpenAIConfig struct {
	APIKey     string             // API key (required)
	BaseURL    string             // Base URL (default: https://api.openai.com/v1)
	Model      string             // Embedding model (default: text-embedding-3-small)
	Dimensions int                // Vector dimensions (default: models.EmbeddingDimensions)
	Timeout    time.Duration      // HTTP timeout (default: 60s)
	Limiter    *ratelimit.Limiter // Rate limiter (optional)
	Logger     hclog.Logger       // Logger (optional)
}

// NewOpenAIClient creates a new OpenAI embeddings client.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}

	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}

	if config.Dimensions == 0 {
		config.Dimensions = models.EmbeddingDimensions
	}

	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	if config.Logger == nil {
		config.Logger = hclog.NewNullLogger()
	}

	return &OpenAIClient{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		model:      config.Model,
		dimensions: config.Dimensions,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: config.Limiter,
		logger:  config.Logger.Named("openai-embeddings"),
	}, nil
}

// Dimensions returns the configured vector dimensionality.
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

// ModelName returns the embedding model identifier.
func (c *OpenAIClient) ModelName() string {
	return c.model
}

// Embed generates an embedding for a single text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) (models.Vector, error) {
	vecs, err := c.requestEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for up to MaxBatchSize texts. On batch
// failure it falls back to per-text requests.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	if err := validateBatchSize(texts); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	return batchWithFallback(ctx, texts, c.requestEmbeddings, c.Embed)
}

// requestEmbeddings performs one rate-limited, retried call to the embeddings
// endpoint.
func (c *OpenAIClient) requestEmbeddings(ctx context.Context, texts []string) ([]models.Vector, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := openAIEmbeddingRequest{
		Model:      c.model,
		Input:      texts,
		Dimensions: c.dimensions,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var rows [][]float64
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewReader(reqJSON))
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
			apiErr := fmt.Errorf("embeddings API error (%d): %s", resp.StatusCode, string(respBody))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		var embResp openAIEmbeddingResponse
		if err := json.Unmarshal(respBody, &embResp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}

		if len(embResp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embResp.Data)))
		}

		rows = make([][]float64, len(embResp.Data))
		for _, item := range embResp.Data {
			if item.Index < 0 || item.Index >= len(rows) {
				return backoff.Permanent(fmt.Errorf("embedding index %d out of range", item.Index))
			}
			rows[item.Index] = item.Embedding
		}
		return nil
	}

	if err := backoff.Retry(operation, newRetryPolicy(ctx)); err != nil {
		return nil, err
	}

	c.logger.Debug("generated embeddings",
		"model", c.model,
		"texts", len(texts),
		"dimensions", c.dimensions,
	)

	return flattenRows(rows), nil
}

// newRetryPolicy returns the shared exponential backoff policy: 3 retries on
// transient failures with a ~2s base delay.
func newRetryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx)
}

// OpenAI API types

type openAIEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}
