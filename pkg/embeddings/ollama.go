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

// OllamaClient implements the Client interface against Ollama's local
// embeddings API.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     hclog.Logger
}

// OllamaConfig holds configuration for the Ollama embeddings client.
type OllamaConfig struct {
	BaseURL string             // Base URL (default: http://localhost:11434)
	Model   string             // Embedding model (default: nomic-embed-text)
	Timeout time.Duration      // HTTP timeout (default: 120s)
	Limiter *ratelimit.Limiter // Rate limiter (optional)
	Logger  hclog.Logger       // Logger (optional)
}

// NewOllamaClient creates a new Ollama embeddings client.
func NewOllamaClient(config OllamaConfig) (*OllamaClient, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}

	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
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
		logger:  config.Logger.Named("ollama-embeddings"),
	}, nil
}

// Dimensions returns the vector dimensionality. nomic-embed-text and
// compatible models produce 768-dim vectors, matching the schema.
func (c *OllamaClient) Dimensions() int {
	return models.EmbeddingDimensions
}

// ModelName returns the embedding model identifier.
func (c *OllamaClient) ModelName() string {
	return c.model
}

// Embed generates an embedding for a single text.
func (c *OllamaClient) Embed(ctx context.Context, text string) (models.Vector, error) {
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
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	if err := validateBatchSize(texts); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	return batchWithFallback(ctx, texts, c.requestEmbeddings, c.Embed)
}

// requestEmbeddings performs one rate-limited, retried call to /api/embed.
func (c *OllamaClient) requestEmbeddings(ctx context.Context, texts []string) ([]models.Vector, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := ollamaEmbedRequest{
		Model: c.model,
		Input: texts,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var rows [][]float64
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embed", bytes.NewReader(reqJSON))
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
			apiErr := fmt.Errorf("Ollama API error (%d): %s", resp.StatusCode, string(respBody))
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		var embResp ollamaEmbedResponse
		if err := json.Unmarshal(respBody, &embResp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}

		if len(embResp.Embeddings) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embResp.Embeddings)))
		}

		rows = embResp.Embeddings
		return nil
	}

	if err := backoff.Retry(operation, newRetryPolicy(ctx)); err != nil {
		return nil, err
	}

	c.logger.Debug("generated embeddings",
		"model", c.model,
		"texts", len(texts),
	)

	return flattenRows(rows), nil
}

// Ollama API types

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}
