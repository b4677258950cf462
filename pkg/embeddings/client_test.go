package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/pkg/models"
)

func newEmbeddingsServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func smallVector(dims int, seed float64) []float64 {
	vec := make([]float64, dims)
	for i := range vec {
		vec[i] = seed
	}
	return vec
}

func TestOpenAIClient_EmbedBatch(t *testing.T) {
	const dims = 8

	srv := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := openAIEmbeddingResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: smallVector(dims, float64(i))})
		}
		json.NewEncoder(w).Encode(resp)
	})

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Dimensions: dims,
		Logger:     hclog.NewNullLogger(),
	})
	require.NoError(t, err)

	vecs, err := client.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, models.Vector(smallVector(dims, 1)), vecs[1])
}

func TestOpenAIClient_BatchSizeLimit(t *testing.T) {
	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"})
	require.NoError(t, err)

	texts := make([]string, MaxBatchSize+1)
	_, err = client.EmbedBatch(context.Background(), texts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestOpenAIClient_RetriesTransientErrors(t *testing.T) {
	const dims = 4
	var calls atomic.Int32

	srv := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		resp := openAIEmbeddingResponse{}
		resp.Data = append(resp.Data, struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}{Index: 0, Embedding: smallVector(dims, 0.5)})
		json.NewEncoder(w).Encode(resp)
	})

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:     "k",
		BaseURL:    srv.URL,
		Dimensions: dims,
	})
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, dims)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestOpenAIClient_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	require.Error(t, err)
	// Single-text fallback doubles the attempts, but no backoff retries happen.
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestOllamaClient_EmbedBatch(t *testing.T) {
	srv := newEmbeddingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := ollamaEmbedResponse{Model: req.Model}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, smallVector(4, float64(i)))
		}
		json.NewEncoder(w).Encode(resp)
	})

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, models.Vector(smallVector(4, 1)), vecs[1])
}

func TestBatchWithFallback_PerItemRecovery(t *testing.T) {
	batch := func(ctx context.Context, texts []string) ([]models.Vector, error) {
		return nil, fmt.Errorf("batch endpoint down")
	}
	single := func(ctx context.Context, text string) (models.Vector, error) {
		if text == "poison" {
			return nil, fmt.Errorf("cannot embed")
		}
		return models.Vector{1}, nil
	}

	vecs, err := batchWithFallback(context.Background(), []string{"ok", "poison", "ok"}, batch, single)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.NotNil(t, vecs[0])
	assert.Nil(t, vecs[1])
	assert.NotNil(t, vecs[2])
}
