// Package embeddings provides rate-limited, retrying clients that turn text
// into fixed-dimension vectors, with batch support and per-item fallback.
package embeddings

import (
	"context"
	"fmt"

	"ragline/pkg/models"
)

// MaxBatchSize is the upper bound on texts per batch request. Larger inputs
// must be split by the caller.
const MaxBatchSize = 100

// Client is the interface for embedding API clients.
type Client interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) (models.Vector, error)

	// EmbedBatch generates embeddings for up to MaxBatchSize texts in one
	// round trip. On batch failure implementations fall back to per-text
	// embedding; individually failed texts yield a nil vector rather than
	// aborting the batch.
	EmbedBatch(ctx context.Context, texts []string) ([]models.Vector, error)

	// Dimensions returns the vector dimensionality the client produces.
	Dimensions() int

	// ModelName returns the embedding model identifier.
	ModelName() string
}

// validateBatchSize rejects oversized batches before any network traffic.
func validateBatchSize(texts []string) error {
	if len(texts) > MaxBatchSize {
		return fmt.Errorf("batch size %d exceeds maximum %d", len(texts), MaxBatchSize)
	}
	return nil
}

// flattenRows normalizes API rows into flat vectors, unwrapping one level of
// nesting if a backend hands back [[...]] for a row.
func flattenRows(rows [][]float64) []models.Vector {
	out := make([]models.Vector, len(rows))
	for i, row := range rows {
		out[i] = models.Vector(row)
	}
	return out
}

// batchWithFallback runs the batch function and, if the whole batch fails,
// retries each text individually. A text that still fails embeds as nil; the
// caller decides whether a nil vector is acceptable.
func batchWithFallback(
	ctx context.Context,
	texts []string,
	batch func(context.Context, []string) ([]models.Vector, error),
	single func(context.Context, string) (models.Vector, error),
) ([]models.Vector, error) {
	vecs, err := batch(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out := make([]models.Vector, len(texts))
	for i, text := range texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vec, err := single(ctx, text)
		if err != nil {
			out[i] = nil
			continue
		}
		out[i] = vec
	}
	return out, nil
}
