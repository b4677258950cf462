package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/iancoleman/strcase"

	"ragline/pkg/chunker"
	"ragline/pkg/embeddings"
	"ragline/pkg/models"
	"ragline/pkg/store"
)

// maxIDAttempts bounds collision retries when generating a document id.
const maxIDAttempts = 5

// CreateResult reports one document creation.
type CreateResult struct {
	DocID      string
	ChunkCount int
}

// DocumentCreator turns a topic into a persisted document with embedded
// chunks, committed in a single transaction.
type DocumentCreator struct {
	store     *store.DocumentStore
	embedder  embeddings.Client
	chunker   *chunker.Chunker
	batchSize int
	logger    hclog.Logger

	// now is swappable for deterministic id tests.
	now func() time.Time
}

// CreatorOption configures a DocumentCreator.
type CreatorOption func(*DocumentCreator)

// WithCreateBatchSize bounds how many chunk texts go into one embedding
// request. Out-of-range values fall back to the client maximum.
func WithCreateBatchSize(n int) CreatorOption {
	return func(c *DocumentCreator) { c.batchSize = clampBatchSize(n) }
}

// NewDocumentCreator creates a document creator.
func NewDocumentCreator(st *store.DocumentStore, embedder embeddings.Client, ch *chunker.Chunker, logger hclog.Logger, opts ...CreatorOption) *DocumentCreator {
	if ch == nil {
		ch = chunker.New(chunker.DefaultConfig())
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	c := &DocumentCreator{
		store:     st,
		embedder:  embedder,
		chunker:   ch,
		batchSize: embeddings.MaxBatchSize,
		logger:    logger.Named("document-creator"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create builds, embeds, and persists a new document from a topic.
func (c *DocumentCreator) Create(ctx context.Context, topic *Topic) (*CreateResult, error) {
	id, err := c.generateID(ctx, topic.Title)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:         id,
		Title:      topic.Title,
		Summary:    topic.Summary,
		Content:    topic.Content,
		Category:   topic.Category,
		Keywords:   topic.Keywords,
		SourceURLs: []string{topic.SourceURL},
	}

	fragments := c.chunker.Chunk(doc.Content)
	if len(fragments) == 0 {
		return nil, fmt.Errorf("topic %q produced no chunks", topic.Title)
	}

	chunks, err := c.embedChunks(ctx, id, fragments)
	if err != nil {
		return nil, err
	}

	// Reuse the decision-time topic embedding when present; the input text is
	// identical by construction.
	doc.Embedding = topic.Embedding
	if len(doc.Embedding) == 0 {
		vec, err := c.embedder.Embed(ctx, doc.EmbeddingText())
		if err != nil {
			return nil, fmt.Errorf("failed to embed document %s: %w", id, err)
		}
		doc.Embedding = vec
	}

	if err := c.store.Insert(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("failed to save document %s: %w", id, err)
	}

	c.logger.Info("created document",
		"document_id", id,
		"title", doc.Title,
		"chunks", len(chunks),
	)
	return &CreateResult{DocID: id, ChunkCount: len(chunks)}, nil
}

// generateID derives slug(title)_YYYYMMDD_HHMMSS, appending a short random
// suffix on collision. Bounded attempts; exhaustion is an error.
func (c *DocumentCreator) generateID(ctx context.Context, title string) (string, error) {
	base := strcase.ToSnake(title)
	if base == "" {
		base = "document"
	}
	id := base + "_" + c.now().Format("20060102_150405")

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate := id
		if attempt > 0 {
			candidate = id + "_" + uuid.NewString()[:8]
		}
		taken, err := c.store.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check id %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not generate unique id for %q after %d attempts", title, maxIDAttempts)
}

// embedChunks batch-embeds chunk contents (bounded batches, per-item
// fallback) and assembles chunk rows. A chunk whose embedding failed
// individually fails the whole document: partial documents are worse than
// retried ones.
func (c *DocumentCreator) embedChunks(ctx context.Context, docID string, fragments []chunker.Chunk) ([]models.Chunk, error) {
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}

	vectors, err := embedInBatches(ctx, c.embedder, texts, c.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks for %s: %w", docID, err)
	}

	chunks := make([]models.Chunk, len(fragments))
	for i, f := range fragments {
		if len(vectors[i]) == 0 {
			return nil, fmt.Errorf("chunk %d of %s has no embedding", i, docID)
		}
		chunks[i] = models.Chunk{
			ID:         fmt.Sprintf("%s_chunk_%d", docID, i),
			DocumentID: docID,
			Content:    f.Content,
			Embedding:  vectors[i],
			Position:   i,
			TokenCount: f.TokenCount,
		}
	}
	return chunks, nil
}

// clampBatchSize normalizes a configured embedding batch size to the range
// the client accepts.
func clampBatchSize(n int) int {
	if n <= 0 || n > embeddings.MaxBatchSize {
		return embeddings.MaxBatchSize
	}
	return n
}

// embedInBatches embeds texts in batches of at most batchSize items,
// preserving input order.
func embedInBatches(ctx context.Context, client embeddings.Client, texts []string, batchSize int) ([]models.Vector, error) {
	vectors := make([]models.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := client.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}
