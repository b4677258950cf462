package ingest

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"ragline/pkg/chunker"
	"ragline/pkg/embeddings"
	"ragline/pkg/llm"
	"ragline/pkg/models"
	"ragline/pkg/store"
)

// MergeResult reports one merge.
type MergeResult struct {
	DocID      string
	Strategy   string
	ChunkCount int
}

const mergeSystemPrompt = `You merge new material into an existing knowledge document. You respond only with JSON.`

const mergePromptTemplate = `Merge the new topic below into the existing document. Rewrite the combined
material as one coherent document. Choose the strategy yourself:
- "enrich" if the topic deepens sections the document already has
- "expand" if the topic adds a new section

Respond with a JSON object:
{
  "content": "the full merged document body",
  "summary": "updated 1-2 sentence summary",
  "keywords": ["merged", "keyword", "list"],
  "strategy": "enrich" or "expand",
  "changes_made": "one line describing what changed"
}

EXISTING DOCUMENT
Title: %s
Summary: %s
Content:
%s

NEW TOPIC
Title: %s
Summary: %s
Content:
%s`

// mergeRewrite is the decoded shape of the single rewrite call.
type mergeRewrite struct {
	Content     string   `json:"content"`
	Summary     string   `json:"summary"`
	Keywords    []string `json:"keywords"`
	Strategy    string   `json:"strategy"`
	ChangesMade string   `json:"changes_made"`
}

// DocumentMerger folds a topic into an existing document with a single LLM
// rewrite (append-then-reorganize), then re-chunks, re-embeds, and commits the
// replacement atomically. On any failure the target document keeps its prior
// committed state.
type DocumentMerger struct {
	store     *store.DocumentStore
	llm       llm.Client
	embedder  embeddings.Client
	chunker   *chunker.Chunker
	batchSize int
	logger    hclog.Logger
}

// MergerOption configures a DocumentMerger.
type MergerOption func(*DocumentMerger)

// WithMergeBatchSize bounds how many chunk texts go into one embedding
// request. Out-of-range values fall back to the client maximum.
func WithMergeBatchSize(n int) MergerOption {
	return func(m *DocumentMerger) { m.batchSize = clampBatchSize(n) }
}

// NewDocumentMerger creates a document merger.
func NewDocumentMerger(st *store.DocumentStore, llmClient llm.Client, embedder embeddings.Client, ch *chunker.Chunker, logger hclog.Logger, opts ...MergerOption) *DocumentMerger {
	if ch == nil {
		ch = chunker.New(chunker.DefaultConfig())
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := &DocumentMerger{
		store:     st,
		llm:       llmClient,
		embedder:  embedder,
		chunker:   ch,
		batchSize: embeddings.MaxBatchSize,
		logger:    logger.Named("document-merger"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge rewrites the target document with the topic folded in and persists
// the result. Same-document topics must be merged sequentially so each sees
// the previous merge's output.
func (m *DocumentMerger) Merge(ctx context.Context, targetID string, topic *Topic) (*MergeResult, error) {
	doc, err := m.store.GetByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merge target: %w", err)
	}

	rewrite, err := m.rewrite(ctx, doc, topic)
	if err != nil {
		return nil, err
	}

	doc.Content = rewrite.Content
	doc.Summary = rewrite.Summary
	doc.Keywords = mergeKeywords(doc.Keywords, rewrite.Keywords)
	doc.SourceURLs = appendURL(doc.SourceURLs, topic.SourceURL)

	fragments := m.chunker.Chunk(doc.Content)
	if len(fragments) == 0 {
		return nil, fmt.Errorf("merge rewrite for %s produced no chunks", targetID)
	}
	chunks, err := m.embedMergedChunks(ctx, doc.ID, fragments)
	if err != nil {
		return nil, err
	}

	vec, err := m.embedder.Embed(ctx, doc.EmbeddingText())
	if err != nil {
		return nil, fmt.Errorf("failed to embed merged document %s: %w", targetID, err)
	}
	doc.Embedding = vec

	rec := &models.MergeRecord{
		TargetDocID:      doc.ID,
		SourceTopicTitle: topic.Title,
		MergeStrategy:    rewrite.Strategy,
		ChangesMade:      rewrite.ChangesMade,
	}
	if err := m.store.ApplyMerge(ctx, doc, chunks, rec); err != nil {
		return nil, fmt.Errorf("failed to save merge into %s: %w", targetID, err)
	}

	m.logger.Info("merged topic into document",
		"document_id", doc.ID,
		"topic", topic.Title,
		"strategy", rewrite.Strategy,
		"chunks", len(chunks),
	)
	return &MergeResult{DocID: doc.ID, Strategy: rewrite.Strategy, ChunkCount: len(chunks)}, nil
}

// rewrite performs the single append-then-reorganize LLM call and validates
// its output.
func (m *DocumentMerger) rewrite(ctx context.Context, doc *models.Document, topic *Topic) (*mergeRewrite, error) {
	prompt := fmt.Sprintf(mergePromptTemplate,
		doc.Title, doc.Summary, doc.Content,
		topic.Title, topic.Summary, topic.Content,
	)
	completion, err := m.llm.Generate(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: mergeSystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("merge rewrite failed for %s: %w", doc.ID, err)
	}

	var rw mergeRewrite
	if err := llm.DecodeJSON(completion, &rw); err != nil {
		return nil, fmt.Errorf("unparseable merge rewrite for %s: %w", doc.ID, err)
	}
	if rw.Content == "" {
		return nil, fmt.Errorf("merge rewrite for %s returned empty content", doc.ID)
	}
	if rw.Summary == "" {
		rw.Summary = doc.Summary
	}
	if !models.ValidStrategy(rw.Strategy) {
		// An off-script label still carries a usable rewrite; classify it as
		// the additive case.
		m.logger.Warn("unknown merge strategy from rewrite",
			"document_id", doc.ID,
			"strategy", rw.Strategy,
		)
		rw.Strategy = models.MergeStrategyExpand
	}
	return &rw, nil
}

// embedMergedChunks mirrors the creator's chunk embedding for replacement
// chunk sets, with ids namespaced by the document's merge generation to avoid
// colliding with rows being replaced in the same transaction.
func (m *DocumentMerger) embedMergedChunks(ctx context.Context, docID string, fragments []chunker.Chunk) ([]models.Chunk, error) {
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}

	vectors, err := embedInBatches(ctx, m.embedder, texts, m.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to embed merged chunks for %s: %w", docID, err)
	}

	history, err := m.store.GetMergeHistory(ctx, docID)
	if err != nil {
		return nil, err
	}
	generation := len(history) + 1

	chunks := make([]models.Chunk, len(fragments))
	for i, f := range fragments {
		if len(vectors[i]) == 0 {
			return nil, fmt.Errorf("merged chunk %d of %s has no embedding", i, docID)
		}
		chunks[i] = models.Chunk{
			ID:         fmt.Sprintf("%s_m%d_chunk_%d", docID, generation, i),
			DocumentID: docID,
			Content:    f.Content,
			Embedding:  vectors[i],
			Position:   i,
			TokenCount: f.TokenCount,
		}
	}
	return chunks, nil
}

// appendURL adds a source URL if it is not already recorded.
func appendURL(urls []string, url string) []string {
	if url == "" {
		return urls
	}
	for _, u := range urls {
		if u == url {
			return urls
		}
	}
	return append(urls, url)
}
