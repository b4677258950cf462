package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/pkg/llm"
	"ragline/pkg/models"
	"ragline/pkg/store"
)

func seedDocument(t *testing.T, st *store.DocumentStore, id string) *models.Document {
	doc := &models.Document{
		ID:         id,
		Title:      "Alpha",
		Summary:    "Original summary",
		Content:    "Original body.",
		Keywords:   []string{"alpha"},
		SourceURLs: []string{"https://example.com/a"},
		Embedding:  axisVec(0),
	}
	chunks := []models.Chunk{{
		ID:         id + "_chunk_0",
		DocumentID: id,
		Content:    "Original body.",
		Embedding:  axisVec(0),
		Position:   0,
		TokenCount: 3,
	}}
	require.NoError(t, st.Insert(context.Background(), doc, chunks))
	return doc
}

func rewriteResponse(content, summary, strategy string) string {
	out, _ := json.Marshal(map[string]interface{}{
		"content":      content,
		"summary":      summary,
		"keywords":     []string{"alpha", "beta"},
		"strategy":     strategy,
		"changes_made": "folded in the new topic",
	})
	return string(out)
}

func TestMerge_RewritesAndReplacesChunks(t *testing.T) {
	st, _ := setupIngestStore(t)
	seedDocument(t, st, "doc_alpha")

	rewriter := &mockLLM{handler: func(prompt string, opts llm.GenerateOptions) (string, error) {
		return rewriteResponse("Merged body with new material.", "Merged summary", "expand"), nil
	}}
	m := NewDocumentMerger(st, rewriter, newMockEmbedder(), nil, nil)

	topic := &Topic{
		Title:     "Alpha Extensions",
		Summary:   "More alpha.",
		Content:   "New material.",
		Keywords:  []string{"beta"},
		SourceURL: "https://example.com/b",
	}
	result, err := m.Merge(context.Background(), "doc_alpha", topic)
	require.NoError(t, err)
	assert.Equal(t, "expand", result.Strategy)

	doc, err := st.GetByID(context.Background(), "doc_alpha")
	require.NoError(t, err)
	assert.Equal(t, "Merged body with new material.", doc.Content)
	assert.Equal(t, "Merged summary", doc.Summary)
	assert.Equal(t, []string{"alpha", "beta"}, []string(doc.Keywords))
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, []string(doc.SourceURLs))
	require.Len(t, doc.Chunks, result.ChunkCount)
	for i, ch := range doc.Chunks {
		assert.Equal(t, i, ch.Position)
		assert.NotEqual(t, "doc_alpha_chunk_0", ch.ID)
	}

	history, err := st.GetMergeHistory(context.Background(), "doc_alpha")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Alpha Extensions", history[0].SourceTopicTitle)
	assert.Equal(t, models.MergeStrategyExpand, history[0].MergeStrategy)
	assert.Equal(t, "folded in the new topic", history[0].ChangesMade)
}

func TestMerge_UnparseableRewriteLeavesDocumentUntouched(t *testing.T) {
	st, _ := setupIngestStore(t)
	before := seedDocument(t, st, "doc_alpha")

	rewriter := &mockLLM{handler: func(prompt string, opts llm.GenerateOptions) (string, error) {
		return "I cannot produce JSON today.", nil
	}}
	m := NewDocumentMerger(st, rewriter, newMockEmbedder(), nil, nil)

	_, err := m.Merge(context.Background(), "doc_alpha", &Topic{Title: "T", Summary: "s", Content: "c"})
	require.Error(t, err)

	after, err := st.GetByID(context.Background(), "doc_alpha")
	require.NoError(t, err)
	assert.Equal(t, before.Content, after.Content)
	assert.Equal(t, before.Summary, after.Summary)
	require.Len(t, after.Chunks, 1)

	history, err := st.GetMergeHistory(context.Background(), "doc_alpha")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMerge_EmbedFailureRollsBack(t *testing.T) {
	st, _ := setupIngestStore(t)
	before := seedDocument(t, st, "doc_alpha")

	rewriter := &mockLLM{handler: func(prompt string, opts llm.GenerateOptions) (string, error) {
		return rewriteResponse("Merged body.", "Merged summary", "enrich"), nil
	}}
	embedder := newMockEmbedder()
	embedder.embedErr = errors.New("embedding service down")
	m := NewDocumentMerger(st, rewriter, embedder, nil, nil)

	_, err := m.Merge(context.Background(), "doc_alpha", &Topic{Title: "T", Summary: "s", Content: "c"})
	require.Error(t, err)

	after, err := st.GetByID(context.Background(), "doc_alpha")
	require.NoError(t, err)
	assert.Equal(t, before.Content, after.Content)
	assert.True(t, after.HasEmbedding())
	assert.Len(t, after.Chunks, 1)
}

func TestMerge_UnknownStrategyFallsBackToExpand(t *testing.T) {
	st, _ := setupIngestStore(t)
	seedDocument(t, st, "doc_alpha")

	rewriter := &mockLLM{handler: func(prompt string, opts llm.GenerateOptions) (string, error) {
		return rewriteResponse("Merged body.", "Merged summary", "rewrite-everything"), nil
	}}
	m := NewDocumentMerger(st, rewriter, newMockEmbedder(), nil, nil)

	result, err := m.Merge(context.Background(), "doc_alpha", &Topic{Title: "T", Summary: "s", Content: "c"})
	require.NoError(t, err)
	assert.Equal(t, models.MergeStrategyExpand, result.Strategy)
}

func TestMerge_MissingTargetFails(t *testing.T) {
	st, _ := setupIngestStore(t)
	m := NewDocumentMerger(st, &mockLLM{}, newMockEmbedder(), nil, nil)

	_, err := m.Merge(context.Background(), "missing", &Topic{Title: "T", Summary: "s", Content: "c"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMerge_SequentialMergesSeePriorOutput(t *testing.T) {
	st, _ := setupIngestStore(t)
	seedDocument(t, st, "doc_alpha")

	var sawPriorMerge bool
	generation := 0
	rewriter := &mockLLM{handler: func(prompt string, opts llm.GenerateOptions) (string, error) {
		generation++
		if generation == 2 {
			sawPriorMerge = assert.Contains(t, prompt, "merge one body")
		}
		return rewriteResponse(fmt.Sprintf("merge %s body", []string{"one", "two"}[generation-1]), "s", "enrich"), nil
	}}
	m := NewDocumentMerger(st, rewriter, newMockEmbedder(), nil, nil)

	_, err := m.Merge(context.Background(), "doc_alpha", &Topic{Title: "T1", Summary: "s", Content: "c1"})
	require.NoError(t, err)
	_, err = m.Merge(context.Background(), "doc_alpha", &Topic{Title: "T2", Summary: "s", Content: "c2"})
	require.NoError(t, err)

	assert.True(t, sawPriorMerge)

	history, err := st.GetMergeHistory(context.Background(), "doc_alpha")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
