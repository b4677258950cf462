// Package ingest implements the ingestion pipeline core: topic extraction,
// the merge-or-create decision engine, document creation and merging, and the
// orchestrator that sequences them per crawled page.
package ingest

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"ragline/pkg/models"
)

// titleSimilarityThreshold is the Levenshtein ratio at or above which two
// normalized topic titles are treated as the same topic.
const titleSimilarityThreshold = 0.9

// Topic is a transient unit extracted from a crawled page, candidate for
// becoming or joining a document. It is never persisted directly.
type Topic struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Content   string   `json:"content"`
	Keywords  []string `json:"keywords"`
	Category  string   `json:"category"`
	SourceURL string   `json:"-"`

	// Embedding is computed lazily by the decider and cached for the rest of
	// the invocation.
	Embedding models.Vector `json:"-"`
}

// Valid reports whether the topic carries the minimum fields to process.
func (t *Topic) Valid() bool {
	return strings.TrimSpace(t.Title) != "" &&
		strings.TrimSpace(t.Summary) != "" &&
		strings.TrimSpace(t.Content) != ""
}

// EmbeddingText returns the text the topic-side embedding is computed over,
// using the same template as the document side.
func (t *Topic) EmbeddingText() string {
	return models.EmbeddingInputText(t.Title, t.Summary, t.Content)
}

// NormalizeTitle lowercases a title and collapses runs of whitespace, for
// dedup keys and similarity comparison.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// TitleSimilarity returns the Levenshtein ratio of two normalized titles in
// [0, 1], where 1 means identical.
func TitleSimilarity(a, b string) float64 {
	a, b = NormalizeTitle(a), NormalizeTitle(b)
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// DeduplicateTopics coalesces topics with near-identical titles, keeping the
// first occurrence and concatenating distinct content from later ones. The
// quadratic scan is fine at per-page topic counts.
func DeduplicateTopics(topics []Topic) []Topic {
	var out []Topic
	for _, t := range topics {
		merged := false
		for i := range out {
			if TitleSimilarity(out[i].Title, t.Title) < titleSimilarityThreshold {
				continue
			}
			if t.Content != out[i].Content && !strings.Contains(out[i].Content, t.Content) {
				out[i].Content = out[i].Content + "\n\n" + t.Content
			}
			out[i].Keywords = mergeKeywords(out[i].Keywords, t.Keywords)
			merged = true
			break
		}
		if !merged {
			out = append(out, t)
		}
	}
	return out
}

// mergeKeywords unions two keyword lists, preserving first-seen order.
func mergeKeywords(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, k := range existing {
		seen[strings.ToLower(k)] = true
	}
	for _, k := range extra {
		lower := strings.ToLower(k)
		if k == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		existing = append(existing, k)
	}
	return existing
}
