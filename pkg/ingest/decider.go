package ingest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"ragline/pkg/embeddings"
	"ragline/pkg/llm"
	"ragline/pkg/models"
	"ragline/pkg/store"
)

// Default similarity thresholds. Above the high threshold a topic merges
// without arbitration; below the low threshold it always creates; the band in
// between goes to LLM verification.
const (
	DefaultThresholdHigh = 0.85
	DefaultThresholdLow  = 0.40
)

// similarityEpsilon is the window within which two candidates count as tied
// and the lexicographically smaller id wins.
const similarityEpsilon = 1e-6

// verifyPreviewChars bounds the content previews embedded in the
// verification prompt.
const verifyPreviewChars = 1000

// DecisionKind is the outcome of a merge decision.
type DecisionKind string

const (
	DecisionCreate DecisionKind = "create"
	DecisionMerge  DecisionKind = "merge"
)

// Decision is the resolved outcome for one topic.
type Decision struct {
	Kind         DecisionKind
	TargetID     string  // set when Kind == DecisionMerge
	Similarity   float64 // best cosine similarity observed (0 when no candidates)
	Verified     bool    // the uncertain band was entered
	VerifyFailed bool    // arbitration errored and the create default applied
	Reason       string
}

const verifySystemPrompt = `You decide whether a new topic should be merged into an existing document or become a new document. Answer with MERGE or CREATE on the first line, then a one-line reason.`

const verifyPromptTemplate = `A new topic has cosine similarity %.3f to an existing document. Decide MERGE or CREATE.

Examples:
- Topic "Configuring TLS certificates" vs document "TLS certificate setup guide" -> MERGE (same subject, topic adds detail)
- Topic "Backup scheduling" vs document "Restoring from backups" -> CREATE (related area, distinct subject)

EXISTING DOCUMENT
Title: %s
Summary: %s

NEW TOPIC
Title: %s
Content preview:
%s

Answer MERGE or CREATE, then the reason.`

// MergeDecider decides create-vs-merge for each topic using cosine similarity
// over stored document embeddings, escalating the uncertain band to LLM
// arbitration. Safe for concurrent Decide calls over the same snapshot.
type MergeDecider struct {
	embedder      embeddings.Client
	llm           llm.Client
	store         *store.DocumentStore
	thresholdHigh float64
	thresholdLow  float64
	logger        hclog.Logger

	// verifyCache makes a (doc id, normalized title) pair arbitrate at most
	// once per invocation; duplicates, concurrent ones included, share the
	// single resolution. backfillCache does the same for embeddings of
	// legacy documents so concurrent decisions never write to the shared
	// snapshot slice.
	mu            sync.Mutex
	verifyCache   map[string]*verifyEntry
	backfillCache map[string]*backfillEntry
}

type verifyEntry struct {
	once     sync.Once
	decision Decision
}

type backfillEntry struct {
	once sync.Once
	vec  models.Vector
	err  error
}

// DeciderConfig configures a MergeDecider.
type DeciderConfig struct {
	ThresholdHigh float64
	ThresholdLow  float64
}

// NewMergeDecider creates a merge decider. The store is used only to persist
// backfilled embeddings opportunistically; decisions never block on it.
func NewMergeDecider(embedder embeddings.Client, llmClient llm.Client, st *store.DocumentStore, cfg DeciderConfig, logger hclog.Logger) *MergeDecider {
	if cfg.ThresholdHigh == 0 {
		cfg.ThresholdHigh = DefaultThresholdHigh
	}
	if cfg.ThresholdLow == 0 {
		cfg.ThresholdLow = DefaultThresholdLow
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &MergeDecider{
		embedder:      embedder,
		llm:           llmClient,
		store:         st,
		thresholdHigh: cfg.ThresholdHigh,
		thresholdLow:  cfg.ThresholdLow,
		logger:        logger.Named("merge-decider"),
		verifyCache:   make(map[string]*verifyEntry),
		backfillCache: make(map[string]*backfillEntry),
	}
}

// Decide resolves a topic against the document snapshot. The topic embedding
// is computed once and cached on the topic; stored document embeddings are
// reused, never regenerated.
func (d *MergeDecider) Decide(ctx context.Context, topic *Topic, docs []models.DocumentInfo) (Decision, error) {
	if len(topic.Embedding) == 0 {
		vec, err := d.embedder.Embed(ctx, topic.EmbeddingText())
		if err != nil {
			return Decision{}, fmt.Errorf("failed to embed topic %q: %w", topic.Title, err)
		}
		topic.Embedding = vec
	}

	bestID, bestScore := d.bestCandidate(ctx, topic.Embedding, docs)
	if bestID == "" || bestScore < d.thresholdLow {
		return Decision{Kind: DecisionCreate, Similarity: bestScore, Reason: "no similar document"}, nil
	}
	if bestScore >= d.thresholdHigh {
		return Decision{
			Kind:       DecisionMerge,
			TargetID:   bestID,
			Similarity: bestScore,
			Reason:     "high-confidence similarity",
		}, nil
	}
	return d.verify(ctx, topic, bestID, bestScore, docs), nil
}

// bestCandidate scans the snapshot for the most similar document. Documents
// missing an embedding are backfilled through the decider cache and persisted
// best-effort; the snapshot slice itself is never written, so concurrent
// decisions can share it.
func (d *MergeDecider) bestCandidate(ctx context.Context, topicVec models.Vector, docs []models.DocumentInfo) (string, float64) {
	bestID := ""
	bestScore := math.Inf(-1)

	for i := range docs {
		doc := &docs[i]
		vec := doc.Embedding
		if len(vec) == 0 {
			var err error
			vec, err = d.backfillEmbedding(ctx, doc)
			if err != nil {
				d.logger.Warn("failed to backfill document embedding",
					"document_id", doc.ID,
					"error", err,
				)
				continue
			}
		}

		score := CosineSimilarity(topicVec, vec)
		switch {
		case score > bestScore+similarityEpsilon:
			bestID, bestScore = doc.ID, score
		case math.Abs(score-bestScore) <= similarityEpsilon && doc.ID < bestID:
			bestID = doc.ID
		}
	}

	if bestID == "" {
		return "", 0
	}
	return bestID, bestScore
}

// backfillEmbedding computes the embedding for a legacy document that was
// stored without one. Each document embeds at most once per invocation;
// concurrent callers share the single result.
func (d *MergeDecider) backfillEmbedding(ctx context.Context, doc *models.DocumentInfo) (models.Vector, error) {
	d.mu.Lock()
	entry, ok := d.backfillCache[doc.ID]
	if !ok {
		entry = &backfillEntry{}
		d.backfillCache[doc.ID] = entry
	}
	d.mu.Unlock()

	entry.once.Do(func() {
		entry.vec, entry.err = d.embedder.Embed(ctx, doc.EmbeddingText())
		if entry.err != nil {
			return
		}
		if err := d.store.UpdateEmbedding(ctx, doc.ID, entry.vec); err != nil {
			d.logger.Warn("failed to persist backfilled embedding",
				"document_id", doc.ID,
				"error", err,
			)
		}
	})
	return entry.vec, entry.err
}

// verify runs LLM arbitration for the uncertain band, deduplicated per
// (target doc, normalized topic title). Arbitration failure defaults to
// create: duplication is recoverable by a later pass, loss is not.
func (d *MergeDecider) verify(ctx context.Context, topic *Topic, bestID string, score float64, docs []models.DocumentInfo) Decision {
	key := bestID + "\x00" + NormalizeTitle(topic.Title)

	d.mu.Lock()
	entry, ok := d.verifyCache[key]
	if !ok {
		entry = &verifyEntry{}
		d.verifyCache[key] = entry
	}
	d.mu.Unlock()

	entry.once.Do(func() {
		var summary string
		for i := range docs {
			if docs[i].ID == bestID {
				summary = docs[i].Summary
				break
			}
		}
		entry.decision = d.arbitrate(ctx, topic, bestID, score, summary)
	})
	return entry.decision
}

func (d *MergeDecider) arbitrate(ctx context.Context, topic *Topic, bestID string, score float64, docSummary string) Decision {
	prompt := fmt.Sprintf(verifyPromptTemplate,
		score,
		bestID,
		preview(docSummary, verifyPreviewChars),
		topic.Title,
		preview(topic.Content, verifyPreviewChars),
	)

	completion, err := d.llm.Generate(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: verifySystemPrompt,
		MaxTokens:    200,
	})
	if err != nil {
		d.logger.Warn("merge verification failed, defaulting to create",
			"topic", topic.Title,
			"candidate", bestID,
			"error", err,
		)
		return Decision{
			Kind:         DecisionCreate,
			Similarity:   score,
			Verified:     true,
			VerifyFailed: true,
			Reason:       "verification failed: " + err.Error(),
		}
	}

	verdict, reason := parseVerdict(completion)
	if verdict == "MERGE" {
		return Decision{
			Kind:       DecisionMerge,
			TargetID:   bestID,
			Similarity: score,
			Verified:   true,
			Reason:     reason,
		}
	}
	return Decision{
		Kind:       DecisionCreate,
		Similarity: score,
		Verified:   true,
		Reason:     reason,
	}
}

// parseVerdict extracts MERGE or CREATE plus the trailing reason from an
// arbitration completion. Anything unrecognizable reads as CREATE.
func parseVerdict(completion string) (string, string) {
	text := strings.TrimSpace(llm.StripCodeFences(completion))
	upper := strings.ToUpper(text)

	verdict := "CREATE"
	if idx := strings.Index(upper, "MERGE"); idx >= 0 {
		cIdx := strings.Index(upper, "CREATE")
		if cIdx < 0 || idx < cIdx {
			verdict = "MERGE"
		}
	}

	reason := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		reason = strings.TrimSpace(text[i+1:])
	}
	return verdict, reason
}

// CosineSimilarity computes dot(a,b)/(||a||*||b||). Mismatched or zero-norm
// vectors score 0.
func CosineSimilarity(a, b models.Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SortDocumentsByID orders a snapshot by id so tie-breaking is stable however
// the store returned it.
func SortDocumentsByID(docs []models.DocumentInfo) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

// preview truncates s to at most n bytes.
func preview(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
