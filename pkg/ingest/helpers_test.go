package ingest

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ragline/pkg/crawler"
	"ragline/pkg/llm"
	"ragline/pkg/models"
	"ragline/pkg/store"
)

func setupIngestStore(t *testing.T) (*store.DocumentStore, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.ModelsToAutoMigrate()...))
	return store.New(db, nil), db
}

// unitVec builds a 768-dim unit vector in the plane of the first two axes.
func unitVec(x, y float64) models.Vector {
	v := make(models.Vector, models.EmbeddingDimensions)
	n := math.Hypot(x, y)
	v[0], v[1] = x/n, y/n
	return v
}

// vecWithCos returns a unit vector whose cosine similarity to axisVec(0)
// equals c.
func vecWithCos(c float64) models.Vector {
	return unitVec(c, math.Sqrt(1-c*c))
}

// axisVec returns the unit basis vector along the given axis.
func axisVec(axis int) models.Vector {
	v := make(models.Vector, models.EmbeddingDimensions)
	v[axis] = 1
	return v
}

// mockEmbedder returns scripted vectors for known texts and hands each
// unknown text its own basis axis, so unscripted texts are mutually
// orthogonal. Call counts back the embedding-reuse assertions.
type mockEmbedder struct {
	mu         sync.Mutex
	byText     map[string]models.Vector
	assigned   map[string]models.Vector
	nextAxis   int
	embedCalls int
	batchCalls int
	texts      []string
	embedErr   error
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{
		byText:   map[string]models.Vector{},
		assigned: map[string]models.Vector{},
		nextAxis: 100,
	}
}

func (m *mockEmbedder) script(text string, vec models.Vector) {
	m.byText[text] = vec
}

func (m *mockEmbedder) lookup(text string) models.Vector {
	if v, ok := m.byText[text]; ok {
		return v
	}
	if v, ok := m.assigned[text]; ok {
		return v
	}
	v := axisVec(m.nextAxis)
	m.nextAxis++
	m.assigned[text] = v
	return v
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (models.Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedCalls++
	m.texts = append(m.texts, text)
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return m.lookup(text), nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	out := make([]models.Vector, len(texts))
	for i, text := range texts {
		m.texts = append(m.texts, text)
		out[i] = m.lookup(text)
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int   { return models.EmbeddingDimensions }
func (m *mockEmbedder) ModelName() string { return "mock-embed" }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls + m.batchCalls
}

func (m *mockEmbedder) embeddedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// mockLLM dispatches prompts to a handler and records them.
type mockLLM struct {
	mu      sync.Mutex
	handler func(prompt string, opts llm.GenerateOptions) (string, error)
	prompts []string
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	handler := m.handler
	m.mu.Unlock()
	if handler == nil {
		return "[]", nil
	}
	return handler(prompt, opts)
}

func (m *mockLLM) ModelName() string { return "mock-llm" }

func (m *mockLLM) promptsMatching(substr string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.prompts {
		if strings.Contains(p, substr) {
			out = append(out, p)
		}
	}
	return out
}

// stubCrawler serves canned pages in memory. outputDir is reported only when
// set, mimicking a crawler that also materialized pages on disk.
type stubCrawler struct {
	pages     []crawler.Page
	outputDir string
	err       error
}

func (s *stubCrawler) Crawl(ctx context.Context, startURL string, maxPages int) (*crawler.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	pages := s.pages
	if len(pages) > maxPages {
		pages = pages[:maxPages]
	}
	return &crawler.Result{Pages: pages, OutputDir: s.outputDir}, nil
}
