package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_EmptyContent(t *testing.T) {
	c := New(Config{})
	assert.Nil(t, c.Chunk(""))
	assert.Nil(t, c.Chunk("   \n  "))
}

func TestChunk_SmallDocumentIsSingleChunk(t *testing.T) {
	c := New(Config{})

	chunks := c.Chunk("A short document about nothing in particular.")
	require.Len(t, chunks, 1)
	assert.Equal(t, LevelDocument, chunks[0].Level)
	assert.Equal(t, 0, chunks[0].Position)
	assert.Greater(t, chunks[0].TokenCount, 0)
}

func TestChunk_SplitsOnHeadings(t *testing.T) {
	c := New(Config{MaxDocumentTokens: 10, MaxSectionTokens: 100, MaxChunkTokens: 50})

	content := "# Intro\n\nShort intro paragraph.\n\n## Usage\n\nHow to use the thing.\n\n## FAQ\n\nCommon questions."
	chunks := c.Chunk(content)

	require.Len(t, chunks, 3)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "# Intro"))
	assert.True(t, strings.HasPrefix(chunks[1].Content, "## Usage"))
	assert.True(t, strings.HasPrefix(chunks[2].Content, "## FAQ"))
	for _, ch := range chunks {
		assert.Equal(t, LevelSection, ch.Level)
	}
}

func TestChunk_OversizedSectionSplitsToPropositions(t *testing.T) {
	c := New(Config{MaxDocumentTokens: 10, MaxSectionTokens: 20, MaxChunkTokens: 20})

	para := strings.Repeat("Some sentence about configuration. ", 10)
	content := "# Config\n\n" + para + "\n\n" + para
	chunks := c.Chunk(content)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.Equal(t, LevelProposition, ch.Level)
		assert.NotEmpty(t, ch.Content)
	}
}

func TestChunk_PositionsAreContiguous(t *testing.T) {
	c := New(Config{MaxDocumentTokens: 5, MaxSectionTokens: 10, MaxChunkTokens: 10})

	content := strings.Repeat("## Section\n\nSentence one here. Sentence two here. Sentence three here.\n\n", 5)
	chunks := c.Chunk(content)

	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Position)
	}
}

func TestChunk_VeryLongSentenceIsHardSplit(t *testing.T) {
	c := New(Config{MaxDocumentTokens: 5, MaxSectionTokens: 5, MaxChunkTokens: 10})

	content := strings.Repeat("x", 500) // no sentence boundaries at all
	chunks := c.Chunk(content)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), 10*charsPerToken)
	}
}

func TestChunk_HardSplitKeepsRuneBoundaries(t *testing.T) {
	c := New(Config{MaxDocumentTokens: 5, MaxSectionTokens: 5, MaxChunkTokens: 10})

	// CJK prose ends sentences with an ideographic full stop, so there are
	// no ". " boundaries and the hard split must cut between runes.
	content := strings.Repeat("これは長い日本語の文章です。", 120)
	chunks := c.Chunk(content)

	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Content), "chunk %d is not valid UTF-8", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 10*charsPerToken)
		assert.NotEmpty(t, ch.Content)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
