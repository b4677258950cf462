// Package chunker splits document content into retrieval-sized fragments
// using a three-level hierarchy: whole document, markdown section, and
// proposition (paragraph/sentence group). Output positions are contiguous
// from zero so the store's chunk ordering invariant holds by construction.
package chunker

import (
	"strings"
)

// Level identifies which hierarchy level produced a chunk.
type Level string

const (
	LevelDocument    Level = "document"
	LevelSection     Level = "section"
	LevelProposition Level = "proposition"
)

// Chunk is a fragment of document content.
type Chunk struct {
	Content    string
	TokenCount int
	Level      Level
	Position   int
}

// Config holds chunking bounds, expressed in approximate tokens.
type Config struct {
	MaxDocumentTokens int // A document at or under this size stays one chunk (default: 512)
	MaxSectionTokens  int // A section over this size is split into propositions (default: 512)
	MaxChunkTokens    int // Upper bound for any single proposition chunk (default: 256)
}

// DefaultConfig returns the default chunking configuration.
func DefaultConfig() Config {
	return Config{
		MaxDocumentTokens: 512,
		MaxSectionTokens:  512,
		MaxChunkTokens:    256,
	}
}

// Chunker splits content hierarchically.
type Chunker struct {
	cfg Config
}

// New creates a chunker, filling unset config fields with defaults.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.MaxDocumentTokens <= 0 {
		cfg.MaxDocumentTokens = def.MaxDocumentTokens
	}
	if cfg.MaxSectionTokens <= 0 {
		cfg.MaxSectionTokens = def.MaxSectionTokens
	}
	if cfg.MaxChunkTokens <= 0 {
		cfg.MaxChunkTokens = def.MaxChunkTokens
	}
	return &Chunker{cfg: cfg}
}

// Chunk splits content into fragments. Non-empty content always yields at
// least one chunk.
func (c *Chunker) Chunk(content string) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	// Level 1: the whole document fits in one chunk.
	if EstimateTokens(content) <= c.cfg.MaxDocumentTokens {
		return finalize([]Chunk{{Content: content, Level: LevelDocument}})
	}

	// Level 2: split on markdown headings.
	var chunks []Chunk
	for _, section := range splitSections(content) {
		if EstimateTokens(section) <= c.cfg.MaxSectionTokens {
			chunks = append(chunks, Chunk{Content: section, Level: LevelSection})
			continue
		}

		// Level 3: oversized sections split into proposition groups.
		for _, prop := range c.splitPropositions(section) {
			chunks = append(chunks, Chunk{Content: prop, Level: LevelProposition})
		}
	}

	return finalize(chunks)
}

// splitSections splits markdown content at heading lines, keeping each
// heading with the body that follows it.
func splitSections(content string) []string {
	lines := strings.Split(content, "\n")

	var sections []string
	var current []string

	flush := func() {
		section := strings.TrimSpace(strings.Join(current, "\n"))
		if section != "" {
			sections = append(sections, section)
		}
		current = current[:0]
	}

	for _, line := range lines {
		if isHeading(line) && len(current) > 0 {
			flush()
		}
		current = append(current, line)
	}
	flush()

	if len(sections) == 0 {
		return []string{strings.TrimSpace(content)}
	}
	return sections
}

// splitPropositions accumulates paragraphs into chunks bounded by
// MaxChunkTokens, force-splitting paragraphs that alone exceed the bound.
func (c *Chunker) splitPropositions(section string) []string {
	var out []string
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			out = append(out, text)
		}
		current.Reset()
	}

	for _, para := range strings.Split(section, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if EstimateTokens(para) > c.cfg.MaxChunkTokens {
			flush()
			out = append(out, c.splitSentences(para)...)
			continue
		}

		if current.Len() > 0 && EstimateTokens(current.String())+EstimateTokens(para) > c.cfg.MaxChunkTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return out
}

// splitSentences groups sentences of an oversized paragraph into bounded
// chunks. A single sentence longer than the bound is hard-split by runes.
func (c *Chunker) splitSentences(para string) []string {
	maxChars := c.cfg.MaxChunkTokens * charsPerToken

	var out []string
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			out = append(out, text)
		}
		current.Reset()
	}

	for _, sentence := range splitAfterSentenceEnds(para) {
		if len(sentence) > maxChars {
			flush()
			runes := []rune(sentence)
			for start := 0; start < len(runes); start += maxChars {
				end := start + maxChars
				if end > len(runes) {
					end = len(runes)
				}
				if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
					out = append(out, piece)
				}
			}
			continue
		}

		if current.Len()+len(sentence) > maxChars {
			flush()
		}
		current.WriteString(sentence)
	}
	flush()

	return out
}

// splitAfterSentenceEnds splits text after '.', '!' or '?' followed by a
// space. Good enough for prose; code blocks simply stay together.
func splitAfterSentenceEnds(text string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		ch := text[i]
		if (ch == '.' || ch == '!' || ch == '?') && text[i+1] == ' ' {
			parts = append(parts, text[start:i+2])
			start = i + 2
		}
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

func isHeading(line string) bool {
	trimmed := strings.TrimLeft(line, " ")
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	rest := strings.TrimLeft(trimmed, "#")
	return strings.HasPrefix(rest, " ") || rest == ""
}

// charsPerToken is the rough chars-to-tokens ratio for English prose.
const charsPerToken = 4

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	n := len(text) / charsPerToken
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// finalize assigns contiguous positions and token counts.
func finalize(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Position = i
		chunks[i].TokenCount = EstimateTokens(chunks[i].Content)
	}
	return chunks
}
