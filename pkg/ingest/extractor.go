package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"ragline/pkg/crawler"
	"ragline/pkg/llm"
)

// maxPagePrefix bounds how much of a page is sent to the extraction prompt.
const maxPagePrefix = 4000

const extractSystemPrompt = `You are a documentation analyst. You extract self-contained topics from documentation pages and respond only with JSON.`

const extractPromptTemplate = `Extract the distinct topics covered by the following documentation page.

For each topic return an object with:
- "title": a short descriptive title
- "summary": 1-2 sentences describing what the topic covers
- "content": the full relevant text for the topic, rewritten as standalone prose
- "keywords": 3-6 short keywords
- "category": a one or two word category label

Respond with a JSON array of topic objects and nothing else. If the page has
no substantive topics, respond with [].

PAGE (%s):
%s`

// TopicExtractor turns a crawled page into zero or more topics via a single
// structured-extraction LLM call.
type TopicExtractor struct {
	llm    llm.Client
	logger hclog.Logger
}

// NewTopicExtractor creates a topic extractor.
func NewTopicExtractor(client llm.Client, logger hclog.Logger) *TopicExtractor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &TopicExtractor{
		llm:    client,
		logger: logger.Named("topic-extractor"),
	}
}

// Extract returns the topics found on a page, deduplicated by near-identical
// title. Non-content URLs and malformed LLM output yield an empty list, never
// an error: extraction problems are non-fatal by policy.
func (e *TopicExtractor) Extract(ctx context.Context, page crawler.Page) ([]Topic, error) {
	if crawler.IsNonContentURL(page.URL) {
		e.logger.Debug("skipping non-content url", "url", page.URL)
		return nil, nil
	}
	text := strings.TrimSpace(page.Markdown)
	if text == "" {
		return nil, nil
	}
	if len(text) > maxPagePrefix {
		text = text[:maxPagePrefix]
	}

	prompt := fmt.Sprintf(extractPromptTemplate, page.URL, text)
	completion, err := e.llm.Generate(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: extractSystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("topic extraction failed for %s: %w", page.URL, err)
	}

	var raw []Topic
	if err := llm.DecodeJSON(completion, &raw); err != nil {
		e.logger.Warn("unparseable topic extraction output",
			"url", page.URL,
			"error", err,
		)
		return nil, nil
	}

	topics := make([]Topic, 0, len(raw))
	for _, t := range raw {
		if !t.Valid() {
			e.logger.Warn("dropping incomplete topic", "url", page.URL, "title", t.Title)
			continue
		}
		t.SourceURL = page.URL
		topics = append(topics, t)
	}

	deduped := DeduplicateTopics(topics)
	e.logger.Info("extracted topics",
		"url", page.URL,
		"raw", len(raw),
		"valid", len(topics),
		"deduped", len(deduped),
	)
	return deduped, nil
}
