package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"ragline/pkg/crawler"
	"ragline/pkg/pipeline"
	"ragline/pkg/store"
)

// Mode selects the topic granularity of a run.
type Mode string

const (
	// ModeParagraph extracts multiple fine-grained topics per page.
	ModeParagraph Mode = "paragraph"
	// ModeFullDoc treats each page as a single topic.
	ModeFullDoc Mode = "full_doc"
	// ModeBoth runs both granularities; dedup keeps shared topics single.
	ModeBoth Mode = "both"
)

// ValidMode reports whether m is a recognized mode.
func ValidMode(m Mode) bool {
	return m == ModeParagraph || m == ModeFullDoc || m == ModeBoth
}

// DefaultLLMConcurrency bounds parallel decision computation per page.
const DefaultLLMConcurrency = 4

// fullDocSummaryChars bounds the derived summary in full-doc mode.
const fullDocSummaryChars = 300

// Orchestrator runs the five-stage ingestion pipeline: crawl, extract,
// decide, create, merge. Pages are processed strictly in order so each page's
// decisions observe the documents committed by earlier pages.
type Orchestrator struct {
	crawler   crawler.Crawler
	extractor *TopicExtractor
	decider   *MergeDecider
	creator   *DocumentCreator
	merger    *DocumentMerger
	store     *store.DocumentStore
	logger    hclog.Logger

	mode           Mode
	llmConcurrency int64
	dryRun         bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMode sets the topic granularity mode.
func WithMode(m Mode) Option {
	return func(o *Orchestrator) { o.mode = m }
}

// WithLLMConcurrency bounds parallel LLM/embedding work within a stage.
func WithLLMConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.llmConcurrency = int64(n)
		}
	}
}

// WithDryRun makes the run stop after decisions: crawl, extract, and decide
// execute normally but no document is created or merged.
func WithDryRun(dry bool) Option {
	return func(o *Orchestrator) { o.dryRun = dry }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger hclog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator wires the pipeline components.
func NewOrchestrator(
	cr crawler.Crawler,
	extractor *TopicExtractor,
	decider *MergeDecider,
	creator *DocumentCreator,
	merger *DocumentMerger,
	st *store.DocumentStore,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		crawler:        cr,
		extractor:      extractor,
		decider:        decider,
		creator:        creator,
		merger:         merger,
		store:          st,
		logger:         hclog.NewNullLogger(),
		mode:           ModeParagraph,
		llmConcurrency: DefaultLLMConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// decidedTopic pairs a topic with its resolved decision, preserving
// extraction order for the apply phase.
type decidedTopic struct {
	topic    *Topic
	decision Decision
	err      error
}

// Run executes one pipeline invocation. The returned report is always
// populated; the error mirrors its fatal entries.
func (o *Orchestrator) Run(ctx context.Context, startURL string, maxPages int) (*pipeline.Report, error) {
	report := pipeline.NewReport()

	pages, err := o.runCrawl(ctx, report, startURL, maxPages)
	if err != nil {
		return report, err
	}

	var topicsTotal, createOK, createFail, mergeOK, mergeFail int
	var runErr *multierror.Error

	report.SetStage(pipeline.StageExtract, pipeline.StatusRunning)
	for pageIdx, page := range pages {
		if ctx.Err() != nil {
			runErr = multierror.Append(runErr, ctx.Err())
			break
		}

		topics := o.extractPage(ctx, report, page)
		topicsTotal += len(topics)
		report.TopicsExtracted += len(topics)
		if len(topics) == 0 {
			continue
		}

		report.SetStage(pipeline.StageDecide, pipeline.StatusRunning)
		decided, err := o.decidePage(ctx, report, topics)
		if err != nil {
			runErr = multierror.Append(runErr, err)
			break
		}

		// Writes are serialized in extraction order; each create or merge is
		// its own transaction.
		for _, dt := range decided {
			if ctx.Err() != nil {
				runErr = multierror.Append(runErr, ctx.Err())
				break
			}
			if dt.err != nil {
				continue
			}
			if o.dryRun {
				o.logger.Info("dry run, skipping write",
					"topic", dt.topic.Title,
					"decision", string(dt.decision.Kind),
					"target", dt.decision.TargetID,
				)
				continue
			}
			switch dt.decision.Kind {
			case DecisionCreate:
				report.SetStage(pipeline.StageCreate, pipeline.StatusRunning)
				if o.applyCreate(ctx, report, dt.topic) {
					createOK++
				} else {
					createFail++
				}
			case DecisionMerge:
				report.SetStage(pipeline.StageMerge, pipeline.StatusRunning)
				if o.applyMerge(ctx, report, dt.topic, dt.decision.TargetID) {
					mergeOK++
				} else {
					mergeFail++
				}
			}
		}

		o.logger.Info("page processed",
			"page", pageIdx+1,
			"of", len(pages),
			"topics", len(topics),
		)
	}

	report.SetStage(pipeline.StageExtract, pipeline.StatusSuccess)
	if topicsTotal == 0 {
		report.SetStage(pipeline.StageDecide, pipeline.StatusSkipped)
		report.SetStage(pipeline.StageCreate, pipeline.StatusSkipped)
		report.SetStage(pipeline.StageMerge, pipeline.StatusSkipped)
		report.AddError(pipeline.StageError{
			Stage:   pipeline.StageExtract,
			Kind:    pipeline.KindValidation,
			Message: "no topics extracted from any page",
		})
		return report, runErr.ErrorOrNil()
	}
	if report.Stage(pipeline.StageDecide) == pipeline.StatusRunning {
		report.SetStage(pipeline.StageDecide, pipeline.StatusSuccess)
	}

	o.finishWriteStage(report, pipeline.StageCreate, createOK, createFail)
	o.finishWriteStage(report, pipeline.StageMerge, mergeOK, mergeFail)
	report.DocumentsCreated = createOK
	report.DocumentsMerged = mergeOK

	if report.Failed() && runErr.ErrorOrNil() == nil {
		runErr = multierror.Append(runErr, fmt.Errorf("pipeline failed, see report errors"))
	}

	o.logger.Info("run complete",
		"pages", report.PagesCrawled,
		"topics", report.TopicsExtracted,
		"created", report.DocumentsCreated,
		"merged", report.DocumentsMerged,
		"errors", len(report.Errors),
	)
	return report, runErr.ErrorOrNil()
}

// runCrawl executes the crawl stage. Zero pages is fatal for the run and
// skips every later stage.
func (o *Orchestrator) runCrawl(ctx context.Context, report *pipeline.Report, startURL string, maxPages int) ([]crawler.Page, error) {
	report.SetStage(pipeline.StageCrawl, pipeline.StatusRunning)

	result, err := o.crawler.Crawl(ctx, startURL, maxPages)
	if err == nil && (result == nil || len(result.Pages) == 0) {
		err = fmt.Errorf("crawl of %s returned no pages", startURL)
	}
	if err != nil {
		report.SetStage(pipeline.StageCrawl, pipeline.StatusFailed)
		for _, stage := range pipeline.StageOrder()[1:] {
			report.SetStage(stage, pipeline.StatusSkipped)
		}
		report.AddError(pipeline.StageError{
			Stage:   pipeline.StageCrawl,
			Kind:    pipeline.KindFatal,
			Message: err.Error(),
		})
		return nil, fmt.Errorf("crawl failed: %w", err)
	}

	report.PagesCrawled = len(result.Pages)
	report.SetStage(pipeline.StageCrawl, pipeline.StatusSuccess)

	// Extraction also consumes the crawl's materialized output; a reported
	// directory that vanished before extraction means that input is gone. An
	// empty OutputDir marks a purely in-memory hand-off.
	if result.OutputDir != "" {
		if _, statErr := os.Stat(result.OutputDir); statErr != nil {
			report.SetStage(pipeline.StageExtract, pipeline.StatusFailed)
			for _, stage := range pipeline.StageOrder()[2:] {
				report.SetStage(stage, pipeline.StatusSkipped)
			}
			report.AddError(pipeline.StageError{
				Stage:   pipeline.StageExtract,
				Kind:    pipeline.KindFatal,
				Message: fmt.Sprintf("crawl output directory %s is not readable: %v", result.OutputDir, statErr),
			})
			return nil, fmt.Errorf("crawl output directory %s: %w", result.OutputDir, statErr)
		}
	}
	return result.Pages, nil
}

// extractPage produces the topic list for one page according to the mode.
// Extraction failures are recorded and yield an empty list.
func (o *Orchestrator) extractPage(ctx context.Context, report *pipeline.Report, page crawler.Page) []Topic {
	var topics []Topic

	if o.mode == ModeParagraph || o.mode == ModeBoth {
		extracted, err := o.extractor.Extract(ctx, page)
		if err != nil {
			report.AddError(pipeline.StageError{
				Stage:   pipeline.StageExtract,
				Kind:    pipeline.KindTransient,
				Message: err.Error(),
			})
		}
		topics = append(topics, extracted...)
	}

	if o.mode == ModeFullDoc || o.mode == ModeBoth {
		if t := fullDocTopic(page); t != nil {
			topics = append(topics, *t)
		}
	}

	if o.mode == ModeBoth {
		topics = DeduplicateTopics(topics)
	}
	return topics
}

// fullDocTopic treats an entire page as one topic.
func fullDocTopic(page crawler.Page) *Topic {
	content := strings.TrimSpace(page.Markdown)
	if content == "" || crawler.IsNonContentURL(page.URL) {
		return nil
	}
	title := strings.TrimSpace(page.Title)
	if title == "" {
		title = page.URL
	}
	summary := content
	if len(summary) > fullDocSummaryChars {
		summary = summary[:fullDocSummaryChars]
	}
	return &Topic{
		Title:     title,
		Summary:   summary,
		Content:   content,
		SourceURL: page.URL,
	}
}

// decidePage resolves every topic of a page against one snapshot read at the
// start of the page. Decisions run in parallel under the concurrency bound;
// all of them see the same snapshot.
func (o *Orchestrator) decidePage(ctx context.Context, report *pipeline.Report, topics []Topic) ([]decidedTopic, error) {
	snapshot, err := o.store.GetAll(ctx)
	if err != nil {
		report.SetStage(pipeline.StageDecide, pipeline.StatusFailed)
		report.AddError(pipeline.StageError{
			Stage:   pipeline.StageDecide,
			Kind:    pipeline.KindFatal,
			Message: err.Error(),
		})
		return nil, fmt.Errorf("failed to read document snapshot: %w", err)
	}
	SortDocumentsByID(snapshot)

	sem := semaphore.NewWeighted(o.llmConcurrency)
	decided := make([]decidedTopic, len(topics))

	for i := range topics {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func(idx int) {
			defer sem.Release(1)
			topic := &topics[idx]
			decision, err := o.decider.Decide(ctx, topic, snapshot)
			decided[idx] = decidedTopic{topic: topic, decision: decision, err: err}
		}(i)
	}
	// Draining the semaphore waits for every in-flight decision.
	if err := sem.Acquire(ctx, o.llmConcurrency); err != nil {
		return nil, err
	}
	sem.Release(o.llmConcurrency)

	for i := range decided {
		dt := &decided[i]
		if dt.err != nil {
			report.AddError(pipeline.StageError{
				Stage:   pipeline.StageDecide,
				Topic:   topics[i].Title,
				Kind:    pipeline.KindTransient,
				Message: dt.err.Error(),
			})
			continue
		}
		switch dt.decision.Kind {
		case DecisionCreate:
			report.Decisions.Create++
		case DecisionMerge:
			report.Decisions.Merge++
		}
		if dt.decision.Verified {
			report.Decisions.Verify++
		}
		if dt.decision.VerifyFailed {
			report.AddError(pipeline.StageError{
				Stage:   pipeline.StageDecide,
				Topic:   topics[i].Title,
				Kind:    pipeline.KindTransient,
				Message: dt.decision.Reason,
			})
		}
	}
	return decided, nil
}

func (o *Orchestrator) applyCreate(ctx context.Context, report *pipeline.Report, topic *Topic) bool {
	if _, err := o.creator.Create(ctx, topic); err != nil {
		report.AddError(pipeline.StageError{
			Stage:   pipeline.StageCreate,
			Topic:   topic.Title,
			Kind:    pipeline.KindPartial,
			Message: err.Error(),
		})
		return false
	}
	return true
}

func (o *Orchestrator) applyMerge(ctx context.Context, report *pipeline.Report, topic *Topic, targetID string) bool {
	if _, err := o.merger.Merge(ctx, targetID, topic); err != nil {
		report.AddError(pipeline.StageError{
			Stage:   pipeline.StageMerge,
			Topic:   topic.Title,
			Kind:    pipeline.KindPartial,
			Message: err.Error(),
		})
		return false
	}
	return true
}

// finishWriteStage resolves a create/merge stage status from its outcome
// counts: skipped when nothing was attempted, failed (fatal) when everything
// attempted failed, partial when mixed.
func (o *Orchestrator) finishWriteStage(report *pipeline.Report, stage string, ok, failed int) {
	switch {
	case ok == 0 && failed == 0:
		report.SetStage(stage, pipeline.StatusSkipped)
	case failed == 0:
		report.SetStage(stage, pipeline.StatusSuccess)
	case ok == 0:
		report.SetStage(stage, pipeline.StatusFailed)
		report.AddError(pipeline.StageError{
			Stage:   stage,
			Kind:    pipeline.KindFatal,
			Message: fmt.Sprintf("all %d %s operations failed", failed, stage),
		})
	default:
		report.SetStage(stage, pipeline.StatusPartial)
		report.AddError(pipeline.StageError{
			Stage:   stage,
			Kind:    pipeline.KindPartial,
			Message: fmt.Sprintf("%d of %d %s operations failed", failed, ok+failed, stage),
		})
	}
}
