// Package pipeline defines the stage contract shared by the ingestion
// orchestrator: stage identities, observable statuses, the error taxonomy,
// and the structured run report returned to the invoker.
package pipeline

import (
	"fmt"
	"sync"
)

// Stage names, in execution order.
const (
	StageCrawl   = "crawl"
	StageExtract = "extract_topics"
	StageDecide  = "merge_decision"
	StageCreate  = "create_documents"
	StageMerge   = "merge_documents"
)

// StageOrder lists the stages in execution order.
func StageOrder() []string {
	return []string{StageCrawl, StageExtract, StageDecide, StageCreate, StageMerge}
}

// Status is the observable state of a stage.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

// ErrorKind classifies a stage error per the propagation policy: transient
// errors were retried and escalated, validation errors skip a stage
// non-fatally, fatal errors abort the run, partial errors continue with a
// warning.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindValidation ErrorKind = "validation"
	KindFatal      ErrorKind = "fatal"
	KindPartial    ErrorKind = "partial"
)

// StageError is a classified error surfaced in the run report.
type StageError struct {
	Stage   string    `json:"stage"`
	Topic   string    `json:"topic,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("%s [%s] topic %q: %s", e.Stage, e.Kind, e.Topic, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Stage, e.Kind, e.Message)
}

// IsFatal reports whether the error aborts the run.
func (e *StageError) IsFatal() bool {
	return e.Kind == KindFatal
}

// DecisionCounts tallies merge-decision outcomes. Verify counts how many
// topics entered the LLM arbitration band, independent of its outcome.
type DecisionCounts struct {
	Create int `json:"create"`
	Merge  int `json:"merge"`
	Verify int `json:"verify"`
}

// Report is the structured result of one pipeline invocation.
type Report struct {
	mu sync.Mutex

	PagesCrawled     int               `json:"pages_crawled"`
	TopicsExtracted  int               `json:"topics_extracted"`
	Decisions        DecisionCounts    `json:"decisions"`
	DocumentsCreated int               `json:"documents_created"`
	DocumentsMerged  int               `json:"documents_merged"`
	Errors           []StageError      `json:"errors"`
	Stages           map[string]Status `json:"stages"`
}

// NewReport creates a report with every stage pending.
func NewReport() *Report {
	stages := make(map[string]Status, 5)
	for _, name := range StageOrder() {
		stages[name] = StatusPending
	}
	return &Report{Stages: stages}
}

// SetStage records a stage transition.
func (r *Report) SetStage(name string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stages[name] = status
}

// Stage returns the recorded status of a stage.
func (r *Report) Stage(name string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Stages[name]
}

// AddError appends a classified error.
func (r *Report) AddError(err StageError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
}

// Failed reports whether any recorded error is fatal.
func (r *Report) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.Errors {
		if e.Kind == KindFatal {
			return true
		}
	}
	return false
}

// ExitCode maps the report to a process exit code: zero when every stage
// either succeeded, was skipped, or partially succeeded; non-zero on any
// fatal error.
func (r *Report) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}
