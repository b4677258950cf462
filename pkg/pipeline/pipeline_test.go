package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReport_AllStagesPending(t *testing.T) {
	r := NewReport()
	for _, name := range StageOrder() {
		assert.Equal(t, StatusPending, r.Stage(name))
	}
}

func TestReport_StageTransitions(t *testing.T) {
	r := NewReport()

	r.SetStage(StageCrawl, StatusRunning)
	assert.Equal(t, StatusRunning, r.Stage(StageCrawl))

	r.SetStage(StageCrawl, StatusSuccess)
	assert.Equal(t, StatusSuccess, r.Stage(StageCrawl))
}

func TestReport_ExitCode(t *testing.T) {
	r := NewReport()
	assert.Equal(t, 0, r.ExitCode())

	r.AddError(StageError{Stage: StageCreate, Kind: KindPartial, Message: "1 of 3 failed"})
	assert.Equal(t, 0, r.ExitCode())

	r.AddError(StageError{Stage: StageCrawl, Kind: KindFatal, Message: "no pages crawled"})
	assert.Equal(t, 1, r.ExitCode())
	assert.True(t, r.Failed())
}

func TestStageError_Error(t *testing.T) {
	e := &StageError{Stage: StageMerge, Topic: "Alpha", Kind: KindTransient, Message: "timeout"}
	assert.Contains(t, e.Error(), "Alpha")
	assert.Contains(t, e.Error(), "transient")

	noTopic := &StageError{Stage: StageCrawl, Kind: KindFatal, Message: "boom"}
	assert.NotContains(t, noTopic.Error(), "topic")
}

func TestReport_JSONShape(t *testing.T) {
	r := NewReport()
	r.PagesCrawled = 2
	r.Decisions.Create = 1
	r.AddError(StageError{Stage: StageCrawl, Kind: KindFatal, Message: "x"})

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "pages_crawled")
	assert.Contains(t, decoded, "decisions")
	assert.Contains(t, decoded, "errors")
	assert.Contains(t, decoded, "stages")
}
