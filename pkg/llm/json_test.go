package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON_Plain(t *testing.T) {
	var out map[string]string
	require.NoError(t, DecodeJSON(`{"key": "value"}`, &out))
	assert.Equal(t, "value", out["key"])
}

func TestDecodeJSON_CodeFenced(t *testing.T) {
	completion := "```json\n{\"key\": \"value\"}\n```"

	var out map[string]string
	require.NoError(t, DecodeJSON(completion, &out))
	assert.Equal(t, "value", out["key"])
}

func TestDecodeJSON_RecoverArrayFromProse(t *testing.T) {
	completion := `Here are the topics you asked for:

[{"title": "Alpha"}, {"title": "Beta"}]

Let me know if you need more.`

	var out []struct {
		Title string `json:"title"`
	}
	require.NoError(t, DecodeJSON(completion, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "Beta", out[1].Title)
}

func TestDecodeJSON_RecoverObjectFromProse(t *testing.T) {
	completion := `The merged document follows. {"content": "body", "summary": "s"} Done.`

	var out struct {
		Content string `json:"content"`
		Summary string `json:"summary"`
	}
	require.NoError(t, DecodeJSON(completion, &out))
	assert.Equal(t, "body", out.Content)
}

func TestDecodeJSON_NoJSON(t *testing.T) {
	var out map[string]string
	err := DecodeJSON("I could not produce any structured output, sorry.", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON found")
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences(`{"a":1}`))
}
