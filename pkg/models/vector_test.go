package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestVector_ValueRoundTrip(t *testing.T) {
	vec := Vector{0.1, -0.25, 3}

	val, err := vec.Value()
	require.NoError(t, err)
	assert.Equal(t, "[0.1,-0.25,3]", val)

	var parsed Vector
	require.NoError(t, parsed.Scan([]byte(val.(string))))
	assert.Equal(t, vec, parsed)
}

func TestVector_GormSchemaClassification(t *testing.T) {
	assert.Equal(t, "vector", Vector{}.GormDataType())

	// The parser must classify embedding columns as data fields; without a
	// declared data type it would treat the slice as a relationship and
	// fail to parse the model.
	for _, model := range []interface{}{&Document{}, &Chunk{}} {
		s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
		require.NoError(t, err)
		field := s.LookUpField("Embedding")
		require.NotNil(t, field)
		assert.Equal(t, schema.DataType("vector"), field.DataType)
	}
}

func TestVector_ValueNil(t *testing.T) {
	var vec Vector
	val, err := vec.Value()
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestParseVector_FlattensNested(t *testing.T) {
	// Some embedding backends return a single-item batch shape.
	vec, err := ParseVector("[[1,2,3]]")
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 2, 3}, vec)
}

func TestParseVector_Malformed(t *testing.T) {
	_, err := ParseVector("not a vector")
	assert.Error(t, err)

	_, err = ParseVector("[1,two,3]")
	assert.Error(t, err)
}

func TestFlattenEmbedding(t *testing.T) {
	assert.Nil(t, FlattenEmbedding(nil))
	assert.Equal(t, Vector{1, 2}, FlattenEmbedding([][]float64{{1, 2}}))
}

func TestVector_IsFlat(t *testing.T) {
	assert.True(t, Vector(nil).IsFlat())
	assert.False(t, Vector{1, 2, 3}.IsFlat())

	full := make(Vector, EmbeddingDimensions)
	assert.True(t, full.IsFlat())
}

func TestEmbeddingInputText(t *testing.T) {
	assert.Equal(t, "Alpha. A summary.", EmbeddingInputText("Alpha", "A summary.", "body"))

	// Falls back to a content prefix when the summary is absent.
	assert.Equal(t, "Alpha. body", EmbeddingInputText("Alpha", "", "body"))
}
