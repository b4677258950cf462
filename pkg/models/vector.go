package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// EmbeddingDimensions is the fixed dimensionality of every vector stored by
// this system. Both the documents and chunks tables declare VECTOR(768).
const EmbeddingDimensions = 768

// Vector is a pgvector-backed embedding column. It serializes to the pgvector
// text format ("[0.1,0.2,...]") and scans back from it. On SQLite (used by the
// test suite) the column degrades to TEXT with the same wire format.
type Vector []float64

// Value implements the driver.Valuer interface.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return formatVector(v), nil
}

// Scan implements the sql.Scanner interface.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}

	var s string
	switch src := value.(type) {
	case []byte:
		s = string(src)
	case string:
		s = src
	default:
		return fmt.Errorf("cannot scan %T into Vector", value)
	}

	parsed, err := ParseVector(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// GormDataType classifies the column for gorm's schema parser. Without it
// gorm would treat the slice as a relationship and fail to parse the model;
// the dialect-specific DDL still comes from GormDBDataType.
func (Vector) GormDataType() string {
	return "vector"
}

// GormDBDataType returns the column type per dialect. Postgres gets a real
// pgvector column; SQLite stores the text representation.
func (Vector) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return fmt.Sprintf("vector(%d)", EmbeddingDimensions)
	default:
		return "text"
	}
}

// IsFlat reports whether the vector has exactly the expected dimensionality.
// A nil vector is allowed (document embedding may be absent).
func (v Vector) IsFlat() bool {
	return v == nil || len(v) == EmbeddingDimensions
}

// ParseVector parses the pgvector text format. A nested value ("[[...]]"),
// which some embedding backends produce for single-item batches, is flattened
// one level.
func ParseVector(s string) (Vector, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return nil, nil
	}

	// Flatten one level of nesting.
	if strings.HasPrefix(s, "[[") && strings.HasSuffix(s, "]]") {
		s = s[1 : len(s)-1]
	}

	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector literal: %q", truncateForError(s))
	}

	parts := strings.Split(s[1:len(s)-1], ",")
	vec := make(Vector, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed vector element %q: %w", p, err)
		}
		vec = append(vec, f)
	}
	return vec, nil
}

// FlattenEmbedding normalizes an embedding that may arrive as a nested
// single-element batch ([[...]]) into a flat vector.
func FlattenEmbedding(raw [][]float64) Vector {
	if len(raw) == 0 {
		return nil
	}
	return Vector(raw[0])
}

// formatVector converts a float slice to the pgvector literal format.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func formatVector(vec []float64) string {
	strValues := make([]string, len(vec))
	for i, f := range vec {
		strValues[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return "[" + strings.Join(strValues, ",") + "]"
}

func truncateForError(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
