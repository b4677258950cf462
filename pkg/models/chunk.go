package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Chunk is a retrieval-sized fragment of a document. Positions are contiguous
// from 0 within a document; every chunk carries a flat 768-dim embedding.
type Chunk struct {
	ID         string `gorm:"type:text;primaryKey" json:"id"`
	DocumentID string `gorm:"type:text;not null;index:idx_chunks_document_id" json:"documentId"`
	Content    string `gorm:"type:text;not null" json:"content"`
	Embedding  Vector `json:"-"`
	Position   int    `gorm:"column:chunk_index;not null" json:"position"`
	TokenCount int    `gorm:"type:integer" json:"tokenCount"`
}

// TableName specifies the table name.
func (Chunk) TableName() string {
	return "chunks"
}

// BeforeCreate hook to ensure required fields.
func (c *Chunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		return fmt.Errorf("chunk id is required")
	}
	if c.DocumentID == "" {
		return fmt.Errorf("chunk document_id is required")
	}
	if c.Position < 0 {
		return fmt.Errorf("chunk position must be >= 0, got %d", c.Position)
	}
	if len(c.Embedding) != EmbeddingDimensions {
		return fmt.Errorf("chunk embedding must have %d dimensions, got %d",
			EmbeddingDimensions, len(c.Embedding))
	}
	return nil
}
