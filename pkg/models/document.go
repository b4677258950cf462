package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Document is a canonical knowledge artifact assembled from one or more
// crawled topics. The embedding is the document-level semantic fingerprint,
// computed over "{title}. {summary}".
type Document struct {
	ID      string `gorm:"type:text;primaryKey" json:"id"`
	Title   string `gorm:"type:text;not null" json:"title"`
	Summary string `gorm:"type:text" json:"summary"`
	Content string `gorm:"type:text;not null" json:"content"`

	Category   string         `gorm:"type:text" json:"category,omitempty"`
	Keywords   pq.StringArray `gorm:"type:text[]" json:"keywords"`
	SourceURLs pq.StringArray `gorm:"type:text[];column:source_urls" json:"sourceUrls"`

	Embedding Vector `json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Chunks []Chunk `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"chunks,omitempty"`
}

// TableName specifies the table name.
func (Document) TableName() string {
	return "documents"
}

// BeforeCreate hook to ensure required fields.
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if d.Content == "" {
		return fmt.Errorf("document content is required")
	}
	if !d.Embedding.IsFlat() {
		return fmt.Errorf("document embedding must have %d dimensions, got %d",
			EmbeddingDimensions, len(d.Embedding))
	}
	return nil
}

// HasEmbedding reports whether a stored embedding is present. The merge
// decider reads this field and must never regenerate it when present.
func (d *Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// EmbeddingText returns the canonical text the document-level embedding is
// computed over. Topic-side and document-side inputs must use the same
// template or similarity scores drift.
func (d *Document) EmbeddingText() string {
	return EmbeddingInputText(d.Title, d.Summary, d.Content)
}

// EmbeddingInputText composes the shared "{title}. {summary}" embedding input,
// falling back to a content prefix when the summary is absent.
func EmbeddingInputText(title, summary, content string) string {
	if summary == "" {
		const maxFallback = 500
		if len(content) > maxFallback {
			content = content[:maxFallback]
		}
		summary = content
	}
	return title + ". " + summary
}

// DocumentInfo is a Document joined with aggregate chunk statistics, as
// returned by the store's GetAll listing.
type DocumentInfo struct {
	Document
	ChunkCount    int `json:"chunkCount"`
	ContentLength int `json:"contentLength"`
}
