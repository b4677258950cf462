// Package store owns all persisted entities: documents, chunks, and the
// merge audit trail. Every mutation path goes through this package, and every
// mutation is transactional. All values pass through the driver's
// parameterized bindings; SQL is never assembled from user text.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"ragline/pkg/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// insertBatchSize bounds multi-row chunk inserts per statement.
const insertBatchSize = 100

// DocumentStore provides pooled, transactional access to the document schema.
type DocumentStore struct {
	db     *gorm.DB
	logger hclog.Logger
}

// New creates a document store.
func New(db *gorm.DB, logger hclog.Logger) *DocumentStore {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &DocumentStore{
		db:     db,
		logger: logger.Named("document-store"),
	}
}

// GetAll returns every document with its stored embedding plus aggregate
// chunk statistics, in one query.
func (s *DocumentStore) GetAll(ctx context.Context) ([]models.DocumentInfo, error) {
	var docs []models.DocumentInfo
	err := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Select("documents.*, COUNT(chunks.id) AS chunk_count, LENGTH(documents.content) AS content_length").
		Joins("LEFT JOIN chunks ON chunks.document_id = documents.id").
		Group("documents.id").
		Order("documents.id").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// GetByID returns a document with its full content and chunks ordered by
// position.
func (s *DocumentStore) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).
		Preload("Chunks", func(db *gorm.DB) *gorm.DB {
			return db.Order("chunk_index ASC")
		}).
		First(&doc, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	return &doc, nil
}

// Exists reports whether a document id is already taken.
func (s *DocumentStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check document id: %w", err)
	}
	return count > 0, nil
}

// Insert persists a new document together with its chunks in one
// transaction. Any failure rolls back both.
func (s *DocumentStore) Insert(ctx context.Context, doc *models.Document, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("document %s has no chunks", doc.ID)
	}
	if err := validateChunkPositions(chunks); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		if err := tx.CreateInBatches(chunks, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("inserted document",
		"document_id", doc.ID,
		"chunks", len(chunks),
	)
	return nil
}

// ApplyMerge atomically updates the document row, replaces its chunk set,
// and appends the merge audit record. On any failure the document remains at
// its prior committed state.
func (s *DocumentStore) ApplyMerge(ctx context.Context, doc *models.Document, chunks []models.Chunk, rec *models.MergeRecord) error {
	if len(chunks) == 0 {
		return fmt.Errorf("merge of %s produced no chunks", doc.ID)
	}
	if err := validateChunkPositions(chunks); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateDocument(tx, doc); err != nil {
			return err
		}
		if err := replaceChunks(tx, doc.ID, chunks); err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to insert merge record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("applied merge",
		"document_id", doc.ID,
		"chunks", len(chunks),
		"strategy", rec.MergeStrategy,
	)
	return nil
}

// UpdateDocument performs a partial update of a document row by id, outside
// any merge. Chunks are untouched.
func (s *DocumentStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	return updateDocument(s.db.WithContext(ctx), doc)
}

// UpdateEmbedding opportunistically persists a backfilled document
// embedding. Used when the decider finds a legacy row with a null embedding;
// failures are the caller's to log, never to block on.
func (s *DocumentStore) UpdateEmbedding(ctx context.Context, id string, embedding models.Vector) error {
	result := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", id).
		Update("embedding", embedding)
	if result.Error != nil {
		return fmt.Errorf("failed to update embedding for %s: %w", id, result.Error)
	}
	return nil
}

// InsertMergeRecord appends a merge audit row outside a merge transaction.
func (s *DocumentStore) InsertMergeRecord(ctx context.Context, rec *models.MergeRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to insert merge record: %w", err)
	}
	return nil
}

// ReplaceChunks atomically swaps the chunk set of a document in its own
// transaction (delete-then-insert).
func (s *DocumentStore) ReplaceChunks(ctx context.Context, docID string, chunks []models.Chunk) error {
	if err := validateChunkPositions(chunks); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceChunks(tx, docID, chunks)
	})
}

// Transaction runs fn inside a transaction, giving it a store bound to the
// transaction connection. Rollback on error is guaranteed on all exit paths.
func (s *DocumentStore) Transaction(ctx context.Context, fn func(txStore *DocumentStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&DocumentStore{db: tx, logger: s.logger})
	})
}

// CountDocuments returns the number of persisted documents.
func (s *DocumentStore) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Document{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// GetMergeHistory returns merge records for a document, newest first.
func (s *DocumentStore) GetMergeHistory(ctx context.Context, docID string) ([]models.MergeRecord, error) {
	var recs []models.MergeRecord
	err := s.db.WithContext(ctx).
		Where("target_doc_id = ?", docID).
		Order("merged_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load merge history: %w", err)
	}
	return recs, nil
}

func updateDocument(tx *gorm.DB, doc *models.Document) error {
	result := tx.Model(&models.Document{}).
		Where("id = ?", doc.ID).
		Updates(map[string]interface{}{
			"title":       doc.Title,
			"summary":     doc.Summary,
			"content":     doc.Content,
			"category":    doc.Category,
			"keywords":    doc.Keywords,
			"source_urls": doc.SourceURLs,
			"embedding":   doc.Embedding,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update document %s: %w", doc.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, doc.ID)
	}
	return nil
}

func replaceChunks(tx *gorm.DB, docID string, chunks []models.Chunk) error {
	if err := tx.Where("document_id = ?", docID).Delete(&models.Chunk{}).Error; err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", docID, err)
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(chunks, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert replacement chunks for %s: %w", docID, err)
	}
	return nil
}

// validateChunkPositions enforces the contiguous-from-zero position
// invariant before anything reaches the database.
func validateChunkPositions(chunks []models.Chunk) error {
	for i, ch := range chunks {
		if ch.Position != i {
			return fmt.Errorf("chunk positions must be contiguous from 0: index %d has position %d", i, ch.Position)
		}
	}
	return nil
}
