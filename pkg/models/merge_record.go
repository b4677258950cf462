package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Merge strategies. A closed two-variant set chosen by the LLM during the
// rewrite call: enrich folds detail into existing sections, expand appends a
// new section.
const (
	MergeStrategyEnrich = "enrich"
	MergeStrategyExpand = "expand"
)

// MergeRecord is the append-only audit trail of document merges. Rows are
// written inside the merge transaction and never updated.
type MergeRecord struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	TargetDocID      string `gorm:"type:text;not null;index:idx_merge_history_target" json:"targetDocId"`
	SourceTopicTitle string `gorm:"type:text;not null" json:"sourceTopicTitle"`
	MergeStrategy    string `gorm:"type:text;not null" json:"mergeStrategy"`
	ChangesMade      string `gorm:"type:text" json:"changesMade"`

	MergedAt time.Time `gorm:"not null;index:idx_merge_history_merged_at,sort:desc" json:"mergedAt"`
}

// TableName specifies the table name.
func (MergeRecord) TableName() string {
	return "merge_history"
}

// BeforeCreate hook to ensure required fields.
func (r *MergeRecord) BeforeCreate(tx *gorm.DB) error {
	if r.TargetDocID == "" {
		return fmt.Errorf("merge record target_doc_id is required")
	}
	if r.MergeStrategy != MergeStrategyEnrich && r.MergeStrategy != MergeStrategyExpand {
		return fmt.Errorf("invalid merge strategy %q", r.MergeStrategy)
	}
	if r.MergedAt.IsZero() {
		r.MergedAt = time.Now()
	}
	return nil
}

// ValidStrategy reports whether s is one of the closed strategy variants.
func ValidStrategy(s string) bool {
	return s == MergeStrategyEnrich || s == MergeStrategyExpand
}
