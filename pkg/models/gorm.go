package models

func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&Document{}, // Must be first - chunks and merge_history reference it
		&Chunk{},
		&MergeRecord{},
	}
}
