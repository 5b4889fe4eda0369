package models

import "gorm.io/gorm"

// AllModels returns all models for migration
// Note: User must be migrated first as other models depend on it
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Bookmark{},
		&Tag{},
		&BookmarkTag{},
		&APIKey{},
		&OIDCIdentity{},
	}
}

// indexes holds statements gorm's struct tags cannot express
var indexes = []string{
	// A URL may be saved again once the previous copy is soft-deleted
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookmarks_user_url
		ON bookmarks (user_id, url) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_bookmarks_user_updated
		ON bookmarks (user_id, updated_at)`,
}

// AutoMigrate runs GORM auto-migration for all models, then creates the
// partial and composite indexes
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return err
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
