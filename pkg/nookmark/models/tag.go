package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tag is a user-scoped label. Tags are created implicitly the first time a
// name is used and are never deleted, even when no bookmark carries them.
type Tag struct {
	ID        string    `gorm:"primarykey;type:varchar(36)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_tags_user_name" json:"user_id"`
	Name      string    `gorm:"not null;uniqueIndex:idx_tags_user_name" json:"name"`
	Color     *string   `json:"color,omitempty"`
}

// BeforeCreate assigns a random UUID when none is set
func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// BookmarkTag associates a tag with a bookmark
type BookmarkTag struct {
	BookmarkID string    `gorm:"primaryKey;type:varchar(36)" json:"bookmark_id"`
	TagID      string    `gorm:"primaryKey;type:varchar(36);index" json:"tag_id"`
	CreatedAt  time.Time `json:"created_at"`

	Bookmark Bookmark `gorm:"foreignKey:BookmarkID;constraint:OnDelete:CASCADE" json:"-"`
	Tag      Tag      `gorm:"foreignKey:TagID;constraint:OnDelete:CASCADE" json:"-"`
}
