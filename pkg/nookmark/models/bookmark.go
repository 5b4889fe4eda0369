package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bookmark is a URL saved by a user. A user can hold a URL only once among
// bookmarks that are not soft-deleted (see idx_bookmarks_user_url).
type Bookmark struct {
	ID          string         `gorm:"primarykey;type:varchar(36)" json:"id"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	URL         string         `gorm:"not null" json:"url"`
	Title       string         `gorm:"not null" json:"title"`
	Description *string        `json:"description"`
	Favicon     *string        `json:"favicon"`
	Starred     bool           `gorm:"not null" json:"starred"`
	ArchivedAt  *time.Time     `json:"archived_at"`
}

// BeforeCreate assigns a random UUID when none is set
func (b *Bookmark) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Archived reports whether the bookmark has been archived
func (b *Bookmark) Archived() bool {
	return b.ArchivedAt != nil
}
