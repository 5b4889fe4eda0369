package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account. Users sign in with a password, an OIDC
// provider, or both.
type User struct {
	ID            uint           `gorm:"primarykey" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	Email         string         `gorm:"uniqueIndex;not null" json:"email"`
	Name          string         `gorm:"not null" json:"name"`
	EmailVerified bool           `gorm:"not null" json:"email_verified"`
	Image         *string        `json:"image,omitempty"`
	PasswordHash  string         `json:"-"` // Empty for OIDC-only users

	// Relationships
	Bookmarks      []Bookmark     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Tags           []Tag          `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	APIKeys        []APIKey       `gorm:"foreignKey:UserID" json:"-"`
	OIDCIdentities []OIDCIdentity `gorm:"foreignKey:UserID" json:"-"`
}
