// Package apikeys issues long-lived keys for programmatic clients such as
// the browser extension, and authenticates requests carrying them.
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"gorm.io/gorm"
)

const (
	// KeyPrefix marks a bearer token as an API key rather than a session token
	KeyPrefix = "nk_"
	// KeyLength is the number of random bytes in a key (hex encoded after the prefix)
	KeyLength = 32
	// KeyPrefixLength is the number of characters stored for identification
	KeyPrefixLength = 11
	// lastUsedResolution limits how often a key's last_used_at is written
	lastUsedResolution = time.Minute
)

// ErrInvalidKey is returned for keys that are malformed, unknown or revoked
var ErrInvalidKey = errors.New("invalid API key")

// IsAPIKey reports whether a bearer token looks like an API key
func IsAPIKey(token string) bool {
	return strings.HasPrefix(token, KeyPrefix)
}

// generateAPIKey generates a new random API key
func generateAPIKey() (string, error) {
	b := make([]byte, KeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

// hashAPIKey creates a SHA-256 hash of the API key
func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Validate looks up a live key and records its use
func Validate(ctx context.Context, db *gorm.DB, key string) (*models.APIKey, error) {
	if !IsAPIKey(key) {
		return nil, ErrInvalidKey
	}

	var apiKey models.APIKey
	err := db.WithContext(ctx).Where("key_hash = ?", hashAPIKey(key)).First(&apiKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}

	if err := touch(ctx, db, &apiKey, time.Now()); err != nil {
		return nil, err
	}
	return &apiKey, nil
}

// touch updates last_used_at at most once per lastUsedResolution
func touch(ctx context.Context, db *gorm.DB, apiKey *models.APIKey, now time.Time) error {
	if apiKey.LastUsedAt != nil && now.Sub(*apiKey.LastUsedAt) < lastUsedResolution {
		return nil
	}
	err := db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", apiKey.ID).
		UpdateColumn("last_used_at", now).Error
	if err != nil {
		return err
	}
	apiKey.LastUsedAt = &now
	return nil
}
