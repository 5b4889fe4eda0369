package oidc

import (
	"context"
	"errors"
	"strings"

	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"gorm.io/gorm"
)

// ErrUnverifiedEmail is returned when the provider asserts an email that
// belongs to an existing account without having verified it.
var ErrUnverifiedEmail = errors.New("email not verified by provider")

// Claims are the ID token claims we read
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

func (c Claims) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.GivenName != "" || c.FamilyName != "" {
		return strings.TrimSpace(c.GivenName + " " + c.FamilyName)
	}
	return strings.Split(c.Email, "@")[0]
}

// findOrCreateUser resolves the account for a provider identity. Existing
// identity links win; otherwise an account with the same verified email is
// linked, and failing that a new account is created.
func findOrCreateUser(ctx context.Context, db *gorm.DB, provider, subject string, claims Claims) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	var user models.User

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var identity models.OIDCIdentity
		err := tx.Where("provider = ? AND subject = ?", provider, subject).First(&identity).Error
		if err == nil {
			return tx.First(&user, identity.UserID).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		err = tx.Where("email = ?", email).First(&user).Error
		switch {
		case err == nil:
			if !claims.EmailVerified {
				return ErrUnverifiedEmail
			}
			updates := map[string]any{"email_verified": true}
			if user.Image == nil && claims.Picture != "" {
				updates["image"] = claims.Picture
			}
			if err := tx.Model(&user).Updates(updates).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{
				Email:         email,
				Name:          claims.displayName(),
				EmailVerified: claims.EmailVerified,
			}
			if claims.Picture != "" {
				user.Image = &claims.Picture
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
		default:
			return err
		}

		return tx.Create(&models.OIDCIdentity{
			UserID:   user.ID,
			Provider: provider,
			Subject:  subject,
			Email:    email,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
