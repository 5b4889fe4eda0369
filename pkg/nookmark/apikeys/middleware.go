package apikeys

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"gorm.io/gorm"
)

// CombinedAuthMiddleware authenticates with a session token or an API key.
// Both arrive as "Bearer <token>"; sessions may also use the cookie. API
// keys are recognised by KeyPrefix.
func CombinedAuthMiddleware(db *gorm.DB, sessions *auth.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := sessions.TokenFromRequest(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		if !IsAPIKey(token) {
			claims, err := sessions.Tokens.Validate(token)
			if err != nil {
				auth.AbortInvalidToken(c, err)
				return
			}
			auth.SetUser(c, claims.UserID, claims.Email)
			c.Next()
			return
		}

		apiKey, err := Validate(c.Request.Context(), db, token)
		if err != nil {
			if errors.Is(err, ErrInvalidKey) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate API key"})
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).First(&user, apiKey.UserID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		auth.SetUser(c, user.ID, user.Email)
		c.Next()
	}
}
