// Package account lets signed-in users manage their own profile and see a
// summary of their collection.
package account

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/bookmarks"
	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"github.com/mikepea/nookmark/pkg/nookmark/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler handles account requests
type Handler struct {
	db     *gorm.DB
	svc    *bookmarks.Service
	logger *zap.Logger
}

// NewHandler creates a new account handler
func NewHandler(db *gorm.DB, svc *bookmarks.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{db: db, svc: svc, logger: logger}
}

// UpdateProfileRequest represents the request to update the profile
type UpdateProfileRequest struct {
	Name  *string `json:"name" binding:"omitempty,min=1,max=100"`
	Image *string `json:"image" binding:"omitempty,url,max=2048"`
}

// ChangePasswordRequest represents the request to change the password.
// Accounts created through OAuth have no password yet and may omit
// current_password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
}

// StatsResponse summarises the user's data
type StatsResponse struct {
	Bookmarks bookmarks.Stats `json:"bookmarks"`
	APIKeys   int64           `json:"api_keys"`
}

// GetStats returns counts for the current user
// @Summary Account statistics
// @Tags account
// @Produce json
// @Success 200 {object} StatsResponse
// @Security BearerAuth
// @Router /account/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	st, err := h.svc.Stats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("loading stats failed", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
		return
	}

	resp := StatsResponse{Bookmarks: *st}
	if err := h.db.Model(&models.APIKey{}).Where("user_id = ?", userID).Count(&resp.APIKeys).Error; err != nil {
		h.logger.Error("counting api keys failed", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateProfile changes the user's name or avatar
// @Summary Update profile
// @Tags account
// @Accept json
// @Produce json
// @Param request body UpdateProfileRequest true "Profile fields"
// @Success 200 {object} auth.UserResponse
// @Failure 400 {object} validation.Error
// @Security BearerAuth
// @Router /account [patch]
func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.Respond(c, err)
		return
	}

	updates := make(map[string]any)
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name cannot be empty"})
			return
		}
		updates["name"] = name
	}
	if req.Image != nil {
		updates["image"] = *req.Image
	}

	var user models.User
	if len(updates) > 0 {
		if err := h.db.Model(&models.User{ID: userID}).Updates(updates).Error; err != nil {
			h.logger.Error("updating profile failed", zap.Uint("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
			return
		}
	}

	// Reload user
	if err := h.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, auth.NewUserResponse(user))
}

// ChangePassword sets a new password after checking the current one
// @Summary Change password
// @Tags account
// @Accept json
// @Produce json
// @Param request body ChangePasswordRequest true "Passwords"
// @Success 200 {object} map[string]string
// @Failure 400 {object} validation.Error
// @Failure 401 {object} map[string]string "Current password is incorrect"
// @Security BearerAuth
// @Router /account/password [put]
func (h *Handler) ChangePassword(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.Respond(c, err)
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if user.PasswordHash != "" && !auth.CheckPassword(req.CurrentPassword, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}
	if err := h.db.Model(&user).Update("password_hash", hash).Error; err != nil {
		h.logger.Error("changing password failed", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}

	h.logger.Info("password changed", zap.Uint("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
}

// RegisterRoutes registers account routes. The group must require a
// session; password changes are throttled like logins.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, throttle ...gin.HandlerFunc) {
	rg.GET("/account/stats", h.GetStats)
	rg.PATCH("/account", h.UpdateProfile)
	rg.PUT("/account/password", append(throttle, h.ChangePassword)...)
}
