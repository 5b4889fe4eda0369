package tags

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/bookmarks"
	"github.com/mikepea/nookmark/pkg/nookmark/validation"
	"go.uber.org/zap"
)

// Handler handles tag-related requests
type Handler struct {
	svc          *bookmarks.Service
	summaryLimit int
	logger       *zap.Logger
}

// NewHandler creates a new tags handler. summaryLimit caps the list
// returned for ?summary=true.
func NewHandler(svc *bookmarks.Service, summaryLimit int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, summaryLimit: summaryLimit, logger: logger}
}

// SetTagsRequest represents the request to set tags on a bookmark
type SetTagsRequest struct {
	Tags []string `json:"tags" binding:"required,max=20,dive,max=50"`
}

// TagsResponse lists the tag names of a bookmark
type TagsResponse struct {
	Tags []string `json:"tags"`
}

// List returns the user's tags with usage counts, most used first
// @Summary List tags
// @Description All tags of the user with the number of bookmarks carrying each
// @Tags tags
// @Produce json
// @Param summary query bool false "Only return the most used tags"
// @Success 200 {array} bookmarks.TagCount
// @Security BearerAuth
// @Router /tags [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	tags, err := h.svc.ListUserTags(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("listing tags failed", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tags"})
		return
	}

	if c.Query("summary") == "true" && h.summaryLimit > 0 && len(tags) > h.summaryLimit {
		tags = tags[:h.summaryLimit]
	}
	c.JSON(http.StatusOK, tags)
}

// GetBookmarkTags returns the tags of a bookmark
// @Summary Get tags for a bookmark
// @Tags tags
// @Produce json
// @Param id path string true "Bookmark ID"
// @Success 200 {object} TagsResponse
// @Failure 404 {object} map[string]string "Bookmark not found"
// @Security BearerAuth
// @Router /bookmarks/{id}/tags [get]
func (h *Handler) GetBookmarkTags(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := bookmarks.ParseID(c)
	if !ok {
		return
	}

	item, err := h.svc.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		bookmarks.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, TagsResponse{Tags: item.Tags})
}

// SetBookmarkTags replaces all tags on a bookmark
// @Summary Set tags for a bookmark
// @Description Replace all tags on a bookmark; unknown names are created
// @Tags tags
// @Accept json
// @Produce json
// @Param id path string true "Bookmark ID"
// @Param request body SetTagsRequest true "Tag names"
// @Success 200 {object} TagsResponse
// @Failure 400 {object} validation.Error
// @Failure 404 {object} map[string]string "Bookmark not found"
// @Security BearerAuth
// @Router /bookmarks/{id}/tags [put]
func (h *Handler) SetBookmarkTags(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := bookmarks.ParseID(c)
	if !ok {
		return
	}

	var req SetTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.Respond(c, err)
		return
	}

	item, err := h.svc.Update(c.Request.Context(), id, userID, bookmarks.UpdateParams{Tags: &req.Tags})
	if err != nil {
		bookmarks.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, TagsResponse{Tags: item.Tags})
}

// RegisterRoutes registers tag routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tags", h.List)
	rg.GET("/bookmarks/:id/tags", h.GetBookmarkTags)
	rg.PUT("/bookmarks/:id/tags", h.SetBookmarkTags)
}
