package bookmarks

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/validation"
	"go.uber.org/zap"
)

// Handler handles bookmark requests
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a new bookmarks handler
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// CreateBookmarkRequest represents the request to create a bookmark
type CreateBookmarkRequest struct {
	URL         string   `json:"url" binding:"required,url,max=2048"`
	Title       string   `json:"title" binding:"required,max=500"`
	Description string   `json:"description" binding:"max=2000"`
	Favicon     string   `json:"favicon" binding:"omitempty,url,max=2048"`
	Starred     bool     `json:"starred"`
	Tags        []string `json:"tags" binding:"max=20,dive,max=50"`
}

// UpdateBookmarkRequest represents a partial update. Omitted fields are
// left alone; "tags": [] removes every tag.
type UpdateBookmarkRequest struct {
	Title       *string   `json:"title" binding:"omitempty,min=1,max=500"`
	Description *string   `json:"description" binding:"omitempty,max=2000"`
	Starred     *bool     `json:"starred"`
	Tags        *[]string `json:"tags" binding:"omitempty,max=20,dive,max=50"`
}

// BatchDeleteRequest lists bookmarks to delete
type BatchDeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,max=500,dive,uuid"`
}

// ListQuery holds the listing query parameters
type ListQuery struct {
	Search   string   `form:"search" json:"search"`
	Starred  bool     `form:"starred" json:"starred"`
	Archived *bool    `form:"archived" json:"archived"`
	Tag      []string `form:"tag" json:"tag"`
	Tags     string   `form:"tags" json:"tags"`
	Sort     string   `form:"sort" json:"sort" binding:"omitempty,oneof=created_at updated_at title createdAt updatedAt"`
	Order    string   `form:"order" json:"order" binding:"omitempty,oneof=asc desc"`
	Page     int      `form:"page" json:"page"`
	PageSize int      `form:"page_size" json:"page_size"`
}

// Options converts the query into service list options
func (q ListQuery) Options() ListOptions {
	sortBy, order := ParseSort(q.Sort, q.Order)
	tagNames := append([]string{}, q.Tag...)
	tagNames = append(tagNames, ParseTags(q.Tags)...)
	return ListOptions{
		Filters: Filters{
			Search:   q.Search,
			Starred:  q.Starred,
			Archived: q.Archived,
			Tags:     tagNames,
		},
		SortBy:   sortBy,
		Order:    order,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
}

// List returns a page of the user's bookmarks
// @Summary List bookmarks
// @Description Filter, sort and paginate the authenticated user's bookmarks
// @Tags bookmarks
// @Produce json
// @Param search query string false "Case-insensitive text in title, description or url"
// @Param starred query bool false "Only starred bookmarks"
// @Param archived query bool false "Archived (true) or unarchived (false); omit for both"
// @Param tag query []string false "Tag the bookmark must carry (repeatable)"
// @Param tags query string false "Space separated tags the bookmark must all carry"
// @Param sort query string false "created_at, updated_at or title"
// @Param order query string false "asc or desc"
// @Param page query int false "Page number, from 1"
// @Param page_size query int false "Items per page"
// @Success 200 {object} Page
// @Failure 400 {object} validation.Error
// @Security BearerAuth
// @Router /bookmarks [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		validation.Respond(c, err)
		return
	}

	page, err := h.svc.List(c.Request.Context(), userID, q.Options())
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Create saves a new bookmark
// @Summary Create a bookmark
// @Description Save a URL; unknown tag names are created
// @Tags bookmarks
// @Accept json
// @Produce json
// @Param request body CreateBookmarkRequest true "Bookmark"
// @Success 201 {object} Item
// @Failure 400 {object} validation.Error
// @Failure 409 {object} map[string]string "Bookmark already exists"
// @Security BearerAuth
// @Router /bookmarks [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateBookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.Respond(c, err)
		return
	}

	item, err := h.svc.Create(c.Request.Context(), CreateParams{
		UserID:      userID,
		URL:         strings.TrimSpace(req.URL),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Favicon:     req.Favicon,
		Starred:     req.Starred,
		Tags:        req.Tags,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// Get returns a single bookmark
// @Summary Get a bookmark
// @Tags bookmarks
// @Produce json
// @Param id path string true "Bookmark ID"
// @Success 200 {object} Item
// @Failure 400 {object} map[string]string "Invalid bookmark ID"
// @Failure 404 {object} map[string]string "Bookmark not found"
// @Security BearerAuth
// @Router /bookmarks/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := ParseID(c)
	if !ok {
		return
	}

	item, err := h.svc.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Update changes the given fields of a bookmark
// @Summary Update a bookmark
// @Description Partial update; a tags array replaces all tags
// @Tags bookmarks
// @Accept json
// @Produce json
// @Param id path string true "Bookmark ID"
// @Param request body UpdateBookmarkRequest true "Fields to change"
// @Success 200 {object} Item
// @Failure 400 {object} validation.Error
// @Failure 404 {object} map[string]string "Bookmark not found"
// @Security BearerAuth
// @Router /bookmarks/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := ParseID(c)
	if !ok {
		return
	}

	var req UpdateBookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.Respond(c, err)
		return
	}

	item, err := h.svc.Update(c.Request.Context(), id, userID, UpdateParams{
		Title:       req.Title,
		Description: req.Description,
		Starred:     req.Starred,
		Tags:        req.Tags,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Delete soft-deletes a bookmark
// @Summary Delete a bookmark
// @Tags bookmarks
// @Produce json
// @Param id path string true "Bookmark ID"
// @Success 200 {object} map[string]string "Bookmark deleted"
// @Failure 404 {object} map[string]string "Bookmark not found"
// @Security BearerAuth
// @Router /bookmarks/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := ParseID(c)
	if !ok {
		return
	}

	if err := h.svc.SoftDelete(c.Request.Context(), id, userID); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bookmark deleted"})
}

// ToggleStar flips the starred flag
// @Summary Toggle star
// @Tags bookmarks
// @Produce json
// @Param id path string true "Bookmark ID"
// @Success 200 {object} Item
// @Failure 404 {object} map[string]string "Bookmark not found"
// @Security BearerAuth
// @Router /bookmarks/{id}/star [post]
func (h *Handler) ToggleStar(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := ParseID(c)
	if !ok {
		return
	}

	item, err := h.svc.ToggleStar(c.Request.Context(), id, userID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// ToggleArchive archives or unarchives a bookmark
// @Summary Toggle archive
// @Tags bookmarks
// @Produce json
// @Param id path string true "Bookmark ID"
// @Success 200 {object} Item
// @Failure 404 {object} map[string]string "Bookmark not found"
// @Security BearerAuth
// @Router /bookmarks/{id}/archive [post]
func (h *Handler) ToggleArchive(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := ParseID(c)
	if !ok {
		return
	}

	item, err := h.svc.ToggleArchive(c.Request.Context(), id, userID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// BatchDelete soft-deletes several bookmarks at once
// @Summary Delete several bookmarks
// @Description Ids that are unknown or already deleted are skipped
// @Tags bookmarks
// @Accept json
// @Produce json
// @Param request body BatchDeleteRequest true "Bookmark IDs"
// @Success 200 {object} map[string]int "Number of bookmarks deleted"
// @Failure 400 {object} validation.Error
// @Security BearerAuth
// @Router /bookmarks/batch-delete [post]
func (h *Handler) BatchDelete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req BatchDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.Respond(c, err)
		return
	}

	n, err := h.svc.BatchSoftDelete(c.Request.Context(), req.IDs, userID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// RegisterRoutes registers bookmark routes on a group mounted at /bookmarks
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.POST("/actions", h.Action)
	rg.POST("/batch-delete", h.BatchDelete)
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id", h.Update)
	rg.DELETE("/:id", h.Delete)
	rg.POST("/:id/star", h.ToggleStar)
	rg.POST("/:id/archive", h.ToggleArchive)
}

// ParseID reads the :id path parameter, answering 400 when it is not a
// UUID
func ParseID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bookmark ID"})
		return "", false
	}
	return id, true
}

// RespondError writes the status and message ErrorStatus picks for err,
// logging unexpected failures
func RespondError(c *gin.Context, logger *zap.Logger, err error) {
	status, msg := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("bookmark request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": msg})
}

// ErrorStatus maps service errors to an HTTP status and client message
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict, "Bookmark already exists"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Bookmark not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
