package importexport

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/bookmarks"
	"github.com/mikepea/nookmark/pkg/nookmark/validation"
	"go.uber.org/zap"
)

const (
	// MaxImport caps the number of bookmarks accepted in one import
	MaxImport = 10000
	// MaxImportBytes caps the size of an import request body
	MaxImportBytes = 32 << 20
)

// Handler handles import/export requests
type Handler struct {
	svc       *bookmarks.Service
	validator *validation.Validator
	logger    *zap.Logger
	maxBytes  int64
}

// NewHandler creates a new import/export handler
func NewHandler(svc *bookmarks.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, validator: validation.New(), logger: logger, maxBytes: MaxImportBytes}
}

// PinboardBookmark represents a bookmark in Pinboard JSON format
type PinboardBookmark struct {
	Href        string `json:"href"`
	Description string `json:"description"`
	Extended    string `json:"extended"`
	Tags        string `json:"tags"`
	Time        string `json:"time"`
	Shared      string `json:"shared"`
	ToRead      string `json:"toread"`
	Meta        string `json:"meta,omitempty"`
	Hash        string `json:"hash,omitempty"`
}

// ImportRequest wraps the bookmarks to import. A bare Pinboard array is
// accepted as well.
type ImportRequest struct {
	Bookmarks []PinboardBookmark `json:"bookmarks"`
}

// ImportResult represents the result of an import operation
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// importItem is a Pinboard entry mapped onto bookmark fields
type importItem struct {
	URL         string   `json:"href" validate:"required,url,max=2048"`
	Title       string   `json:"description" validate:"required,max=500"`
	Description string   `json:"extended" validate:"max=2000"`
	Tags        []string `json:"tags" validate:"max=20,dive,max=50"`
}

// Import imports bookmarks from Pinboard JSON format. Entries that fail
// validation or already exist are skipped and reported.
// @Summary Import bookmarks
// @Description Import bookmarks from a Pinboard JSON export
// @Tags import-export
// @Accept json
// @Produce json
// @Param request body ImportRequest true "Bookmarks to import"
// @Success 200 {object} ImportResult
// @Failure 400 {object} map[string]string
// @Failure 413 {object} map[string]string
// @Security BearerAuth
// @Router /import [post]
func (h *Handler) Import(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	body, err := c.GetRawData()
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Import too large"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	entries, msg := decodeImport(body)
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	result := ImportResult{Errors: []string{}}
	skip := func(i int, reason string) {
		result.Errors = append(result.Errors, "bookmark "+strconv.Itoa(i)+": "+reason)
		result.Skipped++
	}

	for i, entry := range entries {
		item := importItem{
			URL:         strings.TrimSpace(entry.Href),
			Title:       strings.TrimSpace(entry.Description),
			Description: strings.TrimSpace(entry.Extended),
			Tags:        bookmarks.ParseTags(entry.Tags),
		}
		if item.Title == "" {
			item.Title = item.URL
		}
		if err := h.validator.Validate(item); err != nil {
			skip(i, err.Error())
			continue
		}

		var createdAt *time.Time
		if entry.Time != "" {
			parsed, err := time.Parse(time.RFC3339, entry.Time)
			if err != nil {
				skip(i, "invalid time format")
				continue
			}
			createdAt = &parsed
		}

		_, err := h.svc.Create(c.Request.Context(), bookmarks.CreateParams{
			UserID:      userID,
			URL:         item.URL,
			Title:       item.Title,
			Description: item.Description,
			Tags:        item.Tags,
			CreatedAt:   createdAt,
		})
		if errors.Is(err, bookmarks.ErrDuplicate) {
			skip(i, "already exists")
			continue
		}
		if err != nil {
			h.logger.Error("import failed", zap.Int("index", i), zap.Error(err))
			skip(i, "failed to save")
			continue
		}
		result.Imported++
	}

	h.logger.Info("bookmarks imported",
		zap.Uint("user_id", userID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	c.JSON(http.StatusOK, result)
}

// decodeImport returns the entries in body, or a message for the client
func decodeImport(body []byte) ([]PinboardBookmark, string) {
	body = bytes.TrimSpace(body)

	var entries []PinboardBookmark
	var err error
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &entries)
	} else {
		var req ImportRequest
		err = json.Unmarshal(body, &req)
		entries = req.Bookmarks
	}
	switch {
	case err != nil:
		return nil, "Invalid request body"
	case len(entries) == 0:
		return nil, "No bookmarks to import"
	case len(entries) > MaxImport:
		return nil, "Too many bookmarks, the limit is " + strconv.Itoa(MaxImport)
	}
	return entries, ""
}

// toPinboard converts a bookmark for export. Sharing and read-later state
// are not tracked, so both are always "no".
func toPinboard(item bookmarks.Item) PinboardBookmark {
	extended := ""
	if item.Description != nil {
		extended = *item.Description
	}
	return PinboardBookmark{
		Href:        item.URL,
		Description: item.Title,
		Extended:    extended,
		Tags:        strings.Join(item.Tags, " "),
		Time:        item.CreatedAt.UTC().Format(time.RFC3339),
		Shared:      "no",
		ToRead:      "no",
	}
}

// Export exports all of the user's bookmarks, newest first
// @Summary Export bookmarks
// @Description Export bookmarks in Pinboard JSON format
// @Tags import-export
// @Produce json
// @Param download query bool false "Send as an attachment"
// @Success 200 {array} PinboardBookmark
// @Security BearerAuth
// @Router /export [get]
func (h *Handler) Export(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	items, err := h.svc.ListAll(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("export failed", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch bookmarks"})
		return
	}

	out := make([]PinboardBookmark, len(items))
	for i := range items {
		out[len(items)-1-i] = toPinboard(items[i])
	}

	if c.Query("download") == "true" {
		c.Header("Content-Disposition", "attachment; filename=nookmark-export.json")
	}
	c.JSON(http.StatusOK, out)
}

// ExportSingle exports one bookmark in Pinboard JSON format
// @Summary Export a bookmark
// @Tags import-export
// @Produce json
// @Param id path string true "Bookmark ID"
// @Success 200 {object} PinboardBookmark
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /export/{id} [get]
func (h *Handler) ExportSingle(c *gin.Context) {
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
	c.JSON(http.StatusOK, toPinboard(*item))
}

// RegisterRoutes registers import/export routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/import", h.Import)
	rg.GET("/export", h.Export)
	rg.GET("/export/:id", h.ExportSingle)
}
