package preview

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves page previews for the add-bookmark form
type Handler struct {
	fetcher *Fetcher
	logger  *zap.Logger
}

// NewHandler creates a new preview handler
func NewHandler(fetcher *Fetcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{fetcher: fetcher, logger: logger}
}

// Get fetches metadata for the url query parameter
// @Summary Preview a page
// @Description Fetch a page's title, description and favicon
// @Tags bookmarks
// @Produce json
// @Param url query string true "Page URL"
// @Success 200 {object} Metadata
// @Failure 400 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Security BearerAuth
// @Router /bookmarks/preview [get]
func (h *Handler) Get(c *gin.Context) {
	target := c.Query("url")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	meta, err := h.fetcher.Fetch(c.Request.Context(), target)
	if errors.Is(err, ErrUnsupportedURL) || errors.Is(err, ErrBlockedAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid URL"})
		return
	}
	if err != nil {
		h.logger.Info("preview fetch failed", zap.String("url", target), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not fetch page"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// RegisterRoutes registers the preview route. Extra handlers (rate
// limiting) run before it.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, throttle ...gin.HandlerFunc) {
	rg.GET("/bookmarks/preview", append(throttle, h.Get)...)
}
