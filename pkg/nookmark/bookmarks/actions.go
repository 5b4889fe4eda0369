package bookmarks

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/validation"
	"go.uber.org/zap"
)

// Intents accepted by the action endpoint
const (
	IntentCreate        = "create"
	IntentUpdate        = "update"
	IntentDelete        = "delete"
	IntentToggleStar    = "toggleStar"
	IntentToggleArchive = "toggleArchive"
)

// ActionRequest is a form submission naming what to do through Intent.
// Tags is a whitespace separated string. For updates, a field that is
// absent is left alone while a present but empty description clears it.
type ActionRequest struct {
	Intent      string  `form:"intent" json:"intent" binding:"required,oneof=create update delete toggleStar toggleArchive"`
	BookmarkID  string  `form:"bookmarkId" json:"bookmarkId" binding:"omitempty,uuid"`
	URL         string  `form:"url" json:"url" binding:"omitempty,url,max=2048"`
	Title       *string `form:"title" json:"title" binding:"omitempty,max=500"`
	Description *string `form:"description" json:"description" binding:"omitempty,max=2000"`
	Tags        *string `form:"tags" json:"tags"`
}

// ActionResult is the outcome of an action
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Item    *Item  `json:"bookmark,omitempty"`
}

// Action dispatches a form-style submission on its intent field. Failures
// of the action itself are reported in the body with success=false.
// @Summary Perform a bookmark action
// @Description Form or JSON submission with intent create, update, delete, toggleStar or toggleArchive
// @Tags bookmarks
// @Accept x-www-form-urlencoded
// @Accept json
// @Produce json
// @Param request body ActionRequest true "Action"
// @Success 200 {object} ActionResult
// @Failure 400 {object} validation.Error
// @Security BearerAuth
// @Router /bookmarks/actions [post]
func (h *Handler) Action(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req ActionRequest
	if err := c.ShouldBind(&req); err != nil {
		validation.Respond(c, err)
		return
	}

	if req.Intent != IntentCreate && req.BookmarkID == "" {
		validation.Respond(c, &validation.Error{
			Message: "Validation failed",
			Fields:  map[string]string{"bookmarkId": "is required"},
		})
		return
	}

	result, err := h.perform(c, userID, req)
	if err != nil {
		status, msg := ErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("bookmark action failed",
				zap.String("intent", req.Intent),
				zap.Error(err),
			)
			msg = "Action failed"
		}
		c.JSON(http.StatusOK, ActionResult{Success: false, Message: msg})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) perform(c *gin.Context, userID uint, req ActionRequest) (ActionResult, error) {
	ctx := c.Request.Context()

	switch req.Intent {
	case IntentCreate:
		if req.URL == "" || req.Title == nil || strings.TrimSpace(*req.Title) == "" {
			return ActionResult{Success: false, Message: "URL and title are required"}, nil
		}
		p := CreateParams{
			UserID: userID,
			URL:    strings.TrimSpace(req.URL),
			Title:  strings.TrimSpace(*req.Title),
		}
		if req.Description != nil {
			p.Description = strings.TrimSpace(*req.Description)
		}
		if req.Tags != nil {
			p.Tags = ParseTags(*req.Tags)
		}
		item, err := h.svc.Create(ctx, p)
		if err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Success: true, Message: "Bookmark added successfully", Item: item}, nil

	case IntentUpdate:
		p := UpdateParams{Description: req.Description}
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return ActionResult{Success: false, Message: "Title cannot be empty"}, nil
			}
			p.Title = &title
		}
		if req.Tags != nil {
			names := ParseTags(*req.Tags)
			p.Tags = &names
		}
		item, err := h.svc.Update(ctx, req.BookmarkID, userID, p)
		if err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Success: true, Message: "Bookmark updated successfully", Item: item}, nil

	case IntentDelete:
		if err := h.svc.SoftDelete(ctx, req.BookmarkID, userID); err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Success: true, Message: "Bookmark deleted"}, nil

	case IntentToggleStar:
		item, err := h.svc.ToggleStar(ctx, req.BookmarkID, userID)
		if err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Success: true, Item: item}, nil

	case IntentToggleArchive:
		item, err := h.svc.ToggleArchive(ctx, req.BookmarkID, userID)
		if err != nil {
			return ActionResult{}, err
		}
		msg := "Bookmark restored"
		if item.Archived() {
			msg = "Bookmark archived"
		}
		return ActionResult{Success: true, Message: msg, Item: item}, nil
	}

	return ActionResult{Success: false, Message: "Unknown action"}, nil
}
