package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/middleware"
	"github.com/calebrow/notifyd/internal/realtime"
	"github.com/calebrow/notifyd/internal/services"
	"github.com/calebrow/notifyd/pkg/errors"
	"github.com/calebrow/notifyd/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for a recipient's notification view.
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(db *gorm.DB, broker *realtime.Broker) (*NotificationHandler, error) {
	service, err := services.NewNotificationService(db, broker)
	if err != nil {
		return nil, err
	}
	return &NotificationHandler{service: service}, nil
}

// targetFromRequest derives the notification target from the query string.
// team_id and super_role select shared views; otherwise the caller's own
// user-scoped view is used.
func targetFromRequest(c *gin.Context) (services.Target, bool) {
	if teamID := strings.TrimSpace(c.Query("team_id")); teamID != "" {
		return services.Target{TeamID: teamID}, true
	}
	if role := strings.TrimSpace(c.Query("super_role")); role != "" {
		return services.Target{SuperRole: role}, true
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return services.Target{}, false
	}
	return services.Target{UserID: userID}, true
}

// List returns notifications for the requested target.
func (h *NotificationHandler) List(c *gin.Context) {
	target, ok := targetFromRequest(c)
	if !ok {
		return
	}

	input := services.ListNotificationsInput{
		Target:       target,
		UnreadOnly:   c.Query("unread_only") == "true",
		ArchivedOnly: c.Query("archived_only") == "true",
		Type:         strings.TrimSpace(c.Query("type")),
		Limit:        parseIntQuery(c, "limit", 25),
		Offset:       parseIntQuery(c, "offset", 0),
	}

	if raw := strings.TrimSpace(c.Query("created_after")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, errors.NewBadRequest("created_after must be RFC 3339"))
			return
		}
		input.CreatedAfter = &ts
	}
	if raw := strings.TrimSpace(c.Query("created_until")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, errors.NewBadRequest("created_until must be RFC 3339"))
			return
		}
		input.CreatedUntil = &ts
	}

	items, total, err := h.service.List(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Limit:  input.Limit,
		Offset: input.Offset,
		Total:  total,
	})
}

// Get returns a single notification by id.
func (h *NotificationHandler) Get(c *gin.Context) {
	dto, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// MarkRead toggles a notification to read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	h.mutate(c, h.service.MarkRead)
}

// MarkUnread toggles a notification to unread.
func (h *NotificationHandler) MarkUnread(c *gin.Context) {
	h.mutate(c, h.service.MarkUnread)
}

// Archive moves a notification out of the active view.
func (h *NotificationHandler) Archive(c *gin.Context) {
	h.mutate(c, h.service.Archive)
}

// Unarchive restores an archived notification.
func (h *NotificationHandler) Unarchive(c *gin.Context) {
	h.mutate(c, h.service.Unarchive)
}

func (h *NotificationHandler) mutate(c *gin.Context, op func(ctx context.Context, id string) (*services.NotificationDTO, error)) {
	dto, err := op(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// MarkAllRead flips every unread notification of the target to read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	target, ok := targetFromRequest(c)
	if !ok {
		return
	}

	updated, err := h.service.MarkAllRead(c.Request.Context(), target)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

// Delete removes a notification.
func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// UnreadCount returns the badge count for the target.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	target, ok := targetFromRequest(c)
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), target)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"count": count})
}
