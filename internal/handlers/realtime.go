package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/calebrow/notifyd/internal/middleware"
	"github.com/calebrow/notifyd/internal/realtime"
	"github.com/calebrow/notifyd/pkg/errors"
	"github.com/calebrow/notifyd/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into WebSocket streams bound to
// the caller's notification channels.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Stream upgrades the request and subscribes it to the caller's own channel
// plus any team or super channels requested via the query string. Further
// channels can be added over the socket with subscribe control messages.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	channels := []string{realtime.UserChannel(userID)}
	for _, teamID := range c.QueryArray("team_id") {
		if teamID = strings.TrimSpace(teamID); teamID != "" {
			channels = append(channels, realtime.TeamChannel(teamID))
		}
	}
	for _, role := range c.QueryArray("super_role") {
		if role = strings.TrimSpace(role); role != "" {
			channels = append(channels, realtime.SuperChannel(role))
		}
	}

	h.hub.Serve(channels, c.Writer, c.Request)
}
