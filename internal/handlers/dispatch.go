package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calebrow/notifyd/internal/services"
	"github.com/calebrow/notifyd/pkg/response"
)

// DispatchHandler exposes the internal notification submission endpoints.
type DispatchHandler struct {
	service *services.DispatchService
}

// NewDispatchHandler constructs a dispatch handler around an existing service.
func NewDispatchHandler(service *services.DispatchService) *DispatchHandler {
	return &DispatchHandler{service: service}
}

type dispatchPayload struct {
	Type      string         `json:"type" validate:"required"`
	Scope     string         `json:"scope" validate:"required,oneof=user team super"`
	UserID    string         `json:"user_id"`
	TeamID    string         `json:"team_id"`
	SuperRole string         `json:"super_role"`
	Title     string         `json:"title" validate:"required,max=512"`
	Category  string         `json:"category" validate:"max=128"`
	AvatarURL string         `json:"avatar_url" validate:"omitempty,max=1024"`
	Metadata  map[string]any `json:"metadata"`

	ExpiresInDays int `json:"expires_in_days" validate:"omitempty,min=1,max=3650"`
}

func (p dispatchPayload) toInput() services.DispatchInput {
	return services.DispatchInput{
		Type:          p.Type,
		Scope:         p.Scope,
		UserID:        p.UserID,
		TeamID:        p.TeamID,
		SuperRole:     p.SuperRole,
		Title:         p.Title,
		Category:      p.Category,
		AvatarURL:     p.AvatarURL,
		Metadata:      p.Metadata,
		ExpiresInDays: p.ExpiresInDays,
	}
}

// Dispatch validates, persists, and fans out a single notification.
func (h *DispatchHandler) Dispatch(c *gin.Context) {
	var payload dispatchPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	dto, err := h.service.Dispatch(c.Request.Context(), payload.toInput())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, dto)
}

type batchResult struct {
	Succeeded []services.NotificationDTO `json:"succeeded"`
	Failed    []batchFailure             `json:"failed"`
}

type batchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// DispatchBatch submits several notifications in one call. Entries fail
// independently; the response reports both partitions.
func (h *DispatchHandler) DispatchBatch(c *gin.Context) {
	var payload struct {
		Notifications []dispatchPayload `json:"notifications" validate:"required,min=1,max=100,dive"`
	}
	if !bindAndValidate(c, &payload) {
		return
	}

	inputs := make([]services.DispatchInput, len(payload.Notifications))
	for i, entry := range payload.Notifications {
		inputs[i] = entry.toInput()
	}

	succeeded, failed := h.service.DispatchBatch(c.Request.Context(), inputs)

	result := batchResult{Succeeded: succeeded, Failed: make([]batchFailure, 0, len(failed))}
	for _, failure := range failed {
		result.Failed = append(result.Failed, batchFailure{Index: failure.Index, Error: failure.Err.Error()})
	}

	status := http.StatusCreated
	if len(succeeded) == 0 {
		status = http.StatusUnprocessableEntity
	} else if len(failed) > 0 {
		status = http.StatusMultiStatus
	}

	response.Success(c, status, result)
}
