package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/middleware"
	"github.com/calebrow/notifyd/internal/services"
	"github.com/calebrow/notifyd/pkg/errors"
	"github.com/calebrow/notifyd/pkg/response"
)

// SubscriptionHandler manages push subscription registration for the caller.
type SubscriptionHandler struct {
	service *services.SubscriptionService
}

// NewSubscriptionHandler constructs a subscription handler.
func NewSubscriptionHandler(db *gorm.DB) (*SubscriptionHandler, error) {
	service, err := services.NewSubscriptionService(db)
	if err != nil {
		return nil, err
	}
	return &SubscriptionHandler{service: service}, nil
}

// SubscribeWebPush registers a browser push endpoint for the caller.
func (h *SubscriptionHandler) SubscribeWebPush(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var payload struct {
		Endpoint   string `json:"endpoint" validate:"required,url,max=512"`
		P256dh     string `json:"p256dh" validate:"required"`
		Auth       string `json:"auth" validate:"required"`
		DeviceType string `json:"device_type" validate:"omitempty,oneof=web android ios macos"`
	}
	if !bindAndValidate(c, &payload) {
		return
	}

	sub, err := h.service.SubscribeWebPush(c.Request.Context(), services.WebPushSubscribeInput{
		UserID:     userID,
		Endpoint:   payload.Endpoint,
		P256dh:     payload.P256dh,
		Auth:       payload.Auth,
		DeviceType: payload.DeviceType,
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, sub)
}

// SubscribeAPNs registers an Apple device token for the caller.
func (h *SubscriptionHandler) SubscribeAPNs(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var payload struct {
		Token       string `json:"token" validate:"required,max=512"`
		BundleID    string `json:"bundle_id" validate:"omitempty,max=256"`
		Environment string `json:"environment" validate:"omitempty,oneof=production development"`
		DeviceType  string `json:"device_type" validate:"omitempty,oneof=ios macos"`
	}
	if !bindAndValidate(c, &payload) {
		return
	}

	sub, err := h.service.SubscribeAPNs(c.Request.Context(), services.APNsSubscribeInput{
		UserID:      userID,
		Token:       payload.Token,
		BundleID:    payload.BundleID,
		Environment: payload.Environment,
		DeviceType:  payload.DeviceType,
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, sub)
}

// Unsubscribe deactivates the endpoint supplied in the payload.
func (h *SubscriptionHandler) Unsubscribe(c *gin.Context) {
	var payload struct {
		Endpoint string `json:"endpoint" validate:"required,max=512"`
	}
	if !bindAndValidate(c, &payload) {
		return
	}

	if err := h.service.Unsubscribe(c.Request.Context(), payload.Endpoint); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unsubscribed": true})
}

// List returns the caller's active subscriptions.
func (h *SubscriptionHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	subs, err := h.service.ListActive(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, subs)
}
