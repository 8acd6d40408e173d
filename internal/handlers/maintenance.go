package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/calebrow/notifyd/internal/services"
	"github.com/calebrow/notifyd/pkg/response"
)

// MaintenanceHandler exposes on-demand retention operations and table stats.
type MaintenanceHandler struct {
	retention     *services.RetentionService
	subscriptions *services.SubscriptionService

	archivedAge         time.Duration
	readAge             time.Duration
	subscriptionStale   time.Duration
	subscriptionDormant time.Duration
}

// NewMaintenanceHandler constructs a maintenance handler with the retention
// windows resolved from configuration.
func NewMaintenanceHandler(
	retention *services.RetentionService,
	subscriptions *services.SubscriptionService,
	archivedDays, readDays, subscriptionInactiveDays, subscriptionUnusedDays int,
) *MaintenanceHandler {
	day := 24 * time.Hour
	return &MaintenanceHandler{
		retention:           retention,
		subscriptions:       subscriptions,
		archivedAge:         time.Duration(archivedDays) * day,
		readAge:             time.Duration(readDays) * day,
		subscriptionStale:   time.Duration(subscriptionInactiveDays) * day,
		subscriptionDormant: time.Duration(subscriptionUnusedDays) * day,
	}
}

// Cleanup runs the full retention sweep immediately and reports per-category counts.
func (h *MaintenanceHandler) Cleanup(c *gin.Context) {
	result, err := h.retention.RunFullCleanup(c.Request.Context(), h.archivedAge, h.readAge)
	if err != nil {
		response.Error(c, err)
		return
	}

	subscriptionsDeleted, err := h.subscriptions.CleanupStale(c.Request.Context(), h.subscriptionStale, h.subscriptionDormant)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"notifications": result,
		"subscriptions": gin.H{"deleted": subscriptionsDeleted},
	})
}

// Stats reports notification table counts for dashboards.
func (h *MaintenanceHandler) Stats(c *gin.Context) {
	stats, err := h.retention.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}
