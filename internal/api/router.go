package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/app"
	"github.com/calebrow/notifyd/internal/handlers"
	"github.com/calebrow/notifyd/internal/middleware"
	"github.com/calebrow/notifyd/internal/realtime"
	"github.com/calebrow/notifyd/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers the API surface.
func NewRouter(db *gorm.DB, cfg *app.Config, broker *realtime.Broker, dispatch *services.DispatchService) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	retentionSvc, err := services.NewRetentionService(db)
	if err != nil {
		return nil, err
	}
	subscriptionSvc, err := services.NewSubscriptionService(db)
	if err != nil {
		return nil, err
	}

	notificationHandler, err := handlers.NewNotificationHandler(db, broker)
	if err != nil {
		return nil, err
	}
	subscriptionHandler, err := handlers.NewSubscriptionHandler(db)
	if err != nil {
		return nil, err
	}
	dispatchHandler := handlers.NewDispatchHandler(dispatch)
	maintenanceHandler := handlers.NewMaintenanceHandler(
		retentionSvc,
		subscriptionSvc,
		cfg.Retention.ArchivedDays,
		cfg.Retention.ReadDays,
		cfg.Retention.SubscriptionInactiveDays,
		cfg.Retention.SubscriptionUnusedDays,
	)

	api := r.Group("/api")
	api.Use(middleware.Identity())

	notifications := api.Group("/notifications")
	{
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread-count", notificationHandler.UnreadCount)
		notifications.GET("/:id", notificationHandler.Get)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/:id/unread", notificationHandler.MarkUnread)
		notifications.POST("/:id/archive", notificationHandler.Archive)
		notifications.POST("/:id/unarchive", notificationHandler.Unarchive)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
		notifications.DELETE("/:id", notificationHandler.Delete)
	}

	dispatchGroup := api.Group("/dispatch")
	{
		dispatchGroup.POST("", dispatchHandler.Dispatch)
		dispatchGroup.POST("/batch", dispatchHandler.DispatchBatch)
	}

	subscriptions := api.Group("/subscriptions")
	{
		subscriptions.GET("", subscriptionHandler.List)
		subscriptions.POST("/webpush", subscriptionHandler.SubscribeWebPush)
		subscriptions.POST("/apns", subscriptionHandler.SubscribeAPNs)
		subscriptions.POST("/unsubscribe", subscriptionHandler.Unsubscribe)
	}

	maintenance := api.Group("/maintenance")
	{
		maintenance.POST("/cleanup", maintenanceHandler.Cleanup)
		maintenance.GET("/stats", maintenanceHandler.Stats)
	}

	if cfg.Realtime.Enabled && broker != nil {
		hub := realtime.NewHub(broker)
		realtimeHandler := handlers.NewRealtimeHandler(hub)
		api.GET("/ws", realtimeHandler.Stream)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
