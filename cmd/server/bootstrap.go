package main

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/calebrow/notifyd/internal/api"
	"github.com/calebrow/notifyd/internal/app"
	"github.com/calebrow/notifyd/internal/app/maintenance"
	"github.com/calebrow/notifyd/internal/database"
	"github.com/calebrow/notifyd/internal/push"
	"github.com/calebrow/notifyd/internal/realtime"
	"github.com/calebrow/notifyd/internal/services"
	"github.com/calebrow/notifyd/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Broker   *realtime.Broker
	Engine   *push.Engine
	Dispatch *services.DispatchService
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, push transports, services, and
// the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Broker = realtime.NewBroker()

	directory, err := services.NewDirectoryService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise directory service: %w", err)
	}

	var web, apple push.Transport
	if t := push.NewWebPushTransport(push.WebPushConfig{
		PublicKey:  cfg.Push.WebPush.PublicKey,
		PrivateKey: cfg.Push.WebPush.PrivateKey,
		Subject:    cfg.Push.WebPush.Subject,
		TTL:        cfg.Push.WebPush.TTL,
	}); t != nil {
		web = t
		log.Info("web push transport enabled")
	} else {
		log.Warn("web push transport disabled: VAPID keys not configured")
	}

	apnsTransport, err := push.NewAPNsTransport(push.APNsConfig{
		Enabled:     cfg.Push.APNs.Enabled,
		KeyID:       cfg.Push.APNs.KeyID,
		TeamID:      cfg.Push.APNs.TeamID,
		KeyPath:     cfg.Push.APNs.KeyPath,
		BundleID:    cfg.Push.APNs.BundleID,
		Environment: cfg.Push.APNs.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise apns transport: %w", err)
	}
	if apnsTransport != nil {
		apple = apnsTransport
		log.Info("apns transport enabled", zap.String("environment", cfg.Push.APNs.Environment))
	}

	stack.Engine, err = push.NewEngine(stack.DB, directory,
		push.WithTransports(web, apple),
		push.WithDefaultIcon(cfg.Push.DefaultIcon),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise push engine: %w", err)
	}

	stack.Dispatch, err = services.NewDispatchService(stack.DB, stack.Broker,
		services.WithDeliverer(stack.Engine),
		services.WithDefaultExpiry(cfg.Retention.DefaultExpiryDays),
		services.WithFanOutTimeout(cfg.Push.FanOutTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise dispatch service: %w", err)
	}

	if cfg.Retention.Enabled {
		retentionSvc, retErr := services.NewRetentionService(stack.DB)
		if retErr != nil {
			return nil, fmt.Errorf("initialise retention service: %w", retErr)
		}
		subscriptionSvc, subErr := services.NewSubscriptionService(stack.DB)
		if subErr != nil {
			return nil, fmt.Errorf("initialise subscription service: %w", subErr)
		}

		stack.Cleaner = maintenance.NewCleaner(retentionSvc, subscriptionSvc,
			maintenance.WithNotificationRetention(cfg.Retention.ArchivedDays, cfg.Retention.ReadDays),
			maintenance.WithSubscriptionRetention(cfg.Retention.SubscriptionInactiveDays, cfg.Retention.SubscriptionUnusedDays),
			maintenance.WithNotificationSchedule(cfg.Retention.Schedule),
			maintenance.WithSubscriptionSchedule(cfg.Retention.Schedule),
		)
	}

	stack.Router, err = api.NewRouter(stack.DB, cfg, stack.Broker, stack.Dispatch)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	return stack, nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database close skipped", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}
