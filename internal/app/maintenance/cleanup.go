package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/calebrow/notifyd/internal/services"
	"github.com/calebrow/notifyd/pkg/logger"
)

const (
	defaultArchivedRetentionDays     = 90
	defaultReadRetentionDays         = 60
	defaultSubscriptionInactiveDays  = 90
	defaultSubscriptionUnusedDays    = 180
	defaultNotificationSpec          = "@daily"
	defaultSubscriptionSpec          = "@daily"
)

// Cleaner coordinates background maintenance: purging expired and stale
// notifications, and pruning dead push subscriptions.
type Cleaner struct {
	retention     *services.RetentionService
	subscriptions *services.SubscriptionService
	cron          *cron.Cron
	now           func() time.Time
	log           *zap.Logger
	enabled       bool

	archivedDays int
	readDays     int
	inactiveDays int
	unusedDays   int

	notificationSchedule string
	subscriptionSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithNotificationRetention adjusts the age thresholds for archived and read
// notification sweeps.
func WithNotificationRetention(archivedDays, readDays int) Option {
	return func(cleaner *Cleaner) {
		if archivedDays > 0 {
			cleaner.archivedDays = archivedDays
		}
		if readDays > 0 {
			cleaner.readDays = readDays
		}
	}
}

// WithSubscriptionRetention adjusts the age thresholds for the subscription
// table sweep.
func WithSubscriptionRetention(inactiveDays, unusedDays int) Option {
	return func(cleaner *Cleaner) {
		if inactiveDays > 0 {
			cleaner.inactiveDays = inactiveDays
		}
		if unusedDays > 0 {
			cleaner.unusedDays = unusedDays
		}
	}
}

// WithNotificationSchedule overrides the cron specification for notification cleanup.
func WithNotificationSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.notificationSchedule = spec
		}
	}
}

// WithSubscriptionSchedule overrides the cron specification for subscription cleanup.
func WithSubscriptionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.subscriptionSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding cleanup job being skipped.
func NewCleaner(retention *services.RetentionService, subscriptions *services.SubscriptionService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		retention:            retention,
		subscriptions:        subscriptions,
		now:                  time.Now,
		archivedDays:         defaultArchivedRetentionDays,
		readDays:             defaultReadRetentionDays,
		inactiveDays:         defaultSubscriptionInactiveDays,
		unusedDays:           defaultSubscriptionUnusedDays,
		notificationSchedule: defaultNotificationSpec,
		subscriptionSchedule: defaultSubscriptionSpec,
		log:                  logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.retention != nil || cleaner.subscriptions != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at
// least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.retention != nil {
		if _, err := c.cron.AddFunc(c.notificationSchedule, func() {
			ctx := context.Background()
			result, err := c.retention.RunFullCleanup(ctx, c.archivedAge(), c.readAge())
			if err != nil {
				c.log.Warn("notification cleanup failed", zap.Error(err))
			}
			if result.Total > 0 {
				c.log.Info("notification cleanup completed",
					zap.Int64("expired", result.Expired),
					zap.Int64("stale_archived", result.StaleArchived),
					zap.Int64("stale_read", result.StaleRead))
			}
		}); err != nil {
			return err
		}
	}

	if c.subscriptions != nil {
		if _, err := c.cron.AddFunc(c.subscriptionSchedule, func() {
			ctx := context.Background()
			if _, err := c.subscriptions.CleanupStale(ctx, c.inactiveAge(), c.unusedAge()); err != nil {
				c.log.Warn("subscription cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.retention != nil {
		if _, err := c.retention.RunFullCleanup(ctx, c.archivedAge(), c.readAge()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.subscriptions != nil {
		if _, err := c.subscriptions.CleanupStale(ctx, c.inactiveAge(), c.unusedAge()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) archivedAge() time.Duration {
	return time.Duration(c.archivedDays) * 24 * time.Hour
}

func (c *Cleaner) readAge() time.Duration {
	return time.Duration(c.readDays) * 24 * time.Hour
}

func (c *Cleaner) inactiveAge() time.Duration {
	return time.Duration(c.inactiveDays) * 24 * time.Hour
}

func (c *Cleaner) unusedAge() time.Duration {
	return time.Duration(c.unusedDays) * 24 * time.Hour
}
