package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/models"
	"github.com/calebrow/notifyd/pkg/logger"
	"github.com/calebrow/notifyd/pkg/metrics"
)

// Default retention ages for the time-based purges.
const (
	DefaultArchivedRetention = 90 * 24 * time.Hour
	DefaultReadRetention     = 60 * 24 * time.Hour
)

// CleanupResult reports per-category and total purge counts.
type CleanupResult struct {
	Expired       int64 `json:"expired"`
	StaleArchived int64 `json:"stale_archived"`
	StaleRead     int64 `json:"stale_read"`
	Total         int64 `json:"total"`
}

// RetentionStats gives operational visibility into the notification table.
type RetentionStats struct {
	Total          int64 `json:"total"`
	Unread         int64 `json:"unread"`
	Archived       int64 `json:"archived"`
	ExpiredPending int64 `json:"expired_pending"`
}

// RetentionService purges expired, stale-archived, and stale-read
// notifications. Every filter is monotonic on createdAt/expiresAt, so runs
// are idempotent and safe to execute concurrently: new rows can never be
// swept by an in-flight purge.
type RetentionService struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// RetentionOption customises the RetentionService.
type RetentionOption func(*RetentionService)

// WithRetentionClock overrides the clock, primarily for testing.
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(s *RetentionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRetentionService constructs a RetentionService.
func NewRetentionService(db *gorm.DB, opts ...RetentionOption) (*RetentionService, error) {
	if db == nil {
		return nil, errors.New("retention service: db is required")
	}

	svc := &RetentionService{
		db:  db,
		now: time.Now,
		log: logger.WithModule("retention"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CleanupExpired deletes every notification whose expiry is at or before now.
func (s *RetentionService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.purge("expired", s.db.WithContext(ensureContext(ctx)).
		Where("expires_at <= ?", s.now().UTC()))
}

// CleanupStaleArchived deletes archived notifications older than age.
func (s *RetentionService) CleanupStaleArchived(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		age = DefaultArchivedRetention
	}
	return s.purge("stale_archived", s.db.WithContext(ensureContext(ctx)).
		Where("is_archived = ? AND created_at < ?", true, s.now().UTC().Add(-age)))
}

// CleanupStaleRead deletes read, unarchived notifications older than age.
func (s *RetentionService) CleanupStaleRead(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		age = DefaultReadRetention
	}
	return s.purge("stale_read", s.db.WithContext(ensureContext(ctx)).
		Where("is_un_read = ? AND is_archived = ? AND created_at < ?", false, false, s.now().UTC().Add(-age)))
}

// RunFullCleanup executes all three purges. Categories are independent: a
// failure in one is collected and the others still run.
func (s *RetentionService) RunFullCleanup(ctx context.Context, archivedAge, readAge time.Duration) (CleanupResult, error) {
	var (
		result  CleanupResult
		failure error
	)

	expired, err := s.CleanupExpired(ctx)
	failure = multierr.Append(failure, err)
	result.Expired = expired

	archived, err := s.CleanupStaleArchived(ctx, archivedAge)
	failure = multierr.Append(failure, err)
	result.StaleArchived = archived

	read, err := s.CleanupStaleRead(ctx, readAge)
	failure = multierr.Append(failure, err)
	result.StaleRead = read

	result.Total = result.Expired + result.StaleArchived + result.StaleRead

	if result.Total > 0 {
		s.log.Info("retention cleanup finished",
			zap.Int64("expired", result.Expired),
			zap.Int64("stale_archived", result.StaleArchived),
			zap.Int64("stale_read", result.StaleRead))
	}
	return result, failure
}

// Stats reports table-level counts for operational dashboards.
func (s *RetentionService) Stats(ctx context.Context) (RetentionStats, error) {
	ctx = ensureContext(ctx)
	var stats RetentionStats

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.Total, s.db.WithContext(ctx).Model(&models.Notification{})},
		{&stats.Unread, s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("is_un_read = ?", true)},
		{&stats.Archived, s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("is_archived = ?", true)},
		{&stats.ExpiredPending, s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("expires_at <= ?", s.now().UTC())},
	}

	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return RetentionStats{}, fmt.Errorf("retention service: stats: %w", err)
		}
	}
	return stats, nil
}

func (s *RetentionService) purge(category string, q *gorm.DB) (int64, error) {
	result := q.Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("retention service: purge %s: %w", category, result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.CleanupDeleted.WithLabelValues(category).Add(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}
