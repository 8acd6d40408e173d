package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/models"
	apperrors "github.com/calebrow/notifyd/pkg/errors"
	"github.com/calebrow/notifyd/pkg/logger"
)

// SubscriptionService manages push delivery endpoints: idempotent
// registration keyed by endpoint (or device token for Apple rows),
// deactivation, and hard cleanup of stale rows.
type SubscriptionService struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// SubscriptionOption customises the SubscriptionService.
type SubscriptionOption func(*SubscriptionService)

// WithSubscriptionClock overrides the clock, primarily for testing.
func WithSubscriptionClock(now func() time.Time) SubscriptionOption {
	return func(s *SubscriptionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSubscriptionService constructs a SubscriptionService.
func NewSubscriptionService(db *gorm.DB, opts ...SubscriptionOption) (*SubscriptionService, error) {
	if db == nil {
		return nil, errors.New("subscription service: db is required")
	}

	svc := &SubscriptionService{
		db:  db,
		now: time.Now,
		log: logger.WithModule("subscriptions"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// WebPushSubscribeInput carries a browser push registration.
type WebPushSubscribeInput struct {
	UserID     string
	Endpoint   string
	P256dh     string
	Auth       string
	DeviceType string
	UserAgent  string
}

// APNsSubscribeInput carries an Apple device registration.
type APNsSubscribeInput struct {
	UserID      string
	Token       string
	BundleID    string
	Environment string
	DeviceType  string
	UserAgent   string
}

// SubscribeWebPush registers a browser endpoint. Re-subscribing an existing
// endpoint reactivates it and refreshes its metadata instead of duplicating.
func (s *SubscriptionService) SubscribeWebPush(ctx context.Context, input WebPushSubscribeInput) (*models.PushSubscription, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	endpoint := strings.TrimSpace(input.Endpoint)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}
	if endpoint == "" || input.P256dh == "" || input.Auth == "" {
		return nil, apperrors.NewValidation("endpoint, p256dh, and auth are required")
	}

	deviceType := input.DeviceType
	if deviceType == "" {
		deviceType = DeviceTypeFromUserAgent(input.UserAgent)
	}

	return s.upsert(ctx, s.db.WithContext(ctx).Where("endpoint = ?", endpoint), models.PushSubscription{
		UserID:     userID,
		Endpoint:   endpoint,
		P256dh:     input.P256dh,
		Auth:       input.Auth,
		DeviceType: deviceType,
		UserAgent:  input.UserAgent,
	})
}

// SubscribeAPNs registers an Apple device token, keyed by (user, token). The
// stored endpoint is a synthetic unique key derived from the token.
func (s *SubscriptionService) SubscribeAPNs(ctx context.Context, input APNsSubscribeInput) (*models.PushSubscription, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	apnsToken := strings.TrimSpace(input.Token)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}
	if apnsToken == "" {
		return nil, apperrors.NewValidation("device token is required")
	}

	deviceType := input.DeviceType
	if deviceType == "" {
		deviceType = DeviceTypeFromUserAgent(input.UserAgent)
		if deviceType == models.DeviceWeb || deviceType == models.DeviceAndroid {
			deviceType = models.DeviceIOS
		}
	}

	return s.upsert(ctx, s.db.WithContext(ctx).Where("user_id = ? AND apns_token = ?", userID, apnsToken), models.PushSubscription{
		UserID:          userID,
		Endpoint:        "apns://" + apnsToken,
		APNsToken:       apnsToken,
		APNsBundleID:    input.BundleID,
		APNsEnvironment: defaultIfEmpty(input.Environment, "production"),
		DeviceType:      deviceType,
		UserAgent:       input.UserAgent,
	})
}

func (s *SubscriptionService) upsert(ctx context.Context, lookup *gorm.DB, attrs models.PushSubscription) (*models.PushSubscription, error) {
	now := s.now().UTC()

	var existing models.PushSubscription
	err := lookup.First(&existing).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"user_id":      attrs.UserID,
			"device_type":  attrs.DeviceType,
			"user_agent":   attrs.UserAgent,
			"is_active":    true,
			"last_used_at": now,
		}
		if attrs.P256dh != "" {
			updates["p256dh"] = attrs.P256dh
			updates["auth"] = attrs.Auth
		}
		if attrs.APNsToken != "" {
			updates["apns_bundle_id"] = attrs.APNsBundleID
			updates["apns_environment"] = attrs.APNsEnvironment
		}
		if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("subscription service: reactivate: %w", err)
		}
		return &existing, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		attrs.IsActive = true
		attrs.LastUsedAt = now
		if err := s.db.WithContext(ctx).Create(&attrs).Error; err != nil {
			return nil, fmt.Errorf("subscription service: create: %w", err)
		}
		return &attrs, nil

	default:
		return nil, fmt.Errorf("subscription service: lookup: %w", err)
	}
}

// Unsubscribe deactivates the subscription matching the endpoint. Unknown
// endpoints are ignored: removal is idempotent.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, endpoint string) error {
	ctx = ensureContext(ctx)
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return apperrors.NewValidation("endpoint is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.PushSubscription{}).
		Where("endpoint = ?", endpoint).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("subscription service: unsubscribe: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		s.log.Debug("unsubscribe for unknown endpoint", zap.String("endpoint", endpoint))
	}
	return nil
}

// ListActive returns the active subscriptions of a user.
func (s *SubscriptionService) ListActive(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}

	var subs []models.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("subscription service: list: %w", err)
	}
	return subs, nil
}

// CleanupStale hard-deletes rows that are inactive and untouched past
// inactiveAge, or unused past unusedAge regardless of the active flag. This
// bounds growth of the subscription table.
func (s *SubscriptionService) CleanupStale(ctx context.Context, inactiveAge, unusedAge time.Duration) (int64, error) {
	ctx = ensureContext(ctx)
	now := s.now().UTC()

	result := s.db.WithContext(ctx).
		Where("(is_active = ? AND updated_at < ?) OR last_used_at < ?",
			false, now.Add(-inactiveAge), now.Add(-unusedAge)).
		Delete(&models.PushSubscription{})
	if result.Error != nil {
		return 0, fmt.Errorf("subscription service: cleanup: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.Info("purged stale subscriptions", zap.Int64("deleted", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// DeviceTypeFromUserAgent infers the device type of a registration. iPhone
// user agents contain "like Mac OS X", so the iOS checks run first.
func DeviceTypeFromUserAgent(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return models.DeviceIOS
	case strings.Contains(ua, "mac os x"), strings.Contains(ua, "macintosh"):
		return models.DeviceMacOS
	case strings.Contains(ua, "android"):
		return models.DeviceAndroid
	default:
		return models.DeviceWeb
	}
}
