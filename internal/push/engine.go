package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/models"
	"github.com/calebrow/notifyd/pkg/logger"
	"github.com/calebrow/notifyd/pkg/metrics"
)

// Directory resolves recipients for team and super scopes at delivery time.
type Directory interface {
	TeamMemberIDs(ctx context.Context, teamID string) ([]string, error)
	UserIDsWithRole(ctx context.Context, roles ...string) ([]string, error)
}

// DeliveryResult aggregates the outcome of one fan-out operation. It is
// advisory: a failed delivery never invalidates the stored notification.
type DeliveryResult struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

func (r *DeliveryResult) merge(other DeliveryResult) {
	r.Sent += other.Sent
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// Engine fans a notification out to every active subscription of every
// resolved recipient. Failures are isolated per subscription.
type Engine struct {
	db        *gorm.DB
	directory Directory
	web       Transport
	apple     Transport

	defaultIcon string
	now         func() time.Time
	log         *zap.Logger
}

// EngineOption customises the Engine.
type EngineOption func(*Engine)

// WithTransports overrides the transports, primarily for testing.
func WithTransports(web, apple Transport) EngineOption {
	return func(e *Engine) {
		e.web = web
		e.apple = apple
	}
}

// WithDefaultIcon sets the icon used when a notification has no avatar.
func WithDefaultIcon(icon string) EngineOption {
	return func(e *Engine) {
		if icon != "" {
			e.defaultIcon = icon
		}
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs a delivery engine.
func NewEngine(db *gorm.DB, directory Directory, opts ...EngineOption) (*Engine, error) {
	if db == nil {
		return nil, errors.New("push engine: db is required")
	}
	if directory == nil {
		return nil, errors.New("push engine: directory is required")
	}

	engine := &Engine{
		db:        db,
		directory: directory,
		now:       time.Now,
		log:       logger.WithModule("push"),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// DeliverNotification resolves recipients from the notification's scope and
// fans the push message out to each of them.
func (e *Engine) DeliverNotification(ctx context.Context, n *models.Notification) DeliveryResult {
	userIDs, err := e.resolveRecipients(ctx, n)
	if err != nil {
		e.log.Warn("recipient resolution failed",
			zap.String("notification_id", n.ID),
			zap.String("scope", n.Scope),
			zap.Error(err))
		return DeliveryResult{Failed: 0, Errors: []string{err.Error()}}
	}

	return e.DeliverToUsers(ctx, userIDs, n)
}

// DeliverToUsers fans out to each user independently and sums the aggregates.
// One user's failures never block delivery to the others.
func (e *Engine) DeliverToUsers(ctx context.Context, userIDs []string, n *models.Notification) DeliveryResult {
	var result DeliveryResult
	for _, userID := range userIDs {
		sub := e.DeliverToUser(ctx, userID, n)
		result.merge(sub)
	}
	return result
}

// DeliverToUser sends the notification to every active subscription of one
// user. All sends run concurrently; the call returns once every send has
// settled.
func (e *Engine) DeliverToUser(ctx context.Context, userID string, n *models.Notification) DeliveryResult {
	var subs []models.PushSubscription
	if err := e.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Find(&subs).Error; err != nil {
		return DeliveryResult{Errors: []string{fmt.Sprintf("load subscriptions for %s: %v", userID, err)}}
	}
	if len(subs) == 0 {
		return DeliveryResult{}
	}

	payload := BuildPayload(n, e.defaultIcon)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result DeliveryResult
	)

	for i := range subs {
		wg.Add(1)
		go func(sub *models.PushSubscription) {
			defer wg.Done()

			err := e.send(ctx, sub, payload)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Sent++
			case errors.Is(err, ErrEndpointGone):
				// Lifecycle event: the row was deactivated, not an error.
				result.Failed++
			default:
				result.Failed++
				result.Errors = append(result.Errors, err.Error())
			}
		}(&subs[i])
	}

	wg.Wait()
	return result
}

func (e *Engine) send(ctx context.Context, sub *models.PushSubscription, payload *Payload) error {
	transport := e.transportFor(sub)
	if transport == nil {
		metrics.PushSends.WithLabelValues(transportLabel(sub), "failed").Inc()
		return fmt.Errorf("no transport configured for device type %q", sub.DeviceType)
	}

	err := transport.Send(ctx, sub, payload)
	switch {
	case err == nil:
		metrics.PushSends.WithLabelValues(transport.Name(), "sent").Inc()
		e.touchSubscription(ctx, sub)
		return nil
	case errors.Is(err, ErrEndpointGone):
		metrics.PushSends.WithLabelValues(transport.Name(), "gone").Inc()
		e.deactivateSubscription(ctx, sub)
		return err
	default:
		metrics.PushSends.WithLabelValues(transport.Name(), "failed").Inc()
		e.log.Warn("push send failed",
			zap.String("transport", transport.Name()),
			zap.String("subscription_id", sub.ID),
			zap.Error(err))
		return err
	}
}

func (e *Engine) transportFor(sub *models.PushSubscription) Transport {
	if sub.UsesAppleTransport() {
		if e.apple == nil {
			return nil
		}
		return e.apple
	}
	if e.web == nil {
		return nil
	}
	return e.web
}

func (e *Engine) touchSubscription(ctx context.Context, sub *models.PushSubscription) {
	if err := e.db.WithContext(ctx).
		Model(&models.PushSubscription{}).
		Where("id = ?", sub.ID).
		Update("last_used_at", e.now().UTC()).Error; err != nil {
		e.log.Warn("update last_used_at failed", zap.String("subscription_id", sub.ID), zap.Error(err))
	}
}

func (e *Engine) deactivateSubscription(ctx context.Context, sub *models.PushSubscription) {
	if err := e.db.WithContext(ctx).
		Model(&models.PushSubscription{}).
		Where("id = ?", sub.ID).
		Update("is_active", false).Error; err != nil {
		e.log.Warn("deactivate subscription failed", zap.String("subscription_id", sub.ID), zap.Error(err))
		return
	}
	metrics.SubscriptionsDeactivated.Inc()
	e.log.Info("subscription deactivated after permanent rejection",
		zap.String("subscription_id", sub.ID),
		zap.String("endpoint", sub.Endpoint))
}

func (e *Engine) resolveRecipients(ctx context.Context, n *models.Notification) ([]string, error) {
	switch n.Scope {
	case models.ScopeUser:
		if n.UserID == nil || *n.UserID == "" {
			return nil, errors.New("user-scoped notification has no user id")
		}
		return []string{*n.UserID}, nil

	case models.ScopeTeam:
		if n.TeamID == nil || *n.TeamID == "" {
			return nil, errors.New("team-scoped notification has no team id")
		}
		// Roster is looked up at delivery time so membership changes between
		// creation and delivery are reflected.
		return e.directory.TeamMemberIDs(ctx, *n.TeamID)

	case models.ScopeSuper:
		// A populated super role restricts delivery to exactly that role;
		// an empty one broadcasts to every privileged role.
		if n.SuperRole != nil && *n.SuperRole != "" {
			return e.directory.UserIDsWithRole(ctx, *n.SuperRole)
		}
		return e.directory.UserIDsWithRole(ctx, models.SuperRoles...)

	default:
		return nil, fmt.Errorf("unknown notification scope %q", n.Scope)
	}
}

func transportLabel(sub *models.PushSubscription) string {
	if sub.UsesAppleTransport() {
		return "apns"
	}
	return "webpush"
}
