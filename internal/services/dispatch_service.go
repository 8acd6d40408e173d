package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/models"
	"github.com/calebrow/notifyd/internal/push"
	"github.com/calebrow/notifyd/internal/realtime"
	apperrors "github.com/calebrow/notifyd/pkg/errors"
	"github.com/calebrow/notifyd/pkg/logger"
	"github.com/calebrow/notifyd/pkg/metrics"
)

const (
	defaultExpiryDays    = 30
	defaultFanOutTimeout = 2 * time.Minute
)

// Deliverer fans a persisted notification out as push messages.
type Deliverer interface {
	DeliverNotification(ctx context.Context, n *models.Notification) push.DeliveryResult
}

// DispatchInput carries a notification request.
type DispatchInput struct {
	Type  string
	Scope string

	UserID    string
	TeamID    string
	SuperRole string

	Title     string
	Category  string
	AvatarURL string
	Metadata  map[string]any

	// ExpiresInDays overrides the process-wide default retention window.
	ExpiresInDays int
}

// BatchError pairs a failed batch entry with its input position.
type BatchError struct {
	Index int
	Err   error
}

func (e BatchError) Error() string {
	return fmt.Sprintf("entry %d: %v", e.Index, e.Err)
}

// DispatchService validates notification requests, persists them, and
// triggers live propagation plus detached push fan-out. The persistence write
// is the durability boundary: it either fully succeeds or the whole dispatch
// fails with nothing written.
type DispatchService struct {
	db        *gorm.DB
	broker    *realtime.Broker
	deliverer Deliverer

	expiryDays    int
	fanOutTimeout time.Duration
	now           func() time.Time
	log           *zap.Logger

	fanOut sync.WaitGroup
}

// DispatchOption customises the DispatchService.
type DispatchOption func(*DispatchService)

// WithDeliverer sets the push fan-out engine. Without one, dispatches persist
// and propagate but skip push delivery.
func WithDeliverer(d Deliverer) DispatchOption {
	return func(s *DispatchService) {
		s.deliverer = d
	}
}

// WithDefaultExpiry overrides the process-wide retention window in days.
func WithDefaultExpiry(days int) DispatchOption {
	return func(s *DispatchService) {
		if days > 0 {
			s.expiryDays = days
		}
	}
}

// WithFanOutTimeout bounds how long a detached fan-out may run.
func WithFanOutTimeout(timeout time.Duration) DispatchOption {
	return func(s *DispatchService) {
		if timeout > 0 {
			s.fanOutTimeout = timeout
		}
	}
}

// WithDispatchClock overrides the clock, primarily for testing.
func WithDispatchClock(now func() time.Time) DispatchOption {
	return func(s *DispatchService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDispatchService constructs a DispatchService.
func NewDispatchService(db *gorm.DB, broker *realtime.Broker, opts ...DispatchOption) (*DispatchService, error) {
	if db == nil {
		return nil, errors.New("dispatch service: db is required")
	}

	svc := &DispatchService{
		db:            db,
		broker:        broker,
		expiryDays:    defaultExpiryDays,
		fanOutTimeout: defaultFanOutTimeout,
		now:           time.Now,
		log:           logger.WithModule("dispatch"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Dispatch validates, persists, and propagates one notification. Push
// delivery is started after the write commits and is never awaited: its
// failures are logged and counted, never surfaced to the caller.
func (s *DispatchService) Dispatch(ctx context.Context, input DispatchInput) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	row, err := s.buildRow(input)
	if err != nil {
		metrics.Dispatches.WithLabelValues(defaultIfEmpty(input.Scope, "unknown"), "validation_error").Inc()
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		metrics.Dispatches.WithLabelValues(row.Scope, "store_error").Inc()
		return nil, fmt.Errorf("dispatch service: persist notification: %w", err)
	}
	metrics.Dispatches.WithLabelValues(row.Scope, "ok").Inc()

	s.broker.PublishFor(realtime.EventCreated, row)
	s.startFanOut(row)

	dto := mapNotification(*row)
	return &dto, nil
}

// DispatchBatch processes independent requests, returning the records that
// succeeded and an error per failed entry. One entry's failure never blocks
// the others.
func (s *DispatchService) DispatchBatch(ctx context.Context, inputs []DispatchInput) ([]NotificationDTO, []BatchError) {
	ctx = ensureContext(ctx)

	var (
		succeeded []NotificationDTO
		failed    []BatchError
	)
	for i, input := range inputs {
		dto, err := s.Dispatch(ctx, input)
		if err != nil {
			s.log.Warn("batch entry failed", zap.Int("index", i), zap.Error(err))
			failed = append(failed, BatchError{Index: i, Err: err})
			continue
		}
		succeeded = append(succeeded, *dto)
	}
	return succeeded, failed
}

// NotifyUser dispatches a user-scoped notification.
func (s *DispatchService) NotifyUser(ctx context.Context, userID string, input DispatchInput) (*NotificationDTO, error) {
	input.Scope = models.ScopeUser
	input.UserID = userID
	input.TeamID = ""
	input.SuperRole = ""
	return s.Dispatch(ctx, input)
}

// NotifyTeam dispatches a team-scoped notification.
func (s *DispatchService) NotifyTeam(ctx context.Context, teamID string, input DispatchInput) (*NotificationDTO, error) {
	input.Scope = models.ScopeTeam
	input.TeamID = teamID
	input.UserID = ""
	input.SuperRole = ""
	return s.Dispatch(ctx, input)
}

// NotifySuper dispatches a super-scoped notification to a privileged role.
func (s *DispatchService) NotifySuper(ctx context.Context, superRole string, input DispatchInput) (*NotificationDTO, error) {
	input.Scope = models.ScopeSuper
	input.SuperRole = superRole
	input.UserID = ""
	input.TeamID = ""
	return s.Dispatch(ctx, input)
}

// WaitForFanOut blocks until every detached fan-out has settled. Used by
// graceful shutdown and tests; request paths never call it.
func (s *DispatchService) WaitForFanOut() {
	s.fanOut.Wait()
}

func (s *DispatchService) buildRow(input DispatchInput) (*models.Notification, error) {
	notificationType := strings.TrimSpace(input.Type)
	if !models.IsValidType(notificationType) {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown notification type %q", input.Type))
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidation("title is required")
	}

	scope := strings.TrimSpace(strings.ToLower(input.Scope))
	userID := strings.TrimSpace(input.UserID)
	teamID := strings.TrimSpace(input.TeamID)
	superRole := strings.TrimSpace(input.SuperRole)

	row := &models.Notification{
		Type:     notificationType,
		Scope:    scope,
		Title:    title,
		Category: strings.TrimSpace(input.Category),

		AvatarURL: strings.TrimSpace(input.AvatarURL),
	}

	switch scope {
	case models.ScopeUser:
		if userID == "" {
			return nil, apperrors.NewValidation("scope=user requires a user id")
		}
		if teamID != "" || superRole != "" {
			return nil, apperrors.NewValidation("scope=user accepts only a user id target")
		}
		row.UserID = strPtr(userID)

	case models.ScopeTeam:
		if teamID == "" {
			return nil, apperrors.NewValidation("scope=team requires a team id")
		}
		if userID != "" || superRole != "" {
			return nil, apperrors.NewValidation("scope=team accepts only a team id target")
		}
		row.TeamID = strPtr(teamID)

	case models.ScopeSuper:
		if superRole == "" {
			return nil, apperrors.NewValidation("scope=super requires a super role")
		}
		if userID != "" || teamID != "" {
			return nil, apperrors.NewValidation("scope=super accepts only a super role target")
		}
		if !models.IsValidSuperRole(superRole) {
			return nil, apperrors.NewValidation(fmt.Sprintf("unknown super role %q", input.SuperRole))
		}
		row.SuperRole = strPtr(superRole)

	default:
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown scope %q", input.Scope))
	}

	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, apperrors.NewValidation("metadata is not serialisable")
		}
		row.Metadata = datatypes.JSON(data)
	}

	days := input.ExpiresInDays
	if days <= 0 {
		days = s.expiryDays
	}
	row.ExpiresAt = s.now().UTC().Add(time.Duration(days) * 24 * time.Hour)

	return row, nil
}

// startFanOut launches push delivery as a detached, best-effort task. It is
// never joined from the dispatch path and its errors stop here.
func (s *DispatchService) startFanOut(row *models.Notification) {
	if s.deliverer == nil {
		return
	}

	snapshot := *row
	s.fanOut.Add(1)
	go func() {
		defer s.fanOut.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("push fan-out panicked",
					zap.String("notification_id", snapshot.ID),
					zap.Any("panic", r))
			}
		}()

		// Detached from the request context: the caller returning must not
		// cancel delivery.
		ctx, cancel := context.WithTimeout(context.Background(), s.fanOutTimeout)
		defer cancel()

		result := s.deliverer.DeliverNotification(ctx, &snapshot)
		if result.Failed > 0 || len(result.Errors) > 0 {
			s.log.Warn("push fan-out finished with failures",
				zap.String("notification_id", snapshot.ID),
				zap.Int("sent", result.Sent),
				zap.Int("failed", result.Failed),
				zap.Strings("errors", result.Errors))
			return
		}
		s.log.Debug("push fan-out finished",
			zap.String("notification_id", snapshot.ID),
			zap.Int("sent", result.Sent))
	}()
}
