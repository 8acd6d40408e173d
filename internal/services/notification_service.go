package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/models"
	"github.com/calebrow/notifyd/internal/realtime"
	apperrors "github.com/calebrow/notifyd/pkg/errors"
)

// Target addresses a notification view: exactly one field is set.
type Target struct {
	UserID    string
	TeamID    string
	SuperRole string
}

// Scope returns the scope implied by the populated field, enforcing the
// exactly-one invariant.
func (t Target) Scope() (string, error) {
	set := 0
	scope := ""
	if strings.TrimSpace(t.UserID) != "" {
		set++
		scope = models.ScopeUser
	}
	if strings.TrimSpace(t.TeamID) != "" {
		set++
		scope = models.ScopeTeam
	}
	if strings.TrimSpace(t.SuperRole) != "" {
		set++
		scope = models.ScopeSuper
	}
	if set != 1 {
		return "", apperrors.NewValidation("exactly one of user id, team id, or super role must be set")
	}
	return scope, nil
}

func (t Target) apply(q *gorm.DB) (*gorm.DB, error) {
	scope, err := t.Scope()
	if err != nil {
		return nil, err
	}
	switch scope {
	case models.ScopeUser:
		return q.Where("scope = ? AND user_id = ?", models.ScopeUser, strings.TrimSpace(t.UserID)), nil
	case models.ScopeTeam:
		return q.Where("scope = ? AND team_id = ?", models.ScopeTeam, strings.TrimSpace(t.TeamID)), nil
	default:
		return q.Where("scope = ? AND super_role = ?", models.ScopeSuper, strings.TrimSpace(t.SuperRole)), nil
	}
}

// ListNotificationsInput defines filters for querying a recipient's view.
type ListNotificationsInput struct {
	Target Target

	UnreadOnly   bool
	ArchivedOnly bool
	Type         string
	CreatedAfter *time.Time
	CreatedUntil *time.Time

	Limit  int
	Offset int
}

// NotificationDTO is the API-friendly notification payload.
type NotificationDTO struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Scope      string               `json:"scope"`
	UserID     *string              `json:"user_id,omitempty"`
	TeamID     *string              `json:"team_id,omitempty"`
	SuperRole  *string              `json:"super_role,omitempty"`
	Title      string               `json:"title"`
	Category   string               `json:"category"`
	AvatarURL  string               `json:"avatar_url,omitempty"`
	Metadata   map[string]any       `json:"metadata,omitempty"`
	IsUnRead   bool                 `json:"is_unread"`
	IsArchived bool                 `json:"is_archived"`
	CreatedAt  time.Time            `json:"created_at"`
	ExpiresAt  time.Time            `json:"expires_at"`
	Raw        *models.Notification `json:"-"`
}

// NotificationService reads and mutates a recipient's notification view.
// Content never changes after creation; only the read and archive flags do.
type NotificationService struct {
	db     *gorm.DB
	broker *realtime.Broker
}

// NewNotificationService constructs a NotificationService. The broker may be
// nil; mutations then simply skip live propagation.
func NewNotificationService(db *gorm.DB, broker *realtime.Broker) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db, broker: broker}, nil
}

// List returns notifications for the target ordered by recency, plus the
// total count matching the filters.
func (s *NotificationService) List(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, int64, error) {
	ctx = ensureContext(ctx)

	q, err := input.Target.apply(s.db.WithContext(ctx).Model(&models.Notification{}))
	if err != nil {
		return nil, 0, err
	}

	if input.UnreadOnly {
		q = q.Where("is_un_read = ?", true)
	}
	if input.ArchivedOnly {
		q = q.Where("is_archived = ?", true)
	}
	if t := strings.TrimSpace(input.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if input.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *input.CreatedAfter)
	}
	if input.CreatedUntil != nil {
		q = q.Where("created_at <= ?", *input.CreatedUntil)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("notification service: count: %w", err)
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	var rows []models.Notification
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("notification service: list: %w", err)
	}

	return mapNotificationRows(rows), total, nil
}

// Get fetches a single notification by id.
func (s *NotificationService) Get(ctx context.Context, id string) (*NotificationDTO, error) {
	row, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapNotification(*row)
	return &dto, nil
}

// MarkRead clears the unread flag. Marking an already-read notification is a
// no-op in effect but still writes and still propagates the update.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*NotificationDTO, error) {
	return s.setFlag(ctx, id, "is_un_read", false)
}

// MarkUnread restores the unread flag.
func (s *NotificationService) MarkUnread(ctx context.Context, id string) (*NotificationDTO, error) {
	return s.setFlag(ctx, id, "is_un_read", true)
}

// Archive moves the notification out of the active view, independent of its
// read state.
func (s *NotificationService) Archive(ctx context.Context, id string) (*NotificationDTO, error) {
	return s.setFlag(ctx, id, "is_archived", true)
}

// Unarchive restores an archived notification.
func (s *NotificationService) Unarchive(ctx context.Context, id string) (*NotificationDTO, error) {
	return s.setFlag(ctx, id, "is_archived", false)
}

func (s *NotificationService) setFlag(ctx context.Context, id, column string, value bool) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)

	row, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(row).
		Update(column, value).Error; err != nil {
		return nil, fmt.Errorf("notification service: update %s: %w", column, err)
	}

	switch column {
	case "is_un_read":
		row.IsUnRead = value
	case "is_archived":
		row.IsArchived = value
	}

	s.broker.PublishFor(realtime.EventUpdated, row)

	dto := mapNotification(*row)
	return &dto, nil
}

// MarkAllRead clears the unread flag on every notification of exactly one
// target and returns the number of rows affected. The target clause keeps the
// update isolated from every other scope. Each flipped row propagates as its
// own update event so subscribers always receive a notification snapshot.
func (s *NotificationService) MarkAllRead(ctx context.Context, target Target) (int64, error) {
	ctx = ensureContext(ctx)

	q, err := target.apply(s.db.WithContext(ctx).Model(&models.Notification{}))
	if err != nil {
		return 0, err
	}

	var rows []models.Notification
	if err := q.Where("is_un_read = ?", true).Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].ID)
	}

	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id IN ?", ids).
		Update("is_un_read", false)
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	for i := range rows {
		rows[i].IsUnRead = false
		s.broker.PublishFor(realtime.EventUpdated, &rows[i])
	}

	return result.RowsAffected, nil
}

// Delete removes a notification outright, bypassing expiration logic.
func (s *NotificationService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	row, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Where("id = ?", row.ID).Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	s.broker.PublishFor(realtime.EventDeleted, row)
	return nil
}

// UnreadCount returns the badge aggregate for a target.
func (s *NotificationService) UnreadCount(ctx context.Context, target Target) (int64, error) {
	ctx = ensureContext(ctx)

	q, err := target.apply(s.db.WithContext(ctx).Model(&models.Notification{}))
	if err != nil {
		return 0, err
	}

	var count int64
	if err := q.Where("is_un_read = ? AND is_archived = ?", true, false).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification service: unread count: %w", err)
	}
	return count, nil
}

func (s *NotificationService) load(ctx context.Context, id string) (*models.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidation("notification id is required")
	}

	var row models.Notification
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load: %w", err)
	}
	return &row, nil
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:         row.ID,
		Type:       row.Type,
		Scope:      row.Scope,
		UserID:     row.UserID,
		TeamID:     row.TeamID,
		SuperRole:  row.SuperRole,
		Title:      row.Title,
		Category:   row.Category,
		AvatarURL:  row.AvatarURL,
		Metadata:   decodeJSON(row.Metadata),
		IsUnRead:   row.IsUnRead,
		IsArchived: row.IsArchived,
		CreatedAt:  row.CreatedAt,
		ExpiresAt:  row.ExpiresAt,
		Raw:        &row,
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
