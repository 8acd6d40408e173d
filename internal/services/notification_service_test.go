package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calebrow/notifyd/internal/database/testutil"
	"github.com/calebrow/notifyd/internal/models"
	"github.com/calebrow/notifyd/internal/realtime"
	apperrors "github.com/calebrow/notifyd/pkg/errors"
	"gorm.io/gorm"
)

func seedNotification(t *testing.T, db *gorm.DB, mutate func(*models.Notification)) *models.Notification {
	t.Helper()

	row := &models.Notification{
		Type:      models.TypeInfo,
		Scope:     models.ScopeUser,
		UserID:    strPtr("u1"),
		Title:     "hello",
		Category:  "general",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	if mutate != nil {
		mutate(row)
	}
	require.NoError(t, db.Create(row).Error)
	return row
}

func TestListFiltersAndPaginates(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		offset := time.Duration(i) * time.Hour
		seedNotification(t, db, func(n *models.Notification) {
			n.CreatedAt = base.Add(offset)
			n.Title = "user note"
		})
	}
	seedNotification(t, db, func(n *models.Notification) {
		n.Scope = models.ScopeTeam
		n.UserID = nil
		n.TeamID = strPtr("t1")
		n.Title = "team note"
	})
	seedNotification(t, db, func(n *models.Notification) {
		n.Type = models.TypePayment
		n.CreatedAt = base.Add(10 * time.Hour)
	})

	svc, err := NewNotificationService(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Target scoping: the team row never leaks into the user view.
	rows, total, err := svc.List(ctx, ListNotificationsInput{Target: Target{UserID: "u1"}})
	require.NoError(t, err)
	require.EqualValues(t, 6, total)
	require.Len(t, rows, 6)
	for _, row := range rows {
		require.Equal(t, models.ScopeUser, row.Scope)
	}

	// Newest first.
	require.Equal(t, models.TypePayment, rows[0].Type)

	// Type filter.
	rows, total, err = svc.List(ctx, ListNotificationsInput{
		Target: Target{UserID: "u1"},
		Type:   models.TypePayment,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, rows, 1)

	// Window filter.
	after := base.Add(90 * time.Minute)
	rows, _, err = svc.List(ctx, ListNotificationsInput{
		Target:       Target{UserID: "u1"},
		CreatedAfter: &after,
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	// Paging: total reflects the full match set, not the page.
	rows, total, err = svc.List(ctx, ListNotificationsInput{
		Target: Target{UserID: "u1"},
		Limit:  2,
		Offset: 2,
	})
	require.NoError(t, err)
	require.EqualValues(t, 6, total)
	require.Len(t, rows, 2)
}

func TestListRequiresExactlyOneTarget(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db, nil)
	require.NoError(t, err)

	_, _, err = svc.List(context.Background(), ListNotificationsInput{})
	require.Error(t, err)

	_, _, err = svc.List(context.Background(), ListNotificationsInput{
		Target: Target{UserID: "u1", TeamID: "t1"},
	})
	require.Error(t, err)
}

func TestMarkReadAndUnread(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	broker := realtime.NewBroker()

	var updates int
	defer broker.Subscribe(realtime.UserChannel("u1"), func(event realtime.Event) {
		if event.Kind == realtime.EventUpdated {
			updates++
		}
	})()

	row := seedNotification(t, db, nil)
	svc, err := NewNotificationService(db, broker)
	require.NoError(t, err)
	ctx := context.Background()

	dto, err := svc.MarkRead(ctx, row.ID)
	require.NoError(t, err)
	require.False(t, dto.IsUnRead)

	// Marking an already-read notification succeeds and still propagates.
	dto, err = svc.MarkRead(ctx, row.ID)
	require.NoError(t, err)
	require.False(t, dto.IsUnRead)
	require.Equal(t, 2, updates)

	dto, err = svc.MarkUnread(ctx, row.ID)
	require.NoError(t, err)
	require.True(t, dto.IsUnRead)
}

func TestArchiveRoundTrip(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	row := seedNotification(t, db, nil)
	svc, err := NewNotificationService(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	dto, err := svc.Archive(ctx, row.ID)
	require.NoError(t, err)
	require.True(t, dto.IsArchived)

	dto, err = svc.Unarchive(ctx, row.ID)
	require.NoError(t, err)
	require.False(t, dto.IsArchived)
}

func TestMarkAllReadScopesToTarget(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	seedNotification(t, db, nil)
	seedNotification(t, db, nil)
	other := seedNotification(t, db, func(n *models.Notification) {
		n.UserID = strPtr("u2")
	})
	team := seedNotification(t, db, func(n *models.Notification) {
		n.Scope = models.ScopeTeam
		n.UserID = nil
		n.TeamID = strPtr("t1")
	})

	broker := realtime.NewBroker()
	var events []realtime.Event
	defer broker.Subscribe(realtime.UserChannel("u1"), func(event realtime.Event) {
		events = append(events, event)
	})()

	svc, err := NewNotificationService(db, broker)
	require.NoError(t, err)

	affected, err := svc.MarkAllRead(context.Background(), Target{UserID: "u1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, affected)

	// Every flipped row propagates with a snapshot.
	require.Len(t, events, 2)
	for _, event := range events {
		require.Equal(t, realtime.EventUpdated, event.Kind)
		require.NotNil(t, event.Notification)
		require.False(t, event.Notification.IsUnRead)
	}

	// Other recipients' rows stay unread.
	var check models.Notification
	require.NoError(t, db.First(&check, "id = ?", other.ID).Error)
	require.True(t, check.IsUnRead)
	var teamCheck models.Notification
	require.NoError(t, db.First(&teamCheck, "id = ?", team.ID).Error)
	require.True(t, teamCheck.IsUnRead)

	// Second run has nothing left to flip.
	affected, err = svc.MarkAllRead(context.Background(), Target{UserID: "u1"})
	require.NoError(t, err)
	require.Zero(t, affected)
}

func TestDeletePublishesRemoval(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	broker := realtime.NewBroker()

	var events []realtime.Event
	defer broker.Subscribe(realtime.UserChannel("u1"), func(event realtime.Event) {
		events = append(events, event)
	})()

	row := seedNotification(t, db, nil)
	svc, err := NewNotificationService(db, broker)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), row.ID))

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.Zero(t, count)

	require.Len(t, events, 1)
	require.Equal(t, realtime.EventDeleted, events[0].Kind)
	require.NotNil(t, events[0].Notification)
	require.Equal(t, row.ID, events[0].Notification.ID)
}

func TestGetUnknownIDReturnsNotFound(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	svc, err := NewNotificationService(db, nil)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "b2ec1786-13c2-4a85-b22a-0af5b1cd5b52")
	require.Error(t, err)
	require.Equal(t, apperrors.ErrNotFound.Code, apperrors.FromError(err).Code)
}

func TestUnreadCountExcludesArchived(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	seedNotification(t, db, nil)
	seedNotification(t, db, nil)
	archived := seedNotification(t, db, nil)
	read := seedNotification(t, db, nil)

	svc, err := NewNotificationService(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Archive(ctx, archived.ID)
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, read.ID)
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, Target{UserID: "u1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}
