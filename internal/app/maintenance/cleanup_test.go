package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/calebrow/notifyd/internal/database/testutil"
	"github.com/calebrow/notifyd/internal/models"
	"github.com/calebrow/notifyd/internal/services"
)

func seedRows(t *testing.T, db *gorm.DB, now time.Time) {
	t.Helper()

	expired := &models.Notification{
		Type:      models.TypeInfo,
		Scope:     models.ScopeUser,
		UserID:    userID("u1"),
		Title:     "expired",
		ExpiresAt: now.Add(-24 * time.Hour),
	}
	fresh := &models.Notification{
		Type:      models.TypeInfo,
		Scope:     models.ScopeUser,
		UserID:    userID("u1"),
		Title:     "fresh",
		ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, db.Create(expired).Error)
	require.NoError(t, db.Create(fresh).Error)

	staleSub := &models.PushSubscription{
		UserID:     "u1",
		Endpoint:   "https://push.example.org/stale",
		P256dh:     "k",
		Auth:       "a",
		DeviceType: models.DeviceWeb,
		LastUsedAt: now.Add(-365 * 24 * time.Hour),
	}
	liveSub := &models.PushSubscription{
		UserID:     "u1",
		Endpoint:   "https://push.example.org/live",
		P256dh:     "k",
		Auth:       "a",
		DeviceType: models.DeviceWeb,
		LastUsedAt: now,
	}
	require.NoError(t, db.Create(staleSub).Error)
	require.NoError(t, db.Create(liveSub).Error)
}

func userID(id string) *string {
	return &id
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	retention, err := services.NewRetentionService(db, services.WithRetentionClock(clock))
	require.NoError(t, err)
	subscriptions, err := services.NewSubscriptionService(db, services.WithSubscriptionClock(clock))
	require.NoError(t, err)

	seedRows(t, db, now)

	cleaner := NewCleaner(retention, subscriptions, WithNow(clock))
	require.NoError(t, cleaner.RunOnce(context.Background()))

	var notifications int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&notifications).Error)
	require.EqualValues(t, 1, notifications)

	var subs []models.PushSubscription
	require.NoError(t, db.Find(&subs).Error)
	require.Len(t, subs, 1)
	require.Equal(t, "https://push.example.org/live", subs[0].Endpoint)
}

func TestCleanerRunOnceHonoursRetentionOverrides(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	retention, err := services.NewRetentionService(db, services.WithRetentionClock(clock))
	require.NoError(t, err)

	read := &models.Notification{
		BaseModel: models.BaseModel{CreatedAt: now.Add(-10 * 24 * time.Hour)},
		Type:      models.TypeInfo,
		Scope:     models.ScopeUser,
		UserID:    userID("u1"),
		Title:     "read a while ago",
		ExpiresAt: now.Add(100 * 24 * time.Hour),
	}
	require.NoError(t, db.Create(read).Error)
	require.NoError(t, db.Model(read).UpdateColumn("is_un_read", false).Error)

	// Default window keeps a ten-day-old read notification.
	cleaner := NewCleaner(retention, nil, WithNow(clock))
	require.NoError(t, cleaner.RunOnce(context.Background()))
	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	// A seven-day window sweeps it.
	aggressive := NewCleaner(retention, nil, WithNow(clock), WithNotificationRetention(90, 7))
	require.NoError(t, aggressive.RunOnce(context.Background()))
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCleanerStartWithoutJobs(t *testing.T) {
	cleaner := NewCleaner(nil, nil)
	require.NoError(t, cleaner.Start())
	<-cleaner.Stop().Done()
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	retention, err := services.NewRetentionService(db)
	require.NoError(t, err)

	cleaner := NewCleaner(retention, nil, WithNotificationSchedule("not-a-spec"))
	require.Error(t, cleaner.Start())
}
