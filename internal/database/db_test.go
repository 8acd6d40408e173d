package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calebrow/notifyd/internal/models"
)

func TestOpenSQLiteInMemoryAndMigrate(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))

	for _, table := range []string{"users", "teams", "notifications", "push_subscriptions"} {
		require.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestAutoMigrateAndSeedCreatesBootstrapAdmin(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrateAndSeed(db))

	var admin models.User
	require.NoError(t, db.First(&admin, "id = ?", "admin").Error)
	require.Equal(t, models.SuperRoleAdmin, admin.Role)

	// Seeding twice must not duplicate or overwrite.
	require.NoError(t, SeedData(db))
	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestNotificationDefaultsApplied(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))

	userID := "user-1"
	n := models.Notification{
		Type:      models.TypeSystem,
		Scope:     models.ScopeUser,
		UserID:    &userID,
		Title:     "Maintenance window",
		Category:  "system",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, db.Create(&n).Error)
	require.NotEmpty(t, n.ID)

	var loaded models.Notification
	require.NoError(t, db.First(&loaded, "id = ?", n.ID).Error)
	require.True(t, loaded.IsUnRead)
	require.False(t, loaded.IsArchived)
}
