package database

import (
	"gorm.io/gorm"

	"github.com/calebrow/notifyd/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.Notification{},
		&models.PushSubscription{},
	)
}

// SeedData populates the bootstrap administrative account used by operator
// tooling in fresh installations. Existing rows are left untouched.
func SeedData(db *gorm.DB) error {
	admin := models.User{
		BaseModel: models.BaseModel{ID: "admin"},
		Username:  "admin",
		Email:     "admin@localhost",
		Role:      models.SuperRoleAdmin,
		IsActive:  true,
	}

	return db.Where(models.User{BaseModel: models.BaseModel{ID: admin.ID}}).
		Attrs(admin).
		FirstOrCreate(&models.User{}).Error
}
