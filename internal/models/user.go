package models

// User describes a notification recipient. Authentication lives outside this
// service; only the fields needed for recipient resolution are kept.
type User struct {
	BaseModel

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`

	// Role holds the privileged role (ADMIN, SUPPORT) for super-scoped
	// delivery; regular users carry MEMBER.
	Role string `gorm:"type:varchar(32);default:'MEMBER';index" json:"role"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	Teams []Team `gorm:"many2many:user_teams;" json:"teams,omitempty"`

	// Callers are identified by the upstream gateway and may not exist in the
	// local users table, so subscriptions carry no database constraint back to
	// users.
	Subscriptions []PushSubscription `gorm:"foreignKey:UserID;constraint:-" json:"-"`
}
