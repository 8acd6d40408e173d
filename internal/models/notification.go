package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification scopes determine which target field is populated and who may receive it.
const (
	ScopeUser  = "user"
	ScopeTeam  = "team"
	ScopeSuper = "super"
)

// Notification types form a fixed enumerated set.
const (
	TypeInfo        = "info"
	TypePayment     = "payment"
	TypeSystem      = "system"
	TypeReviewAlert = "review_alert"
)

// Privileged roles eligible for super-scoped notifications.
const (
	SuperRoleAdmin   = "ADMIN"
	SuperRoleSupport = "SUPPORT"
)

// KnownTypes lists every accepted notification type.
var KnownTypes = []string{TypeInfo, TypePayment, TypeSystem, TypeReviewAlert}

// SuperRoles lists every privileged role that receives super-scoped broadcasts.
var SuperRoles = []string{SuperRoleAdmin, SuperRoleSupport}

// Notification represents a scoped notification record. Exactly one of
// UserID/TeamID/SuperRole is set, matching Scope. Content is immutable after
// creation; only the read/archive flags change.
type Notification struct {
	BaseModel

	Type  string `gorm:"type:varchar(64);not null;index" json:"type"`
	Scope string `gorm:"type:varchar(16);not null;index" json:"scope"`

	UserID    *string `gorm:"type:uuid;index" json:"user_id,omitempty"`
	TeamID    *string `gorm:"type:uuid;index" json:"team_id,omitempty"`
	SuperRole *string `gorm:"type:varchar(32);index" json:"super_role,omitempty"`

	Title     string         `gorm:"type:text;not null" json:"title"`
	Category  string         `gorm:"type:varchar(128)" json:"category"`
	AvatarURL string         `gorm:"type:text" json:"avatar_url,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`

	IsUnRead   bool `gorm:"default:true;index" json:"is_unread"`
	IsArchived bool `gorm:"default:false;index" json:"is_archived"`

	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// IsValidType reports whether the supplied type belongs to the known set.
func IsValidType(t string) bool {
	for _, known := range KnownTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsValidSuperRole reports whether the supplied role is a privileged role.
func IsValidSuperRole(role string) bool {
	for _, known := range SuperRoles {
		if role == known {
			return true
		}
	}
	return false
}
