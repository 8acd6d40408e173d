package models

import "time"

// Device types select the push transport used for a subscription.
const (
	DeviceWeb     = "web"
	DeviceAndroid = "android"
	DeviceIOS     = "ios"
	DeviceMacOS   = "macos"
)

// PushSubscription is a registered delivery endpoint for one device or
// browser of a user. Endpoints are unique across all rows; Apple-transport
// rows carry a synthetic apns:// endpoint derived from the device token.
type PushSubscription struct {
	BaseModel

	UserID   string `gorm:"type:uuid;not null;index" json:"user_id"`
	Endpoint string `gorm:"type:text;not null;uniqueIndex:idx_push_subscriptions_endpoint,length:512" json:"endpoint"`

	// Web Push encryption keys; empty for Apple-transport rows.
	P256dh string `gorm:"type:text" json:"p256dh,omitempty"`
	Auth   string `gorm:"type:text" json:"auth,omitempty"`

	// Apple transport fields; empty for Web Push rows.
	APNsToken       string `gorm:"type:varchar(255);index" json:"apns_token,omitempty"`
	APNsBundleID    string `gorm:"type:varchar(255)" json:"apns_bundle_id,omitempty"`
	APNsEnvironment string `gorm:"type:varchar(32)" json:"apns_environment,omitempty"`

	DeviceType string `gorm:"type:varchar(16);not null;default:'web'" json:"device_type"`

	IsActive   bool      `gorm:"default:true;index" json:"is_active"`
	LastUsedAt time.Time `gorm:"index" json:"last_used_at"`
	UserAgent  string    `gorm:"type:text" json:"user_agent,omitempty"`
}

// UsesAppleTransport reports whether sends go through APNs rather than Web Push.
func (s *PushSubscription) UsesAppleTransport() bool {
	return s.DeviceType == DeviceIOS || s.DeviceType == DeviceMacOS
}
