package models

import "time"

// Payment sources. Each source reports its own raw subscription state; the
// merged view lives in Entitlement.
const (
	SourceStripe   = "stripe"
	SourceAppleIAP = "apple_iap"
	SourcePlayIAP  = "google_iap"
)

// SubscriptionRecord mirrors the latest raw state one payment source reported
// for a user, one row per (user, source). Support tooling reads this table to
// see what the provider actually said; access decisions never do.
type SubscriptionRecord struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;index:ux_subscription_records_user_source,unique,priority:1" json:"user_id"`
	Source             string     `gorm:"type:varchar(20);not null;index:ux_subscription_records_user_source,unique,priority:2" json:"source"`
	ExternalID         string     `gorm:"type:varchar(191);not null;index" json:"external_id"`
	Plan               string     `gorm:"type:varchar(50);not null;default:'free'" json:"plan"`
	Status             string     `gorm:"type:varchar(32);not null;default:'active'" json:"status"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	PausedAt           *time.Time `gorm:"type:timestamp;default:null" json:"paused_at,omitempty"`
	RawPayloadJSON     string     `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
