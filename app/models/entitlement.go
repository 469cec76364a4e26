package models

import "time"

// Canonical plan tiers. "salon" is the team tier; "individual" is the paid
// single-seat tier.
const (
	PlanFree       = "free"
	PlanIndividual = "individual"
	PlanSalon      = "salon"
)

const (
	SubStatusActive   = "active"
	SubStatusTrialing = "trialing"
	SubStatusPastDue  = "past_due"
	SubStatusCanceled = "canceled"
	SubStatusExpired  = "expired"
	SubStatusPaused   = "paused"
)

// Entitlement is the single canonical access record per user, merged from
// whichever subscription records the user has. It is only written by the
// billing service and the admin gateway, always as a whole-row upsert keyed
// on user_id (last write wins).
//
// Invariant: status=active with a paid plan implies CurrentPeriodEnd is nil
// or in the future at write time. CancelAtPeriodEnd never changes status by
// itself; it only predicts the transition at CurrentPeriodEnd.
type Entitlement struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Plan               string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	Status             string     `gorm:"type:varchar(32);not null;default:'active'" json:"status"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether the entitlement is on a paid tier.
func (e *Entitlement) IsPaid() bool {
	return e.Plan == PlanIndividual || e.Plan == PlanSalon
}

// GrantsAccess reports whether the entitlement currently admits the user to
// paid content: active status, paid tier, and an open or future period.
func (e *Entitlement) GrantsAccess(now time.Time) bool {
	if e.Status != SubStatusActive || !e.IsPaid() {
		return false
	}
	return e.CurrentPeriodEnd == nil || e.CurrentPeriodEnd.After(now)
}
