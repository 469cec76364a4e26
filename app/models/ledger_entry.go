package models

import "time"

const (
	LedgerStatusCompleted = "completed"
	LedgerStatusRefunded  = "refunded"
	LedgerStatusPending   = "pending"
	LedgerStatusFailed    = "failed"
)

const (
	LedgerProductSubscription = "subscription"
	LedgerProductSeat         = "team_seat"
)

// LedgerEntry is one financial event, written at most once per
// (source, external_id) and never updated or deleted afterwards. A refund is
// its own entry (keyed by the refund identifier, negative net) rather than a
// mutation of the original; lifetime value is always a sum, never an edit.
type LedgerEntry struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Source      string    `gorm:"type:varchar(20);not null;index:ux_ledger_entries_source_external,unique,priority:1" json:"source"`
	ExternalID  string    `gorm:"type:varchar(191);not null;index:ux_ledger_entries_source_external,unique,priority:2" json:"external_id"`
	ProductType string    `gorm:"type:varchar(32);not null;default:'subscription'" json:"product_type"`
	Plan        string    `gorm:"type:varchar(50);not null;default:'free'" json:"plan"`
	Status      string    `gorm:"type:varchar(20);not null;index" json:"status"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	FeeCents    int64     `gorm:"not null;default:0" json:"fee_cents"`
	NetCents    int64     `gorm:"not null" json:"net_cents"`
	Currency    string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	OccurredAt  time.Time `gorm:"type:timestamp;not null;index" json:"occurred_at"`
	MetadataJSON string   `gorm:"type:text" json:"metadata_json"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
