package billing

import "time"

// SourceState is the provider-agnostic shape every source adapter produces
// before handing off to the billing service. Plan and Status are already
// canonical (catalog tier, entitlement status); the provider-specific raw
// payload rides along for the subscription mirror.
type SourceState struct {
	UserID             uint
	Source             string
	ExternalID         string
	ProviderRef        string
	Plan               string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	PausedAt           *time.Time
	RawPayloadJSON     string
}

// LedgerInput is one financial event to be recorded at most once. ExternalID
// is the provider's transaction/charge/refund identifier; together with
// Source it is the idempotency key.
type LedgerInput struct {
	UserID      uint
	Source      string
	ExternalID  string
	ProductType string
	Plan        string
	Status      string
	AmountCents int64
	// FeeCents is the provider-reported fee when known; when HasFee is false
	// the service estimates it from the channel take rate.
	FeeCents   int64
	HasFee     bool
	Currency   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// WebhookInput is the normalized input for webhook event persistence.
type WebhookInput struct {
	Source          string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
