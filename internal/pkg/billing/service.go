package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/StyleLoft/StyleLoft/app/models"
	"gorm.io/gorm"
)

// Service reconciles independent payment sources into one canonical
// entitlement per user and keeps the append-only revenue ledger. It holds no
// state beyond the injected repository; every call is request-scoped.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// EnsureEntitlement creates the default free/active entitlement row for a
// user if none exists yet. Called on profile creation.
func (s *Service) EnsureEntitlement(ctx context.Context, userID uint) (*models.Entitlement, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	e, err := s.repo.GetEntitlementByUser(userID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	e = &models.Entitlement{
		UserID: userID,
		Plan:   models.PlanFree,
		Status: models.SubStatusActive,
	}
	if err := s.repo.UpsertEntitlement(e); err != nil {
		return nil, err
	}
	return e, nil
}

// SyncSource overwrites the (user, source) subscription mirror with the
// state a source adapter derived from the provider, then re-merges the
// user's entitlement. The provider is authoritative for its own source, so
// the upsert always overwrites; re-delivery of the same state is a no-op by
// construction.
func (s *Service) SyncSource(ctx context.Context, in SourceState) (*models.SubscriptionRecord, *models.Entitlement, error) {
	source := strings.ToLower(strings.TrimSpace(in.Source))
	if in.UserID == 0 || source == "" || strings.TrimSpace(in.ExternalID) == "" {
		return nil, nil, errors.New("user_id, source and external_id are required")
	}

	rec := &models.SubscriptionRecord{
		UserID:             in.UserID,
		Source:             source,
		ExternalID:         strings.TrimSpace(in.ExternalID),
		Plan:               normalizePlan(in.Plan),
		Status:             strings.ToLower(strings.TrimSpace(in.Status)),
		CurrentPeriodStart: in.CurrentPeriodStart,
		CurrentPeriodEnd:   in.CurrentPeriodEnd,
		CancelAtPeriodEnd:  in.CancelAtPeriodEnd,
		PausedAt:           in.PausedAt,
		RawPayloadJSON:     in.RawPayloadJSON,
	}
	if err := s.repo.UpsertSubscriptionRecord(rec); err != nil {
		return nil, nil, err
	}

	ent, err := s.ReconcileEntitlement(ctx, in.UserID)
	if err != nil {
		return rec, nil, err
	}
	return rec, ent, nil
}

// ReconcileEntitlement recomputes and writes the canonical entitlement for a
// user from all of their subscription mirrors. Last write wins on the
// entitlement row; the race window against a concurrent webhook is accepted
// (see the admin gateway, which always re-reads the provider first).
func (s *Service) ReconcileEntitlement(ctx context.Context, userID uint) (*models.Entitlement, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}

	records, err := s.repo.ListSubscriptionRecordsByUser(userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	plan, status, periodStart, periodEnd, cancelAtEnd := mergeRecords(records, now)

	// Write-time guard for the core invariant: an active paid entitlement
	// must not carry an already-elapsed period end.
	if status == models.SubStatusActive && isPaidPlan(plan) &&
		periodEnd != nil && !periodEnd.After(now) {
		status = models.SubStatusExpired
	}

	e := &models.Entitlement{
		UserID:             userID,
		Plan:               plan,
		Status:             status,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		CancelAtPeriodEnd:  cancelAtEnd,
	}
	if err := s.repo.UpsertEntitlement(e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordLedgerEntry appends one financial event if and only if no entry
// exists for (source, external_id). The existence check is the sole defense
// against duplicate provider redelivery; there is no transaction spanning
// the mirror and ledger writes. Returns whether a row was inserted.
func (s *Service) RecordLedgerEntry(ctx context.Context, in LedgerInput) (bool, error) {
	_ = ctx
	source := strings.ToLower(strings.TrimSpace(in.Source))
	externalID := strings.TrimSpace(in.ExternalID)
	if in.UserID == 0 || source == "" || externalID == "" {
		return false, errors.New("user_id, source and external_id are required")
	}

	fee := in.FeeCents
	if !in.HasFee {
		fee = EstimateFee(source, in.AmountCents)
	}

	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "usd"
	}
	productType := in.ProductType
	if productType == "" {
		productType = models.LedgerProductSubscription
	}
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	metadataJSON := ""
	if len(in.Metadata) > 0 {
		if b, err := json.Marshal(in.Metadata); err == nil {
			metadataJSON = string(b)
		}
	}

	entry := &models.LedgerEntry{
		UserID:       in.UserID,
		Source:       source,
		ExternalID:   externalID,
		ProductType:  productType,
		Plan:         normalizePlan(in.Plan),
		Status:       in.Status,
		AmountCents:  in.AmountCents,
		FeeCents:     fee,
		NetCents:     in.AmountCents - fee,
		Currency:     currency,
		OccurredAt:   occurredAt,
		MetadataJSON: metadataJSON,
	}
	return s.repo.CreateLedgerEntryIfNotExists(entry)
}

// ProcessSourceEvent is the shared tail of every source adapter: mirror the
// derived state, re-merge the entitlement, then append the ledger event when
// one accompanies the state change. Ledger no-ops (duplicates) are not
// errors.
func (s *Service) ProcessSourceEvent(ctx context.Context, state SourceState, ledger *LedgerInput) (*models.Entitlement, bool, error) {
	_, ent, err := s.SyncSource(ctx, state)
	if err != nil {
		return nil, false, err
	}
	inserted := false
	if ledger != nil {
		inserted, err = s.RecordLedgerEntry(ctx, *ledger)
		if err != nil {
			return ent, false, err
		}
	}
	return ent, inserted, nil
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without
// a provider id are keyed by a payload hash.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	source := strings.ToLower(strings.TrimSpace(in.Source))
	if source == "" {
		return false, nil, errors.New("source is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Source:          source,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// GetEntitlement loads the canonical entitlement for a user.
func (s *Service) GetEntitlement(ctx context.Context, userID uint) (*models.Entitlement, error) {
	_ = ctx
	return s.repo.GetEntitlementByUser(userID)
}

// GetSubscriptionRecord loads the raw mirror for one (user, source).
func (s *Service) GetSubscriptionRecord(ctx context.Context, userID uint, source string) (*models.SubscriptionRecord, error) {
	_ = ctx
	return s.repo.GetSubscriptionRecord(userID, source)
}

// FindUserBySubscription resolves a provider subscription id to the local
// user via the mirror table.
func (s *Service) FindUserBySubscription(ctx context.Context, source, externalID string) (uint, error) {
	_ = ctx
	rec, err := s.repo.FindSubscriptionRecordByExternalID(source, externalID)
	if err != nil {
		return 0, err
	}
	return rec.UserID, nil
}

// RevenueSummary sums ledger net cents over [from, to). Analytics reads the
// ledger; prior-period comparisons are real queries, not scaled guesses.
func (s *Service) RevenueSummary(ctx context.Context, from, to time.Time) (int64, error) {
	_ = ctx
	return s.repo.SumLedgerNetCents(from, to)
}

// LifetimeNetCents sums a user's lifetime net revenue contribution.
func (s *Service) LifetimeNetCents(ctx context.Context, userID uint) (int64, error) {
	_ = ctx
	return s.repo.SumLedgerNetCentsByUser(userID)
}
