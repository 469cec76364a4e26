package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/StyleLoft/StyleLoft/app/models"
)

// fakeRepo is an in-memory Repository with the same uniqueness semantics as
// the MySQL schema.
type fakeRepo struct {
	subscriptions map[string]*models.SubscriptionRecord // user|source
	entitlements  map[uint]*models.Entitlement
	ledger        map[string]*models.LedgerEntry // source|external
	webhooks      map[string]*models.WebhookEvent
	nextID        uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subscriptions: map[string]*models.SubscriptionRecord{},
		entitlements:  map[uint]*models.Entitlement{},
		ledger:        map[string]*models.LedgerEntry{},
		webhooks:      map[string]*models.WebhookEvent{},
	}
}

func (f *fakeRepo) id() uint {
	f.nextID++
	return f.nextID
}

func subKey(userID uint, source string) string {
	return fmt.Sprintf("%d|%s", userID, source)
}

func (f *fakeRepo) UpsertSubscriptionRecord(rec *models.SubscriptionRecord) error {
	key := subKey(rec.UserID, rec.Source)
	if existing, ok := f.subscriptions[key]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.ID = f.id()
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()
	stored := *rec
	f.subscriptions[key] = &stored
	return nil
}

func (f *fakeRepo) ListSubscriptionRecordsByUser(userID uint) ([]models.SubscriptionRecord, error) {
	var out []models.SubscriptionRecord
	for _, rec := range f.subscriptions {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetSubscriptionRecord(userID uint, source string) (*models.SubscriptionRecord, error) {
	if rec, ok := f.subscriptions[subKey(userID, source)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) FindSubscriptionRecordByExternalID(source, externalID string) (*models.SubscriptionRecord, error) {
	for _, rec := range f.subscriptions {
		if rec.Source == source && rec.ExternalID == externalID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) UpsertEntitlement(e *models.Entitlement) error {
	if existing, ok := f.entitlements[e.UserID]; ok {
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
	} else {
		e.ID = f.id()
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = time.Now()
	stored := *e
	f.entitlements[e.UserID] = &stored
	return nil
}

func (f *fakeRepo) GetEntitlementByUser(userID uint) (*models.Entitlement, error) {
	if e, ok := f.entitlements[userID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) CreateLedgerEntryIfNotExists(entry *models.LedgerEntry) (bool, error) {
	key := entry.Source + "|" + entry.ExternalID
	if _, ok := f.ledger[key]; ok {
		return false, nil
	}
	entry.ID = f.id()
	stored := *entry
	f.ledger[key] = &stored
	return true, nil
}

func (f *fakeRepo) SumLedgerNetCents(from, to time.Time) (int64, error) {
	var total int64
	for _, e := range f.ledger {
		if !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
			total += e.NetCents
		}
	}
	return total, nil
}

func (f *fakeRepo) SumLedgerNetCentsByUser(userID uint) (int64, error) {
	var total int64
	for _, e := range f.ledger {
		if e.UserID == userID {
			total += e.NetCents
		}
	}
	return total, nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Source + "|" + event.ProviderEventID
	if stored, ok := f.webhooks[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	event.ID = f.id()
	event.CreatedAt = time.Now()
	stored := *event
	f.webhooks[key] = &stored
	cp := stored
	return true, &cp, nil
}

func (f *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, e := range f.webhooks {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func newTestService(repo *fakeRepo, now time.Time) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return now }
	return svc
}

func futureTime(now time.Time, d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestEnsureEntitlement(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())
	ctx := context.Background()

	ent, err := svc.EnsureEntitlement(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, ent.Plan)
	assert.Equal(t, models.SubStatusActive, ent.Status)

	// second call returns the existing row untouched
	again, err := svc.EnsureEntitlement(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, again.ID)
}

func TestSyncSourceUpsertsMirrorAndEntitlement(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo()
	svc := newTestService(repo, now)
	ctx := context.Background()

	rec, ent, err := svc.SyncSource(ctx, SourceState{
		UserID:           42,
		Source:           models.SourceStripe,
		ExternalID:       "sub_123",
		Plan:             models.PlanIndividual,
		Status:           models.SubStatusActive,
		CurrentPeriodEnd: futureTime(now, 30*24*time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_123", rec.ExternalID)
	assert.Equal(t, models.PlanIndividual, ent.Plan)
	assert.Equal(t, models.SubStatusActive, ent.Status)

	// re-delivery of the same state is a no-op
	_, ent2, err := svc.SyncSource(ctx, SourceState{
		UserID:           42,
		Source:           models.SourceStripe,
		ExternalID:       "sub_123",
		Plan:             models.PlanIndividual,
		Status:           models.SubStatusActive,
		CurrentPeriodEnd: futureTime(now, 30*24*time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, ent.Plan, ent2.Plan)
	assert.Len(t, repo.subscriptions, 1)
}

func TestSyncSourceValidatesInput(t *testing.T) {
	svc := newTestService(newFakeRepo(), time.Now())
	_, _, err := svc.SyncSource(context.Background(), SourceState{Source: models.SourceStripe})
	assert.Error(t, err)
}

func TestReconcileExpiresLapsedActiveRecord(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo()
	svc := newTestService(repo, now)
	ctx := context.Background()

	past := now.Add(-time.Hour)
	_, ent, err := svc.SyncSource(ctx, SourceState{
		UserID:           9,
		Source:           models.SourceStripe,
		ExternalID:       "sub_lapsed",
		Plan:             models.PlanIndividual,
		Status:           models.SubStatusActive,
		CurrentPeriodEnd: &past,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusExpired, ent.Status)
	assert.False(t, ent.GrantsAccess(now))
}

func TestReconcilePicksHighestEntitlingTier(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo()
	svc := newTestService(repo, now)
	ctx := context.Background()

	_, _, err := svc.SyncSource(ctx, SourceState{
		UserID: 5, Source: models.SourceAppleIAP, ExternalID: "txn_1",
		Plan: models.PlanIndividual, Status: models.SubStatusActive,
		CurrentPeriodEnd: futureTime(now, 24*time.Hour),
	})
	require.NoError(t, err)

	_, ent, err := svc.SyncSource(ctx, SourceState{
		UserID: 5, Source: models.SourceStripe, ExternalID: "sub_2",
		Plan: models.PlanSalon, Status: models.SubStatusActive,
		CurrentPeriodEnd: futureTime(now, 12*time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.PlanSalon, ent.Plan)
	assert.Equal(t, models.SubStatusActive, ent.Status)
}

func TestReconcileKeepsTierWhenAllSourcesLapse(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo()
	svc := newTestService(repo, now)
	ctx := context.Background()

	past := now.Add(-time.Hour)
	_, ent, err := svc.SyncSource(ctx, SourceState{
		UserID: 6, Source: models.SourceStripe, ExternalID: "sub_gone",
		Plan: models.PlanIndividual, Status: models.SubStatusCanceled,
		CurrentPeriodEnd: &past,
	})
	require.NoError(t, err)
	// the tier stays visible, only the status degrades
	assert.Equal(t, models.PlanIndividual, ent.Plan)
	assert.Equal(t, models.SubStatusCanceled, ent.Status)
	assert.False(t, ent.GrantsAccess(now))
}

func TestRecordLedgerEntryIdempotent(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo()
	svc := newTestService(repo, now)
	ctx := context.Background()

	input := LedgerInput{
		UserID:      3,
		Source:      models.SourceStripe,
		ExternalID:  "in_100",
		Plan:        models.PlanIndividual,
		Status:      models.LedgerStatusCompleted,
		AmountCents: 2700,
		Currency:    "usd",
		OccurredAt:  now,
	}

	inserted, err := svc.RecordLedgerEntry(ctx, input)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = svc.RecordLedgerEntry(ctx, input)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Len(t, repo.ledger, 1)
}

func TestRecordLedgerEntryEstimatesFee(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo()
	svc := newTestService(repo, now)

	_, err := svc.RecordLedgerEntry(context.Background(), LedgerInput{
		UserID: 3, Source: models.SourceStripe, ExternalID: "in_fee",
		Status: models.LedgerStatusCompleted, AmountCents: 2700, OccurredAt: now,
	})
	require.NoError(t, err)

	entry := repo.ledger[models.SourceStripe+"|in_fee"]
	require.NotNil(t, entry)
	wantFee := int64(2700*290/10000 + 30)
	assert.Equal(t, wantFee, entry.FeeCents)
	assert.Equal(t, int64(2700)-wantFee, entry.NetCents)
	assert.Equal(t, "usd", entry.Currency)
}

func TestRefundNetsLifetimeValueDown(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo()
	svc := newTestService(repo, now)
	ctx := context.Background()

	_, err := svc.RecordLedgerEntry(ctx, LedgerInput{
		UserID: 8, Source: models.SourceStripe, ExternalID: "in_200",
		Status: models.LedgerStatusCompleted, AmountCents: 2700,
		FeeCents: 108, HasFee: true, OccurredAt: now,
	})
	require.NoError(t, err)

	// full refund arrives as its own negative entry
	_, err = svc.RecordLedgerEntry(ctx, LedgerInput{
		UserID: 8, Source: models.SourceStripe, ExternalID: "re_200",
		Status: models.LedgerStatusRefunded, AmountCents: -2700,
		FeeCents: -108, HasFee: true, OccurredAt: now,
	})
	require.NoError(t, err)

	total, err := svc.LifetimeNetCents(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Len(t, repo.ledger, 2)
}

func TestProcessSourceEventAppliesStateAndLedger(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo()
	svc := newTestService(repo, now)
	ctx := context.Background()

	state := SourceState{
		UserID: 11, Source: models.SourcePlayIAP, ExternalID: "token_abc",
		Plan: models.PlanIndividual, Status: models.SubStatusActive,
		CurrentPeriodEnd: futureTime(now, 24*time.Hour),
	}
	ledger := &LedgerInput{
		UserID: 11, Source: models.SourcePlayIAP, ExternalID: "GPA.123",
		Status: models.LedgerStatusCompleted, AmountCents: 2900, OccurredAt: now,
	}

	ent, inserted, err := svc.ProcessSourceEvent(ctx, state, ledger)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, models.PlanIndividual, ent.Plan)

	// redelivery mirrors again but does not double-book
	_, inserted, err = svc.ProcessSourceEvent(ctx, state, ledger)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestRecordWebhookEventDedup(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())
	ctx := context.Background()

	in := WebhookInput{
		Source:          models.SourceStripe,
		ProviderEventID: "evt_1",
		EventType:       "invoice.paid",
		PayloadJSON:     `{"id":"evt_1"}`,
		SignatureValid:  true,
	}

	created, stored, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)

	created, again, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)
}

func TestRecordWebhookEventHashesMissingID(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())
	ctx := context.Background()

	created, stored, err := svc.RecordWebhookEvent(ctx, WebhookInput{
		Source:      models.SourceAppleIAP,
		PayloadJSON: `{"notification":"x"}`,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, stored.ProviderEventID, "hash:")

	created, _, err = svc.RecordWebhookEvent(ctx, WebhookInput{
		Source:      models.SourceAppleIAP,
		PayloadJSON: `{"notification":"x"}`,
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMarkWebhookProcessedStoresError(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, time.Now())
	ctx := context.Background()

	_, stored, err := svc.RecordWebhookEvent(ctx, WebhookInput{
		Source: models.SourceStripe, ProviderEventID: "evt_fail", PayloadJSON: "{}",
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkWebhookProcessed(ctx, stored.ID, fmt.Errorf("boom")))
	event := repo.webhooks[models.SourceStripe+"|evt_fail"]
	require.NotNil(t, event.ProcessedAt)
	assert.Equal(t, "boom", event.ProcessingError)
}

func TestRevenueSummaryWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	svc := newTestService(repo, now)
	ctx := context.Background()

	for i, amount := range []int64{1000, 2000, -500} {
		_, err := svc.RecordLedgerEntry(ctx, LedgerInput{
			UserID: 1, Source: models.SourceStripe,
			ExternalID: fmt.Sprintf("win_%d", i),
			Status:     models.LedgerStatusCompleted,
			AmountCents: amount, FeeCents: 0, HasFee: true,
			OccurredAt: now,
		})
		require.NoError(t, err)
	}
	// outside the window
	_, err := svc.RecordLedgerEntry(ctx, LedgerInput{
		UserID: 1, Source: models.SourceStripe, ExternalID: "win_out",
		Status: models.LedgerStatusCompleted, AmountCents: 9999,
		FeeCents: 0, HasFee: true,
		OccurredAt: now.AddDate(0, -1, 0),
	})
	require.NoError(t, err)

	total, err := svc.RevenueSummary(ctx, now.Add(-24*time.Hour), now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2500), total)
}
