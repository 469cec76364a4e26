package teams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/internal/pkg/billing"
	"github.com/StyleLoft/StyleLoft/internal/pkg/jobqueue"
)

type fakeRepo struct {
	teams     map[uint]*models.Team
	members   map[string]*models.TeamMember
	userTeams map[uint]*uint
	nextID    uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		teams:     make(map[uint]*models.Team),
		members:   make(map[string]*models.TeamMember),
		userTeams: make(map[uint]*uint),
	}
}

func memberKey(teamID, userID uint) string {
	return fmt.Sprintf("%d|%d", teamID, userID)
}

func (r *fakeRepo) CreateTeam(team *models.Team) error {
	r.nextID++
	team.ID = r.nextID
	stored := *team
	r.teams[team.ID] = &stored
	return nil
}

func (r *fakeRepo) GetTeam(id uint) (*models.Team, error) {
	if team, ok := r.teams[id]; ok {
		cp := *team
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeRepo) CountMembers(teamID uint) (int64, error) {
	var count int64
	for _, m := range r.members {
		if m.TeamID == teamID {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) AddMemberIfNotExists(member *models.TeamMember) (bool, error) {
	key := memberKey(member.TeamID, member.UserID)
	if _, ok := r.members[key]; ok {
		return false, nil
	}
	r.nextID++
	member.ID = r.nextID
	stored := *member
	r.members[key] = &stored
	return true, nil
}

func (r *fakeRepo) SetUserTeam(userID uint, teamID *uint) error {
	r.userTeams[userID] = teamID
	return nil
}

// fakeBillingRepo backs a real billing.Service so the join flow exercises the
// same mirror and entitlement writes production uses.
type fakeBillingRepo struct {
	subs map[string]*models.SubscriptionRecord
	ents map[uint]*models.Entitlement
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{
		subs: make(map[string]*models.SubscriptionRecord),
		ents: make(map[uint]*models.Entitlement),
	}
}

func subKey(userID uint, source string) string {
	return fmt.Sprintf("%d|%s", userID, source)
}

func (r *fakeBillingRepo) UpsertSubscriptionRecord(rec *models.SubscriptionRecord) error {
	rec.UpdatedAt = time.Now()
	stored := *rec
	r.subs[subKey(rec.UserID, rec.Source)] = &stored
	return nil
}

func (r *fakeBillingRepo) ListSubscriptionRecordsByUser(userID uint) ([]models.SubscriptionRecord, error) {
	var out []models.SubscriptionRecord
	for _, rec := range r.subs {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeBillingRepo) GetSubscriptionRecord(userID uint, source string) (*models.SubscriptionRecord, error) {
	if rec, ok := r.subs[subKey(userID, source)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeBillingRepo) FindSubscriptionRecordByExternalID(source, externalID string) (*models.SubscriptionRecord, error) {
	for _, rec := range r.subs {
		if rec.Source == source && rec.ExternalID == externalID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeBillingRepo) UpsertEntitlement(e *models.Entitlement) error {
	stored := *e
	r.ents[e.UserID] = &stored
	return nil
}

func (r *fakeBillingRepo) GetEntitlementByUser(userID uint) (*models.Entitlement, error) {
	if e, ok := r.ents[userID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeBillingRepo) CreateLedgerEntryIfNotExists(entry *models.LedgerEntry) (bool, error) {
	return true, nil
}

func (r *fakeBillingRepo) SumLedgerNetCents(from, to time.Time) (int64, error) { return 0, nil }

func (r *fakeBillingRepo) SumLedgerNetCentsByUser(userID uint) (int64, error) { return 0, nil }

func (r *fakeBillingRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	return true, event, nil
}

func (r *fakeBillingRepo) MarkWebhookProcessed(id uint, processingError string) error { return nil }

type fakeCanceler struct {
	calls []string
	err   error
	resp  *billing.StripeSubscription
}

func (c *fakeCanceler) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*billing.StripeSubscription, error) {
	c.calls = append(c.calls, subscriptionID)
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func canceledSubscription(t *testing.T, userID uint) *billing.StripeSubscription {
	t.Helper()
	end := time.Now().Add(20 * 24 * time.Hour).Unix()
	raw := fmt.Sprintf(`{
		"id":"sub_1","status":"active","cancel_at_period_end":true,
		"current_period_end":%d,
		"metadata":{"user_id":"%d"},
		"items":{"data":[{"id":"si_1","price":{"id":"price_individual_monthly"}}]}
	}`, end, userID)
	var sub billing.StripeSubscription
	require.NoError(t, json.Unmarshal([]byte(raw), &sub))
	return &sub
}

type capturedJob struct {
	jobType jobqueue.JobType
	payload map[string]interface{}
}

func newTestService(repo Repository, billingRepo billing.Repository, canceler ProviderCanceler, jobs *[]capturedJob) *Service {
	enqueue := func(jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error) {
		*jobs = append(*jobs, capturedJob{jobType: jobType, payload: payload})
		return &jobqueue.Job{Type: jobType, Payload: payload}, nil
	}
	return NewService(repo, billing.NewService(billingRepo), canceler, enqueue)
}

func salonEntitlement(userID uint) *models.Entitlement {
	end := time.Now().Add(20 * 24 * time.Hour)
	return &models.Entitlement{
		UserID:           userID,
		Plan:             models.PlanSalon,
		Status:           models.SubStatusActive,
		CurrentPeriodEnd: &end,
	}
}

func individualStripeRecord(userID uint) *models.SubscriptionRecord {
	end := time.Now().Add(20 * 24 * time.Hour)
	return &models.SubscriptionRecord{
		UserID:           userID,
		Source:           models.SourceStripe,
		ExternalID:       "sub_1",
		Plan:             models.PlanIndividual,
		Status:           models.SubStatusActive,
		CurrentPeriodEnd: &end,
	}
}

func TestCreateTeam(t *testing.T) {
	repo := newFakeRepo()
	billingRepo := newFakeBillingRepo()
	require.NoError(t, billingRepo.UpsertEntitlement(salonEntitlement(1)))

	var jobs []capturedJob
	svc := newTestService(repo, billingRepo, &fakeCanceler{}, &jobs)

	team, err := svc.CreateTeam(context.Background(), 1, "Salon Lumière", 5)
	require.NoError(t, err)
	assert.Equal(t, uint(1), team.OwnerID)

	// the owner occupies the first seat
	count, err := repo.CountMembers(team.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.NotNil(t, repo.userTeams[1])
	assert.Equal(t, team.ID, *repo.userTeams[1])
}

func TestCreateTeamRequiresSalonPlan(t *testing.T) {
	repo := newFakeRepo()
	billingRepo := newFakeBillingRepo()

	var jobs []capturedJob
	svc := newTestService(repo, billingRepo, &fakeCanceler{}, &jobs)

	// no entitlement at all
	_, err := svc.CreateTeam(context.Background(), 1, "No Plan", 5)
	assert.True(t, errors.Is(err, ErrSalonPlanNeeded))

	// individual tier is not enough
	end := time.Now().Add(20 * 24 * time.Hour)
	require.NoError(t, billingRepo.UpsertEntitlement(&models.Entitlement{
		UserID: 1, Plan: models.PlanIndividual, Status: models.SubStatusActive, CurrentPeriodEnd: &end,
	}))
	_, err = svc.CreateTeam(context.Background(), 1, "Individual", 5)
	assert.True(t, errors.Is(err, ErrSalonPlanNeeded))

	// lapsed salon plan does not qualify either
	past := time.Now().Add(-time.Hour)
	require.NoError(t, billingRepo.UpsertEntitlement(&models.Entitlement{
		UserID: 1, Plan: models.PlanSalon, Status: models.SubStatusActive, CurrentPeriodEnd: &past,
	}))
	_, err = svc.CreateTeam(context.Background(), 1, "Lapsed", 5)
	assert.True(t, errors.Is(err, ErrSalonPlanNeeded))
}

func TestJoinTeamSchedulesIndividualCancellation(t *testing.T) {
	repo := newFakeRepo()
	billingRepo := newFakeBillingRepo()
	require.NoError(t, billingRepo.UpsertSubscriptionRecord(individualStripeRecord(2)))

	team := &models.Team{Name: "Salon", OwnerID: 1, SeatLimit: 5}
	require.NoError(t, repo.CreateTeam(team))

	canceler := &fakeCanceler{resp: canceledSubscription(t, 2)}
	var jobs []capturedJob
	svc := newTestService(repo, billingRepo, canceler, &jobs)

	res, err := svc.JoinTeam(context.Background(), team.ID, 2)
	require.NoError(t, err)
	assert.False(t, res.AlreadyMember)
	assert.True(t, res.CancellationScheduled)
	assert.False(t, res.CancellationDeferred)
	assert.Equal(t, []string{"sub_1"}, canceler.calls)
	assert.Empty(t, jobs)

	// mirror reflects the provider response
	rec, err := billingRepo.GetSubscriptionRecord(2, models.SourceStripe)
	require.NoError(t, err)
	assert.True(t, rec.CancelAtPeriodEnd)
}

func TestJoinTeamDefersCancellationOnProviderFailure(t *testing.T) {
	repo := newFakeRepo()
	billingRepo := newFakeBillingRepo()
	require.NoError(t, billingRepo.UpsertSubscriptionRecord(individualStripeRecord(2)))

	team := &models.Team{Name: "Salon", OwnerID: 1}
	require.NoError(t, repo.CreateTeam(team))

	canceler := &fakeCanceler{err: errors.New("provider down")}
	var jobs []capturedJob
	svc := newTestService(repo, billingRepo, canceler, &jobs)

	res, err := svc.JoinTeam(context.Background(), team.ID, 2)
	require.NoError(t, err)
	// membership commits regardless of the provider outcome
	count, _ := repo.CountMembers(team.ID)
	assert.Equal(t, int64(1), count)
	assert.False(t, res.CancellationScheduled)
	assert.True(t, res.CancellationDeferred)

	require.Len(t, jobs, 1)
	assert.Equal(t, jobqueue.JobTypeProviderCancel, jobs[0].jobType)
	payload, perr := jobqueue.ProviderCancelJobPayloadFromMap(jobs[0].payload)
	require.NoError(t, perr)
	assert.Equal(t, uint(2), payload.UserID)
	assert.Equal(t, "sub_1", payload.SubscriptionID)
	assert.Equal(t, "team_join", payload.Reason)
}

func TestJoinTeamAlreadyMember(t *testing.T) {
	repo := newFakeRepo()
	billingRepo := newFakeBillingRepo()
	require.NoError(t, billingRepo.UpsertSubscriptionRecord(individualStripeRecord(2)))

	team := &models.Team{Name: "Salon", OwnerID: 1}
	require.NoError(t, repo.CreateTeam(team))
	_, err := repo.AddMemberIfNotExists(&models.TeamMember{TeamID: team.ID, UserID: 2, Role: models.TeamRoleMember})
	require.NoError(t, err)

	canceler := &fakeCanceler{resp: canceledSubscription(t, 2)}
	var jobs []capturedJob
	svc := newTestService(repo, billingRepo, canceler, &jobs)

	res, err := svc.JoinTeam(context.Background(), team.ID, 2)
	require.NoError(t, err)
	assert.True(t, res.AlreadyMember)
	// a re-join must not touch the subscription again
	assert.Empty(t, canceler.calls)
}

func TestJoinTeamSeatLimit(t *testing.T) {
	repo := newFakeRepo()
	team := &models.Team{Name: "Tiny", OwnerID: 1, SeatLimit: 1}
	require.NoError(t, repo.CreateTeam(team))
	_, err := repo.AddMemberIfNotExists(&models.TeamMember{TeamID: team.ID, UserID: 1, Role: models.TeamRoleOwner})
	require.NoError(t, err)

	var jobs []capturedJob
	svc := newTestService(repo, newFakeBillingRepo(), &fakeCanceler{}, &jobs)

	_, err = svc.JoinTeam(context.Background(), team.ID, 2)
	assert.True(t, errors.Is(err, ErrSeatLimitReached))
}

func TestJoinTeamNotFound(t *testing.T) {
	var jobs []capturedJob
	svc := newTestService(newFakeRepo(), newFakeBillingRepo(), &fakeCanceler{}, &jobs)

	_, err := svc.JoinTeam(context.Background(), 99, 2)
	assert.True(t, errors.Is(err, ErrTeamNotFound))
}

func TestJoinTeamSkipsHandoverForNonQualifyingSubscriptions(t *testing.T) {
	tests := []struct {
		name   string
		record *models.SubscriptionRecord
	}{
		{"no stripe record", nil},
		{"salon plan stays", func() *models.SubscriptionRecord {
			r := individualStripeRecord(2)
			r.Plan = models.PlanSalon
			return r
		}()},
		{"already scheduled", func() *models.SubscriptionRecord {
			r := individualStripeRecord(2)
			r.CancelAtPeriodEnd = true
			return r
		}()},
		{"not active", func() *models.SubscriptionRecord {
			r := individualStripeRecord(2)
			r.Status = models.SubStatusPastDue
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			billingRepo := newFakeBillingRepo()
			if tt.record != nil {
				require.NoError(t, billingRepo.UpsertSubscriptionRecord(tt.record))
			}
			team := &models.Team{Name: "Salon", OwnerID: 1}
			require.NoError(t, repo.CreateTeam(team))

			canceler := &fakeCanceler{resp: canceledSubscription(t, 2)}
			var jobs []capturedJob
			svc := newTestService(repo, billingRepo, canceler, &jobs)

			res, err := svc.JoinTeam(context.Background(), team.ID, 2)
			require.NoError(t, err)
			assert.False(t, res.CancellationScheduled)
			assert.False(t, res.CancellationDeferred)
			assert.Empty(t, canceler.calls)
		})
	}
}
