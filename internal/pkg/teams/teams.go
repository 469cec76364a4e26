// Package teams manages salon team membership and the billing handover that
// comes with it: a member who joins a team stops paying individually, so an
// active individual card subscription is scheduled to cancel at period end.
package teams

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/internal/pkg/billing"
	"github.com/StyleLoft/StyleLoft/internal/pkg/jobqueue"
)

var (
	ErrTeamNotFound     = errors.New("teams: team not found")
	ErrSeatLimitReached = errors.New("teams: seat limit reached")
	ErrSalonPlanNeeded  = errors.New("teams: owner needs an active salon plan")
)

// ProviderCanceler is the single provider call the handover needs.
type ProviderCanceler interface {
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*billing.StripeSubscription, error)
}

// Enqueuer defers a provider call that failed synchronously.
type Enqueuer func(jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)

// JoinResult reports what happened during a join, including whether the
// individual-subscription handover ran inline or was deferred.
type JoinResult struct {
	Member                *models.TeamMember `json:"member"`
	AlreadyMember         bool               `json:"already_member"`
	CancellationScheduled bool               `json:"cancellation_scheduled"`
	CancellationDeferred  bool               `json:"cancellation_deferred"`
}

// Service implements team membership on top of the injected repository and
// billing service.
type Service struct {
	repo    Repository
	billing *billing.Service
	stripe  ProviderCanceler
	enqueue Enqueuer
	now     func() time.Time
}

func NewService(repo Repository, billingSvc *billing.Service, stripe ProviderCanceler, enqueue Enqueuer) *Service {
	return &Service{
		repo:    repo,
		billing: billingSvc,
		stripe:  stripe,
		enqueue: enqueue,
		now:     time.Now,
	}
}

// CreateTeam creates a team owned by a user on an active salon plan and
// enrolls the owner as its first member.
func (s *Service) CreateTeam(ctx context.Context, ownerID uint, name string, seatLimit int) (*models.Team, error) {
	ent, err := s.billing.GetEntitlement(ctx, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSalonPlanNeeded
		}
		return nil, err
	}
	if ent.Plan != models.PlanSalon || !ent.GrantsAccess(s.now()) {
		return nil, ErrSalonPlanNeeded
	}

	team := &models.Team{
		Name:      name,
		OwnerID:   ownerID,
		SeatLimit: seatLimit,
	}
	if err := s.repo.CreateTeam(team); err != nil {
		return nil, err
	}
	owner := &models.TeamMember{TeamID: team.ID, UserID: ownerID, Role: models.TeamRoleOwner}
	if _, err := s.repo.AddMemberIfNotExists(owner); err != nil {
		return nil, err
	}
	if err := s.repo.SetUserTeam(ownerID, &team.ID); err != nil {
		return nil, err
	}
	return team, nil
}

// JoinTeam enrolls a user. The membership write commits unconditionally; the
// subscription handover is best-effort and never blocks or reverses the join.
func (s *Service) JoinTeam(ctx context.Context, teamID, userID uint) (*JoinResult, error) {
	team, err := s.repo.GetTeam(teamID)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, ErrTeamNotFound
	}

	if team.SeatLimit > 0 {
		count, err := s.repo.CountMembers(teamID)
		if err != nil {
			return nil, err
		}
		if count >= int64(team.SeatLimit) {
			return nil, ErrSeatLimitReached
		}
	}

	member := &models.TeamMember{TeamID: teamID, UserID: userID, Role: models.TeamRoleMember}
	inserted, err := s.repo.AddMemberIfNotExists(member)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &JoinResult{Member: member, AlreadyMember: true}, nil
	}
	if err := s.repo.SetUserTeam(userID, &teamID); err != nil {
		return nil, err
	}

	result := &JoinResult{Member: member}
	s.handOverIndividualSubscription(ctx, userID, result)
	return result, nil
}

// handOverIndividualSubscription schedules the member's own card
// subscription to lapse at period end. Only an active paid individual
// subscription from the card source qualifies; store-billed subscriptions
// cannot be canceled server-side. A provider failure is logged and queued
// for out-of-band retry.
func (s *Service) handOverIndividualSubscription(ctx context.Context, userID uint, result *JoinResult) {
	record, err := s.billing.GetSubscriptionRecord(ctx, userID, models.SourceStripe)
	if err != nil || record == nil {
		return
	}
	if record.Plan != models.PlanIndividual || record.Status != models.SubStatusActive || record.CancelAtPeriodEnd {
		return
	}

	sub, err := s.stripe.SetCancelAtPeriodEnd(ctx, record.ExternalID, true)
	if err != nil {
		log.Errorf("[Teams] Provider cancel failed for user %d subscription %s, deferring: %v", userID, record.ExternalID, err)
		payload := jobqueue.ProviderCancelJobPayload{
			UserID:         userID,
			Source:         models.SourceStripe,
			SubscriptionID: record.ExternalID,
			Reason:         "team_join",
		}
		if _, qErr := s.enqueue(jobqueue.JobTypeProviderCancel, payload.ToMap()); qErr != nil {
			log.Errorf("[Teams] Failed to enqueue deferred cancel for user %d: %v", userID, qErr)
		} else {
			result.CancellationDeferred = true
		}
		return
	}

	raw, _ := json.Marshal(sub)
	state, err := billing.DeriveStripeState(sub, userID, string(raw), s.now())
	if err != nil {
		log.Errorf("[Teams] Failed to derive state after cancel for user %d: %v", userID, err)
		return
	}
	if _, _, err := s.billing.SyncSource(ctx, state); err != nil {
		log.Errorf("[Teams] Failed to sync canceled subscription for user %d: %v", userID, err)
		return
	}
	result.CancellationScheduled = true
}
