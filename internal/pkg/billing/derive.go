package billing

import (
	"sort"
	"strings"
	"time"

	"github.com/StyleLoft/StyleLoft/app/models"
)

// DeriveStatus maps a provider-reported subscription state onto the canonical
// status set. Providers are authoritative for their own source: an
// active/trialing report with an open expiry derives to active, a terminal
// cancellation to canceled, everything lapsed to expired.
func DeriveStatus(providerStatus string, expiresAt *time.Time, now time.Time) string {
	s := strings.ToLower(strings.TrimSpace(providerStatus))
	switch s {
	case "active", "trialing":
		if expiresAt == nil || expiresAt.After(now) {
			return models.SubStatusActive
		}
		return models.SubStatusExpired
	case "past_due":
		return models.SubStatusPastDue
	case "canceled", "cancelled":
		return models.SubStatusCanceled
	case "paused":
		return models.SubStatusPaused
	default:
		return models.SubStatusExpired
	}
}

// mergeRecords folds a user's per-source mirrors into the canonical
// entitlement fields. A record that currently grants access wins, ranked by
// plan tier and then by the later period end. Without any entitling record
// the user keeps the plan of their most recently updated mirror so a lapse
// degrades the status but never silently promotes or demotes the tier.
func mergeRecords(records []models.SubscriptionRecord, now time.Time) (plan, status string, periodStart, periodEnd *time.Time, cancelAtPeriodEnd bool) {
	if len(records) == 0 {
		return models.PlanFree, models.SubStatusActive, nil, nil, false
	}

	var winner *models.SubscriptionRecord
	for i := range records {
		r := &records[i]
		if !isEntitlingStatus(r.Status) || !isPaidPlan(r.Plan) {
			continue
		}
		if r.CurrentPeriodEnd != nil && !r.CurrentPeriodEnd.After(now) {
			continue
		}
		if winner == nil || betterRecord(r, winner) {
			winner = r
		}
	}

	if winner != nil {
		return normalizePlan(winner.Plan), models.SubStatusActive,
			winner.CurrentPeriodStart, winner.CurrentPeriodEnd, winner.CancelAtPeriodEnd
	}

	// No source grants access: surface the freshest raw state.
	sorted := make([]models.SubscriptionRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	latest := sorted[0]

	status = latest.Status
	if status == models.SubStatusActive {
		// Active report with a lapsed period window.
		status = models.SubStatusExpired
	}
	return normalizePlan(latest.Plan), status,
		latest.CurrentPeriodStart, latest.CurrentPeriodEnd, latest.CancelAtPeriodEnd
}

func betterRecord(a, b *models.SubscriptionRecord) bool {
	if planRank(a.Plan) != planRank(b.Plan) {
		return planRank(a.Plan) > planRank(b.Plan)
	}
	ae, be := a.CurrentPeriodEnd, b.CurrentPeriodEnd
	if ae == nil {
		return true
	}
	if be == nil {
		return false
	}
	return ae.After(*be)
}
