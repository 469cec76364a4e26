package billing

import (
	"strings"

	"github.com/StyleLoft/StyleLoft/app/models"
)

func normalizePlan(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case models.PlanIndividual:
		return models.PlanIndividual
	case models.PlanSalon:
		return models.PlanSalon
	default:
		return models.PlanFree
	}
}

func planRank(plan string) int {
	switch normalizePlan(plan) {
	case models.PlanSalon:
		return 2
	case models.PlanIndividual:
		return 1
	default:
		return 0
	}
}

func isPaidPlan(plan string) bool {
	return planRank(plan) > 0
}

// isEntitlingStatus reports whether a mirrored status can grant access at
// all. past_due and paused keep the subscription alive on the provider side
// but do not admit the user.
func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubStatusActive:
		return true
	default:
		return false
	}
}
