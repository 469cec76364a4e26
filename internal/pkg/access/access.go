// Package access decides whether a user may watch a video. It is a pure
// read-side consumer of the entitlement table plus the per-video policy
// flags; it never writes.
package access

import (
	"fmt"
	"math"
	"time"

	"github.com/StyleLoft/StyleLoft/app/models"
)

const (
	ReasonNotAvailable         = "not available"
	ReasonSubscriptionRequired = "subscription required"
)

// Decision is the outcome of an access check. Video is populated only when
// Granted is true: the reference is the playback capability and must never
// ride along with a refusal.
type Decision struct {
	Granted bool
	Reason  string
	Video   *models.Video
}

func deny(reason string) Decision {
	return Decision{Granted: false, Reason: reason}
}

// Check evaluates one (entitlement, video) pair at a point in time. A nil
// entitlement is treated as no subscription at all.
func Check(ent *models.Entitlement, video *models.Video, now time.Time) Decision {
	if video == nil || !video.IsPublished {
		return deny(ReasonNotAvailable)
	}
	if video.IsFree {
		return Decision{Granted: true, Video: video}
	}

	if ent == nil || !ent.GrantsAccess(now) {
		return deny(ReasonSubscriptionRequired)
	}

	if video.DripDelayDays > 0 && ent.CurrentPeriodStart != nil {
		unlockAt := ent.CurrentPeriodStart.AddDate(0, 0, video.DripDelayDays)
		if now.Before(unlockAt) {
			days := remainingWholeDays(now, unlockAt)
			return deny(fmt.Sprintf("available in %d days", days))
		}
	}

	return Decision{Granted: true, Video: video}
}

func remainingWholeDays(now, unlockAt time.Time) int {
	return int(math.Ceil(unlockAt.Sub(now).Hours() / 24))
}
