package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/internal/pkg/billing"
	"github.com/StyleLoft/StyleLoft/internal/pkg/database"
)

// processSourceResyncJob re-pulls provider state for one user and source and
// re-derives the entitlement. Stripe subscriptions are fetched fresh; store
// sources have no server-pullable state without a client receipt, so they
// re-derive from the stored mirror only.
func (q *Queue) processSourceResyncJob(ctx context.Context, job *Job) error {
	payload, err := SourceResyncJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse source resync payload: %w", err)
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	svc := billing.NewServiceFromDB(db)

	if payload.Source != models.SourceStripe {
		if _, err := svc.ReconcileEntitlement(ctx, payload.UserID); err != nil {
			return fmt.Errorf("reconcile user %d: %w", payload.UserID, err)
		}
		log.Infof("[SourceResync] Re-derived entitlement for user %d from stored %s state", payload.UserID, payload.Source)
		return nil
	}

	record, err := svc.GetSubscriptionRecord(ctx, payload.UserID, models.SourceStripe)
	if err != nil {
		return fmt.Errorf("load stripe record for user %d: %w", payload.UserID, err)
	}

	client := billing.NewStripeClientFromEnv()
	sub, err := client.GetSubscription(ctx, record.ExternalID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", record.ExternalID, err)
	}

	raw, _ := json.Marshal(sub)
	state, err := billing.DeriveStripeState(sub, payload.UserID, string(raw), time.Now())
	if err != nil {
		return fmt.Errorf("derive state for subscription %s: %w", record.ExternalID, err)
	}
	if _, _, err := svc.SyncSource(ctx, state); err != nil {
		return fmt.Errorf("sync user %d: %w", payload.UserID, err)
	}

	log.Infof("[SourceResync] Resynced stripe subscription %s for user %d", record.ExternalID, payload.UserID)
	return nil
}
