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

// processProviderCancelJob retries a provider-side cancellation that failed
// during a synchronous flow, typically the individual-to-team handover. The
// provider call comes first; only its response mutates local state.
func (q *Queue) processProviderCancelJob(ctx context.Context, job *Job) error {
	payload, err := ProviderCancelJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse provider cancel payload: %w", err)
	}

	if payload.Source != models.SourceStripe {
		// Store-billed subscriptions can only be canceled by the user in the
		// store UI. Nothing to do server-side.
		log.Warnf("[ProviderCancel] Skipping job %s: source %s has no server-side cancel", job.ID, payload.Source)
		return nil
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	svc := billing.NewServiceFromDB(db)
	client := billing.NewStripeClientFromEnv()

	sub, err := client.SetCancelAtPeriodEnd(ctx, payload.SubscriptionID, true)
	if err != nil {
		return fmt.Errorf("provider cancel for subscription %s: %w", payload.SubscriptionID, err)
	}

	raw, _ := json.Marshal(sub)
	state, err := billing.DeriveStripeState(sub, payload.UserID, string(raw), time.Now())
	if err != nil {
		return fmt.Errorf("derive state after cancel: %w", err)
	}
	if _, _, err := svc.SyncSource(ctx, state); err != nil {
		return fmt.Errorf("sync after cancel: %w", err)
	}

	log.Infof("[ProviderCancel] Subscription %s set to cancel at period end (user %d, reason: %s)",
		payload.SubscriptionID, payload.UserID, payload.Reason)
	return nil
}
