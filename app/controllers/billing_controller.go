package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/app/repository"
	"github.com/StyleLoft/StyleLoft/internal/pkg/billing"
	"github.com/StyleLoft/StyleLoft/internal/pkg/database"
	"github.com/StyleLoft/StyleLoft/internal/pkg/env"
	"github.com/StyleLoft/StyleLoft/internal/pkg/mail"
	"github.com/StyleLoft/StyleLoft/internal/pkg/session"
	"github.com/StyleLoft/StyleLoft/internal/pkg/usercontext"
)

// HandleStripeWebhook ingests card-billing events. Persist first, verify the
// signature, then process; an event that previously failed processing is
// retried on redelivery, a fully processed one is acknowledged as duplicate.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signatureHeader := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	ev, err := billing.ParseStripeEvent(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	signatureValid := billing.VerifyStripeWebhookSignature(rawBody, signatureHeader, secret, billing.DefaultSignatureTolerance, time.Now())
	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookInput{
		Source:          models.SourceStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	processErr := processStripeEvent(ctx, svc, ev, string(rawBody))
	_ = svc.MarkWebhookProcessed(ctx, stored.ID, processErr)
	if processErr != nil {
		if errors.Is(processErr, errEventIgnored) {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		}
		log.Errorf("[Billing] Stripe event %s (%s) failed: %v", ev.ID, ev.Type, processErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// errEventIgnored marks events that carry nothing for this system. They are
// acknowledged so the provider stops redelivering them.
var errEventIgnored = errors.New("event ignored")

func processStripeEvent(ctx context.Context, svc *billing.Service, ev *billing.StripeEvent, rawBody string) error {
	switch {
	case ev.IsSubscriptionEvent():
		return processStripeSubscriptionEvent(ctx, svc, ev, rawBody)
	case ev.Type == "invoice.paid" || ev.Type == "invoice.payment_succeeded":
		return processStripeInvoiceEvent(ctx, svc, ev, false)
	case ev.Type == "invoice.payment_failed":
		return processStripeInvoiceEvent(ctx, svc, ev, true)
	case ev.Type == "charge.refunded":
		return processStripeRefundEvent(ctx, svc, ev)
	default:
		return errEventIgnored
	}
}

func processStripeSubscriptionEvent(ctx context.Context, svc *billing.Service, ev *billing.StripeEvent, rawBody string) error {
	sub, err := ev.Subscription()
	if err != nil {
		return err
	}

	userID, err := billing.SubscriptionUserID(sub)
	if err != nil {
		// Subscriptions created before metadata stamping resolve through the
		// mirror table.
		userID, err = svc.FindUserBySubscription(ctx, models.SourceStripe, sub.ID)
		if err != nil {
			return fmt.Errorf("cannot resolve local user for subscription %s: %w", sub.ID, err)
		}
	}

	state, err := billing.DeriveStripeState(sub, userID, rawBody, time.Now())
	if err != nil {
		return err
	}
	_, _, err = svc.ProcessSourceEvent(ctx, state, nil)
	return err
}

func processStripeInvoiceEvent(ctx context.Context, svc *billing.Service, ev *billing.StripeEvent, failed bool) error {
	inv, err := ev.Invoice()
	if err != nil {
		return err
	}
	if strings.TrimSpace(inv.SubscriptionID) == "" {
		return errEventIgnored
	}

	userID, err := svc.FindUserBySubscription(ctx, models.SourceStripe, inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("cannot resolve local user for invoice %s: %w", inv.ID, err)
	}
	plan := stripePlanForUser(ctx, svc, userID)

	var input billing.LedgerInput
	if failed {
		input = billing.FailedInvoiceLedgerInput(inv, userID, plan)
	} else {
		input = billing.InvoiceLedgerInput(inv, userID, plan)
	}
	inserted, err := svc.RecordLedgerEntry(ctx, input)
	if err != nil {
		return err
	}
	if failed && inserted {
		notifyPaymentFailed(userID, plan)
	}
	return nil
}

// notifyPaymentFailed emails the member about a failed renewal charge. Only
// the first sighting of a failed invoice notifies; redeliveries are absorbed
// by the ledger dedup. Best effort, never fails the webhook.
func notifyPaymentFailed(userID uint, plan string) {
	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userID)
	if err != nil {
		return
	}
	go func(email, plan string) {
		if err := mail.SendPaymentFailedMail(email, plan); err != nil {
			log.Warnf("[Billing] Payment failed mail to user %d not sent: %v", userID, err)
		}
	}(user.Email, plan)
}

func processStripeRefundEvent(ctx context.Context, svc *billing.Service, ev *billing.StripeEvent) error {
	ch, err := ev.Charge()
	if err != nil {
		return err
	}

	userID, err := stripeChargeUser(ctx, svc, ch)
	if err != nil {
		return err
	}
	plan := stripePlanForUser(ctx, svc, userID)

	for _, input := range billing.RefundLedgerInputs(ch, userID, plan) {
		if _, err := svc.RecordLedgerEntry(ctx, input); err != nil {
			return err
		}
	}
	return nil
}

// stripeChargeUser resolves the charged user: the charge's invoice leads to
// the subscription, which leads to the mirror row.
func stripeChargeUser(ctx context.Context, svc *billing.Service, ch *billing.StripeCharge) (uint, error) {
	if strings.TrimSpace(ch.Invoice) == "" {
		return 0, fmt.Errorf("charge %s has no invoice to resolve a user from", ch.ID)
	}
	client := billing.NewStripeClientFromEnv()
	inv, err := client.GetInvoice(ctx, ch.Invoice)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(inv.SubscriptionID) == "" {
		return 0, fmt.Errorf("invoice %s has no subscription to resolve a user from", inv.ID)
	}
	return svc.FindUserBySubscription(ctx, models.SourceStripe, inv.SubscriptionID)
}

func stripePlanForUser(ctx context.Context, svc *billing.Service, userID uint) string {
	if rec, err := svc.GetSubscriptionRecord(ctx, userID, models.SourceStripe); err == nil {
		return rec.Plan
	}
	return models.PlanFree
}

type iapVerifyRequest struct {
	Platform      string `json:"platform"`
	Receipt       string `json:"receipt"`
	ProductID     string `json:"productId"`
	TransactionID string `json:"transactionId"`
	PurchaseToken string `json:"purchaseToken"`
	UserID        uint   `json:"userId"`
}

// HandleIAPVerify verifies a store receipt or purchase token and applies the
// result through the shared source-event path. The session user is the
// target unless an admin supplies userId explicitly.
func HandleIAPVerify(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req iapVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid JSON body"})
	}

	targetUserID := userCtx.UserID
	if req.UserID != 0 && req.UserID != userCtx.UserID {
		if !userCtx.IsAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "error": "cannot verify for another user"})
		}
		targetUserID = req.UserID
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		state  billing.SourceState
		ledger *billing.LedgerInput
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(req.Platform)) {
	case "ios", "apple":
		client := billing.NewAppStoreClientFromEnv()
		var v *billing.AppStoreVerification
		v, err = client.VerifyReceipt(ctx, req.Receipt)
		if err == nil {
			state, ledger, err = billing.DeriveAppStoreState(v, targetUserID, req.Receipt, time.Now())
		}
	case "android", "google":
		client := billing.NewPlayClientFromEnv()
		var sub *billing.PlaySubscription
		sub, err = client.VerifyPurchase(ctx, req.ProductID, req.PurchaseToken)
		if err == nil {
			state, ledger, err = billing.DerivePlayState(sub, targetUserID, req.ProductID, req.PurchaseToken, req.Receipt, time.Now())
		}
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "platform must be ios or android"})
	}

	if err != nil {
		var invalid *billing.ErrReceiptInvalid
		if errors.As(err, &invalid) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"success": false, "error": invalid.Error()})
		}
		log.Errorf("[Billing] IAP verification failed for user %d: %v", targetUserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false, "error": "verification failed"})
	}

	ent, _, err := svc.ProcessSourceEvent(ctx, state, ledger)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "could not apply verified state"})
	}

	if targetUserID == userCtx.UserID {
		_ = session.SetSessionValue(c, "user_plan", ent.Plan)
	}

	resp := fiber.Map{
		"success": true,
		"plan":    ent.Plan,
		"status":  ent.Status,
	}
	if ent.CurrentPeriodEnd != nil {
		resp["expiresAt"] = ent.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	return c.JSON(resp)
}

// HandleBillingResync re-derives the caller's entitlement from the stored
// source mirrors and refreshes the session plan cache.
func HandleBillingResync(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ent, err := svc.ReconcileEntitlement(ctx, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "resync failed"})
	}

	_ = session.SetSessionValue(c, "user_plan", ent.Plan)
	return c.JSON(fiber.Map{
		"plan":   ent.Plan,
		"status": ent.Status,
	})
}
