// Package admin implements the administrative mutation path for live
// subscriptions. Every mutation is issued to the provider first; the
// provider's response is then pushed through the exact same derivation and
// upsert path the webhook adapter uses, so the local mirror reflects what
// was actually mutated rather than what the admin intended.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/internal/pkg/billing"
)

const (
	ActionCancel          = "cancel"
	ActionResume          = "resume"
	ActionPause           = "pause"
	ActionResumeFromPause = "resume_from_pause"
	ActionUpdatePlan      = "update_plan"
	ActionRefund          = "refund"
)

var (
	ErrUnknownAction     = errors.New("admin: unknown action")
	ErrUnsupportedSource = errors.New("admin: only the stripe source supports server-side mutation")
)

// ActionRequest is the admin mutation payload.
type ActionRequest struct {
	Action         string `json:"action" validate:"required"`
	Source         string `json:"source" validate:"required"`
	SubscriptionID string `json:"subscription_id"`
	PriceID        string `json:"price_id"`

	// Refund target: exactly one of these; an invoice id is resolved to its
	// payment intent first.
	PaymentIntentID string `json:"payment_intent_id"`
	ChargeID        string `json:"charge_id"`
	InvoiceID       string `json:"invoice_id"`
	AmountCents     int64  `json:"amount_cents" validate:"min=0"`
}

// Result carries the provider's resulting object plus the re-derived local
// state for subscription mutations.
type Result struct {
	Subscription *billing.StripeSubscription `json:"subscription,omitempty"`
	Refund       *billing.StripeRefund       `json:"refund,omitempty"`
	Entitlement  *models.Entitlement         `json:"entitlement,omitempty"`
}

// Gateway executes admin actions against the provider and reconverges local
// state from the authoritative response.
type Gateway struct {
	stripe *billing.StripeClient
	svc    *billing.Service
	now    func() time.Time
}

func NewGateway(stripe *billing.StripeClient, svc *billing.Service) *Gateway {
	return &Gateway{stripe: stripe, svc: svc, now: time.Now}
}

// Execute runs one admin action. Provider failures and timeouts surface as
// errors with local state untouched; a provider-side success that fails to
// persist locally is never rolled back at the provider. The provider stays
// the source of truth and the mirror reconverges on the next event.
func (g *Gateway) Execute(ctx context.Context, req ActionRequest) (*Result, error) {
	if err := validator.New().Struct(req); err != nil {
		return nil, err
	}
	if strings.ToLower(strings.TrimSpace(req.Source)) != models.SourceStripe {
		return nil, ErrUnsupportedSource
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case ActionCancel:
		return g.mutateSubscription(ctx, req.SubscriptionID, func(id string) (*billing.StripeSubscription, error) {
			return g.stripe.SetCancelAtPeriodEnd(ctx, id, true)
		})
	case ActionResume:
		return g.mutateSubscription(ctx, req.SubscriptionID, func(id string) (*billing.StripeSubscription, error) {
			return g.stripe.SetCancelAtPeriodEnd(ctx, id, false)
		})
	case ActionPause:
		return g.mutateSubscription(ctx, req.SubscriptionID, func(id string) (*billing.StripeSubscription, error) {
			return g.stripe.PauseSubscription(ctx, id)
		})
	case ActionResumeFromPause:
		return g.mutateSubscription(ctx, req.SubscriptionID, func(id string) (*billing.StripeSubscription, error) {
			return g.stripe.ResumeFromPause(ctx, id)
		})
	case ActionUpdatePlan:
		if strings.TrimSpace(req.PriceID) == "" {
			return nil, errors.New("admin: update_plan requires price_id")
		}
		return g.mutateSubscription(ctx, req.SubscriptionID, func(id string) (*billing.StripeSubscription, error) {
			return g.stripe.ChangePrice(ctx, id, req.PriceID)
		})
	case ActionRefund:
		return g.refund(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

func (g *Gateway) mutateSubscription(ctx context.Context, subscriptionID string, mutate func(id string) (*billing.StripeSubscription, error)) (*Result, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("admin: subscription_id is required")
	}

	sub, err := mutate(id)
	if err != nil {
		return nil, err
	}

	ent, err := g.reconverge(ctx, sub)
	if err != nil {
		// Provider change stands; report the persistence failure.
		return &Result{Subscription: sub}, err
	}
	return &Result{Subscription: sub, Entitlement: ent}, nil
}

// reconverge runs the provider response through the shared adapter
// derivation, identical to the webhook path.
func (g *Gateway) reconverge(ctx context.Context, sub *billing.StripeSubscription) (*models.Entitlement, error) {
	userID, err := billing.SubscriptionUserID(sub)
	if err != nil {
		// Older subscriptions predate metadata stamping; fall back to the
		// mirror table.
		userID, err = g.svc.FindUserBySubscription(ctx, models.SourceStripe, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("admin: cannot resolve local user for subscription %s: %w", sub.ID, err)
		}
	}

	raw, _ := json.Marshal(sub)
	state, err := billing.DeriveStripeState(sub, userID, string(raw), g.now())
	if err != nil {
		return nil, err
	}
	_, ent, err := g.svc.SyncSource(ctx, state)
	return ent, err
}

// refund issues a provider refund. The compensating ledger entry is written
// by the webhook path reacting to the refund, never here, so the ledger
// keeps a single writer per external id.
func (g *Gateway) refund(ctx context.Context, req ActionRequest) (*Result, error) {
	paymentIntentID := strings.TrimSpace(req.PaymentIntentID)
	chargeID := strings.TrimSpace(req.ChargeID)

	if paymentIntentID == "" && chargeID == "" {
		invoiceID := strings.TrimSpace(req.InvoiceID)
		if invoiceID == "" {
			return nil, errors.New("admin: refund requires payment_intent_id, charge_id or invoice_id")
		}
		inv, err := g.stripe.GetInvoice(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(inv.PaymentIntent) == "" {
			return nil, fmt.Errorf("admin: invoice %s has no payment intent to refund", invoiceID)
		}
		paymentIntentID = inv.PaymentIntent
	}

	refund, err := g.stripe.CreateRefund(ctx, paymentIntentID, chargeID, req.AmountCents)
	if err != nil {
		return nil, err
	}
	return &Result{Refund: refund}, nil
}
