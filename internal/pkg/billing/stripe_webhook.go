package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/StyleLoft/StyleLoft/app/models"
)

// StripeEvent is the outer envelope of a card-billing webhook.
type StripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func ParseStripeEvent(payload []byte) (*StripeEvent, error) {
	var ev StripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.Type) == "" {
		return nil, errors.New("stripe event missing id or type")
	}
	return &ev, nil
}

// IsSubscriptionEvent reports whether the event carries a subscription object.
func (ev *StripeEvent) IsSubscriptionEvent() bool {
	switch ev.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		return true
	default:
		return false
	}
}

// Subscription decodes the event payload as a subscription object. Deleted
// events report the terminal canceled status regardless of the object state.
func (ev *StripeEvent) Subscription() (*StripeSubscription, error) {
	var sub StripeSubscription
	if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, errors.New("stripe event subscription missing id")
	}
	if ev.Type == "customer.subscription.deleted" {
		sub.Status = "canceled"
	}
	return &sub, nil
}

// Invoice decodes the event payload as an invoice object.
func (ev *StripeEvent) Invoice() (*StripeInvoice, error) {
	var inv StripeInvoice
	if err := json.Unmarshal(ev.Data.Object, &inv); err != nil {
		return nil, err
	}
	if strings.TrimSpace(inv.ID) == "" {
		return nil, errors.New("stripe event invoice missing id")
	}
	return &inv, nil
}

// Charge decodes the event payload as a charge object.
func (ev *StripeEvent) Charge() (*StripeCharge, error) {
	var ch StripeCharge
	if err := json.Unmarshal(ev.Data.Object, &ch); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ch.ID) == "" {
		return nil, errors.New("stripe event charge missing id")
	}
	return &ch, nil
}

// SubscriptionUserID extracts the local user id a subscription was created
// for. Checkout stamps it into the subscription metadata.
func SubscriptionUserID(sub *StripeSubscription) (uint, error) {
	raw := strings.TrimSpace(sub.Metadata["user_id"])
	if raw == "" {
		return 0, errors.New("stripe subscription metadata missing user_id")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("stripe subscription metadata has invalid user_id %q", raw)
	}
	return uint(id), nil
}

// InvoiceLedgerInput builds the completed-payment ledger event for a paid
// invoice, keyed by the invoice id. Stripe reports its fee only on the
// balance transaction, so the fee is estimated from the card schedule.
func InvoiceLedgerInput(inv *StripeInvoice, userID uint, plan string) LedgerInput {
	occurred := time.Now().UTC()
	if inv.Created > 0 {
		occurred = time.Unix(inv.Created, 0).UTC()
	}
	return LedgerInput{
		UserID:      userID,
		Source:      models.SourceStripe,
		ExternalID:  inv.ID,
		ProductType: models.LedgerProductSubscription,
		Plan:        plan,
		Status:      models.LedgerStatusCompleted,
		AmountCents: inv.AmountPaid,
		Currency:    inv.Currency,
		OccurredAt:  occurred,
		Metadata: map[string]string{
			"subscription_id": inv.SubscriptionID,
			"payment_intent":  inv.PaymentIntent,
			"charge":          inv.Charge,
		},
	}
}

// FailedInvoiceLedgerInput records a failed payment attempt with zero net
// contribution, keyed by invoice id plus attempt marker so a later success
// on the same invoice still inserts.
func FailedInvoiceLedgerInput(inv *StripeInvoice, userID uint, plan string) LedgerInput {
	occurred := time.Now().UTC()
	if inv.Created > 0 {
		occurred = time.Unix(inv.Created, 0).UTC()
	}
	return LedgerInput{
		UserID:      userID,
		Source:      models.SourceStripe,
		ExternalID:  inv.ID + ":failed",
		ProductType: models.LedgerProductSubscription,
		Plan:        plan,
		Status:      models.LedgerStatusFailed,
		AmountCents: 0,
		FeeCents:    0,
		HasFee:      true,
		Currency:    inv.Currency,
		OccurredAt:  occurred,
		Metadata: map[string]string{
			"subscription_id": inv.SubscriptionID,
			"amount_due":      strconv.FormatInt(inv.AmountDue, 10),
		},
	}
}

// RefundLedgerInputs builds one compensating entry per refund on a charge.
// Each entry is keyed by the refund's own id and linked to the original via
// metadata; summation, not mutation, produces the correct lifetime value.
func RefundLedgerInputs(ch *StripeCharge, userID uint, plan string) []LedgerInput {
	var out []LedgerInput
	for _, rf := range ch.Refunds.Data {
		if rf.ID == "" || rf.Amount <= 0 {
			continue
		}
		occurred := time.Now().UTC()
		if rf.Created > 0 {
			occurred = time.Unix(rf.Created, 0).UTC()
		}
		out = append(out, LedgerInput{
			UserID:      userID,
			Source:      models.SourceStripe,
			ExternalID:  rf.ID,
			ProductType: models.LedgerProductSubscription,
			Plan:        plan,
			Status:      models.LedgerStatusRefunded,
			AmountCents: -rf.Amount,
			Currency:    rf.Currency,
			OccurredAt:  occurred,
			Metadata: map[string]string{
				"charge":         ch.ID,
				"payment_intent": ch.PaymentIntent,
			},
		})
	}
	return out
}
