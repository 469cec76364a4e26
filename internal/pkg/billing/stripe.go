package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/internal/pkg/catalog"
	"github.com/StyleLoft/StyleLoft/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// StripeClient talks to the card-billing provider's REST API. The client is
// immutable shared configuration: initialized once at startup, injected into
// adapters and the admin gateway, never mutated at runtime.
type StripeClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		APIKey:     strings.TrimSpace(env.GetEnv("STRIPE_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// StripeSubscription is the subset of the provider subscription object the
// derivation path needs.
type StripeSubscription struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CustomerID         string            `json:"customer"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	PauseCollection    *struct {
		Behavior string `json:"behavior"`
	} `json:"pause_collection"`
	Items struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceRef returns the price id of the first subscription item.
func (s *StripeSubscription) PriceRef() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

type StripeInvoice struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	SubscriptionID string `json:"subscription"`
	PaymentIntent  string `json:"payment_intent"`
	Charge         string `json:"charge"`
	AmountPaid     int64  `json:"amount_paid"`
	AmountDue      int64  `json:"amount_due"`
	Currency       string `json:"currency"`
	Created        int64  `json:"created"`
}

type StripeCharge struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	PaymentIntent  string `json:"payment_intent"`
	Invoice        string `json:"invoice"`
	Created        int64  `json:"created"`
	Refunds        struct {
		Data []StripeRefund `json:"data"`
	} `json:"refunds"`
}

type StripeRefund struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
	Created       int64  `json:"created"`
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("STRIPE_API_KEY is not configured")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stripe %s %s failed: status=%d body=%s", method, path, resp.StatusCode, stripeErrorMessage(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func stripeErrorMessage(raw []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(raw)
}

// GetSubscription fetches the current authoritative subscription state.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	var sub StripeSubscription
	if err := c.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// SetCancelAtPeriodEnd schedules or un-schedules cancellation at period end.
func (c *StripeClient) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*StripeSubscription, error) {
	form := url.Values{}
	form.Set("cancel_at_period_end", fmt.Sprintf("%t", cancel))
	return c.updateSubscription(ctx, subscriptionID, form)
}

// PauseSubscription pauses payment collection; the provider keeps the
// subscription alive but voids invoices while paused.
func (c *StripeClient) PauseSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	form := url.Values{}
	form.Set("pause_collection[behavior]", "void")
	return c.updateSubscription(ctx, subscriptionID, form)
}

// ResumeFromPause clears the pause on payment collection.
func (c *StripeClient) ResumeFromPause(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	form := url.Values{}
	form.Set("pause_collection", "")
	return c.updateSubscription(ctx, subscriptionID, form)
}

// ChangePrice moves the subscription's single item to a different price.
func (c *StripeClient) ChangePrice(ctx context.Context, subscriptionID, priceID string) (*StripeSubscription, error) {
	if strings.TrimSpace(priceID) == "" {
		return nil, errors.New("price id is required")
	}
	sub, err := c.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if len(sub.Items.Data) == 0 {
		return nil, fmt.Errorf("stripe subscription %s has no items", subscriptionID)
	}
	form := url.Values{}
	form.Set("items[0][id]", sub.Items.Data[0].ID)
	form.Set("items[0][price]", strings.TrimSpace(priceID))
	form.Set("proration_behavior", "create_prorations")
	return c.updateSubscription(ctx, subscriptionID, form)
}

func (c *StripeClient) updateSubscription(ctx context.Context, subscriptionID string, form url.Values) (*StripeSubscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	var sub StripeSubscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(id), form, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetInvoice resolves an invoice, used to find the payment intent backing it.
func (c *StripeClient) GetInvoice(ctx context.Context, invoiceID string) (*StripeInvoice, error) {
	id := strings.TrimSpace(invoiceID)
	if id == "" {
		return nil, errors.New("invoice id is required")
	}
	var inv StripeInvoice
	if err := c.do(ctx, http.MethodGet, "/invoices/"+url.PathEscape(id), nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreateRefund issues a refund against a payment intent or a charge,
// optionally partial. The compensating ledger entry is NOT written here; the
// charge.refunded webhook produces it, keeping the ledger single-writer.
func (c *StripeClient) CreateRefund(ctx context.Context, paymentIntentID, chargeID string, amountCents int64) (*StripeRefund, error) {
	form := url.Values{}
	switch {
	case strings.TrimSpace(paymentIntentID) != "":
		form.Set("payment_intent", strings.TrimSpace(paymentIntentID))
	case strings.TrimSpace(chargeID) != "":
		form.Set("charge", strings.TrimSpace(chargeID))
	default:
		return nil, errors.New("payment_intent or charge id is required")
	}
	if amountCents > 0 {
		form.Set("amount", fmt.Sprintf("%d", amountCents))
	}
	var refund StripeRefund
	if err := c.do(ctx, http.MethodPost, "/refunds", form, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// DeriveStripeState turns a provider subscription object into the canonical
// SourceState. The price id must resolve through the plan catalog; unknown
// prices are an error, not a silent free tier.
func DeriveStripeState(sub *StripeSubscription, userID uint, rawPayload string, now time.Time) (SourceState, error) {
	plan, err := catalog.Resolve(models.SourceStripe, sub.PriceRef())
	if err != nil {
		return SourceState{}, err
	}

	var periodStart, periodEnd, pausedAt *time.Time
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		periodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	providerStatus := sub.Status
	if sub.PauseCollection != nil && sub.PauseCollection.Behavior != "" {
		providerStatus = "paused"
		t := now.UTC()
		pausedAt = &t
	}

	return SourceState{
		UserID:             userID,
		Source:             models.SourceStripe,
		ExternalID:         sub.ID,
		ProviderRef:        sub.PriceRef(),
		Plan:               plan.Tier,
		Status:             DeriveStatus(providerStatus, periodEnd, now),
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		PausedAt:           pausedAt,
		RawPayloadJSON:     rawPayload,
	}, nil
}
