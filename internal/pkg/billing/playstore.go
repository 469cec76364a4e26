package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/internal/pkg/catalog"
	"github.com/StyleLoft/StyleLoft/internal/pkg/env"
)

const defaultPlayAPIBaseURL = "https://androidpublisher.googleapis.com/androidpublisher/v3"

// PlayClient checks Android purchase tokens against the Play Developer API.
type PlayClient struct {
	APIBaseURL  string
	PackageName string
	AccessToken string

	HTTPClient *http.Client
}

func NewPlayClientFromEnv() *PlayClient {
	return &PlayClient{
		APIBaseURL:  strings.TrimRight(env.GetEnv("PLAY_API_BASE_URL", defaultPlayAPIBaseURL), "/"),
		PackageName: strings.TrimSpace(env.GetEnv("PLAY_PACKAGE_NAME", "com.styleloft.app")),
		AccessToken: strings.TrimSpace(env.GetEnv("PLAY_ACCESS_TOKEN", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// PlaySubscription mirrors the Play purchases.subscriptions resource fields
// the derivation needs. Millis and micros arrive as strings.
type PlaySubscription struct {
	StartTimeMillis   string `json:"startTimeMillis"`
	ExpiryTimeMillis  string `json:"expiryTimeMillis"`
	AutoRenewing      bool   `json:"autoRenewing"`
	OrderID           string `json:"orderId"`
	PaymentState      *int   `json:"paymentState"`
	CancelReason      *int   `json:"cancelReason"`
	PriceAmountMicros string `json:"priceAmountMicros"`
	PriceCurrencyCode string `json:"priceCurrencyCode"`
}

// VerifyPurchase resolves a purchase token for a subscription product.
func (c *PlayClient) VerifyPurchase(ctx context.Context, productID, purchaseToken string) (*PlaySubscription, error) {
	if strings.TrimSpace(productID) == "" || strings.TrimSpace(purchaseToken) == "" {
		return nil, errors.New("product id and purchase token are required")
	}
	if c.AccessToken == "" {
		return nil, errors.New("PLAY_ACCESS_TOKEN is not configured")
	}

	endpoint := fmt.Sprintf("%s/applications/%s/purchases/subscriptions/%s/tokens/%s",
		c.APIBaseURL,
		url.PathEscape(c.PackageName),
		url.PathEscape(strings.TrimSpace(productID)),
		url.PathEscape(strings.TrimSpace(purchaseToken)),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("play purchase check failed: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out PlaySubscription
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DerivePlayState maps a verified Play subscription to the canonical
// SourceState plus the purchase ledger event, keyed by the store order id.
// Play reports the charged amount in micros, so no fee estimate is needed
// for the amount itself; the store take rate still estimates the fee.
func DerivePlayState(sub *PlaySubscription, userID uint, productID, purchaseToken, rawPayload string, now time.Time) (SourceState, *LedgerInput, error) {
	plan, err := catalog.Resolve(models.SourcePlayIAP, productID)
	if err != nil {
		return SourceState{}, nil, err
	}
	if strings.TrimSpace(sub.OrderID) == "" {
		return SourceState{}, nil, errors.New("play subscription missing order id")
	}

	var periodStart, periodEnd *time.Time
	if ms := parseMS(sub.StartTimeMillis); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		periodStart = &t
	}
	if ms := parseMS(sub.ExpiryTimeMillis); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		periodEnd = &t
	}

	// A cancel reason with time left on the window is a scheduled lapse, not
	// a revocation; the user stays paid through the period. Only a lapsed
	// window turns it terminal.
	providerStatus := "active"
	if periodEnd != nil && !periodEnd.After(now) {
		providerStatus = "expired"
		if sub.CancelReason != nil {
			providerStatus = "canceled"
		}
	}

	state := SourceState{
		UserID:             userID,
		Source:             models.SourcePlayIAP,
		ExternalID:         purchaseToken,
		ProviderRef:        productID,
		Plan:               plan.Tier,
		Status:             DeriveStatus(providerStatus, periodEnd, now),
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		CancelAtPeriodEnd:  !sub.AutoRenewing || sub.CancelReason != nil,
		RawPayloadJSON:     rawPayload,
	}

	amount := plan.ListPriceCents
	currency := plan.Currency
	if micros, err := strconv.ParseInt(strings.TrimSpace(sub.PriceAmountMicros), 10, 64); err == nil && micros > 0 {
		amount = micros / 10000
		if sub.PriceCurrencyCode != "" {
			currency = strings.ToLower(sub.PriceCurrencyCode)
		}
	}

	occurred := now.UTC()
	if periodStart != nil {
		occurred = *periodStart
	}

	// Pending payments mirror the state but hold the ledger until charged.
	var ledger *LedgerInput
	if sub.PaymentState == nil || *sub.PaymentState == 1 {
		ledger = &LedgerInput{
			UserID:      userID,
			Source:      models.SourcePlayIAP,
			ExternalID:  sub.OrderID,
			ProductType: models.LedgerProductSubscription,
			Plan:        plan.Tier,
			Status:      models.LedgerStatusCompleted,
			AmountCents: amount,
			Currency:    currency,
			OccurredAt:  occurred,
			Metadata: map[string]string{
				"purchase_token": purchaseToken,
			},
		}
	}
	return state, ledger, nil
}
