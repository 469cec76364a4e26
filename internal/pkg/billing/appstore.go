package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/StyleLoft/StyleLoft/app/models"
	"github.com/StyleLoft/StyleLoft/internal/pkg/catalog"
	"github.com/StyleLoft/StyleLoft/internal/pkg/env"
)

const (
	defaultAppStoreProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	defaultAppStoreSandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"

	// verifyReceipt status codes that drive the control flow.
	appStoreStatusValid         = 0
	appStoreStatusSandboxOnProd = 21007
	appStoreStatusUnavailable   = 21005
)

// ErrReceiptInvalid wraps a non-retryable verification status. It is a hard
// failure surfaced to the caller; nothing is written.
type ErrReceiptInvalid struct {
	Status int
}

func (e *ErrReceiptInvalid) Error() string {
	return fmt.Sprintf("appstore: receipt verification failed with status %d", e.Status)
}

// AppStoreClient verifies store receipts. Verification is a two-step call:
// production first; a 21007 status means the receipt came from the sandbox
// and is retried there. Transient 21005 responses are polled with a bounded
// retry policy.
type AppStoreClient struct {
	ProductionURL string
	SandboxURL    string
	SharedSecret  string

	HTTPClient *http.Client
	Retry      RetryPolicy
}

func NewAppStoreClientFromEnv() *AppStoreClient {
	return &AppStoreClient{
		ProductionURL: strings.TrimSpace(env.GetEnv("APPSTORE_VERIFY_URL", defaultAppStoreProductionURL)),
		SandboxURL:    strings.TrimSpace(env.GetEnv("APPSTORE_SANDBOX_VERIFY_URL", defaultAppStoreSandboxURL)),
		SharedSecret:  strings.TrimSpace(env.GetEnv("APPSTORE_SHARED_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		Retry: DefaultRetryPolicy,
	}
}

type appStoreReceiptItem struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms"`
}

type appStoreRenewalInfo struct {
	ProductID       string `json:"product_id"`
	AutoRenewStatus string `json:"auto_renew_status"`
}

type appStoreResponse struct {
	Status             int                   `json:"status"`
	Environment        string                `json:"environment"`
	LatestReceiptInfo  []appStoreReceiptItem `json:"latest_receipt_info"`
	PendingRenewalInfo []appStoreRenewalInfo `json:"pending_renewal_info"`
}

// AppStoreVerification is the distilled result of a valid receipt: the most
// recent subscription transaction plus renewal intent.
type AppStoreVerification struct {
	Environment           string
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	PurchasedAt           time.Time
	ExpiresAt             *time.Time
	AutoRenew             bool
}

// VerifyReceipt runs the two-step verification. Only a valid status
// proceeds; any other terminal status is an ErrReceiptInvalid and the caller
// must not write anything.
func (c *AppStoreClient) VerifyReceipt(ctx context.Context, receiptData string) (*AppStoreVerification, error) {
	if strings.TrimSpace(receiptData) == "" {
		return nil, errors.New("receipt data is required")
	}

	resp, err := c.verifyWithRetry(ctx, c.ProductionURL, receiptData)
	if err != nil {
		return nil, err
	}
	if resp.Status == appStoreStatusSandboxOnProd {
		resp, err = c.verifyWithRetry(ctx, c.SandboxURL, receiptData)
		if err != nil {
			return nil, err
		}
	}
	if resp.Status != appStoreStatusValid {
		return nil, &ErrReceiptInvalid{Status: resp.Status}
	}
	return distillAppStoreResponse(resp)
}

func (c *AppStoreClient) verifyWithRetry(ctx context.Context, endpoint, receiptData string) (*appStoreResponse, error) {
	var last *appStoreResponse
	err := c.Retry.Do(ctx, func() (bool, error) {
		resp, err := c.verifyOnce(ctx, endpoint, receiptData)
		if err != nil {
			return false, err
		}
		last = resp
		// 21005 means the receipt server was temporarily unavailable.
		return resp.Status != appStoreStatusUnavailable, nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

func (c *AppStoreClient) verifyOnce(ctx context.Context, endpoint, receiptData string) (*appStoreResponse, error) {
	payload := map[string]string{
		"receipt-data": receiptData,
	}
	if c.SharedSecret != "" {
		payload["password"] = c.SharedSecret
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("appstore verify failed: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out appStoreResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func distillAppStoreResponse(resp *appStoreResponse) (*AppStoreVerification, error) {
	if len(resp.LatestReceiptInfo) == 0 {
		return nil, errors.New("appstore: valid receipt carries no subscription transactions")
	}

	items := make([]appStoreReceiptItem, len(resp.LatestReceiptInfo))
	copy(items, resp.LatestReceiptInfo)
	sort.Slice(items, func(i, j int) bool {
		return parseMS(items[i].ExpiresDateMS) > parseMS(items[j].ExpiresDateMS)
	})
	latest := items[0]

	v := &AppStoreVerification{
		Environment:           resp.Environment,
		ProductID:             strings.TrimSpace(latest.ProductID),
		TransactionID:         strings.TrimSpace(latest.TransactionID),
		OriginalTransactionID: strings.TrimSpace(latest.OriginalTransactionID),
	}
	if ms := parseMS(latest.PurchaseDateMS); ms > 0 {
		v.PurchasedAt = time.UnixMilli(ms).UTC()
	}
	if ms := parseMS(latest.ExpiresDateMS); ms > 0 {
		t := time.UnixMilli(ms).UTC()
		v.ExpiresAt = &t
	}
	// Renewal info is optional; absence means nothing scheduled the lapse.
	v.AutoRenew = true
	for _, ri := range resp.PendingRenewalInfo {
		if ri.ProductID == v.ProductID {
			v.AutoRenew = ri.AutoRenewStatus == "1"
			break
		}
	}
	if v.ProductID == "" || v.OriginalTransactionID == "" {
		return nil, errors.New("appstore: receipt transaction missing product or original transaction id")
	}
	return v, nil
}

func parseMS(s string) int64 {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

// DeriveAppStoreState maps a verified receipt to the canonical SourceState
// plus the purchase ledger event. The store reports no amounts, so the
// ledger uses the catalog list price with the store take-rate estimate.
// Legacy product ids resolve best-effort; the assumption is recorded in the
// ledger metadata.
func DeriveAppStoreState(v *AppStoreVerification, userID uint, rawPayload string, now time.Time) (SourceState, *LedgerInput, error) {
	plan, err := catalog.Resolve(models.SourceAppleIAP, v.ProductID)
	if err != nil {
		return SourceState{}, nil, err
	}

	var periodStart *time.Time
	if !v.PurchasedAt.IsZero() {
		t := v.PurchasedAt
		periodStart = &t
	}

	providerStatus := "active"
	if v.ExpiresAt != nil && !v.ExpiresAt.After(now) {
		providerStatus = "expired"
	}

	state := SourceState{
		UserID:             userID,
		Source:             models.SourceAppleIAP,
		ExternalID:         v.OriginalTransactionID,
		ProviderRef:        v.ProductID,
		Plan:               plan.Tier,
		Status:             DeriveStatus(providerStatus, v.ExpiresAt, now),
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   v.ExpiresAt,
		CancelAtPeriodEnd:  !v.AutoRenew,
		RawPayloadJSON:     rawPayload,
	}

	metadata := map[string]string{
		"original_transaction_id": v.OriginalTransactionID,
		"environment":             v.Environment,
	}
	if plan.Legacy {
		metadata["plan_assumption"] = "legacy product ref mapped to " + plan.Tier
	}

	ledger := &LedgerInput{
		UserID:      userID,
		Source:      models.SourceAppleIAP,
		ExternalID:  v.TransactionID,
		ProductType: models.LedgerProductSubscription,
		Plan:        plan.Tier,
		Status:      models.LedgerStatusCompleted,
		AmountCents: plan.ListPriceCents,
		Currency:    plan.Currency,
		OccurredAt:  v.PurchasedAt,
		Metadata:    metadata,
	}
	return state, ledger, nil
}
