package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StyleLoft/StyleLoft/app/models"
)

func appStoreHandler(status int, items []map[string]string, renewal []map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":               status,
			"environment":          "Production",
			"latest_receipt_info":  items,
			"pending_renewal_info": renewal,
		})
	}
}

func newTestAppStoreClient(prod, sandbox *httptest.Server) *AppStoreClient {
	c := &AppStoreClient{
		ProductionURL: prod.URL,
		SharedSecret:  "secret",
		HTTPClient:    prod.Client(),
		Retry:         RetryPolicy{Interval: time.Millisecond, MaxAttempts: 3},
	}
	if sandbox != nil {
		c.SandboxURL = sandbox.URL
	}
	return c
}

func TestVerifyReceiptDistillsLatestTransaction(t *testing.T) {
	future := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	past := time.Now().Add(-24 * time.Hour).UnixMilli()

	srv := httptest.NewServer(appStoreHandler(0, []map[string]string{
		{
			"product_id":              "com.styleloft.individual.monthly",
			"transaction_id":          "tx_old",
			"original_transaction_id": "orig_1",
			"expires_date_ms":         fmt.Sprintf("%d", past),
		},
		{
			"product_id":              "com.styleloft.individual.monthly",
			"transaction_id":          "tx_new",
			"original_transaction_id": "orig_1",
			"purchase_date_ms":        fmt.Sprintf("%d", past),
			"expires_date_ms":         fmt.Sprintf("%d", future),
		},
	}, []map[string]string{
		{"product_id": "com.styleloft.individual.monthly", "auto_renew_status": "1"},
	}))
	defer srv.Close()

	v, err := newTestAppStoreClient(srv, nil).VerifyReceipt(context.Background(), "base64receipt")
	require.NoError(t, err)
	assert.Equal(t, "tx_new", v.TransactionID)
	assert.Equal(t, "orig_1", v.OriginalTransactionID)
	assert.True(t, v.AutoRenew)
	require.NotNil(t, v.ExpiresAt)
	assert.Equal(t, future, v.ExpiresAt.UnixMilli())
}

func TestVerifyReceiptSandboxFallback(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).UnixMilli()

	sandbox := httptest.NewServer(appStoreHandler(0, []map[string]string{
		{
			"product_id":              "com.styleloft.individual.monthly",
			"transaction_id":          "tx_1",
			"original_transaction_id": "orig_1",
			"expires_date_ms":         fmt.Sprintf("%d", future),
		},
	}, nil))
	defer sandbox.Close()

	prod := httptest.NewServer(appStoreHandler(21007, nil, nil))
	defer prod.Close()

	v, err := newTestAppStoreClient(prod, sandbox).VerifyReceipt(context.Background(), "base64receipt")
	require.NoError(t, err)
	assert.Equal(t, "tx_1", v.TransactionID)
}

func TestVerifyReceiptDefaultsToRenewingWithoutRenewalInfo(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).UnixMilli()
	item := map[string]string{
		"product_id":              "com.styleloft.individual.monthly",
		"transaction_id":          "tx_1",
		"original_transaction_id": "orig_1",
		"expires_date_ms":         fmt.Sprintf("%d", future),
	}

	tests := []struct {
		name    string
		renewal []map[string]string
		want    bool
	}{
		{"no renewal info", nil, true},
		{"renewal info for another product", []map[string]string{
			{"product_id": "com.styleloft.individual.yearly", "auto_renew_status": "0"},
		}, true},
		{"renewal turned off", []map[string]string{
			{"product_id": "com.styleloft.individual.monthly", "auto_renew_status": "0"},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(appStoreHandler(0, []map[string]string{item}, tt.renewal))
			defer srv.Close()

			v, err := newTestAppStoreClient(srv, nil).VerifyReceipt(context.Background(), "base64receipt")
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.AutoRenew)
		})
	}
}

func TestVerifyReceiptInvalidStatus(t *testing.T) {
	srv := httptest.NewServer(appStoreHandler(21003, nil, nil))
	defer srv.Close()

	_, err := newTestAppStoreClient(srv, nil).VerifyReceipt(context.Background(), "garbage")
	var invalid *ErrReceiptInvalid
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, 21003, invalid.Status)
}

func TestVerifyReceiptRetriesTransientStatus(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).UnixMilli()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			appStoreHandler(21005, nil, nil)(w, r)
			return
		}
		appStoreHandler(0, []map[string]string{
			{
				"product_id":              "com.styleloft.individual.monthly",
				"transaction_id":          "tx_1",
				"original_transaction_id": "orig_1",
				"expires_date_ms":         fmt.Sprintf("%d", future),
			},
		}, nil)(w, r)
	}))
	defer srv.Close()

	_, err := newTestAppStoreClient(srv, nil).VerifyReceipt(context.Background(), "base64receipt")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestVerifyReceiptExhaustsOnPersistentUnavailability(t *testing.T) {
	srv := httptest.NewServer(appStoreHandler(21005, nil, nil))
	defer srv.Close()

	_, err := newTestAppStoreClient(srv, nil).VerifyReceipt(context.Background(), "base64receipt")
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
}

func TestVerifyReceiptRequiresData(t *testing.T) {
	c := &AppStoreClient{HTTPClient: http.DefaultClient, Retry: DefaultRetryPolicy}
	_, err := c.VerifyReceipt(context.Background(), "  ")
	assert.Error(t, err)
}

func TestDeriveAppStoreState(t *testing.T) {
	now := time.Now()
	purchased := now.Add(-time.Hour).UTC().Truncate(time.Millisecond)
	expires := now.Add(30 * 24 * time.Hour).UTC().Truncate(time.Millisecond)

	v := &AppStoreVerification{
		Environment:           "Production",
		ProductID:             "com.styleloft.individual.yearly",
		TransactionID:         "tx_1",
		OriginalTransactionID: "orig_1",
		PurchasedAt:           purchased,
		ExpiresAt:             &expires,
		AutoRenew:             true,
	}

	state, ledger, err := DeriveAppStoreState(v, 7, "{}", now)
	require.NoError(t, err)
	assert.Equal(t, models.SourceAppleIAP, state.Source)
	assert.Equal(t, "orig_1", state.ExternalID)
	assert.Equal(t, models.PlanIndividual, state.Plan)
	assert.Equal(t, models.SubStatusActive, state.Status)
	assert.False(t, state.CancelAtPeriodEnd)

	require.NotNil(t, ledger)
	assert.Equal(t, "tx_1", ledger.ExternalID)
	assert.Equal(t, int64(29000), ledger.AmountCents)
	assert.Equal(t, models.LedgerStatusCompleted, ledger.Status)
	assert.Equal(t, "orig_1", ledger.Metadata["original_transaction_id"])
}

func TestDeriveAppStoreStateLegacyProductRecordsAssumption(t *testing.T) {
	now := time.Now()
	v := &AppStoreVerification{
		ProductID:             "com.styleloft.pro.monthly",
		TransactionID:         "tx_1",
		OriginalTransactionID: "orig_1",
		PurchasedAt:           now.Add(-time.Hour),
		AutoRenew:             false,
	}

	state, ledger, err := DeriveAppStoreState(v, 7, "{}", now)
	require.NoError(t, err)
	assert.Equal(t, models.PlanIndividual, state.Plan)
	assert.True(t, state.CancelAtPeriodEnd)
	require.NotNil(t, ledger)
	assert.Contains(t, ledger.Metadata["plan_assumption"], models.PlanIndividual)
	assert.Equal(t, int64(1900), ledger.AmountCents)
}

func TestDeriveAppStoreStateUnknownProduct(t *testing.T) {
	v := &AppStoreVerification{
		ProductID:             "com.styleloft.unknown",
		OriginalTransactionID: "orig_1",
	}
	_, _, err := DeriveAppStoreState(v, 7, "{}", time.Now())
	assert.Error(t, err)
}
