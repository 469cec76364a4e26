package billing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StyleLoft/StyleLoft/app/models"
)

func TestPlayVerifyPurchase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/applications/com.styleloft.app/purchases/subscriptions/individual_monthly/tokens/tok_1", r.URL.Path)
		assert.Equal(t, "Bearer play-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"startTimeMillis":"1700000000000",
			"expiryTimeMillis":"1702592000000",
			"autoRenewing":true,
			"orderId":"GPA.1234",
			"paymentState":1,
			"priceAmountMicros":"29000000",
			"priceCurrencyCode":"USD"
		}`))
	}))
	defer srv.Close()

	c := &PlayClient{
		APIBaseURL:  srv.URL,
		PackageName: "com.styleloft.app",
		AccessToken: "play-token",
		HTTPClient:  srv.Client(),
	}

	sub, err := c.VerifyPurchase(context.Background(), "individual_monthly", "tok_1")
	require.NoError(t, err)
	assert.Equal(t, "GPA.1234", sub.OrderID)
	assert.True(t, sub.AutoRenewing)
	require.NotNil(t, sub.PaymentState)
	assert.Equal(t, 1, *sub.PaymentState)
}

func TestPlayVerifyPurchaseValidation(t *testing.T) {
	c := &PlayClient{APIBaseURL: "http://unused", PackageName: "com.styleloft.app", HTTPClient: http.DefaultClient}

	_, err := c.VerifyPurchase(context.Background(), "", "tok_1")
	assert.Error(t, err)

	_, err = c.VerifyPurchase(context.Background(), "individual_monthly", "")
	assert.Error(t, err)

	// token configured but no access token
	_, err = c.VerifyPurchase(context.Background(), "individual_monthly", "tok_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLAY_ACCESS_TOKEN")
}

func TestDerivePlayState(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Hour)
	end := now.Add(29 * 24 * time.Hour)
	payment := 1

	sub := &PlaySubscription{
		StartTimeMillis:   fmt.Sprintf("%d", start.UnixMilli()),
		ExpiryTimeMillis:  fmt.Sprintf("%d", end.UnixMilli()),
		AutoRenewing:      true,
		OrderID:           "GPA.1234",
		PaymentState:      &payment,
		PriceAmountMicros: "29000000",
		PriceCurrencyCode: "USD",
	}

	state, ledger, err := DerivePlayState(sub, 7, "individual_monthly", "tok_1", "{}", now)
	require.NoError(t, err)
	assert.Equal(t, models.SourcePlayIAP, state.Source)
	assert.Equal(t, "tok_1", state.ExternalID)
	assert.Equal(t, models.PlanIndividual, state.Plan)
	assert.Equal(t, models.SubStatusActive, state.Status)
	assert.False(t, state.CancelAtPeriodEnd)

	require.NotNil(t, ledger)
	assert.Equal(t, "GPA.1234", ledger.ExternalID)
	// micros to cents
	assert.Equal(t, int64(2900), ledger.AmountCents)
	assert.Equal(t, "usd", ledger.Currency)
	assert.Equal(t, "tok_1", ledger.Metadata["purchase_token"])
}

func TestDerivePlayStatePendingPaymentWithholdsLedger(t *testing.T) {
	now := time.Now()
	payment := 0

	sub := &PlaySubscription{
		ExpiryTimeMillis: fmt.Sprintf("%d", now.Add(24*time.Hour).UnixMilli()),
		AutoRenewing:     true,
		OrderID:          "GPA.1234",
		PaymentState:     &payment,
	}

	state, ledger, err := DerivePlayState(sub, 7, "individual_monthly", "tok_1", "{}", now)
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusActive, state.Status)
	assert.Nil(t, ledger)
}

func TestDerivePlayStateCancelReasonKeepsPaidPeriod(t *testing.T) {
	now := time.Now()
	reason := 0

	// canceled 20 days before expiry: access runs through the period end
	sub := &PlaySubscription{
		ExpiryTimeMillis: fmt.Sprintf("%d", now.Add(20*24*time.Hour).UnixMilli()),
		AutoRenewing:     false,
		OrderID:          "GPA.1234",
		CancelReason:     &reason,
	}

	state, _, err := DerivePlayState(sub, 7, "individual_monthly", "tok_1", "{}", now)
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusActive, state.Status)
	assert.True(t, state.CancelAtPeriodEnd)

	ent := models.Entitlement{
		Plan:             state.Plan,
		Status:           state.Status,
		CurrentPeriodEnd: state.CurrentPeriodEnd,
	}
	assert.True(t, ent.GrantsAccess(now))
}

func TestDerivePlayStateCancelReasonAfterExpiry(t *testing.T) {
	now := time.Now()
	reason := 1

	sub := &PlaySubscription{
		ExpiryTimeMillis: fmt.Sprintf("%d", now.Add(-time.Hour).UnixMilli()),
		OrderID:          "GPA.1234",
		CancelReason:     &reason,
	}

	state, _, err := DerivePlayState(sub, 7, "individual_monthly", "tok_1", "{}", now)
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusCanceled, state.Status)
	assert.True(t, state.CancelAtPeriodEnd)
}

func TestDerivePlayStateMissingOrderID(t *testing.T) {
	sub := &PlaySubscription{AutoRenewing: true}
	_, _, err := DerivePlayState(sub, 7, "individual_monthly", "tok_1", "{}", time.Now())
	assert.Error(t, err)
}

func TestDerivePlayStateFallsBackToListPrice(t *testing.T) {
	now := time.Now()
	sub := &PlaySubscription{
		ExpiryTimeMillis: fmt.Sprintf("%d", now.Add(24*time.Hour).UnixMilli()),
		OrderID:          "GPA.1234",
		AutoRenewing:     true,
	}

	_, ledger, err := DerivePlayState(sub, 7, "individual_yearly", "tok_1", "{}", now)
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.Equal(t, int64(29000), ledger.AmountCents)
}
