package billing

import "github.com/StyleLoft/StyleLoft/app/models"

// Flat take-rate assumptions used when the provider event does not carry the
// actual fee. Store channels take 30%; the card channel estimate follows the
// standard 2.9% + 30 cents schedule.
const (
	storeTakeRatePercent = 30
	cardRateBasisPoints  = 290
	cardFixedFeeCents    = 30
)

// EstimateFee returns the estimated channel fee for an amount, preserving
// sign so refund entries (negative amounts) estimate a returned fee.
func EstimateFee(source string, amountCents int64) int64 {
	neg := amountCents < 0
	amt := amountCents
	if neg {
		amt = -amt
	}

	var fee int64
	switch source {
	case models.SourceAppleIAP, models.SourcePlayIAP:
		fee = amt * storeTakeRatePercent / 100
	case models.SourceStripe:
		fee = amt*cardRateBasisPoints/10000 + cardFixedFeeCents
	default:
		fee = 0
	}
	if fee > amt {
		fee = amt
	}
	if neg {
		fee = -fee
	}
	return fee
}
