package catalog

import (
	"fmt"
	"strings"

	"github.com/StyleLoft/StyleLoft/app/models"
)

// Plan is one sellable product: a canonical tier plus the provider-specific
// reference it is sold under and its list price. The catalog is static and
// loaded once at startup; there is no mutation lifecycle.
type Plan struct {
	Tier           string
	Source         string
	ProviderRef    string
	ListPriceCents int64
	Currency       string
	Interval       string
	// Legacy marks refs we no longer sell but still honor. Resolution of a
	// legacy ref is best-effort and the assumption is surfaced to callers so
	// it can be recorded alongside the write.
	Legacy bool
}

// ErrUnknownRef is returned for provider references the catalog has never
// seen. Unknown refs are an error, never a silent default.
type ErrUnknownRef struct {
	Source string
	Ref    string
}

func (e *ErrUnknownRef) Error() string {
	return fmt.Sprintf("catalog: unknown %s plan ref %q", e.Source, e.Ref)
}

const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// plans is the canonical product table. Stripe sells both tiers, the mobile
// stores only sell the individual tier (salon accounts are web-only).
var plans = []Plan{
	{Tier: models.PlanIndividual, Source: models.SourceStripe, ProviderRef: "price_individual_monthly", ListPriceCents: 2700, Currency: "usd", Interval: IntervalMonth},
	{Tier: models.PlanIndividual, Source: models.SourceStripe, ProviderRef: "price_individual_yearly", ListPriceCents: 27000, Currency: "usd", Interval: IntervalYear},
	{Tier: models.PlanSalon, Source: models.SourceStripe, ProviderRef: "price_salon_monthly", ListPriceCents: 9700, Currency: "usd", Interval: IntervalMonth},
	{Tier: models.PlanSalon, Source: models.SourceStripe, ProviderRef: "price_salon_yearly", ListPriceCents: 97000, Currency: "usd", Interval: IntervalYear},

	{Tier: models.PlanIndividual, Source: models.SourceAppleIAP, ProviderRef: "com.styleloft.individual.monthly", ListPriceCents: 2900, Currency: "usd", Interval: IntervalMonth},
	{Tier: models.PlanIndividual, Source: models.SourceAppleIAP, ProviderRef: "com.styleloft.individual.yearly", ListPriceCents: 29000, Currency: "usd", Interval: IntervalYear},
	{Tier: models.PlanIndividual, Source: models.SourcePlayIAP, ProviderRef: "individual_monthly", ListPriceCents: 2900, Currency: "usd", Interval: IntervalMonth},
	{Tier: models.PlanIndividual, Source: models.SourcePlayIAP, ProviderRef: "individual_yearly", ListPriceCents: 29000, Currency: "usd", Interval: IntervalYear},

	// Pre-2024 store products. Kept resolvable so old receipts still verify.
	{Tier: models.PlanIndividual, Source: models.SourceAppleIAP, ProviderRef: "com.styleloft.pro.monthly", ListPriceCents: 1900, Currency: "usd", Interval: IntervalMonth, Legacy: true},
	{Tier: models.PlanIndividual, Source: models.SourceStripe, ProviderRef: "price_pro_legacy", ListPriceCents: 1900, Currency: "usd", Interval: IntervalMonth, Legacy: true},
}

var index = buildIndex(plans)

func buildIndex(ps []Plan) map[string]Plan {
	m := make(map[string]Plan, len(ps))
	for _, p := range ps {
		m[key(p.Source, p.ProviderRef)] = p
	}
	return m
}

func key(source, ref string) string {
	return strings.ToLower(strings.TrimSpace(source)) + "|" + strings.TrimSpace(ref)
}

// Resolve maps a provider product/price reference to a catalog plan.
func Resolve(source, providerRef string) (Plan, error) {
	ref := strings.TrimSpace(providerRef)
	if ref == "" {
		return Plan{}, &ErrUnknownRef{Source: source, Ref: providerRef}
	}
	if p, ok := index[key(source, ref)]; ok {
		return p, nil
	}
	return Plan{}, &ErrUnknownRef{Source: source, Ref: providerRef}
}

// ListBySource returns all catalog plans sold through one source.
func ListBySource(source string) []Plan {
	var out []Plan
	for _, p := range plans {
		if p.Source == strings.ToLower(strings.TrimSpace(source)) {
			out = append(out, p)
		}
	}
	return out
}
