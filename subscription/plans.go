package subscription

import (
	"github.com/shopspring/decimal"
)

var catalog = []Plan{
	{Tier: TierBasic, CommissionRate: decimal.NewFromInt(15), MaxActiveDeals: 3, MonthlyPrice: decimal.Zero, Currency: "XOF"},
	{Tier: TierEssentiel, CommissionRate: decimal.NewFromInt(9), MaxActiveDeals: 10, MonthlyPrice: decimal.NewFromInt(9900), Currency: "XOF"},
	{Tier: TierStandard, CommissionRate: decimal.NewFromInt(6), MaxActiveDeals: 25, MonthlyPrice: decimal.NewFromInt(19900), Currency: "XOF"},
	{Tier: TierPremium, CommissionRate: decimal.NewFromInt(5), MaxActiveDeals: 0, MonthlyPrice: decimal.NewFromInt(27900), Currency: "XOF"},
}

// Catalog returns the plans ordered from basic to premium.
func Catalog() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

// PlanFor looks up a tier in the catalog.
func PlanFor(tier Tier) (Plan, bool) {
	for _, p := range catalog {
		if p.Tier == tier {
			return p, true
		}
	}
	return Plan{}, false
}

// DefaultTerms apply to providers without an active subscription.
func DefaultTerms() Terms {
	p, _ := PlanFor(TierBasic)
	return Terms{Tier: p.Tier, CommissionRate: p.CommissionRate, MaxActiveDeals: p.MaxActiveDeals}
}

// Commission is round(amount * rate / 100), half away from zero, in whole
// currency units.
func Commission(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(100)).Round(0)
}
