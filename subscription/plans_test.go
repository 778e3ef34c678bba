package subscription

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCommission(t *testing.T) {
	cases := []struct {
		amount string
		rate   string
		want   string
	}{
		{"500000", "9", "45000"},
		{"100000", "15", "15000"},
		{"10", "15", "2"}, // 1.5 rounds up
		{"10", "5", "1"},  // 0.5 rounds up
		{"33", "6", "2"},  // 1.98
		{"1234.50", "5", "62"},
	}
	for _, tc := range cases {
		got := Commission(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.rate))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("Commission(%s, %s) = %s, want %s", tc.amount, tc.rate, got, tc.want)
		}
	}
}

func TestCatalogDecreasingRates(t *testing.T) {
	plans := Catalog()
	if len(plans) != 4 {
		t.Fatalf("expected 4 plans, got %d", len(plans))
	}
	for i := 1; i < len(plans); i++ {
		if !plans[i].CommissionRate.LessThan(plans[i-1].CommissionRate) {
			t.Fatalf("commission must decrease with tier: %s >= %s", plans[i].CommissionRate, plans[i-1].CommissionRate)
		}
	}
	plans[0].MaxActiveDeals = 99
	if p, _ := PlanFor(TierBasic); p.MaxActiveDeals != 3 {
		t.Fatalf("Catalog must return a copy")
	}
}

func TestTermsQuota(t *testing.T) {
	essentiel, _ := PlanFor(TierEssentiel)
	terms := Terms{Tier: essentiel.Tier, CommissionRate: essentiel.CommissionRate, MaxActiveDeals: essentiel.MaxActiveDeals}
	if !terms.AllowsAnother(9) {
		t.Fatalf("9 active deals on a quota of 10 must allow the 10th")
	}
	if terms.AllowsAnother(10) {
		t.Fatalf("10 active deals on a quota of 10 must reject the 11th")
	}

	premium, _ := PlanFor(TierPremium)
	if !(Terms{MaxActiveDeals: premium.MaxActiveDeals}).AllowsAnother(10000) {
		t.Fatalf("premium is unlimited")
	}

	if d := DefaultTerms(); d.Tier != TierBasic || !d.CommissionRate.Equal(decimal.NewFromInt(15)) || d.MaxActiveDeals != 3 {
		t.Fatalf("unexpected default terms %+v", d)
	}
}
