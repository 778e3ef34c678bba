package subscription

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is a plan level; commission decreases and quota grows with the tier.
type Tier string

const (
	TierBasic     Tier = "basic"
	TierEssentiel Tier = "essentiel"
	TierStandard  Tier = "standard"
	TierPremium   Tier = "premium"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusCancelled Status = "cancelled"
	StatusPastDue   Status = "past_due"
)

// Plan is a catalog entry. MaxActiveDeals of 0 means unlimited.
type Plan struct {
	Tier           Tier
	CommissionRate decimal.Decimal
	MaxActiveDeals int
	MonthlyPrice   decimal.Decimal
	Currency       string
}

// Subscription mirrors the subscriptions table. Rate and quota are copied
// from the plan when the row is created.
type Subscription struct {
	ID             string
	ProviderID     string
	Tier           Tier
	CommissionRate decimal.Decimal
	MaxActiveDeals int
	Status         Status
	StartedAt      time.Time
	EndsAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terms are the pricing inputs applied to a new deal.
type Terms struct {
	Tier           Tier
	CommissionRate decimal.Decimal
	MaxActiveDeals int
}

func (s Subscription) Terms() Terms {
	return Terms{Tier: s.Tier, CommissionRate: s.CommissionRate, MaxActiveDeals: s.MaxActiveDeals}
}

// Unlimited reports whether the terms carry no active-deal cap.
func (t Terms) Unlimited() bool {
	return t.MaxActiveDeals == 0
}

// AllowsAnother reports whether a provider with active non-terminal deals may
// create one more.
func (t Terms) AllowsAnother(active int) bool {
	return t.Unlimited() || active < t.MaxActiveDeals
}
