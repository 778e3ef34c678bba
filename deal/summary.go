package deal

import (
	"context"

	"github.com/shopspring/decimal"

	"fidexa/apperr"
)

// StatusAggregate is one (status, currency) group of deals.
type StatusAggregate struct {
	Status     Status
	Currency   string
	Count      int
	Amount     decimal.Decimal
	Commission decimal.Decimal
}

// Summary folds status aggregates into dashboard figures. Money is keyed by
// currency since deals are never converted.
type Summary struct {
	ByStatus map[Status]int
	Total    int
	// InProgress counts deals whose funds are held in escrow.
	InProgress int
	// CompletedRevenue is the provider payout of completed deals.
	CompletedRevenue map[string]decimal.Decimal
	// SecuredFunds is the amount currently held in escrow.
	SecuredFunds map[string]decimal.Decimal
}

// Overview is the platform-wide admin view.
type Overview struct {
	Summary
	ActiveProviders int
	OpenDisputes    int
}

func summarize(groups []StatusAggregate) Summary {
	sum := Summary{
		ByStatus:         map[Status]int{},
		CompletedRevenue: map[string]decimal.Decimal{},
		SecuredFunds:     map[string]decimal.Decimal{},
	}
	for _, g := range groups {
		sum.ByStatus[g.Status] += g.Count
		sum.Total += g.Count
		switch {
		case g.Status == StatusCompleted:
			sum.CompletedRevenue[g.Currency] = sum.CompletedRevenue[g.Currency].Add(g.Amount.Sub(g.Commission))
		case HoldsFunds(g.Status):
			sum.InProgress += g.Count
			sum.SecuredFunds[g.Currency] = sum.SecuredFunds[g.Currency].Add(g.Amount)
		}
	}
	return sum
}

// ProviderSummary aggregates the provider's deals by status.
func (s *Service) ProviderSummary(ctx context.Context, providerID string) (Summary, error) {
	if providerID == "" {
		return Summary{}, apperr.Validation("provider_id", "provider is required")
	}
	groups, err := s.repo.Aggregate(ctx, s.pool, providerID)
	if err != nil {
		return Summary{}, err
	}
	return summarize(groups), nil
}

// AdminOverview aggregates every deal plus platform counters.
func (s *Service) AdminOverview(ctx context.Context) (Overview, error) {
	groups, err := s.repo.Aggregate(ctx, s.pool, "")
	if err != nil {
		return Overview{}, err
	}
	counts, err := s.repo.PlatformCounts(ctx, s.pool)
	if err != nil {
		return Overview{}, err
	}
	return Overview{
		Summary:         summarize(groups),
		ActiveProviders: counts.ActiveProviders,
		OpenDisputes:    counts.OpenDisputes,
	}, nil
}
