package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fidexa/apperr"
	"fidexa/db"
)

const billingPeriod = 30 * 24 * time.Hour

type Service struct {
	pool db.Pool
	repo Repository
	now  func() time.Time
}

func NewService(pool db.Pool, repo Repository) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Terms returns the pricing in force for providerID as seen by q, which is
// the deal-creation transaction. Providers without an active row are priced
// on the basic plan.
func (s *Service) Terms(ctx context.Context, q db.Querier, providerID string) (Terms, error) {
	sub, err := s.repo.Active(ctx, q, providerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DefaultTerms(), nil
		}
		return Terms{}, err
	}
	return sub.Terms(), nil
}

// Current returns the active subscription, creating a basic one on first use.
func (s *Service) Current(ctx context.Context, providerID string) (Subscription, error) {
	sub, err := s.repo.Active(ctx, s.pool, providerID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Subscription{}, err
	}

	sub, err = s.repo.Insert(ctx, s.pool, s.fromPlan(providerID, mustPlan(TierBasic)))
	if errors.Is(err, ErrAlreadyActive) {
		return s.repo.Active(ctx, s.pool, providerID)
	}
	return sub, err
}

// ChangePlan replaces the active subscription with a fresh snapshot of tier.
// Deals already created keep the commission they were priced with.
func (s *Service) ChangePlan(ctx context.Context, providerID string, tier Tier) (Subscription, error) {
	if providerID == "" {
		return Subscription{}, apperr.Validation("provider_id", "provider is required")
	}
	plan, ok := PlanFor(tier)
	if !ok {
		return Subscription{}, apperr.Validation("plan", fmt.Sprintf("unknown plan %q", tier))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Subscription{}, fmt.Errorf("subscription: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.EndActive(ctx, tx, providerID, StatusCancelled); err != nil {
		return Subscription{}, err
	}
	sub, err := s.repo.Insert(ctx, tx, s.fromPlan(providerID, plan))
	if err != nil {
		return Subscription{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Subscription{}, fmt.Errorf("subscription: commit change plan: %w", err)
	}
	return sub, nil
}

// Cancel ends the active subscription. The provider falls back to basic terms.
func (s *Service) Cancel(ctx context.Context, providerID string) error {
	n, err := s.repo.EndActive(ctx, s.pool, providerID, StatusCancelled)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireLapsed moves subscriptions past their validity window to past_due.
func (s *Service) ExpireLapsed(ctx context.Context) (int64, error) {
	return s.repo.ExpireLapsed(ctx, s.pool, s.now())
}

func (s *Service) fromPlan(providerID string, plan Plan) Subscription {
	now := s.now().UTC()
	sub := Subscription{
		ProviderID:     providerID,
		Tier:           plan.Tier,
		CommissionRate: plan.CommissionRate,
		MaxActiveDeals: plan.MaxActiveDeals,
		Status:         StatusActive,
		StartedAt:      now,
	}
	if plan.MonthlyPrice.IsPositive() {
		ends := now.Add(billingPeriod)
		sub.EndsAt = &ends
	}
	return sub
}

func mustPlan(tier Tier) Plan {
	p, ok := PlanFor(tier)
	if !ok {
		panic("subscription: missing catalog tier " + string(tier))
	}
	return p
}
