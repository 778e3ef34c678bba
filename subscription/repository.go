package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fidexa/db"
)

var (
	// ErrNotFound signals that the provider has no active subscription.
	ErrNotFound = errors.New("subscription: no active subscription")
	// ErrAlreadyActive signals a concurrent insert won the one-active slot.
	ErrAlreadyActive = errors.New("subscription: active subscription exists")
)

// Repository defines the data access required by the service.
type Repository interface {
	Active(ctx context.Context, q db.Querier, providerID string) (Subscription, error)
	Insert(ctx context.Context, q db.Querier, sub Subscription) (Subscription, error)
	EndActive(ctx context.Context, q db.Querier, providerID string, status Status) (int64, error)
	ExpireLapsed(ctx context.Context, q db.Querier, now time.Time) (int64, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const subscriptionColumns = `id, provider_id, plan::text, commission_rate, max_active_deals, status::text, started_at, ends_at, created_at, updated_at`

func (r *PGRepository) Active(ctx context.Context, q db.Querier, providerID string) (Subscription, error) {
	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_id = $1 AND status = 'active'`, providerID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("subscription: get active: %w", err)
	}
	return sub, nil
}

func (r *PGRepository) Insert(ctx context.Context, q db.Querier, sub Subscription) (Subscription, error) {
	const insertSQL = `
		INSERT INTO subscriptions (provider_id, plan, commission_rate, max_active_deals, status, started_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + subscriptionColumns

	out, err := scanSubscription(q.QueryRow(ctx, insertSQL,
		sub.ProviderID, sub.Tier, sub.CommissionRate, sub.MaxActiveDeals, sub.Status, sub.StartedAt, sub.EndsAt))
	if err != nil {
		if db.IsUniqueViolation(err, "subscriptions_one_active") {
			return Subscription{}, ErrAlreadyActive
		}
		return Subscription{}, fmt.Errorf("subscription: insert: %w", err)
	}
	return out, nil
}

// EndActive moves the provider's active row, if any, to status.
func (r *PGRepository) EndActive(ctx context.Context, q db.Querier, providerID string, status Status) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2, ends_at = COALESCE(ends_at, now()), updated_at = now()
		WHERE provider_id = $1 AND status = 'active'
	`, providerID, status)
	if err != nil {
		return 0, fmt.Errorf("subscription: end active: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireLapsed marks active rows whose validity window ended as past_due.
func (r *PGRepository) ExpireLapsed(ctx context.Context, q db.Querier, now time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'past_due', updated_at = now()
		WHERE status = 'active' AND ends_at IS NOT NULL AND ends_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("subscription: expire lapsed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID,
		&sub.ProviderID,
		&sub.Tier,
		&sub.CommissionRate,
		&sub.MaxActiveDeals,
		&sub.Status,
		&sub.StartedAt,
		&sub.EndsAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	return sub, err
}
