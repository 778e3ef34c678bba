package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"fidexa/db"
)

var (
	// ErrDuplicateIdempotencyKey signals a replayed processor event.
	ErrDuplicateIdempotencyKey = errors.New("payment: duplicate idempotency key")
	// ErrNothingToSettle is returned when no settlement is due for the deal.
	ErrNothingToSettle = errors.New("payment: nothing to settle")
)

type Repository interface {
	InsertIdempotencyKey(ctx context.Context, q db.Querier, key string) error
	InsertTransaction(ctx context.Context, q db.Querier, t Transaction) (Transaction, error)
	MarkDepositRefunded(ctx context.Context, q db.Querier, dealID string) error
	EnqueueSettlement(ctx context.Context, q db.Querier, s Settlement) (bool, error)
	ClaimSettlement(ctx context.Context, q db.Querier, dealID string, now, leaseUntil time.Time) (Settlement, error)
	DueSettlements(ctx context.Context, q db.Querier, now time.Time, limit int) ([]string, error)
	MarkSettlementCompleted(ctx context.Context, q db.Querier, id, reference string) error
	MarkSettlementFailed(ctx context.Context, q db.Querier, id, reason string, nextAttempt time.Time) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

// InsertIdempotencyKey reserves the key inside the active transaction.
func (r *PGRepository) InsertIdempotencyKey(ctx context.Context, q db.Querier, key string) error {
	if key == "" {
		return fmt.Errorf("payment: empty idempotency key")
	}
	if _, err := q.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key); err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("payment: insert idempotency key: %w", err)
	}
	return nil
}

func (r *PGRepository) InsertTransaction(ctx context.Context, q db.Querier, t Transaction) (Transaction, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO transactions (deal_id, amount, currency, status, payment_method, payment_reference, paid_at)
		VALUES ($1, $2, $3, $4::transaction_status, $5, $6, $7)
		RETURNING id::text, created_at
	`, t.DealID, t.Amount, t.Currency, t.Status, t.PaymentMethod, t.PaymentReference, t.PaidAt).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return Transaction{}, fmt.Errorf("payment: insert transaction: %w", err)
	}
	return t, nil
}

func (r *PGRepository) MarkDepositRefunded(ctx context.Context, q db.Querier, dealID string) error {
	if _, err := q.Exec(ctx, `
		UPDATE transactions SET status = 'refunded', updated_at = now()
		WHERE deal_id = $1 AND status = 'completed'
	`, dealID); err != nil {
		return fmt.Errorf("payment: mark deposit refunded: %w", err)
	}
	return nil
}

// EnqueueSettlement inserts the deal's settlement unless one exists and
// reports whether a row was created.
func (r *PGRepository) EnqueueSettlement(ctx context.Context, q db.Querier, s Settlement) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO settlements (id, deal_id, kind, amount, currency, beneficiary)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (deal_id) DO NOTHING
	`, s.ID, s.DealID, s.Kind, s.Amount, s.Currency, s.Beneficiary)
	if err != nil {
		return false, fmt.Errorf("payment: enqueue settlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimSettlement leases the unsettled row of dealID until leaseUntil and
// counts the attempt. A row leased by another worker is skipped.
func (r *PGRepository) ClaimSettlement(ctx context.Context, q db.Querier, dealID string, now, leaseUntil time.Time) (Settlement, error) {
	const query = `
		WITH candidate AS (
			SELECT id FROM settlements
			WHERE deal_id = $1 AND status <> 'completed' AND next_attempt_at <= $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE settlements AS s
		SET attempts = s.attempts + 1,
		    next_attempt_at = $3,
		    updated_at = now()
		FROM candidate
		WHERE s.id = candidate.id
		RETURNING s.id::text, s.deal_id::text, s.kind, s.amount, s.currency, s.beneficiary, s.status, s.attempts,
		          s.last_error, s.reference, s.next_attempt_at, s.created_at, s.updated_at
	`
	var s Settlement
	err := q.QueryRow(ctx, query, dealID, now, leaseUntil).Scan(
		&s.ID, &s.DealID, &s.Kind, &s.Amount, &s.Currency, &s.Beneficiary, &s.Status, &s.Attempts,
		&s.LastError, &s.Reference, &s.NextAttemptAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settlement{}, ErrNothingToSettle
		}
		return Settlement{}, fmt.Errorf("payment: claim settlement: %w", err)
	}
	return s, nil
}

func (r *PGRepository) DueSettlements(ctx context.Context, q db.Querier, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.Query(ctx, `
		SELECT deal_id::text FROM settlements
		WHERE status <> 'completed' AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("payment: due settlements: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("payment: scan due settlement: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGRepository) MarkSettlementCompleted(ctx context.Context, q db.Querier, id, reference string) error {
	if _, err := q.Exec(ctx, `
		UPDATE settlements
		SET status = 'completed', reference = $2, last_error = NULL, updated_at = now()
		WHERE id = $1
	`, id, reference); err != nil {
		return fmt.Errorf("payment: mark settlement completed: %w", err)
	}
	return nil
}

const maxErrorLen = 2000

// clipError bounds a processor error to maxErrorLen bytes without splitting
// a UTF-8 sequence.
func clipError(reason string) string {
	if len(reason) <= maxErrorLen {
		return reason
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

func (r *PGRepository) MarkSettlementFailed(ctx context.Context, q db.Querier, id, reason string, nextAttempt time.Time) error {
	reason = clipError(reason)
	if _, err := q.Exec(ctx, `
		UPDATE settlements
		SET status = 'failed', last_error = $2, next_attempt_at = $3, updated_at = now()
		WHERE id = $1
	`, id, reason, nextAttempt); err != nil {
		return fmt.Errorf("payment: mark settlement failed: %w", err)
	}
	return nil
}
