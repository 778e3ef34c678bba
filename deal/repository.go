package deal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fidexa/access"
	"fidexa/apperr"
	"fidexa/db"
)

var (
	// ErrNotFound is shared with token lookups so unknown ids, unknown tokens
	// and foreign tokens are indistinguishable.
	ErrNotFound = access.ErrDealNotFound
	// ErrStaleStatus is returned when the compare-and-set lost to a concurrent
	// transition.
	ErrStaleStatus = apperr.New(apperr.KindConflict, "deal: status changed concurrently")
	// ErrProviderNotFound signals a deal creation for an unknown principal.
	ErrProviderNotFound = apperr.New(apperr.KindNotFound, "deal: provider not found")
	// ErrTokenCollision signals a secure token clash. The transaction is
	// aborted at that point so the request is retried as a whole.
	ErrTokenCollision = apperr.New(apperr.KindConflict, "deal: secure token collision")
)

// Repository defines the data access required by the service. Every method
// runs on the querier it is given so the service decides the transaction.
type Repository interface {
	LockProvider(ctx context.Context, q db.Querier, providerID string) error
	CountActive(ctx context.Context, q db.Querier, providerID string) (int, error)
	Insert(ctx context.Context, q db.Querier, d Deal) (Deal, error)
	Get(ctx context.Context, q db.Querier, id string) (Deal, error)
	GetByToken(ctx context.Context, q db.Querier, token string) (Deal, error)
	List(ctx context.Context, q db.Querier, providerID string, f ListFilter) ([]Deal, error)
	CompareAndSetStatus(ctx context.Context, q db.Querier, p CASParams) (Deal, error)
	AppendHistory(ctx context.Context, q db.Querier, e HistoryEntry) (HistoryEntry, error)
	History(ctx context.Context, q db.Querier, dealID string) ([]HistoryEntry, error)
	DueForTimeout(ctx context.Context, q db.Querier, now time.Time, limit int) ([]string, error)
	Aggregate(ctx context.Context, q db.Querier, providerID string) ([]StatusAggregate, error)
	PlatformCounts(ctx context.Context, q db.Querier) (PlatformCounts, error)
}

// PlatformCounts holds the admin counters that live outside the deals table.
type PlatformCounts struct {
	ActiveProviders int
	OpenDisputes    int
}

// CASParams moves a deal from From to To only if its stored status is still
// From. ValidationDeadline, when set, replaces the stored deadline.
type CASParams struct {
	ID                 string
	From               Status
	To                 Status
	ValidationDeadline *time.Time
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const dealColumns = `id::text, provider_id::text, client_name, client_email, client_phone, title, description,
	amount, currency, custom_conditions, delivery_deadline, validation_deadline, validation_window_hours,
	secure_token, status::text, commission_rate, commission_amount, created_at, updated_at`

// LockProvider serializes deal creation per provider by locking the user row.
func (r *PGRepository) LockProvider(ctx context.Context, q db.Querier, providerID string) error {
	var id string
	if err := q.QueryRow(ctx, `SELECT id::text FROM users WHERE id = $1 FOR UPDATE`, providerID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProviderNotFound
		}
		return fmt.Errorf("deal: lock provider: %w", err)
	}
	return nil
}

func (r *PGRepository) CountActive(ctx context.Context, q db.Querier, providerID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM deals
		WHERE provider_id = $1 AND status NOT IN ('completed', 'refunded')
	`, providerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("deal: count active: %w", err)
	}
	return n, nil
}

func (r *PGRepository) Insert(ctx context.Context, q db.Querier, d Deal) (Deal, error) {
	const insertSQL = `
		INSERT INTO deals (
			id, provider_id, client_name, client_email, client_phone, title, description,
			amount, currency, custom_conditions, delivery_deadline, validation_deadline,
			validation_window_hours, secure_token, status, commission_rate, commission_amount
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,'pending_payment',$15,$16)
		RETURNING ` + dealColumns

	out, err := scanDeal(q.QueryRow(ctx, insertSQL,
		d.ID, d.ProviderID, d.ClientName, d.ClientEmail, d.ClientPhone, d.Title, d.Description,
		d.Amount, d.Currency, d.CustomConditions, d.DeliveryDeadline, d.ValidationDeadline,
		d.ValidationWindowHours, d.SecureToken, d.CommissionRate, d.CommissionAmount,
	))
	if err != nil {
		if db.IsUniqueViolation(err, "deals_secure_token_key") {
			return Deal{}, ErrTokenCollision
		}
		return Deal{}, fmt.Errorf("deal: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Deal, error) {
	d, err := scanDeal(q.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: get: %w", err)
	}
	return d, nil
}

func (r *PGRepository) GetByToken(ctx context.Context, q db.Querier, token string) (Deal, error) {
	d, err := scanDeal(q.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE secure_token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: get by token: %w", err)
	}
	return d, nil
}

// List returns deals newest first. An empty providerID lists every deal.
func (r *PGRepository) List(ctx context.Context, q db.Querier, providerID string, f ListFilter) ([]Deal, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + dealColumns + ` FROM deals
		WHERE ($1::uuid IS NULL OR provider_id = $1::uuid)
		  AND ($2::deal_status IS NULL OR status = $2::deal_status)
		ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`

	rows, err := q.Query(ctx, query, optional(providerID), optional(string(f.Status)), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("deal: list: %w", err)
	}
	defer rows.Close()

	out := make([]Deal, 0, 16)
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("deal: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deal: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) CompareAndSetStatus(ctx context.Context, q db.Querier, p CASParams) (Deal, error) {
	const updateSQL = `
		UPDATE deals
		SET status = $3::deal_status,
		    validation_deadline = COALESCE($4, validation_deadline),
		    updated_at = now()
		WHERE id = $1 AND status = $2::deal_status
		RETURNING ` + dealColumns

	d, err := scanDeal(q.QueryRow(ctx, updateSQL, p.ID, p.From, p.To, p.ValidationDeadline))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrStaleStatus
		}
		return Deal{}, fmt.Errorf("deal: compare and set status: %w", err)
	}
	return d, nil
}

func (r *PGRepository) AppendHistory(ctx context.Context, q db.Querier, e HistoryEntry) (HistoryEntry, error) {
	const insertSQL = `
		INSERT INTO deal_status_history (deal_id, old_status, new_status, event, changed_by, actor_kind, actor_label, note)
		VALUES ($1, $2::deal_status, $3::deal_status, $4, $5, $6, $7, $8)
		RETURNING id, changed_at
	`

	var old *string
	if e.OldStatus != nil {
		s := string(*e.OldStatus)
		old = &s
	}
	if err := q.QueryRow(ctx, insertSQL, e.DealID, old, e.NewStatus, e.Event, e.ChangedBy, e.ActorKind, e.ActorLabel, e.Note).
		Scan(&e.ID, &e.ChangedAt); err != nil {
		return HistoryEntry{}, fmt.Errorf("deal: append history: %w", err)
	}
	return e, nil
}

func (r *PGRepository) History(ctx context.Context, q db.Querier, dealID string) ([]HistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, deal_id::text, old_status::text, new_status::text, event, changed_by::text, actor_kind, actor_label, note, changed_at
		FROM deal_status_history
		WHERE deal_id = $1
		ORDER BY id
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("deal: history: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0, 8)
	for rows.Next() {
		var (
			e   HistoryEntry
			old *string
		)
		if err := rows.Scan(&e.ID, &e.DealID, &old, &e.NewStatus, &e.Event, &e.ChangedBy, &e.ActorKind, &e.ActorLabel, &e.Note, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("deal: scan history: %w", err)
		}
		if old != nil {
			s := Status(*old)
			e.OldStatus = &s
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deal: iterate history: %w", err)
	}
	return out, nil
}

// DueForTimeout lists deals awaiting validation whose deadline has passed.
func (r *PGRepository) DueForTimeout(ctx context.Context, q db.Querier, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `
		SELECT id::text FROM deals
		WHERE status IN ('delivered', 'awaiting_validation')
		  AND validation_deadline IS NOT NULL
		  AND validation_deadline <= $1
		ORDER BY validation_deadline
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("deal: due for timeout: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("deal: scan due id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Aggregate groups deals by status and currency. An empty providerID spans
// every provider.
func (r *PGRepository) Aggregate(ctx context.Context, q db.Querier, providerID string) ([]StatusAggregate, error) {
	rows, err := q.Query(ctx, `
		SELECT status::text, currency, COUNT(*),
		       COALESCE(SUM(amount), 0), COALESCE(SUM(commission_amount), 0)
		FROM deals
		WHERE ($1 = '' OR provider_id::text = $1)
		GROUP BY status, currency
		ORDER BY status, currency
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("deal: aggregate: %w", err)
	}
	defer rows.Close()

	var out []StatusAggregate
	for rows.Next() {
		var g StatusAggregate
		var status string
		if err := rows.Scan(&status, &g.Currency, &g.Count, &g.Amount, &g.Commission); err != nil {
			return nil, fmt.Errorf("deal: scan aggregate: %w", err)
		}
		g.Status = Status(status)
		out = append(out, g)
	}
	return out, rows.Err()
}

// PlatformCounts counts providers on an active plan and disputes not yet
// resolved.
func (r *PGRepository) PlatformCounts(ctx context.Context, q db.Querier) (PlatformCounts, error) {
	var c PlatformCounts
	err := q.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT provider_id) FROM subscriptions WHERE status = 'active'),
			(SELECT COUNT(*) FROM disputes WHERE status IN ('open', 'under_review'))
	`).Scan(&c.ActiveProviders, &c.OpenDisputes)
	if err != nil {
		return PlatformCounts{}, fmt.Errorf("deal: platform counts: %w", err)
	}
	return c, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanDeal(row pgx.Row) (Deal, error) {
	var d Deal
	err := row.Scan(
		&d.ID,
		&d.ProviderID,
		&d.ClientName,
		&d.ClientEmail,
		&d.ClientPhone,
		&d.Title,
		&d.Description,
		&d.Amount,
		&d.Currency,
		&d.CustomConditions,
		&d.DeliveryDeadline,
		&d.ValidationDeadline,
		&d.ValidationWindowHours,
		&d.SecureToken,
		&d.Status,
		&d.CommissionRate,
		&d.CommissionAmount,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	return d, err
}
