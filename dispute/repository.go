package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fidexa/apperr"
	"fidexa/db"
)

var (
	ErrNotFound = apperr.New(apperr.KindNotFound, "dispute: not found")
	// ErrAlreadyActive backs the one-active-dispute-per-deal rule.
	ErrAlreadyActive = apperr.New(apperr.KindDisputeConflict, "dispute: deal already has an active dispute")
	ErrBadStatus     = apperr.New(apperr.KindInvalidTransition, "dispute: invalid status transition")
	ErrClosed        = apperr.New(apperr.KindInvalidTransition, "dispute: closed disputes accept no messages")
)

type Repository interface {
	Insert(ctx context.Context, q db.Querier, d Dispute) (Dispute, error)
	Get(ctx context.Context, q db.Querier, id string) (Dispute, error)
	Active(ctx context.Context, q db.Querier, dealID string) (Dispute, error)
	ListByDeal(ctx context.Context, q db.Querier, dealID string) ([]Dispute, error)
	List(ctx context.Context, q db.Querier, status Status, limit int) ([]Dispute, error)
	SetStatus(ctx context.Context, q db.Querier, id string, from, to Status) (Dispute, error)
	Resolve(ctx context.Context, q db.Querier, p ResolveUpdate) (Dispute, error)
	InsertMessage(ctx context.Context, q db.Querier, m Message) (Message, error)
	Messages(ctx context.Context, q db.Querier, disputeID string) ([]Message, error)
}

// ResolveUpdate moves an under_review dispute to resolved.
type ResolveUpdate struct {
	ID         string
	Decision   Decision
	Note       string
	ResolvedBy *string
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const disputeColumns = `id::text, deal_id::text, opened_by::text, opener_kind, opener_label, reason, status::text,
	decision, resolution_note, resolved_by::text, resolved_at, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, q db.Querier, d Dispute) (Dispute, error) {
	const query = `
		INSERT INTO disputes (id, deal_id, opened_by, opener_kind, opener_label, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'open')
		RETURNING ` + disputeColumns

	out, err := scanDispute(q.QueryRow(ctx, query, d.ID, d.DealID, d.OpenedBy, d.OpenerKind, d.OpenerLabel, d.Reason))
	if err != nil {
		if db.IsUniqueViolation(err, "disputes_one_active") {
			return Dispute{}, ErrAlreadyActive
		}
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, q db.Querier, id string) (Dispute, error) {
	d, err := scanDispute(q.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

func (r *PGRepository) Active(ctx context.Context, q db.Querier, dealID string) (Dispute, error) {
	d, err := scanDispute(q.QueryRow(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE deal_id = $1 AND status IN ('open', 'under_review')
	`, dealID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: active: %w", err)
	}
	return d, nil
}

func (r *PGRepository) ListByDeal(ctx context.Context, q db.Querier, dealID string) ([]Dispute, error) {
	return r.list(ctx, q, `SELECT `+disputeColumns+` FROM disputes WHERE deal_id = $1 ORDER BY created_at DESC`, dealID)
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, status Status, limit int) ([]Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var filter *string
	if status != "" {
		s := string(status)
		filter = &s
	}
	return r.list(ctx, q, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE ($1::dispute_status IS NULL OR status = $1::dispute_status)
		ORDER BY created_at DESC LIMIT $2
	`, filter, limit)
}

func (r *PGRepository) list(ctx context.Context, q db.Querier, query string, args ...any) ([]Dispute, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) SetStatus(ctx context.Context, q db.Querier, id string, from, to Status) (Dispute, error) {
	d, err := scanDispute(q.QueryRow(ctx, `
		UPDATE disputes SET status = $3::dispute_status, updated_at = now()
		WHERE id = $1 AND status = $2::dispute_status
		RETURNING `+disputeColumns, id, from, to))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, r.missingOrBadStatus(ctx, q, id)
		}
		return Dispute{}, fmt.Errorf("dispute: set status: %w", err)
	}
	return d, nil
}

func (r *PGRepository) Resolve(ctx context.Context, q db.Querier, p ResolveUpdate) (Dispute, error) {
	d, err := scanDispute(q.QueryRow(ctx, `
		UPDATE disputes
		SET status = 'resolved', decision = $2, resolution_note = $3, resolved_by = $4,
		    resolved_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'under_review'
		RETURNING `+disputeColumns, p.ID, p.Decision, p.Note, p.ResolvedBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, r.missingOrBadStatus(ctx, q, p.ID)
		}
		return Dispute{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	return d, nil
}

func (r *PGRepository) missingOrBadStatus(ctx context.Context, q db.Querier, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disputes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("dispute: status fetch: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrBadStatus
}

// InsertMessage appends m unless the dispute is closed. The share lock makes a
// concurrent close wait for the insert, or the insert see the close.
func (r *PGRepository) InsertMessage(ctx context.Context, q db.Querier, m Message) (Message, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO dispute_messages (id, dispute_id, sender_id, sender_label, message, attachment_url)
		SELECT $1::uuid, d.id, $3::uuid, $4::text, $5::text, $6::text
		FROM (
			SELECT id FROM disputes
			WHERE id = $2::uuid AND status <> 'closed'
			FOR SHARE
		) d
		RETURNING created_at
	`, m.ID, m.DisputeID, m.SenderID, m.SenderLabel, m.Body, m.AttachmentURL).Scan(&m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrClosed
		}
		return Message{}, fmt.Errorf("dispute: insert message: %w", err)
	}
	return m, nil
}

func (r *PGRepository) Messages(ctx context.Context, q db.Querier, disputeID string) ([]Message, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, dispute_id::text, sender_id::text, sender_label, message, attachment_url, created_at
		FROM dispute_messages
		WHERE dispute_id = $1
		ORDER BY created_at, id
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.DisputeID, &m.SenderID, &m.SenderLabel, &m.Body, &m.AttachmentURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate messages: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	err := row.Scan(
		&d.ID,
		&d.DealID,
		&d.OpenedBy,
		&d.OpenerKind,
		&d.OpenerLabel,
		&d.Reason,
		&d.Status,
		&d.Decision,
		&d.ResolutionNote,
		&d.ResolvedBy,
		&d.ResolvedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	return d, err
}
