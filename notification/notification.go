// Package notification keeps the provider's in-app notification feed.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fidexa/apperr"
	"fidexa/db"
	"fidexa/deal"
)

var ErrNotFound = apperr.New(apperr.KindNotFound, "notification: not found")

type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
)

// Notification mirrors the notifications table.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Link      *string
	Type      Type
	Read      bool
	CreatedAt time.Time
}

type template struct {
	title string
	typ   Type
}

var templates = map[deal.Event]template{
	deal.EventPaymentConfirmed:   {"Paiement sécurisé", TypeSuccess},
	deal.EventStartWork:          {"Travail démarré", TypeInfo},
	deal.EventMarkDelivered:      {"Livraison enregistrée", TypeInfo},
	deal.EventRequestValidation:  {"Validation demandée", TypeInfo},
	deal.EventClientValidate:     {"Deal validé par le client", TypeSuccess},
	deal.EventValidationTimeout:  {"Deal validé automatiquement", TypeSuccess},
	deal.EventOpenDispute:        {"Litige ouvert", TypeWarning},
	deal.EventResolveForProvider: {"Litige résolu en votre faveur", TypeSuccess},
	deal.EventResolveForClient:   {"Litige résolu en faveur du client", TypeWarning},
	deal.EventResolveResumeWork:  {"Litige résolu, reprise du travail", TypeInfo},
}

// Build renders the provider notification for a committed transition.
func Build(d deal.Deal, entry deal.HistoryEntry) Notification {
	tpl, ok := templates[entry.Event]
	if !ok {
		tpl = template{title: "Deal mis à jour", typ: TypeInfo}
	}
	link := "/dashboard/deals/" + d.ID
	msg := fmt.Sprintf("« %s » : %s", d.Title, d.Status)
	if entry.Note != "" {
		msg += " (" + entry.Note + ")"
	}
	return Notification{
		UserID:  d.ProviderID,
		Title:   tpl.title,
		Message: msg,
		Link:    &link,
		Type:    tpl.typ,
	}
}

type Repository interface {
	Insert(ctx context.Context, q db.Querier, n Notification) (Notification, error)
	List(ctx context.Context, q db.Querier, userID string, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, q db.Querier, userID, id string) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) Insert(ctx context.Context, q db.Querier, n Notification) (Notification, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO notifications (user_id, title, message, link, type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text, read, created_at
	`, n.UserID, n.Title, n.Message, n.Link, n.Type).Scan(&n.ID, &n.Read, &n.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("notification: insert: %w", err)
	}
	return n, nil
}

func (r *PGRepository) List(ctx context.Context, q db.Querier, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := q.Query(ctx, `
		SELECT id::text, user_id::text, title, message, link, type, read, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR read = false)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("notification: list: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Link, &n.Type, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notification: scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PGRepository) MarkRead(ctx context.Context, q db.Querier, userID, id string) error {
	var got string
	err := q.QueryRow(ctx, `
		UPDATE notifications SET read = true
		WHERE id = $1 AND user_id = $2
		RETURNING id::text
	`, id, userID).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("notification: mark read: %w", err)
	}
	return nil
}

// Service implements deal.Notifier and serves the feed.
type Service struct {
	pool db.Querier
	repo Repository
}

func NewService(pool db.Querier, repo Repository) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo}
}

func (s *Service) DealChanged(ctx context.Context, tx pgx.Tx, d deal.Deal, entry deal.HistoryEntry) error {
	_, err := s.repo.Insert(ctx, tx, Build(d, entry))
	return err
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	return s.repo.List(ctx, s.pool, userID, unreadOnly, limit)
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	if userID == "" || id == "" {
		return ErrNotFound
	}
	return s.repo.MarkRead(ctx, s.pool, userID, id)
}
