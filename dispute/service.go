package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fidexa/access"
	"fidexa/apperr"
	"fidexa/db"
	"fidexa/deal"
	"fidexa/metrics"
)

// Deals is the slice of the deal service disputes drive.
type Deals interface {
	TransitionTx(ctx context.Context, tx pgx.Tx, req deal.TransitionRequest) (deal.Result, error)
	AfterCommit(ctx context.Context, res deal.Result)
	ProviderOf(ctx context.Context, dealID string) (string, error)
}

type Service struct {
	pool        db.Pool
	repo        Repository
	deals       Deals
	outbox      deal.OutboxWriter
	logger      *slog.Logger
	idGenerator func() string
}

func NewService(pool db.Pool, repo Repository, deals Deals) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		deals:       deals,
		logger:      slog.Default(),
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithOutbox(w deal.OutboxWriter) *Service {
	s.outbox = w
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

type OpenParams struct {
	DealID string
	Actor  access.Actor
	Reason string
}

// Open moves the deal to dispute and creates the open dispute in one
// transaction.
func (s *Service) Open(ctx context.Context, p OpenParams) (Dispute, error) {
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return Dispute{}, apperr.Validation("reason", "reason is required")
	}
	if _, err := uuid.Parse(p.DealID); err != nil {
		return Dispute{}, deal.ErrNotFound
	}
	if err := s.bind(ctx, p.Actor, p.DealID); err != nil {
		return Dispute{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.Active(ctx, tx, p.DealID); err == nil {
		return Dispute{}, ErrAlreadyActive
	} else if !errors.Is(err, ErrNotFound) {
		return Dispute{}, err
	}

	res, err := s.deals.TransitionTx(ctx, tx, deal.TransitionRequest{
		DealID: p.DealID,
		Event:  deal.EventOpenDispute,
		Actor:  p.Actor,
		Note:   reason,
	})
	if err != nil {
		return Dispute{}, err
	}

	d, err := s.repo.Insert(ctx, tx, Dispute{
		ID:          s.idGenerator(),
		DealID:      res.Deal.ID,
		OpenedBy:    p.Actor.Reference(),
		OpenerKind:  string(p.Actor.Kind),
		OpenerLabel: p.Actor.DisplayLabel(),
		Reason:      reason,
	})
	if err != nil {
		return Dispute{}, err
	}

	if err := s.emit(ctx, tx, OutboxTopicOpened, d); err != nil {
		return Dispute{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit open: %w", err)
	}

	s.deals.AfterCommit(ctx, res)
	metrics.DisputesOpened.Inc()
	s.logger.Info("dispute opened", "dispute_id", d.ID, "deal_id", d.DealID, "opener", d.OpenerLabel)
	return d, nil
}

// Get returns a dispute to an actor entitled to its deal. Parties of other
// deals get ErrNotFound.
func (s *Service) Get(ctx context.Context, actor access.Actor, id string) (Dispute, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Dispute{}, ErrNotFound
	}
	d, err := s.repo.Get(ctx, s.pool, id)
	if err != nil {
		return Dispute{}, err
	}
	if err := s.bind(ctx, actor, d.DealID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, err
	}
	return d, nil
}

// ForDeal lists the current and past disputes of a deal.
func (s *Service) ForDeal(ctx context.Context, actor access.Actor, dealID string) ([]Dispute, error) {
	if err := s.bind(ctx, actor, dealID); err != nil {
		return nil, err
	}
	return s.repo.ListByDeal(ctx, s.pool, dealID)
}

// List is the admin queue.
func (s *Service) List(ctx context.Context, actor access.Actor, status Status, limit int) ([]Dispute, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown status %q", status))
	}
	return s.repo.List(ctx, s.pool, status, limit)
}

func (s *Service) Messages(ctx context.Context, actor access.Actor, disputeID string) ([]Message, error) {
	d, err := s.Get(ctx, actor, disputeID)
	if err != nil {
		return nil, err
	}
	return s.repo.Messages(ctx, s.pool, d.ID)
}

type MessageParams struct {
	DisputeID     string
	Actor         access.Actor
	Body          string
	AttachmentURL *string
}

// PostMessage appends to the thread of a dispute that is not closed.
func (s *Service) PostMessage(ctx context.Context, p MessageParams) (Message, error) {
	body := strings.TrimSpace(p.Body)
	if body == "" {
		return Message{}, apperr.Validation("message", "message is required")
	}
	d, err := s.Get(ctx, p.Actor, p.DisputeID)
	if err != nil {
		return Message{}, err
	}
	if d.Status == StatusClosed {
		return Message{}, ErrClosed
	}

	var attachment *string
	if p.AttachmentURL != nil {
		if v := strings.TrimSpace(*p.AttachmentURL); v != "" {
			attachment = &v
		}
	}

	m, err := s.repo.InsertMessage(ctx, s.pool, Message{
		ID:            s.idGenerator(),
		DisputeID:     d.ID,
		SenderID:      p.Actor.Reference(),
		SenderLabel:   p.Actor.DisplayLabel(),
		Body:          body,
		AttachmentURL: attachment,
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// StartReview moves an open dispute under admin review.
func (s *Service) StartReview(ctx context.Context, actor access.Actor, id string) (Dispute, error) {
	if err := requireAdmin(actor); err != nil {
		return Dispute{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return Dispute{}, ErrNotFound
	}
	return s.repo.SetStatus(ctx, s.pool, id, StatusOpen, StatusUnderReview)
}

type ResolveParams struct {
	DisputeID string
	Actor     access.Actor
	Decision  Decision
	Note      string
}

// Resolve records the admin decision and drives the deal out of dispute in
// the same transaction.
func (s *Service) Resolve(ctx context.Context, p ResolveParams) (Dispute, error) {
	if err := requireAdmin(p.Actor); err != nil {
		return Dispute{}, err
	}
	note := strings.TrimSpace(p.Note)
	if note == "" {
		return Dispute{}, apperr.Validation("note", "resolution note is required")
	}
	event, ok := p.Decision.Event()
	if !ok {
		return Dispute{}, apperr.Validation("decision", fmt.Sprintf("unknown decision %q", p.Decision))
	}
	if _, err := uuid.Parse(p.DisputeID); err != nil {
		return Dispute{}, ErrNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.Resolve(ctx, tx, ResolveUpdate{
		ID:         p.DisputeID,
		Decision:   p.Decision,
		Note:       note,
		ResolvedBy: p.Actor.Reference(),
	})
	if err != nil {
		return Dispute{}, err
	}

	res, err := s.deals.TransitionTx(ctx, tx, deal.TransitionRequest{
		DealID: d.DealID,
		Event:  event,
		Actor:  p.Actor,
		Note:   note,
		Facts:  deal.Facts{DisputeResolved: true},
	})
	if err != nil {
		return Dispute{}, err
	}

	if err := s.emit(ctx, tx, OutboxTopicResolved, d); err != nil {
		return Dispute{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	s.deals.AfterCommit(ctx, res)
	s.logger.Info("dispute resolved", "dispute_id", d.ID, "deal_id", d.DealID, "decision", p.Decision, "deal_status", res.Deal.Status)
	return d, nil
}

// Close ends a resolved dispute; its thread becomes read-only.
func (s *Service) Close(ctx context.Context, actor access.Actor, id string) (Dispute, error) {
	if err := requireAdmin(actor); err != nil {
		return Dispute{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return Dispute{}, ErrNotFound
	}
	return s.repo.SetStatus(ctx, s.pool, id, StatusResolved, StatusClosed)
}

func (s *Service) bind(ctx context.Context, actor access.Actor, dealID string) error {
	if actor.Kind == access.KindAdmin {
		return access.BindToDeal(actor, dealID, "")
	}
	providerID, err := s.deals.ProviderOf(ctx, dealID)
	if err != nil {
		return err
	}
	if err := access.BindToDeal(actor, dealID, providerID); err != nil {
		return deal.ErrNotFound
	}
	return nil
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, topic string, d Dispute) error {
	if s.outbox == nil {
		return nil
	}
	payload := map[string]any{
		"dispute_id": d.ID,
		"deal_id":    d.DealID,
		"status":     string(d.Status),
	}
	if d.Decision != nil {
		payload["decision"] = string(*d.Decision)
	}
	return s.outbox.Enqueue(ctx, tx, topic, payload)
}

func requireAdmin(actor access.Actor) error {
	if actor.Kind != access.KindAdmin || actor.UserID == "" {
		return apperr.New(apperr.KindForbidden, "dispute: admin only")
	}
	return nil
}
