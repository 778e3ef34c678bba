package deal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fidexa/access"
	"fidexa/apperr"
	"fidexa/db"
	"fidexa/metrics"
	"fidexa/subscription"
)

// Pricing resolves the subscription terms in force for a provider, read
// through the creation transaction.
type Pricing interface {
	Terms(ctx context.Context, q db.Querier, providerID string) (subscription.Terms, error)
}

// Settler queues the fund movement for a deal that reached a terminal status
// inside the transition transaction, then performs it after commit.
type Settler interface {
	Enqueue(ctx context.Context, tx pgx.Tx, d Deal) error
	Settle(ctx context.Context, dealID string)
}

// Notifier records user-facing notifications for a committed transition.
type Notifier interface {
	DealChanged(ctx context.Context, tx pgx.Tx, d Deal, entry HistoryEntry) error
}

// OutboxWriter enqueues integration events inside the transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool        db.Pool
	repo        Repository
	pricing     Pricing
	settler     Settler
	notifier    Notifier
	outbox      OutboxWriter
	logger      *slog.Logger
	idGenerator func() string
	tokenSource func() (string, error)
	now         func() time.Time
	currency    string
	windowHours int
}

func NewService(pool db.Pool, repo Repository, pricing Pricing) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		pricing:     pricing,
		logger:      slog.Default(),
		idGenerator: func() string { return uuid.NewString() },
		tokenSource: NewToken,
		now:         time.Now,
		currency:    "XOF",
		windowHours: 72,
	}
}

func (s *Service) WithSettler(settler Settler) *Service {
	s.settler = settler
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithOutbox(w OutboxWriter) *Service {
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

func (s *Service) WithTokenSource(src func() (string, error)) *Service {
	s.tokenSource = src
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithDefaults sets the currency and validation window applied when a
// creation request leaves them empty.
func (s *Service) WithDefaults(currency string, windowHours int) *Service {
	if currency != "" {
		s.currency = currency
	}
	if windowHours > 0 {
		s.windowHours = windowHours
	}
	return s
}

type CreateParams struct {
	ProviderID            string
	ClientName            string
	ClientEmail           *string
	ClientPhone           *string
	Title                 string
	Description           string
	Amount                decimal.Decimal
	Currency              string
	CustomConditions      *string
	DeliveryDeadline      *time.Time
	ValidationWindowHours int
}

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// Amounts are stored as NUMERIC(14,2).
const amountScale = 2

var maxAmount = decimal.New(1, 12)

func (s *Service) normalize(p CreateParams) (CreateParams, error) {
	p.ClientName = strings.TrimSpace(p.ClientName)
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	p.ClientEmail = trimmedOrNil(p.ClientEmail)
	p.ClientPhone = trimmedOrNil(p.ClientPhone)
	p.CustomConditions = trimmedOrNil(p.CustomConditions)

	switch {
	case p.ProviderID == "":
		return p, apperr.Validation("provider_id", "provider is required")
	case p.Title == "":
		return p, apperr.Validation("title", "title is required")
	case p.Description == "":
		return p, apperr.Validation("description", "description is required")
	case p.ClientName == "":
		return p, apperr.Validation("client_name", "client name is required")
	case !p.Amount.IsPositive():
		return p, apperr.Validation("amount", "amount must be positive")
	case !p.Amount.Equal(p.Amount.Round(amountScale)):
		return p, apperr.Validation("amount", "amount has more than 2 decimal places")
	case p.Amount.GreaterThanOrEqual(maxAmount):
		return p, apperr.Validation("amount", "amount is too large")
	case p.ValidationWindowHours < 0:
		return p, apperr.Validation("validation_window_hours", "validation window must be positive")
	}
	p.Amount = p.Amount.Round(amountScale)
	if p.ClientEmail != nil {
		if _, err := mail.ParseAddress(*p.ClientEmail); err != nil {
			return p, apperr.Validation("client_email", "client email is malformed")
		}
	}
	if p.Currency == "" {
		p.Currency = s.currency
	}
	if !currencyCode.MatchString(p.Currency) {
		return p, apperr.Validation("currency", "currency must be a 3-letter code")
	}
	if p.ValidationWindowHours == 0 {
		p.ValidationWindowHours = s.windowHours
	}
	return p, nil
}

// Create prices and stores a new deal in pending_payment with its creation
// history row. The provider row is locked for the duration so concurrent
// creations observe each other in the quota count.
func (s *Service) Create(ctx context.Context, params CreateParams) (Deal, error) {
	params, err := s.normalize(params)
	if err != nil {
		metrics.DealCreateRejected.WithLabelValues(string(apperr.KindValidation)).Inc()
		return Deal{}, err
	}

	d, err := s.create(ctx, params)
	if err != nil {
		if kind := apperr.KindOf(err); kind != "" {
			metrics.DealCreateRejected.WithLabelValues(string(kind)).Inc()
		}
		return Deal{}, err
	}
	metrics.DealsCreated.Inc()
	s.logger.Info("deal created", "deal_id", d.ID, "provider_id", d.ProviderID, "amount", d.Amount.String(), "commission", d.CommissionAmount.String())
	return d, nil
}

func (s *Service) create(ctx context.Context, params CreateParams) (Deal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.LockProvider(ctx, tx, params.ProviderID); err != nil {
		return Deal{}, err
	}

	terms, err := s.pricing.Terms(ctx, tx, params.ProviderID)
	if err != nil {
		return Deal{}, fmt.Errorf("deal: load terms: %w", err)
	}
	active, err := s.repo.CountActive(ctx, tx, params.ProviderID)
	if err != nil {
		return Deal{}, err
	}
	if !terms.AllowsAnother(active) {
		return Deal{}, apperr.New(apperr.KindQuotaExceeded,
			fmt.Sprintf("deal: %s plan allows %d active deals", terms.Tier, terms.MaxActiveDeals))
	}

	token, err := s.tokenSource()
	if err != nil {
		return Deal{}, err
	}

	d := Deal{
		ID:                    s.idGenerator(),
		ProviderID:            params.ProviderID,
		ClientName:            params.ClientName,
		ClientEmail:           params.ClientEmail,
		ClientPhone:           params.ClientPhone,
		Title:                 params.Title,
		Description:           params.Description,
		Amount:                params.Amount,
		Currency:              params.Currency,
		CustomConditions:      params.CustomConditions,
		DeliveryDeadline:      params.DeliveryDeadline,
		ValidationWindowHours: params.ValidationWindowHours,
		SecureToken:           token,
		Status:                StatusPendingPayment,
		CommissionRate:        terms.CommissionRate,
		CommissionAmount:      subscription.Commission(params.Amount, terms.CommissionRate),
	}
	if d.DeliveryDeadline != nil {
		deadline := d.DeliveryDeadline.Add(s.window(d))
		d.ValidationDeadline = &deadline
	}

	created, err := s.repo.Insert(ctx, tx, d)
	if err != nil {
		return Deal{}, err
	}

	provider := access.Provider(params.ProviderID, "")
	if _, err := s.repo.AppendHistory(ctx, tx, HistoryEntry{
		DealID:     created.ID,
		NewStatus:  StatusPendingPayment,
		Event:      EventCreated,
		ChangedBy:  provider.Reference(),
		ActorKind:  string(access.KindProvider),
		ActorLabel: provider.DisplayLabel(),
		Note:       "deal created",
	}); err != nil {
		return Deal{}, err
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, OutboxTopicDealCreated, map[string]any{
			"deal_id":     created.ID,
			"provider_id": created.ProviderID,
			"amount":      created.Amount.String(),
			"currency":    created.Currency,
		}); err != nil {
			return Deal{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, fmt.Errorf("deal: commit create: %w", err)
	}
	return created, nil
}

// TransitionRequest asks for one event on one deal.
type TransitionRequest struct {
	DealID string
	Event  Event
	Actor  access.Actor
	Note   string
	Facts  Facts
}

// Result describes a transition written inside a transaction.
type Result struct {
	Deal     Deal
	Previous Status
	Entry    HistoryEntry
}

// Transition applies one event in its own transaction and, once committed,
// triggers the settlement when funds must move. A failed settlement never
// fails the transition.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (Result, error) {
	started := s.now()
	t, err := s.authorize(req)
	if err != nil {
		s.countTransition(req.Event, err)
		return Result{}, err
	}
	if t.Internal {
		err := apperr.New(apperr.KindInvalidTransition, fmt.Sprintf("deal: %s is only reachable through a dispute", req.Event))
		s.countTransition(req.Event, err)
		return Result{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.apply(ctx, tx, t, req)
	if err != nil {
		s.countTransition(req.Event, err)
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("deal: commit transition: %w", err)
	}

	metrics.TransitionDuration.WithLabelValues(string(req.Event)).Observe(s.now().Sub(started).Seconds())
	s.AfterCommit(ctx, res)
	return res, nil
}

// TransitionTx applies one event inside a caller-owned transaction. The
// caller commits and then calls AfterCommit with the result.
func (s *Service) TransitionTx(ctx context.Context, tx pgx.Tx, req TransitionRequest) (Result, error) {
	t, err := s.authorize(req)
	if err != nil {
		s.countTransition(req.Event, err)
		return Result{}, err
	}
	res, err := s.apply(ctx, tx, t, req)
	if err != nil {
		s.countTransition(req.Event, err)
		return Result{}, err
	}
	return res, nil
}

// AfterCommit runs the post-commit side effects of a committed transition.
func (s *Service) AfterCommit(ctx context.Context, res Result) {
	metrics.DealTransitions.WithLabelValues(string(res.Entry.Event), "committed").Inc()
	s.logger.Info("deal transition committed",
		"deal_id", res.Deal.ID,
		"event", res.Entry.Event,
		"from", res.Previous,
		"to", res.Deal.Status,
		"actor", res.Entry.ActorLabel,
	)
	if s.settler != nil && MovesFunds(res.Deal.Status) {
		s.settler.Settle(ctx, res.Deal.ID)
	}
}

// authorize runs before any storage access: the event must exist and the
// actor shape must be one the transition allows.
func (s *Service) authorize(req TransitionRequest) (Transition, error) {
	if req.DealID == "" {
		return Transition{}, apperr.Validation("deal_id", "deal id is required")
	}
	t, ok := Lookup(req.Event)
	if !ok {
		return Transition{}, apperr.Validation("event", fmt.Sprintf("unknown event %q", req.Event))
	}
	if !t.Permits(req.Actor) {
		if req.Actor.Kind == access.KindClient {
			return Transition{}, apperr.New(apperr.KindForbidden, fmt.Sprintf("deal: clients cannot %s", req.Event))
		}
		return Transition{}, apperr.New(apperr.KindForbidden, fmt.Sprintf("deal: %s cannot %s", req.Actor.Kind, req.Event))
	}
	return t, nil
}

func (s *Service) apply(ctx context.Context, tx pgx.Tx, t Transition, req TransitionRequest) (Result, error) {
	if _, err := uuid.Parse(req.DealID); err != nil {
		return Result{}, ErrNotFound
	}
	current, err := s.repo.Get(ctx, tx, req.DealID)
	if err != nil {
		return Result{}, err
	}
	if err := access.BindToDeal(req.Actor, current.ID, current.ProviderID); err != nil {
		return Result{}, err
	}

	now := s.now()
	if err := t.check(current, req, now); err != nil {
		return Result{}, err
	}

	cas := CASParams{ID: current.ID, From: current.Status, To: t.To}
	if t.To == StatusDelivered {
		// every delivery, including one after resumed work, gives the client
		// at least a full window from now
		deadline := now.Add(s.window(current))
		if current.ValidationDeadline != nil && current.ValidationDeadline.After(deadline) {
			deadline = *current.ValidationDeadline
		}
		cas.ValidationDeadline = &deadline
	}
	updated, err := s.repo.CompareAndSetStatus(ctx, tx, cas)
	if err != nil {
		return Result{}, err
	}

	previous := current.Status
	entry, err := s.repo.AppendHistory(ctx, tx, HistoryEntry{
		DealID:     updated.ID,
		OldStatus:  &previous,
		NewStatus:  updated.Status,
		Event:      t.Event,
		ChangedBy:  req.Actor.Reference(),
		ActorKind:  string(req.Actor.Kind),
		ActorLabel: req.Actor.DisplayLabel(),
		Note:       strings.TrimSpace(req.Note),
	})
	if err != nil {
		return Result{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.DealChanged(ctx, tx, updated, entry); err != nil {
			return Result{}, err
		}
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, OutboxTopicStatusChanged, map[string]any{
			"deal_id":  updated.ID,
			"previous": string(previous),
			"next":     string(updated.Status),
			"event":    string(t.Event),
			"actor":    entry.ActorLabel,
		}); err != nil {
			return Result{}, err
		}
	}
	if s.settler != nil && MovesFunds(updated.Status) {
		if err := s.settler.Enqueue(ctx, tx, updated); err != nil {
			return Result{}, err
		}
	}

	return Result{Deal: updated, Previous: previous, Entry: entry}, nil
}

func (s *Service) countTransition(event Event, err error) {
	outcome := string(apperr.KindOf(err))
	if outcome == "" {
		outcome = "error"
	}
	metrics.DealTransitions.WithLabelValues(string(event), outcome).Inc()
}

func (s *Service) window(d Deal) time.Duration {
	hours := d.ValidationWindowHours
	if hours <= 0 {
		hours = s.windowHours
	}
	return time.Duration(hours) * time.Hour
}

// GetByToken resolves a client token. Malformed, unknown and valid-looking
// tokens all fail with the same ErrNotFound.
func (s *Service) GetByToken(ctx context.Context, token string) (Deal, error) {
	if !WellFormedToken(token) {
		return Deal{}, ErrNotFound
	}
	return s.repo.GetByToken(ctx, s.pool, token)
}

// Get returns the deal and its history to an actor bound to it. A provider
// asking for someone else's deal sees ErrNotFound.
func (s *Service) Get(ctx context.Context, actor access.Actor, id string) (Deal, []HistoryEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Deal{}, nil, ErrNotFound
	}
	d, err := s.repo.Get(ctx, s.pool, id)
	if err != nil {
		return Deal{}, nil, err
	}
	if err := access.BindToDeal(actor, d.ID, d.ProviderID); err != nil {
		return Deal{}, nil, ErrNotFound
	}
	history, err := s.repo.History(ctx, s.pool, d.ID)
	if err != nil {
		return Deal{}, nil, err
	}
	return d, history, nil
}

// Load reads a deal through q without binding an actor. Collaborators use it
// inside their own transaction before driving a transition.
func (s *Service) Load(ctx context.Context, q db.Querier, id string) (Deal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Deal{}, ErrNotFound
	}
	return s.repo.Get(ctx, q, id)
}

// ProviderOf implements access.OwnerLookup.
func (s *Service) ProviderOf(ctx context.Context, dealID string) (string, error) {
	if _, err := uuid.Parse(dealID); err != nil {
		return "", ErrNotFound
	}
	d, err := s.repo.Get(ctx, s.pool, dealID)
	if err != nil {
		return "", err
	}
	return d.ProviderID, nil
}

// ListForProvider lists deals owned by providerID.
func (s *Service) ListForProvider(ctx context.Context, providerID string, f ListFilter) ([]Deal, error) {
	if providerID == "" {
		return nil, apperr.Validation("provider_id", "provider is required")
	}
	if f.Status != "" && !Valid(f.Status) {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	return s.repo.List(ctx, s.pool, providerID, f)
}

// ListAll is the admin oversight listing.
func (s *Service) ListAll(ctx context.Context, f ListFilter) ([]Deal, error) {
	if f.Status != "" && !Valid(f.Status) {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	return s.repo.List(ctx, s.pool, "", f)
}

// SweepResult summarizes one validation-timeout pass.
type SweepResult struct {
	Due       int
	Completed int
	Skipped   int
	Failed    int
}

// ExpireValidation completes deals whose validation deadline has passed. It
// competes on the same compare-and-set as any client, so a deal validated or
// disputed moments before is skipped, not overwritten.
func (s *Service) ExpireValidation(ctx context.Context, limit int) (SweepResult, error) {
	ids, err := s.repo.DueForTimeout(ctx, s.pool, s.now(), limit)
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Due: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := s.Transition(ctx, TransitionRequest{
			DealID: id,
			Event:  EventValidationTimeout,
			Actor:  access.TimeoutActor,
			Note:   "validation window elapsed without client action",
		})
		switch {
		case err == nil:
			res.Completed++
			metrics.TimeoutSweepCompleted.Inc()
		case errors.Is(err, apperr.ErrInvalidTransition):
			res.Skipped++
		default:
			res.Failed++
			s.logger.Error("validation timeout failed", "deal_id", id, "error", err)
		}
	}
	return res, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
