package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"fidexa/access"
	"fidexa/apperr"
	"fidexa/db"
	"fidexa/deal"
	"fidexa/metrics"
)

const (
	settleLease    = 2 * time.Minute
	maxRetryDelay  = time.Hour
	baseRetryDelay = 30 * time.Second
)

// Deals is the slice of the deal service payments drive.
type Deals interface {
	Load(ctx context.Context, q db.Querier, id string) (deal.Deal, error)
	TransitionTx(ctx context.Context, tx pgx.Tx, req deal.TransitionRequest) (deal.Result, error)
	AfterCommit(ctx context.Context, res deal.Result)
}

// Service records deposits and settles terminal deals. It is the deal
// service's Settler.
type Service struct {
	pool        db.Pool
	repo        Repository
	processor   Processor
	deals       Deals
	logger      *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool db.Pool, repo Repository, processor Processor) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		processor:   processor,
		logger:      slog.Default(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithDeals completes the wiring; the deal service holds this service as its
// settler, so it cannot be passed to NewService.
func (s *Service) WithDeals(deals Deals) *Service {
	s.deals = deals
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// HandleCallback applies a processor deposit notification. The event id is
// reserved first so a replay changes nothing. A successful deposit whose
// amount matches the deal moves it to funds_secured in the same transaction.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (CallbackOutcome, error) {
	cb.EventID = strings.TrimSpace(cb.EventID)
	cb.Currency = strings.ToUpper(strings.TrimSpace(cb.Currency))
	switch {
	case cb.EventID == "":
		return "", apperr.Validation("event_id", "event id is required")
	case cb.DealID == "":
		return "", apperr.Validation("deal_id", "deal id is required")
	case cb.Status != CallbackSucceeded && cb.Status != CallbackFailed:
		return "", apperr.Validation("status", fmt.Sprintf("unknown status %q", cb.Status))
	}

	outcome, err := s.handleCallback(ctx, cb)
	label := string(outcome)
	if err != nil {
		label = "rejected"
	}
	metrics.PaymentCallbacks.WithLabelValues(label).Inc()
	return outcome, err
}

func (s *Service) handleCallback(ctx context.Context, cb Callback) (CallbackOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKey(ctx, tx, "payment:"+cb.EventID); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return OutcomeDuplicate, nil
		}
		return "", err
	}

	d, err := s.deals.Load(ctx, tx, cb.DealID)
	if err != nil {
		return "", err
	}

	txn := Transaction{
		DealID:           d.ID,
		Amount:           cb.Amount,
		Currency:         cb.Currency,
		Status:           TransactionFailed,
		PaymentMethod:    optional(cb.Method),
		PaymentReference: optional(cb.Reference),
	}
	if cb.Status == CallbackSucceeded {
		if !cb.Amount.Equal(d.Amount) {
			return "", apperr.Validation("amount", fmt.Sprintf("paid %s, deal amount is %s", cb.Amount, d.Amount))
		}
		if cb.Currency != d.Currency {
			return "", apperr.Validation("currency", fmt.Sprintf("paid in %s, deal currency is %s", cb.Currency, d.Currency))
		}
		paidAt := s.now()
		txn.Status = TransactionCompleted
		txn.PaidAt = &paidAt
	}
	if _, err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
		return "", err
	}

	if cb.Status == CallbackFailed {
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("payment: commit callback: %w", err)
		}
		s.logger.Warn("payment failed", "deal_id", d.ID, "reference", cb.Reference)
		return OutcomeFailed, nil
	}

	res, err := s.deals.TransitionTx(ctx, tx, deal.TransitionRequest{
		DealID: d.ID,
		Event:  deal.EventPaymentConfirmed,
		Actor:  access.PaymentActor,
		Note:   "payment " + cb.Reference + " confirmed",
		Facts:  deal.Facts{PaymentConfirmed: true},
	})
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("payment: commit callback: %w", err)
	}
	s.deals.AfterCommit(ctx, res)
	return OutcomeConfirmed, nil
}

// Enqueue implements deal.Settler. It runs inside the transition transaction.
func (s *Service) Enqueue(ctx context.Context, tx pgx.Tx, d deal.Deal) error {
	st := Settlement{
		ID:       s.idGenerator(),
		DealID:   d.ID,
		Currency: d.Currency,
	}
	switch d.Status {
	case deal.StatusCompleted:
		st.Kind = SettlementRelease
		st.Amount = d.Payout()
		st.Beneficiary = d.ProviderID
	case deal.StatusRefunded:
		st.Kind = SettlementRefund
		st.Amount = d.Amount
		st.Beneficiary = refundContact(d)
	default:
		return fmt.Errorf("payment: deal %s is %s, nothing to settle", d.ID, d.Status)
	}
	if _, err := s.repo.EnqueueSettlement(ctx, tx, st); err != nil {
		return err
	}
	return nil
}

// Settle implements deal.Settler. Failures are recorded for reconciliation
// and never returned.
func (s *Service) Settle(ctx context.Context, dealID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.attempt(ctx, dealID); err != nil && !errors.Is(err, ErrNothingToSettle) {
		s.logger.Error("settlement failed", "deal_id", dealID, "error", err)
	}
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Due       int
	Completed int
	Failed    int
}

// Reconcile retries every settlement whose backoff has elapsed.
func (s *Service) Reconcile(ctx context.Context, limit int) (ReconcileResult, error) {
	ids, err := s.repo.DueSettlements(ctx, s.pool, s.now(), limit)
	if err != nil {
		return ReconcileResult{}, err
	}
	res := ReconcileResult{Due: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch err := s.attempt(ctx, id); {
		case err == nil:
			res.Completed++
		case errors.Is(err, ErrNothingToSettle):
		default:
			res.Failed++
			s.logger.Error("settlement retry failed", "deal_id", id, "error", err)
		}
	}
	return res, nil
}

func (s *Service) attempt(ctx context.Context, dealID string) error {
	now := s.now()
	st, err := s.repo.ClaimSettlement(ctx, s.pool, dealID, now, now.Add(settleLease))
	if err != nil {
		return err
	}

	in := Instruction{
		IdempotencyKey: st.IdempotencyKey(),
		DealID:         st.DealID,
		Amount:         st.Amount,
		Currency:       st.Currency,
		Beneficiary:    st.Beneficiary,
	}
	var reference string
	if st.Kind == SettlementRefund {
		reference, err = s.processor.Refund(ctx, in)
	} else {
		reference, err = s.processor.Release(ctx, in)
	}
	if err != nil {
		metrics.Settlements.WithLabelValues(string(st.Kind), "failed").Inc()
		next := s.now().Add(retryDelay(st.Attempts))
		if markErr := s.repo.MarkSettlementFailed(ctx, s.pool, st.ID, err.Error(), next); markErr != nil {
			return errors.Join(apperr.Wrap(apperr.KindPaymentCollaborator, "payment: processor call failed", err), markErr)
		}
		return apperr.Wrap(apperr.KindPaymentCollaborator, "payment: processor call failed", err)
	}

	if err := s.complete(ctx, st, reference); err != nil {
		return err
	}
	metrics.Settlements.WithLabelValues(string(st.Kind), "completed").Inc()
	s.logger.Info("settlement completed", "deal_id", st.DealID, "kind", st.Kind, "amount", st.Amount.String(), "reference", reference)
	return nil
}

func (s *Service) complete(ctx context.Context, st Settlement, reference string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.MarkSettlementCompleted(ctx, tx, st.ID, reference); err != nil {
		return err
	}
	if st.Kind == SettlementRefund {
		if err := s.repo.MarkDepositRefunded(ctx, tx, st.DealID); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payment: commit settlement: %w", err)
	}
	return nil
}

// retryDelay doubles from baseRetryDelay per attempt, capped at maxRetryDelay.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		return baseRetryDelay
	}
	delay := baseRetryDelay << min(attempt-1, 8)
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// refundContact picks the client contact a refund is paid back to: phone
// first, as deposits are mostly mobile money.
func refundContact(d deal.Deal) string {
	for _, c := range []*string{d.ClientPhone, d.ClientEmail} {
		if c != nil && strings.TrimSpace(*c) != "" {
			return strings.TrimSpace(*c)
		}
	}
	return d.ClientName
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
