package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fidexa/access"
	"fidexa/apperr"
	"fidexa/deal"
	"fidexa/dispute"
	"fidexa/payment"
)

// Env is what every actor drives: the real services over one pool.
type Env struct {
	Pool       *pgxpool.Pool
	Deals      *deal.Service
	// Sweep runs the validation-timeout sweep on a clock ahead of Deals so
	// freshly delivered deals are already due.
	Sweep      *deal.Service
	Disputes   *dispute.Service
	Payments   *payment.Service
	ProviderID string
	AdminID    string

	// Transient counts infrastructure errors (killed backends, timeouts) the
	// actors shrugged off.
	Transient atomic.Int64
	// Applied counts transitions that committed.
	Applied atomic.Int64
}

// absorb swallows the domain rejections expected under contention and counts
// everything else as transient.
func (e *Env) absorb(err error) error {
	if err == nil {
		e.Applied.Add(1)
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidTransition, apperr.KindConflict, apperr.KindDisputeConflict,
		apperr.KindQuotaExceeded, apperr.KindNotFound:
		return nil
	case apperr.KindValidation, apperr.KindForbidden:
		return fmt.Errorf("unexpected rejection: %w", err)
	}
	e.Transient.Add(1)
	return nil
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

// pick returns one random deal id in any of statuses, or "" when none.
func (e *Env) pick(ctx context.Context, statuses ...deal.Status) (string, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	var id string
	err := e.Pool.QueryRow(ctx, `SELECT id::text FROM deals WHERE status::text = ANY($1) ORDER BY random() LIMIT 1`, names).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (e *Env) provider() access.Actor {
	return access.Provider(e.ProviderID, "Stress Provider")
}

// Creator opens deals with the shortest validation window and no delivery
// deadline, so the window starts at delivery.
func Creator(ctx context.Context, e *Env, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := e.Deals.Create(ctx, deal.CreateParams{
			ProviderID:            e.ProviderID,
			ClientName:            fmt.Sprintf("Client %d", rand.Intn(1000)),
			Title:                 "Stress deal",
			Description:           "created by the stress creator",
			Amount:                decimal.NewFromInt(int64(10000 + rand.Intn(990000))),
			ValidationWindowHours: 1,
		})
		if err := e.absorb(err); err != nil {
			return fmt.Errorf("creator: %w", err)
		}
		pause(40, 60)
	}
	return nil
}

// Payer confirms payments, replays event ids and occasionally reports failures.
func Payer(ctx context.Context, e *Env, stop <-chan struct{}) error {
	var lastEvent, lastDeal string
	for !stopped(ctx, stop) {
		id, err := e.pick(ctx, deal.StatusPendingPayment)
		if err != nil {
			e.Transient.Add(1)
			pause(20, 20)
			continue
		}
		if id == "" {
			pause(20, 20)
			continue
		}

		var amount decimal.Decimal
		var currency string
		if err := e.Pool.QueryRow(ctx, `SELECT amount, currency FROM deals WHERE id = $1`, id).Scan(&amount, &currency); err != nil {
			e.Transient.Add(1)
			continue
		}

		cb := payment.Callback{
			EventID:   fmt.Sprintf("evt-%d", rand.Int63()),
			DealID:    id,
			Reference: fmt.Sprintf("ref-%d", rand.Int63()),
			Status:    payment.CallbackSucceeded,
			Amount:    amount,
			Currency:  currency,
			Method:    "mobile_money",
		}
		switch n := rand.Intn(10); {
		case n == 0:
			cb.Status = payment.CallbackFailed
		case n < 3 && lastEvent != "":
			cb.EventID, cb.DealID = lastEvent, lastDeal
		}
		if _, err := e.Payments.HandleCallback(ctx, cb); err != nil {
			if err := e.absorb(err); err != nil {
				return fmt.Errorf("payer: %w", err)
			}
		}
		lastEvent, lastDeal = cb.EventID, cb.DealID
		pause(20, 40)
	}
	return nil
}

// Worker advances funded deals along the provider's side of the table.
func Worker(ctx context.Context, e *Env, stop <-chan struct{}) error {
	next := map[deal.Status]deal.Event{
		deal.StatusFundsSecured: deal.EventStartWork,
		deal.StatusInProgress:   deal.EventMarkDelivered,
		deal.StatusDelivered:    deal.EventRequestValidation,
	}
	for !stopped(ctx, stop) {
		id, err := e.pick(ctx, deal.StatusFundsSecured, deal.StatusInProgress, deal.StatusDelivered)
		if err != nil || id == "" {
			pause(20, 20)
			continue
		}
		var status deal.Status
		if err := e.Pool.QueryRow(ctx, `SELECT status::text FROM deals WHERE id = $1`, id).Scan(&status); err != nil {
			continue
		}
		event, ok := next[status]
		if !ok {
			continue
		}
		_, err = e.Deals.Transition(ctx, deal.TransitionRequest{DealID: id, Event: event, Actor: e.provider()})
		if err := e.absorb(err); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		pause(10, 30)
	}
	return nil
}

// Client validates delivered work or disputes it, racing the sweeper.
func Client(ctx context.Context, e *Env, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id, err := e.pick(ctx, deal.StatusDelivered, deal.StatusAwaitingValidation, deal.StatusInProgress)
		if err != nil || id == "" {
			pause(20, 20)
			continue
		}
		var name string
		if err := e.Pool.QueryRow(ctx, `SELECT client_name FROM deals WHERE id = $1`, id).Scan(&name); err != nil {
			continue
		}
		client := access.Client(id, name)

		if rand.Intn(3) == 0 {
			_, err = e.Disputes.Open(ctx, dispute.OpenParams{DealID: id, Actor: client, Reason: "work does not match the brief"})
		} else {
			_, err = e.Deals.Transition(ctx, deal.TransitionRequest{DealID: id, Event: deal.EventClientValidate, Actor: client})
		}
		if err := e.absorb(err); err != nil {
			return fmt.Errorf("client: %w", err)
		}
		pause(30, 50)
	}
	return nil
}

// Arbiter reviews and resolves open disputes with a random decision.
func Arbiter(ctx context.Context, e *Env, stop <-chan struct{}) error {
	admin := access.Admin(e.AdminID, "admin")
	decisions := []dispute.Decision{dispute.DecisionFavorProvider, dispute.DecisionFavorClient, dispute.DecisionResumeWork}
	for !stopped(ctx, stop) {
		open, err := e.Disputes.List(ctx, admin, "", 20)
		if err != nil {
			e.Transient.Add(1)
			pause(50, 50)
			continue
		}
		for _, d := range open {
			var err error
			switch d.Status {
			case dispute.StatusOpen:
				_, err = e.Disputes.StartReview(ctx, admin, d.ID)
			case dispute.StatusUnderReview:
				_, err = e.Disputes.Resolve(ctx, dispute.ResolveParams{
					DisputeID: d.ID,
					Actor:     admin,
					Decision:  decisions[rand.Intn(len(decisions))],
					Note:      "decided by the stress arbiter",
				})
			case dispute.StatusResolved:
				_, err = e.Disputes.Close(ctx, admin, d.ID)
			default:
				continue
			}
			if err := e.absorb(err); err != nil {
				return fmt.Errorf("arbiter: %w", err)
			}
		}
		pause(80, 80)
	}
	return nil
}

// Sweeper runs the validation-timeout sweep continuously.
func Sweeper(ctx context.Context, e *Env, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if _, err := e.Sweep.ExpireValidation(ctx, 50); err != nil {
			if err := e.absorb(err); err != nil {
				return fmt.Errorf("sweeper: %w", err)
			}
		}
		pause(100, 100)
	}
	return nil
}

// Reconciler retries settlements that the flaky processor refused.
func Reconciler(ctx context.Context, e *Env, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if _, err := e.Payments.Reconcile(ctx, 50); err != nil {
			e.Transient.Add(1)
		}
		pause(200, 200)
	}
	return nil
}

// FlakyProcessor refuses a share of calls so settlements exercise the retry
// path.
type FlakyProcessor struct {
	FailOneIn int
	calls     atomic.Int64
}

func (p *FlakyProcessor) Release(_ context.Context, in payment.Instruction) (string, error) {
	return p.call(in)
}

func (p *FlakyProcessor) Refund(_ context.Context, in payment.Instruction) (string, error) {
	return p.call(in)
}

func (p *FlakyProcessor) call(in payment.Instruction) (string, error) {
	n := p.calls.Add(1)
	if p.FailOneIn > 0 && rand.Intn(p.FailOneIn) == 0 {
		return "", errors.New("processor unavailable")
	}
	return fmt.Sprintf("pr-%s-%d", in.IdempotencyKey, n), nil
}
