package deal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fidexa/access"
	"fidexa/apperr"
	"fidexa/db"
	"fidexa/subscription"
)

// TestDealLifecycle_Integration runs the service against PostgreSQL from
// DATABASE_URL: creation pricing, the compare-and-set race and the
// immutability triggers.
func TestDealLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var userID string
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash) VALUES ($1, $2, 'x') RETURNING id::text`,
		fmt.Sprintf("studio+%d@example.com", time.Now().UnixNano()), "Studio Kora").Scan(&userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	subs := subscription.NewService(pool, nil)
	if _, err := subs.ChangePlan(ctx, userID, subscription.TierEssentiel); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	svc := NewService(pool, NewRepository(), subs)

	d, err := svc.Create(ctx, CreateParams{
		ProviderID:  userID,
		ClientName:  "Awa Diop",
		Title:       "Brand identity",
		Description: "Logo and guidelines",
		Amount:      decimal.NewFromInt(500000),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !d.CommissionAmount.Equal(decimal.NewFromInt(45000)) {
		t.Fatalf("expected commission 45000, got %s", d.CommissionAmount)
	}

	provider := access.Provider(userID, "Studio Kora")
	steps := []TransitionRequest{
		{Event: EventPaymentConfirmed, Actor: access.PaymentActor, Facts: Facts{PaymentConfirmed: true}},
		{Event: EventStartWork, Actor: provider},
		{Event: EventMarkDelivered, Actor: provider},
	}
	for _, step := range steps {
		step.DealID = d.ID
		if _, err := svc.Transition(ctx, step); err != nil {
			t.Fatalf("%s: %v", step.Event, err)
		}
	}

	// open_dispute belongs to the dispute subsystem; asking for it directly
	// changes nothing.
	if _, err := svc.Transition(ctx, TransitionRequest{DealID: d.ID, Event: EventOpenDispute, Actor: provider}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("direct open_dispute: %v", err)
	}

	// Two validations race on the same source status; exactly one wins.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.Transition(ctx, TransitionRequest{DealID: d.ID, Event: EventClientValidate, Actor: access.Client(d.ID, "Awa Diop")})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.Transition(ctx, TransitionRequest{DealID: d.ID, Event: EventClientValidate, Actor: access.Client(d.ID, "Awa Diop")})
	}()
	wg.Wait()
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Fatalf("unexpected race error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}

	_, history, err := svc.Get(ctx, provider, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 history rows, got %d", len(history))
	}
	if _, err := Replay(history); err != nil {
		t.Fatalf("replay: %v", err)
	}

	done, _, err := svc.Get(ctx, provider, d.ID)
	if err != nil {
		t.Fatalf("get completed: %v", err)
	}
	sum, err := svc.ProviderSummary(ctx, done.ProviderID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.ByStatus[StatusCompleted] != 1 || !sum.CompletedRevenue[done.Currency].Equal(done.Payout()) {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if _, err := svc.AdminOverview(ctx); err != nil {
		t.Fatalf("overview: %v", err)
	}

	if _, err := pool.Exec(ctx, `UPDATE deals SET secure_token = 'x' WHERE id = $1`, d.ID); err == nil {
		t.Fatalf("secure token must be immutable")
	}
	if _, err := pool.Exec(ctx, `UPDATE deal_status_history SET note = 'edited' WHERE deal_id = $1`, d.ID); err == nil {
		t.Fatalf("history must be append-only")
	}
	if _, err := pool.Exec(ctx, `DELETE FROM deals WHERE id = $1`, d.ID); err == nil {
		t.Fatalf("deals must not be deleted")
	}
}
