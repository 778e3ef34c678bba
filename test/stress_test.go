package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"fidexa/auth"
	"fidexa/deal"
	"fidexa/dispute"
	"fidexa/mq"
	"fidexa/notification"
	"fidexa/outbox"
	"fidexa/payment"
	"fidexa/subscription"
	"fidexa/test/actors"
	"fidexa/test/chaos"
	"fidexa/test/infra"
	"fidexa/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of each concurrent actor")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestDealLifecycleConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in short mode")
	}
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        = &infra.PGContainer{}
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn, usedShared = *flDSN, true
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn, usedShared = os.Getenv("STRESS_TEST_PG_DSN"), true
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err = infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no postgres available: %v", err)
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	env := buildEnv(t, ctx, pool)

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Creator(gctx, env, stop) })
		g.Go(func() error { return actors.Payer(gctx, env, stop) })
		g.Go(func() error { return actors.Worker(gctx, env, stop) })
		g.Go(func() error { return actors.Client(gctx, env, stop) })
	}
	g.Go(func() error { return actors.Arbiter(gctx, env, stop) })
	g.Go(func() error { return actors.Sweeper(gctx, env, stop) })
	g.Go(func() error { return actors.Reconciler(gctx, env, stop) })

	dispatcher := outbox.NewDispatcher(outbox.NewRepository(pool), &mq.Fallback{Logger: quietLogger()}, quietLogger())
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})

	go chaos.TerminateRandomBackend(gctx, pool, infra.AppName, stop)
	go chaos.HoldDealLocks(gctx, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(gctx, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// a killed backend can hit the oracle query too
				t.Logf("oracle query error (retrying): %v", err)
				continue
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx, pool)
				t.Fatalf("oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}

	if name, row, err := oracles.Run(context.Background(), pool); err != nil {
		t.Fatalf("final oracle error: %v", err)
	} else if name != "" {
		dumpRecent(t, context.Background(), pool)
		t.Fatalf("oracle %s failed after run. First row: %s (seed=%d)", name, row, seed)
	}
	t.Logf("applied=%d transient=%d seed=%d", env.Applied.Load(), env.Transient.Load(), seed)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildEnv(t *testing.T, ctx context.Context, pool *pgxpool.Pool) *actors.Env {
	t.Helper()
	logger := quietLogger()

	subscriptions := subscription.NewService(pool, nil)
	payments := payment.NewService(pool, nil, &actors.FlakyProcessor{FailOneIn: 4}).WithLogger(logger)
	deals := deal.NewService(pool, nil, subscriptions).
		WithSettler(payments).
		WithNotifier(notification.NewService(pool, nil)).
		WithOutbox(outbox.NewWriter()).
		WithLogger(logger)
	payments.WithDeals(deals)
	sweep := deal.NewService(pool, nil, subscriptions).
		WithSettler(payments).
		WithNotifier(notification.NewService(pool, nil)).
		WithOutbox(outbox.NewWriter()).
		WithLogger(logger).
		WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	disputes := dispute.NewService(pool, nil, deals).WithOutbox(outbox.NewWriter()).WithLogger(logger)

	users := auth.NewService(auth.NewRepository(pool), "stress-secret")
	provider := mustRegister(t, ctx, users, "provider")
	admin := mustRegister(t, ctx, users, "admin")
	if err := users.GrantRole(ctx, admin, auth.RoleAdmin); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	// premium lifts the active-deal quota so creators never stall
	if _, err := subscriptions.ChangePlan(ctx, provider, subscription.TierPremium); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	return &actors.Env{
		Pool:       pool,
		Deals:      deals,
		Sweep:      sweep,
		Disputes:   disputes,
		Payments:   payments,
		ProviderID: provider,
		AdminID:    admin,
	}
}

func mustRegister(t *testing.T, ctx context.Context, users *auth.Service, label string) string {
	t.Helper()
	u, err := users.Register(ctx, auth.RegisterRequest{
		Email:    fmt.Sprintf("%s-%d@stress.fidexa.test", label, rand.Int63()),
		Password: "stress-password-1",
		FullName: "Stress " + label,
	})
	if err != nil {
		t.Fatalf("register %s: %v", label, err)
	}
	return u.ID
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"deal_status_history", `SELECT id, deal_id, old_status, new_status, event, actor_kind, changed_at FROM deal_status_history ORDER BY id DESC LIMIT 50`},
		{"disputes", `SELECT id, deal_id, status, decision, updated_at FROM disputes ORDER BY updated_at DESC LIMIT 30`},
		{"settlements", `SELECT deal_id, kind, status, attempts, last_error FROM settlements ORDER BY updated_at DESC LIMIT 30`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 30`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
