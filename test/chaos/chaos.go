package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend kills one backend whose application_name matches
// appLike every few seconds. In-flight transitions on it must roll back whole.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appLike string, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `
					SELECT pg_terminate_backend(pid) FROM pg_stat_activity
					WHERE datname = current_database()
					  AND pid <> pg_backend_pid()
					  AND application_name LIKE $1
					ORDER BY random() LIMIT 1`, appLike)
			}
		}
	}
}

// HoldDealLocks grabs a row lock on a random open deal and sits on it, so
// concurrent transitions queue behind it and then lose their compare-and-set.
func HoldDealLocks(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(time.Duration(300+rand.Intn(700)) * time.Millisecond):
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			continue
		}
		_, err = tx.Exec(ctx, `
			SELECT id FROM deals
			WHERE status NOT IN ('completed', 'refunded')
			ORDER BY random() LIMIT 1
			FOR UPDATE`)
		if err == nil {
			time.Sleep(time.Duration(50+rand.Intn(200)) * time.Millisecond)
		}
		_ = tx.Rollback(ctx)
	}
}
