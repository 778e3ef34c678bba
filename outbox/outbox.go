// Package outbox stores integration events in the transaction that produced
// them and relays them to the broker.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fidexa/db"
)

// Message is one claimed outbox row.
type Message struct {
	ID       int64
	Topic    string
	Payload  []byte
	Attempts int
}

// Writer enqueues events inside a caller-owned transaction.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, string(blob)); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

type Repository interface {
	Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]Message, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, retryAfter time.Duration, reason string) error
}

type PGRepository struct {
	db db.Querier
}

func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{db: q}
}

// Claim marks up to limit due rows as processing. Rows stuck in processing
// for longer than staleAfter are claimed again.
func (r *PGRepository) Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	staleSeconds := int(staleAfter.Seconds())
	if staleSeconds <= 0 {
		staleSeconds = 120
	}

	rows, err := r.db.Query(ctx, `
		WITH candidates AS (
			SELECT id
			FROM outbox
			WHERE (
				(status = 'pending' AND next_attempt_at <= now())
				OR (status = 'processing' AND processing_started_at < now() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox AS o
		SET status = 'processing',
		    processing_started_at = now(),
		    attempts = o.attempts + 1
		FROM candidates
		WHERE o.id = candidates.id
		RETURNING o.id, o.topic, o.payload::text, o.attempts
	`, limit, staleSeconds)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg     Message
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.Topic, &payload, &msg.Attempts); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		msg.Payload = []byte(payload)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *PGRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox
		SET status = 'published',
		    published_at = now(),
		    processing_started_at = NULL,
		    last_error = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("outbox: mark published: %w", err)
	}
	return nil
}

func (r *PGRepository) MarkFailed(ctx context.Context, id int64, retryAfter time.Duration, reason string) error {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE outbox
		SET status = 'pending',
		    next_attempt_at = now() + ($2 * INTERVAL '1 second'),
		    processing_started_at = NULL,
		    last_error = $3
		WHERE id = $1
	`, id, seconds, reason)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
