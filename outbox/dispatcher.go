package outbox

import (
	"context"
	"log/slog"
	"time"

	"fidexa/metrics"
	"fidexa/mq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// Dispatcher polls the outbox and publishes each message with its topic as
// the routing key.
type Dispatcher struct {
	repo                Repository
	publisher           mq.Publisher
	logger              *slog.Logger
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
}

func NewDispatcher(repo Repository, publisher mq.Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		repo:                repo,
		publisher:           publisher,
		logger:              logger,
		batchSize:           defaultBatchSize,
		pollInterval:        defaultPollInterval,
		staleProcessingTime: defaultStaleProcessing,
	}
}

// Run blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.flushOnce(ctx); err != nil {
				d.logger.Error("outbox flush failed", "error", err)
			}
		}
	}
}

// flushOnce publishes one batch and returns how many messages were published.
func (d *Dispatcher) flushOnce(ctx context.Context) (int, error) {
	messages, err := d.repo.Claim(ctx, d.batchSize, d.staleProcessingTime)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, message := range messages {
		if err := d.publisher.Publish(ctx, message.Topic, message.Payload); err != nil {
			metrics.OutboxPublished.WithLabelValues("failed").Inc()
			retryAfter := time.Duration(retryDelaySeconds(message.Attempts)) * time.Second
			if markErr := d.repo.MarkFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("outbox mark failed", "id", message.ID, "error", markErr)
			}
			continue
		}
		if err := d.repo.MarkPublished(ctx, message.ID); err != nil {
			d.logger.Error("outbox mark published", "id", message.ID, "error", err)
			continue
		}
		metrics.OutboxPublished.WithLabelValues("published").Inc()
		published++
	}
	return published, nil
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
