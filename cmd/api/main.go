package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"fidexa/access"
	"fidexa/api"
	"fidexa/auth"
	"fidexa/config"
	"fidexa/db"
	"fidexa/deal"
	"fidexa/dispute"
	"fidexa/jobs"
	"fidexa/mq"
	"fidexa/notification"
	"fidexa/outbox"
	"fidexa/payment"
	"fidexa/provider"
	"fidexa/subscription"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded", "reason", err.Error())
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	subscriptions := subscription.NewService(pool, nil)
	notifications := notification.NewService(pool, nil)
	payments := payment.NewService(pool, nil, payment.NewHTTPProcessor(cfg.PaymentAPIBaseURL, cfg.PaymentAPIKey)).
		WithLogger(logger)
	deals := deal.NewService(pool, nil, subscriptions).
		WithSettler(payments).
		WithNotifier(notifications).
		WithOutbox(outbox.NewWriter()).
		WithLogger(logger).
		WithDefaults(cfg.DefaultCurrency, cfg.ValidationWindowHours)
	payments.WithDeals(deals)
	disputes := dispute.NewService(pool, nil, deals).
		WithOutbox(outbox.NewWriter()).
		WithLogger(logger)
	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	profiles := provider.NewService(provider.NewRepository(pool))

	server := api.NewServer(api.Services{
		Auth:          authService,
		Access:        access.NewChecker(authService, deals),
		Deals:         deals,
		Disputes:      disputes,
		Payments:      payments,
		Subscriptions: subscriptions,
		Profiles:      profiles,
		Notifications: notifications,
	}, api.Options{
		AppOrigin:      cfg.AppOrigin,
		InternalAPIKey: cfg.InternalAPIKey,
		Logger:         logger,
	})

	scheduler, err := jobs.NewScheduler(jobs.New(deals, payments, subscriptions, logger), logger, jobs.Schedules{
		AutoComplete:       cfg.AutoCompleteSchedule,
		Reconcile:          cfg.ReconcileSchedule,
		SubscriptionExpiry: cfg.SubscriptionExpirySchedule,
	})
	if err != nil {
		return err
	}

	publisher := mq.NewPublisher(cfg.RabbitMQURL, cfg.EventExchange, logger)
	defer publisher.Close()
	dispatcher := outbox.NewDispatcher(outbox.NewRepository(pool), publisher, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
