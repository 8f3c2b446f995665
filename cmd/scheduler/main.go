package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadgate_backend/internal/alerts"
	billingrepo "leadgate_backend/internal/billing/repository"
	billingsvc "leadgate_backend/internal/billing/service"
	deliveryrepo "leadgate_backend/internal/delivery/repository"
	deliverysvc "leadgate_backend/internal/delivery/service"
	"leadgate_backend/internal/events"
	leadsrepo "leadgate_backend/internal/leads/repository"
	leadssvc "leadgate_backend/internal/leads/service"
	"leadgate_backend/internal/messaging"
	"leadgate_backend/internal/scheduler"
	tenantsrepo "leadgate_backend/internal/tenants/repository"
	"leadgate_backend/platform/ai/nlp"
	"leadgate_backend/platform/config"
	"leadgate_backend/platform/db"
	"leadgate_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	alertsModule := alerts.NewModule(alerts.NewSender(cfg), log)
	alertsModule.RegisterHandlers(eventBus)

	// Worker-side lead lifecycle wiring (no HTTP handlers required).
	nlpClient := nlp.NewClient(nlp.Config{
		BaseURL: cfg.GetNLPBaseURL(),
		APIKey:  cfg.GetNLPAPIKey(),
		Timeout: cfg.GetNLPTimeout(),
	})
	sender := messaging.NewClient(cfg, log)

	tenants := tenantsrepo.New(pool)
	leadsRepo := leadsrepo.New(pool)
	billingService := billingsvc.New(billingrepo.New(pool), eventBus, log)

	deliveryService := deliverysvc.New(deliveryrepo.New(pool), tenants, billingService, eventBus, log, cfg)
	leadsService := leadssvc.New(leadsRepo, tenants, nlpClient, sender, deliveryService, eventBus, log)
	deliveryService.SetLeadAccess(leadsRepo, leadsService)

	sweep := scheduler.NewSweep(leadsRepo, leadsService, deliveryService, eventBus, log)

	worker, err := scheduler.NewWorker(cfg, sweep, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
