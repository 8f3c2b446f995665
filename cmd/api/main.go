package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadgate_backend/internal/alerts"
	"leadgate_backend/internal/billing/repository"
	billingsvc "leadgate_backend/internal/billing/service"
	deliveryrepo "leadgate_backend/internal/delivery/repository"
	deliverysvc "leadgate_backend/internal/delivery/service"
	"leadgate_backend/internal/events"
	apphttp "leadgate_backend/internal/http"
	"leadgate_backend/internal/http/router"
	"leadgate_backend/internal/knowledge"
	"leadgate_backend/internal/leads"
	"leadgate_backend/internal/messaging"
	"leadgate_backend/internal/scheduler"
	"leadgate_backend/internal/tenants"
	"leadgate_backend/internal/webhook"
	"leadgate_backend/platform/ai/nlp"
	"leadgate_backend/platform/config"
	"leadgate_backend/platform/db"
	"leadgate_backend/platform/logger"
	"leadgate_backend/platform/qdrant"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	rdb := newRedisClient(cfg, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	eventBus := events.NewInMemoryBus(log)
	nlpClient := nlp.NewClient(nlp.Config{
		BaseURL: cfg.GetNLPBaseURL(),
		APIKey:  cfg.GetNLPAPIKey(),
		Timeout: cfg.GetNLPTimeout(),
	})

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	alertsModule := alerts.NewModule(alerts.NewSender(cfg), log)
	alertsModule.RegisterHandlers(eventBus)

	var searcher knowledge.Searcher
	if cfg.GetQdrantURL() != "" {
		searcher = qdrant.NewClient(qdrant.Config{
			BaseURL:    cfg.GetQdrantURL(),
			APIKey:     cfg.GetQdrantAPIKey(),
			Collection: cfg.GetQdrantCollection(),
		})
	}
	knowledgeModule := knowledge.NewModule(nlpClient, searcher, prometheus.DefaultRegisterer, log)

	billingRepo := repository.New(pool)
	billingService := billingsvc.New(billingRepo, eventBus, log)

	deliveryRepo := deliveryrepo.New(pool)

	tenantsModule := tenants.NewModule(pool, billingService, deliveryRepo)

	sender := messaging.NewClient(cfg, log)

	// Delivery and leads reference each other (delivery marks the lead
	// offer after handoff); the lead accessors are injected after both exist.
	deliveryService := deliverysvc.New(deliveryRepo, tenantsModule.Repository(), billingService, eventBus, log, cfg)
	leadsModule := leads.NewModule(pool, tenantsModule.Repository(), nlpClient, sender, deliveryService, eventBus, log)
	deliveryService.SetLeadAccess(leadsModule.Repository(), leadsModule.Service())
	leadsModule.Service().SetKnowledge(knowledgeModule.Service())

	sweep := scheduler.NewSweep(leadsModule.Repository(), leadsModule.Service(), deliveryService, eventBus, log)

	// The enqueue trigger hands a sweep to the worker binary; without redis
	// only the inline trigger is available.
	var sweepQueue webhook.SweepEnqueuer
	if cfg.GetRedisURL() != "" {
		queueClient, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Warn("sweep queue client unavailable", "error", err)
		} else {
			defer func() { _ = queueClient.Close() }()
			sweepQueue = queueClient
		}
	}

	webhookModule := webhook.NewModule(leadsModule.Service(), billingService, sweep, sweepQueue, rdb, cfg, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			webhookModule,
			leadsModule,
			tenantsModule,
			knowledgeModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func newRedisClient(cfg config.SchedulerConfig, log *logger.Logger) *redis.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; webhook idempotency guard degraded")
		return nil
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("invalid REDIS_URL", "error", err)
		return nil
	}
	return redis.NewClient(opt)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
