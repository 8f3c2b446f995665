package webhook

import (
	apphttp "leadgate_backend/internal/http"
	"leadgate_backend/platform/config"
	"leadgate_backend/platform/httpkit"
	"leadgate_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// Module is the webhook bounded context implementing http.Module.
type Module struct {
	handler *Handler
	cfg     config.WebhookConfig
	log     *logger.Logger
}

func NewModule(leads MessageProcessor, billing PaymentProcessor, sweeper SweepRunner, queue SweepEnqueuer, rdb *redis.Client, cfg config.WebhookConfig, log *logger.Logger) *Module {
	guard := NewIdempotencyGuard(rdb)
	return &Module{
		handler: NewHandler(leads, billing, sweeper, queue, guard, cfg, log),
		cfg:     cfg,
		log:     log,
	}
}

func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts the provider callbacks and the internal scheduler
// trigger. Signature verification happens inside the handlers; the trigger
// additionally sits behind the shared-secret middleware.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhook")
	if ctx.WebhookRateLimiter != nil {
		group.Use(ctx.WebhookRateLimiter.Middleware())
	}
	group.POST("/messages", m.handler.HandleMessage)
	group.POST("/payments", m.handler.HandlePayment)

	internal := ctx.Engine.Group("/internal")
	internal.Use(httpkit.SharedSecretAuth(httpkit.SchedulerSecretHeader, m.cfg.GetSchedulerTriggerSecret(), m.log))
	internal.POST("/scheduler/run", m.handler.HandleSchedulerRun)
	internal.POST("/scheduler/enqueue", m.handler.HandleSchedulerEnqueue)
}

var _ apphttp.Module = (*Module)(nil)
