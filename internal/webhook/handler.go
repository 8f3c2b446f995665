package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"leadgate_backend/internal/billing/service"
	leadssvc "leadgate_backend/internal/leads/service"
	"leadgate_backend/internal/scheduler"
	"leadgate_backend/platform/config"
	"leadgate_backend/platform/httpkit"
	"leadgate_backend/platform/logger"
	"leadgate_backend/platform/sanitize"
	"leadgate_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	messagingSignatureHeader = "X-Hub-Signature-256"
	paymentSignatureHeader   = "Webhook-Signature"

	maxBodyBytes = 1 << 20
)

// MessageProcessor runs the conversation pipeline for one verified inbound
// message. Satisfied by the leads service.
type MessageProcessor interface {
	ProcessInboundMessage(ctx context.Context, msg leadssvc.InboundMessage) error
}

// PaymentProcessor reconciles checkout events. Satisfied by the billing
// service.
type PaymentProcessor interface {
	ProcessCheckoutCompleted(ctx context.Context, evt service.CheckoutEvent) error
}

// SweepRunner executes one scheduler sweep on demand. Satisfied by the
// scheduler sweep service.
type SweepRunner interface {
	RunSweep(ctx context.Context) (scheduler.SweepReport, error)
}

// SweepEnqueuer queues a sweep for the worker instead of running it inline.
// Satisfied by the scheduler client; nil when no queue is configured.
type SweepEnqueuer interface {
	EnqueueSweep(ctx context.Context) error
}

type Handler struct {
	leads   MessageProcessor
	billing PaymentProcessor
	sweeper SweepRunner
	queue   SweepEnqueuer
	guard   *IdempotencyGuard
	cfg     config.WebhookConfig
	log     *logger.Logger
}

func NewHandler(leads MessageProcessor, billing PaymentProcessor, sweeper SweepRunner, queue SweepEnqueuer, guard *IdempotencyGuard, cfg config.WebhookConfig, log *logger.Logger) *Handler {
	return &Handler{leads: leads, billing: billing, sweeper: sweeper, queue: queue, guard: guard, cfg: cfg, log: log}
}

var validate = validator.New()

type inboundMessagePayload struct {
	MessageID string `json:"message_id"`
	From      string `json:"from" validate:"required"`
	Text      string `json:"text" validate:"required"`
	SourceRef string `json:"source_ref"`
}

// HandleMessage processes one messaging provider callback.
// POST /api/v1/webhook/messages
func (h *Handler) HandleMessage(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	if err := VerifyMessagingSignature(h.cfg.GetMessagingWebhookSecret(), body, c.GetHeader(messagingSignatureHeader)); err != nil {
		h.log.WebhookRejected("messaging", err.Error(), c.ClientIP())
		countEvent("messaging", "rejected")
		httpkit.HandleError(c, err)
		return
	}

	var payload inboundMessagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", nil)
		return
	}
	if err := validate.Struct(payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "from and text are required", nil)
		return
	}

	if !h.guard.FirstObservation(c.Request.Context(), "messaging", payload.MessageID) {
		countEvent("messaging", "duplicate")
		httpkit.OK(c, gin.H{"status": "duplicate"})
		return
	}

	err := h.leads.ProcessInboundMessage(c.Request.Context(), leadssvc.InboundMessage{
		Phone:     payload.From,
		Text:      sanitize.Text(payload.Text),
		SourceKey: payload.SourceRef,
	})
	if httpkit.HandleError(c, err) {
		// Release the dedup key so the provider's retry is not swallowed.
		h.guard.Forget(c.Request.Context(), "messaging", payload.MessageID)
		countEvent("messaging", "failed")
		return
	}

	countEvent("messaging", "processed")
	httpkit.OK(c, gin.H{"status": "processed"})
}

type paymentEventPayload struct {
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	OrderID     string `json:"order_id"`
	ProviderRef string `json:"provider_ref"`
}

// HandlePayment processes one payment provider callback.
// POST /api/v1/webhook/payments
func (h *Handler) HandlePayment(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	err := VerifyPaymentSignature(
		h.cfg.GetPaymentWebhookSecret(), body,
		c.GetHeader(paymentSignatureHeader),
		h.cfg.GetPaymentMaxClockSkew(), time.Now(),
	)
	if err != nil {
		h.log.WebhookRejected("payment", err.Error(), c.ClientIP())
		countEvent("payment", "rejected")
		httpkit.HandleError(c, err)
		return
	}

	var payload paymentEventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", nil)
		return
	}

	// Only checkout completions are actionable; everything else is acked so
	// the provider stops redelivering.
	if payload.Type != "checkout.session.completed" {
		countEvent("payment", "ignored")
		httpkit.OK(c, gin.H{"status": "ignored"})
		return
	}

	// Events without usable order metadata are acked and dropped; failing
	// them would only make the provider redeliver the same broken payload.
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		h.log.Warn("payment event missing order metadata, dropping",
			"event_id", payload.EventID,
			"order_id", payload.OrderID,
		)
		countEvent("payment", "dropped")
		httpkit.OK(c, gin.H{"status": "dropped"})
		return
	}

	if !h.guard.FirstObservation(c.Request.Context(), "payment", payload.EventID) {
		countEvent("payment", "duplicate")
		httpkit.OK(c, gin.H{"status": "duplicate"})
		return
	}

	err = h.billing.ProcessCheckoutCompleted(c.Request.Context(), service.CheckoutEvent{
		BillingOrderID: orderID,
		ProviderRef:    payload.ProviderRef,
	})
	if httpkit.HandleError(c, err) {
		// Release the dedup key so the provider's retry is not swallowed.
		h.guard.Forget(c.Request.Context(), "payment", payload.EventID)
		countEvent("payment", "failed")
		return
	}

	countEvent("payment", "processed")
	httpkit.OK(c, gin.H{"status": "processed"})
}

// HandleSchedulerRun triggers one sweep outside the periodic schedule and
// waits for its report.
// POST /internal/scheduler/run, protected by the shared-secret middleware.
func (h *Handler) HandleSchedulerRun(c *gin.Context) {
	report, err := h.sweeper.RunSweep(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, report)
}

// HandleSchedulerEnqueue queues one sweep for the worker and returns without
// waiting. The queued task is deduplicated against an already pending one.
// POST /internal/scheduler/enqueue, protected by the shared-secret middleware.
func (h *Handler) HandleSchedulerEnqueue(c *gin.Context) {
	if h.queue == nil {
		httpkit.Error(c, http.StatusServiceUnavailable, "sweep queue not configured", nil)
		return
	}
	if err := h.queue.EnqueueSweep(c.Request.Context()); err != nil {
		h.log.Error("sweep enqueue failed", "error", err)
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unreadable body", nil)
		return nil, false
	}
	return body, true
}
