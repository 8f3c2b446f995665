package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadgate_backend/internal/billing/service"
	leadssvc "leadgate_backend/internal/leads/service"
	"leadgate_backend/internal/scheduler"
	"leadgate_backend/platform/logger"
)

type fakeWebhookConfig struct {
	messagingSecret string
	paymentSecret   string
	triggerSecret   string
	maxSkew         time.Duration
}

func (c fakeWebhookConfig) GetMessagingWebhookSecret() string     { return c.messagingSecret }
func (c fakeWebhookConfig) GetPaymentWebhookSecret() string       { return c.paymentSecret }
func (c fakeWebhookConfig) GetSchedulerTriggerSecret() string     { return c.triggerSecret }
func (c fakeWebhookConfig) GetPaymentMaxClockSkew() time.Duration { return c.maxSkew }

type fakeMessageProcessor struct {
	calls []leadssvc.InboundMessage
	err   error
}

func (f *fakeMessageProcessor) ProcessInboundMessage(_ context.Context, msg leadssvc.InboundMessage) error {
	f.calls = append(f.calls, msg)
	return f.err
}

type fakePaymentProcessor struct {
	calls []service.CheckoutEvent
	err   error
}

func (f *fakePaymentProcessor) ProcessCheckoutCompleted(_ context.Context, evt service.CheckoutEvent) error {
	f.calls = append(f.calls, evt)
	return f.err
}

type fakeSweeper struct {
	report scheduler.SweepReport
	err    error
}

func (f *fakeSweeper) RunSweep(context.Context) (scheduler.SweepReport, error) {
	return f.report, f.err
}

type handlerFixture struct {
	handler  *Handler
	engine   *gin.Engine
	messages *fakeMessageProcessor
	payments *fakePaymentProcessor
	cfg      fakeWebhookConfig
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		messages: &fakeMessageProcessor{},
		payments: &fakePaymentProcessor{},
		cfg: fakeWebhookConfig{
			messagingSecret: "mess-secret",
			paymentSecret:   "pay-secret",
			maxSkew:         5 * time.Minute,
		},
	}
	f.handler = NewHandler(f.messages, f.payments, &fakeSweeper{}, nil, newTestGuard(t), f.cfg, logger.New("test"))

	f.engine = gin.New()
	f.engine.POST("/webhook/messages", f.handler.HandleMessage)
	f.engine.POST("/webhook/payments", f.handler.HandlePayment)
	return f
}

func (f *handlerFixture) postMessage(body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/messages", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(messagingSignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) postPayment(body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/payments", bytes.NewReader(body))
	ts := time.Now().Unix()
	signed := fmt.Sprintf("%d.%s", ts, body)
	req.Header.Set(paymentSignatureHeader, fmt.Sprintf("t=%d,v1=%s", ts, computeHMAC(f.cfg.paymentSecret, []byte(signed))))
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestHandleMessageProcessesSignedPayload(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"message_id":"m1","from":"+34600111222","text":"hola","source_ref":"portal-centro"}`)

	w := f.postMessage(body, "sha256="+computeHMAC(f.cfg.messagingSecret, body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.messages.calls) != 1 {
		t.Fatalf("processor calls = %d, want 1", len(f.messages.calls))
	}
	got := f.messages.calls[0]
	if got.Phone != "+34600111222" || got.Text != "hola" || got.SourceKey != "portal-centro" {
		t.Errorf("forwarded message = %+v", got)
	}
}

func TestHandleMessageRejectsBadSignature(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"message_id":"m1","from":"+34600111222","text":"hola"}`)

	w := f.postMessage(body, "sha256=deadbeef")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(f.messages.calls) != 0 {
		t.Error("unverified payload reached the processor")
	}
}

func TestHandleMessageFailsClosedWithoutSecret(t *testing.T) {
	f := newHandlerFixture(t)
	f.cfg.messagingSecret = ""
	f.handler.cfg = f.cfg
	body := []byte(`{"from":"+34600111222","text":"hola"}`)

	w := f.postMessage(body, "sha256="+computeHMAC("", body))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if len(f.messages.calls) != 0 {
		t.Error("payload processed without a configured secret")
	}
}

func TestHandleMessageValidatesPayload(t *testing.T) {
	f := newHandlerFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"missing from", `{"message_id":"m1","text":"hola"}`},
		{"missing text", `{"message_id":"m1","from":"+34600111222"}`},
	}

	for _, tc := range cases {
		body := []byte(tc.body)
		w := f.postMessage(body, "sha256="+computeHMAC(f.cfg.messagingSecret, body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, w.Code)
		}
	}
	if len(f.messages.calls) != 0 {
		t.Error("invalid payload reached the processor")
	}
}

func TestHandleMessageAcksDuplicates(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"message_id":"m1","from":"+34600111222","text":"hola"}`)
	sig := "sha256=" + computeHMAC(f.cfg.messagingSecret, body)

	first := f.postMessage(body, sig)
	second := f.postMessage(body, sig)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses = %d, %d, want both 200", first.Code, second.Code)
	}
	if len(f.messages.calls) != 1 {
		t.Errorf("processor calls = %d, want 1", len(f.messages.calls))
	}
	if !bytes.Contains(second.Body.Bytes(), []byte("duplicate")) {
		t.Errorf("second response = %s, want duplicate ack", second.Body.String())
	}
}

func TestHandlePaymentProcessesCheckoutCompleted(t *testing.T) {
	f := newHandlerFixture(t)
	orderID := uuid.New()
	body := []byte(fmt.Sprintf(
		`{"event_id":"evt_1","type":"checkout.session.completed","order_id":"%s","provider_ref":"cs_123"}`,
		orderID,
	))

	w := f.postPayment(body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.payments.calls) != 1 {
		t.Fatalf("processor calls = %d, want 1", len(f.payments.calls))
	}
	got := f.payments.calls[0]
	if got.BillingOrderID != orderID || got.ProviderRef != "cs_123" {
		t.Errorf("forwarded event = %+v", got)
	}
}

func TestHandlePaymentRejectsBadSignature(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"event_id":"evt_1","type":"checkout.session.completed"}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook/payments", bytes.NewReader(body))
	req.Header.Set(paymentSignatureHeader, fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(f.payments.calls) != 0 {
		t.Error("unverified payload reached the processor")
	}
}

func TestHandlePaymentIgnoresOtherEventTypes(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"event_id":"evt_2","type":"invoice.paid","order_id":"whatever"}`)

	w := f.postPayment(body)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("ignored")) {
		t.Errorf("body = %s, want ignored ack", w.Body.String())
	}
	if len(f.payments.calls) != 0 {
		t.Error("non-checkout event reached the processor")
	}
}

func TestHandlePaymentDropsEventsWithoutOrderMetadata(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"event_id":"evt_3","type":"checkout.session.completed","order_id":"not-a-uuid"}`)

	w := f.postPayment(body)

	// Acked so the provider stops redelivering a payload we can never use.
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("dropped")) {
		t.Errorf("body = %s, want dropped ack", w.Body.String())
	}
	if len(f.payments.calls) != 0 {
		t.Error("unusable event reached the processor")
	}
}

func TestHandlePaymentAcksDuplicates(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(fmt.Sprintf(
		`{"event_id":"evt_4","type":"checkout.session.completed","order_id":"%s"}`,
		uuid.New(),
	))

	first := f.postPayment(body)
	second := f.postPayment(body)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses = %d, %d, want both 200", first.Code, second.Code)
	}
	if len(f.payments.calls) != 1 {
		t.Errorf("processor calls = %d, want 1", len(f.payments.calls))
	}
	if !bytes.Contains(second.Body.Bytes(), []byte("duplicate")) {
		t.Errorf("second response = %s, want duplicate ack", second.Body.String())
	}
}

func TestHandleMessageRedeliveryAfterFailureIsProcessed(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"message_id":"m9","from":"+34600111222","text":"hola"}`)
	sig := "sha256=" + computeHMAC(f.cfg.messagingSecret, body)

	f.messages.err = fmt.Errorf("pipeline unavailable")
	first := f.postMessage(body, sig)
	if first.Code == http.StatusOK {
		t.Fatalf("failed processing acked with %d", first.Code)
	}

	// The provider retries on non-2xx. The retry must reach the processor,
	// not be acked as a duplicate of the failed attempt.
	f.messages.err = nil
	second := f.postMessage(body, sig)
	if second.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body %s", second.Code, second.Body.String())
	}
	if len(f.messages.calls) != 2 {
		t.Errorf("processor calls = %d, want 2", len(f.messages.calls))
	}
	if bytes.Contains(second.Body.Bytes(), []byte("duplicate")) {
		t.Error("retry of a failed event acked as duplicate")
	}
}

func TestHandlePaymentRedeliveryAfterFailureIsProcessed(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(fmt.Sprintf(
		`{"event_id":"evt_9","type":"checkout.session.completed","order_id":"%s"}`,
		uuid.New(),
	))

	f.payments.err = fmt.Errorf("ledger unavailable")
	first := f.postPayment(body)
	if first.Code == http.StatusOK {
		t.Fatalf("failed reconciliation acked with %d", first.Code)
	}

	f.payments.err = nil
	second := f.postPayment(body)
	if second.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body %s", second.Code, second.Body.String())
	}
	if len(f.payments.calls) != 2 {
		t.Errorf("processor calls = %d, want 2; a lost retry loses the purchase", len(f.payments.calls))
	}
}

func TestHandleSchedulerRunReturnsReport(t *testing.T) {
	gin.SetMode(gin.TestMode)

	sweeper := &fakeSweeper{report: scheduler.SweepReport{Retried: 3, Revived: 1, Cooled: 2}}
	h := NewHandler(&fakeMessageProcessor{}, &fakePaymentProcessor{}, sweeper, nil, NewIdempotencyGuard(nil), fakeWebhookConfig{}, logger.New("test"))

	engine := gin.New()
	engine.POST("/internal/scheduler/run", h.HandleSchedulerRun)

	req := httptest.NewRequest(http.MethodPost, "/internal/scheduler/run", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	for _, want := range []string{`"retried":3`, `"revived":1`, `"cooled":2`} {
		if !bytes.Contains(w.Body.Bytes(), []byte(want)) {
			t.Errorf("body %s missing %s", w.Body.String(), want)
		}
	}
}

type fakeEnqueuer struct {
	calls int
	err   error
}

func (f *fakeEnqueuer) EnqueueSweep(context.Context) error {
	f.calls++
	return f.err
}

func TestHandleSchedulerEnqueueQueuesSweep(t *testing.T) {
	gin.SetMode(gin.TestMode)

	queue := &fakeEnqueuer{}
	h := NewHandler(&fakeMessageProcessor{}, &fakePaymentProcessor{}, &fakeSweeper{}, queue, NewIdempotencyGuard(nil), fakeWebhookConfig{}, logger.New("test"))

	engine := gin.New()
	engine.POST("/internal/scheduler/enqueue", h.HandleSchedulerEnqueue)

	req := httptest.NewRequest(http.MethodPost, "/internal/scheduler/enqueue", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if queue.calls != 1 {
		t.Errorf("enqueue calls = %d, want 1", queue.calls)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("queued")) {
		t.Errorf("body = %s, want queued ack", w.Body.String())
	}
}

func TestHandleSchedulerEnqueueWithoutQueue(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewHandler(&fakeMessageProcessor{}, &fakePaymentProcessor{}, &fakeSweeper{}, nil, NewIdempotencyGuard(nil), fakeWebhookConfig{}, logger.New("test"))

	engine := gin.New()
	engine.POST("/internal/scheduler/enqueue", h.HandleSchedulerEnqueue)

	req := httptest.NewRequest(http.MethodPost, "/internal/scheduler/enqueue", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
