package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"leadgate_backend/internal/billing/repository"
	"leadgate_backend/internal/events"
	"leadgate_backend/platform/apperr"
	"leadgate_backend/platform/logger"
)

type fakeLedger struct {
	order       repository.BillingOrder
	applied     bool
	completeErr error

	balance    int64
	balanceErr error

	consumeBalance int64
	consumeErr     error
	consumed       []consumeCall

	addBalance int64
	addErr     error
	added      []addCall

	entries []repository.Entry

	listLimit int
}

type consumeCall struct {
	tenantID   uuid.UUID
	amount     int64
	reason     string
	deliveryID *uuid.UUID
}

type addCall struct {
	tenantID  uuid.UUID
	amount    int64
	entryType repository.EntryType
	reason    string
}

func (f *fakeLedger) CompleteOrderWithPurchase(_ context.Context, _ uuid.UUID) (repository.BillingOrder, bool, error) {
	return f.order, f.applied, f.completeErr
}

func (f *fakeLedger) GetBalance(_ context.Context, _ uuid.UUID) (int64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeLedger) ConsumeCredit(_ context.Context, tenantID uuid.UUID, amount int64, reason string, deliveryID *uuid.UUID) (int64, error) {
	f.consumed = append(f.consumed, consumeCall{tenantID, amount, reason, deliveryID})
	return f.consumeBalance, f.consumeErr
}

func (f *fakeLedger) AddCredits(_ context.Context, tenantID uuid.UUID, amount int64, entryType repository.EntryType, reason string, _ *uuid.UUID) (int64, error) {
	f.added = append(f.added, addCall{tenantID, amount, entryType, reason})
	return f.addBalance, f.addErr
}

func (f *fakeLedger) ListEntries(_ context.Context, _ uuid.UUID, limit int) ([]repository.Entry, error) {
	f.listLimit = limit
	return f.entries, nil
}

type capturingBus struct {
	published []events.Event
}

func (b *capturingBus) Publish(_ context.Context, event events.Event) {
	b.published = append(b.published, event)
}

func (b *capturingBus) PublishSync(_ context.Context, event events.Event) error {
	b.published = append(b.published, event)
	return nil
}

func (b *capturingBus) Subscribe(string, events.Handler) {}

func newTestService(ledger *fakeLedger) (*Service, *capturingBus) {
	bus := &capturingBus{}
	return New(ledger, bus, logger.New("test")), bus
}

func TestProcessCheckoutCompletedPublishesPurchase(t *testing.T) {
	tenantID := uuid.New()
	orderID := uuid.New()
	ledger := &fakeLedger{
		order: repository.BillingOrder{
			ID:       orderID,
			TenantID: tenantID,
			Credits:  100,
			Status:   repository.OrderStatusCompleted,
		},
		applied: true,
		balance: 150,
	}
	svc, bus := newTestService(ledger)

	err := svc.ProcessCheckoutCompleted(context.Background(), CheckoutEvent{BillingOrderID: orderID, ProviderRef: "cs_1"})
	if err != nil {
		t.Fatalf("ProcessCheckoutCompleted: %v", err)
	}

	if len(bus.published) != 1 {
		t.Fatalf("published = %d, want 1", len(bus.published))
	}
	evt, ok := bus.published[0].(events.CreditsPurchased)
	if !ok {
		t.Fatalf("published %T, want CreditsPurchased", bus.published[0])
	}
	if evt.TenantID != tenantID || evt.OrderID != orderID || evt.Credits != 100 || evt.NewBalance != 150 {
		t.Errorf("event = %+v", evt)
	}
}

func TestProcessCheckoutCompletedDropsUnknownOrder(t *testing.T) {
	ledger := &fakeLedger{completeErr: apperr.NotFound("billing order not found")}
	svc, bus := newTestService(ledger)

	// Unknown orders are dropped, not failed: failing would make the
	// provider redeliver a payload that can never reconcile.
	err := svc.ProcessCheckoutCompleted(context.Background(), CheckoutEvent{BillingOrderID: uuid.New()})
	if err != nil {
		t.Fatalf("unknown order returned error: %v", err)
	}
	if len(bus.published) != 0 {
		t.Error("event published for unknown order")
	}
}

func TestProcessCheckoutCompletedReplayIsNoOp(t *testing.T) {
	ledger := &fakeLedger{
		order:   repository.BillingOrder{ID: uuid.New(), Status: repository.OrderStatusCompleted},
		applied: false,
	}
	svc, bus := newTestService(ledger)

	err := svc.ProcessCheckoutCompleted(context.Background(), CheckoutEvent{BillingOrderID: ledger.order.ID})
	if err != nil {
		t.Fatalf("replay returned error: %v", err)
	}
	if len(bus.published) != 0 {
		t.Error("replay published a purchase event")
	}
}

func TestProcessCheckoutCompletedPropagatesStorageErrors(t *testing.T) {
	ledger := &fakeLedger{completeErr: errors.New("connection reset")}
	svc, _ := newTestService(ledger)

	err := svc.ProcessCheckoutCompleted(context.Background(), CheckoutEvent{BillingOrderID: uuid.New()})
	if err == nil {
		t.Fatal("storage error swallowed")
	}
}

func TestProcessCheckoutCompletedToleratesBalanceLookupFailure(t *testing.T) {
	ledger := &fakeLedger{
		order:      repository.BillingOrder{ID: uuid.New(), TenantID: uuid.New(), Credits: 50},
		applied:    true,
		balanceErr: errors.New("timeout"),
	}
	svc, bus := newTestService(ledger)

	// The purchase is committed; a failed balance read must not fail the
	// webhook and trigger a redelivery.
	err := svc.ProcessCheckoutCompleted(context.Background(), CheckoutEvent{BillingOrderID: ledger.order.ID})
	if err != nil {
		t.Fatalf("balance lookup failure surfaced: %v", err)
	}
	if len(bus.published) != 1 {
		t.Fatalf("published = %d, want 1", len(bus.published))
	}
	if evt := bus.published[0].(events.CreditsPurchased); evt.NewBalance != -1 {
		t.Errorf("NewBalance = %d, want -1 sentinel", evt.NewBalance)
	}
}

func TestConsumeForDelivery(t *testing.T) {
	tenantID := uuid.New()
	deliveryID := uuid.New()
	ledger := &fakeLedger{consumeBalance: 9}
	svc, _ := newTestService(ledger)

	balance, err := svc.ConsumeForDelivery(context.Background(), tenantID, deliveryID, 1)
	if err != nil {
		t.Fatalf("ConsumeForDelivery: %v", err)
	}
	if balance != 9 {
		t.Errorf("balance = %d, want 9", balance)
	}

	if len(ledger.consumed) != 1 {
		t.Fatalf("consume calls = %d, want 1", len(ledger.consumed))
	}
	call := ledger.consumed[0]
	if call.tenantID != tenantID || call.amount != 1 {
		t.Errorf("consume call = %+v", call)
	}
	if call.deliveryID == nil || *call.deliveryID != deliveryID {
		t.Error("delivery id not passed for idempotency keying")
	}
}

func TestConsumeForDeliveryReplayReturnsCurrentBalance(t *testing.T) {
	ledger := &fakeLedger{consumeErr: repository.ErrDuplicateEntry, balance: 7}
	svc, _ := newTestService(ledger)

	balance, err := svc.ConsumeForDelivery(context.Background(), uuid.New(), uuid.New(), 1)
	if err != nil {
		t.Fatalf("duplicate consumption surfaced: %v", err)
	}
	if balance != 7 {
		t.Errorf("balance = %d, want current balance 7", balance)
	}
}

func TestConsumeForDeliveryPropagatesInsufficiency(t *testing.T) {
	ledger := &fakeLedger{consumeErr: apperr.Conflict("insufficient credit balance")}
	svc, _ := newTestService(ledger)

	if _, err := svc.ConsumeForDelivery(context.Background(), uuid.New(), uuid.New(), 1); err == nil {
		t.Fatal("insufficiency swallowed")
	}
}

func TestGrantCredits(t *testing.T) {
	tenantID := uuid.New()
	ledger := &fakeLedger{addBalance: 25}
	svc, _ := newTestService(ledger)

	balance, err := svc.GrantCredits(context.Background(), tenantID, 25, repository.EntryBonus, "onboarding")
	if err != nil {
		t.Fatalf("GrantCredits: %v", err)
	}
	if balance != 25 {
		t.Errorf("balance = %d, want 25", balance)
	}
	if len(ledger.added) != 1 {
		t.Fatalf("add calls = %d, want 1", len(ledger.added))
	}
	if call := ledger.added[0]; call.entryType != repository.EntryBonus || call.amount != 25 || call.reason != "onboarding" {
		t.Errorf("add call = %+v", call)
	}
}

func TestGrantCreditsRejectsNonManualTypes(t *testing.T) {
	svc, _ := newTestService(&fakeLedger{})

	for _, entryType := range []repository.EntryType{repository.EntryPurchase, repository.EntryConsumption, repository.EntryRefund} {
		_, err := svc.GrantCredits(context.Background(), uuid.New(), 10, entryType, "manual")
		if err == nil {
			t.Errorf("%s accepted as manual grant", entryType)
			continue
		}
		if !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("%s: error kind %v, want validation", entryType, err)
		}
	}
}

func TestHistoryClampsLimit(t *testing.T) {
	ledger := &fakeLedger{}
	svc, _ := newTestService(ledger)
	ctx := context.Background()
	tenantID := uuid.New()

	cases := []struct {
		in, want int
	}{
		{0, 50},
		{-5, 50},
		{500, 50},
		{20, 20},
		{200, 200},
	}

	for _, tc := range cases {
		if _, err := svc.History(ctx, tenantID, tc.in); err != nil {
			t.Fatalf("History(%d): %v", tc.in, err)
		}
		if ledger.listLimit != tc.want {
			t.Errorf("History(%d) used limit %d, want %d", tc.in, ledger.listLimit, tc.want)
		}
	}
}
