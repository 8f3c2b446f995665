package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"leadgate_backend/internal/delivery/repository"
	"leadgate_backend/internal/events"
	leadsdomain "leadgate_backend/internal/leads/domain"
	leadsrepo "leadgate_backend/internal/leads/repository"
	tenantsrepo "leadgate_backend/internal/tenants/repository"
	"leadgate_backend/platform/logger"

	"github.com/google/uuid"
)

func TestSignPayload(t *testing.T) {
	secret := "tenant-secret"
	body := []byte(`{"delivery_id":"d1"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if got := signPayload(secret, body); got != want {
		t.Errorf("signPayload = %s, want %s", got, want)
	}

	if signPayload(secret, body) == signPayload("other-secret", body) {
		t.Error("different secrets produced the same signature")
	}
	if signPayload(secret, body) == signPayload(secret, []byte("{}")) {
		t.Error("different bodies produced the same signature")
	}
}

func TestChargeable(t *testing.T) {
	if !chargeable(repository.StatusDelivered) {
		t.Error("DELIVERED not chargeable")
	}
	// Partial payloads are degraded and not billed under current policy.
	if chargeable(repository.StatusPartial) {
		t.Error("PARTIAL charged despite ChargeablePartialDeliveries being off")
	}
	for _, status := range []repository.Status{repository.StatusPending, repository.StatusFailed, repository.StatusDeadLetter} {
		if chargeable(status) {
			t.Errorf("%s charged", status)
		}
	}
}

func TestPayloadOmitsUnknownOptionalFields(t *testing.T) {
	body, err := json.Marshal(payload{
		DeliveryID:  "d1",
		LeadOfferID: "lo1",
		Phone:       "+34600111222",
		Fields:      leadsdomain.QualificationFields{},
		QualifiedAt: time.Unix(1_700_000_000, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"delivery_id", "lead_offer_id", "phone", "fields", "qualified_at"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	for _, key := range []string{"name", "score", "score_breakdown"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("unset optional field %q serialized", key)
		}
	}
}

type attemptFailure struct {
	id        uuid.UUID
	lastError string
	next      time.Time
}

type terminalFailure struct {
	id        uuid.UUID
	status    repository.Status
	lastError string
}

type fakeDeliveryStore struct {
	due       []repository.Delivery
	outcomes  map[uuid.UUID]repository.Status
	attempts  []attemptFailure
	terminals []terminalFailure
}

func (f *fakeDeliveryStore) Create(_ context.Context, id, leadOfferID, tenantID uuid.UUID, payload []byte) (repository.Delivery, bool, error) {
	return repository.Delivery{ID: id, LeadOfferID: leadOfferID, TenantID: tenantID, Payload: payload}, true, nil
}

func (f *fakeDeliveryStore) SelectDueBatch(_ context.Context, limit int) ([]repository.Delivery, error) {
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeDeliveryStore) MarkOutcome(_ context.Context, id uuid.UUID, status repository.Status) error {
	f.outcomes[id] = status
	return nil
}

func (f *fakeDeliveryStore) RecordAttemptFailure(_ context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error {
	f.attempts = append(f.attempts, attemptFailure{id: id, lastError: lastError, next: nextAttemptAt})
	return nil
}

func (f *fakeDeliveryStore) MarkTerminalFailure(_ context.Context, id uuid.UUID, status repository.Status, lastError string) error {
	f.terminals = append(f.terminals, terminalFailure{id: id, status: status, lastError: lastError})
	return nil
}

type fakeTenantReader struct {
	tenant tenantsrepo.Tenant
}

func (f *fakeTenantReader) GetTenant(_ context.Context, _ uuid.UUID) (tenantsrepo.Tenant, error) {
	return f.tenant, nil
}

type consumption struct {
	tenantID   uuid.UUID
	deliveryID uuid.UUID
	credits    int64
}

type fakeCredits struct {
	balance  int64
	consumed []consumption
}

func (f *fakeCredits) ConsumeForDelivery(_ context.Context, tenantID, deliveryID uuid.UUID, credits int64) (int64, error) {
	f.consumed = append(f.consumed, consumption{tenantID: tenantID, deliveryID: deliveryID, credits: credits})
	f.balance -= credits
	return f.balance, nil
}

func (f *fakeCredits) Balance(_ context.Context, _ uuid.UUID) (int64, error) {
	return f.balance, nil
}

type fakeLeadReader struct {
	lead      leadsrepo.Lead
	leadOffer leadsrepo.LeadOffer
}

func (f *fakeLeadReader) GetLeadOffer(_ context.Context, _ uuid.UUID) (leadsrepo.LeadOffer, error) {
	return f.leadOffer, nil
}

func (f *fakeLeadReader) GetLead(_ context.Context, _ uuid.UUID) (leadsrepo.Lead, error) {
	return f.lead, nil
}

type fakeMarker struct {
	marked []uuid.UUID
}

func (f *fakeMarker) MarkDelivered(_ context.Context, leadOfferID uuid.UUID) error {
	f.marked = append(f.marked, leadOfferID)
	return nil
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

type dispatchConfig struct {
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
}

func (c dispatchConfig) GetDeliveryTimeout() time.Duration     { return c.timeout }
func (c dispatchConfig) GetDeliveryMaxAttempts() int           { return c.maxAttempts }
func (c dispatchConfig) GetDeliveryBackoffBase() time.Duration { return c.backoffBase }

type dispatchFixture struct {
	svc     *Service
	store   *fakeDeliveryStore
	tenants *fakeTenantReader
	credits *fakeCredits
	leads   *fakeLeadReader
	marker  *fakeMarker
	bus     *capturingBus
}

func newDispatchFixture(endpoint string) *dispatchFixture {
	f := &dispatchFixture{
		store: &fakeDeliveryStore{outcomes: map[uuid.UUID]repository.Status{}},
		tenants: &fakeTenantReader{tenant: tenantsrepo.Tenant{
			ID:               uuid.New(),
			Name:             "Promotora Norte",
			CreditsPerLead:   10,
			DeliveryEndpoint: endpoint,
			DeliverySecret:   "tenant-secret",
			IsActive:         true,
		}},
		credits: &fakeCredits{balance: 100},
		leads: &fakeLeadReader{
			leadOffer: leadsrepo.LeadOffer{
				ID:                 uuid.New(),
				Status:             leadsdomain.StatusLeadReady,
				BillingEligibility: leadsdomain.BillingEligible,
			},
		},
		marker: &fakeMarker{},
		bus:    &capturingBus{},
	}
	f.svc = New(f.store, f.tenants, f.credits, f.bus, logger.New("test"), dispatchConfig{
		timeout:     time.Second,
		maxAttempts: 5,
		backoffBase: 30 * time.Minute,
	})
	f.svc.SetLeadAccess(f.leads, f.marker)
	return f
}

func dueDelivery(tenantID uuid.UUID, leadOfferID uuid.UUID, attempts int) repository.Delivery {
	return repository.Delivery{
		ID:          uuid.New(),
		LeadOfferID: leadOfferID,
		TenantID:    tenantID,
		Status:      repository.StatusPending,
		Payload:     []byte(`{"phone":"+34600111222"}`),
		Attempts:    attempts,
	}
}

func TestDispatchFailureSchedulesExponentialBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	for _, attempts := range []int{0, 1, 2} {
		f := newDispatchFixture(srv.URL)
		d := dueDelivery(f.tenants.tenant.ID, f.leads.leadOffer.ID, attempts)
		f.store.due = []repository.Delivery{d}

		before := time.Now()
		if _, err := f.svc.ProcessDue(context.Background(), 10); err != nil {
			t.Fatalf("ProcessDue: %v", err)
		}
		after := time.Now()

		if len(f.store.attempts) != 1 {
			t.Fatalf("attempts=%d: recorded %d attempt failures, want 1", attempts, len(f.store.attempts))
		}
		rec := f.store.attempts[0]
		if rec.id != d.ID {
			t.Errorf("attempts=%d: failure recorded for %s, want %s", attempts, rec.id, d.ID)
		}
		if !strings.Contains(rec.lastError, "returned 500") {
			t.Errorf("attempts=%d: last error %q does not name the response status", attempts, rec.lastError)
		}

		delay := 30 * time.Minute * time.Duration(1<<attempts)
		if rec.next.Before(before.Add(delay)) || rec.next.After(after.Add(delay)) {
			t.Errorf("attempts=%d: next attempt at %v, want about %v out", attempts, rec.next, delay)
		}
		if len(f.store.terminals) != 0 {
			t.Errorf("attempts=%d: terminal failure recorded before the cap", attempts)
		}
	}
}

func TestDispatchDeadLettersAfterFinalAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newDispatchFixture(srv.URL)
	d := dueDelivery(f.tenants.tenant.ID, f.leads.leadOffer.ID, 4) // fifth attempt is the last
	f.store.due = []repository.Delivery{d}

	if _, err := f.svc.ProcessDue(context.Background(), 10); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	if len(f.store.terminals) != 1 {
		t.Fatalf("recorded %d terminal failures, want 1", len(f.store.terminals))
	}
	rec := f.store.terminals[0]
	if rec.status != repository.StatusDeadLetter {
		t.Errorf("terminal status = %s, want %s", rec.status, repository.StatusDeadLetter)
	}
	if !strings.Contains(rec.lastError, "returned 502") {
		t.Errorf("last error %q does not name the response status", rec.lastError)
	}
	if len(f.store.attempts) != 0 {
		t.Error("retry scheduled past the attempt cap")
	}

	if len(f.bus.published) != 1 {
		t.Fatalf("published %d events, want 1", len(f.bus.published))
	}
	dead, ok := f.bus.published[0].(events.DeliveryDeadLettered)
	if !ok {
		t.Fatalf("published %T, want DeliveryDeadLettered", f.bus.published[0])
	}
	if dead.DeliveryID != d.ID || dead.LeadOfferID != d.LeadOfferID || dead.TenantID != d.TenantID {
		t.Error("dead-letter event carries wrong identifiers")
	}
	if !strings.Contains(dead.LastError, "returned 502") {
		t.Errorf("event last error = %q", dead.LastError)
	}
}

func TestDispatchBlocksOnInsufficientBalance(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newDispatchFixture(srv.URL)
	f.credits.balance = f.tenants.tenant.CreditsPerLead - 1
	d := dueDelivery(f.tenants.tenant.ID, f.leads.leadOffer.ID, 0)
	f.store.due = []repository.Delivery{d}

	if _, err := f.svc.ProcessDue(context.Background(), 10); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	if hits.Load() != 0 {
		t.Error("tenant endpoint was hit despite insufficient balance")
	}
	if len(f.store.terminals) != 1 {
		t.Fatalf("recorded %d terminal failures, want 1", len(f.store.terminals))
	}
	rec := f.store.terminals[0]
	if rec.status != repository.StatusFailed {
		t.Errorf("terminal status = %s, want %s", rec.status, repository.StatusFailed)
	}
	if !strings.Contains(rec.lastError, "insufficient credit balance") {
		t.Errorf("last error = %q", rec.lastError)
	}
	if len(f.credits.consumed) != 0 {
		t.Error("credits consumed without a handoff")
	}
}

func TestDispatchFailsTerminallyWithoutEndpoint(t *testing.T) {
	f := newDispatchFixture("")
	d := dueDelivery(f.tenants.tenant.ID, f.leads.leadOffer.ID, 0)
	f.store.due = []repository.Delivery{d}

	if _, err := f.svc.ProcessDue(context.Background(), 10); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	if len(f.store.terminals) != 1 {
		t.Fatalf("recorded %d terminal failures, want 1", len(f.store.terminals))
	}
	if f.store.terminals[0].status != repository.StatusFailed {
		t.Errorf("terminal status = %s, want %s", f.store.terminals[0].status, repository.StatusFailed)
	}
}

func TestSuccessfulDispatchConsumesCredit(t *testing.T) {
	var gotSignature atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature.Store(r.Header.Get("X-Leadgate-Signature-256"))
	}))
	defer srv.Close()

	f := newDispatchFixture(srv.URL)
	d := dueDelivery(f.tenants.tenant.ID, f.leads.leadOffer.ID, 0)
	f.store.due = []repository.Delivery{d}

	if _, err := f.svc.ProcessDue(context.Background(), 10); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	if got := f.store.outcomes[d.ID]; got != repository.StatusDelivered {
		t.Errorf("outcome = %s, want %s", got, repository.StatusDelivered)
	}
	if len(f.marker.marked) != 1 || f.marker.marked[0] != d.LeadOfferID {
		t.Error("delivered state edge not applied to the lead offer")
	}
	if len(f.credits.consumed) != 1 {
		t.Fatalf("recorded %d consumptions, want 1", len(f.credits.consumed))
	}
	c := f.credits.consumed[0]
	if c.deliveryID != d.ID || c.tenantID != d.TenantID || c.credits != f.tenants.tenant.CreditsPerLead {
		t.Errorf("consumed %d credits for delivery %s tenant %s", c.credits, c.deliveryID, c.tenantID)
	}

	want := "sha256=" + signPayload(f.tenants.tenant.DeliverySecret, d.Payload)
	if got, _ := gotSignature.Load().(string); got != want {
		t.Errorf("signature header = %q, want %q", got, want)
	}
}

func TestIncompleteLeadDeliversAsPartialWithoutCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	f := newDispatchFixture(srv.URL)
	f.leads.leadOffer.BillingEligibility = leadsdomain.BillingNotChargeableIncomplete
	d := dueDelivery(f.tenants.tenant.ID, f.leads.leadOffer.ID, 0)
	f.store.due = []repository.Delivery{d}

	if _, err := f.svc.ProcessDue(context.Background(), 10); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	if got := f.store.outcomes[d.ID]; got != repository.StatusPartial {
		t.Errorf("outcome = %s, want %s", got, repository.StatusPartial)
	}
	if len(f.credits.consumed) != 0 {
		t.Error("partial handoff consumed a credit")
	}
}
