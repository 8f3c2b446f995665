// Package service builds delivery payloads and dispatches them to tenant
// endpoints with signed requests, bounded retries, and credit consumption on
// successful handoff.
package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"leadgate_backend/internal/delivery/repository"
	"leadgate_backend/internal/events"
	leadsdomain "leadgate_backend/internal/leads/domain"
	leadsrepo "leadgate_backend/internal/leads/repository"
	tenantsrepo "leadgate_backend/internal/tenants/repository"
	"leadgate_backend/platform/apperr"
	"leadgate_backend/platform/config"
	"leadgate_backend/platform/logger"

	"github.com/google/uuid"
)

const signatureHeader = "X-Leadgate-Signature-256"

// LeadMarker applies the delivery-completed state edge on the lead offer.
// Satisfied by the leads service.
type LeadMarker interface {
	MarkDelivered(ctx context.Context, leadOfferID uuid.UUID) error
}

// CreditConsumer charges the tenant for a handed-off lead, keyed by delivery
// id. Satisfied by the billing service.
type CreditConsumer interface {
	ConsumeForDelivery(ctx context.Context, tenantID, deliveryID uuid.UUID, credits int64) (int64, error)
	Balance(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// LeadReader loads the lead offer and lead rows being snapshotted.
type LeadReader interface {
	GetLeadOffer(ctx context.Context, id uuid.UUID) (leadsrepo.LeadOffer, error)
	GetLead(ctx context.Context, id uuid.UUID) (leadsrepo.Lead, error)
}

// TenantReader resolves the destination endpoint and pricing.
type TenantReader interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (tenantsrepo.Tenant, error)
}

// Store is the delivery row persistence the dispatcher drives. Satisfied by
// the delivery repository.
type Store interface {
	Create(ctx context.Context, id, leadOfferID, tenantID uuid.UUID, payload []byte) (repository.Delivery, bool, error)
	SelectDueBatch(ctx context.Context, limit int) ([]repository.Delivery, error)
	MarkOutcome(ctx context.Context, id uuid.UUID, status repository.Status) error
	RecordAttemptFailure(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error
	MarkTerminalFailure(ctx context.Context, id uuid.UUID, status repository.Status, lastError string) error
}

// payload is the JSON body POSTed to the tenant endpoint. It is frozen at
// delivery creation; later edits to the lead do not leak into retries.
type payload struct {
	DeliveryID  string                         `json:"delivery_id"`
	LeadOfferID string                         `json:"lead_offer_id"`
	Phone       string                         `json:"phone"`
	Name        *string                        `json:"name,omitempty"`
	Fields      leadsdomain.QualificationFields `json:"fields"`
	Score       *int                           `json:"score,omitempty"`
	Breakdown   json.RawMessage                `json:"score_breakdown,omitempty"`
	QualifiedAt time.Time                      `json:"qualified_at"`
}

type Service struct {
	repo    Store
	leads   LeadReader
	marker  LeadMarker
	tenants TenantReader
	credits CreditConsumer
	bus     events.Bus
	log     *logger.Logger

	client      *http.Client
	maxAttempts int
	backoffBase time.Duration
}

func New(repo Store, tenants TenantReader, credits CreditConsumer, bus events.Bus, log *logger.Logger, cfg config.DeliveryConfig) *Service {
	return &Service{
		repo:        repo,
		tenants:     tenants,
		credits:     credits,
		bus:         bus,
		log:         log,
		client:      &http.Client{Timeout: cfg.GetDeliveryTimeout()},
		maxAttempts: cfg.GetDeliveryMaxAttempts(),
		backoffBase: cfg.GetDeliveryBackoffBase(),
	}
}

// SetLeadAccess injects the lead reader and marker after construction.
// Delivery and leads reference each other; the composition root breaks the
// cycle with this setter.
func (s *Service) SetLeadAccess(leads LeadReader, marker LeadMarker) {
	s.leads = leads
	s.marker = marker
}

// CreateForLeadOffer snapshots a qualified lead offer into a PENDING
// delivery. Creation is idempotent per lead offer. Dispatch happens on the
// next ProcessDue run, never inline, so qualification latency stays flat.
func (s *Service) CreateForLeadOffer(ctx context.Context, leadOfferID uuid.UUID) error {
	lo, err := s.leads.GetLeadOffer(ctx, leadOfferID)
	if err != nil {
		return err
	}
	if lo.TenantID == nil {
		return apperr.Internal("lead offer has no tenant, cannot deliver")
	}

	lead, err := s.leads.GetLead(ctx, lo.LeadID)
	if err != nil {
		return err
	}

	// The delivery id is minted up front so the frozen snapshot references
	// itself. On a repeat call the insert loses the conflict and the minted
	// id is discarded with the snapshot.
	deliveryID := uuid.New()
	body, err := json.Marshal(payload{
		DeliveryID:  deliveryID.String(),
		LeadOfferID: lo.ID.String(),
		Phone:       lead.Phone,
		Name:        lead.Name,
		Fields:      lo.Fields,
		Score:       lo.Score,
		Breakdown:   lo.ScoreBreakdown,
		QualifiedAt: lo.StatusChangedAt,
	})
	if err != nil {
		return err
	}

	d, created, err := s.repo.Create(ctx, deliveryID, lo.ID, *lo.TenantID, body)
	if err != nil {
		return err
	}
	if created {
		s.log.Info("delivery created",
			"delivery_id", d.ID,
			"lead_offer_id", lo.ID,
			"tenant_id", *lo.TenantID,
		)
	}
	return nil
}

// ProcessDue dispatches up to limit due deliveries and returns how many were
// attempted. Per-delivery failures are recorded on their rows, not
// propagated, so one broken endpoint cannot stall the batch.
func (s *Service) ProcessDue(ctx context.Context, limit int) (int, error) {
	batch, err := s.repo.SelectDueBatch(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, d := range batch {
		if err := s.dispatch(ctx, d); err != nil {
			s.log.Error("delivery dispatch failed",
				"delivery_id", d.ID,
				"error", err,
			)
		}
	}
	return len(batch), nil
}

func (s *Service) dispatch(ctx context.Context, d repository.Delivery) error {
	tenant, err := s.tenants.GetTenant(ctx, d.TenantID)
	if err != nil {
		return err
	}
	if tenant.DeliveryEndpoint == "" {
		return s.repo.MarkTerminalFailure(ctx, d.ID, repository.StatusFailed, "tenant has no delivery endpoint")
	}

	// A tenant who cannot pay does not receive the lead at all.
	balance, err := s.credits.Balance(ctx, d.TenantID)
	if err != nil {
		return err
	}
	if balance < tenant.CreditsPerLead {
		s.log.Warn("delivery blocked on insufficient balance",
			"delivery_id", d.ID,
			"tenant_id", d.TenantID,
			"balance", balance,
		)
		return s.repo.MarkTerminalFailure(ctx, d.ID, repository.StatusFailed, "insufficient credit balance")
	}

	if err := s.post(ctx, tenant, d); err != nil {
		return s.handleFailure(ctx, d, err)
	}
	return s.handleSuccess(ctx, tenant, d)
}

func (s *Service) post(ctx context.Context, tenant tenantsrepo.Tenant, d repository.Delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tenant.DeliveryEndpoint, bytes.NewReader(d.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, "sha256="+signPayload(tenant.DeliverySecret, d.Payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("tenant endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) handleSuccess(ctx context.Context, tenant tenantsrepo.Tenant, d repository.Delivery) error {
	lo, err := s.leads.GetLeadOffer(ctx, d.LeadOfferID)
	if err != nil {
		return err
	}

	outcome := repository.StatusDelivered
	if lo.BillingEligibility == leadsdomain.BillingNotChargeableIncomplete {
		outcome = repository.StatusPartial
	}

	if err := s.repo.MarkOutcome(ctx, d.ID, outcome); err != nil {
		return err
	}
	if err := s.marker.MarkDelivered(ctx, d.LeadOfferID); err != nil {
		s.log.Error("delivered but state edge failed", "delivery_id", d.ID, "error", err)
	}

	if chargeable(outcome) {
		if _, err := s.credits.ConsumeForDelivery(ctx, d.TenantID, d.ID, tenant.CreditsPerLead); err != nil {
			// The lead is already handed off. Consumption errors are
			// surfaced for reconciliation, not retried against the tenant.
			s.log.Error("credit consumption after delivery failed",
				"delivery_id", d.ID,
				"tenant_id", d.TenantID,
				"error", err,
			)
		}
	}

	s.log.Info("delivery completed",
		"delivery_id", d.ID,
		"lead_offer_id", d.LeadOfferID,
		"status", string(outcome),
	)
	return nil
}

func (s *Service) handleFailure(ctx context.Context, d repository.Delivery, cause error) error {
	attempt := d.Attempts + 1
	if attempt >= s.maxAttempts {
		if err := s.repo.MarkTerminalFailure(ctx, d.ID, repository.StatusDeadLetter, cause.Error()); err != nil {
			return err
		}
		s.bus.Publish(ctx, events.DeliveryDeadLettered{
			BaseEvent:   events.NewBaseEvent(),
			DeliveryID:  d.ID,
			LeadOfferID: d.LeadOfferID,
			TenantID:    d.TenantID,
			LastError:   cause.Error(),
		})
		return nil
	}

	// Exponential backoff: base, 2x base, 4x base.
	next := time.Now().Add(s.backoffBase * time.Duration(1<<(attempt-1)))
	return s.repo.RecordAttemptFailure(ctx, d.ID, cause.Error(), next)
}

func chargeable(status repository.Status) bool {
	if status == repository.StatusDelivered {
		return true
	}
	return status == repository.StatusPartial && ChargeablePartialDeliveries
}

// ChargeablePartialDeliveries controls whether PARTIAL handoffs consume a
// credit. Partial payloads are degraded, so they are not billed.
const ChargeablePartialDeliveries = false

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
