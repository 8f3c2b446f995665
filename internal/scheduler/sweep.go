package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadgate_backend/internal/events"
	leadsrepo "leadgate_backend/internal/leads/repository"
	"leadgate_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	retryBatchSize        = 20
	reactivationBatchSize = 10
	deliveryBatchSize     = 50

	// A lead must sit in COOLING this long before a reactivation attempt.
	reactivationCooldown = 72 * time.Hour
	// Contacted leads with exhausted attempts go stale after this.
	staleAfter = 48 * time.Hour
)

// SweepReport summarizes one sweep run.
type SweepReport struct {
	StartedAt time.Time `json:"started_at"`
	Retried   int       `json:"retried"`
	Revived   int       `json:"revived"`
	Cooled    int       `json:"cooled"`
	Errors    int       `json:"errors"`
}

// LeadBatcher selects the lead offers each phase operates on.
type LeadBatcher interface {
	SelectRetryBatch(ctx context.Context, now time.Time, limit int) ([]leadsrepo.LeadOffer, error)
	SelectReactivationBatch(ctx context.Context, cutoff time.Time, limit int) ([]leadsrepo.LeadOffer, error)
	SweepStaleToCooling(ctx context.Context, createdBefore time.Time) (int, error)
}

// LeadLifecycle applies the per-lead retry and reactivation flows.
// Satisfied by the leads service.
type LeadLifecycle interface {
	RetryContact(ctx context.Context, leadOfferID uuid.UUID) error
	Reactivate(ctx context.Context, leadOfferID uuid.UUID) error
}

// DeliveryDispatcher drains due pending deliveries. Satisfied by the
// delivery service.
type DeliveryDispatcher interface {
	ProcessDue(ctx context.Context, limit int) (int, error)
}

// Sweep runs the periodic lifecycle phases. Phases are failure isolated:
// one lead failing, or one whole phase failing, never stops the others.
type Sweep struct {
	batches    LeadBatcher
	lifecycle  LeadLifecycle
	deliveries DeliveryDispatcher
	bus        events.Bus
	log        *logger.Logger
}

func NewSweep(batches LeadBatcher, lifecycle LeadLifecycle, deliveries DeliveryDispatcher, bus events.Bus, log *logger.Logger) *Sweep {
	return &Sweep{
		batches:    batches,
		lifecycle:  lifecycle,
		deliveries: deliveries,
		bus:        bus,
		log:        log,
	}
}

// RunSweep executes the retry, reactivation and stale phases once and
// returns the per-phase counters.
func (s *Sweep) RunSweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{StartedAt: time.Now()}

	s.runPhase("retry", &report.Errors, func() error {
		batch, err := s.batches.SelectRetryBatch(ctx, time.Now(), retryBatchSize)
		if err != nil {
			return err
		}
		for _, lo := range batch {
			if err := s.lifecycle.RetryContact(ctx, lo.ID); err != nil {
				report.Errors++
				s.log.Error("retry phase item failed", "lead_offer_id", lo.ID, "error", err)
				continue
			}
			report.Retried++
		}
		return nil
	})

	s.runPhase("reactivation", &report.Errors, func() error {
		cutoff := time.Now().Add(-reactivationCooldown)
		batch, err := s.batches.SelectReactivationBatch(ctx, cutoff, reactivationBatchSize)
		if err != nil {
			return err
		}
		for _, lo := range batch {
			if err := s.lifecycle.Reactivate(ctx, lo.ID); err != nil {
				report.Errors++
				s.log.Error("reactivation phase item failed", "lead_offer_id", lo.ID, "error", err)
				continue
			}
			report.Revived++
		}
		return nil
	})

	s.runPhase("stale", &report.Errors, func() error {
		cooled, err := s.batches.SweepStaleToCooling(ctx, time.Now().Add(-staleAfter))
		if err != nil {
			return err
		}
		report.Cooled = cooled
		return nil
	})

	s.log.Info("sweep completed",
		"retried", report.Retried,
		"revived", report.Revived,
		"cooled", report.Cooled,
		"errors", report.Errors,
	)
	s.bus.Publish(ctx, events.SweepCompleted{
		BaseEvent: events.NewBaseEvent(),
		StartedAt: report.StartedAt,
		Retried:   report.Retried,
		Revived:   report.Revived,
		Cooled:    report.Cooled,
		Errors:    report.Errors,
	})
	return report, nil
}

// DispatchDeliveries drains one batch of due deliveries.
func (s *Sweep) DispatchDeliveries(ctx context.Context) (int, error) {
	return s.deliveries.ProcessDue(ctx, deliveryBatchSize)
}

// runPhase isolates one phase. A panic or error inside it is counted and
// logged while the remaining phases still run.
func (s *Sweep) runPhase(name string, errCount *int, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			*errCount++
			s.log.Error("sweep phase panicked", "phase", name, "panic", fmt.Sprint(r))
		}
	}()

	if err := fn(); err != nil {
		*errCount++
		s.log.Error("sweep phase failed", "phase", name, "error", err)
	}
}
