// Package service reconciles payment provider events against billing orders
// and exposes the credit operations the delivery pipeline consumes.
package service

import (
	"context"
	"errors"

	"leadgate_backend/internal/billing/repository"
	"leadgate_backend/internal/events"
	"leadgate_backend/platform/apperr"
	"leadgate_backend/platform/logger"

	"github.com/google/uuid"
)

// CheckoutEvent is the normalized shape of a provider checkout.session
// completion, produced by the payment webhook handler.
type CheckoutEvent struct {
	BillingOrderID uuid.UUID
	ProviderRef    string
}

// Ledger is the persistence surface the service needs. Satisfied by the
// billing repository.
type Ledger interface {
	CompleteOrderWithPurchase(ctx context.Context, orderID uuid.UUID) (repository.BillingOrder, bool, error)
	GetBalance(ctx context.Context, tenantID uuid.UUID) (int64, error)
	ConsumeCredit(ctx context.Context, tenantID uuid.UUID, amount int64, reason string, deliveryID *uuid.UUID) (int64, error)
	AddCredits(ctx context.Context, tenantID uuid.UUID, amount int64, entryType repository.EntryType, reason string, orderID *uuid.UUID) (int64, error)
	ListEntries(ctx context.Context, tenantID uuid.UUID, limit int) ([]repository.Entry, error)
}

type Service struct {
	repo Ledger
	bus  events.Bus
	log  *logger.Logger
}

func New(repo Ledger, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log}
}

// ProcessCheckoutCompleted reconciles one checkout event. An event that
// references no known order is logged and dropped rather than failed, so the
// provider does not redeliver it forever. Replays of completed orders are
// acknowledged no-ops.
func (s *Service) ProcessCheckoutCompleted(ctx context.Context, evt CheckoutEvent) error {
	order, applied, err := s.repo.CompleteOrderWithPurchase(ctx, evt.BillingOrderID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.log.Warn("checkout event references unknown billing order, dropping",
				"billing_order_id", evt.BillingOrderID,
				"provider_ref", evt.ProviderRef,
			)
			return nil
		}
		return err
	}

	if !applied {
		s.log.Info("billing order already reconciled, skipping",
			"billing_order_id", order.ID,
			"status", order.Status,
		)
		return nil
	}

	balance, err := s.repo.GetBalance(ctx, order.TenantID)
	if err != nil {
		// Purchase committed; balance lookup is informational only.
		s.log.Error("balance lookup after purchase failed", "error", err)
		balance = -1
	}

	s.log.LedgerEvent(order.TenantID.String(), string(repository.EntryPurchase), order.Credits, balance)
	s.bus.Publish(ctx, events.CreditsPurchased{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   order.TenantID,
		OrderID:    order.ID,
		Credits:    order.Credits,
		NewBalance: balance,
	})
	return nil
}

// ConsumeForDelivery charges one lead's worth of credits keyed by delivery
// id. A replay of the same delivery consumes nothing and reports the current
// balance.
func (s *Service) ConsumeForDelivery(ctx context.Context, tenantID, deliveryID uuid.UUID, credits int64) (int64, error) {
	did := deliveryID
	balance, err := s.repo.ConsumeCredit(ctx, tenantID, credits, "lead delivery", &did)
	if errors.Is(err, repository.ErrDuplicateEntry) {
		return s.repo.GetBalance(ctx, tenantID)
	}
	if err != nil {
		return 0, err
	}
	s.log.LedgerEvent(tenantID.String(), string(repository.EntryConsumption), -credits, balance)
	return balance, nil
}

// GrantCredits appends a manual BONUS or ADJUSTMENT entry.
func (s *Service) GrantCredits(ctx context.Context, tenantID uuid.UUID, amount int64, entryType repository.EntryType, reason string) (int64, error) {
	if entryType != repository.EntryBonus && entryType != repository.EntryAdjustment {
		return 0, apperr.Validation("entry type must be BONUS or ADJUSTMENT")
	}
	balance, err := s.repo.AddCredits(ctx, tenantID, amount, entryType, reason, nil)
	if err != nil {
		return 0, err
	}
	s.log.LedgerEvent(tenantID.String(), string(entryType), amount, balance)
	return balance, nil
}

func (s *Service) Balance(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return s.repo.GetBalance(ctx, tenantID)
}

func (s *Service) History(ctx context.Context, tenantID uuid.UUID, limit int) ([]repository.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListEntries(ctx, tenantID, limit)
}
