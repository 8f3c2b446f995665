// Package handler exposes the admin read endpoints for tenant accounts:
// credit balance, ledger history, and delivery status.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	billingrepo "leadgate_backend/internal/billing/repository"
	deliveryrepo "leadgate_backend/internal/delivery/repository"
	tenantsrepo "leadgate_backend/internal/tenants/repository"
	"leadgate_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultListLimit = 50

// CreditReader serves balance and ledger reads. Satisfied by the billing
// service.
type CreditReader interface {
	Balance(ctx context.Context, tenantID uuid.UUID) (int64, error)
	History(ctx context.Context, tenantID uuid.UUID, limit int) ([]billingrepo.Entry, error)
}

// DeliveryLister serves delivery status reads. Satisfied by the delivery
// repository.
type DeliveryLister interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]deliveryrepo.Delivery, error)
}

type Handler struct {
	tenants    *tenantsrepo.Repository
	credits    CreditReader
	deliveries DeliveryLister
}

func New(tenants *tenantsrepo.Repository, credits CreditReader, deliveries DeliveryLister) *Handler {
	return &Handler{tenants: tenants, credits: credits, deliveries: deliveries}
}

type tenantResponse struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	DefaultScoreThreshold int    `json:"default_score_threshold"`
	CreditsPerLead        int64  `json:"credits_per_lead"`
	IsActive              bool   `json:"is_active"`
}

// HandleGetTenant returns one tenant's account settings.
// GET /api/v1/admin/tenants/:tenantId
func (h *Handler) HandleGetTenant(c *gin.Context) {
	tenantID, ok := h.parseTenantID(c)
	if !ok {
		return
	}

	tenant, err := h.tenants.GetTenant(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, tenantResponse{
		ID:                    tenant.ID.String(),
		Name:                  tenant.Name,
		DefaultScoreThreshold: tenant.DefaultScoreThreshold,
		CreditsPerLead:        tenant.CreditsPerLead,
		IsActive:              tenant.IsActive,
	})
}

// HandleGetBalance returns the tenant's current credit balance.
// GET /api/v1/admin/tenants/:tenantId/balance
func (h *Handler) HandleGetBalance(c *gin.Context) {
	tenantID, ok := h.parseTenantID(c)
	if !ok {
		return
	}

	balance, err := h.credits.Balance(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"tenant_id": tenantID, "balance": balance})
}

type ledgerEntryResponse struct {
	ID             int64      `json:"id"`
	Type           string     `json:"type"`
	Amount         int64      `json:"amount"`
	BalanceAfter   int64      `json:"balance_after"`
	Description    string     `json:"description"`
	DeliveryID     *uuid.UUID `json:"delivery_id,omitempty"`
	BillingOrderID *uuid.UUID `json:"billing_order_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HandleGetLedger returns the tenant's newest ledger entries.
// GET /api/v1/admin/tenants/:tenantId/ledger
func (h *Handler) HandleGetLedger(c *gin.Context) {
	tenantID, ok := h.parseTenantID(c)
	if !ok {
		return
	}

	entries, err := h.credits.History(c.Request.Context(), tenantID, h.parseLimit(c))
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, ledgerEntryResponse{
			ID:             e.ID,
			Type:           string(e.Type),
			Amount:         e.Amount,
			BalanceAfter:   e.BalanceAfter,
			Description:    e.Description,
			DeliveryID:     e.DeliveryID,
			BillingOrderID: e.BillingOrderID,
			CreatedAt:      e.CreatedAt,
		})
	}
	httpkit.OK(c, gin.H{"tenant_id": tenantID, "entries": items})
}

type deliveryResponse struct {
	ID          string     `json:"id"`
	LeadOfferID string     `json:"lead_offer_id"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HandleListDeliveries returns the tenant's newest deliveries.
// GET /api/v1/admin/tenants/:tenantId/deliveries
func (h *Handler) HandleListDeliveries(c *gin.Context) {
	tenantID, ok := h.parseTenantID(c)
	if !ok {
		return
	}

	deliveries, err := h.deliveries.ListByTenant(c.Request.Context(), tenantID, h.parseLimit(c))
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		items = append(items, deliveryResponse{
			ID:          d.ID.String(),
			LeadOfferID: d.LeadOfferID.String(),
			Status:      string(d.Status),
			Attempts:    d.Attempts,
			LastError:   d.LastError,
			DeliveredAt: d.DeliveredAt,
			CreatedAt:   d.CreatedAt,
		})
	}
	httpkit.OK(c, gin.H{"tenant_id": tenantID, "deliveries": items})
}

func (h *Handler) parseTenantID(c *gin.Context) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(c.Param("tenantId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid tenant ID", nil)
		return uuid.Nil, false
	}
	return tenantID, true
}

func (h *Handler) parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
