// Package leads is the lead lifecycle bounded context: the state machine,
// qualification fields, scoring, and the conversation orchestrator.
package leads

import (
	"net/http"

	"leadgate_backend/internal/events"
	apphttp "leadgate_backend/internal/http"
	"leadgate_backend/internal/leads/repository"
	"leadgate_backend/internal/leads/service"
	"leadgate_backend/platform/httpkit"
	"leadgate_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context implementing http.Module.
type Module struct {
	repo    *repository.Repository
	service *service.Service
}

func NewModule(pool *pgxpool.Pool, tenants service.TenantReader, ai service.ConversationAI, sender service.MessageSender, delivery service.DeliveryCreator, bus events.Bus, log *logger.Logger) *Module {
	repo := repository.New(pool)
	return &Module{
		repo:    repo,
		service: service.New(repo, tenants, ai, sender, delivery, bus, log),
	}
}

func (m *Module) Name() string {
	return "leads"
}

// Service exposes the orchestrator for webhook and scheduler wiring.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository exposes the lead reader for delivery snapshot wiring.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Admin.Group("/lead-offers/:leadOfferId")
	group.GET("", m.handleGetLeadOffer)
	group.GET("/transitions", m.handleListTransitions)
}

func (m *Module) handleGetLeadOffer(c *gin.Context) {
	id, ok := parseLeadOfferID(c)
	if !ok {
		return
	}

	lo, err := m.repo.GetLeadOffer(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{
		"id":                 lo.ID,
		"lead_id":            lo.LeadID,
		"tenant_id":          lo.TenantID,
		"offer_id":           lo.OfferID,
		"status":             lo.Status,
		"contact_attempts":   lo.ContactAttempts,
		"reactivation_count": lo.ReactivationCount,
		"score":              lo.Score,
		"fields":             lo.Fields,
		"status_changed_at":  lo.StatusChangedAt,
	})
}

func (m *Module) handleListTransitions(c *gin.Context) {
	id, ok := parseLeadOfferID(c)
	if !ok {
		return
	}

	transitions, err := m.repo.ListTransitions(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]gin.H, 0, len(transitions))
	for _, t := range transitions {
		items = append(items, gin.H{
			"old_status": t.OldStatus,
			"new_status": t.NewStatus,
			"trigger":    t.Trigger,
			"created_at": t.CreatedAt,
		})
	}
	httpkit.OK(c, gin.H{"lead_offer_id": id, "transitions": items})
}

func parseLeadOfferID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("leadOfferId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead offer ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

var _ apphttp.Module = (*Module)(nil)
