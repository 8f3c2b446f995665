// Package tenants is the tenant account bounded context: account and offer
// lookup, plus the admin read surface over balances and deliveries.
package tenants

import (
	apphttp "leadgate_backend/internal/http"
	"leadgate_backend/internal/tenants/handler"
	"leadgate_backend/internal/tenants/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the tenants bounded context implementing http.Module.
type Module struct {
	repo    *repository.Repository
	handler *handler.Handler
}

func NewModule(pool *pgxpool.Pool, credits handler.CreditReader, deliveries handler.DeliveryLister) *Module {
	repo := repository.New(pool)
	return &Module{
		repo:    repo,
		handler: handler.New(repo, credits, deliveries),
	}
}

func (m *Module) Name() string {
	return "tenants"
}

// Repository exposes the tenant reader for other modules' wiring.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Admin.Group("/tenants/:tenantId")
	group.GET("", m.handler.HandleGetTenant)
	group.GET("/balance", m.handler.HandleGetBalance)
	group.GET("/ledger", m.handler.HandleGetLedger)
	group.GET("/deliveries", m.handler.HandleListDeliveries)
}

var _ apphttp.Module = (*Module)(nil)
