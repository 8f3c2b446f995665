package knowledge

import (
	apphttp "leadgate_backend/internal/http"
	"leadgate_backend/platform/httpkit"
	"leadgate_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Module is the knowledge cache bounded context implementing http.Module.
type Module struct {
	service *Service
}

func NewModule(embedder Embedder, searcher Searcher, reg prometheus.Registerer, log *logger.Logger) *Module {
	cache := NewCache(WithMetricsHook(NewPrometheusHook(reg)))
	return &Module{service: NewService(cache, embedder, searcher, log)}
}

func (m *Module) Name() string {
	return "knowledge"
}

// Service exposes the embedding cache for the conversation pipeline.
func (m *Module) Service() *Service {
	return m.service
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Admin.Group("/knowledge")
	group.GET("/stats", m.handleStats)
	group.POST("/reset", m.handleReset)
}

func (m *Module) handleStats(c *gin.Context) {
	httpkit.OK(c, m.service.Stats())
}

func (m *Module) handleReset(c *gin.Context) {
	m.service.Reset()
	httpkit.OK(c, gin.H{"status": "reset"})
}

var _ apphttp.Module = (*Module)(nil)
