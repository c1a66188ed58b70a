package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirror-labs/mirror_service/internal/infrastructure/database"
	"github.com/mirror-labs/mirror_service/pkg/logger"
)

// CoreHandlers serves health and operational endpoints
type CoreHandlers struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewCoreHandlers creates core handlers
func NewCoreHandlers(db *sqlx.DB, logger *logger.Logger) *CoreHandlers {
	return &CoreHandlers{db: db, logger: logger}
}

// Health is a liveness check
// GET /health
func (h *CoreHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether dependencies are reachable
// GET /ready
func (h *CoreHandlers) Ready(c *gin.Context) {
	if err := database.HealthCheck(h.db); err != nil {
		h.logger.Error("Readiness check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Metrics exposes Prometheus metrics
// GET /metrics
func (h *CoreHandlers) Metrics(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}
