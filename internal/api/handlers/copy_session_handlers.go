package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
	"github.com/mirror-labs/mirror_service/internal/domain/services/session"
	"github.com/mirror-labs/mirror_service/internal/domain/services/stats"
	"github.com/mirror-labs/mirror_service/pkg/logger"
)

// OrderHistory is the order query surface the handlers need.
type OrderHistory interface {
	ListOrdersBySession(ctx context.Context, sessionID uuid.UUID) ([]entities.CopyTradeOrder, error)
}

// CopySessionHandlers handles copy-trade session API endpoints
type CopySessionHandlers struct {
	engine *session.Engine
	orders OrderHistory
	logger *logger.Logger
}

// NewCopySessionHandlers creates new copy session handlers
func NewCopySessionHandlers(engine *session.Engine, orders OrderHistory, logger *logger.Logger) *CopySessionHandlers {
	return &CopySessionHandlers{
		engine: engine,
		orders: orders,
		logger: logger,
	}
}

// CreateSession starts a new copy-trade session
// POST /api/v1/sessions
func (h *CopySessionHandlers) CreateSession(c *gin.Context) {
	var req entities.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	sess, err := h.engine.CreateSession(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to create session", "error", err)
		respondDomainError(c, err)
		return
	}

	respondCreated(c, sess)
}

// ListSessions returns every registered session
// GET /api/v1/sessions
func (h *CopySessionHandlers) ListSessions(c *gin.Context) {
	respondSuccess(c, gin.H{"sessions": h.engine.Sessions()})
}

// GetSession returns one session's state
// GET /api/v1/sessions/:id
func (h *CopySessionHandlers) GetSession(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	respondSuccess(c, ctrl.Session())
}

// PauseSession transitions a running session to paused
// POST /api/v1/sessions/:id/pause
func (h *CopySessionHandlers) PauseSession(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.Pause(c.Request.Context()); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, ctrl.Session())
}

// ResumeSession transitions a paused session back to running
// POST /api/v1/sessions/:id/resume
func (h *CopySessionHandlers) ResumeSession(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.Resume(c.Request.Context()); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, ctrl.Session())
}

// StopSession terminally stops a session
// POST /api/v1/sessions/:id/stop
func (h *CopySessionHandlers) StopSession(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	var req entities.StopSessionRequest
	_ = c.ShouldBindJSON(&req)

	if err := ctrl.Stop(c.Request.Context(), req.Reason); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, ctrl.Session())
}

// GetPositions returns the session's ledger snapshot
// GET /api/v1/sessions/:id/positions
func (h *CopySessionHandlers) GetPositions(c *gin.Context) {
	sessionID, err := parseUUID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid session ID")
		return
	}

	snap, err := h.engine.Snapshot(sessionID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, snap)
}

// ClosePosition manually closes the full position in one asset
// POST /api/v1/sessions/:id/positions/:asset_id/close
func (h *CopySessionHandlers) ClosePosition(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	order, err := ctrl.ClosePosition(c.Request.Context(), c.Param("asset_id"))
	if err != nil {
		h.logger.Error("Failed to close position",
			"error", err,
			"session_id", c.Param("id"),
			"asset_id", c.Param("asset_id"),
		)
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, order)
}

// GetOrders returns the session's order history
// GET /api/v1/sessions/:id/orders
func (h *CopySessionHandlers) GetOrders(c *gin.Context) {
	sessionID, err := parseUUID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid session ID")
		return
	}
	if _, err := h.engine.Get(sessionID); err != nil {
		respondDomainError(c, err)
		return
	}

	orders, err := h.orders.ListOrdersBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to list orders", "error", err, "session_id", sessionID.String())
		respondInternalError(c, "Failed to list orders")
		return
	}

	respondSuccess(c, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// GetStats returns the session's performance projection
// GET /api/v1/sessions/:id/stats
func (h *CopySessionHandlers) GetStats(c *gin.Context) {
	sessionID, err := parseUUID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid session ID")
		return
	}

	ctrl, err := h.engine.Get(sessionID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	snap, err := h.engine.Snapshot(sessionID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	orders, err := h.orders.ListOrdersBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to list orders for stats", "error", err, "session_id", sessionID.String())
		respondInternalError(c, "Failed to compute stats")
		return
	}

	sess := ctrl.Session()
	respondSuccess(c, stats.Compute(&sess, snap, orders, time.Now().UTC()))
}

func (h *CopySessionHandlers) controller(c *gin.Context) (*session.Controller, bool) {
	sessionID, err := parseUUID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid session ID")
		return nil, false
	}

	ctrl, err := h.engine.Get(sessionID)
	if err != nil {
		respondNotFound(c, "Session not found")
		return nil, false
	}
	return ctrl, true
}
