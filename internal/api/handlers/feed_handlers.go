package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
	"github.com/mirror-labs/mirror_service/internal/domain/services/session"
	"github.com/mirror-labs/mirror_service/pkg/logger"
)

// FeedHandlers ingests market-feed events pushed by the venue watcher:
// source trades, price ticks, and market resolutions. Delivery is
// at-least-once; the engine dedupes trades by tx hash.
type FeedHandlers struct {
	engine *session.Engine
	logger *logger.Logger
}

// NewFeedHandlers creates feed ingestion handlers
func NewFeedHandlers(engine *session.Engine, logger *logger.Logger) *FeedHandlers {
	return &FeedHandlers{engine: engine, logger: logger}
}

// IngestTrade processes one observed source trade
// POST /api/v1/feed/trades
func (h *FeedHandlers) IngestTrade(c *gin.Context) {
	var trade entities.SourceTradeEvent
	if err := c.ShouldBindJSON(&trade); err != nil {
		respondBadRequest(c, "Invalid trade event")
		return
	}
	if trade.TxHash == "" || trade.Trader == "" || trade.AssetID == "" {
		respondBadRequest(c, "tx_hash, trader and asset_id are required")
		return
	}

	h.engine.HandleSourceTrade(c.Request.Context(), &trade)
	c.Status(http.StatusAccepted)
}

// IngestExecution reconciles a venue execution report for a resting order
// POST /api/v1/feed/executions
func (h *FeedHandlers) IngestExecution(c *gin.Context) {
	var rep entities.ExecutionReport
	if err := c.ShouldBindJSON(&rep); err != nil {
		respondBadRequest(c, "Invalid execution report")
		return
	}
	if rep.OrderID == uuid.Nil {
		respondBadRequest(c, "order_id is required")
		return
	}
	if rep.Status != entities.ExecutionFilled && rep.Status != entities.ExecutionRejected {
		respondBadRequest(c, "status must be filled or rejected")
		return
	}

	if err := h.engine.HandleExecution(c.Request.Context(), &rep); err != nil {
		h.logger.Error("Failed to process execution report",
			"error", err,
			"order_id", rep.OrderID.String(),
		)
		respondDomainError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// IngestPriceTick processes one market price observation
// POST /api/v1/feed/prices
func (h *FeedHandlers) IngestPriceTick(c *gin.Context) {
	var tick entities.PriceTick
	if err := c.ShouldBindJSON(&tick); err != nil {
		respondBadRequest(c, "Invalid price tick")
		return
	}
	if tick.AssetID == "" {
		respondBadRequest(c, "asset_id is required")
		return
	}

	h.engine.HandlePriceTick(c.Request.Context(), &tick)
	c.Status(http.StatusAccepted)
}

// IngestResolution processes one market resolution payout
// POST /api/v1/feed/resolutions
func (h *FeedHandlers) IngestResolution(c *gin.Context) {
	var res entities.MarketResolution
	if err := c.ShouldBindJSON(&res); err != nil {
		respondBadRequest(c, "Invalid resolution event")
		return
	}
	if res.AssetID == "" {
		respondBadRequest(c, "asset_id is required")
		return
	}

	h.engine.HandleResolution(c.Request.Context(), &res)
	c.Status(http.StatusAccepted)
}
