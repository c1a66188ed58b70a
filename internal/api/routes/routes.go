package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/mirror-labs/mirror_service/internal/api/handlers"
	"github.com/mirror-labs/mirror_service/internal/api/middleware"
	"github.com/mirror-labs/mirror_service/internal/domain/services/session"
	"github.com/mirror-labs/mirror_service/internal/infrastructure/config"
	"github.com/mirror-labs/mirror_service/pkg/logger"
)

// Deps carries everything the router needs.
type Deps struct {
	Config *config.Config
	DB     *sqlx.DB
	Engine *session.Engine
	Orders handlers.OrderHistory
	Logger *logger.Logger
}

// SetupRoutes configures all application routes
func SetupRoutes(deps Deps) *gin.Engine {
	if deps.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Global middleware - order matters
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(deps.Config.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	coreHandlers := handlers.NewCoreHandlers(deps.DB, deps.Logger)
	sessionHandlers := handlers.NewCopySessionHandlers(deps.Engine, deps.Orders, deps.Logger)
	feedHandlers := handlers.NewFeedHandlers(deps.Engine, deps.Logger)

	// Health checks and metrics
	router.GET("/health", coreHandlers.Health)
	router.GET("/ready", coreHandlers.Ready)
	router.GET("/metrics", coreHandlers.Metrics)

	v1 := router.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", sessionHandlers.CreateSession)
			sessions.GET("", sessionHandlers.ListSessions)
			sessions.GET("/:id", sessionHandlers.GetSession)
			sessions.POST("/:id/pause", sessionHandlers.PauseSession)
			sessions.POST("/:id/resume", sessionHandlers.ResumeSession)
			sessions.POST("/:id/stop", sessionHandlers.StopSession)
			sessions.GET("/:id/positions", sessionHandlers.GetPositions)
			sessions.POST("/:id/positions/:asset_id/close", sessionHandlers.ClosePosition)
			sessions.GET("/:id/orders", sessionHandlers.GetOrders)
			sessions.GET("/:id/stats", sessionHandlers.GetStats)
		}

		feed := v1.Group("/feed")
		{
			feed.POST("/trades", feedHandlers.IngestTrade)
			feed.POST("/executions", feedHandlers.IngestExecution)
			feed.POST("/prices", feedHandlers.IngestPriceTick)
			feed.POST("/resolutions", feedHandlers.IngestResolution)
		}
	}

	return router
}
