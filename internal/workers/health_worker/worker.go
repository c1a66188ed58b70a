package health_worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/services/session"
	"github.com/mirror-labs/mirror_service/internal/infrastructure/database"
)

// Worker runs the periodic session health checks: live capital re-sync,
// the loss circuit breaker, GTC expiry, and database pool gauges.
type Worker struct {
	engine       *session.Engine
	db           *sqlx.DB
	cron         *cron.Cron
	intervalSecs int
	logger       *zap.Logger
}

func NewWorker(engine *session.Engine, db *sqlx.DB, intervalSecs int, logger *zap.Logger) *Worker {
	if intervalSecs <= 0 {
		intervalSecs = 60
	}
	return &Worker{
		engine:       engine,
		db:           db,
		cron:         cron.New(cron.WithSeconds()),
		intervalSecs: intervalSecs,
		logger:       logger,
	}
}

func (w *Worker) Start() error {
	spec := fmt.Sprintf("@every %ds", w.intervalSecs)
	_, err := w.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(w.intervalSecs)*time.Second)
		defer cancel()

		w.engine.HealthCheckAll(ctx)

		if err := database.HealthCheck(w.db); err != nil {
			w.logger.Error("database health check failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("session health worker started", zap.Int("interval_secs", w.intervalSecs))
	return nil
}

func (w *Worker) Stop() {
	w.cron.Stop()
	w.logger.Info("session health worker stopped")
}
