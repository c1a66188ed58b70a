package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
)

// PositionRepository persists ledger positions write-through; the
// in-memory ledger remains the authority and this table seeds it on boot.
type PositionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sqlx.DB, logger *zap.Logger) *PositionRepository {
	return &PositionRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertPosition inserts or replaces the (session_id, asset_id) row
func (r *PositionRepository) UpsertPosition(ctx context.Context, position *entities.Position) error {
	query := `
		INSERT INTO positions (
			session_id, asset_id, source_trader, buy_shares, sell_shares,
			net_shares, avg_entry_price, current_price, realized_pnl,
			unrealized_pnl, resolved, created_at, updated_at
		) VALUES (
			:session_id, :asset_id, :source_trader, :buy_shares, :sell_shares,
			:net_shares, :avg_entry_price, :current_price, :realized_pnl,
			:unrealized_pnl, :resolved, :created_at, :updated_at
		)
		ON CONFLICT (session_id, asset_id)
		DO UPDATE SET
			buy_shares = EXCLUDED.buy_shares,
			sell_shares = EXCLUDED.sell_shares,
			net_shares = EXCLUDED.net_shares,
			avg_entry_price = EXCLUDED.avg_entry_price,
			current_price = EXCLUDED.current_price,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			resolved = EXCLUDED.resolved,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.NamedExecContext(ctx, query, position); err != nil {
		r.logger.Error("failed to upsert position",
			zap.Error(err),
			zap.String("session_id", position.SessionID.String()),
			zap.String("asset_id", position.AssetID),
		)
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// ListPositions loads every persisted position for ledger recovery
func (r *PositionRepository) ListPositions(ctx context.Context) ([]entities.Position, error) {
	query := `SELECT * FROM positions`

	var positions []entities.Position
	if err := r.db.SelectContext(ctx, &positions, query); err != nil {
		r.logger.Error("failed to list positions", zap.Error(err))
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return positions, nil
}

// ListPositionsBySession loads one session's positions
func (r *PositionRepository) ListPositionsBySession(ctx context.Context, sessionID uuid.UUID) ([]entities.Position, error) {
	query := `SELECT * FROM positions WHERE session_id = $1`

	var positions []entities.Position
	if err := r.db.SelectContext(ctx, &positions, query, sessionID); err != nil {
		r.logger.Error("failed to list positions",
			zap.Error(err),
			zap.String("session_id", sessionID.String()),
		)
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return positions, nil
}
