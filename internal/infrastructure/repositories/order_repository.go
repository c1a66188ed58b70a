package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
	domainerrors "github.com/mirror-labs/mirror_service/internal/domain/errors"
)

// OrderRepository handles mirror-order persistence
type OrderRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sqlx.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// SaveOrder inserts a new order row
func (r *OrderRepository) SaveOrder(ctx context.Context, order *entities.CopyTradeOrder) error {
	query := `
		INSERT INTO copy_trade_orders (
			id, session_id, source_tx_hash, source_trader, asset_id, side,
			order_type, status, price, source_price, size_usdc, size_shares,
			fill_price, slippage_bps, max_slippage_bps, error_message,
			submitted_at, resolved_at
		) VALUES (
			:id, :session_id, :source_tx_hash, :source_trader, :asset_id, :side,
			:order_type, :status, :price, :source_price, :size_usdc, :size_shares,
			:fill_price, :slippage_bps, :max_slippage_bps, :error_message,
			:submitted_at, :resolved_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, order); err != nil {
		r.logger.Error("failed to save order",
			zap.Error(err),
			zap.String("order_id", order.ID.String()),
			zap.String("session_id", order.SessionID.String()),
		)
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// UpdateOrder persists the mutable order fields
func (r *OrderRepository) UpdateOrder(ctx context.Context, order *entities.CopyTradeOrder) error {
	query := `
		UPDATE copy_trade_orders SET
			status = :status,
			size_shares = :size_shares,
			fill_price = :fill_price,
			slippage_bps = :slippage_bps,
			error_message = :error_message,
			resolved_at = :resolved_at
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, order)
	if err != nil {
		r.logger.Error("failed to update order",
			zap.Error(err),
			zap.String("order_id", order.ID.String()),
		)
		return fmt.Errorf("failed to update order: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return domainerrors.NotFoundError("ORDER")
	}
	return nil
}

// ListOrdersBySession loads a session's order history, newest first
func (r *OrderRepository) ListOrdersBySession(ctx context.Context, sessionID uuid.UUID) ([]entities.CopyTradeOrder, error) {
	query := `
		SELECT * FROM copy_trade_orders
		WHERE session_id = $1
		ORDER BY submitted_at DESC
	`

	var orders []entities.CopyTradeOrder
	if err := r.db.SelectContext(ctx, &orders, query, sessionID); err != nil {
		r.logger.Error("failed to list orders",
			zap.Error(err),
			zap.String("session_id", sessionID.String()),
		)
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}
