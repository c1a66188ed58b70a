package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
	domainerrors "github.com/mirror-labs/mirror_service/internal/domain/errors"
)

// SessionRepository handles copy-trade session persistence
type SessionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sqlx.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// SaveSession inserts a new session row
func (r *SessionRepository) SaveSession(ctx context.Context, sess *entities.Session) error {
	query := `
		INSERT INTO copy_sessions (
			id, status, list_id, top_n, order_type, simulate, wallet_id,
			copy_pct, max_position_usdc, max_slippage_bps,
			initial_capital, remaining_capital,
			max_loss_pct, min_source_usdc, utilization_cap, max_open_positions,
			min_source_price, max_source_price, take_profit_pct, stop_loss_pct,
			mirror_close, health_interval_secs, stop_reason, created_at, updated_at
		) VALUES (
			:id, :status, :list_id, :top_n, :order_type, :simulate, :wallet_id,
			:copy_pct, :max_position_usdc, :max_slippage_bps,
			:initial_capital, :remaining_capital,
			:max_loss_pct, :min_source_usdc, :utilization_cap, :max_open_positions,
			:min_source_price, :max_source_price, :take_profit_pct, :stop_loss_pct,
			:mirror_close, :health_interval_secs, :stop_reason, :created_at, :updated_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, sess); err != nil {
		r.logger.Error("failed to save session",
			zap.Error(err),
			zap.String("session_id", sess.ID.String()),
		)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// UpdateSession persists the mutable session fields
func (r *SessionRepository) UpdateSession(ctx context.Context, sess *entities.Session) error {
	query := `
		UPDATE copy_sessions SET
			status = :status,
			remaining_capital = :remaining_capital,
			stop_reason = :stop_reason,
			updated_at = :updated_at
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, sess)
	if err != nil {
		r.logger.Error("failed to update session",
			zap.Error(err),
			zap.String("session_id", sess.ID.String()),
		)
		return fmt.Errorf("failed to update session: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return domainerrors.NotFoundError("SESSION")
	}
	return nil
}

// GetSession loads one session by id
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*entities.Session, error) {
	query := `SELECT * FROM copy_sessions WHERE id = $1`

	sess := &entities.Session{}
	if err := r.db.GetContext(ctx, sess, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("SESSION")
		}
		r.logger.Error("failed to get session",
			zap.Error(err),
			zap.String("session_id", id.String()),
		)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions loads all sessions, newest first
func (r *SessionRepository) ListSessions(ctx context.Context) ([]entities.Session, error) {
	query := `SELECT * FROM copy_sessions ORDER BY created_at DESC`

	var sessions []entities.Session
	if err := r.db.SelectContext(ctx, &sessions, query); err != nil {
		r.logger.Error("failed to list sessions", zap.Error(err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}
