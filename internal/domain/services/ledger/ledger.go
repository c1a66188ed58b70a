// Package ledger maintains the authoritative running position and P&L for
// every (session, asset) pair, purely from a sequence of fills and price
// observations. All quantities use decimal arithmetic; the ledger is the
// only cross-session shared state and is mutated exclusively through
// ApplyFill, MarkPrice and MarkResolved.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
	domainerrors "github.com/mirror-labs/mirror_service/internal/domain/errors"
)

// Repository persists position state write-through for restart recovery
// and the query surface. The in-memory ledger remains the authority.
type Repository interface {
	UpsertPosition(ctx context.Context, position *entities.Position) error
}

type key struct {
	sessionID uuid.UUID
	assetID   string
}

// Ledger tracks positions for all sessions. markPrice updates are applied
// atomically per asset across sessions under a single writer lock.
type Ledger struct {
	mu        sync.RWMutex
	positions map[key]*entities.Position
	repo      Repository
	logger    *zap.Logger
}

// New creates a ledger. repo may be nil for purely in-memory use.
func New(repo Repository, logger *zap.Logger) *Ledger {
	return &Ledger{
		positions: make(map[key]*entities.Position),
		repo:      repo,
		logger:    logger,
	}
}

// Restore seeds the ledger from persisted positions on startup.
func (l *Ledger) Restore(positions []entities.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range positions {
		p := positions[i]
		l.positions[key{p.SessionID, p.AssetID}] = &p
	}
}

// ApplyFill updates the position for a fill. On a buy the average entry
// price becomes the volume-weighted average of old and new cost; on a sell
// net shares shrink and realized P&L books shares x (price - avg_entry).
// A sell exceeding held shares is rejected unless allowFullClose is set,
// in which case it is clamped to the held quantity (source-driven full
// exit under mirror_close).
func (l *Ledger) ApplyFill(ctx context.Context, sessionID uuid.UUID, assetID, sourceTrader string, side entities.OrderSide, shares, price decimal.Decimal, allowFullClose bool) (*entities.Position, error) {
	if shares.LessThanOrEqual(decimal.Zero) || price.LessThan(decimal.Zero) {
		return nil, domainerrors.ValidationError("fill", "fill shares and price must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{sessionID, assetID}
	pos, ok := l.positions[k]
	if !ok {
		if side == entities.OrderSideSell {
			return nil, domainerrors.InsufficientSharesError("0", shares.String())
		}
		now := time.Now().UTC()
		pos = &entities.Position{
			SessionID:    sessionID,
			AssetID:      assetID,
			SourceTrader: sourceTrader,
			CreatedAt:    now,
		}
		l.positions[k] = pos
	}

	if pos.Resolved {
		return nil, &domainerrors.DomainError{
			Err:     domainerrors.ErrPositionResolved,
			Code:    "POSITION_RESOLVED",
			Message: "resolved position can only be redeemed",
		}
	}

	switch side {
	case entities.OrderSideBuy:
		oldCost := pos.NetShares.Mul(pos.AvgEntryPrice)
		newNet := pos.NetShares.Add(shares)
		pos.AvgEntryPrice = oldCost.Add(shares.Mul(price)).Div(newNet)
		pos.BuyShares = pos.BuyShares.Add(shares)
		pos.NetShares = newNet
	case entities.OrderSideSell:
		if shares.GreaterThan(pos.NetShares) {
			if !allowFullClose {
				return nil, domainerrors.InsufficientSharesError(pos.NetShares.String(), shares.String())
			}
			shares = pos.NetShares
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(shares.Mul(price.Sub(pos.AvgEntryPrice)))
		pos.SellShares = pos.SellShares.Add(shares)
		pos.NetShares = pos.NetShares.Sub(shares)
	default:
		return nil, domainerrors.ValidationError("side", "unknown order side")
	}

	pos.CurrentPrice = price
	pos.UnrealizedPnL = pos.NetShares.Mul(pos.CurrentPrice.Sub(pos.AvgEntryPrice))
	pos.UpdatedAt = time.Now().UTC()

	l.persist(ctx, pos)

	snapshot := *pos
	return &snapshot, nil
}

// MarkPrice updates the current price for every position on the asset
// across all sessions and recomputes unrealized P&L. Resolved positions
// keep their payout price.
func (l *Ledger) MarkPrice(ctx context.Context, assetID string, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, pos := range l.positions {
		if k.assetID != assetID || pos.Resolved {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPnL = pos.NetShares.Mul(price.Sub(pos.AvgEntryPrice))
		pos.UpdatedAt = time.Now().UTC()
		l.persist(ctx, pos)
	}
}

// MarkResolved redeems remaining net shares at payoutPerShare, moving
// unrealized P&L to realized. Net shares are left untouched; the position
// is frozen at the payout price and flagged resolved.
func (l *Ledger) MarkResolved(ctx context.Context, assetID string, payoutPerShare decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, pos := range l.positions {
		if k.assetID != assetID || pos.Resolved {
			continue
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pos.NetShares.Mul(payoutPerShare.Sub(pos.AvgEntryPrice)))
		pos.UnrealizedPnL = decimal.Zero
		pos.CurrentPrice = payoutPerShare
		pos.Resolved = true
		pos.UpdatedAt = time.Now().UTC()
		l.persist(ctx, pos)

		l.logger.Info("position resolved",
			zap.String("session_id", pos.SessionID.String()),
			zap.String("asset_id", assetID),
			zap.String("payout_per_share", payoutPerShare.String()),
		)
	}
}

// Get returns a copy of one position, or nil if it does not exist.
func (l *Ledger) Get(sessionID uuid.UUID, assetID string) *entities.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[key{sessionID, assetID}]
	if !ok {
		return nil
	}
	snapshot := *pos
	return &snapshot
}

// Snapshot returns a read-only aggregate of a session's positions.
func (l *Ledger) Snapshot(sessionID uuid.UUID) *entities.SessionSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := &entities.SessionSnapshot{
		SessionID:      sessionID,
		PositionsValue: decimal.Zero,
		RealizedPnL:    decimal.Zero,
		UnrealizedPnL:  decimal.Zero,
	}
	for k, pos := range l.positions {
		if k.sessionID != sessionID {
			continue
		}
		snap.Positions = append(snap.Positions, *pos)
		snap.RealizedPnL = snap.RealizedPnL.Add(pos.RealizedPnL)
		snap.UnrealizedPnL = snap.UnrealizedPnL.Add(pos.UnrealizedPnL)
		if pos.IsOpen() {
			snap.OpenPositions++
			snap.PositionsValue = snap.PositionsValue.Add(pos.CurrentValue())
		}
	}
	return snap
}

// AssetSessions lists sessions currently holding open positions in an asset.
func (l *Ledger) AssetSessions(assetID string) []uuid.UUID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []uuid.UUID
	for k, pos := range l.positions {
		if k.assetID == assetID && pos.IsOpen() {
			out = append(out, k.sessionID)
		}
	}
	return out
}

func (l *Ledger) persist(ctx context.Context, pos *entities.Position) {
	if l.repo == nil {
		return
	}
	if err := l.repo.UpsertPosition(ctx, pos); err != nil {
		l.logger.Warn("failed to persist position",
			zap.String("session_id", pos.SessionID.String()),
			zap.String("asset_id", pos.AssetID),
			zap.Error(err),
		)
	}
}
