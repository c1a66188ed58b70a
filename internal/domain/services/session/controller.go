package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
	domainerrors "github.com/mirror-labs/mirror_service/internal/domain/errors"
	"github.com/mirror-labs/mirror_service/internal/domain/services/orders"
	"github.com/mirror-labs/mirror_service/internal/domain/services/riskgate"
	"github.com/mirror-labs/mirror_service/pkg/metrics"
)

// OrderManager is the slice of the order lifecycle manager the controller
// drives.
type OrderManager interface {
	Submit(ctx context.Context, params orders.SubmitParams) (*entities.CopyTradeOrder, error)
	OnFill(ctx context.Context, orderID uuid.UUID, fillPrice, filledShares decimal.Decimal) (*entities.CopyTradeOrder, error)
	OnReject(ctx context.Context, orderID uuid.UUID, reason string) (*entities.CopyTradeOrder, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*entities.CopyTradeOrder, error)
	ExpiredGTC(cutoff time.Time) []*entities.CopyTradeOrder
}

// Ledger is the position-ledger surface the engine and its controllers use.
type Ledger interface {
	Snapshot(sessionID uuid.UUID) *entities.SessionSnapshot
	Get(sessionID uuid.UUID, assetID string) *entities.Position
	MarkPrice(ctx context.Context, assetID string, price decimal.Decimal)
	MarkResolved(ctx context.Context, assetID string, payoutPerShare decimal.Decimal)
	AssetSessions(assetID string) []uuid.UUID
}

// Deduper remembers recently mirrored source trades per session.
type Deduper interface {
	Seen(ctx context.Context, sessionID uuid.UUID, txHash string) (bool, error)
	Mark(ctx context.Context, sessionID uuid.UUID, txHash string) error
}

// OrderLimiter caps the order rate per session. Allow only inspects the
// window; Record consumes one slot and is called on actual submission.
type OrderLimiter interface {
	Allow(ctx context.Context, sessionID uuid.UUID) (bool, error)
	Record(ctx context.Context, sessionID uuid.UUID) error
}

// Repository persists session rows.
type Repository interface {
	SaveSession(ctx context.Context, sess *entities.Session) error
	UpdateSession(ctx context.Context, sess *entities.Session) error
	ListSessions(ctx context.Context) ([]entities.Session, error)
}

// BalanceProvider reports the live wallet balance for capital re-sync.
type BalanceProvider interface {
	Balance(ctx context.Context, walletID string) (decimal.Decimal, error)
}

// Publisher delivers CopyTradeUpdate events to subscribers.
type Publisher interface {
	Publish(update entities.CopyTradeUpdate)
}

// Settings are the engine-wide tunables applied to every session.
type Settings struct {
	MinOrderUSDC           decimal.Decimal
	DedupWindow            time.Duration
	CooldownDuration       time.Duration
	MaxConsecutiveFailures int
	GTCTimeout             time.Duration
}

// Controller owns one session's configuration, status, and trade flow.
// All event processing for the session is serialized under its mutex: one
// event is fully processed, ledger mutation and update emission included,
// before the next is accepted. The mutex is held across order submission
// too, so subsequent events for the session (lifecycle calls and health
// checks included) queue behind an in-flight order; at most one mirror
// order is ever outstanding per session, and other sessions are never
// blocked.
type Controller struct {
	mu      sync.Mutex
	sess    *entities.Session
	traders map[string]struct{}

	consecutiveFailures int
	cooldownUntil       time.Time
	lastOrder           *entities.CopyTradeOrder

	gate      riskgate.Gate
	orders    OrderManager
	ledger    Ledger
	dedup     Deduper
	limiter   OrderLimiter
	repo      Repository
	publisher Publisher
	settings  Settings
	logger    *zap.Logger
}

func newController(sess *entities.Session, traders []string, deps engineDeps) *Controller {
	set := make(map[string]struct{}, len(traders))
	for _, t := range traders {
		set[t] = struct{}{}
	}
	return &Controller{
		sess:      sess,
		traders:   set,
		gate:      deps.gate,
		orders:    deps.orders,
		ledger:    deps.ledger,
		dedup:     deps.dedup,
		limiter:   deps.limiter,
		repo:      deps.repo,
		publisher: deps.publisher,
		settings:  deps.settings,
		logger:    deps.logger,
	}
}

// Session returns a copy of the session state.
func (c *Controller) Session() entities.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.sess
}

func (c *Controller) follows(trader string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.traders[trader]
	return ok
}

// OnSourceTrade runs one source trade through the risk gate and, when
// approved, the order lifecycle manager. Risk rejections are non-fatal:
// the trade is logged as skipped and the session continues.
func (c *Controller) OnSourceTrade(ctx context.Context, trade *entities.SourceTradeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.Status != entities.SessionStatusRunning {
		return nil
	}

	if now := time.Now(); now.Before(c.cooldownUntil) {
		c.logger.Debug("session in failure cooldown, skipping trade",
			zap.String("session_id", c.sess.ID.String()),
			zap.String("tx_hash", trade.TxHash),
		)
		return nil
	}

	duplicate, err := c.dedup.Seen(ctx, c.sess.ID, trade.TxHash)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}

	snap := c.ledger.Snapshot(c.sess.ID)
	decision := c.gate.Evaluate(c.sess, trade, snap, duplicate)

	if decision.StopSession {
		c.stopLocked(ctx, entities.StopReasonMaxLossBreached)
		return nil
	}
	if !decision.Approved {
		metrics.RiskRejections.WithLabelValues(string(decision.Reason)).Inc()
		c.logger.Info("source trade skipped",
			zap.String("session_id", c.sess.ID.String()),
			zap.String("tx_hash", trade.TxHash),
			zap.String("reason", string(decision.Reason)),
		)
		return nil
	}

	// Rate budget is checked only for trades that passed every other gate
	// and consumed only on submission: duplicates and rejections never
	// starve genuine mirror orders.
	allowed, err := c.limiter.Allow(ctx, c.sess.ID)
	if err != nil {
		return fmt.Errorf("order rate check: %w", err)
	}
	if !allowed {
		metrics.RiskRejections.WithLabelValues("rate_limited").Inc()
		c.logger.Warn("order rate limit reached, skipping trade",
			zap.String("session_id", c.sess.ID.String()),
			zap.String("tx_hash", trade.TxHash),
		)
		return nil
	}

	if err := c.dedup.Mark(ctx, c.sess.ID, trade.TxHash); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	if err := c.limiter.Record(ctx, c.sess.ID); err != nil {
		c.logger.Warn("failed to record order against rate window",
			zap.String("session_id", c.sess.ID.String()),
			zap.Error(err),
		)
	}

	order, err := c.orders.Submit(ctx, orders.SubmitParams{
		Session:     c.sess,
		SourceTrade: trade,
		Side:        trade.Side,
		SizeUSDC:    decision.SizeUSDC,
		SizeShares:  decision.SellShares,
		FullClose:   decision.FullClose,
	})
	if err != nil {
		return fmt.Errorf("order submit: %w", err)
	}

	c.settleCapitalLocked(ctx, order)
	return nil
}

// settleCapitalLocked applies an order outcome to session capital and the
// failure-cooldown counter.
func (c *Controller) settleCapitalLocked(ctx context.Context, order *entities.CopyTradeOrder) {
	switch order.Status {
	case entities.OrderStatusFilled, entities.OrderStatusSimulated, entities.OrderStatusPartial:
		if order.Side == entities.OrderSideBuy {
			c.sess.RemainingCapital = c.sess.RemainingCapital.Sub(order.SizeUSDC)
		} else {
			c.sess.RemainingCapital = c.sess.RemainingCapital.Add(order.SizeUSDC)
		}
		c.consecutiveFailures = 0
		c.persistLocked(ctx)
		c.emitBalanceLocked()
	case entities.OrderStatusSubmitted:
		// Resting GTC buy reserves its notional until fill or cancel.
		if order.Side == entities.OrderSideBuy {
			c.sess.RemainingCapital = c.sess.RemainingCapital.Sub(order.SizeUSDC)
			c.persistLocked(ctx)
			c.emitBalanceLocked()
		}
	case entities.OrderStatusFailed:
		c.consecutiveFailures++
		if c.settings.MaxConsecutiveFailures > 0 && c.consecutiveFailures >= c.settings.MaxConsecutiveFailures {
			c.cooldownUntil = time.Now().Add(c.settings.CooldownDuration)
			c.consecutiveFailures = 0
			c.logger.Warn("consecutive failures reached, entering cooldown",
				zap.String("session_id", c.sess.ID.String()),
				zap.Duration("cooldown", c.settings.CooldownDuration),
			)
		}
	}

	if !c.sess.Simulate && c.sess.Status == entities.SessionStatusRunning &&
		c.sess.RemainingCapital.LessThan(c.settings.MinOrderUSDC) && c.ledger.Snapshot(c.sess.ID).OpenPositions == 0 {
		c.pauseLocked(ctx, entities.StopReasonEmptyBalance)
	}
}

// OnOrderResolved settles session capital for a resting order resolved by
// a venue callback. Buy notional was reserved at the submitted price on
// submission, so a fill settles only the price difference; sell proceeds
// are credited per fill; a failed or canceled buy refunds the unfilled
// reservation.
func (c *Controller) OnOrderResolved(ctx context.Context, order *entities.CopyTradeOrder, fillShares, fillPrice decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch order.Status {
	case entities.OrderStatusFilled, entities.OrderStatusPartial:
		if order.Side == entities.OrderSideSell {
			c.sess.RemainingCapital = c.sess.RemainingCapital.Add(fillShares.Mul(fillPrice))
		} else {
			delta := fillShares.Mul(order.Price.Sub(fillPrice))
			c.sess.RemainingCapital = c.sess.RemainingCapital.Add(delta)
		}
		c.consecutiveFailures = 0
		c.persistLocked(ctx)
		c.emitBalanceLocked()
	case entities.OrderStatusFailed, entities.OrderStatusCanceled:
		if order.Side == entities.OrderSideBuy {
			refund := order.SizeUSDC.Sub(order.SizeShares.Mul(order.Price))
			if refund.IsPositive() {
				c.sess.RemainingCapital = c.sess.RemainingCapital.Add(refund)
				c.persistLocked(ctx)
				c.emitBalanceLocked()
			}
		}
	}
}

// OnExitCheck applies take-profit / stop-loss triggers for one asset at
// the given price. Closes bypass the risk gate: a full close is not
// subject to copy_pct or the capital gates.
func (c *Controller) OnExitCheck(ctx context.Context, assetID string, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.Status != entities.SessionStatusRunning {
		return nil
	}
	if c.sess.TakeProfitPct == nil && c.sess.StopLossPct == nil {
		return nil
	}

	pos := c.ledger.Get(c.sess.ID, assetID)
	if pos == nil || !pos.IsOpen() {
		return nil
	}
	cost := pos.CostBasis()
	if !cost.IsPositive() {
		return nil
	}

	ratio := pos.NetShares.Mul(price.Sub(pos.AvgEntryPrice)).Div(cost)
	hundred := decimal.NewFromInt(100)

	if c.sess.TakeProfitPct != nil && ratio.Mul(hundred).GreaterThanOrEqual(*c.sess.TakeProfitPct) {
		return c.closeLocked(ctx, pos, price, "take_profit")
	}
	if c.sess.StopLossPct != nil && ratio.Mul(hundred).LessThanOrEqual(c.sess.StopLossPct.Neg()) {
		return c.closeLocked(ctx, pos, price, "stop_loss")
	}
	return nil
}

// OnSourceExit mirrors a source trader's full exit from an asset when
// mirror_close is enabled and the position was opened from that trader.
func (c *Controller) OnSourceExit(ctx context.Context, sourceTrader, assetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.Status != entities.SessionStatusRunning || !c.sess.MirrorClose {
		return nil
	}
	pos := c.ledger.Get(c.sess.ID, assetID)
	if pos == nil || !pos.IsOpen() || pos.SourceTrader != sourceTrader {
		return nil
	}
	return c.closeLocked(ctx, pos, pos.CurrentPrice, "mirror_close")
}

// ClosePosition manually closes the full position in an asset. Allowed on
// stopped sessions too: stopping ends new mirroring, not exits.
func (c *Controller) ClosePosition(ctx context.Context, assetID string) (*entities.CopyTradeOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.ledger.Get(c.sess.ID, assetID)
	if pos == nil || !pos.IsOpen() {
		return nil, domainerrors.NotFoundError("POSITION")
	}
	if pos.Resolved {
		return nil, &domainerrors.DomainError{
			Err:     domainerrors.ErrPositionResolved,
			Code:    "POSITION_RESOLVED",
			Message: "resolved position can only be redeemed",
		}
	}

	price := pos.CurrentPrice
	if err := c.closeLocked(ctx, pos, price, "manual_close"); err != nil {
		return nil, err
	}
	return c.lastOrder, nil
}

// closeLocked synthesizes an internal sell of the full net position
// through the normal order path.
func (c *Controller) closeLocked(ctx context.Context, pos *entities.Position, price decimal.Decimal, reason string) error {
	synthetic := &entities.SourceTradeEvent{
		TxHash:    fmt.Sprintf("%s:%s:%s", reason, c.sess.ID, uuid.NewString()),
		Trader:    pos.SourceTrader,
		AssetID:   pos.AssetID,
		Side:      entities.OrderSideSell,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}

	order, err := c.orders.Submit(ctx, orders.SubmitParams{
		Session:     c.sess,
		SourceTrade: synthetic,
		Side:        entities.OrderSideSell,
		SizeUSDC:    pos.NetShares.Mul(price),
		SizeShares:  pos.NetShares,
		FullClose:   true,
	})
	if err != nil {
		return fmt.Errorf("close submit: %w", err)
	}

	c.logger.Info("position close triggered",
		zap.String("session_id", c.sess.ID.String()),
		zap.String("asset_id", pos.AssetID),
		zap.String("trigger", reason),
		zap.String("status", string(order.Status)),
	)

	c.lastOrder = order
	c.settleCapitalLocked(ctx, order)
	return nil
}

// Pause transitions running -> paused.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.Status != entities.SessionStatusRunning {
		return domainerrors.ConflictError("session", "only a running session can be paused")
	}
	c.pauseLocked(ctx, "")
	return nil
}

func (c *Controller) pauseLocked(ctx context.Context, reason string) {
	c.sess.Status = entities.SessionStatusPaused
	c.persistLocked(ctx)
	metrics.SessionsActive.Dec()
	c.publisher.Publish(entities.CopyTradeUpdate{
		Type:      entities.UpdateSessionPaused,
		SessionID: c.sess.ID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

// Resume transitions paused -> running.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.Status != entities.SessionStatusPaused {
		return domainerrors.ConflictError("session", "only a paused session can be resumed")
	}
	c.sess.Status = entities.SessionStatusRunning
	c.persistLocked(ctx)
	metrics.SessionsActive.Inc()
	c.publisher.Publish(entities.CopyTradeUpdate{
		Type:      entities.UpdateSessionResumed,
		SessionID: c.sess.ID,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Stop makes the session terminal. Safe to call at any time; an in-flight
// order still resolves and updates the ledger, but no new orders follow.
func (c *Controller) Stop(ctx context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.Status == entities.SessionStatusStopped {
		return domainerrors.ConflictError("session", "session already stopped")
	}
	if reason == "" {
		reason = entities.StopReasonUser
	}
	wasRunning := c.sess.Status == entities.SessionStatusRunning
	c.sess.Status = entities.SessionStatusStopped
	c.sess.StopReason = reason
	c.persistLocked(ctx)
	if wasRunning {
		metrics.SessionsActive.Dec()
	}
	c.publisher.Publish(entities.CopyTradeUpdate{
		Type:      entities.UpdateSessionStopped,
		SessionID: c.sess.ID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (c *Controller) stopLocked(ctx context.Context, reason string) {
	wasRunning := c.sess.Status == entities.SessionStatusRunning
	c.sess.Status = entities.SessionStatusStopped
	c.sess.StopReason = reason
	c.persistLocked(ctx)
	if wasRunning {
		metrics.SessionsActive.Dec()
	}
	c.publisher.Publish(entities.CopyTradeUpdate{
		Type:      entities.UpdateSessionStopped,
		SessionID: c.sess.ID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})

	c.logger.Warn("session stopped by circuit breaker",
		zap.String("session_id", c.sess.ID.String()),
		zap.String("reason", reason),
	)
}

// HealthCheck re-syncs live capital, applies the loss circuit breaker,
// and expires stale GTC orders, refunding their unfilled notional.
func (c *Controller) HealthCheck(ctx context.Context, balances BalanceProvider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess.Status == entities.SessionStatusStopped {
		return nil
	}

	if !c.sess.Simulate && c.sess.WalletID != nil && balances != nil {
		bal, err := balances.Balance(ctx, *c.sess.WalletID)
		if err != nil {
			c.logger.Warn("balance sync failed",
				zap.String("session_id", c.sess.ID.String()),
				zap.Error(err),
			)
		} else if !bal.Equal(c.sess.RemainingCapital) {
			c.sess.RemainingCapital = bal
			c.persistLocked(ctx)
			c.emitBalanceLocked()
		}
	}

	snap := c.ledger.Snapshot(c.sess.ID)
	if c.sess.Status == entities.SessionStatusRunning && c.gate.MaxLossBreached(c.sess, snap) {
		c.stopLocked(ctx, entities.StopReasonMaxLossBreached)
		return nil
	}

	if c.settings.GTCTimeout > 0 {
		cutoff := time.Now().Add(-c.settings.GTCTimeout)
		for _, order := range c.orders.ExpiredGTC(cutoff) {
			if order.SessionID != c.sess.ID {
				continue
			}
			canceled, err := c.orders.Cancel(ctx, order.ID, "gtc_timeout")
			if err != nil {
				c.logger.Warn("gtc expiry cancel failed",
					zap.String("order_id", order.ID.String()),
					zap.Error(err),
				)
				continue
			}
			if canceled.Side == entities.OrderSideBuy {
				refund := canceled.SizeUSDC.Sub(canceled.SizeShares.Mul(canceled.Price))
				if refund.IsPositive() {
					c.sess.RemainingCapital = c.sess.RemainingCapital.Add(refund)
					c.persistLocked(ctx)
					c.emitBalanceLocked()
				}
			}
		}
	}

	return nil
}

func (c *Controller) persistLocked(ctx context.Context) {
	c.sess.UpdatedAt = time.Now().UTC()
	if err := c.repo.UpdateSession(ctx, c.sess); err != nil {
		c.logger.Warn("failed to persist session",
			zap.String("session_id", c.sess.ID.String()),
			zap.Error(err),
		)
	}
}

func (c *Controller) emitBalanceLocked() {
	c.publisher.Publish(entities.CopyTradeUpdate{
		Type:             entities.UpdateBalance,
		SessionID:        c.sess.ID,
		RemainingCapital: c.sess.RemainingCapital,
		Timestamp:        time.Now().UTC(),
	})
}
