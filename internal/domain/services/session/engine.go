// Package session hosts the copy-trade engine: it owns every session's
// controller, validates session creation, and fans market events out to
// the sessions that care about them.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
	domainerrors "github.com/mirror-labs/mirror_service/internal/domain/errors"
	"github.com/mirror-labs/mirror_service/internal/domain/services/riskgate"
	"github.com/mirror-labs/mirror_service/pkg/metrics"
)

// TraderProvider resolves the watched trader set for a session.
type TraderProvider interface {
	TradersForList(ctx context.Context, listID string) ([]string, error)
	TopTraders(ctx context.Context, n int) ([]string, error)
}

type engineDeps struct {
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

// Engine is the session registry. Event fan-out holds only the registry
// read lock; per-session serialization happens inside each controller.
type Engine struct {
	mu          sync.RWMutex
	controllers map[uuid.UUID]*Controller

	deps     engineDeps
	traders  TraderProvider
	balances BalanceProvider
	logger   *zap.Logger
}

// NewEngine wires the engine from its collaborators.
func NewEngine(
	gate riskgate.Gate,
	orderMgr OrderManager,
	led Ledger,
	dedup Deduper,
	limiter OrderLimiter,
	repo Repository,
	publisher Publisher,
	traders TraderProvider,
	balances BalanceProvider,
	settings Settings,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		controllers: make(map[uuid.UUID]*Controller),
		deps: engineDeps{
			gate:      gate,
			orders:    orderMgr,
			ledger:    led,
			dedup:     dedup,
			limiter:   limiter,
			repo:      repo,
			publisher: publisher,
			settings:  settings,
			logger:    logger,
		},
		traders:  traders,
		balances: balances,
		logger:   logger,
	}
}

// CreateSession validates the request, resolves the watched trader set,
// persists the session, and starts its controller in running state.
func (e *Engine) CreateSession(ctx context.Context, req *entities.CreateSessionRequest) (*entities.Session, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	watched, err := e.resolveTraders(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(watched) == 0 {
		return nil, domainerrors.ValidationError("list_id", "no traders resolved for session")
	}

	now := time.Now().UTC()
	sess := &entities.Session{
		ID:               uuid.New(),
		Status:           entities.SessionStatusRunning,
		ListID:           req.ListID,
		TopN:             req.TopN,
		OrderType:        req.OrderType,
		Simulate:         req.Simulate,
		WalletID:         req.WalletID,
		CopyPct:          req.CopyPct,
		MaxPositionUSDC:  req.MaxPositionUSDC,
		MaxSlippageBps:   req.MaxSlippageBps,
		InitialCapital:   req.InitialCapital,
		RemainingCapital: req.InitialCapital,
		MaxLossPct:       req.MaxLossPct,
		MinSourceUSDC:    req.MinSourceUSDC,
		UtilizationCap:   req.UtilizationCap,
		MaxOpenPositions: req.MaxOpenPositions,
		MinSourcePrice:   req.MinSourcePrice,
		MaxSourcePrice:   req.MaxSourcePrice,
		TakeProfitPct:    req.TakeProfitPct,
		StopLossPct:      req.StopLossPct,
		MirrorClose:      req.MirrorClose,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if sess.OrderType == "" {
		sess.OrderType = entities.OrderTypeFOK
	}
	if sess.UtilizationCap.IsZero() {
		sess.UtilizationCap = decimal.NewFromInt(1)
	}
	sess.HealthIntervalSecs = req.HealthIntervalSecs
	if sess.HealthIntervalSecs <= 0 {
		sess.HealthIntervalSecs = 60
	}

	if err := e.deps.repo.SaveSession(ctx, sess); err != nil {
		return nil, domainerrors.InternalError("failed to save session", err)
	}

	ctrl := newController(sess, watched, e.deps)

	e.mu.Lock()
	e.controllers[sess.ID] = ctrl
	e.mu.Unlock()

	metrics.SessionsActive.Inc()
	e.logger.Info("copy-trade session created",
		zap.String("session_id", sess.ID.String()),
		zap.Bool("simulate", sess.Simulate),
		zap.Int("traders", len(watched)),
		zap.String("order_type", string(sess.OrderType)),
	)

	snapshot := *sess
	return &snapshot, nil
}

func validateCreateRequest(req *entities.CreateSessionRequest) error {
	if req.CopyPct.LessThan(entities.MinCopyPct) || req.CopyPct.GreaterThan(entities.MaxCopyPct) {
		return domainerrors.ValidationError("copy_pct", "copy_pct must be between 0.05 and 1.0")
	}
	if !req.InitialCapital.IsPositive() {
		return domainerrors.ValidationError("initial_capital", "initial_capital must be positive")
	}
	if (req.ListID == nil) == (req.TopN == nil) {
		return domainerrors.ValidationError("list_id", "exactly one of list_id or top_n is required")
	}
	if req.TopN != nil && *req.TopN <= 0 {
		return domainerrors.ValidationError("top_n", "top_n must be positive")
	}
	if req.OrderType != "" && req.OrderType != entities.OrderTypeFOK && req.OrderType != entities.OrderTypeGTC {
		return domainerrors.ValidationError("order_type", "order_type must be FOK or GTC")
	}
	if !req.Simulate && (req.WalletID == nil || *req.WalletID == "") {
		return domainerrors.ValidationError("wallet_id", "live sessions require wallet_id")
	}
	if !req.MaxPositionUSDC.IsPositive() {
		return domainerrors.ValidationError("max_position_usdc", "max_position_usdc must be positive")
	}
	if req.MaxSlippageBps.IsNegative() {
		return domainerrors.ValidationError("max_slippage_bps", "max_slippage_bps cannot be negative")
	}
	if req.MaxLossPct.IsNegative() {
		return domainerrors.ValidationError("max_loss_pct", "max_loss_pct cannot be negative")
	}
	one := decimal.NewFromInt(1)
	if !req.UtilizationCap.IsZero() && (req.UtilizationCap.LessThanOrEqual(decimal.Zero) || req.UtilizationCap.GreaterThan(one)) {
		return domainerrors.ValidationError("utilization_cap", "utilization_cap must be in (0, 1]")
	}
	if req.MinSourcePrice.IsNegative() || req.MinSourcePrice.GreaterThan(one) {
		return domainerrors.ValidationError("min_source_price", "min_source_price must be in [0, 1]")
	}
	if !req.MaxSourcePrice.IsZero() {
		if req.MaxSourcePrice.GreaterThan(one) || req.MaxSourcePrice.LessThanOrEqual(req.MinSourcePrice) {
			return domainerrors.ValidationError("max_source_price", "max_source_price must be in (min_source_price, 1]")
		}
	}
	if req.TakeProfitPct != nil && !req.TakeProfitPct.IsPositive() {
		return domainerrors.ValidationError("take_profit_pct", "take_profit_pct must be positive")
	}
	if req.StopLossPct != nil && !req.StopLossPct.IsPositive() {
		return domainerrors.ValidationError("stop_loss_pct", "stop_loss_pct must be positive")
	}
	return nil
}

func (e *Engine) resolveTraders(ctx context.Context, req *entities.CreateSessionRequest) ([]string, error) {
	if req.ListID != nil {
		traders, err := e.traders.TradersForList(ctx, *req.ListID)
		if err != nil {
			return nil, domainerrors.Wrap(err, "failed to resolve trader list")
		}
		return traders, nil
	}
	traders, err := e.traders.TopTraders(ctx, *req.TopN)
	if err != nil {
		return nil, domainerrors.Wrap(err, "failed to resolve top traders")
	}
	return traders, nil
}

// Restore reloads persisted non-stopped sessions into controllers after a
// restart. Sessions whose trader set no longer resolves are paused rather
// than dropped.
func (e *Engine) Restore(ctx context.Context) error {
	sessions, err := e.deps.repo.ListSessions(ctx)
	if err != nil {
		return domainerrors.InternalError("failed to load sessions", err)
	}

	for i := range sessions {
		sess := sessions[i]
		if sess.Status == entities.SessionStatusStopped {
			continue
		}

		req := &entities.CreateSessionRequest{ListID: sess.ListID, TopN: sess.TopN}
		watched, err := e.resolveTraders(ctx, req)
		if err != nil {
			e.logger.Warn("trader resolution failed on restore, pausing session",
				zap.String("session_id", sess.ID.String()),
				zap.Error(err),
			)
			sess.Status = entities.SessionStatusPaused
			watched = nil
		}

		ctrl := newController(&sess, watched, e.deps)
		e.mu.Lock()
		e.controllers[sess.ID] = ctrl
		e.mu.Unlock()

		if sess.Status == entities.SessionStatusRunning {
			metrics.SessionsActive.Inc()
		}
	}

	e.logger.Info("sessions restored", zap.Int("count", len(e.controllers)))
	return nil
}

// Get returns the controller for a session.
func (e *Engine) Get(sessionID uuid.UUID) (*Controller, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ctrl, ok := e.controllers[sessionID]
	if !ok {
		return nil, domainerrors.NotFoundError("SESSION")
	}
	return ctrl, nil
}

// Sessions returns a copy of every registered session's state.
func (e *Engine) Sessions() []entities.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]entities.Session, 0, len(e.controllers))
	for _, ctrl := range e.controllers {
		out = append(out, ctrl.Session())
	}
	return out
}

// Snapshot returns the ledger aggregate for a session.
func (e *Engine) Snapshot(sessionID uuid.UUID) (*entities.SessionSnapshot, error) {
	if _, err := e.Get(sessionID); err != nil {
		return nil, err
	}
	return e.deps.ledger.Snapshot(sessionID), nil
}

// HandleSourceTrade fans one source trade out to every session following
// the trader. Per-session errors are logged, not propagated: one session's
// failure never blocks the others.
func (e *Engine) HandleSourceTrade(ctx context.Context, trade *entities.SourceTradeEvent) {
	e.mu.RLock()
	targets := make([]*Controller, 0, len(e.controllers))
	for _, ctrl := range e.controllers {
		targets = append(targets, ctrl)
	}
	e.mu.RUnlock()

	for _, ctrl := range targets {
		if !ctrl.follows(trade.Trader) {
			continue
		}
		if err := ctrl.OnSourceTrade(ctx, trade); err != nil {
			e.logger.Error("source trade processing failed",
				zap.String("session_id", ctrl.Session().ID.String()),
				zap.String("tx_hash", trade.TxHash),
				zap.Error(err),
			)
		}
	}

	// A sell leaving the source trader flat doubles as an exit signal for
	// mirror_close sessions holding positions opened from that trader.
	if trade.Side == entities.OrderSideSell && trade.TraderShares.LessThanOrEqual(entities.ShareEpsilon) {
		e.HandleSourceExit(ctx, trade.Trader, trade.AssetID)
	}
}

// HandleSourceExit notifies sessions that a source trader fully exited an
// asset.
func (e *Engine) HandleSourceExit(ctx context.Context, sourceTrader, assetID string) {
	for _, sessionID := range e.deps.ledger.AssetSessions(assetID) {
		ctrl, err := e.Get(sessionID)
		if err != nil {
			continue
		}
		if err := ctrl.OnSourceExit(ctx, sourceTrader, assetID); err != nil {
			e.logger.Error("mirror close failed",
				zap.String("session_id", sessionID.String()),
				zap.String("asset_id", assetID),
				zap.Error(err),
			)
		}
	}
}

// HandlePriceTick remarks the asset across all sessions, then runs exit
// checks for sessions holding it.
func (e *Engine) HandlePriceTick(ctx context.Context, tick *entities.PriceTick) {
	e.deps.ledger.MarkPrice(ctx, tick.AssetID, tick.Price)

	for _, sessionID := range e.deps.ledger.AssetSessions(tick.AssetID) {
		ctrl, err := e.Get(sessionID)
		if err != nil {
			continue
		}
		if err := ctrl.OnExitCheck(ctx, tick.AssetID, tick.Price); err != nil {
			e.logger.Error("exit check failed",
				zap.String("session_id", sessionID.String()),
				zap.String("asset_id", tick.AssetID),
				zap.Error(err),
			)
		}
	}
}

// HandleResolution redeems every position in a resolved market.
func (e *Engine) HandleResolution(ctx context.Context, res *entities.MarketResolution) {
	e.deps.ledger.MarkResolved(ctx, res.AssetID, res.PayoutPerShare)
}

// HandleExecution reconciles a venue execution report for a resting GTC
// order: fills flow through the order manager into the ledger, then the
// owning session settles capital for the increment. A report for an order
// that is not resting surfaces as an invalid-order-state error.
func (e *Engine) HandleExecution(ctx context.Context, rep *entities.ExecutionReport) error {
	var (
		order *entities.CopyTradeOrder
		err   error
	)
	if rep.Status == entities.ExecutionRejected {
		order, err = e.deps.orders.OnReject(ctx, rep.OrderID, rep.Reason)
	} else {
		order, err = e.deps.orders.OnFill(ctx, rep.OrderID, rep.FillPrice, rep.FilledShares)
	}
	if err != nil {
		return err
	}

	if ctrl, cerr := e.Get(order.SessionID); cerr == nil {
		ctrl.OnOrderResolved(ctx, order, rep.FilledShares, rep.FillPrice)
	} else {
		e.logger.Warn("execution report for unknown session",
			zap.String("order_id", order.ID.String()),
			zap.String("session_id", order.SessionID.String()),
		)
	}
	return nil
}

// HealthCheckAll runs the periodic health check on every session.
func (e *Engine) HealthCheckAll(ctx context.Context) {
	e.mu.RLock()
	targets := make([]*Controller, 0, len(e.controllers))
	for _, ctrl := range e.controllers {
		targets = append(targets, ctrl)
	}
	e.mu.RUnlock()

	for _, ctrl := range targets {
		if err := ctrl.HealthCheck(ctx, e.balances); err != nil {
			e.logger.Warn("session health check failed",
				zap.String("session_id", ctrl.Session().ID.String()),
				zap.Error(err),
			)
		}
	}
}
