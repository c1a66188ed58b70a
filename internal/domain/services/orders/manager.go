// Package orders drives a mirror order through its state machine
// (pending -> submitted -> filled/partial/failed/canceled, or
// pending -> simulated for paper sessions), reconciling venue responses
// and applying successful fills to the position ledger.
package orders

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
	"github.com/mirror-labs/mirror_service/pkg/metrics"
)

// VenueStatus is the execution venue's verdict on a submission.
type VenueStatus string

const (
	VenueStatusMatched   VenueStatus = "matched"
	VenueStatusLive      VenueStatus = "live"
	VenueStatusUnmatched VenueStatus = "unmatched"
	VenueStatusCanceled  VenueStatus = "canceled"
)

// SubmitOrderRequest is the payload sent to the execution client.
type SubmitOrderRequest struct {
	AssetID        string
	Side           entities.OrderSide
	OrderType      entities.OrderType
	SizeUSDC       decimal.Decimal
	SizeShares     decimal.Decimal
	LimitPrice     decimal.Decimal
	MaxSlippageBps decimal.Decimal
}

// SubmitOrderResult is the venue's synchronous response. GTC orders may
// rest (live) and resolve later through OnFill/Cancel.
type SubmitOrderResult struct {
	Status       VenueStatus
	FillPrice    decimal.Decimal
	FilledShares decimal.Decimal
	Message      string
}

// ExecutionClient submits orders to the venue. Retry policy belongs to the
// client, not the manager: a terminal failure report is final here.
type ExecutionClient interface {
	SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*SubmitOrderResult, error)
}

// PositionLedger applies settled fills.
type PositionLedger interface {
	ApplyFill(ctx context.Context, sessionID uuid.UUID, assetID, sourceTrader string, side entities.OrderSide, shares, price decimal.Decimal, allowFullClose bool) (*entities.Position, error)
}

// Repository persists order rows for the query surface.
type Repository interface {
	SaveOrder(ctx context.Context, order *entities.CopyTradeOrder) error
	UpdateOrder(ctx context.Context, order *entities.CopyTradeOrder) error
}

// Publisher delivers CopyTradeUpdate events to subscribers.
type Publisher interface {
	Publish(update entities.CopyTradeUpdate)
}

// SubmitParams describes one approved mirror order.
type SubmitParams struct {
	Session     *entities.Session
	SourceTrade *entities.SourceTradeEvent
	Side        entities.OrderSide
	SizeUSDC    decimal.Decimal
	// SizeShares is required for sells; ignored for buys.
	SizeShares decimal.Decimal
	FullClose  bool
}

// Manager owns in-flight mirror orders.
type Manager struct {
	exec      ExecutionClient
	ledger    PositionLedger
	repo      Repository
	publisher Publisher
	logger    *zap.Logger

	// simSlippageBps is the deterministic slippage applied to simulated
	// fills; zero by default.
	simSlippageBps decimal.Decimal

	mu       sync.Mutex
	inFlight map[uuid.UUID]*entities.CopyTradeOrder
}

// NewManager creates an order lifecycle manager.
func NewManager(exec ExecutionClient, ledger PositionLedger, repo Repository, publisher Publisher, simSlippageBps decimal.Decimal, logger *zap.Logger) *Manager {
	return &Manager{
		exec:           exec,
		ledger:         ledger,
		repo:           repo,
		publisher:      publisher,
		simSlippageBps: simSlippageBps,
		logger:         logger,
		inFlight:       make(map[uuid.UUID]*entities.CopyTradeOrder),
	}
}

// Submit creates and executes one mirror order. Simulated sessions settle
// synchronously at the source price adjusted by the configured slippage;
// live FOK orders settle or fail on the venue response; live GTC orders
// may rest in submitted state and resolve through OnFill or Cancel.
func (m *Manager) Submit(ctx context.Context, params SubmitParams) (*entities.CopyTradeOrder, error) {
	sess := params.Session
	trade := params.SourceTrade

	order := &entities.CopyTradeOrder{
		ID:           uuid.New(),
		SessionID:    sess.ID,
		SourceTxHash: trade.TxHash,
		SourceTrader: trade.Trader,
		AssetID:      trade.AssetID,
		Side:         params.Side,
		OrderType:    sess.OrderType,
		Status:       entities.OrderStatusPending,
		Price:          trade.Price,
		SourcePrice:    trade.Price,
		SizeUSDC:       params.SizeUSDC,
		MaxSlippageBps: sess.MaxSlippageBps,
		SubmittedAt:    time.Now().UTC(),
	}
	if err := m.repo.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}
	m.emit(entities.UpdateOrderPlaced, order, "")
	metrics.OrdersSubmitted.WithLabelValues(string(params.Side)).Inc()

	if sess.Simulate {
		return m.settleSimulated(ctx, order, params)
	}
	return m.submitLive(ctx, order, params)
}

func (m *Manager) settleSimulated(ctx context.Context, order *entities.CopyTradeOrder, params SubmitParams) (*entities.CopyTradeOrder, error) {
	fillPrice := m.simulatedFillPrice(order)

	shares := params.SizeShares
	if order.Side == entities.OrderSideBuy {
		shares = order.SizeUSDC.Div(fillPrice)
	}

	slippage := slippageBps(order.Side, order.Price, fillPrice)
	if exceedsTolerance(slippage, params.Session.MaxSlippageBps) {
		return m.failOrder(ctx, order, "slippage_exceeded")
	}

	if _, err := m.ledger.ApplyFill(ctx, order.SessionID, order.AssetID, order.SourceTrader, order.Side, shares, fillPrice, params.FullClose); err != nil {
		return m.failOrder(ctx, order, err.Error())
	}

	order.Status = entities.OrderStatusSimulated
	order.FillPrice = fillPrice
	order.SizeShares = shares
	order.SizeUSDC = shares.Mul(fillPrice)
	order.SlippageBps = slippage
	m.resolve(ctx, order)
	m.emit(entities.UpdateOrderFilled, order, "")
	metrics.OrdersFilled.Inc()
	return order, nil
}

func (m *Manager) submitLive(ctx context.Context, order *entities.CopyTradeOrder, params SubmitParams) (*entities.CopyTradeOrder, error) {
	order.Status = entities.OrderStatusSubmitted
	if err := m.repo.UpdateOrder(ctx, order); err != nil {
		m.logger.Warn("failed to persist submitted order", zap.String("order_id", order.ID.String()), zap.Error(err))
	}

	m.mu.Lock()
	m.inFlight[order.ID] = order
	m.mu.Unlock()

	result, err := m.exec.SubmitOrder(ctx, SubmitOrderRequest{
		AssetID:        order.AssetID,
		Side:           order.Side,
		OrderType:      order.OrderType,
		SizeUSDC:       order.SizeUSDC,
		SizeShares:     params.SizeShares,
		LimitPrice:     order.Price,
		MaxSlippageBps: params.Session.MaxSlippageBps,
	})
	if err != nil {
		m.untrack(order.ID)
		return m.failOrder(ctx, order, fmt.Sprintf("submission failed: %v", err))
	}

	switch result.Status {
	case VenueStatusMatched:
		m.untrack(order.ID)
		return m.settle(ctx, order, params.Session.MaxSlippageBps, result.FillPrice, result.FilledShares, params.FullClose)
	case VenueStatusLive:
		// GTC resting on the book; stays submitted until a fill callback,
		// cancel, or timeout expiry.
		return order, nil
	default:
		m.untrack(order.ID)
		if order.OrderType == entities.OrderTypeFOK {
			return m.failOrder(ctx, order, "not_filled")
		}
		order.Status = entities.OrderStatusCanceled
		m.resolve(ctx, order)
		m.emit(entities.UpdateOrderFailed, order, result.Message)
		return order, nil
	}
}

// OnFill reconciles a fill callback for a resting order. Fills beyond the
// slippage tolerance fail the order and leave the ledger untouched:
// slippage protection holds at settlement, not just submission. A fill for
// an order that is not resting is a data-integrity fault.
func (m *Manager) OnFill(ctx context.Context, orderID uuid.UUID, fillPrice, filledShares decimal.Decimal) (*entities.CopyTradeOrder, error) {
	m.mu.Lock()
	order, ok := m.inFlight[orderID]
	m.mu.Unlock()
	if !ok {
		return nil, domainerrors.InvalidOrderStateError("unknown", "fill")
	}
	if order.Status != entities.OrderStatusSubmitted && order.Status != entities.OrderStatusPartial {
		return nil, domainerrors.InvalidOrderStateError(string(order.Status), "fill")
	}

	return m.settleResting(ctx, order, fillPrice, filledShares)
}

func (m *Manager) settleResting(ctx context.Context, order *entities.CopyTradeOrder, fillPrice, filledShares decimal.Decimal) (*entities.CopyTradeOrder, error) {
	slippage := slippageBps(order.Side, order.Price, fillPrice)
	if exceedsTolerance(slippage, order.MaxSlippageBps) {
		m.untrack(order.ID)
		return m.failOrder(ctx, order, "slippage_exceeded")
	}

	if _, err := m.ledger.ApplyFill(ctx, order.SessionID, order.AssetID, order.SourceTrader, order.Side, filledShares, fillPrice, false); err != nil {
		m.untrack(order.ID)
		return m.failOrder(ctx, order, err.Error())
	}

	order.SizeShares = order.SizeShares.Add(filledShares)
	order.FillPrice = fillPrice
	order.SlippageBps = slippage

	expected := order.ExpectedShares()
	if order.OrderType == entities.OrderTypeGTC && order.SizeShares.LessThan(expected.Sub(entities.ShareEpsilon)) {
		order.Status = entities.OrderStatusPartial
		if err := m.repo.UpdateOrder(ctx, order); err != nil {
			m.logger.Warn("failed to persist partial fill", zap.String("order_id", order.ID.String()), zap.Error(err))
		}
		m.emit(entities.UpdateOrderFilled, order, "")
		return order, nil
	}

	m.untrack(order.ID)
	order.Status = entities.OrderStatusFilled
	m.resolve(ctx, order)
	m.emit(entities.UpdateOrderFilled, order, "")
	metrics.OrdersFilled.Inc()
	return order, nil
}

// settle applies a synchronous venue fill.
func (m *Manager) settle(ctx context.Context, order *entities.CopyTradeOrder, maxSlippageBps, fillPrice, filledShares decimal.Decimal, fullClose bool) (*entities.CopyTradeOrder, error) {
	slippage := slippageBps(order.Side, order.Price, fillPrice)
	if exceedsTolerance(slippage, maxSlippageBps) {
		return m.failOrder(ctx, order, "slippage_exceeded")
	}

	if _, err := m.ledger.ApplyFill(ctx, order.SessionID, order.AssetID, order.SourceTrader, order.Side, filledShares, fillPrice, fullClose); err != nil {
		return m.failOrder(ctx, order, err.Error())
	}

	order.Status = entities.OrderStatusFilled
	order.FillPrice = fillPrice
	order.SizeShares = filledShares
	order.SizeUSDC = filledShares.Mul(fillPrice)
	order.SlippageBps = slippage
	m.resolve(ctx, order)
	m.emit(entities.UpdateOrderFilled, order, "")
	metrics.OrdersFilled.Inc()
	return order, nil
}

// OnReject marks a pending or resting order failed; the ledger is untouched.
func (m *Manager) OnReject(ctx context.Context, orderID uuid.UUID, reason string) (*entities.CopyTradeOrder, error) {
	m.mu.Lock()
	order, ok := m.inFlight[orderID]
	m.mu.Unlock()
	if !ok {
		return nil, domainerrors.InvalidOrderStateError("unknown", "reject")
	}
	if order.Status.IsTerminal() {
		return nil, domainerrors.InvalidOrderStateError(string(order.Status), "reject")
	}
	m.untrack(orderID)
	return m.failOrder(ctx, order, reason)
}

// Cancel transitions a resting GTC order to canceled (manual or timeout).
func (m *Manager) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*entities.CopyTradeOrder, error) {
	m.mu.Lock()
	order, ok := m.inFlight[orderID]
	m.mu.Unlock()
	if !ok {
		return nil, domainerrors.InvalidOrderStateError("unknown", "cancel")
	}
	if order.Status != entities.OrderStatusSubmitted && order.Status != entities.OrderStatusPartial {
		return nil, domainerrors.InvalidOrderStateError(string(order.Status), "cancel")
	}

	m.untrack(orderID)
	order.Status = entities.OrderStatusCanceled
	order.ErrorMessage = reason
	m.resolve(ctx, order)
	m.emit(entities.UpdateOrderFailed, order, reason)
	return order, nil
}

// ExpiredGTC lists resting GTC orders submitted before the cutoff.
func (m *Manager) ExpiredGTC(cutoff time.Time) []*entities.CopyTradeOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entities.CopyTradeOrder
	for _, order := range m.inFlight {
		if order.OrderType == entities.OrderTypeGTC && order.SubmittedAt.Before(cutoff) {
			out = append(out, order)
		}
	}
	return out
}

func (m *Manager) failOrder(ctx context.Context, order *entities.CopyTradeOrder, reason string) (*entities.CopyTradeOrder, error) {
	order.Status = entities.OrderStatusFailed
	order.ErrorMessage = reason
	m.resolve(ctx, order)
	m.emit(entities.UpdateOrderFailed, order, reason)
	metrics.OrdersFailed.WithLabelValues(reason).Inc()

	m.logger.Info("mirror order failed",
		zap.String("order_id", order.ID.String()),
		zap.String("session_id", order.SessionID.String()),
		zap.String("reason", reason),
	)
	return order, nil
}

func (m *Manager) resolve(ctx context.Context, order *entities.CopyTradeOrder) {
	now := time.Now().UTC()
	order.ResolvedAt = &now
	if err := m.repo.UpdateOrder(ctx, order); err != nil {
		m.logger.Warn("failed to persist order transition",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)),
			zap.Error(err),
		)
	}
}

func (m *Manager) untrack(orderID uuid.UUID) {
	m.mu.Lock()
	delete(m.inFlight, orderID)
	m.mu.Unlock()
}

func (m *Manager) emit(updateType entities.UpdateType, order *entities.CopyTradeOrder, reason string) {
	snapshot := *order
	m.publisher.Publish(entities.CopyTradeUpdate{
		Type:      updateType,
		SessionID: order.SessionID,
		Order:     &snapshot,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Manager) simulatedFillPrice(order *entities.CopyTradeOrder) decimal.Decimal {
	if m.simSlippageBps.IsZero() {
		return order.Price
	}
	adj := order.Price.Mul(m.simSlippageBps).Div(decimal.NewFromInt(10000))
	if order.Side == entities.OrderSideSell {
		return order.Price.Sub(adj)
	}
	return order.Price.Add(adj)
}

// slippageBps computes (fill - submitted) / submitted x 10000, signed so
// that positive is adverse for either side.
func slippageBps(side entities.OrderSide, submitted, fill decimal.Decimal) decimal.Decimal {
	if submitted.IsZero() {
		return decimal.Zero
	}
	bps := fill.Sub(submitted).Div(submitted).Mul(decimal.NewFromInt(10000))
	if side == entities.OrderSideSell {
		return bps.Neg()
	}
	return bps
}

// exceedsTolerance applies the absolute-value convention: slippage beyond
// the tolerance in either direction fails the order.
func exceedsTolerance(slippage, maxSlippageBps decimal.Decimal) bool {
	if !maxSlippageBps.IsPositive() {
		return false
	}
	return slippage.Abs().GreaterThan(maxSlippageBps)
}
