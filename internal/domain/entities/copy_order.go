package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a mirror order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus drives the mirror-order state machine:
// pending -> submitted -> {filled, partial, failed, canceled}.
// Simulated sessions short-circuit pending -> simulated.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusSimulated OrderStatus = "simulated"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusFailed, OrderStatusCanceled, OrderStatusSimulated:
		return true
	}
	return false
}

// CopyTradeOrder is one attempt to mirror a single source trade.
type CopyTradeOrder struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	SessionID    uuid.UUID   `json:"session_id" db:"session_id"`
	SourceTxHash string      `json:"source_tx_hash" db:"source_tx_hash"`
	SourceTrader string      `json:"source_trader" db:"source_trader"`
	AssetID      string      `json:"asset_id" db:"asset_id"`
	Side         OrderSide   `json:"side" db:"side"`
	OrderType    OrderType   `json:"order_type" db:"order_type"`
	Status       OrderStatus `json:"status" db:"status"`

	Price          decimal.Decimal `json:"price" db:"price"`
	SourcePrice    decimal.Decimal `json:"source_price" db:"source_price"`
	SizeUSDC       decimal.Decimal `json:"size_usdc" db:"size_usdc"`
	SizeShares     decimal.Decimal `json:"size_shares" db:"size_shares"`
	FillPrice      decimal.Decimal `json:"fill_price" db:"fill_price"`
	SlippageBps    decimal.Decimal `json:"slippage_bps" db:"slippage_bps"`
	MaxSlippageBps decimal.Decimal `json:"max_slippage_bps" db:"max_slippage_bps"`

	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	SubmittedAt  time.Time `json:"submitted_at" db:"submitted_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ExpectedShares is the share quantity the order targets at its submitted
// price; resting GTC orders compare cumulative fills against it.
func (o *CopyTradeOrder) ExpectedShares() decimal.Decimal {
	if o.Price.IsZero() {
		return decimal.Zero
	}
	return o.SizeUSDC.Div(o.Price)
}

// SourceTradeEvent is one observed trade by a watched source trader.
// Delivery is at-least-once; consumers dedupe by TxHash.
type SourceTradeEvent struct {
	TxHash     string          `json:"tx_hash"`
	Trader     string          `json:"trader"`
	AssetID    string          `json:"asset_id"`
	Side       OrderSide       `json:"side"`
	USDCAmount decimal.Decimal `json:"usdc_amount"`
	Price      decimal.Decimal `json:"price"`
	// Shares the source trader still holds in the asset after this trade,
	// zero on a full exit. Used for proportional sell sizing.
	TraderShares decimal.Decimal `json:"trader_shares"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Shares returns the share quantity implied by the trade notional.
func (e *SourceTradeEvent) Shares() decimal.Decimal {
	if e.Price.IsZero() {
		return decimal.Zero
	}
	return e.USDCAmount.Div(e.Price)
}

// ExecutionStatus tags a venue execution report for a resting order.
type ExecutionStatus string

const (
	ExecutionFilled   ExecutionStatus = "filled"
	ExecutionRejected ExecutionStatus = "rejected"
)

// ExecutionReport is the venue's asynchronous verdict on a resting GTC
// order: one (possibly partial) fill, or a rejection.
type ExecutionReport struct {
	OrderID      uuid.UUID       `json:"order_id"`
	Status       ExecutionStatus `json:"status"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	FilledShares decimal.Decimal `json:"filled_shares"`
	Reason       string          `json:"reason,omitempty"`
}

// PriceTick is a market price observation; last value wins per asset.
type PriceTick struct {
	AssetID   string          `json:"asset_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketResolution is the one-shot payout event for a resolved market.
type MarketResolution struct {
	AssetID        string          `json:"asset_id"`
	PayoutPerShare decimal.Decimal `json:"payout_per_share"`
}
