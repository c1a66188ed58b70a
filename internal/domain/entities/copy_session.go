package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus represents the lifecycle state of a copy-trade session
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusPaused  SessionStatus = "paused"
	SessionStatusStopped SessionStatus = "stopped"
)

// OrderType represents how mirror orders are submitted to the venue
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK"
	OrderTypeGTC OrderType = "GTC"
)

// Stop reasons carried on SessionStopped updates. A circuit-breaker stop
// must be distinguishable from a user-initiated one.
const (
	StopReasonUser            = "user_requested"
	StopReasonMaxLossBreached = "max_loss_breached"
	StopReasonEmptyBalance    = "empty_balance"
)

// CopyPct bounds enforced at session creation
var (
	MinCopyPct = decimal.NewFromFloat(0.05)
	MaxCopyPct = decimal.NewFromInt(1)
)

// Session is a user's copy-trading configuration and running state.
// Exactly one of ListID or TopN selects the source traders; the choice is
// immutable after creation.
type Session struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	Status    SessionStatus `json:"status" db:"status"`
	ListID    *string       `json:"list_id,omitempty" db:"list_id"`
	TopN      *int          `json:"top_n,omitempty" db:"top_n"`
	OrderType OrderType     `json:"order_type" db:"order_type"`
	Simulate  bool          `json:"simulate" db:"simulate"`
	WalletID  *string       `json:"wallet_id,omitempty" db:"wallet_id"`

	CopyPct         decimal.Decimal `json:"copy_pct" db:"copy_pct"`
	MaxPositionUSDC decimal.Decimal `json:"max_position_usdc" db:"max_position_usdc"`
	MaxSlippageBps  decimal.Decimal `json:"max_slippage_bps" db:"max_slippage_bps"`

	InitialCapital   decimal.Decimal `json:"initial_capital" db:"initial_capital"`
	RemainingCapital decimal.Decimal `json:"remaining_capital" db:"remaining_capital"`

	MaxLossPct       decimal.Decimal  `json:"max_loss_pct" db:"max_loss_pct"`
	MinSourceUSDC    decimal.Decimal  `json:"min_source_usdc" db:"min_source_usdc"`
	UtilizationCap   decimal.Decimal  `json:"utilization_cap" db:"utilization_cap"`
	MaxOpenPositions int              `json:"max_open_positions" db:"max_open_positions"`
	MinSourcePrice   decimal.Decimal  `json:"min_source_price" db:"min_source_price"`
	MaxSourcePrice   decimal.Decimal  `json:"max_source_price" db:"max_source_price"`
	TakeProfitPct    *decimal.Decimal `json:"take_profit_pct,omitempty" db:"take_profit_pct"`
	StopLossPct      *decimal.Decimal `json:"stop_loss_pct,omitempty" db:"stop_loss_pct"`
	MirrorClose      bool             `json:"mirror_close" db:"mirror_close"`

	HealthIntervalSecs int    `json:"health_interval_secs" db:"health_interval_secs"`
	StopReason         string `json:"stop_reason,omitempty" db:"stop_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the session can never place another order.
func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusStopped
}

// CreateSessionRequest is the payload for creating a session
type CreateSessionRequest struct {
	ListID          *string         `json:"list_id"`
	TopN            *int            `json:"top_n"`
	CopyPct         decimal.Decimal `json:"copy_pct"`
	InitialCapital  decimal.Decimal `json:"initial_capital"`
	MaxPositionUSDC decimal.Decimal `json:"max_position_usdc"`
	MaxSlippageBps  decimal.Decimal `json:"max_slippage_bps"`
	OrderType       OrderType       `json:"order_type"`
	Simulate        bool            `json:"simulate"`
	WalletID        *string         `json:"wallet_id"`

	MaxLossPct       decimal.Decimal  `json:"max_loss_pct"`
	MinSourceUSDC    decimal.Decimal  `json:"min_source_usdc"`
	UtilizationCap   decimal.Decimal  `json:"utilization_cap"`
	MaxOpenPositions int              `json:"max_open_positions"`
	MinSourcePrice   decimal.Decimal  `json:"min_source_price"`
	MaxSourcePrice   decimal.Decimal  `json:"max_source_price"`
	TakeProfitPct    *decimal.Decimal `json:"take_profit_pct"`
	StopLossPct      *decimal.Decimal `json:"stop_loss_pct"`
	MirrorClose      bool             `json:"mirror_close"`

	HealthIntervalSecs int `json:"health_interval_secs"`
}

// StopSessionRequest carries an optional stop reason
type StopSessionRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is the standard API error body
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
