package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Position is one exposure to a single asset within one session, keyed by
// (session_id, asset_id). Created on first fill, never deleted; it is
// driven to net_shares ~= 0 (closed) or flagged resolved.
type Position struct {
	SessionID     uuid.UUID       `json:"session_id" db:"session_id"`
	AssetID       string          `json:"asset_id" db:"asset_id"`
	SourceTrader  string          `json:"source_trader" db:"source_trader"`
	BuyShares     decimal.Decimal `json:"buy_shares" db:"buy_shares"`
	SellShares    decimal.Decimal `json:"sell_shares" db:"sell_shares"`
	NetShares     decimal.Decimal `json:"net_shares" db:"net_shares"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price" db:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	Resolved      bool            `json:"resolved" db:"resolved"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// CostBasis is net_shares x avg_entry_price for a long position.
func (p *Position) CostBasis() decimal.Decimal {
	return p.NetShares.Mul(p.AvgEntryPrice)
}

// CurrentValue marks the open shares at the latest observed price.
func (p *Position) CurrentValue() decimal.Decimal {
	return p.NetShares.Mul(p.CurrentPrice)
}

// IsOpen reports whether the position still carries meaningful exposure.
// Dust below the share epsilon counts as closed.
func (p *Position) IsOpen() bool {
	return p.NetShares.GreaterThan(ShareEpsilon) && !p.Resolved
}

// ShareEpsilon is the dust threshold below which a position counts as closed.
var ShareEpsilon = decimal.NewFromFloat(0.001)

// SessionSnapshot is a read-only aggregate of a session's ledger state.
type SessionSnapshot struct {
	SessionID      uuid.UUID       `json:"session_id"`
	Positions      []Position      `json:"positions"`
	OpenPositions  int             `json:"open_positions"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
}

// SessionStats is the read projection over ledger and order history.
type SessionStats struct {
	SessionID          uuid.UUID       `json:"session_id"`
	TotalOrders        int             `json:"total_orders"`
	FilledOrders       int             `json:"filled_orders"`
	FailedOrders       int             `json:"failed_orders"`
	Wins               int             `json:"wins"`
	Losses             int             `json:"losses"`
	WinRate            decimal.Decimal `json:"win_rate"`
	AvgSlippageBps     decimal.Decimal `json:"avg_slippage_bps"`
	MaxSlippageBps     decimal.Decimal `json:"max_slippage_bps"`
	CapitalUtilization decimal.Decimal `json:"capital_utilization"`
	RealizedPnL        decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL      decimal.Decimal `json:"unrealized_pnl"`
	RuntimeSeconds     int64           `json:"runtime_seconds"`
}
