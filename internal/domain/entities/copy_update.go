package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UpdateType tags the CopyTradeUpdate union
type UpdateType string

const (
	UpdateOrderPlaced    UpdateType = "order_placed"
	UpdateOrderFilled    UpdateType = "order_filled"
	UpdateOrderFailed    UpdateType = "order_failed"
	UpdateSessionPaused  UpdateType = "session_paused"
	UpdateSessionResumed UpdateType = "session_resumed"
	UpdateSessionStopped UpdateType = "session_stopped"
	UpdateBalance        UpdateType = "balance_update"
)

// CopyTradeUpdate is the event published to subscribers on every state
// change. Emission is in order per session; delivery is best effort up to
// the subscriber's buffer.
type CopyTradeUpdate struct {
	Type      UpdateType      `json:"type"`
	SessionID uuid.UUID       `json:"session_id"`
	Order     *CopyTradeOrder `json:"order,omitempty"`
	// Reason is set on session_stopped and order_failed updates.
	Reason           string          `json:"reason,omitempty"`
	RemainingCapital decimal.Decimal `json:"remaining_capital,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}
