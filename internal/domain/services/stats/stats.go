// Package stats computes the read-only performance projection for a
// session from its ledger snapshot and order history. Nothing here feeds
// back into trading decisions.
package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
)

// Compute derives SessionStats at the given instant. A position counts as
// a win or loss only once it is closed or resolved, by the sign of its
// realized P&L; open positions contribute to utilization and unrealized
// P&L but not to the win rate. Slippage aggregates cover filled and
// simulated orders only.
func Compute(sess *entities.Session, snap *entities.SessionSnapshot, orders []entities.CopyTradeOrder, now time.Time) *entities.SessionStats {
	st := &entities.SessionStats{
		SessionID:          sess.ID,
		WinRate:            decimal.Zero,
		AvgSlippageBps:     decimal.Zero,
		MaxSlippageBps:     decimal.Zero,
		CapitalUtilization: decimal.Zero,
		RealizedPnL:        snap.RealizedPnL,
		UnrealizedPnL:      snap.UnrealizedPnL,
		RuntimeSeconds:     int64(now.Sub(sess.CreatedAt).Seconds()),
	}
	if st.RuntimeSeconds < 0 {
		st.RuntimeSeconds = 0
	}

	slippageSum := decimal.Zero
	slippageCount := 0
	for i := range orders {
		o := &orders[i]
		st.TotalOrders++
		switch o.Status {
		case entities.OrderStatusFilled, entities.OrderStatusSimulated:
			st.FilledOrders++
			abs := o.SlippageBps.Abs()
			slippageSum = slippageSum.Add(abs)
			slippageCount++
			if abs.GreaterThan(st.MaxSlippageBps) {
				st.MaxSlippageBps = abs
			}
		case entities.OrderStatusFailed:
			st.FailedOrders++
		}
	}
	if slippageCount > 0 {
		st.AvgSlippageBps = slippageSum.Div(decimal.NewFromInt(int64(slippageCount)))
	}

	for i := range snap.Positions {
		p := &snap.Positions[i]
		if p.IsOpen() {
			continue
		}
		switch {
		case p.RealizedPnL.IsPositive():
			st.Wins++
		case p.RealizedPnL.IsNegative():
			st.Losses++
		}
	}
	if closed := st.Wins + st.Losses; closed > 0 {
		st.WinRate = decimal.NewFromInt(int64(st.Wins)).Div(decimal.NewFromInt(int64(closed)))
	}

	if equity := sess.RemainingCapital.Add(snap.PositionsValue); equity.IsPositive() {
		st.CapitalUtilization = snap.PositionsValue.Div(equity)
	}

	return st
}
