// Package riskgate decides, for one candidate source trade, whether and
// how large a mirror order should be. Evaluation is pure: no side effects,
// and identical inputs always produce the identical decision.
package riskgate

import (
	"github.com/shopspring/decimal"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
)

// RejectReason identifies the first failing check.
type RejectReason string

const (
	ReasonSessionNotRunning    RejectReason = "session_not_running"
	ReasonMaxLossBreached      RejectReason = "max_loss_breached"
	ReasonDuplicateSourceTrade RejectReason = "duplicate_source_trade"
	ReasonPriceOutOfBand       RejectReason = "price_out_of_band"
	ReasonBelowMinSourceUSDC   RejectReason = "below_min_source_usdc"
	ReasonMaxOpenPositions     RejectReason = "max_open_positions_reached"
	ReasonUtilizationCap       RejectReason = "utilization_cap_reached"
	ReasonBelowMinOrderUSDC    RejectReason = "below_min_order_usdc"
	ReasonNoPosition           RejectReason = "no_position"
)

// Decision is the gate's verdict on a candidate mirror trade.
type Decision struct {
	Approved bool
	Reason   RejectReason
	// SizeUSDC is the approved notional for buys.
	SizeUSDC decimal.Decimal
	// SellShares is the approved share quantity for sells.
	SellShares decimal.Decimal
	// FullClose marks a source-driven full exit; the ledger may close the
	// position to exactly zero even if proportional rounding oversells.
	FullClose bool
	// StopSession is set when the loss circuit breaker tripped; the
	// session must stop rather than merely skip the trade.
	StopSession bool
}

func reject(reason RejectReason) Decision {
	return Decision{Reason: reason}
}

// Gate evaluates candidate trades against session limits and ledger state.
type Gate struct {
	// MinOrderUSDC is the venue's order floor; approved sizes below it
	// are rejected instead of submitted.
	MinOrderUSDC decimal.Decimal
}

// New creates a gate with the given order floor.
func New(minOrderUSDC decimal.Decimal) Gate {
	return Gate{MinOrderUSDC: minOrderUSDC}
}

// Evaluate runs the checks in a fixed order so the first failing check
// deterministically produces the reject reason: session status, loss
// breaker, duplicate, price band, minimum notional, open-position count,
// utilization, sizing clamp. Exits (sells) are risk-reducing and skip the
// capital gates.
func (g Gate) Evaluate(sess *entities.Session, trade *entities.SourceTradeEvent, snap *entities.SessionSnapshot, duplicate bool) Decision {
	if sess.Status != entities.SessionStatusRunning {
		return reject(ReasonSessionNotRunning)
	}

	if g.MaxLossBreached(sess, snap) {
		return Decision{Reason: ReasonMaxLossBreached, StopSession: true}
	}

	if duplicate {
		return reject(ReasonDuplicateSourceTrade)
	}

	if trade.Side == entities.OrderSideSell {
		return g.evaluateSell(sess, trade, snap)
	}
	return g.evaluateBuy(sess, trade, snap)
}

func (g Gate) evaluateBuy(sess *entities.Session, trade *entities.SourceTradeEvent, snap *entities.SessionSnapshot) Decision {
	if trade.Price.LessThan(sess.MinSourcePrice) ||
		(sess.MaxSourcePrice.IsPositive() && trade.Price.GreaterThan(sess.MaxSourcePrice)) {
		return reject(ReasonPriceOutOfBand)
	}

	if trade.USDCAmount.LessThan(sess.MinSourceUSDC) {
		return reject(ReasonBelowMinSourceUSDC)
	}

	assetValue := decimal.Zero
	newPosition := true
	for i := range snap.Positions {
		p := &snap.Positions[i]
		if p.AssetID == trade.AssetID && p.IsOpen() {
			assetValue = p.CurrentValue()
			newPosition = false
			break
		}
	}

	if newPosition && sess.MaxOpenPositions > 0 && snap.OpenPositions >= sess.MaxOpenPositions {
		return reject(ReasonMaxOpenPositions)
	}

	headroom := g.utilizationHeadroom(sess, snap)
	if headroom.LessThanOrEqual(decimal.Zero) {
		return reject(ReasonUtilizationCap)
	}

	size := trade.USDCAmount.Mul(sess.CopyPct)
	if perAsset := sess.MaxPositionUSDC.Sub(assetValue); size.GreaterThan(perAsset) {
		size = perAsset
	}
	if size.GreaterThan(headroom) {
		size = headroom
	}
	if size.GreaterThan(sess.RemainingCapital) {
		size = sess.RemainingCapital
	}

	if size.LessThan(g.MinOrderUSDC) {
		return reject(ReasonBelowMinOrderUSDC)
	}

	return Decision{Approved: true, SizeUSDC: size}
}

// evaluateSell sizes a mirrored sell proportionally to the source's exit:
// held x sold/(sold+kept), clamped to held shares. A source full exit
// closes the whole position.
func (g Gate) evaluateSell(sess *entities.Session, trade *entities.SourceTradeEvent, snap *entities.SessionSnapshot) Decision {
	var pos *entities.Position
	for i := range snap.Positions {
		p := &snap.Positions[i]
		if p.AssetID == trade.AssetID && p.IsOpen() {
			pos = p
			break
		}
	}
	if pos == nil {
		return reject(ReasonNoPosition)
	}

	fullExit := trade.TraderShares.LessThanOrEqual(entities.ShareEpsilon)
	if fullExit {
		return Decision{
			Approved:   true,
			SellShares: pos.NetShares,
			SizeUSDC:   pos.NetShares.Mul(trade.Price),
			FullClose:  sess.MirrorClose,
		}
	}

	soldShares := trade.Shares()
	sourceBefore := soldShares.Add(trade.TraderShares)
	if sourceBefore.LessThanOrEqual(decimal.Zero) {
		return reject(ReasonNoPosition)
	}

	sellShares := pos.NetShares.Mul(soldShares).Div(sourceBefore)
	if sellShares.GreaterThan(pos.NetShares) {
		sellShares = pos.NetShares
	}
	if sellShares.LessThanOrEqual(entities.ShareEpsilon) {
		return reject(ReasonBelowMinOrderUSDC)
	}

	return Decision{
		Approved:   true,
		SellShares: sellShares,
		SizeUSDC:   sellShares.Mul(trade.Price),
	}
}

// utilizationHeadroom is the notional still allowed to be committed:
// utilization_cap x (remaining + positions_value) - positions_value.
func (g Gate) utilizationHeadroom(sess *entities.Session, snap *entities.SessionSnapshot) decimal.Decimal {
	capital := sess.RemainingCapital.Add(snap.PositionsValue)
	utilCap := sess.UtilizationCap
	if utilCap.IsZero() {
		utilCap = decimal.NewFromInt(1)
	}
	return capital.Mul(utilCap).Sub(snap.PositionsValue)
}

// MaxLossBreached checks cumulative loss against the session breaker:
// (positions_value + remaining - initial) / initial <= -max_loss_pct/100.
// The health check calls this directly so a breach is caught even when no
// trades arrive.
func (g Gate) MaxLossBreached(sess *entities.Session, snap *entities.SessionSnapshot) bool {
	if !sess.MaxLossPct.IsPositive() || !sess.InitialCapital.IsPositive() {
		return false
	}
	equity := snap.PositionsValue.Add(sess.RemainingCapital)
	lossFrac := equity.Sub(sess.InitialCapital).Div(sess.InitialCapital)
	threshold := sess.MaxLossPct.Div(decimal.NewFromInt(100)).Neg()
	return lossFrac.LessThanOrEqual(threshold)
}
