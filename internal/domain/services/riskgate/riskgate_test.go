package riskgate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func testSession() *entities.Session {
	return &entities.Session{
		ID:               uuid.New(),
		Status:           entities.SessionStatusRunning,
		CopyPct:          d("0.5"),
		MaxPositionUSDC:  d("100"),
		InitialCapital:   d("1000"),
		RemainingCapital: d("1000"),
		UtilizationCap:   d("1"),
		MaxOpenPositions: 10,
		MaxSourcePrice:   d("1"),
	}
}

func buyTrade(usdc, price string) *entities.SourceTradeEvent {
	return &entities.SourceTradeEvent{
		TxHash:     "0x1",
		Trader:     "0xabc",
		AssetID:    "asset-1",
		Side:       entities.OrderSideBuy,
		USDCAmount: d(usdc),
		Price:      d(price),
		Timestamp:  time.Now(),
	}
}

func emptySnapshot(sessionID uuid.UUID) *entities.SessionSnapshot {
	return &entities.SessionSnapshot{
		SessionID:      sessionID,
		PositionsValue: decimal.Zero,
	}
}

func TestGate_ApprovedSizeClampedByPositionCap(t *testing.T) {
	// copy_pct=0.5, max_position_usdc=100; a $300 source buy approves $100.
	sess := testSession()
	gate := New(d("1"))

	dec := gate.Evaluate(sess, buyTrade("300", "0.50"), emptySnapshot(sess.ID), false)

	require.True(t, dec.Approved)
	assert.True(t, dec.SizeUSDC.Equal(d("100")), "size %s", dec.SizeUSDC)
}

func TestGate_BelowMinSourceUSDC(t *testing.T) {
	sess := testSession()
	sess.MinSourceUSDC = d("50")
	gate := New(d("1"))

	dec := gate.Evaluate(sess, buyTrade("40", "0.50"), emptySnapshot(sess.ID), false)

	assert.False(t, dec.Approved)
	assert.Equal(t, ReasonBelowMinSourceUSDC, dec.Reason)
}

func TestGate_MaxLossBreachStopsSession(t *testing.T) {
	// max_loss_pct=20, initial=1000, equity 780 -> -22% loss trips the breaker.
	sess := testSession()
	sess.MaxLossPct = d("20")
	sess.RemainingCapital = d("500")
	snap := emptySnapshot(sess.ID)
	snap.PositionsValue = d("280")
	gate := New(d("1"))

	dec := gate.Evaluate(sess, buyTrade("100", "0.50"), snap, false)

	assert.False(t, dec.Approved)
	assert.Equal(t, ReasonMaxLossBreached, dec.Reason)
	assert.True(t, dec.StopSession)
}

func TestGate_RejectOrdering(t *testing.T) {
	gate := New(d("1"))

	tests := []struct {
		name     string
		mutate   func(*entities.Session, *entities.SourceTradeEvent, *entities.SessionSnapshot)
		dup      bool
		expected RejectReason
	}{
		{
			name: "paused session rejected before anything else",
			mutate: func(s *entities.Session, tr *entities.SourceTradeEvent, sn *entities.SessionSnapshot) {
				s.Status = entities.SessionStatusPaused
				tr.USDCAmount = d("0.01")
			},
			dup:      true,
			expected: ReasonSessionNotRunning,
		},
		{
			name:     "duplicate rejected before price band",
			mutate:   func(s *entities.Session, tr *entities.SourceTradeEvent, sn *entities.SessionSnapshot) { tr.Price = d("2") },
			dup:      true,
			expected: ReasonDuplicateSourceTrade,
		},
		{
			name: "price band before min notional",
			mutate: func(s *entities.Session, tr *entities.SourceTradeEvent, sn *entities.SessionSnapshot) {
				s.MinSourceUSDC = d("50")
				tr.USDCAmount = d("40")
				tr.Price = d("2")
			},
			expected: ReasonPriceOutOfBand,
		},
		{
			name: "open position count before utilization",
			mutate: func(s *entities.Session, tr *entities.SourceTradeEvent, sn *entities.SessionSnapshot) {
				s.MaxOpenPositions = 1
				sn.OpenPositions = 1
				sn.Positions = []entities.Position{openPosition(s.ID, "asset-other", "100", "0.50")}
				sn.PositionsValue = d("50")
				s.UtilizationCap = d("0.01")
				s.RemainingCapital = d("0")
			},
			expected: ReasonMaxOpenPositions,
		},
		{
			name: "utilization cap reached",
			mutate: func(s *entities.Session, tr *entities.SourceTradeEvent, sn *entities.SessionSnapshot) {
				s.UtilizationCap = d("0.5")
				s.RemainingCapital = d("400")
				sn.OpenPositions = 1
				sn.Positions = []entities.Position{openPosition(s.ID, "asset-other", "1000", "0.60")}
				sn.PositionsValue = d("600")
			},
			expected: ReasonUtilizationCap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := testSession()
			trade := buyTrade("300", "0.50")
			snap := emptySnapshot(sess.ID)
			tt.mutate(sess, trade, snap)

			dec := gate.Evaluate(sess, trade, snap, tt.dup)

			assert.False(t, dec.Approved)
			assert.Equal(t, tt.expected, dec.Reason)
		})
	}
}

func TestGate_Determinism(t *testing.T) {
	sess := testSession()
	trade := buyTrade("300", "0.50")
	snap := emptySnapshot(sess.ID)
	gate := New(d("1"))

	first := gate.Evaluate(sess, trade, snap, false)
	for i := 0; i < 10; i++ {
		dec := gate.Evaluate(sess, trade, snap, false)
		assert.Equal(t, first.Approved, dec.Approved)
		assert.True(t, first.SizeUSDC.Equal(dec.SizeUSDC))
	}
}

func TestGate_SellProportionalSizing(t *testing.T) {
	sess := testSession()
	snap := emptySnapshot(sess.ID)
	snap.OpenPositions = 1
	snap.Positions = []entities.Position{openPosition(sess.ID, "asset-1", "200", "0.50")}
	snap.PositionsValue = d("100")
	gate := New(d("1"))

	// Source sells 100 of 400 held (kept 300): we sell 200 x 100/400 = 50.
	trade := &entities.SourceTradeEvent{
		TxHash:       "0x2",
		Trader:       "0xabc",
		AssetID:      "asset-1",
		Side:         entities.OrderSideSell,
		USDCAmount:   d("50"), // 100 shares at 0.50
		Price:        d("0.50"),
		TraderShares: d("300"),
	}

	dec := gate.Evaluate(sess, trade, snap, false)
	require.True(t, dec.Approved)
	assert.True(t, dec.SellShares.Equal(d("50")), "shares %s", dec.SellShares)
	assert.False(t, dec.FullClose)
}

func TestGate_SellFullExitClosesPosition(t *testing.T) {
	sess := testSession()
	sess.MirrorClose = true
	snap := emptySnapshot(sess.ID)
	snap.OpenPositions = 1
	snap.Positions = []entities.Position{openPosition(sess.ID, "asset-1", "200", "0.50")}
	snap.PositionsValue = d("100")
	gate := New(d("1"))

	trade := &entities.SourceTradeEvent{
		TxHash:       "0x3",
		Trader:       "0xabc",
		AssetID:      "asset-1",
		Side:         entities.OrderSideSell,
		USDCAmount:   d("200"),
		Price:        d("0.50"),
		TraderShares: decimal.Zero,
	}

	dec := gate.Evaluate(sess, trade, snap, false)
	require.True(t, dec.Approved)
	assert.True(t, dec.SellShares.Equal(d("200")))
	assert.True(t, dec.FullClose)
}

func TestGate_SellWithoutPositionRejected(t *testing.T) {
	sess := testSession()
	gate := New(d("1"))

	trade := &entities.SourceTradeEvent{
		TxHash:     "0x4",
		Trader:     "0xabc",
		AssetID:    "asset-1",
		Side:       entities.OrderSideSell,
		USDCAmount: d("50"),
		Price:      d("0.50"),
	}

	dec := gate.Evaluate(sess, trade, emptySnapshot(sess.ID), false)
	assert.False(t, dec.Approved)
	assert.Equal(t, ReasonNoPosition, dec.Reason)
}

func openPosition(sessionID uuid.UUID, assetID, shares, price string) entities.Position {
	return entities.Position{
		SessionID:     sessionID,
		AssetID:       assetID,
		BuyShares:     d(shares),
		NetShares:     d(shares),
		AvgEntryPrice: d(price),
		CurrentPrice:  d(price),
	}
}
