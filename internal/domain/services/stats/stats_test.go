package stats

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestCompute_WinRateCountsOnlyClosedPositions(t *testing.T) {
	sessID := uuid.New()
	sess := &entities.Session{
		ID:               sessID,
		RemainingCapital: d("800"),
		CreatedAt:        time.Now().Add(-90 * time.Second),
	}
	snap := &entities.SessionSnapshot{
		SessionID: sessID,
		Positions: []entities.Position{
			{AssetID: "won", NetShares: decimal.Zero, RealizedPnL: d("25")},
			{AssetID: "lost", NetShares: decimal.Zero, RealizedPnL: d("-10")},
			{AssetID: "flat", NetShares: decimal.Zero, RealizedPnL: decimal.Zero},
			// Open and in profit, but not yet a win.
			{AssetID: "open", NetShares: d("100"), CurrentPrice: d("0.60"), UnrealizedPnL: d("12")},
		},
		PositionsValue: d("200"),
		RealizedPnL:    d("15"),
		UnrealizedPnL:  d("12"),
	}

	st := Compute(sess, snap, nil, time.Now())

	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.True(t, st.WinRate.Equal(d("0.5")))
	assert.True(t, st.RealizedPnL.Equal(d("15")))
	assert.True(t, st.UnrealizedPnL.Equal(d("12")))
	// 200 deployed over 1000 equity.
	assert.True(t, st.CapitalUtilization.Equal(d("0.2")))
	assert.GreaterOrEqual(t, st.RuntimeSeconds, int64(90))
}

func TestCompute_SlippageOverFilledOrdersOnly(t *testing.T) {
	sess := &entities.Session{ID: uuid.New(), CreatedAt: time.Now()}
	orders := []entities.CopyTradeOrder{
		{Status: entities.OrderStatusFilled, SlippageBps: d("40")},
		{Status: entities.OrderStatusSimulated, SlippageBps: d("-20")},
		{Status: entities.OrderStatusFailed, SlippageBps: d("900")},
		{Status: entities.OrderStatusCanceled},
	}

	st := Compute(sess, &entities.SessionSnapshot{}, orders, time.Now())

	assert.Equal(t, 4, st.TotalOrders)
	assert.Equal(t, 2, st.FilledOrders)
	assert.Equal(t, 1, st.FailedOrders)
	// Averages use absolute slippage: (40 + 20) / 2.
	assert.True(t, st.AvgSlippageBps.Equal(d("30")))
	assert.True(t, st.MaxSlippageBps.Equal(d("40")))
}

func TestCompute_EmptySessionIsAllZeroes(t *testing.T) {
	sess := &entities.Session{ID: uuid.New(), RemainingCapital: d("1000"), CreatedAt: time.Now()}

	st := Compute(sess, &entities.SessionSnapshot{}, nil, time.Now())

	assert.Zero(t, st.TotalOrders)
	assert.True(t, st.WinRate.IsZero())
	assert.True(t, st.AvgSlippageBps.IsZero())
	assert.True(t, st.CapitalUtilization.IsZero())
}
