package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirror-labs/mirror_service/internal/domain/entities"
	domainerrors "github.com/mirror-labs/mirror_service/internal/domain/errors"
	"github.com/mirror-labs/mirror_service/internal/domain/services/ledger"
	"github.com/mirror-labs/mirror_service/internal/domain/services/orders"
	"github.com/mirror-labs/mirror_service/internal/domain/services/riskgate"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

// mockOrders records submissions and fabricates a terminal order per the
// configured status. Execution callbacks hand back the preloaded resolved
// order.
type mockOrders struct {
	submissions []orders.SubmitParams
	status      entities.OrderStatus
	canceled    []uuid.UUID
	expired     []*entities.CopyTradeOrder
	resolved    *entities.CopyTradeOrder
}

func (m *mockOrders) Submit(ctx context.Context, params orders.SubmitParams) (*entities.CopyTradeOrder, error) {
	m.submissions = append(m.submissions, params)
	status := m.status
	if status == "" {
		if params.Session.Simulate {
			status = entities.OrderStatusSimulated
		} else {
			status = entities.OrderStatusFilled
		}
	}
	return &entities.CopyTradeOrder{
		ID:         uuid.New(),
		SessionID:  params.Session.ID,
		Side:       params.Side,
		Status:     status,
		SizeUSDC:   params.SizeUSDC,
		SizeShares: params.SizeShares,
		Price:      params.SourceTrade.Price,
	}, nil
}

func (m *mockOrders) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*entities.CopyTradeOrder, error) {
	m.canceled = append(m.canceled, orderID)
	for _, o := range m.expired {
		if o.ID == orderID {
			canceled := *o
			canceled.Status = entities.OrderStatusCanceled
			return &canceled, nil
		}
	}
	return nil, domainerrors.NotFoundError("ORDER")
}

func (m *mockOrders) OnFill(ctx context.Context, orderID uuid.UUID, fillPrice, filledShares decimal.Decimal) (*entities.CopyTradeOrder, error) {
	if m.resolved == nil || m.resolved.ID != orderID {
		return nil, domainerrors.NotFoundError("ORDER")
	}
	return m.resolved, nil
}

func (m *mockOrders) OnReject(ctx context.Context, orderID uuid.UUID, reason string) (*entities.CopyTradeOrder, error) {
	if m.resolved == nil || m.resolved.ID != orderID {
		return nil, domainerrors.NotFoundError("ORDER")
	}
	return m.resolved, nil
}

func (m *mockOrders) ExpiredGTC(cutoff time.Time) []*entities.CopyTradeOrder {
	return m.expired
}

type memDeduper struct {
	seen map[string]bool
}

func newMemDeduper() *memDeduper { return &memDeduper{seen: make(map[string]bool)} }

func (m *memDeduper) Seen(ctx context.Context, sessionID uuid.UUID, txHash string) (bool, error) {
	return m.seen[sessionID.String()+txHash], nil
}

func (m *memDeduper) Mark(ctx context.Context, sessionID uuid.UUID, txHash string) error {
	m.seen[sessionID.String()+txHash] = true
	return nil
}

type allowAllLimiter struct{ allow bool }

func (l *allowAllLimiter) Allow(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	return l.allow, nil
}

func (l *allowAllLimiter) Record(ctx context.Context, sessionID uuid.UUID) error {
	return nil
}

// countingLimiter tracks how much of the window budget has been consumed.
type countingLimiter struct {
	limit int
	used  int
}

func (l *countingLimiter) Allow(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	return l.used < l.limit, nil
}

func (l *countingLimiter) Record(ctx context.Context, sessionID uuid.UUID) error {
	l.used++
	return nil
}

type memSessionRepo struct {
	sessions map[uuid.UUID]entities.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uuid.UUID]entities.Session)}
}

func (m *memSessionRepo) SaveSession(ctx context.Context, sess *entities.Session) error {
	m.sessions[sess.ID] = *sess
	return nil
}

func (m *memSessionRepo) UpdateSession(ctx context.Context, sess *entities.Session) error {
	m.sessions[sess.ID] = *sess
	return nil
}

func (m *memSessionRepo) ListSessions(ctx context.Context) ([]entities.Session, error) {
	var out []entities.Session
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

type capturePublisher struct {
	updates []entities.CopyTradeUpdate
}

func (p *capturePublisher) Publish(update entities.CopyTradeUpdate) {
	p.updates = append(p.updates, update)
}

func (p *capturePublisher) byType(t entities.UpdateType) []entities.CopyTradeUpdate {
	var out []entities.CopyTradeUpdate
	for _, u := range p.updates {
		if u.Type == t {
			out = append(out, u)
		}
	}
	return out
}

type stubTraders struct {
	traders []string
}

func (s *stubTraders) TradersForList(ctx context.Context, listID string) ([]string, error) {
	return s.traders, nil
}

func (s *stubTraders) TopTraders(ctx context.Context, n int) ([]string, error) {
	if n < len(s.traders) {
		return s.traders[:n], nil
	}
	return s.traders, nil
}

type stubBalances struct {
	balance decimal.Decimal
}

func (s *stubBalances) Balance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	return s.balance, nil
}

type harness struct {
	engine *Engine
	orders *mockOrders
	ledger *ledger.Ledger
	repo   *memSessionRepo
	pub    *capturePublisher
	bal    *stubBalances
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mo := &mockOrders{}
	led := ledger.New(nil, zap.NewNop())
	repo := newMemSessionRepo()
	pub := &capturePublisher{}
	bal := &stubBalances{balance: decimal.NewFromInt(-1)}
	eng := NewEngine(
		riskgate.New(d("1")),
		mo,
		led,
		newMemDeduper(),
		&allowAllLimiter{allow: true},
		repo,
		pub,
		&stubTraders{traders: []string{"0xwhale"}},
		bal,
		Settings{
			MinOrderUSDC:           d("1"),
			DedupWindow:            30 * time.Second,
			CooldownDuration:       time.Minute,
			MaxConsecutiveFailures: 3,
			GTCTimeout:             time.Hour,
		},
		zap.NewNop(),
	)
	return &harness{engine: eng, orders: mo, ledger: led, repo: repo, pub: pub, bal: bal}
}

func listID(s string) *string { return &s }

func simRequest() *entities.CreateSessionRequest {
	return &entities.CreateSessionRequest{
		ListID:          listID("alpha"),
		CopyPct:         d("0.5"),
		InitialCapital:  d("1000"),
		MaxPositionUSDC: d("500"),
		MaxSlippageBps:  d("100"),
		OrderType:       entities.OrderTypeFOK,
		Simulate:        true,
		MaxLossPct:      d("20"),
	}
}

func whaleBuy(tx string) *entities.SourceTradeEvent {
	return &entities.SourceTradeEvent{
		TxHash:       tx,
		Trader:       "0xwhale",
		AssetID:      "asset-1",
		Side:         entities.OrderSideBuy,
		USDCAmount:   d("100"),
		Price:        d("0.50"),
		TraderShares: d("200"),
		Timestamp:    time.Now(),
	}
}

func TestEngine_CreateSessionValidation(t *testing.T) {
	topN := 5
	wallet := "w-1"

	tests := []struct {
		name   string
		mutate func(*entities.CreateSessionRequest)
	}{
		{"copy_pct below floor", func(r *entities.CreateSessionRequest) { r.CopyPct = d("0.01") }},
		{"copy_pct above ceiling", func(r *entities.CreateSessionRequest) { r.CopyPct = d("1.5") }},
		{"zero capital", func(r *entities.CreateSessionRequest) { r.InitialCapital = decimal.Zero }},
		{"both selectors", func(r *entities.CreateSessionRequest) { r.TopN = &topN }},
		{"neither selector", func(r *entities.CreateSessionRequest) { r.ListID = nil }},
		{"bad order type", func(r *entities.CreateSessionRequest) { r.OrderType = "IOC" }},
		{"live without wallet", func(r *entities.CreateSessionRequest) { r.Simulate = false }},
		{"utilization cap above 1", func(r *entities.CreateSessionRequest) { r.UtilizationCap = d("1.2") }},
		{"inverted price band", func(r *entities.CreateSessionRequest) {
			r.MinSourcePrice = d("0.8")
			r.MaxSourcePrice = d("0.2")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := simRequest()
			req.WalletID = &wallet
			if tt.name == "live without wallet" {
				req.WalletID = nil
			}
			tt.mutate(req)

			_, err := h.engine.CreateSession(context.Background(), req)
			assert.True(t, domainerrors.IsInvalidInput(err), "expected validation error, got %v", err)
		})
	}
}

func TestEngine_CreateSessionDefaults(t *testing.T) {
	h := newHarness(t)
	req := simRequest()
	req.OrderType = ""

	sess, err := h.engine.CreateSession(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, entities.SessionStatusRunning, sess.Status)
	assert.Equal(t, entities.OrderTypeFOK, sess.OrderType)
	assert.True(t, sess.UtilizationCap.Equal(d("1")))
	assert.Equal(t, 60, sess.HealthIntervalSecs)
	assert.True(t, sess.RemainingCapital.Equal(sess.InitialCapital))
	assert.Contains(t, h.repo.sessions, sess.ID)
}

func TestEngine_SourceTradeMirroredOnce(t *testing.T) {
	h := newHarness(t)
	sess, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)

	h.engine.HandleSourceTrade(context.Background(), whaleBuy("0xaaa"))
	require.Len(t, h.orders.submissions, 1)
	assert.True(t, h.orders.submissions[0].SizeUSDC.Equal(d("50"))) // 100 x 0.5

	ctrl, err := h.engine.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, ctrl.Session().RemainingCapital.Equal(d("950")))

	// Redelivery of the same tx hash is a no-op.
	h.engine.HandleSourceTrade(context.Background(), whaleBuy("0xaaa"))
	assert.Len(t, h.orders.submissions, 1)
	assert.True(t, ctrl.Session().RemainingCapital.Equal(d("950")))
}

func TestEngine_UnwatchedTraderIgnored(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)

	trade := whaleBuy("0xbbb")
	trade.Trader = "0xnobody"
	h.engine.HandleSourceTrade(context.Background(), trade)
	assert.Empty(t, h.orders.submissions)
}

func TestController_LifecycleTransitions(t *testing.T) {
	h := newHarness(t)
	sess, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)
	ctrl, err := h.engine.Get(sess.ID)
	require.NoError(t, err)
	ctx := context.Background()

	// Resume while running is a conflict.
	assert.True(t, domainerrors.IsConflict(ctrl.Resume(ctx)))

	require.NoError(t, ctrl.Pause(ctx))
	assert.Equal(t, entities.SessionStatusPaused, ctrl.Session().Status)

	// Paused sessions drop trades.
	h.engine.HandleSourceTrade(ctx, whaleBuy("0xpause"))
	assert.Empty(t, h.orders.submissions)

	require.NoError(t, ctrl.Resume(ctx))
	assert.Equal(t, entities.SessionStatusRunning, ctrl.Session().Status)

	require.NoError(t, ctrl.Stop(ctx, ""))
	stopped := ctrl.Session()
	assert.Equal(t, entities.SessionStatusStopped, stopped.Status)
	assert.Equal(t, entities.StopReasonUser, stopped.StopReason)

	// Stopped is terminal.
	assert.True(t, domainerrors.IsConflict(ctrl.Stop(ctx, "")))
	assert.True(t, domainerrors.IsConflict(ctrl.Pause(ctx)))
	assert.True(t, domainerrors.IsConflict(ctrl.Resume(ctx)))

	h.engine.HandleSourceTrade(ctx, whaleBuy("0xdead"))
	assert.Empty(t, h.orders.submissions)
}

func TestController_CooldownAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t)
	h.orders.status = entities.OrderStatusFailed
	_, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.engine.HandleSourceTrade(ctx, whaleBuy(fmt.Sprintf("0xfail-%d", i)))
	}
	require.Len(t, h.orders.submissions, 3)

	// Third failure opened the cooldown: the next trade is skipped without
	// reaching the order manager.
	h.engine.HandleSourceTrade(ctx, whaleBuy("0xduring-cooldown"))
	assert.Len(t, h.orders.submissions, 3)
}

func TestController_MaxLossStopsSession(t *testing.T) {
	h := newHarness(t)
	sess, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)
	ctrl, err := h.engine.Get(sess.ID)
	require.NoError(t, err)
	ctx := context.Background()

	// Burn capital: buy at 0.50 then mark down to 0.10. Equity becomes
	// 700 + 60 = 760 on 1000 initial, a 24% loss against a 20% breaker.
	_, err = h.ledger.ApplyFill(ctx, sess.ID, "asset-1", "0xwhale", entities.OrderSideBuy, d("600"), d("0.50"), false)
	require.NoError(t, err)
	h.ledger.MarkPrice(ctx, "asset-1", d("0.10"))
	ctrl.mu.Lock()
	ctrl.sess.RemainingCapital = d("700")
	ctrl.mu.Unlock()

	h.engine.HandleSourceTrade(ctx, whaleBuy("0xtrigger"))

	assert.Empty(t, h.orders.submissions)
	stopped := ctrl.Session()
	assert.Equal(t, entities.SessionStatusStopped, stopped.Status)
	assert.Equal(t, entities.StopReasonMaxLossBreached, stopped.StopReason)

	events := h.pub.byType(entities.UpdateSessionStopped)
	require.Len(t, events, 1)
	assert.Equal(t, entities.StopReasonMaxLossBreached, events[0].Reason)
}

func TestController_TakeProfitClosesPosition(t *testing.T) {
	h := newHarness(t)
	req := simRequest()
	tp := d("50")
	req.TakeProfitPct = &tp
	sess, err := h.engine.CreateSession(context.Background(), req)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.ledger.ApplyFill(ctx, sess.ID, "asset-1", "0xwhale", entities.OrderSideBuy, d("100"), d("0.40"), false)
	require.NoError(t, err)

	// +25% is below the 50% trigger.
	h.engine.HandlePriceTick(ctx, &entities.PriceTick{AssetID: "asset-1", Price: d("0.50")})
	assert.Empty(t, h.orders.submissions)

	// +75% crosses it: a full-close sell of all 100 shares.
	h.engine.HandlePriceTick(ctx, &entities.PriceTick{AssetID: "asset-1", Price: d("0.70")})
	require.Len(t, h.orders.submissions, 1)
	exit := h.orders.submissions[0]
	assert.Equal(t, entities.OrderSideSell, exit.Side)
	assert.True(t, exit.FullClose)
	assert.True(t, exit.SizeShares.Equal(d("100")))
	assert.True(t, exit.SourceTrade.Price.Equal(d("0.70")))
}

func TestController_StopLossClosesPosition(t *testing.T) {
	h := newHarness(t)
	req := simRequest()
	sl := d("30")
	req.StopLossPct = &sl
	sess, err := h.engine.CreateSession(context.Background(), req)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.ledger.ApplyFill(ctx, sess.ID, "asset-1", "0xwhale", entities.OrderSideBuy, d("100"), d("0.50"), false)
	require.NoError(t, err)

	h.engine.HandlePriceTick(ctx, &entities.PriceTick{AssetID: "asset-1", Price: d("0.30")}) // -40%
	require.Len(t, h.orders.submissions, 1)
	assert.Equal(t, entities.OrderSideSell, h.orders.submissions[0].Side)
	assert.True(t, h.orders.submissions[0].FullClose)
}

func TestController_MirrorCloseOnSourceExit(t *testing.T) {
	h := newHarness(t)
	req := simRequest()
	req.MirrorClose = true
	sess, err := h.engine.CreateSession(context.Background(), req)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.ledger.ApplyFill(ctx, sess.ID, "asset-1", "0xwhale", entities.OrderSideBuy, d("80"), d("0.50"), false)
	require.NoError(t, err)

	// An exit by a different trader does not touch the position.
	h.engine.HandleSourceExit(ctx, "0xother", "asset-1")
	assert.Empty(t, h.orders.submissions)

	h.engine.HandleSourceExit(ctx, "0xwhale", "asset-1")
	require.Len(t, h.orders.submissions, 1)
	assert.True(t, h.orders.submissions[0].FullClose)
	assert.True(t, h.orders.submissions[0].SizeShares.Equal(d("80")))
}

func TestController_HealthCheckSyncsLiveBalance(t *testing.T) {
	h := newHarness(t)
	wallet := "w-1"
	req := simRequest()
	req.Simulate = false
	req.WalletID = &wallet
	sess, err := h.engine.CreateSession(context.Background(), req)
	require.NoError(t, err)
	ctrl, err := h.engine.Get(sess.ID)
	require.NoError(t, err)

	h.bal.balance = d("842.50")
	h.engine.HealthCheckAll(context.Background())

	assert.True(t, ctrl.Session().RemainingCapital.Equal(d("842.50")))
	require.NotEmpty(t, h.pub.byType(entities.UpdateBalance))
}

func TestController_HealthCheckExpiresGTC(t *testing.T) {
	h := newHarness(t)
	sess, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)
	ctrl, err := h.engine.Get(sess.ID)
	require.NoError(t, err)

	stale := &entities.CopyTradeOrder{
		ID:        uuid.New(),
		SessionID: sess.ID,
		Side:      entities.OrderSideBuy,
		Status:    entities.OrderStatusSubmitted,
		SizeUSDC:  d("50"),
		Price:     d("0.50"),
	}
	h.orders.expired = []*entities.CopyTradeOrder{stale}

	before := ctrl.Session().RemainingCapital
	h.engine.HealthCheckAll(context.Background())

	require.Len(t, h.orders.canceled, 1)
	assert.Equal(t, stale.ID, h.orders.canceled[0])
	// Nothing filled, so the full reserved notional comes back.
	assert.True(t, ctrl.Session().RemainingCapital.Equal(before.Add(d("50"))))
}

func TestController_RateLimitSkipsTrade(t *testing.T) {
	mo := &mockOrders{}
	led := ledger.New(nil, zap.NewNop())
	repo := newMemSessionRepo()
	eng := NewEngine(
		riskgate.New(d("1")), mo, led, newMemDeduper(), &allowAllLimiter{allow: false},
		repo, &capturePublisher{}, &stubTraders{traders: []string{"0xwhale"}}, nil,
		Settings{MinOrderUSDC: d("1"), MaxConsecutiveFailures: 3, CooldownDuration: time.Minute},
		zap.NewNop(),
	)
	_, err := eng.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)

	eng.HandleSourceTrade(context.Background(), whaleBuy("0xlimited"))
	assert.Empty(t, mo.submissions)
}

func TestController_RateBudgetSpentOnlyOnSubmission(t *testing.T) {
	mo := &mockOrders{}
	led := ledger.New(nil, zap.NewNop())
	lim := &countingLimiter{limit: 10}
	eng := NewEngine(
		riskgate.New(d("1")), mo, led, newMemDeduper(), lim,
		newMemSessionRepo(), &capturePublisher{}, &stubTraders{traders: []string{"0xwhale"}}, nil,
		Settings{MinOrderUSDC: d("1"), MaxConsecutiveFailures: 3, CooldownDuration: time.Minute},
		zap.NewNop(),
	)
	_, err := eng.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)
	ctx := context.Background()

	// One genuine trade consumes exactly one slot.
	eng.HandleSourceTrade(ctx, whaleBuy("0xaaa"))
	require.Len(t, mo.submissions, 1)
	assert.Equal(t, 1, lim.used)

	// Redeliveries of the same tx hash are deduped before the limiter and
	// cost nothing, no matter how many arrive.
	for i := 0; i < 9; i++ {
		eng.HandleSourceTrade(ctx, whaleBuy("0xaaa"))
	}
	assert.Len(t, mo.submissions, 1)
	assert.Equal(t, 1, lim.used)

	// A trade the risk gate rejects (sized below the order floor) does not
	// touch the budget either.
	tiny := whaleBuy("0xtiny")
	tiny.USDCAmount = d("1") // 1 x 0.5 copy_pct = 0.50, under the 1 USDC floor
	eng.HandleSourceTrade(ctx, tiny)
	assert.Len(t, mo.submissions, 1)
	assert.Equal(t, 1, lim.used)

	// The budget is still open for the next genuine trade.
	eng.HandleSourceTrade(ctx, whaleBuy("0xbbb"))
	assert.Len(t, mo.submissions, 2)
	assert.Equal(t, 2, lim.used)
}

func TestEngine_ExecutionFillSettlesRestingSell(t *testing.T) {
	h := newHarness(t)
	sess, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)
	ctrl, err := h.engine.Get(sess.ID)
	require.NoError(t, err)

	h.orders.resolved = &entities.CopyTradeOrder{
		ID:         uuid.New(),
		SessionID:  sess.ID,
		Side:       entities.OrderSideSell,
		Status:     entities.OrderStatusFilled,
		Price:      d("0.55"),
		SizeUSDC:   d("22"),
		SizeShares: d("40"),
	}

	err = h.engine.HandleExecution(context.Background(), &entities.ExecutionReport{
		OrderID:      h.orders.resolved.ID,
		Status:       entities.ExecutionFilled,
		FillPrice:    d("0.60"),
		FilledShares: d("40"),
	})
	require.NoError(t, err)

	// 40 shares at 0.60 credit 24 USDC of proceeds.
	assert.True(t, ctrl.Session().RemainingCapital.Equal(d("1024")))
	require.NotEmpty(t, h.pub.byType(entities.UpdateBalance))
}

func TestEngine_ExecutionRejectRefundsRestingBuy(t *testing.T) {
	h := newHarness(t)
	sess, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)
	ctrl, err := h.engine.Get(sess.ID)
	require.NoError(t, err)

	h.orders.resolved = &entities.CopyTradeOrder{
		ID:         uuid.New(),
		SessionID:  sess.ID,
		Side:       entities.OrderSideBuy,
		Status:     entities.OrderStatusFailed,
		Price:      d("0.50"),
		SizeUSDC:   d("50"),
		SizeShares: decimal.Zero,
	}

	err = h.engine.HandleExecution(context.Background(), &entities.ExecutionReport{
		OrderID: h.orders.resolved.ID,
		Status:  entities.ExecutionRejected,
		Reason:  "insufficient liquidity",
	})
	require.NoError(t, err)

	// Nothing filled, so the whole 50 USDC reservation comes back.
	assert.True(t, ctrl.Session().RemainingCapital.Equal(d("1050")))
}

func TestEngine_RestoreSkipsStoppedSessions(t *testing.T) {
	h := newHarness(t)
	running, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)
	stopped, err := h.engine.CreateSession(context.Background(), simRequest())
	require.NoError(t, err)
	ctrl, err := h.engine.Get(stopped.ID)
	require.NoError(t, err)
	require.NoError(t, ctrl.Stop(context.Background(), ""))

	// Fresh engine over the same repository, as after a restart.
	restored := NewEngine(
		riskgate.New(d("1")), h.orders, h.ledger, newMemDeduper(), &allowAllLimiter{allow: true},
		h.repo, &capturePublisher{}, &stubTraders{traders: []string{"0xwhale"}}, nil,
		Settings{MinOrderUSDC: d("1")}, zap.NewNop(),
	)
	require.NoError(t, restored.Restore(context.Background()))

	_, err = restored.Get(running.ID)
	assert.NoError(t, err)
	_, err = restored.Get(stopped.ID)
	assert.True(t, domainerrors.IsNotFound(err))
}
