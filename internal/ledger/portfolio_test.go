package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot/internal/decision"
	"quantbot/internal/market"
)

func snapAt(prices map[string]float64) market.Snapshot {
	tickers := make(map[string]market.Ticker, len(prices))
	for sym, px := range prices {
		tickers[sym] = market.Ticker{Symbol: sym, Price: px}
	}
	return market.Snapshot{TakenAt: time.Now(), Tickers: tickers}
}

func openLong(t *testing.T, p *Portfolio, symbol string, size float64, lev int, price float64) Position {
	t.Helper()
	rep, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionLong, Symbol: symbol, Size: size, Leverage: lev,
	}}, snapAt(map[string]float64{symbol: price}))
	require.NoError(t, err)
	require.Len(t, rep.Opened, 1, "open rejected: %v", rep.Rejected)
	return rep.Opened[0]
}

func TestLiquidationPriceFormula(t *testing.T) {
	assert.InDelta(t, 90.0, LiquidationPrice(SideLong, 100, 10), 1e-9)
	assert.InDelta(t, 110.0, LiquidationPrice(SideShort, 100, 10), 1e-9)
	assert.InDelta(t, 0.0, LiquidationPrice(SideLong, 100, 1), 1e-9)
	assert.InDelta(t, 200.0, LiquidationPrice(SideShort, 100, 1), 1e-9)
}

func TestOpenDeductsMarginKeepsTotalValue(t *testing.T) {
	p := NewPortfolio(1000)
	pos := openLong(t, p, "BTC/USDT", 100, 10, 100)

	view := p.Snapshot()
	assert.InDelta(t, 900, view.Account.AvailableBalance, 1e-9)
	assert.InDelta(t, 100, view.Account.MarginUsed, 1e-9)
	assert.InDelta(t, 1000, view.Account.TotalValue, 1e-9)
	assert.InDelta(t, 90, pos.LiquidationPrice, 1e-9)
	assert.InDelta(t, 10, pos.Quantity, 1e-9) // 100*10/100
}

func TestDuplicateSymbolRejected(t *testing.T) {
	p := NewPortfolio(1000)
	openLong(t, p, "BTC/USDT", 100, 5, 100)
	rep, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionLong, Symbol: "BTC/USDT", Size: 100, Leverage: 5,
	}}, snapAt(map[string]float64{"BTC/USDT": 100}))
	require.NoError(t, err)
	assert.Empty(t, rep.Opened)
	require.Len(t, rep.Rejected, 1)
	assert.Contains(t, rep.Rejected[0], "重复开仓")
}

func TestInsufficientBalanceRejected(t *testing.T) {
	p := NewPortfolio(100)
	rep, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionLong, Symbol: "BTC/USDT", Size: 500, Leverage: 5,
	}}, snapAt(map[string]float64{"BTC/USDT": 100}))
	require.NoError(t, err)
	assert.Empty(t, rep.Opened)
	require.Len(t, rep.Rejected, 1)
}

func TestCloseRealizesPnlAndWritesCooldown(t *testing.T) {
	p := NewPortfolio(1000)
	pos := openLong(t, p, "BTC/USDT", 100, 10, 100)

	// 价格涨 5%，10 倍杠杆，pnl = (105-100)*10 = 50
	rep, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionClose, ClosePositionID: pos.ID,
	}}, snapAt(map[string]float64{"BTC/USDT": 105}))
	require.NoError(t, err)
	require.Len(t, rep.Closed, 1)
	trade := rep.Closed[0]
	assert.InDelta(t, 50, trade.RealizedPnl, 1e-9)
	assert.InDelta(t, 50, trade.PnlPct, 1e-9)
	assert.Equal(t, CloseReasonDecision, trade.Reason)

	view := p.Snapshot()
	assert.InDelta(t, 1050, view.Account.AvailableBalance, 1e-9)
	assert.InDelta(t, 1050, view.Account.TotalValue, 1e-9)
	assert.Empty(t, view.Positions)
	// 平仓后无论盈亏都进入冷却
	_, cooling := view.Cooldowns["BTC/USDT"]
	assert.True(t, cooling)
	require.Len(t, view.History, 1)
}

func TestCooldownBlocksReopen(t *testing.T) {
	p := NewPortfolio(1000)
	pos := openLong(t, p, "BTC/USDT", 100, 10, 100)
	_, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionClose, ClosePositionID: pos.ID,
	}}, snapAt(map[string]float64{"BTC/USDT": 100}))
	require.NoError(t, err)

	rep, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionLong, Symbol: "BTC/USDT", Size: 100, Leverage: 10,
	}}, snapAt(map[string]float64{"BTC/USDT": 100}))
	require.NoError(t, err)
	assert.Empty(t, rep.Opened)
	require.Len(t, rep.Rejected, 1)
	assert.Contains(t, rep.Rejected[0], "冷却期")
}

func TestCooldownExpires(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	p := NewPortfolio(1000, WithClock(clock), WithCooldown(time.Hour))
	pos := openLong(t, p, "BTC/USDT", 100, 10, 100)
	_, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionClose, ClosePositionID: pos.ID,
	}}, snapAt(map[string]float64{"BTC/USDT": 100}))
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	rep, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionLong, Symbol: "BTC/USDT", Size: 100, Leverage: 10,
	}}, snapAt(map[string]float64{"BTC/USDT": 100}))
	require.NoError(t, err)
	assert.Len(t, rep.Opened, 1)
}

func TestMarkPricesLiquidatesLong(t *testing.T) {
	p := NewPortfolio(1000)
	openLong(t, p, "BTC/USDT", 100, 10, 100)

	// 跌破强平价 90，按强平价结算，权益归零
	rep, err := p.MarkPrices(snapAt(map[string]float64{"BTC/USDT": 85}))
	require.NoError(t, err)
	require.Len(t, rep.Closed, 1)
	trade := rep.Closed[0]
	assert.Equal(t, CloseReasonLiquidation, trade.Reason)
	assert.InDelta(t, 90, trade.ExitPrice, 1e-9)
	assert.InDelta(t, -100, trade.RealizedPnl, 1e-9)

	view := p.Snapshot()
	assert.InDelta(t, 900, view.Account.AvailableBalance, 1e-9)
	assert.InDelta(t, 900, view.Account.TotalValue, 1e-9)
}

func TestMarkPricesLiquidatesShort(t *testing.T) {
	p := NewPortfolio(1000)
	rep, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionShort, Symbol: "ETH/USDT", Size: 100, Leverage: 10,
	}}, snapAt(map[string]float64{"ETH/USDT": 100}))
	require.NoError(t, err)
	require.Len(t, rep.Opened, 1)
	assert.InDelta(t, 110, rep.Opened[0].LiquidationPrice, 1e-9)

	mark, err := p.MarkPrices(snapAt(map[string]float64{"ETH/USDT": 115}))
	require.NoError(t, err)
	require.Len(t, mark.Closed, 1)
	assert.Equal(t, CloseReasonLiquidation, mark.Closed[0].Reason)
	assert.InDelta(t, -100, mark.Closed[0].RealizedPnl, 1e-9)
}

func TestMarkPricesStopLossAndTakeProfit(t *testing.T) {
	p := NewPortfolio(2000)
	rep, err := p.ApplyDecisions([]decision.Decision{
		{Action: decision.ActionLong, Symbol: "BTC/USDT", Size: 100, Leverage: 5, StopLoss: 95, TakeProfit: 120},
		{Action: decision.ActionLong, Symbol: "ETH/USDT", Size: 100, Leverage: 5, StopLoss: 80, TakeProfit: 110},
	}, snapAt(map[string]float64{"BTC/USDT": 100, "ETH/USDT": 100}))
	require.NoError(t, err)
	require.Len(t, rep.Opened, 2)

	mark, err := p.MarkPrices(snapAt(map[string]float64{"BTC/USDT": 94, "ETH/USDT": 112}))
	require.NoError(t, err)
	require.Len(t, mark.Closed, 2)
	reasons := map[string]string{}
	for _, tr := range mark.Closed {
		reasons[tr.Symbol] = tr.Reason
	}
	assert.Equal(t, CloseReasonStopLoss, reasons["BTC/USDT"])
	assert.Equal(t, CloseReasonTakeProfit, reasons["ETH/USDT"])
	// 止损按止损价结算，不是 mark 价
	for _, tr := range mark.Closed {
		if tr.Symbol == "BTC/USDT" {
			assert.InDelta(t, 95, tr.ExitPrice, 1e-9)
		}
	}
}

func TestMarkPricesUpdatesUnrealized(t *testing.T) {
	p := NewPortfolio(1000)
	openLong(t, p, "BTC/USDT", 100, 10, 100)

	_, err := p.MarkPrices(snapAt(map[string]float64{"BTC/USDT": 102}))
	require.NoError(t, err)
	view := p.Snapshot()
	require.Len(t, view.Positions, 1)
	assert.InDelta(t, 20, view.Positions[0].UnrealizedPnl, 1e-9) // (102-100)*10
	assert.InDelta(t, 1020, view.Account.TotalValue, 1e-9)
	assert.InDelta(t, 900, view.Account.AvailableBalance, 1e-9)
}

func TestManualClose(t *testing.T) {
	p := NewPortfolio(1000)
	pos := openLong(t, p, "BTC/USDT", 100, 10, 100)
	trade, err := p.ManualClose(pos.ID, snapAt(map[string]float64{"BTC/USDT": 101}))
	require.NoError(t, err)
	assert.Equal(t, CloseReasonManual, trade.Reason)
	assert.InDelta(t, 10, trade.RealizedPnl, 1e-9)

	_, err = p.ManualClose(pos.ID, snapAt(map[string]float64{"BTC/USDT": 101}))
	require.Error(t, err)
}

func TestManualCloseBeyondLiquidationClampsLoss(t *testing.T) {
	p := NewPortfolio(1000)
	pos := openLong(t, p, "BTC/USDT", 900, 10, 100) // 强平价 90

	// 价格跳空越过强平价：亏损封顶在保证金，权益不为负
	trade, err := p.ManualClose(pos.ID, snapAt(map[string]float64{"BTC/USDT": 70}))
	require.NoError(t, err)
	assert.InDelta(t, -900, trade.RealizedPnl, 1e-9)
	assert.InDelta(t, -100, trade.PnlPct, 1e-9)

	view := p.Snapshot()
	assert.InDelta(t, 100, view.Account.AvailableBalance, 1e-9)
	assert.InDelta(t, 100, view.Account.TotalValue, 1e-9)
}

func TestDecisionCloseBeyondLiquidationClampsLoss(t *testing.T) {
	p := NewPortfolio(1000)
	pos := openLong(t, p, "ETH/USDT", 100, 10, 100)

	rep, err := p.ApplyDecisions([]decision.Decision{{
		Action: decision.ActionClose, ClosePositionID: pos.ID,
	}}, snapAt(map[string]float64{"ETH/USDT": 50}))
	require.NoError(t, err)
	require.Len(t, rep.Closed, 1)
	assert.InDelta(t, -100, rep.Closed[0].RealizedPnl, 1e-9)

	view := p.Snapshot()
	assert.InDelta(t, 900, view.Account.AvailableBalance, 1e-9)
}

func TestResetRestoresInitialBalance(t *testing.T) {
	p := NewPortfolio(1000)
	openLong(t, p, "BTC/USDT", 100, 10, 100)
	p.Reset()
	view := p.Snapshot()
	assert.InDelta(t, 1000, view.Account.AvailableBalance, 1e-9)
	assert.InDelta(t, 1000, view.Account.TotalValue, 1e-9)
	assert.Empty(t, view.Positions)
	assert.Empty(t, view.Cooldowns)
	assert.Empty(t, view.History)
}

func TestRestoreRoundTrip(t *testing.T) {
	p := NewPortfolio(1000)
	openLong(t, p, "BTC/USDT", 100, 10, 100)
	_, err := p.MarkPrices(snapAt(map[string]float64{"BTC/USDT": 102}))
	require.NoError(t, err)
	saved := p.Snapshot()

	restored := NewPortfolio(1000)
	restored.Restore(saved)
	got := restored.Snapshot()
	assert.InDelta(t, saved.Account.TotalValue, got.Account.TotalValue, 1e-9)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, saved.Positions[0].ID, got.Positions[0].ID)

	// 恢复后继续 mark 不破坏恒等式
	_, err = restored.MarkPrices(snapAt(map[string]float64{"BTC/USDT": 103}))
	require.NoError(t, err)
}

func TestHoldAndMissingPriceNotes(t *testing.T) {
	p := NewPortfolio(1000)
	rep, err := p.ApplyDecisions([]decision.Decision{
		{Action: decision.ActionHold, Reasoning: "行情不明朗"},
		{Action: decision.ActionLong, Symbol: "DOGE/USDT", Size: 100, Leverage: 5},
	}, snapAt(map[string]float64{"BTC/USDT": 100}))
	require.NoError(t, err)
	assert.Len(t, rep.Notes, 1)
	require.Len(t, rep.Rejected, 1)
	assert.Contains(t, rep.Rejected[0], "缺少价格")
}
