package ledger

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"quantbot/internal/decision"
	"quantbot/internal/logger"
	"quantbot/internal/market"
	symbolpkg "quantbot/internal/pkg/symbol"
	"quantbot/internal/pkg/trading"
)

// 中文说明：
// 模拟账本。无锁设计，调用方（Bot）用自己的互斥锁保证整个周期内独占访问。
// TotalValue 增量维护，每次变更后与全量重算比对，偏差超过容差视为致命错误。

const (
	invariantTolerance = 1e-6
	defaultMaxHistory  = 50
	defaultCooldown    = 4 * time.Hour
	defaultStepSize    = 0.001
)

// Portfolio 单个 bot 的持仓与余额状态。
type Portfolio struct {
	initialBalance float64
	available      float64
	totalValue     float64

	positions map[string]*Position // key: position ID
	bySymbol  map[string]string    // symbol -> position ID
	cooldowns map[string]time.Time // symbol -> 冷却截止
	history   []ClosedTrade

	cooldown   time.Duration
	maxHistory int
	stepSize   float64
	now        func() time.Time
}

// Option 账本可选配置。
type Option func(*Portfolio)

func WithCooldown(d time.Duration) Option {
	return func(p *Portfolio) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

func WithMaxHistory(n int) Option {
	return func(p *Portfolio) {
		if n > 0 {
			p.maxHistory = n
		}
	}
}

func WithStepSize(step float64) Option {
	return func(p *Portfolio) {
		if step > 0 {
			p.stepSize = step
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Portfolio) { p.now = now }
}

func NewPortfolio(initialBalance float64, opts ...Option) *Portfolio {
	p := &Portfolio{
		initialBalance: initialBalance,
		available:      initialBalance,
		totalValue:     initialBalance,
		positions:      make(map[string]*Position),
		bySymbol:       make(map[string]string),
		cooldowns:      make(map[string]time.Time),
		cooldown:       defaultCooldown,
		maxHistory:     defaultMaxHistory,
		stepSize:       defaultStepSize,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LiquidationPrice 逐仓近似强平价：long entry*(1-1/lev)，short entry*(1+1/lev)。
func LiquidationPrice(side string, entry float64, leverage int) float64 {
	if leverage <= 0 {
		return 0
	}
	switch side {
	case SideLong:
		return entry * (1 - 1/float64(leverage))
	case SideShort:
		return entry * (1 + 1/float64(leverage))
	}
	return 0
}

// ApplyDecisions 执行一组已验证的决策。结算价取传入的周期起点快照，
// 同一快照同时用于开仓成交价与平仓结算价，保证周期内账面一致。
func (p *Portfolio) ApplyDecisions(ds []decision.Decision, snap market.Snapshot) (Report, error) {
	var rep Report
	for i := range ds {
		d := ds[i]
		switch d.NormalizedAction() {
		case decision.ActionHold:
			rep.note("hold: %s", d.Reasoning)
		case decision.ActionClose:
			p.applyClose(&rep, d, snap)
		case decision.ActionLong, decision.ActionShort:
			p.applyOpen(&rep, d, snap)
		default:
			rep.reject("未知动作 %q", d.Action)
		}
	}
	if err := p.checkInvariant(); err != nil {
		return rep, err
	}
	return rep, nil
}

func (p *Portfolio) applyOpen(rep *Report, d decision.Decision, snap market.Snapshot) {
	symbol := symbolpkg.Normalize(d.Symbol)
	price, ok := snap.Price(symbol)
	if !ok || price <= 0 {
		rep.reject("%s: 快照缺少价格，放弃开仓", symbol)
		return
	}
	if _, exists := p.bySymbol[symbol]; exists {
		rep.reject("%s: 已有持仓，拒绝重复开仓", symbol)
		return
	}
	if until, ok := p.cooldowns[symbol]; ok && p.now().Before(until) {
		rep.reject("%s: 冷却期至 %s，拒绝开仓", symbol, until.Format(time.RFC3339))
		return
	}
	if d.Size > p.available {
		rep.reject("%s: 保证金 %.2f 超过可用余额 %.2f", symbol, d.Size, p.available)
		return
	}
	qty := trading.Quantity(d.Size, d.Leverage, price, p.stepSize)
	if qty <= 0 {
		rep.reject("%s: 计算数量为 0（size=%.2f lev=%d price=%.4f）", symbol, d.Size, d.Leverage, price)
		return
	}
	side := d.NormalizedAction()
	pos := &Position{
		ID:               uuid.NewString(),
		Symbol:           symbol,
		Side:             side,
		EntryPrice:       price,
		Quantity:         qty,
		Margin:           d.Size,
		Leverage:         d.Leverage,
		LiquidationPrice: LiquidationPrice(side, price, d.Leverage),
		StopLoss:         d.StopLoss,
		TakeProfit:       d.TakeProfit,
		OpenedAt:         p.now(),
	}
	p.positions[pos.ID] = pos
	p.bySymbol[symbol] = pos.ID
	// 保证金从可用余额划转，总值不变，p.totalValue 不动
	p.available -= d.Size
	rep.Opened = append(rep.Opened, *pos)
	logger.Infof("ledger: opened %s %s margin=%.2f lev=%d entry=%.4f liq=%.4f",
		side, symbol, d.Size, d.Leverage, price, pos.LiquidationPrice)
}

func (p *Portfolio) applyClose(rep *Report, d decision.Decision, snap market.Snapshot) {
	pos, ok := p.positions[d.ClosePositionID]
	if !ok {
		rep.reject("close: 持仓 %s 不存在", d.ClosePositionID)
		return
	}
	price, ok := snap.Price(pos.Symbol)
	if !ok || price <= 0 {
		rep.reject("close %s: 快照缺少 %s 价格", pos.ID, pos.Symbol)
		return
	}
	trade := p.settle(pos, price, CloseReasonDecision)
	rep.Closed = append(rep.Closed, trade)
}

// settle 按给定价格结清一笔持仓：余额收回保证金与已实现盈亏，写冷却，入历史环。
func (p *Portfolio) settle(pos *Position, price float64, reason string) ClosedTrade {
	pnl := positionPnl(pos, price)
	if reason == CloseReasonLiquidation || pnl < -pos.Margin {
		// 逐仓权益不为负：强平按强平价结算，结算价越过强平价时同样只亏掉保证金
		pnl = -pos.Margin
	}
	trade := ClosedTrade{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Reason:      reason,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   price,
		Margin:      pos.Margin,
		Leverage:    pos.Leverage,
		RealizedPnl: pnl,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    p.now(),
	}
	if pos.Margin > 0 {
		trade.PnlPct = pnl / pos.Margin * 100
	}
	p.available += pos.Margin + pnl
	p.totalValue += pnl - pos.UnrealizedPnl
	delete(p.positions, pos.ID)
	delete(p.bySymbol, pos.Symbol)
	// 每次平仓都写冷却，无论盈亏
	p.cooldowns[pos.Symbol] = p.now().Add(p.cooldown)
	p.pushHistory(trade)
	logger.Infof("ledger: closed %s %s reason=%s exit=%.4f pnl=%.2f (%.2f%%)",
		pos.Side, pos.Symbol, reason, price, pnl, trade.PnlPct)
	return trade
}

// MarkPrices 用最新快照刷新未实现盈亏，并触发强平 / 止损 / 止盈。
// 触发优先级：强平 > 止损 > 止盈。强平按强平价结算，止损止盈按触发价结算。
func (p *Portfolio) MarkPrices(snap market.Snapshot) (Report, error) {
	var rep Report
	for _, id := range p.sortedPositionIDs() {
		pos := p.positions[id]
		price, ok := snap.Price(pos.Symbol)
		if !ok || price <= 0 {
			rep.note("%s: 快照缺少价格，跳过 mark", pos.Symbol)
			continue
		}
		switch {
		case p.liquidated(pos, price):
			trade := p.settle(pos, pos.LiquidationPrice, CloseReasonLiquidation)
			rep.Closed = append(rep.Closed, trade)
			logger.Warnf("ledger: liquidation %s %s mark=%.4f liq=%.4f", pos.Side, pos.Symbol, price, pos.LiquidationPrice)
		case stopHit(pos, price):
			trade := p.settle(pos, pos.StopLoss, CloseReasonStopLoss)
			rep.Closed = append(rep.Closed, trade)
		case targetHit(pos, price):
			trade := p.settle(pos, pos.TakeProfit, CloseReasonTakeProfit)
			rep.Closed = append(rep.Closed, trade)
		default:
			fresh := positionPnl(pos, price)
			p.totalValue += fresh - pos.UnrealizedPnl
			pos.UnrealizedPnl = fresh
		}
	}
	if err := p.checkInvariant(); err != nil {
		return rep, err
	}
	return rep, nil
}

func (p *Portfolio) liquidated(pos *Position, price float64) bool {
	if pos.LiquidationPrice <= 0 {
		return false
	}
	if pos.Side == SideLong {
		return price <= pos.LiquidationPrice
	}
	return price >= pos.LiquidationPrice
}

func stopHit(pos *Position, price float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Side == SideLong {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

func targetHit(pos *Position, price float64) bool {
	if pos.TakeProfit <= 0 {
		return false
	}
	if pos.Side == SideLong {
		return price >= pos.TakeProfit
	}
	return price <= pos.TakeProfit
}

func positionPnl(pos *Position, price float64) float64 {
	if pos.Side == SideLong {
		return (price - pos.EntryPrice) * pos.Quantity
	}
	return (pos.EntryPrice - price) * pos.Quantity
}

// ManualClose 操作员强制平仓，按快照价结算。
func (p *Portfolio) ManualClose(positionID string, snap market.Snapshot) (ClosedTrade, error) {
	pos, ok := p.positions[positionID]
	if !ok {
		return ClosedTrade{}, fmt.Errorf("持仓 %s 不存在", positionID)
	}
	price, ok := snap.Price(pos.Symbol)
	if !ok || price <= 0 {
		return ClosedTrade{}, fmt.Errorf("快照缺少 %s 价格", pos.Symbol)
	}
	trade := p.settle(pos, price, CloseReasonManual)
	if err := p.checkInvariant(); err != nil {
		return trade, err
	}
	return trade, nil
}

// Reset 清空持仓与历史，余额恢复到初始值。冷却表一并清空。
func (p *Portfolio) Reset() {
	p.available = p.initialBalance
	p.totalValue = p.initialBalance
	p.positions = make(map[string]*Position)
	p.bySymbol = make(map[string]string)
	p.cooldowns = make(map[string]time.Time)
	p.history = nil
	logger.Infof("ledger: reset to initial balance %.2f", p.initialBalance)
}

// Snapshot 返回只读视图。过期冷却条目被剔除。
func (p *Portfolio) Snapshot() View {
	now := p.now()
	view := View{
		Account:   p.account(),
		Positions: make([]Position, 0, len(p.positions)),
		Cooldowns: make(map[string]time.Time),
		History:   append([]ClosedTrade(nil), p.history...),
	}
	for _, id := range p.sortedPositionIDs() {
		view.Positions = append(view.Positions, *p.positions[id])
	}
	for sym, until := range p.cooldowns {
		if now.Before(until) {
			view.Cooldowns[sym] = until
		}
	}
	return view
}

// Restore 从持久化视图恢复状态。仅在启动时调用。
func (p *Portfolio) Restore(view View) {
	p.available = view.Account.AvailableBalance
	p.positions = make(map[string]*Position, len(view.Positions))
	p.bySymbol = make(map[string]string, len(view.Positions))
	for i := range view.Positions {
		pos := view.Positions[i]
		p.positions[pos.ID] = &pos
		p.bySymbol[pos.Symbol] = pos.ID
	}
	p.cooldowns = make(map[string]time.Time, len(view.Cooldowns))
	for sym, until := range view.Cooldowns {
		p.cooldowns[sym] = until
	}
	p.history = append([]ClosedTrade(nil), view.History...)
	marginUsed, upnl := 0.0, 0.0
	for _, pos := range p.positions {
		marginUsed += pos.Margin
		upnl += pos.UnrealizedPnl
	}
	p.totalValue = p.available + marginUsed + upnl
}

// ActiveCooldowns 当前仍生效的冷却表。
func (p *Portfolio) ActiveCooldowns() map[string]time.Time {
	now := p.now()
	out := make(map[string]time.Time)
	for sym, until := range p.cooldowns {
		if now.Before(until) {
			out[sym] = until
		}
	}
	return out
}

// PositionBySymbol 按币种查持仓。
func (p *Portfolio) PositionBySymbol(symbol string) (Position, bool) {
	id, ok := p.bySymbol[symbolpkg.Normalize(symbol)]
	if !ok {
		return Position{}, false
	}
	return *p.positions[id], true
}

func (p *Portfolio) account() Account {
	marginUsed, upnl := 0.0, 0.0
	for _, pos := range p.positions {
		marginUsed += pos.Margin
		upnl += pos.UnrealizedPnl
	}
	return Account{
		AvailableBalance: p.available,
		MarginUsed:       marginUsed,
		UnrealizedPnl:    upnl,
		TotalValue:       p.totalValue,
	}
}

func (p *Portfolio) sortedPositionIDs() []string {
	ids := make([]string, 0, len(p.positions))
	for id := range p.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return p.positions[ids[i]].OpenedAt.Before(p.positions[ids[j]].OpenedAt)
	})
	return ids
}

func (p *Portfolio) pushHistory(trade ClosedTrade) {
	p.history = append(p.history, trade)
	if len(p.history) > p.maxHistory {
		p.history = p.history[len(p.history)-p.maxHistory:]
	}
}

func (p *Portfolio) checkInvariant() error {
	acct := p.account()
	recomputed := acct.AvailableBalance + acct.MarginUsed + acct.UnrealizedPnl
	if math.Abs(acct.TotalValue-recomputed) > invariantTolerance {
		return &InvariantError{Tracked: acct.TotalValue, Recomputed: recomputed}
	}
	if acct.AvailableBalance < -invariantTolerance {
		return &InvariantError{Tracked: acct.AvailableBalance, Recomputed: 0}
	}
	return nil
}
