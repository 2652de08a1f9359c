package ledger

import (
	"fmt"
	"time"
)

// 持仓方向与平仓原因常量。
const (
	SideLong  = "long"
	SideShort = "short"

	CloseReasonDecision    = "decision"
	CloseReasonManual      = "manual"
	CloseReasonLiquidation = "liquidation"
	CloseReasonStopLoss    = "stop_loss"
	CloseReasonTakeProfit  = "take_profit"
)

// Position 一笔模拟持仓。Margin 为占用保证金（USD），Quantity 为合约数量。
type Position struct {
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	Side             string    `json:"side"`
	EntryPrice       float64   `json:"entry_price"`
	Quantity         float64   `json:"quantity"`
	Margin           float64   `json:"margin"`
	Leverage         int       `json:"leverage"`
	LiquidationPrice float64   `json:"liquidation_price"`
	StopLoss         float64   `json:"stop_loss,omitempty"`
	TakeProfit       float64   `json:"take_profit,omitempty"`
	UnrealizedPnl    float64   `json:"unrealized_pnl"`
	OpenedAt         time.Time `json:"opened_at"`
}

// ClosedTrade 已平仓记录，进入历史环后用于决策回顾。
type ClosedTrade struct {
	PositionID  string    `json:"position_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Reason      string    `json:"reason"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Margin      float64   `json:"margin"`
	Leverage    int       `json:"leverage"`
	RealizedPnl float64   `json:"realized_pnl"`
	PnlPct      float64   `json:"pnl_pct"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
}

// Account 账户三元组。恒等式 TotalValue = Available + Σmargin + Σunrealized。
type Account struct {
	AvailableBalance float64 `json:"available_balance"`
	MarginUsed       float64 `json:"margin_used"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	TotalValue       float64 `json:"total_value"`
}

// View 组合快照，喂给 prompt 构建与持久化。
type View struct {
	Account   Account              `json:"account"`
	Positions []Position           `json:"positions"`
	Cooldowns map[string]time.Time `json:"cooldowns,omitempty"`
	History   []ClosedTrade        `json:"history,omitempty"`
}

// Report 一次 ApplyDecisions / MarkPrices 的结果汇总。
type Report struct {
	Opened   []Position    `json:"opened,omitempty"`
	Closed   []ClosedTrade `json:"closed,omitempty"`
	Rejected []string      `json:"rejected,omitempty"`
	Notes    []string      `json:"notes,omitempty"`
}

func (r *Report) reject(format string, args ...any) {
	r.Rejected = append(r.Rejected, fmt.Sprintf(format, args...))
}

func (r *Report) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// InvariantError 账户恒等式被破坏。出现即为致命错误，调用方应停掉该 bot。
type InvariantError struct {
	Tracked    float64
	Recomputed float64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("账户恒等式被破坏: tracked=%.8f recomputed=%.8f", e.Tracked, e.Recomputed)
}
