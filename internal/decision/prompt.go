package decision

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"quantbot/internal/market"
)

// 中文说明：
// Prompt 构建：把账户/持仓/行情/冷却期/历史决策渲染为 system+user 提示词。
// system 固定描述协议（分析请求 vs 决策数组的二选一输出约定），user 承载状态。

// AccountState 提供给模型的账户概要。
type AccountState struct {
	AvailableBalance float64 `json:"available_balance"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	TotalValue       float64 `json:"total_value"`
}

// PositionState 提供给模型的仓位摘要。
type PositionState struct {
	ID               string  `json:"id"`
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	EntryPrice       float64 `json:"entry_price"`
	MarginSize       float64 `json:"margin_size"`
	Leverage         int     `json:"leverage"`
	LiquidationPrice float64 `json:"liquidation_price"`
	StopLoss         float64 `json:"stop_loss,omitempty"`
	TakeProfit       float64 `json:"take_profit,omitempty"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
}

// CooldownState 活跃冷却期。
type CooldownState struct {
	Symbol string    `json:"symbol"`
	Until  time.Time `json:"until"`
}

// HistoryNote 历史决策摘要（来自决策日志，最新在前）。
type HistoryNote struct {
	At      time.Time
	Summary string
	Success bool
}

// PromptInput 构建一轮初始提示词所需的全部状态。
type PromptInput struct {
	BotName           string
	Persona           string
	Account           AccountState
	Positions         []PositionState
	Cooldowns         []CooldownState
	Market            market.Snapshot
	Overview          string // 指标概览（来自 indicator 报告）
	History           []HistoryNote
	ToolCatalog       string
	MaxAnalysisRounds int
}

// BuildSystemPrompt 渲染协议说明与工具目录。
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder
	persona := strings.TrimSpace(in.Persona)
	if persona == "" {
		persona = "You are a disciplined quantitative futures trader managing an isolated capital pool."
	}
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString("Each cycle you must reply with EXACTLY ONE of:\n")
	b.WriteString("1. A single JSON object requesting one analytics tool:\n")
	b.WriteString(`   {"tool":"<name>","parameters":{...},"reasoning":"..."}` + "\n")
	b.WriteString("2. A JSON array of final decisions (possibly empty, [] means hold):\n")
	b.WriteString(`   [{"action":"long|short|close|hold","symbol":"BTC/USDT","close_position_id":"...","size":100,"leverage":10,"stop_loss":0,"take_profit":0,"reasoning":"..."}]` + "\n\n")
	fmt.Fprintf(&b, "You may request at most %d tool analyses per cycle; after that only a decision array is accepted.\n", in.MaxAnalysisRounds)
	b.WriteString("size is margin in USD. leverage must be an integer within [1,125]. Never reply with anything but the JSON.\n\n")
	b.WriteString("Available tools:\n")
	b.WriteString(in.ToolCatalog)
	return b.String()
}

// BuildUserPrompt 渲染当前状态。
func BuildUserPrompt(in PromptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 账户 (%s)\n", in.BotName)
	fmt.Fprintf(&b, "可用余额: %.2f USD | 未实现盈亏: %.2f | 总价值: %.2f\n\n",
		in.Account.AvailableBalance, in.Account.UnrealizedPnl, in.Account.TotalValue)

	b.WriteString("## 行情快照\n")
	for _, sym := range sortedSymbols(in.Market) {
		t := in.Market.Tickers[sym]
		fmt.Fprintf(&b, "- %s: %.4f (24h %+.2f%%)\n", sym, t.Price, t.ChangePct24h)
	}
	b.WriteString("\n")

	if ov := strings.TrimSpace(in.Overview); ov != "" {
		b.WriteString("## 指标概览\n")
		b.WriteString(ov)
		b.WriteString("\n\n")
	}

	b.WriteString("## 当前持仓\n")
	if len(in.Positions) == 0 {
		b.WriteString("（无）\n")
	}
	for _, p := range in.Positions {
		fmt.Fprintf(&b, "- [%s] %s %s 入场=%.4f 保证金=%.2f 杠杆=%dx 强平价=%.4f 浮盈=%.2f",
			p.ID, p.Symbol, p.Side, p.EntryPrice, p.MarginSize, p.Leverage, p.LiquidationPrice, p.UnrealizedPnl)
		if p.StopLoss > 0 {
			fmt.Fprintf(&b, " SL=%.4f", p.StopLoss)
		}
		if p.TakeProfit > 0 {
			fmt.Fprintf(&b, " TP=%.4f", p.TakeProfit)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(in.Cooldowns) > 0 {
		b.WriteString("## 冷却期（禁止开仓）\n")
		for _, c := range in.Cooldowns {
			fmt.Fprintf(&b, "- %s 至 %s\n", c.Symbol, c.Until.UTC().Format(time.RFC3339))
		}
		b.WriteString("\n")
	}

	if len(in.History) > 0 {
		b.WriteString("## 近期决策回顾（新->旧）\n")
		for _, h := range in.History {
			status := "ok"
			if !h.Success {
				status = "failed"
			}
			fmt.Fprintf(&b, "- %s [%s] %s\n", h.At.UTC().Format("01-02 15:04"), status, h.Summary)
		}
		b.WriteString("\n")
	}

	b.WriteString("请输出分析请求或最终决策数组。")
	return b.String()
}

func sortedSymbols(snap market.Snapshot) []string {
	out := make([]string, 0, len(snap.Tickers))
	for sym := range snap.Tickers {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
