package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"quantbot/internal/analysis/indicator"
	"quantbot/internal/decision"
	"quantbot/internal/ledger"
	"quantbot/internal/logger"
	"quantbot/internal/market"
	"quantbot/internal/pkg/circuit"
)

// 中文说明：
// Bot 是单个交易人格的执行体。互斥锁覆盖整个周期（行情刷新到账本落库），
// 周期内任何并发操作（ForceTurn、ManualClose、Reset）要么排队要么被拒绝。

// ErrCycleInFlight ForceTurn 撞上正在执行的周期。
var ErrCycleInFlight = errors.New("cycle already in flight")

// ErrPaused 被暂停的 bot 跳过周期，不算错误。
var ErrPaused = errors.New("bot 已暂停")

// PortfolioStore 持久化账本视图。
type PortfolioStore interface {
	SavePortfolio(botID string, view ledger.View) error
	LoadPortfolio(botID string) (ledger.View, bool, error)
}

// DecisionJournal 追加决策日志。
type DecisionJournal interface {
	Append(entry JournalEntry) error
}

// JournalEntry 一个周期的完整留痕。
type JournalEntry struct {
	BotID      string    `json:"bot_id"`
	TraceID    string    `json:"trace_id"`
	At         time.Time `json:"at"`
	Trigger    string    `json:"trigger"`
	State      string    `json:"state"`
	Prompt     string    `json:"prompt"`
	RawOutput  string    `json:"raw_output"`
	Transcript any       `json:"transcript"`
	Decisions  any       `json:"decisions"`
	Notes      []string  `json:"notes,omitempty"`
	Success    bool      `json:"success"`
}

// Broadcaster 周期结果对外广播（WebSocket 等），尽力而为。
type Broadcaster interface {
	Broadcast(event any)
}

// BotConfig 单个 bot 的静态配置。
type BotConfig struct {
	ID             string
	Name           string
	Persona        string
	Symbols        []string
	Interval       string
	InitialBalance float64
	HistoryLimit   int
}

// CycleResult 周期摘要，返回给 API 调用方。
type CycleResult struct {
	TraceID   string                `json:"trace_id"`
	State     decision.State        `json:"state"`
	Decisions []decision.Decision   `json:"decisions"`
	Report    ledger.Report         `json:"report"`
	Marked    ledger.Report         `json:"marked"`
	Notes     []string              `json:"notes,omitempty"`
	Account   ledger.Account        `json:"account"`
	At        time.Time             `json:"at"`
}

// Bot 单个交易人格。
type Bot struct {
	mu sync.Mutex

	cfg        BotConfig
	portfolio  *ledger.Portfolio
	controller *decision.Controller
	marketData *market.Store
	breaker    *circuit.Breaker
	store      PortfolioStore
	journal    DecisionJournal
	broadcast  Broadcaster

	paused bool
	fatal  error
	last   *CycleResult
	now    func() time.Time

	// 状态快照：读取不过周期锁，每次状态变更后重新发布
	status atomic.Pointer[Status]
}

func NewBot(cfg BotConfig, portfolio *ledger.Portfolio, controller *decision.Controller,
	marketData *market.Store, store PortfolioStore, journal DecisionJournal, broadcast Broadcaster) *Bot {
	b := &Bot{
		cfg:        cfg,
		portfolio:  portfolio,
		controller: controller,
		marketData: marketData,
		breaker:    circuit.NewBreaker("oracle-"+cfg.ID, 3, 5*time.Minute),
		store:      store,
		journal:    journal,
		broadcast:  broadcast,
		now:        time.Now,
	}
	b.publishStatus()
	return b
}

func (b *Bot) ID() string   { return b.cfg.ID }
func (b *Bot) Name() string { return b.cfg.Name }

// Restore 启动时从存储恢复账本。
func (b *Bot) Restore() error {
	if b.store == nil {
		return nil
	}
	view, ok, err := b.store.LoadPortfolio(b.cfg.ID)
	if err != nil {
		return fmt.Errorf("恢复账本失败: %w", err)
	}
	if ok {
		b.mu.Lock()
		b.portfolio.Restore(view)
		b.publishStatus()
		b.mu.Unlock()
		logger.Infof("bot[%s]: restored portfolio, total=%.2f positions=%d",
			b.cfg.ID, view.Account.TotalValue, len(view.Positions))
	}
	return nil
}

// RunCycle 调度器触发的周期。周期撞上周期（或手动操作）时在锁上排队。
func (b *Bot) RunCycle(ctx context.Context) (CycleResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runCycleLocked(ctx, "scheduled")
}

// ForceTurn 操作员手动触发。周期进行中直接拒绝，不排队。
func (b *Bot) ForceTurn(ctx context.Context) (CycleResult, error) {
	if !b.mu.TryLock() {
		return CycleResult{}, ErrCycleInFlight
	}
	defer b.mu.Unlock()
	return b.runCycleLocked(ctx, "manual")
}

func (b *Bot) runCycleLocked(ctx context.Context, trigger string) (CycleResult, error) {
	defer b.publishStatus()
	if b.fatal != nil {
		return CycleResult{}, fmt.Errorf("bot 已停止: %w", b.fatal)
	}
	if b.paused {
		return CycleResult{}, ErrPaused
	}
	traceID := uuid.NewString()
	result := CycleResult{TraceID: traceID, At: b.now()}
	logger.Infof("bot[%s]: cycle start trace=%s trigger=%s", b.cfg.ID, traceID, trigger)

	// 周期起点快照：开仓价、平仓结算价、强平检查共用同一份
	snap, err := b.marketData.RefreshSnapshot(ctx, b.cfg.Symbols)
	if err != nil {
		snap = b.marketData.Snapshot()
		if snap.Stale(2*time.Minute, b.now()) {
			return result, fmt.Errorf("行情快照不可用: %w", err)
		}
		result.Notes = append(result.Notes, "快照刷新失败，使用上次快照")
	}

	marked, err := b.portfolio.MarkPrices(snap)
	if err != nil {
		return result, b.fail(err)
	}
	result.Marked = marked

	for _, sym := range b.cfg.Symbols {
		if _, err := b.marketData.Refresh(ctx, sym, b.cfg.Interval, 0); err != nil {
			result.Notes = append(result.Notes, fmt.Sprintf("%s K线刷新失败: %v", sym, err))
		}
	}

	if !b.breaker.Allow() {
		note := "oracle 熔断中，本周期跳过决策"
		result.Notes = append(result.Notes, note)
		result.State = decision.StateAborted
		b.persist(result, trigger, nil)
		return result, nil
	}

	outcome := b.controller.Run(ctx, b.promptInput(snap))
	result.State = outcome.State
	result.Decisions = outcome.Decisions
	result.Notes = append(result.Notes, outcome.Notes...)

	if outcome.State == decision.StateDecided {
		b.breaker.RecordSuccess()
	} else {
		b.breaker.RecordFailure()
	}

	report, err := b.portfolio.ApplyDecisions(outcome.Decisions, snap)
	if err != nil {
		return result, b.fail(err)
	}
	result.Report = report
	result.Account = b.portfolio.Snapshot().Account

	b.persist(result, trigger, &outcome)
	b.publish("cycle", result)
	b.last = &result
	logger.Infof("bot[%s]: cycle done trace=%s state=%s opened=%d closed=%d total=%.2f",
		b.cfg.ID, traceID, result.State, len(report.Opened), len(report.Closed), result.Account.TotalValue)
	return result, nil
}

func (b *Bot) promptInput(snap market.Snapshot) decision.PromptInput {
	view := b.portfolio.Snapshot()
	in := decision.PromptInput{
		BotName: b.cfg.Name,
		Persona: b.cfg.Persona,
		Account: decision.AccountState{
			AvailableBalance: view.Account.AvailableBalance,
			UnrealizedPnl:    view.Account.UnrealizedPnl,
			TotalValue:       view.Account.TotalValue,
		},
		Market:   snap,
		Overview: b.indicatorOverview(),
	}
	for _, pos := range view.Positions {
		in.Positions = append(in.Positions, decision.PositionState{
			ID:               pos.ID,
			Symbol:           pos.Symbol,
			Side:             pos.Side,
			EntryPrice:       pos.EntryPrice,
			MarginSize:       pos.Margin,
			Leverage:         pos.Leverage,
			LiquidationPrice: pos.LiquidationPrice,
			StopLoss:         pos.StopLoss,
			TakeProfit:       pos.TakeProfit,
			UnrealizedPnl:    pos.UnrealizedPnl,
		})
	}
	for sym, until := range view.Cooldowns {
		in.Cooldowns = append(in.Cooldowns, decision.CooldownState{Symbol: sym, Until: until})
	}
	limit := b.cfg.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	history := view.History
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	for _, tr := range history {
		in.History = append(in.History, decision.HistoryNote{
			At: tr.ClosedAt,
			Summary: fmt.Sprintf("%s %s %s pnl=%.2f (%.2f%%)",
				tr.Side, tr.Symbol, tr.Reason, tr.RealizedPnl, tr.PnlPct),
			Success: tr.RealizedPnl >= 0,
		})
	}
	return in
}

func (b *Bot) indicatorOverview() string {
	reports := make([]indicator.Report, 0, len(b.cfg.Symbols))
	for _, sym := range b.cfg.Symbols {
		candles := b.marketData.Candles(sym, b.cfg.Interval)
		rep, err := indicator.Overview(candles, indicator.Settings{Symbol: sym, Interval: b.cfg.Interval})
		if err != nil {
			logger.Debugf("bot[%s]: indicator overview %s: %v", b.cfg.ID, sym, err)
			continue
		}
		reports = append(reports, rep)
	}
	return indicator.RenderBrief(reports)
}

// fail 记录致命错误并冻结 bot。恒等式错误属于此类。
func (b *Bot) fail(err error) error {
	var inv *ledger.InvariantError
	if errors.As(err, &inv) {
		b.fatal = err
		logger.Errorf("bot[%s]: fatal ledger error, freezing: %v", b.cfg.ID, err)
		return err
	}
	return err
}

func (b *Bot) persist(result CycleResult, trigger string, outcome *decision.Outcome) {
	if b.journal != nil {
		entry := JournalEntry{
			BotID:     b.cfg.ID,
			TraceID:   result.TraceID,
			At:        result.At,
			Trigger:   trigger,
			State:     string(result.State),
			Decisions: result.Decisions,
			Notes:     result.Notes,
			Success:   result.State == decision.StateDecided,
		}
		if outcome != nil {
			entry.Prompt = outcome.PromptSent
			entry.RawOutput = outcome.RawOutput
			entry.Transcript = outcome.Transcript.Entries()
		}
		if err := b.journal.Append(entry); err != nil {
			logger.Warnf("bot[%s]: 决策日志写入失败: %v", b.cfg.ID, err)
		}
	}
	if b.store != nil {
		if err := b.store.SavePortfolio(b.cfg.ID, b.portfolio.Snapshot()); err != nil {
			logger.Warnf("bot[%s]: 账本落库失败: %v", b.cfg.ID, err)
		}
	}
}

func (b *Bot) publish(kind string, payload any) {
	if b.broadcast == nil {
		return
	}
	b.broadcast.Broadcast(map[string]any{
		"type":   kind,
		"bot_id": b.cfg.ID,
		"data":   payload,
		"at":     b.now().UTC(),
	})
}

// ManualClose 操作员平某一笔仓位。与周期互斥。
func (b *Bot) ManualClose(ctx context.Context, positionID string) (ledger.ClosedTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fatal != nil {
		return ledger.ClosedTrade{}, fmt.Errorf("bot 已停止: %w", b.fatal)
	}
	snap, err := b.marketData.RefreshSnapshot(ctx, b.cfg.Symbols)
	if err != nil {
		snap = b.marketData.Snapshot()
		if snap.Stale(2*time.Minute, b.now()) {
			return ledger.ClosedTrade{}, fmt.Errorf("行情快照不可用: %w", err)
		}
	}
	trade, err := b.portfolio.ManualClose(positionID, snap)
	if err != nil {
		err = b.fail(err)
		b.publishStatus()
		return trade, err
	}
	b.publishStatus()
	if b.store != nil {
		if err := b.store.SavePortfolio(b.cfg.ID, b.portfolio.Snapshot()); err != nil {
			logger.Warnf("bot[%s]: 账本落库失败: %v", b.cfg.ID, err)
		}
	}
	b.publish("manual_close", trade)
	return trade, nil
}

// SetPersona 热更新人格提示词，下一周期生效。
func (b *Bot) SetPersona(persona string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if persona == "" || persona == b.cfg.Persona {
		return
	}
	b.cfg.Persona = persona
	b.publishStatus()
	logger.Infof("bot[%s]: persona updated", b.cfg.ID)
}

// TogglePause 暂停 / 恢复调度周期。返回新状态。
func (b *Bot) TogglePause() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = !b.paused
	b.publishStatus()
	logger.Infof("bot[%s]: paused=%v", b.cfg.ID, b.paused)
	return b.paused
}

// Reset 账本重置为初始状态并落库。
func (b *Bot) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.portfolio.Reset()
	b.fatal = nil
	b.publishStatus()
	if b.store != nil {
		if err := b.store.SavePortfolio(b.cfg.ID, b.portfolio.Snapshot()); err != nil {
			return fmt.Errorf("重置后落库失败: %w", err)
		}
	}
	b.publish("reset", b.portfolio.Snapshot().Account)
	return nil
}

// Status 只读状态查询。
type Status struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Persona  string         `json:"persona"`
	Symbols  []string       `json:"symbols"`
	Interval string         `json:"interval"`
	Paused   bool           `json:"paused"`
	Frozen   bool           `json:"frozen"`
	View     ledger.View    `json:"view"`
	Breaker  circuit.State  `json:"breaker"`
	Last     *CycleResult   `json:"last_cycle,omitempty"`
}

// Status 读最近发布的快照，不等周期锁。周期进行中返回的是周期开始前的状态。
func (b *Bot) Status() Status {
	return *b.status.Load()
}

// publishStatus 重建并发布状态快照。调用方需持有 b.mu（NewBot 构造期除外）。
func (b *Bot) publishStatus() {
	s := Status{
		ID:       b.cfg.ID,
		Name:     b.cfg.Name,
		Persona:  b.cfg.Persona,
		Symbols:  append([]string(nil), b.cfg.Symbols...),
		Interval: b.cfg.Interval,
		Paused:   b.paused,
		Frozen:   b.fatal != nil,
		View:     b.portfolio.Snapshot(),
		Breaker:  b.breaker.State(),
		Last:     b.last,
	}
	b.status.Store(&s)
}
