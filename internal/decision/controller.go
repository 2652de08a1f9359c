package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantbot/internal/gateway/provider"
	"quantbot/internal/logger"
	symbolpkg "quantbot/internal/pkg/symbol"
)

// 中文说明：
// 协议控制器：有界的多轮工具调用状态机。
// 初态 AWAITING_TOOL_OR_DECISION，终态 DECIDED / ABORTED。
// 迭代硬上限 5 轮（最多 4 次分析 + 1 次强制终局），单次 Oracle 调用 10s 超时，
// 整周期 30s 软预算。所有失败要么消耗一次迭代，要么中止为空决策集（HOLD）。

// State 控制器状态。
type State string

const (
	StateAwaiting State = "AWAITING_TOOL_OR_DECISION"
	StateDecided  State = "DECIDED"
	StateAborted  State = "ABORTED"
)

const (
	DefaultMaxRounds   = 5
	DefaultCallTimeout = 10 * time.Second
	DefaultCycleBudget = 30 * time.Second
)

// Controller 驱动一个决策周期的 Oracle 往返。
type Controller struct {
	oracle      provider.ModelProvider
	tools       *ToolRegistry
	maxRounds   int
	callTimeout time.Duration
	cycleBudget time.Duration
	now         func() time.Time
}

// Option 控制器可选配置。
type Option func(*Controller)

func WithMaxRounds(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxRounds = n
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

func WithCycleBudget(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.cycleBudget = d
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(oracle provider.ModelProvider, tools *ToolRegistry, opts ...Option) *Controller {
	c := &Controller{
		oracle:      oracle,
		tools:       tools,
		maxRounds:   DefaultMaxRounds,
		callTimeout: DefaultCallTimeout,
		cycleBudget: DefaultCycleBudget,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Outcome 一个周期的终局。
type Outcome struct {
	State      State
	Decisions  []Decision
	Transcript *Transcript
	Notes      []string
	Rounds     int
	RawOutput  string // 最后一轮 Oracle 原始输出
	PromptSent string
}

// Run 执行一个完整的决策周期。返回值永远可用：中止时决策集为空（HOLD 等价）。
func (c *Controller) Run(ctx context.Context, in PromptInput) Outcome {
	in.MaxAnalysisRounds = c.maxRounds - 1
	in.ToolCatalog = c.tools.RenderCatalog()
	system := BuildSystemPrompt(in)
	baseUser := BuildUserPrompt(in)

	out := Outcome{
		State:      StateAwaiting,
		Transcript: &Transcript{},
		PromptSent: system + "\n\n" + baseUser,
	}
	started := c.now()

	for round := 1; round <= c.maxRounds; round++ {
		out.Rounds = round
		if c.now().Sub(started) > c.cycleBudget {
			return c.abort(out, "cycle budget exceeded after %d rounds", round-1)
		}
		finalRound := round == c.maxRounds

		user := baseUser
		if rendered := out.Transcript.Render(); rendered != "" {
			user = baseUser + "\n\n" + rendered
		}
		if finalRound {
			user += "\n\n注意：分析额度已用尽，本轮必须输出最终决策数组。"
		}

		raw, err := c.callOracle(ctx, system, user)
		if err != nil {
			out.Transcript.AddError(nil, err, c.now())
			if finalRound || errors.Is(err, context.Canceled) {
				return c.abort(out, "oracle failed: %v", err)
			}
			// 消耗一次迭代，下一轮带着错误上下文重试提示（不重试调用本身）
			continue
		}
		out.RawOutput = raw

		parsed, perr := Parse(raw)
		if perr != nil {
			out.Transcript.AddError(nil, perr, c.now())
			if finalRound {
				return c.abort(out, "final response malformed: %v", perr)
			}
			continue
		}

		switch parsed.Kind {
		case ParsedAnalysis:
			if finalRound {
				// 第 5 轮的分析请求不执行：协议违规，中止为 HOLD
				out.Transcript.AddError(parsed.Analysis, ErrProtocolViolation, c.now())
				return c.abort(out, "protocol violation: analysis request in final round (tool=%s)", parsed.Analysis.Tool)
			}
			req := *parsed.Analysis
			result, terr := c.tools.Execute(req)
			if terr != nil {
				out.Transcript.AddError(&req, terr, c.now())
			} else {
				out.Transcript.AddAnalysis(req, result, c.now())
			}
			continue

		case ParsedDecisions:
			out.Decisions = c.filterValid(parsed.Decisions, in, &out)
			out.State = StateDecided
			return out
		}
	}
	return c.abort(out, "iteration budget exhausted without decision")
}

func (c *Controller) callOracle(ctx context.Context, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	raw, err := c.oracle.Call(callCtx, provider.ChatPayload{System: system, User: user})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrOracleTimeout, err)
		}
		return "", err
	}
	return raw, nil
}

// filterValid 逐条做词汇表/参数校验，不合法的丢弃并留注。
func (c *Controller) filterValid(ds []Decision, in PromptInput, out *Outcome) []Decision {
	kept := make([]Decision, 0, len(ds))
	for i := range ds {
		d := ds[i]
		// 快照键是标准化的 BASE/QUOTE，模型可能回紧凑形式（BTCUSDT）
		price, _ := in.Market.Price(symbolpkg.Normalize(d.Symbol))
		if err := Validate(&d, price); err != nil {
			note := fmt.Sprintf("决策#%d 丢弃: %v", i+1, err)
			out.Notes = append(out.Notes, note)
			out.Transcript.AddNote(note, c.now())
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

func (c *Controller) abort(out Outcome, format string, args ...any) Outcome {
	note := fmt.Sprintf(format, args...)
	logger.Warnf("protocol: cycle aborted: %s", note)
	out.Transcript.AddNote(note, c.now())
	out.Notes = append(out.Notes, note)
	out.State = StateAborted
	out.Decisions = nil
	return out
}
