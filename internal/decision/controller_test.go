package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot/internal/gateway/provider"
	"quantbot/internal/market"
)

// scriptedOracle 按序回放预设响应，并记录每次收到的 user prompt。
type scriptedOracle struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (s *scriptedOracle) ID() string    { return "scripted" }
func (s *scriptedOracle) Enabled() bool { return true }

func (s *scriptedOracle) Call(ctx context.Context, payload provider.ChatPayload) (string, error) {
	idx := s.calls
	s.calls++
	s.prompts = append(s.prompts, payload.User)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if idx >= len(s.responses) {
		return "", fmt.Errorf("scripted oracle exhausted at call %d", idx+1)
	}
	return s.responses[idx], nil
}

func analysisJSON(tool string) string {
	return fmt.Sprintf(`{"tool": %q, "parameters": {"symbol": "BTC/USDT"}, "reasoning": "probe"}`, tool)
}

const decisionLong = `[{"action": "long", "symbol": "BTC/USDT", "size": 100, "leverage": 3, "reasoning": "trend up"}]`

func testPromptInput() PromptInput {
	return PromptInput{
		BotName: "alpha",
		Persona: "保守型",
		Account: AccountState{AvailableBalance: 1000, TotalValue: 1000},
		Market: market.Snapshot{
			TakenAt: time.Now(),
			Tickers: map[string]market.Ticker{
				"BTC/USDT": {Symbol: "BTC/USDT", Price: 50000},
			},
		},
	}
}

func newTestController(oracle provider.ModelProvider, opts ...Option) *Controller {
	return NewController(oracle, newTestRegistry(), opts...)
}

func TestControllerAnalysisThenDecision(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{
		analysisJSON("rsi"),
		analysisJSON("macd"),
		decisionLong,
	}}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateDecided, out.State)
	require.Len(t, out.Decisions, 1)
	assert.Equal(t, ActionLong, out.Decisions[0].Action)
	assert.Equal(t, 3, oracle.calls)
	assert.Equal(t, 2, out.Transcript.AnalysisCount())
	// 第二轮起 prompt 应携带已执行分析的文字记录
	assert.Contains(t, oracle.prompts[1], "本周期已执行的分析")
}

func TestControllerAtMostFourAnalyses(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{
		analysisJSON("rsi"),
		analysisJSON("macd"),
		analysisJSON("detect_trend"),
		analysisJSON("bollinger_bands"),
		decisionLong,
	}}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateDecided, out.State)
	assert.Equal(t, 5, oracle.calls)
	assert.Equal(t, 4, out.Transcript.AnalysisCount())
	assert.Contains(t, oracle.prompts[4], "必须输出最终决策数组")
}

func TestControllerFifthAnalysisIsProtocolViolation(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{
		analysisJSON("rsi"),
		analysisJSON("macd"),
		analysisJSON("detect_trend"),
		analysisJSON("bollinger_bands"),
		analysisJSON("sma"), // 第 5 轮仍请求分析：违规，不执行
	}}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateAborted, out.State)
	assert.Empty(t, out.Decisions)
	// 第 5 次分析没有被执行
	assert.Equal(t, 4, out.Transcript.AnalysisCount())
	found := false
	for _, n := range out.Notes {
		if strings.Contains(n, "protocol violation") && strings.Contains(n, "sma") {
			found = true
		}
	}
	assert.True(t, found, "expected a protocol violation note naming the tool")
}

func TestControllerMalformedConsumesIteration(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{
		"I would like to think about this more.",
		decisionLong,
	}}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateDecided, out.State)
	assert.Equal(t, 2, oracle.calls)
	require.Len(t, out.Decisions, 1)
}

func TestControllerOracleErrorConsumesIteration(t *testing.T) {
	oracle := &scriptedOracle{
		responses: []string{"", decisionLong},
		errs:      []error{errors.New("upstream 502"), nil},
	}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateDecided, out.State)
	assert.Equal(t, 2, oracle.calls)
}

func TestControllerAllRoundsFailAborts(t *testing.T) {
	oracle := &scriptedOracle{
		errs: []error{
			errors.New("e1"), errors.New("e2"), errors.New("e3"),
			errors.New("e4"), errors.New("e5"),
		},
		responses: []string{"", "", "", "", ""},
	}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateAborted, out.State)
	assert.Empty(t, out.Decisions)
	assert.Equal(t, 5, oracle.calls)
}

func TestControllerEmptyDecisionArrayIsHold(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{"[]"}}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateDecided, out.State)
	assert.Empty(t, out.Decisions)
	assert.Equal(t, 1, oracle.calls)
}

func TestControllerInvalidDecisionFiltered(t *testing.T) {
	raw := `[
		{"action": "long", "symbol": "BTC/USDT", "size": 100, "leverage": 3, "reasoning": "ok"},
		{"action": "long", "symbol": "BTC/USDT", "size": 100, "leverage": 200, "reasoning": "too high"}
	]`
	oracle := &scriptedOracle{responses: []string{raw}}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateDecided, out.State)
	require.Len(t, out.Decisions, 1)
	assert.NotEmpty(t, out.Notes)
}

func TestControllerValidatesCompactSymbolAgainstSnapshot(t *testing.T) {
	// 紧凑形式的 symbol 也必须命中快照价，价位关系检查不能被绕过
	raw := `[
		{"action": "long", "symbol": "BTCUSDT", "size": 100, "leverage": 5, "stop_loss": 60000, "reasoning": "sl above price"},
		{"action": "long", "symbol": "BTCUSDT", "size": 100, "leverage": 5, "stop_loss": 45000, "reasoning": "ok"}
	]`
	oracle := &scriptedOracle{responses: []string{raw}}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateDecided, out.State)
	require.Len(t, out.Decisions, 1)
	assert.InDelta(t, 45000, out.Decisions[0].StopLoss, 1e-9)
	require.NotEmpty(t, out.Notes)
	assert.Contains(t, out.Notes[0], "止损")
}

func TestControllerFailedToolCallConsumesIteration(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{
		analysisJSON("crystal_ball"), // 未知工具
		decisionLong,
	}}
	c := newTestController(oracle)
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateDecided, out.State)
	assert.Equal(t, 2, oracle.calls)
	assert.Equal(t, 0, out.Transcript.AnalysisCount())
	// 错误记录会出现在下一轮 prompt 里
	assert.Contains(t, oracle.prompts[1], "crystal_ball")
}

func TestControllerCycleBudgetAborts(t *testing.T) {
	base := time.Now()
	calls := 0
	clock := func() time.Time {
		calls++
		// 每次取时间前进 20s，第二轮预算检查时已超 30s
		return base.Add(time.Duration(calls) * 20 * time.Second)
	}
	oracle := &scriptedOracle{responses: []string{
		analysisJSON("rsi"),
		decisionLong,
	}}
	c := newTestController(oracle, withClock(clock))
	out := c.Run(context.Background(), testPromptInput())

	assert.Equal(t, StateAborted, out.State)
	assert.Empty(t, out.Decisions)
}
