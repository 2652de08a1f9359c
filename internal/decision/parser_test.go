package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysisRequest(t *testing.T) {
	raw := "分析一下趋势\n```json\n{\"tool\": \"rsi\", \"parameters\": {\"symbol\": \"BTC/USDT\", \"period\": 14}, \"reasoning\": \"check momentum\"}\n```"
	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, ParsedAnalysis, parsed.Kind)
	assert.Equal(t, "rsi", parsed.Analysis.Tool)
	assert.Equal(t, "BTC/USDT", parsed.Analysis.Parameters["symbol"])
	assert.Equal(t, "check momentum", parsed.Analysis.Reasoning)
}

func TestParseDecisionArray(t *testing.T) {
	raw := `[{"action": "long", "symbol": "ETH/USDT", "size": 200, "leverage": 5, "stop_loss": 1800, "take_profit": 2400, "reasoning": "breakout"}]`
	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, ParsedDecisions, parsed.Kind)
	require.Len(t, parsed.Decisions, 1)
	d := parsed.Decisions[0]
	assert.Equal(t, ActionLong, d.Action)
	assert.Equal(t, "ETH/USDT", d.Symbol)
	assert.Equal(t, 200.0, d.Size)
	assert.Equal(t, 5, d.Leverage)
}

func TestParseEmptyArrayIsHold(t *testing.T) {
	parsed, err := Parse("没有合适的机会。\n\n[]")
	require.NoError(t, err)
	assert.Equal(t, ParsedDecisions, parsed.Kind)
	assert.Empty(t, parsed.Decisions)
}

func TestParseObjectBeforeArrayWins(t *testing.T) {
	raw := `{"tool": "macd", "parameters": {"symbol": "BTC/USDT"}} [{"action": "hold"}]`
	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ParsedAnalysis, parsed.Kind)
	assert.Equal(t, "macd", parsed.Analysis.Tool)
}

func TestParseRejectsMissingTool(t *testing.T) {
	_, err := Parse(`{"parameters": {"symbol": "BTC/USDT"}}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseRejectsUnknownDecisionField(t *testing.T) {
	_, err := Parse(`[{"action": "long", "symbol": "BTC/USDT", "size": 100, "leverage": 3, "confidence": 0.9}]`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseRejectsPlainText(t *testing.T) {
	_, err := Parse("I think we should go long on BTC.")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParseRejectsDecisionWithoutAction(t *testing.T) {
	_, err := Parse(`[{"symbol": "BTC/USDT", "size": 100}]`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
