package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot/internal/market"
)

func rampCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hour := time.Hour.Milliseconds()
	for i := range out {
		px := 100 + float64(i)
		out[i] = market.Candle{
			OpenTime:  base + int64(i)*hour,
			CloseTime: base + int64(i+1)*hour,
			Open:      px,
			High:      px + 1,
			Low:       px - 1,
			Close:     px,
			Volume:    1000,
		}
	}
	return out
}

func TestOverviewOnUptrend(t *testing.T) {
	rep, err := Overview(rampCandles(120), Settings{Symbol: "BTC/USDT", Interval: "1h"})
	require.NoError(t, err)
	assert.Equal(t, 120, rep.Count)

	rsi := rep.Readings["rsi"]
	assert.Equal(t, "overbought", rsi.State)
	assert.Greater(t, rsi.Latest, 70.0)

	assert.Equal(t, "above", rep.Readings["ema_slow"].State)
	assert.Equal(t, "bullish", rep.Readings["macd"].State)
	assert.Greater(t, rep.Readings["atr"].Latest, 0.0)
}

func TestOverviewEmptyCandles(t *testing.T) {
	_, err := Overview(nil, Settings{Symbol: "BTC/USDT"})
	require.Error(t, err)
}

func TestRenderBrief(t *testing.T) {
	rep, err := Overview(rampCandles(120), Settings{Symbol: "ETH/USDT", Interval: "4h"})
	require.NoError(t, err)
	brief := RenderBrief([]Report{rep})
	assert.Contains(t, brief, "ETH/USDT (4h, 120 bars)")
	assert.Contains(t, brief, "rsi=")
	assert.Contains(t, brief, "[overbought]")
	assert.Empty(t, RenderBrief(nil))
}
