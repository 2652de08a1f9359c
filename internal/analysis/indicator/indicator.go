package indicator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/markcheno/go-talib"

	"quantbot/internal/market"
)

// 中文说明：
// 基于 TALib 的指标概览，用于每个周期开始时给 Oracle 的"指标概览"段落。
// 与 toolkit 包不同：这里只求最新读数和状态标签，不保证公式与工具调用一致。

// Settings 指标概览参数。零值字段使用默认值。
type Settings struct {
	Symbol   string
	Interval string
	EMAFast  int
	EMASlow  int
	RSI      int
	ATR      int
}

func (s *Settings) defaults() {
	if s.EMAFast <= 0 {
		s.EMAFast = 21
	}
	if s.EMASlow <= 0 {
		s.EMASlow = 50
	}
	if s.RSI <= 0 {
		s.RSI = 14
	}
	if s.ATR <= 0 {
		s.ATR = 14
	}
}

// Reading 单个指标的最新值与状态。
type Reading struct {
	Latest float64 `json:"latest"`
	State  string  `json:"state,omitempty"`
	Note   string  `json:"note,omitempty"`
}

// Report 单个 symbol+interval 的概览。
type Report struct {
	Symbol   string             `json:"symbol"`
	Interval string             `json:"interval"`
	Count    int                `json:"count"`
	Readings map[string]Reading `json:"readings"`
}

// Overview 从 K 线序列计算概览报告。
func Overview(candles []market.Candle, cfg Settings) (Report, error) {
	cfg.defaults()
	rep := Report{
		Symbol:   cfg.Symbol,
		Interval: cfg.Interval,
		Count:    len(candles),
		Readings: make(map[string]Reading),
	}
	if len(candles) == 0 {
		return rep, fmt.Errorf("no candles for %s", cfg.Symbol)
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	lastClose := closes[len(closes)-1]

	emaFast := lastValid(talib.Ema(closes, cfg.EMAFast))
	emaSlow := lastValid(talib.Ema(closes, cfg.EMASlow))
	rep.Readings["ema_fast"] = Reading{
		Latest: round4(emaFast),
		State:  relativeState(lastClose, emaFast),
		Note:   fmt.Sprintf("EMA%d vs price", cfg.EMAFast),
	}
	rep.Readings["ema_slow"] = Reading{
		Latest: round4(emaSlow),
		State:  relativeState(lastClose, emaSlow),
		Note:   fmt.Sprintf("EMA%d vs price", cfg.EMASlow),
	}

	rsi := lastValid(talib.Rsi(closes, cfg.RSI))
	rsiState := "neutral"
	switch {
	case rsi >= 70:
		rsiState = "overbought"
	case rsi <= 30:
		rsiState = "oversold"
	}
	rep.Readings["rsi"] = Reading{
		Latest: round4(rsi),
		State:  rsiState,
		Note:   fmt.Sprintf("period=%d", cfg.RSI),
	}

	macd, signal, hist := talib.Macd(closes, 12, 26, 9)
	h := lastValid(hist)
	macdState := "flat"
	switch {
	case h > 0:
		macdState = "bullish"
	case h < 0:
		macdState = "bearish"
	}
	rep.Readings["macd"] = Reading{
		Latest: round4(lastValid(macd)),
		State:  macdState,
		Note:   fmt.Sprintf("signal=%.4f hist=%.4f", lastValid(signal), h),
	}

	atr := lastValid(talib.Atr(highs, lows, closes, cfg.ATR))
	atrNote := fmt.Sprintf("period=%d", cfg.ATR)
	if lastClose > 0 {
		atrNote += fmt.Sprintf(" pct=%.2f%%", atr/lastClose*100)
	}
	rep.Readings["atr"] = Reading{Latest: round4(atr), State: "volatility", Note: atrNote}

	return rep, nil
}

// RenderBrief 把多份报告渲染为 prompt 可直接引用的文字段。
func RenderBrief(reports []Report) string {
	if len(reports) == 0 {
		return ""
	}
	var b strings.Builder
	for _, rep := range reports {
		fmt.Fprintf(&b, "%s (%s, %d bars): ", rep.Symbol, rep.Interval, rep.Count)
		keys := make([]string, 0, len(rep.Readings))
		for k := range rep.Readings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			r := rep.Readings[k]
			parts = append(parts, fmt.Sprintf("%s=%.4f[%s]", k, r.Latest, r.State))
		}
		b.WriteString(strings.Join(parts, " "))
		b.WriteString("\n")
	}
	return b.String()
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) && !almostZero(v) {
			return v
		}
	}
	return 0
}

func almostZero(v float64) bool {
	return math.Abs(v) <= 1e-9
}

func relativeState(price, ref float64) string {
	if ref == 0 {
		return "unknown"
	}
	switch {
	case price > ref*1.002:
		return "above"
	case price < ref*0.998:
		return "below"
	default:
		return "touch"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
