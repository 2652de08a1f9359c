// Package toolkit 提供决策协议可调用的无状态量化分析函数。
//
// 所有函数均为纯函数：相同输入必须产生完全一致的输出（决策记录可回放）。
// 数据量不足时返回 InsufficientDataError，绝不产出未定义结果。
package toolkit

import (
	"fmt"
	"math"
	"sort"
)

// Stats 基础统计量。
type Stats struct {
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	StdDev   float64 `json:"std_dev"`
	Variance float64 `json:"variance"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// Statistics 计算一组数据的基础统计量，要求非空输入。
func Statistics(data []float64) (Stats, error) {
	if len(data) == 0 {
		return Stats{}, needData("statistics", 1, 0)
	}
	var sum, min, max float64
	min, max = data[0], data[0]
	for _, v := range data {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(data))
	variance := populationVariance(data, mean)
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return Stats{
		Mean:     mean,
		Median:   median,
		StdDev:   math.Sqrt(variance),
		Variance: variance,
		Min:      min,
		Max:      max,
	}, nil
}

// Correlation 计算皮尔逊相关系数，范围 [-1,1]。
// 任一序列方差为 0 时返回 0（分母保护）。
func Correlation(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, needData("correlation", 1, 0)
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("correlation: %w: series length mismatch (%d vs %d)", ErrInvalidInput, len(a), len(b))
	}
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n
	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, nil
	}
	return cov / math.Sqrt(varA*varB), nil
}

// Volatility 计算对数收益率在 trailing period 内的波动率，按 √365 年化。
func Volatility(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("volatility: %w: period must be positive", ErrInvalidInput)
	}
	if len(prices) < period+1 {
		return 0, needData("volatility", period+1, len(prices))
	}
	window := prices[len(prices)-period-1:]
	returns := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			return 0, fmt.Errorf("volatility: %w: non-positive price", ErrInvalidInput)
		}
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	return math.Sqrt(populationVariance(returns, mean)) * math.Sqrt(365), nil
}

// RSI 计算 Wilder 风格 RSI（基于 trailing period 个变化量）。
// 平均亏损为 0 时直接返回 100（全涨，无除零）。
func RSI(prices []float64, period int) (float64, error) {
	if period <= 0 {
		period = 14
	}
	if len(prices) < period+1 {
		return 0, needData("rsi", period+1, len(prices))
	}
	window := prices[len(prices)-period-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		change := window[i] - window[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// MACDResult MACD 线、信号线与柱状值。
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD 基于 12/26/9 EMA 计算。
func MACD(prices []float64) (MACDResult, error) {
	if len(prices) < 26 {
		return MACDResult{}, needData("macd", 26, len(prices))
	}
	ema12, err := EMA(prices, 12)
	if err != nil {
		return MACDResult{}, err
	}
	ema26, err := EMA(prices, 26)
	if err != nil {
		return MACDResult{}, err
	}
	macdLine := make([]float64, len(prices))
	for i := range prices {
		macdLine[i] = ema12[i] - ema26[i]
	}
	signalLine, err := EMA(macdLine, 9)
	if err != nil {
		return MACDResult{}, err
	}
	macd := macdLine[len(macdLine)-1]
	signal := signalLine[len(signalLine)-1]
	return MACDResult{MACD: macd, Signal: signal, Histogram: macd - signal}, nil
}

// Bands 布林带上/中/下轨。
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// BollingerBands 计算 trailing period 的 SMA ± multiplier·stdDev。
func BollingerBands(prices []float64, period int, stdDevMultiplier float64) (Bands, error) {
	if period <= 0 {
		period = 20
	}
	if stdDevMultiplier <= 0 {
		stdDevMultiplier = 2
	}
	if len(prices) < period {
		return Bands{}, needData("bollinger_bands", period, len(prices))
	}
	window := prices[len(prices)-period:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	middle := sum / float64(period)
	std := math.Sqrt(populationVariance(window, middle))
	return Bands{
		Upper:  middle + stdDevMultiplier*std,
		Middle: middle,
		Lower:  middle - stdDevMultiplier*std,
	}, nil
}

// EMA 返回完整的指数移动平均序列，首值以第一个原始价格为种子。
func EMA(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ema: %w: period must be positive", ErrInvalidInput)
	}
	if len(prices) < period {
		return nil, needData("ema", period, len(prices))
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out, nil
}

// SMA 返回完整的简单移动平均序列（长度 len(prices)-period+1）。
func SMA(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("sma: %w: period must be positive", ErrInvalidInput)
	}
	if len(prices) < period {
		return nil, needData("sma", period, len(prices))
	}
	out := make([]float64, 0, len(prices)-period+1)
	var sum float64
	for i, v := range prices {
		sum += v
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out, nil
}

// Trend 趋势检测结果。
type Trend struct {
	Direction  string  `json:"direction"` // bullish / bearish / neutral
	Strength   float64 `json:"strength"`  // [0,1]
	Confidence float64 `json:"confidence"`
}

// DetectTrend 对 trailing minPeriod 窗口做线性回归。
// |slope%| < 0.1 视为 neutral；strength = min(|slope%|/5, 1)；confidence = R²。
func DetectTrend(prices []float64, minPeriod int) (Trend, error) {
	if minPeriod <= 0 {
		minPeriod = 20
	}
	if len(prices) < minPeriod {
		return Trend{}, needData("detect_trend", minPeriod, len(prices))
	}
	window := prices[len(prices)-minPeriod:]
	n := float64(len(window))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Trend{Direction: "neutral"}, nil
	}
	slope := (n*sumXY - sumX*sumY) / denom
	meanY := sumY / n
	if meanY == 0 {
		return Trend{Direction: "neutral"}, nil
	}
	slopePct := slope / meanY * 100

	// R²：回归线对实际序列的解释力
	intercept := meanY - slope*(sumX/n)
	var ssRes, ssTot float64
	for i, y := range window {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	trend := Trend{
		Strength:   math.Min(math.Abs(slopePct)/5, 1),
		Confidence: r2,
	}
	switch {
	case math.Abs(slopePct) < 0.1:
		trend.Direction = "neutral"
	case slopePct > 0:
		trend.Direction = "bullish"
	default:
		trend.Direction = "bearish"
	}
	return trend, nil
}

// Levels 支撑/阻力位。
type Levels struct {
	Support    []float64 `json:"support"`
	Resistance []float64 `json:"resistance"`
}

// FindSupportResistance 用 5 点窗口找局部极值（严格大于/小于两侧各两个邻居），
// 再把相对距离 2% 以内的水平位聚类并取均值。
func FindSupportResistance(prices []float64) (Levels, error) {
	if len(prices) < 20 {
		return Levels{}, needData("support_resistance", 20, len(prices))
	}
	var highs, lows []float64
	for i := 2; i < len(prices)-2; i++ {
		p := prices[i]
		if p > prices[i-1] && p > prices[i-2] && p > prices[i+1] && p > prices[i+2] {
			highs = append(highs, p)
		}
		if p < prices[i-1] && p < prices[i-2] && p < prices[i+1] && p < prices[i+2] {
			lows = append(lows, p)
		}
	}
	return Levels{
		Support:    clusterLevels(lows),
		Resistance: clusterLevels(highs),
	}, nil
}

// clusterLevels 将相邻 2% 以内的水平位合并为均值。
func clusterLevels(levels []float64) []float64 {
	if len(levels) == 0 {
		return nil
	}
	sorted := append([]float64(nil), levels...)
	sort.Float64s(sorted)
	var out []float64
	clusterSum := sorted[0]
	clusterN := 1
	clusterRef := sorted[0]
	for _, v := range sorted[1:] {
		if clusterRef > 0 && (v-clusterRef)/clusterRef <= 0.02 {
			clusterSum += v
			clusterN++
			continue
		}
		out = append(out, clusterSum/float64(clusterN))
		clusterSum = v
		clusterN = 1
		clusterRef = v
	}
	out = append(out, clusterSum/float64(clusterN))
	return out
}

// KellyCriterion 返回半凯利仓位比例，钳制在 [0, 0.4]。
func KellyCriterion(winRate, avgWin, avgLoss float64) (float64, error) {
	if winRate <= 0 || winRate >= 1 {
		return 0, fmt.Errorf("kelly: %w: win rate must be in (0,1)", ErrInvalidInput)
	}
	if avgWin <= 0 || avgLoss <= 0 {
		return 0, fmt.Errorf("kelly: %w: avg win/loss must be positive", ErrInvalidInput)
	}
	b := avgWin / avgLoss
	f := (winRate*b - (1 - winRate)) / b
	half := f / 2
	if half < 0 {
		return 0, nil
	}
	if half > 0.4 {
		return 0.4, nil
	}
	return half, nil
}

// PositionSize 按风险额/止损距离计算仓位，上限为 0.4·balance。
func PositionSize(balance, riskPercent, stopDistancePercent float64) (float64, error) {
	if balance <= 0 || riskPercent <= 0 || stopDistancePercent <= 0 {
		return 0, fmt.Errorf("position_size: %w: all inputs must be positive", ErrInvalidInput)
	}
	size := (balance * riskPercent / 100) / (stopDistancePercent / 100)
	if limit := 0.4 * balance; size > limit {
		size = limit
	}
	return size, nil
}

// RiskReward 返回 |target−entry| / |entry−stop|。
func RiskReward(entry, stop, target float64) (float64, error) {
	if stop == entry {
		return 0, fmt.Errorf("risk_reward: %w: stop must differ from entry", ErrInvalidInput)
	}
	return math.Abs(target-entry) / math.Abs(entry-stop), nil
}

// DrawdownResult 基于运行峰值的回撤统计。
type DrawdownResult struct {
	MaxDrawdown            float64 `json:"max_drawdown"`
	MaxDrawdownPercent     float64 `json:"max_drawdown_percent"`
	CurrentDrawdownPercent float64 `json:"current_drawdown_percent"`
}

// Drawdown 计算序列的最大/当前回撤。MaxDrawdown 以首值为基准换算为绝对额。
func Drawdown(values []float64) (DrawdownResult, error) {
	if len(values) == 0 {
		return DrawdownResult{}, needData("drawdown", 1, 0)
	}
	peak := values[0]
	var maxPct float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if pct := (peak - v) / peak * 100; pct > maxPct {
				maxPct = pct
			}
		}
	}
	var currentPct float64
	if peak > 0 {
		currentPct = (peak - values[len(values)-1]) / peak * 100
	}
	return DrawdownResult{
		MaxDrawdown:            maxPct / 100 * values[0],
		MaxDrawdownPercent:     maxPct,
		CurrentDrawdownPercent: currentPct,
	}, nil
}

// populationVariance 计算总体方差（除以 n）。
func populationVariance(data []float64, mean float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(data))
}
