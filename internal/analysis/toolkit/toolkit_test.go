package toolkit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatistics(t *testing.T) {
	stats, err := Statistics([]float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 3.0, stats.Mean)
	assert.Equal(t, 3.0, stats.Median)
	assert.InDelta(t, 1.4142, stats.StdDev, 1e-4)
	assert.Equal(t, 2.0, stats.Variance)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 5.0, stats.Max)
}

func TestStatisticsEvenMedian(t *testing.T) {
	stats, err := Statistics([]float64{4, 1, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, 2.5, stats.Median)
}

func TestStatisticsEmpty(t *testing.T) {
	_, err := Statistics(nil)
	assert.True(t, IsInsufficientData(err))
}

func TestStatisticsDeterministic(t *testing.T) {
	data := []float64{3.1, 2.7, 9.4, 0.2, 5.5}
	a, err := Statistics(data)
	require.NoError(t, err)
	b, err := Statistics(data)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCorrelation(t *testing.T) {
	t.Run("perfect positive", func(t *testing.T) {
		r, err := Correlation([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, r, 1e-9)
	})
	t.Run("perfect negative", func(t *testing.T) {
		r, err := Correlation([]float64{1, 2, 3, 4}, []float64{8, 6, 4, 2})
		require.NoError(t, err)
		assert.InDelta(t, -1.0, r, 1e-9)
	})
	t.Run("zero variance guard", func(t *testing.T) {
		r, err := Correlation([]float64{5, 5, 5}, []float64{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, 0.0, r)
	})
	t.Run("length mismatch", func(t *testing.T) {
		_, err := Correlation([]float64{1, 2}, []float64{1, 2, 3})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func increasing(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func decreasing(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 - float64(i)
	}
	return out
}

func TestRSIExtremes(t *testing.T) {
	rsi, err := RSI(increasing(15), 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rsi)

	rsi, err = RSI(decreasing(15), 14)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rsi)
}

func TestRSIInsufficientData(t *testing.T) {
	_, err := RSI(increasing(14), 14)
	assert.True(t, IsInsufficientData(err))
}

func TestVolatilityOfConstantSeries(t *testing.T) {
	prices := make([]float64, 31)
	for i := range prices {
		prices[i] = 42
	}
	vol, err := Volatility(prices, 30)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vol)
}

func TestVolatilityRequiresHistory(t *testing.T) {
	_, err := Volatility(increasing(10), 10)
	assert.True(t, IsInsufficientData(err))
}

func TestEMASeededByFirstPrice(t *testing.T) {
	series, err := EMA([]float64{10, 11, 12, 13, 14}, 3)
	require.NoError(t, err)
	require.Len(t, series, 5)
	assert.Equal(t, 10.0, series[0])
	// k = 0.5: 11*0.5 + 10*0.5 = 10.5
	assert.InDelta(t, 10.5, series[1], 1e-9)
}

func TestSMA(t *testing.T) {
	series, err := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, series)
}

func TestMACDRequires26(t *testing.T) {
	_, err := MACD(increasing(25))
	assert.True(t, IsInsufficientData(err))

	res, err := MACD(increasing(40))
	require.NoError(t, err)
	// 持续上涨时快线在慢线上方
	assert.Greater(t, res.MACD, 0.0)
}

func TestBollingerBands(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 50
	}
	bands, err := BollingerBands(prices, 20, 2)
	require.NoError(t, err)
	assert.Equal(t, 50.0, bands.Middle)
	assert.Equal(t, 50.0, bands.Upper)
	assert.Equal(t, 50.0, bands.Lower)
}

func TestDetectTrend(t *testing.T) {
	t.Run("bullish", func(t *testing.T) {
		prices := make([]float64, 20)
		for i := range prices {
			prices[i] = 100 * (1 + 0.01*float64(i))
		}
		trend, err := DetectTrend(prices, 20)
		require.NoError(t, err)
		assert.Equal(t, "bullish", trend.Direction)
		assert.Greater(t, trend.Strength, 0.0)
		assert.InDelta(t, 1.0, trend.Confidence, 1e-6)
	})
	t.Run("neutral on flat series", func(t *testing.T) {
		prices := make([]float64, 20)
		for i := range prices {
			prices[i] = 100
		}
		trend, err := DetectTrend(prices, 20)
		require.NoError(t, err)
		assert.Equal(t, "neutral", trend.Direction)
	})
	t.Run("bearish", func(t *testing.T) {
		trend, err := DetectTrend(decreasing(20), 20)
		require.NoError(t, err)
		assert.Equal(t, "bearish", trend.Direction)
	})
}

func TestFindSupportResistance(t *testing.T) {
	// 两个明显波峰（110 附近）与波谷（90 附近）
	prices := []float64{
		100, 105, 110, 105, 100, 95, 90, 95, 100, 105,
		110.5, 105, 100, 95, 90.5, 95, 100, 99, 101, 100,
	}
	levels, err := FindSupportResistance(prices)
	require.NoError(t, err)
	require.Len(t, levels.Resistance, 1)
	require.Len(t, levels.Support, 1)
	assert.InDelta(t, 110.25, levels.Resistance[0], 1e-9)
	assert.InDelta(t, 90.25, levels.Support[0], 1e-9)
}

func TestFindSupportResistanceNeedsHistory(t *testing.T) {
	_, err := FindSupportResistance(increasing(19))
	assert.True(t, IsInsufficientData(err))
}

func TestKellyCriterion(t *testing.T) {
	f, err := KellyCriterion(0.6, 100, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, f, 1e-9)

	t.Run("clamped at 0.4", func(t *testing.T) {
		f, err := KellyCriterion(0.99, 1000, 1)
		require.NoError(t, err)
		assert.Equal(t, 0.4, f)
	})
	t.Run("negative edge clamps to zero", func(t *testing.T) {
		f, err := KellyCriterion(0.3, 50, 100)
		require.NoError(t, err)
		assert.Equal(t, 0.0, f)
	})
	t.Run("win rate bounds", func(t *testing.T) {
		_, err := KellyCriterion(1, 100, 100)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestPositionSizeCap(t *testing.T) {
	size, err := PositionSize(1000, 50, 1)
	require.NoError(t, err)
	assert.Equal(t, 400.0, size)

	size, err = PositionSize(1000, 1, 5)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, size, 1e-9)
}

func TestRiskReward(t *testing.T) {
	rr, err := RiskReward(100, 95, 110)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, rr, 1e-9)

	_, err = RiskReward(100, 100, 110)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDrawdown(t *testing.T) {
	res, err := Drawdown([]float64{100, 120, 90, 110})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, res.MaxDrawdownPercent, 1e-9)
	assert.InDelta(t, 25.0, res.MaxDrawdown, 1e-9) // 25% scaled by first value 100
	assert.InDelta(t, 100*(120-110)/120.0, res.CurrentDrawdownPercent, 1e-9)
}

func TestDrawdownMonotonicSeries(t *testing.T) {
	res, err := Drawdown(increasing(5))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.MaxDrawdownPercent)
	assert.Equal(t, 0.0, res.CurrentDrawdownPercent)
}

func TestVolatilityKnownValue(t *testing.T) {
	// 交替 +10%/−9.0909..% 的对数收益对称，均值 0
	prices := []float64{100, 110, 100, 110, 100, 110, 100, 110, 100, 110, 100}
	vol, err := Volatility(prices, 10)
	require.NoError(t, err)
	expected := math.Abs(math.Log(1.1)) * math.Sqrt(365)
	assert.InDelta(t, expected, vol, 1e-9)
}
