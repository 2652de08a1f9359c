package decision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"quantbot/internal/analysis/toolkit"
	symbolpkg "quantbot/internal/pkg/symbol"
)

// 中文说明：
// 工具注册表：Oracle 以字符串点名工具，这里用封闭的查表分发 + 每个工具独立的
// JSON Schema 参数校验来承接，绝不在未校验的形状上执行任何分支。

// SeriesProvider 为工具提供收盘价序列（由 market.Store 实现）。
// 行情过期时返回空序列，工具的长度校验会给出 InsufficientDataError。
type SeriesProvider interface {
	ClosePrices(symbol, interval string) []float64
}

type toolFunc func(params map[string]any, series SeriesProvider, interval string) (any, error)

type tool struct {
	Name        string
	Description string
	schema      *jsonschema.Schema
	run         toolFunc
}

// ToolRegistry 封闭的工具集合。
type ToolRegistry struct {
	interval string
	series   SeriesProvider
	tools    map[string]tool
}

// NewToolRegistry 编译全部工具的参数 schema 并建表。
// schema 均为常量字符串，编译失败属于程序缺陷，直接 panic。
func NewToolRegistry(series SeriesProvider, interval string) *ToolRegistry {
	r := &ToolRegistry{
		interval: strings.TrimSpace(interval),
		series:   series,
		tools:    make(map[string]tool),
	}
	if r.interval == "" {
		r.interval = "1h"
	}
	for _, t := range buildTools() {
		r.tools[t.Name] = t
	}
	return r
}

// Names 返回排序后的工具名列表。
func (r *ToolRegistry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RenderCatalog 渲染给 system prompt 的工具目录。
func (r *ToolRegistry) RenderCatalog() string {
	var b strings.Builder
	for _, name := range r.Names() {
		t := r.tools[name]
		b.WriteString("- ")
		b.WriteString(t.Name)
		b.WriteString(": ")
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	return b.String()
}

// Execute 校验并执行一个分析请求。
func (r *ToolRegistry) Execute(req AnalysisRequest) (any, error) {
	name := strings.ToLower(strings.TrimSpace(req.Tool))
	t, ok := r.tools[name]
	if !ok {
		return nil, invalidTool(req.Tool, "unknown tool, known: %s", strings.Join(r.Names(), ", "))
	}
	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	if err := t.schema.Validate(anyParams(params)); err != nil {
		return nil, invalidTool(name, "parameters rejected: %v", err)
	}
	return t.run(params, r.series, r.interval)
}

// anyParams 拷贝一层，避免 schema 校验副作用影响原始转录。
func anyParams(params map[string]any) any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func mustSchema(name, body string) *jsonschema.Schema {
	sch, err := jsonschema.CompileString(name+".schema.json", body)
	if err != nil {
		panic(fmt.Sprintf("tool %s schema: %v", name, err))
	}
	return sch
}

func symbolSchema(extra string) string {
	props := `"symbol":{"type":"string","minLength":1}`
	if extra != "" {
		props += "," + extra
	}
	return `{"type":"object","properties":{` + props + `},"required":["symbol"],"additionalProperties":false}`
}

func closesFor(params map[string]any, series SeriesProvider, interval string) ([]float64, string) {
	sym := symbolpkg.Normalize(paramString(params, "symbol"))
	if sym == "" {
		return nil, ""
	}
	return series.ClosePrices(sym, interval), sym
}

func buildTools() []tool {
	return []tool{
		{
			Name:        "statistics",
			Description: "收盘价序列的均值/中位数/标准差/方差/极值。参数: symbol",
			schema:      mustSchema("statistics", symbolSchema("")),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				res, err := toolkit.Statistics(closes)
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
		{
			Name:        "correlation",
			Description: "两个币种收盘序列的皮尔逊相关系数。参数: symbol, symbol_b",
			schema: mustSchema("correlation", `{"type":"object","properties":{
				"symbol":{"type":"string","minLength":1},
				"symbol_b":{"type":"string","minLength":1}
			},"required":["symbol","symbol_b"],"additionalProperties":false}`),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				a, _ := closesFor(params, series, interval)
				symB := symbolpkg.Normalize(paramString(params, "symbol_b"))
				b := series.ClosePrices(symB, interval)
				if len(a) > len(b) {
					a = a[len(a)-len(b):]
				} else if len(b) > len(a) {
					b = b[len(b)-len(a):]
				}
				r, err := toolkit.Correlation(a, b)
				if err != nil {
					return nil, err
				}
				return map[string]float64{"correlation": r}, nil
			},
		},
		{
			Name:        "volatility",
			Description: "对数收益率年化波动率。参数: symbol, period（默认30）",
			schema:      mustSchema("volatility", symbolSchema(`"period":{"type":"integer","minimum":1}`)),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				vol, err := toolkit.Volatility(closes, paramInt(params, "period", 30))
				if err != nil {
					return nil, err
				}
				return map[string]float64{"annualized_volatility": vol}, nil
			},
		},
		{
			Name:        "rsi",
			Description: "Wilder RSI。参数: symbol, period（默认14）",
			schema:      mustSchema("rsi", symbolSchema(`"period":{"type":"integer","minimum":1}`)),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				v, err := toolkit.RSI(closes, paramInt(params, "period", 14))
				if err != nil {
					return nil, err
				}
				return map[string]float64{"rsi": v}, nil
			},
		},
		{
			Name:        "macd",
			Description: "12/26/9 MACD 线、信号线与柱状值。参数: symbol",
			schema:      mustSchema("macd", symbolSchema("")),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				res, err := toolkit.MACD(closes)
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
		{
			Name:        "bollinger_bands",
			Description: "布林带。参数: symbol, period（默认20）, std_dev（默认2）",
			schema: mustSchema("bollinger_bands", symbolSchema(
				`"period":{"type":"integer","minimum":1},"std_dev":{"type":"number","exclusiveMinimum":0}`)),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				res, err := toolkit.BollingerBands(closes, paramInt(params, "period", 20), paramFloat(params, "std_dev", 2))
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
		{
			Name:        "ema",
			Description: "指数移动平均（末值）。参数: symbol, period",
			schema: mustSchema("ema", `{"type":"object","properties":{
				"symbol":{"type":"string","minLength":1},
				"period":{"type":"integer","minimum":1}
			},"required":["symbol","period"],"additionalProperties":false}`),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				out, err := toolkit.EMA(closes, paramInt(params, "period", 0))
				if err != nil {
					return nil, err
				}
				return map[string]float64{"ema": out[len(out)-1]}, nil
			},
		},
		{
			Name:        "sma",
			Description: "简单移动平均（末值）。参数: symbol, period",
			schema: mustSchema("sma", `{"type":"object","properties":{
				"symbol":{"type":"string","minLength":1},
				"period":{"type":"integer","minimum":1}
			},"required":["symbol","period"],"additionalProperties":false}`),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				out, err := toolkit.SMA(closes, paramInt(params, "period", 0))
				if err != nil {
					return nil, err
				}
				return map[string]float64{"sma": out[len(out)-1]}, nil
			},
		},
		{
			Name:        "detect_trend",
			Description: "线性回归趋势（方向/强度/置信度）。参数: symbol, min_period（默认20）",
			schema:      mustSchema("detect_trend", symbolSchema(`"min_period":{"type":"integer","minimum":2}`)),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				res, err := toolkit.DetectTrend(closes, paramInt(params, "min_period", 20))
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
		{
			Name:        "support_resistance",
			Description: "局部极值聚类出的支撑/阻力位。参数: symbol",
			schema:      mustSchema("support_resistance", symbolSchema("")),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				res, err := toolkit.FindSupportResistance(closes)
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
		{
			Name:        "kelly_criterion",
			Description: "半凯利仓位比例。参数: win_rate(0~1), avg_win, avg_loss",
			schema: mustSchema("kelly_criterion", `{"type":"object","properties":{
				"win_rate":{"type":"number","exclusiveMinimum":0,"exclusiveMaximum":1},
				"avg_win":{"type":"number","exclusiveMinimum":0},
				"avg_loss":{"type":"number","exclusiveMinimum":0}
			},"required":["win_rate","avg_win","avg_loss"],"additionalProperties":false}`),
			run: func(params map[string]any, _ SeriesProvider, _ string) (any, error) {
				f, err := toolkit.KellyCriterion(
					paramFloat(params, "win_rate", 0),
					paramFloat(params, "avg_win", 0),
					paramFloat(params, "avg_loss", 0),
				)
				if err != nil {
					return nil, err
				}
				return map[string]float64{"fraction": f}, nil
			},
		},
		{
			Name:        "position_size",
			Description: "按风险额/止损距离计算仓位（上限 40% 余额）。参数: balance, risk_percent, stop_distance_percent",
			schema: mustSchema("position_size", `{"type":"object","properties":{
				"balance":{"type":"number","exclusiveMinimum":0},
				"risk_percent":{"type":"number","exclusiveMinimum":0},
				"stop_distance_percent":{"type":"number","exclusiveMinimum":0}
			},"required":["balance","risk_percent","stop_distance_percent"],"additionalProperties":false}`),
			run: func(params map[string]any, _ SeriesProvider, _ string) (any, error) {
				size, err := toolkit.PositionSize(
					paramFloat(params, "balance", 0),
					paramFloat(params, "risk_percent", 0),
					paramFloat(params, "stop_distance_percent", 0),
				)
				if err != nil {
					return nil, err
				}
				return map[string]float64{"size_usd": size}, nil
			},
		},
		{
			Name:        "risk_reward",
			Description: "风险回报比 |target−entry|/|entry−stop|。参数: entry, stop, target",
			schema: mustSchema("risk_reward", `{"type":"object","properties":{
				"entry":{"type":"number","exclusiveMinimum":0},
				"stop":{"type":"number","exclusiveMinimum":0},
				"target":{"type":"number","exclusiveMinimum":0}
			},"required":["entry","stop","target"],"additionalProperties":false}`),
			run: func(params map[string]any, _ SeriesProvider, _ string) (any, error) {
				rr, err := toolkit.RiskReward(
					paramFloat(params, "entry", 0),
					paramFloat(params, "stop", 0),
					paramFloat(params, "target", 0),
				)
				if err != nil {
					return nil, err
				}
				return map[string]float64{"risk_reward": rr}, nil
			},
		},
		{
			Name:        "drawdown",
			Description: "收盘序列的最大/当前回撤。参数: symbol",
			schema:      mustSchema("drawdown", symbolSchema("")),
			run: func(params map[string]any, series SeriesProvider, interval string) (any, error) {
				closes, _ := closesFor(params, series, interval)
				res, err := toolkit.Drawdown(closes)
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
	}
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
