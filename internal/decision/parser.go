package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"quantbot/internal/pkg/jsonutil"
)

// 中文说明：
// Oracle 输出是不可信的自由文本，控制流却由它驱动（继续分析 vs 终局决策）。
// 解析分三步：提取 JSON 片段 → gjson 结构预判（外部标签判别）→ 严格反序列化。
// 未通过全部校验前不执行任何分支。

// ParsedKind 响应类别。
type ParsedKind int

const (
	ParsedAnalysis ParsedKind = iota + 1
	ParsedDecisions
)

// Parsed 解析结果：分析请求或决策数组，二选一。
type Parsed struct {
	Kind      ParsedKind
	Analysis  *AnalysisRequest
	Decisions []Decision
	RawJSON   string
}

// Parse 将 Oracle 原始文本解析为 AnalysisRequest 或决策数组。
func Parse(raw string) (Parsed, error) {
	block, kind := jsonutil.Extract(raw)
	if kind == jsonutil.KindNone {
		return Parsed{}, fmt.Errorf("%w: no JSON found", ErrMalformedResponse)
	}
	if !gjson.Valid(block) {
		return Parsed{}, fmt.Errorf("%w: extracted block is not valid JSON", ErrMalformedResponse)
	}
	parsed := gjson.Parse(block)

	switch kind {
	case jsonutil.KindObject:
		// 对象必须带 tool 字段才算分析请求
		toolField := parsed.Get("tool")
		if !toolField.Exists() || strings.TrimSpace(toolField.String()) == "" {
			return Parsed{}, fmt.Errorf("%w: object without tool field", ErrMalformedResponse)
		}
		if params := parsed.Get("parameters"); params.Exists() && !params.IsObject() {
			return Parsed{}, fmt.Errorf("%w: parameters must be an object", ErrMalformedResponse)
		}
		var req AnalysisRequest
		dec := json.NewDecoder(strings.NewReader(block))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return Parsed{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return Parsed{Kind: ParsedAnalysis, Analysis: &req, RawJSON: block}, nil

	case jsonutil.KindArray:
		if err := preValidateDecisionArray(parsed); err != nil {
			return Parsed{}, err
		}
		var ds []Decision
		dec := json.NewDecoder(strings.NewReader(block))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ds); err != nil {
			return Parsed{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return Parsed{Kind: ParsedDecisions, Decisions: ds, RawJSON: block}, nil
	}
	return Parsed{}, ErrMalformedResponse
}

// preValidateDecisionArray 在严格反序列化前检查数组元素形状。
// 空数组合法（等价于 HOLD）。
func preValidateDecisionArray(parsed gjson.Result) error {
	var schemaErr error
	idx := 0
	parsed.ForEach(func(_, value gjson.Result) bool {
		idx++
		if !value.IsObject() {
			schemaErr = fmt.Errorf("%w: decision #%d is not an object", ErrMalformedResponse, idx)
			return false
		}
		if strings.TrimSpace(value.Get("action").String()) == "" {
			schemaErr = fmt.Errorf("%w: decision #%d missing action", ErrMalformedResponse, idx)
			return false
		}
		return true
	})
	return schemaErr
}
