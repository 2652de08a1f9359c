package decision

import (
	"errors"
	"fmt"
)

// 错误分类（见各自恢复策略）：
// - ErrOracleTimeout / ErrMalformedResponse：还有迭代次数则消耗一次，否则周期中止为 HOLD
// - InvalidToolCallError：未知工具或参数非法，消耗一次迭代
// - ErrProtocolViolation：迭代上限后仍请求分析，周期中止为 HOLD
var (
	ErrOracleTimeout     = errors.New("oracle call timed out")
	ErrMalformedResponse = errors.New("oracle response is not a valid analysis request or decision array")
	ErrProtocolViolation = errors.New("analysis request after iteration budget exhausted")
)

// InvalidToolCallError 工具名未知或参数未通过该工具的 schema 校验。
type InvalidToolCallError struct {
	Tool   string
	Reason string
}

func (e *InvalidToolCallError) Error() string {
	return fmt.Sprintf("invalid tool call %q: %s", e.Tool, e.Reason)
}

func invalidTool(tool, format string, args ...any) error {
	return &InvalidToolCallError{Tool: tool, Reason: fmt.Sprintf(format, args...)}
}
