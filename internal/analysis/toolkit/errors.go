package toolkit

import (
	"errors"
	"fmt"
)

// ErrInvalidInput 表示参数本身不合法（而非数据量不足）。
var ErrInvalidInput = errors.New("invalid input")

// InsufficientDataError 表示序列长度不满足指标的最小要求。
// 调用方（协议控制器）将其视为可恢复错误：消耗一次迭代而非中止周期。
type InsufficientDataError struct {
	Op   string
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need %d, got %d", e.Op, e.Need, e.Got)
}

// IsInsufficientData reports whether err is an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ide *InsufficientDataError
	return errors.As(err, &ide)
}

func needData(op string, need, got int) error {
	return &InsufficientDataError{Op: op, Need: need, Got: got}
}
