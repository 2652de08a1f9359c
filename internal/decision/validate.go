package decision

import (
	"fmt"
	"strings"

	symbolpkg "quantbot/internal/pkg/symbol"
)

// 中文说明：
// 决策级校验只管词汇表与参数形状；余额/冷却期等业务规则由账本逐条把关。

const (
	MinLeverage = 1
	MaxLeverage = 125
)

var validActions = map[string]bool{
	ActionLong: true, ActionShort: true, ActionClose: true, ActionHold: true,
}

// Validate 校验单笔决策；price 为该 symbol 的快照价（0 表示未知，跳过价位关系检查）。
func Validate(d *Decision, price float64) error {
	action := d.NormalizedAction()
	if !validActions[action] {
		return fmt.Errorf("非法 action: %q", d.Action)
	}
	switch action {
	case ActionLong, ActionShort:
		if symbolpkg.Normalize(d.Symbol) == "" {
			return fmt.Errorf("开仓需提供合法 symbol，收到 %q", d.Symbol)
		}
		if d.Size <= 0 {
			return fmt.Errorf("开仓需提供 size>0")
		}
		if d.Leverage < MinLeverage || d.Leverage > MaxLeverage {
			return fmt.Errorf("leverage 需在 [%d,%d]，收到 %d", MinLeverage, MaxLeverage, d.Leverage)
		}
		if err := validateExitLevels(action, d, price); err != nil {
			return err
		}
	case ActionClose:
		if strings.TrimSpace(d.ClosePositionID) == "" {
			return fmt.Errorf("close 需提供 close_position_id")
		}
	}
	return nil
}

// validateExitLevels 检查止损/止盈与现价的相对关系（两者均为可选）。
func validateExitLevels(action string, d *Decision, price float64) error {
	if d.StopLoss < 0 || d.TakeProfit < 0 {
		return fmt.Errorf("止损/止盈不能为负")
	}
	if price <= 0 {
		return nil
	}
	switch action {
	case ActionLong:
		if d.StopLoss > 0 && d.StopLoss >= price {
			return fmt.Errorf("做多要求 止损 < 现价（%.4f >= %.4f）", d.StopLoss, price)
		}
		if d.TakeProfit > 0 && d.TakeProfit <= price {
			return fmt.Errorf("做多要求 止盈 > 现价（%.4f <= %.4f）", d.TakeProfit, price)
		}
	case ActionShort:
		if d.StopLoss > 0 && d.StopLoss <= price {
			return fmt.Errorf("做空要求 止损 > 现价（%.4f <= %.4f）", d.StopLoss, price)
		}
		if d.TakeProfit > 0 && d.TakeProfit >= price {
			return fmt.Errorf("做空要求 止盈 < 现价（%.4f >= %.4f）", d.TakeProfit, price)
		}
	}
	return nil
}
