// Package trading provides trading calculation utilities.
package trading

import "github.com/shopspring/decimal"

// Quantity converts margin + leverage at an entry price into base quantity,
// rounded down to the given step. step<=0 means no rounding.
func Quantity(marginUSD float64, leverage int, entryPrice, step float64) float64 {
	if marginUSD <= 0 || leverage <= 0 || entryPrice <= 0 {
		return 0
	}
	notional := decimal.NewFromFloat(marginUSD).Mul(decimal.NewFromInt(int64(leverage)))
	qty := notional.Div(decimal.NewFromFloat(entryPrice))
	if step > 0 {
		stepDec := decimal.NewFromFloat(step)
		qty = qty.Div(stepDec).Floor().Mul(stepDec)
	}
	f, _ := qty.Float64()
	return f
}

// RoundStep rounds value down to the nearest multiple of step.
func RoundStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	f, _ := v.Div(s).Floor().Mul(s).Float64()
	return f
}
