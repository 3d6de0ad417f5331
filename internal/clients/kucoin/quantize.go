package kucoin

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// quantize floors value to a multiple of increment and returns it as float64.
// The exchange rejects orders whose price or size does not align with the
// symbol's increments, so both are truncated, never rounded up.
func quantize(value float64, increment string) (float64, error) {
	inc, err := decimal.NewFromString(increment)
	if err != nil {
		return 0, fmt.Errorf("bad increment %q: %w", increment, err)
	}
	if inc.IsZero() {
		return value, nil
	}

	v := decimal.NewFromFloat(value)
	quantized := v.Div(inc).Floor().Mul(inc)
	f, _ := quantized.Float64()
	return f, nil
}
