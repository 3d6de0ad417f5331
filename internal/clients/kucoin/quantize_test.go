package kucoin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizeTruncatesToIncrement(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		increment string
		want      float64
	}{
		{name: "four decimals", value: 123.456789, increment: "0.0001", want: 123.4567},
		{name: "whole units", value: 123.9, increment: "1", want: 123},
		{name: "already aligned", value: 0.25, increment: "0.05", want: 0.25},
		{name: "smaller than increment", value: 0.004, increment: "0.01", want: 0},
		{name: "zero increment passes through", value: 1.23456, increment: "0", want: 1.23456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := quantize(tt.value, tt.increment)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.LessOrEqual(t, got, tt.value, "quantization must never round up")
		})
	}
}

func TestQuantizeRejectsBadIncrement(t *testing.T) {
	_, err := quantize(1.0, "not-a-number")
	assert.Error(t, err)
}

func TestIsSymbolNotExists(t *testing.T) {
	assert.True(t, IsSymbolNotExists(&APIError{Code: CodeSymbolNotExists}))
	assert.False(t, IsSymbolNotExists(&APIError{Code: "400100"}))
	assert.False(t, IsSymbolNotExists(assert.AnError))
}
