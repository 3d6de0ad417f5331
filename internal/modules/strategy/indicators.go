// Package strategy implements the strategy engine: indicator computation over
// the harvested metric window and the OPEN/CLOSE/PASS decision with
// position deduplication.
package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/mastheader/masthead/internal/config"
	"github.com/mastheader/masthead/internal/domain"
)

// Calculator computes the indicator snapshot for the latest row of a metric
// window. All thresholds come from configuration; the entry gates are bands
// whose lower bound can be left wide open to disable the band.
type Calculator struct {
	cfg config.StrategyConfig
}

// NewCalculator creates a new indicator calculator.
func NewCalculator(cfg config.StrategyConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// MinSamples is the smallest window the calculator can evaluate: enough for
// the moving average plus a derivative history covering the trend lookback.
func (c *Calculator) MinSamples() int {
	return c.cfg.SmoothingWindow + c.cfg.SignalLookback
}

// Evaluate computes the snapshot for the last sample of the window. Samples
// must be ascending by timestamp.
func (c *Calculator) Evaluate(samples []domain.MetricSample) (domain.IndicatorSnapshot, error) {
	if len(samples) < c.MinSamples() {
		return domain.IndicatorSnapshot{}, fmt.Errorf(
			"window too short: %d samples, need %d", len(samples), c.MinSamples())
	}

	prices := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.PriceUSD
	}

	sma := talib.Sma(prices, c.cfg.SmoothingWindow)

	// Day-over-day change of the moving average. The first SmoothingWindow
	// entries of sma are warm-up; the length check above guarantees every
	// derivative we inspect is past them.
	derivative := make([]float64, len(sma))
	for i := 1; i < len(sma); i++ {
		derivative[i] = sma[i] - sma[i-1]
	}

	last := len(samples) - 1
	positiveTrend := true
	for i := last - c.cfg.SignalLookback + 1; i <= last; i++ {
		if derivative[i] <= 0 {
			positiveTrend = false
			break
		}
	}

	price := prices[last]
	smaLast := sma[last]
	if smaLast == 0 {
		return domain.IndicatorSnapshot{}, fmt.Errorf("zero moving average at window end")
	}
	deviation := (price - smaLast) / smaLast
	daa := samples[last].ActiveAddressesChange

	volatilityEntry := deviation > c.cfg.VolatilityEntryMin && deviation < c.cfg.VolatilityEntryMax
	volatilityExit := deviation > c.cfg.VolatilityExitMin
	daaEntry := daa > c.cfg.DAAEntryMin && daa < c.cfg.DAAEntryMax
	daaExit := daa < c.cfg.DAAExitMax

	trending := positiveTrend && price > smaLast

	return domain.IndicatorSnapshot{
		PriceUSD:      price,
		SMA:           smaLast,
		SMADerivative: derivative[last],
		Deviation:     deviation,
		DAAChange:     daa,
		Trending:      trending,
		TradeOpen:     daaEntry && trending && volatilityEntry,
		TradeClose:    daaExit || volatilityExit || !trending,
	}, nil
}
