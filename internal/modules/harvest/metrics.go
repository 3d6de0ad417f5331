// Package harvest implements the harvest stage: pulling metric history per
// asset from the market-data provider into the metrics store, watermark
// resolution and the rate-limit requeue protocol.
package harvest

import (
	"sort"
	"time"

	"github.com/mastheader/masthead/internal/clients/santiment"
	"github.com/mastheader/masthead/internal/domain"
)

// Provider metric identifiers. Price and active-address change are mandatory
// for every tradable asset; an asset missing either upstream is removed from
// the tradable set.
const (
	metricPrice           = "price_usd"
	metricActiveAddresses = "active_addresses_24h_change_1d"
	metricMarketcap       = "marketcap_usd"
	metricExchangeInflow  = "exchange_inflow_change_1d"
	metricExchangeOutflow = "exchange_outflow_change_1d"
	metricAgeConsumed     = "age_consumed"
	metricVolume          = "volume_usd"
	metricVolumeChange    = "volume_usd_change_1d"
)

// harvestMetrics is the full set requested per asset per fetch.
var harvestMetrics = []string{
	metricPrice,
	metricActiveAddresses,
	metricMarketcap,
	metricExchangeInflow,
	metricExchangeOutflow,
	metricAgeConsumed,
	metricVolume,
	metricVolumeChange,
}

// joinSeries aligns the per-metric series on sample timestamp and returns one
// MetricSample per timestamp where both mandatory metrics are present,
// ascending. Rows missing a mandatory value are dropped; optional metrics
// attach where they exist.
func joinSeries(slug string, series map[string][]santiment.Point) []domain.MetricSample {
	bySlot := make(map[time.Time]*domain.MetricSample)
	for _, p := range series[metricPrice] {
		bySlot[p.Timestamp] = &domain.MetricSample{
			Slug:      slug,
			Timestamp: p.Timestamp,
			PriceUSD:  p.Value,
		}
	}

	joined := make(map[time.Time]*domain.MetricSample, len(bySlot))
	for _, p := range series[metricActiveAddresses] {
		if sample, ok := bySlot[p.Timestamp]; ok {
			sample.ActiveAddressesChange = p.Value
			joined[p.Timestamp] = sample
		}
	}

	attach := func(metric string, set func(*domain.MetricSample, *float64)) {
		for _, p := range series[metric] {
			if sample, ok := joined[p.Timestamp]; ok {
				v := p.Value
				set(sample, &v)
			}
		}
	}
	attach(metricMarketcap, func(s *domain.MetricSample, v *float64) { s.MarketcapUSD = v })
	attach(metricExchangeInflow, func(s *domain.MetricSample, v *float64) { s.ExchangeInflowChange = v })
	attach(metricExchangeOutflow, func(s *domain.MetricSample, v *float64) { s.ExchangeOutflowChange = v })
	attach(metricAgeConsumed, func(s *domain.MetricSample, v *float64) { s.AgeConsumed = v })
	attach(metricVolume, func(s *domain.MetricSample, v *float64) { s.VolumeUSD = v })
	attach(metricVolumeChange, func(s *domain.MetricSample, v *float64) { s.VolumeUSDChange = v })

	samples := make([]domain.MetricSample, 0, len(joined))
	for _, sample := range joined {
		samples = append(samples, *sample)
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples
}
