// Package domain holds the core entities shared across pipeline stages.
// It has no infrastructure dependencies.
package domain

import "time"

// TimeFormat is the canonical timestamp encoding used in storage and on the wire.
// All timestamps are UTC.
const TimeFormat = "2006-01-02T15:04:05Z"

// QuoteCurrency is the settlement currency every balance is valued in.
const QuoteCurrency = "USDT"

// CloseSuffix distinguishes the close-side audit records of a position from
// the open-side record sharing the same guid.
const CloseSuffix = "#close"

// TradeAction is the discrete decision produced by the strategy engine.
type TradeAction string

const (
	ActionOpen  TradeAction = "open"
	ActionClose TradeAction = "close"
	ActionPass  TradeAction = "pass"
)

// Asset is a tradable asset discovered in the intersection of the exchange
// and the market-data provider. Immutable once inserted.
type Asset struct {
	Slug          string
	Ticker        string
	Name          string
	MarketSegment string
	TotalSupply   float64
	CreatedAt     time.Time
}

// MetricSample is one row of harvested metrics for a slug at a timestamp.
// PriceUSD and ActiveAddressesChange are mandatory; the rest may be absent
// for slugs the provider only partially covers.
type MetricSample struct {
	Slug                  string
	Timestamp             time.Time
	PriceUSD              float64
	ActiveAddressesChange float64
	MarketcapUSD          *float64
	ExchangeInflowChange  *float64
	ExchangeOutflowChange *float64
	AgeConsumed           *float64
	VolumeUSD             *float64
	VolumeUSDChange       *float64
}

// PositionMeta marks a slug as having an open position. Its existence is the
// single source of truth for "is this slug currently open"; at most one per slug.
type PositionMeta struct {
	Slug      string
	GUID      string
	CreatedAt time.Time
}

// IndicatorSnapshot captures the indicator values behind a decision, for audit.
type IndicatorSnapshot struct {
	PriceUSD      float64 `json:"price_usd"`
	SMA           float64 `json:"sma"`
	SMADerivative float64 `json:"sma_derivative"`
	Deviation     float64 `json:"deviation"`
	DAAChange     float64 `json:"daa_change"`
	Trending      bool    `json:"trending"`
	TradeOpen     bool    `json:"trade_open"`
	TradeClose    bool    `json:"trade_close"`
}

// DecisionRecord is the append-only audit entry for a committed open/close
// decision. PASS decisions are never persisted.
type DecisionRecord struct {
	Slug       string
	GUID       string
	Action     TradeAction
	Indicators IndicatorSnapshot
	Closed     bool
	CreatedAt  time.Time
}

// Account is the singleton trading account snapshot derived from exchange truth.
// PositionMax is Balance / MaxTrades, floored to a whole quote unit.
type Account struct {
	Name             string
	Balance          float64
	BalanceAvailable float64
	MaxTrades        int
	TradesOpen       int
	PositionMax      float64
	UpdatedAt        time.Time
}

// Order is the persisted snapshot of an exchange order placed by the trade
// executor. Keyed by the exchange-assigned order id.
type Order struct {
	OrderID     string
	Slug        string
	GUIDMeta    string
	GUIDDetails string
	Symbol      string
	Side        string
	Price       float64
	Size        float64
	Status      string
	CreatedAt   time.Time
}

// Signal is a committed trade decision in flight between the strategy engine
// and the trade executor.
type Signal struct {
	Slug     string
	Ticker   string
	Action   TradeAction
	GUID     string
	IssuedAt time.Time
}

// Symbol returns the exchange trading pair for the signal's ticker.
func (s Signal) Symbol() string {
	return s.Ticker + "-" + QuoteCurrency
}
