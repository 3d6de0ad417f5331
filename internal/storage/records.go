package storage

import (
	"time"

	"github.com/mastheader/masthead/internal/domain"
)

// Record shapes marshalled to DynamoDB items via attributevalue. Timestamps
// are pre-formatted strings so every table carries the same encoding.

type assetRecord struct {
	Slug             string  `dynamodbav:"slug"`
	Ticker           string  `dynamodbav:"ticker"`
	Name             string  `dynamodbav:"name"`
	MarketSegment    string  `dynamodbav:"marketSegment"`
	TotalSupply      float64 `dynamodbav:"totalSupply"`
	TimestampCreated int64   `dynamodbav:"timestampCreated"`
	DatetimeCreated  string  `dynamodbav:"datetimeCreated"`
}

type metricRecord struct {
	Slug                  string   `dynamodbav:"slug"`
	DatetimeMetric        string   `dynamodbav:"datetime_metric"`
	PriceUSD              float64  `dynamodbav:"price_usd"`
	ActiveAddressesChange float64  `dynamodbav:"active_addresses_24h_change_1d"`
	MarketcapUSD          *float64 `dynamodbav:"marketcap_usd,omitempty"`
	ExchangeInflowChange  *float64 `dynamodbav:"exchange_inflow_change_1d,omitempty"`
	ExchangeOutflowChange *float64 `dynamodbav:"exchange_outflow_change_1d,omitempty"`
	AgeConsumed           *float64 `dynamodbav:"age_consumed,omitempty"`
	VolumeUSD             *float64 `dynamodbav:"volume_usd,omitempty"`
	VolumeUSDChange       *float64 `dynamodbav:"volume_usd_change_1d,omitempty"`
}

type positionRecord struct {
	Slug            string `dynamodbav:"slug"`
	GUID            string `dynamodbav:"guid"`
	DatetimeCreated string `dynamodbav:"datetimeCreated"`
}

type decisionRecord struct {
	GUID            string                   `dynamodbav:"guid"`
	Slug            string                   `dynamodbav:"slug"`
	Action          string                   `dynamodbav:"action"`
	Indicators      domain.IndicatorSnapshot `dynamodbav:"indicators"`
	Closed          bool                     `dynamodbav:"closed"`
	DatetimeCreated string                   `dynamodbav:"datetimeCreated"`
}

type accountRecord struct {
	AccountName      string  `dynamodbav:"account_name"`
	Balance          float64 `dynamodbav:"balance"`
	BalanceAvailable float64 `dynamodbav:"balance_avail"`
	MaxTrades        int     `dynamodbav:"trades_max"`
	TradesOpen       int     `dynamodbav:"trades_open"`
	PositionMax      float64 `dynamodbav:"position_max"`
	Datetime         string  `dynamodbav:"datetime"`
}

type orderRecord struct {
	OrderID         string  `dynamodbav:"order_id"`
	Slug            string  `dynamodbav:"slug"`
	GUIDMeta        string  `dynamodbav:"guid_meta"`
	GUIDDetails     string  `dynamodbav:"guid_details"`
	Symbol          string  `dynamodbav:"symbol"`
	Side            string  `dynamodbav:"side"`
	Price           float64 `dynamodbav:"price"`
	Size            float64 `dynamodbav:"size"`
	Status          string  `dynamodbav:"status"`
	DatetimeCreated string  `dynamodbav:"datetimeCreated"`
}

func toAssetRecord(a domain.Asset) assetRecord {
	return assetRecord{
		Slug:             a.Slug,
		Ticker:           a.Ticker,
		Name:             a.Name,
		MarketSegment:    a.MarketSegment,
		TotalSupply:      a.TotalSupply,
		TimestampCreated: a.CreatedAt.UTC().Unix(),
		DatetimeCreated:  a.CreatedAt.UTC().Format(domain.TimeFormat),
	}
}

func (r assetRecord) toDomain() domain.Asset {
	created, _ := time.Parse(domain.TimeFormat, r.DatetimeCreated)
	return domain.Asset{
		Slug:          r.Slug,
		Ticker:        r.Ticker,
		Name:          r.Name,
		MarketSegment: r.MarketSegment,
		TotalSupply:   r.TotalSupply,
		CreatedAt:     created,
	}
}

func toMetricRecord(s domain.MetricSample) metricRecord {
	return metricRecord{
		Slug:                  s.Slug,
		DatetimeMetric:        s.Timestamp.UTC().Format(domain.TimeFormat),
		PriceUSD:              s.PriceUSD,
		ActiveAddressesChange: s.ActiveAddressesChange,
		MarketcapUSD:          s.MarketcapUSD,
		ExchangeInflowChange:  s.ExchangeInflowChange,
		ExchangeOutflowChange: s.ExchangeOutflowChange,
		AgeConsumed:           s.AgeConsumed,
		VolumeUSD:             s.VolumeUSD,
		VolumeUSDChange:       s.VolumeUSDChange,
	}
}

func (r metricRecord) toDomain() (domain.MetricSample, error) {
	ts, err := time.Parse(domain.TimeFormat, r.DatetimeMetric)
	if err != nil {
		return domain.MetricSample{}, err
	}
	return domain.MetricSample{
		Slug:                  r.Slug,
		Timestamp:             ts,
		PriceUSD:              r.PriceUSD,
		ActiveAddressesChange: r.ActiveAddressesChange,
		MarketcapUSD:          r.MarketcapUSD,
		ExchangeInflowChange:  r.ExchangeInflowChange,
		ExchangeOutflowChange: r.ExchangeOutflowChange,
		AgeConsumed:           r.AgeConsumed,
		VolumeUSD:             r.VolumeUSD,
		VolumeUSDChange:       r.VolumeUSDChange,
	}, nil
}

func toPositionRecord(p domain.PositionMeta) positionRecord {
	return positionRecord{
		Slug:            p.Slug,
		GUID:            p.GUID,
		DatetimeCreated: p.CreatedAt.UTC().Format(domain.TimeFormat),
	}
}

func (r positionRecord) toDomain() domain.PositionMeta {
	created, _ := time.Parse(domain.TimeFormat, r.DatetimeCreated)
	return domain.PositionMeta{Slug: r.Slug, GUID: r.GUID, CreatedAt: created}
}

func toDecisionRecord(d domain.DecisionRecord) decisionRecord {
	return decisionRecord{
		GUID:            d.GUID,
		Slug:            d.Slug,
		Action:          string(d.Action),
		Indicators:      d.Indicators,
		Closed:          d.Closed,
		DatetimeCreated: d.CreatedAt.UTC().Format(domain.TimeFormat),
	}
}

func (r decisionRecord) toDomain() domain.DecisionRecord {
	created, _ := time.Parse(domain.TimeFormat, r.DatetimeCreated)
	return domain.DecisionRecord{
		GUID:       r.GUID,
		Slug:       r.Slug,
		Action:     domain.TradeAction(r.Action),
		Indicators: r.Indicators,
		Closed:     r.Closed,
		CreatedAt:  created,
	}
}

func toAccountRecord(a domain.Account) accountRecord {
	return accountRecord{
		AccountName:      a.Name,
		Balance:          a.Balance,
		BalanceAvailable: a.BalanceAvailable,
		MaxTrades:        a.MaxTrades,
		TradesOpen:       a.TradesOpen,
		PositionMax:      a.PositionMax,
		Datetime:         a.UpdatedAt.UTC().Format(domain.TimeFormat),
	}
}

func (r accountRecord) toDomain() domain.Account {
	updated, _ := time.Parse(domain.TimeFormat, r.Datetime)
	return domain.Account{
		Name:             r.AccountName,
		Balance:          r.Balance,
		BalanceAvailable: r.BalanceAvailable,
		MaxTrades:        r.MaxTrades,
		TradesOpen:       r.TradesOpen,
		PositionMax:      r.PositionMax,
		UpdatedAt:        updated,
	}
}

func toOrderRecord(o domain.Order) orderRecord {
	return orderRecord{
		OrderID:         o.OrderID,
		Slug:            o.Slug,
		GUIDMeta:        o.GUIDMeta,
		GUIDDetails:     o.GUIDDetails,
		Symbol:          o.Symbol,
		Side:            o.Side,
		Price:           o.Price,
		Size:            o.Size,
		Status:          o.Status,
		DatetimeCreated: o.CreatedAt.UTC().Format(domain.TimeFormat),
	}
}

func (r orderRecord) toDomain() domain.Order {
	created, _ := time.Parse(domain.TimeFormat, r.DatetimeCreated)
	return domain.Order{
		OrderID:     r.OrderID,
		Slug:        r.Slug,
		GUIDMeta:    r.GUIDMeta,
		GUIDDetails: r.GUIDDetails,
		Symbol:      r.Symbol,
		Side:        r.Side,
		Price:       r.Price,
		Size:        r.Size,
		Status:      r.Status,
		CreatedAt:   created,
	}
}
