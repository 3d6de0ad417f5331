package domain

import (
	"context"
	"time"
)

// ExchangeBalance is one currency balance on the exchange's trade ledger.
// Holds is the portion locked by open orders.
type ExchangeBalance struct {
	ID        string
	Currency  string
	Type      string
	Balance   float64
	Available float64
	Holds     float64
}

// SymbolInfo carries the exchange's quantization rules for a trading pair.
type SymbolInfo struct {
	Symbol         string
	BaseCurrency   string
	QuoteCurrency  string
	PriceIncrement string
	BaseIncrement  string
	EnableTrading  bool
}

// ExchangeOrder is the exchange's view of an order.
type ExchangeOrder struct {
	OrderID      string
	Symbol       string
	Side         string
	Price        float64
	Size         float64
	DealSize     float64
	IsActive     bool
	CancelExist  bool
	TimeInForce  string
	CreatedAt    time.Time
}

// CreateOrderRequest describes a limit order to place.
type CreateOrderRequest struct {
	Symbol      string
	Side        string // "buy" or "sell"
	Price       float64
	Size        float64
	TimeInForce string        // "GTC" or "GTT"
	CancelAfter time.Duration // only meaningful for GTT
}

// ExchangeClient is the contract against the upstream exchange API. It is
// consumed by the account manager, the trade executor and the monitor stage;
// declared here to avoid import cycles between those modules.
type ExchangeClient interface {
	// GetTradeAccounts returns the trade-type balances worth looking at:
	// every non-zero balance plus the quote-currency balance.
	GetTradeAccounts(ctx context.Context) ([]ExchangeBalance, error)

	// GetFiatPrice returns the quote-currency spot price for a currency.
	GetFiatPrice(ctx context.Context, currency string) (float64, error)

	// GetSymbolInfo returns quantization rules for a trading pair.
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)

	// CreateLimitOrder places a limit order and returns the exchange order id.
	CreateLimitOrder(ctx context.Context, req CreateOrderRequest) (string, error)

	// GetOrder fetches an order by exchange id.
	GetOrder(ctx context.Context, orderID string) (ExchangeOrder, error)

	// ListActiveOrders lists open orders, optionally filtered by side and symbol
	// (empty string means no filter).
	ListActiveOrders(ctx context.Context, side, symbol string) ([]ExchangeOrder, error)
}
