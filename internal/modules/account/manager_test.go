package account

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastheader/masthead/internal/domain"
)

type fakeExchange struct {
	balances     []domain.ExchangeBalance
	prices       map[string]float64
	activeOrders []domain.ExchangeOrder
}

func (f *fakeExchange) GetTradeAccounts(ctx context.Context) ([]domain.ExchangeBalance, error) {
	return f.balances, nil
}

func (f *fakeExchange) GetFiatPrice(ctx context.Context, currency string) (float64, error) {
	price, ok := f.prices[currency]
	if !ok {
		return 0, fmt.Errorf("no spot price for %s", currency)
	}
	return price, nil
}

func (f *fakeExchange) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	return domain.SymbolInfo{Symbol: symbol}, nil
}

func (f *fakeExchange) CreateLimitOrder(ctx context.Context, req domain.CreateOrderRequest) (string, error) {
	return "order-1", nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, orderID string) (domain.ExchangeOrder, error) {
	return domain.ExchangeOrder{OrderID: orderID}, nil
}

func (f *fakeExchange) ListActiveOrders(ctx context.Context, side, symbol string) ([]domain.ExchangeOrder, error) {
	return f.activeOrders, nil
}

type fakeRepo struct {
	puts       []domain.Account
	available  []float64
	increments int
}

func (f *fakeRepo) Put(ctx context.Context, account domain.Account) error {
	f.puts = append(f.puts, account)
	return nil
}

func (f *fakeRepo) UpdateAvailableBalance(ctx context.Context, name string, available float64) error {
	f.available = append(f.available, available)
	return nil
}

func (f *fakeRepo) IncrementTradesOpen(ctx context.Context, name string) error {
	f.increments++
	return nil
}

func newTestManager(exchange *fakeExchange, repo *fakeRepo, maxTrades int) *Manager {
	return NewManager(exchange, repo, "TRADE", maxTrades, zerolog.Nop())
}

func TestRefreshDerivesSnapshotFromExchange(t *testing.T) {
	exchange := &fakeExchange{
		balances: []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 1000, Available: 400},
			{Currency: "BTC", Balance: 0.5},
			{Currency: "KCS", Balance: 10},
		},
		prices: map[string]float64{"BTC": 2000, "KCS": 0},
	}
	repo := &fakeRepo{}
	mgr := newTestManager(exchange, repo, 5)

	snapshot, err := mgr.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2000.0, snapshot.Balance)
	assert.Equal(t, 400.0, snapshot.BalanceAvailable)
	assert.Equal(t, 1, snapshot.TradesOpen, "fee token must not count as an open trade")
	assert.Equal(t, 400.0, snapshot.PositionMax)
	require.Len(t, repo.puts, 1)
	assert.Equal(t, snapshot.Balance, repo.puts[0].Balance)
}

func TestCanTrade(t *testing.T) {
	tests := []struct {
		name      string
		balances  []domain.ExchangeBalance
		prices    map[string]float64
		maxTrades int
		want      bool
	}{
		{
			name: "capacity and balance available",
			balances: []domain.ExchangeBalance{
				{Currency: "USDT", Balance: 1000, Available: 400},
				{Currency: "BTC", Balance: 0.5},
			},
			prices:    map[string]float64{"BTC": 2000},
			maxTrades: 5,
			want:      true,
		},
		{
			name: "all trade slots taken",
			balances: []domain.ExchangeBalance{
				{Currency: "USDT", Balance: 500, Available: 500},
				{Currency: "A", Balance: 1}, {Currency: "B", Balance: 1},
			},
			prices:    map[string]float64{"A": 100, "B": 100},
			maxTrades: 2,
			want:      false,
		},
		{
			name: "available below half the position cap",
			balances: []domain.ExchangeBalance{
				{Currency: "USDT", Balance: 50, Available: 50},
				{Currency: "BTC", Balance: 0.5},
			},
			prices:    map[string]float64{"BTC": 1900},
			maxTrades: 5,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchange := &fakeExchange{balances: tt.balances, prices: tt.prices}
			mgr := newTestManager(exchange, &fakeRepo{}, tt.maxTrades)

			_, err := mgr.Refresh(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, mgr.CanTrade())
		})
	}
}

func TestPositionSizeMax(t *testing.T) {
	tests := []struct {
		name      string
		available float64
		btc       float64
		want      float64
	}{
		{name: "capped by position max", available: 1000, btc: 0, want: 199},
		{name: "capped by available", available: 150.7, btc: 0.5, want: 149},
		{name: "never negative", available: 0.5, btc: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchange := &fakeExchange{
				balances: []domain.ExchangeBalance{
					{Currency: "USDT", Balance: 1000, Available: tt.available},
					{Currency: "BTC", Balance: tt.btc},
				},
				prices: map[string]float64{"BTC": 2000},
			}
			mgr := newTestManager(exchange, &fakeRepo{}, 5)

			_, err := mgr.Refresh(context.Background())
			require.NoError(t, err)

			size := mgr.PositionSizeMax()
			assert.Equal(t, tt.want, size)
			assert.GreaterOrEqual(t, size, 0.0)
		})
	}
}

func TestIncrementalMutatorsPersistImmediately(t *testing.T) {
	exchange := &fakeExchange{
		balances: []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 1000, Available: 1000},
		},
	}
	repo := &fakeRepo{}
	mgr := newTestManager(exchange, repo, 5)

	_, err := mgr.Refresh(context.Background())
	require.NoError(t, err)

	require.NoError(t, mgr.DecrementAvailable(context.Background(), 199))
	require.Len(t, repo.available, 1)
	assert.Equal(t, 801.0, repo.available[0])
	assert.Equal(t, 801.0, mgr.Snapshot().BalanceAvailable)

	require.NoError(t, mgr.IncrementOpenTrades(context.Background()))
	assert.Equal(t, 1, repo.increments)
	assert.Equal(t, 1, mgr.Snapshot().TradesOpen)
}
