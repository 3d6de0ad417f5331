package trade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastheader/masthead/internal/domain"
	"github.com/mastheader/masthead/internal/queue"
)

// fakeExchange mutates its balances when a sell fills, so a refresh after the
// close sees the freed quote balance like the real exchange would.
type fakeExchange struct {
	balances     []domain.ExchangeBalance
	prices       map[string]float64
	activeOrders []domain.ExchangeOrder
	created      []domain.CreateOrderRequest
	createErr    error
	onSell       func()
	nextID       int
}

func (f *fakeExchange) GetTradeAccounts(ctx context.Context) ([]domain.ExchangeBalance, error) {
	out := make([]domain.ExchangeBalance, len(f.balances))
	copy(out, f.balances)
	return out, nil
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
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	f.nextID++
	if req.Side == "sell" && f.onSell != nil {
		f.onSell()
	}
	return fmt.Sprintf("order-%d", f.nextID), nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, orderID string) (domain.ExchangeOrder, error) {
	return domain.ExchangeOrder{OrderID: orderID}, nil
}

func (f *fakeExchange) ListActiveOrders(ctx context.Context, side, symbol string) ([]domain.ExchangeOrder, error) {
	return f.activeOrders, nil
}

type fakeAccountRepo struct{}

func (f *fakeAccountRepo) Put(ctx context.Context, account domain.Account) error { return nil }
func (f *fakeAccountRepo) UpdateAvailableBalance(ctx context.Context, name string, available float64) error {
	return nil
}
func (f *fakeAccountRepo) IncrementTradesOpen(ctx context.Context, name string) error { return nil }

type fakeOrderStore struct {
	orders []domain.Order
}

func (f *fakeOrderStore) Put(ctx context.Context, order domain.Order) error {
	f.orders = append(f.orders, order)
	return nil
}

type fakePositionStore struct {
	rolledBack []string
}

func (f *fakePositionStore) DeleteIfGUID(ctx context.Context, slug, guid string) error {
	f.rolledBack = append(f.rolledBack, slug)
	return nil
}

type fakeSignalQueue struct {
	pending []queue.Message
	deleted []string
}

func (f *fakeSignalQueue) Receive(ctx context.Context, max int32, wait time.Duration) ([]queue.Message, error) {
	messages := f.pending
	f.pending = nil
	return messages, nil
}

func (f *fakeSignalQueue) Delete(ctx context.Context, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

type fakeMonitorQueue struct {
	sent []struct {
		body  string
		delay time.Duration
	}
}

func (f *fakeMonitorQueue) Send(ctx context.Context, body string, delay time.Duration) (string, error) {
	f.sent = append(f.sent, struct {
		body  string
		delay time.Duration
	}{body, delay})
	return "msg-1", nil
}

func signalMessage(t *testing.T, slug, ticker string, action domain.TradeAction, guid, receipt string) queue.Message {
	t.Helper()
	body, err := queue.EncodeSignal(domain.Signal{
		Slug:     slug,
		Ticker:   ticker,
		Action:   action,
		GUID:     guid,
		IssuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return queue.Message{MessageID: receipt, ReceiptHandle: receipt, Body: body}
}

type executorFixture struct {
	exchange  *fakeExchange
	orders    *fakeOrderStore
	positions *fakePositionStore
	sellQ     *fakeSignalQueue
	buyQ      *fakeSignalQueue
	monitorQ  *fakeMonitorQueue
	executor  *Executor
}

func newExecutorFixture(exchange *fakeExchange) *executorFixture {
	f := &executorFixture{
		exchange:  exchange,
		orders:    &fakeOrderStore{},
		positions: &fakePositionStore{},
		sellQ:     &fakeSignalQueue{},
		buyQ:      &fakeSignalQueue{},
		monitorQ:  &fakeMonitorQueue{},
	}
	f.executor = NewExecutor(exchange, &fakeAccountRepo{}, "TRADE", 5,
		f.orders, f.positions, f.sellQ, f.buyQ, f.monitorQ, nil, zerolog.Nop())
	return f
}

func TestCloseWithoutHeldBalanceIsNoOp(t *testing.T) {
	exchange := &fakeExchange{
		balances: []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 1000, Available: 1000},
		},
		prices: map[string]float64{"ETH": 2000},
	}
	f := newExecutorFixture(exchange)
	f.sellQ.pending = []queue.Message{signalMessage(t, "ethereum", "ETH", domain.ActionClose, "g1", "r1")}

	require.NoError(t, f.executor.cycle(context.Background()))

	assert.Empty(t, exchange.created, "no order may be placed for a flat position")
	assert.Empty(t, f.orders.orders)
	assert.Equal(t, []string{"r1"}, f.sellQ.deleted)
}

func TestCloseSkippedWhenBalanceFullyHeld(t *testing.T) {
	exchange := &fakeExchange{
		balances: []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 1000, Available: 1000},
			{Currency: "ETH", Balance: 1, Available: 0, Holds: 1},
		},
		prices: map[string]float64{"ETH": 2000},
	}
	f := newExecutorFixture(exchange)
	f.sellQ.pending = []queue.Message{signalMessage(t, "ethereum", "ETH", domain.ActionClose, "g1", "r1")}

	require.NoError(t, f.executor.cycle(context.Background()))

	// The resting sell from the first delivery already commits the balance;
	// a second full-size sell would bounce for insufficient funds.
	assert.Empty(t, exchange.created)
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.monitorQ.sent)
	assert.Equal(t, []string{"r1"}, f.sellQ.deleted)
}

func TestCloseSellsOnlyUnheldBalance(t *testing.T) {
	exchange := &fakeExchange{
		balances: []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 1000, Available: 1000},
			{Currency: "ETH", Balance: 2, Available: 1.5, Holds: 0.5},
		},
		prices: map[string]float64{"ETH": 1000},
	}
	f := newExecutorFixture(exchange)
	f.sellQ.pending = []queue.Message{signalMessage(t, "ethereum", "ETH", domain.ActionClose, "g1", "r1")}

	require.NoError(t, f.executor.cycle(context.Background()))

	require.Len(t, exchange.created, 1)
	assert.Equal(t, "sell", exchange.created[0].Side)
	assert.InDelta(t, 1.5, exchange.created[0].Size, 1e-9)
	assert.Equal(t, []string{"r1"}, f.sellQ.deleted)
}

func TestCloseFreesBalanceForOpenInSameCycle(t *testing.T) {
	exchange := &fakeExchange{
		balances: []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 10, Available: 10},
			{Currency: "ETH", Balance: 1},
		},
		prices: map[string]float64{"ETH": 990, "SOL": 10},
	}
	// The sell settles instantly in this scenario: the quote balance grows
	// by the position's value before the next refresh.
	exchange.onSell = func() {
		exchange.balances = []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 1000, Available: 1000},
		}
	}

	f := newExecutorFixture(exchange)
	f.sellQ.pending = []queue.Message{signalMessage(t, "ethereum", "ETH", domain.ActionClose, "g1", "r-close")}
	f.buyQ.pending = []queue.Message{signalMessage(t, "solana", "SOL", domain.ActionOpen, "g2", "r-open")}

	require.NoError(t, f.executor.cycle(context.Background()))

	// Before the close, available 10 is under half the 200 position cap, so
	// the open only succeeds because the close ran first and was refreshed.
	require.Len(t, exchange.created, 2)
	assert.Equal(t, "sell", exchange.created[0].Side)
	assert.Equal(t, "ETH-USDT", exchange.created[0].Symbol)
	assert.Equal(t, 1.0, exchange.created[0].Size)

	buy := exchange.created[1]
	assert.Equal(t, "buy", buy.Side)
	assert.Equal(t, "SOL-USDT", buy.Symbol)
	assert.Equal(t, "GTT", buy.TimeInForce)
	assert.Equal(t, time.Hour, buy.CancelAfter)
	// min(cap 200, avail 1000) - 1 = 199 quote at spot 10
	assert.InDelta(t, 19.9, buy.Size, 1e-9)

	require.Len(t, f.orders.orders, 2)
	assert.Equal(t, "g1"+domain.CloseSuffix, f.orders.orders[0].GUIDDetails)
	assert.Equal(t, "g2", f.orders.orders[1].GUIDDetails)

	require.Len(t, f.monitorQ.sent, 2)
	for _, sent := range f.monitorQ.sent {
		assert.Equal(t, 900*time.Second, sent.delay)
		task, err := queue.DecodeMonitorTask(sent.body)
		require.NoError(t, err)
		assert.NotEmpty(t, task.OrderID)
	}

	assert.Equal(t, []string{"r-close"}, f.sellQ.deleted)
	assert.Equal(t, []string{"r-open"}, f.buyQ.deleted)
}

func TestOpenRolledBackWhenAccountAtCapacity(t *testing.T) {
	exchange := &fakeExchange{
		balances: []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 100, Available: 100},
			{Currency: "A", Balance: 1}, {Currency: "B", Balance: 1},
		},
		prices: map[string]float64{"A": 100, "B": 100, "SOL": 10},
	}
	f := newExecutorFixture(exchange)
	f.executor.maxTrades = 2
	f.buyQ.pending = []queue.Message{signalMessage(t, "solana", "SOL", domain.ActionOpen, "g2", "r-open")}

	require.NoError(t, f.executor.cycle(context.Background()))

	assert.Empty(t, exchange.created)
	assert.Equal(t, []string{"solana"}, f.positions.rolledBack)
	assert.Equal(t, []string{"r-open"}, f.buyQ.deleted)
}

func TestOpenSkippedWhenBuyOrderAlreadyActive(t *testing.T) {
	exchange := &fakeExchange{
		balances: []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 1000, Available: 1000},
		},
		prices:       map[string]float64{"SOL": 10},
		activeOrders: []domain.ExchangeOrder{{OrderID: "working", Side: "buy", Symbol: "SOL-USDT"}},
	}
	f := newExecutorFixture(exchange)
	f.buyQ.pending = []queue.Message{signalMessage(t, "solana", "SOL", domain.ActionOpen, "g2", "r-open")}

	require.NoError(t, f.executor.cycle(context.Background()))

	assert.Empty(t, exchange.created)
	assert.Empty(t, f.positions.rolledBack, "an in-flight order keeps its position claim")
	assert.Equal(t, []string{"r-open"}, f.buyQ.deleted)
}

func TestUnpriceableOpenIsRejectedPermanently(t *testing.T) {
	exchange := &fakeExchange{
		balances: []domain.ExchangeBalance{
			{Currency: "USDT", Balance: 1000, Available: 1000},
		},
		prices: map[string]float64{},
	}
	f := newExecutorFixture(exchange)
	f.buyQ.pending = []queue.Message{signalMessage(t, "obscure", "OBX", domain.ActionOpen, "g3", "r-open")}

	require.NoError(t, f.executor.cycle(context.Background()))

	assert.Empty(t, exchange.created)
	assert.Equal(t, []string{"obscure"}, f.positions.rolledBack)
	assert.Equal(t, []string{"r-open"}, f.buyQ.deleted)
}
