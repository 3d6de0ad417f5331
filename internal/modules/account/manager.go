// Package account implements the account/position manager: the single source
// of truth for tradable balance, open-trade count and per-trade sizing.
package account

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/domain"
)

// feeToken is the exchange's fee-discount token; a balance in it does not
// count as an open trade.
const feeToken = "KCS"

// canTradeMargin is the fraction of the position cap that must be available
// before a new trade is allowed. Absorbs rounding and fee slippage between
// the persisted snapshot and exchange truth.
const canTradeMargin = 0.5

// sizingSafetyMargin is subtracted from every computed position size so a
// single order cannot drain the whole available balance to zero through
// rounding.
const sizingSafetyMargin = 1.0

// Repository is the persistence the manager needs for the account row.
type Repository interface {
	Put(ctx context.Context, account domain.Account) error
	UpdateAvailableBalance(ctx context.Context, name string, available float64) error
	IncrementTradesOpen(ctx context.Context, name string) error
}

// Manager wraps the account store and the exchange. One Manager is created
// per trade-executor invocation and passed by exclusive ownership through the
// batch loop; it is not safe for concurrent use.
type Manager struct {
	exchange  domain.ExchangeClient
	repo      Repository
	name      string
	maxTrades int
	log       zerolog.Logger

	snapshot domain.Account
	balances []domain.ExchangeBalance
}

// NewManager creates a new account manager. Call Refresh before anything else.
func NewManager(exchange domain.ExchangeClient, repo Repository, name string, maxTrades int, log zerolog.Logger) *Manager {
	return &Manager{
		exchange:  exchange,
		repo:      repo,
		name:      name,
		maxTrades: maxTrades,
		log:       log.With().Str("service", "account").Logger(),
	}
}

// Refresh re-derives the whole snapshot from exchange truth and persists it.
// Total balance is every trade balance valued at spot; available balance is
// the quote currency's free amount; every non-quote, non-fee-token balance
// counts as one open trade. Must be called once before a batch and again
// after every order placement.
func (m *Manager) Refresh(ctx context.Context) (domain.Account, error) {
	balances, err := m.exchange.GetTradeAccounts(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to load trade accounts: %w", err)
	}

	var total, available float64
	tradesOpen := 0
	prices := map[string]float64{domain.QuoteCurrency: 1.0}

	for _, b := range balances {
		price, ok := prices[b.Currency]
		if !ok {
			price, err = m.exchange.GetFiatPrice(ctx, b.Currency)
			if err != nil {
				return domain.Account{}, fmt.Errorf("failed to price %s: %w", b.Currency, err)
			}
			prices[b.Currency] = price
		}
		total += b.Balance * price

		if b.Currency == domain.QuoteCurrency {
			available = b.Available
			continue
		}
		if b.Currency != feeToken && b.Balance > 0 {
			tradesOpen++
		}
	}

	m.snapshot = domain.Account{
		Name:             m.name,
		Balance:          total,
		BalanceAvailable: available,
		MaxTrades:        m.maxTrades,
		TradesOpen:       tradesOpen,
		PositionMax:      math.Floor(total / float64(m.maxTrades)),
		UpdatedAt:        time.Now().UTC(),
	}
	m.balances = balances

	if err := m.repo.Put(ctx, m.snapshot); err != nil {
		return domain.Account{}, fmt.Errorf("failed to persist account snapshot: %w", err)
	}

	m.log.Debug().
		Float64("balance", m.snapshot.Balance).
		Float64("available", m.snapshot.BalanceAvailable).
		Int("trades_open", m.snapshot.TradesOpen).
		Float64("position_max", m.snapshot.PositionMax).
		Msg("Account refreshed")
	return m.snapshot, nil
}

// Snapshot returns the current in-memory account view.
func (m *Manager) Snapshot() domain.Account {
	return m.snapshot
}

// TradeAccounts returns the balances loaded by the last Refresh.
func (m *Manager) TradeAccounts() []domain.ExchangeBalance {
	return m.balances
}

// OpenPositionByCurrency returns the held balance for a base currency, or nil
// when no position exists.
func (m *Manager) OpenPositionByCurrency(currency string) *domain.ExchangeBalance {
	for i := range m.balances {
		b := &m.balances[i]
		if b.Currency == currency && b.Currency != domain.QuoteCurrency && b.Balance > 0 {
			return b
		}
	}
	return nil
}

// CanTrade reports whether the account supports opening another position:
// trades below the cap and at least half a position cap of free balance.
func (m *Manager) CanTrade() bool {
	return m.snapshot.TradesOpen < m.snapshot.MaxTrades &&
		m.snapshot.BalanceAvailable >= canTradeMargin*m.snapshot.PositionMax
}

// PositionSizeMax returns the quote amount to commit to the next order:
// min(position cap, available balance) minus the safety margin, floored.
// Never negative.
func (m *Manager) PositionSizeMax() float64 {
	size := math.Min(m.snapshot.PositionMax, m.snapshot.BalanceAvailable)
	size = math.Floor(size - sizingSafetyMargin)
	if size < 0 {
		return 0
	}
	return size
}

// ComputePriceAndSize converts a quote amount into a (price, base size) pair
// at current spot for the ticker.
func (m *Manager) ComputePriceAndSize(ctx context.Context, ticker string, quoteAmount float64) (float64, float64, error) {
	if quoteAmount <= 0 {
		return 0, 0, fmt.Errorf("quote amount must be positive, got %.4f", quoteAmount)
	}

	price, err := m.exchange.GetFiatPrice(ctx, ticker)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to price %s: %w", ticker, err)
	}
	if price <= 0 {
		return 0, 0, fmt.Errorf("no positive spot price for %s", ticker)
	}

	return price, quoteAmount / price, nil
}

// HasActiveBuyOrder reports whether an open buy order already exists for the
// symbol. Used to avoid duplicate submission on redelivery.
func (m *Manager) HasActiveBuyOrder(ctx context.Context, symbol string) (bool, error) {
	orders, err := m.exchange.ListActiveOrders(ctx, "buy", symbol)
	if err != nil {
		return false, fmt.Errorf("failed to list active buy orders for %s: %w", symbol, err)
	}
	return len(orders) > 0, nil
}

// DecrementAvailable reduces the in-memory available balance and persists the
// field immediately, so the next signal in the batch sizes against the
// shrunk amount without a full refresh.
func (m *Manager) DecrementAvailable(ctx context.Context, amount float64) error {
	m.snapshot.BalanceAvailable -= amount
	if err := m.repo.UpdateAvailableBalance(ctx, m.name, m.snapshot.BalanceAvailable); err != nil {
		return fmt.Errorf("failed to persist available balance: %w", err)
	}
	return nil
}

// IncrementOpenTrades bumps the in-memory open-trade count and persists the
// field immediately.
func (m *Manager) IncrementOpenTrades(ctx context.Context) error {
	m.snapshot.TradesOpen++
	if err := m.repo.IncrementTradesOpen(ctx, m.name); err != nil {
		return fmt.Errorf("failed to persist open trade count: %w", err)
	}
	return nil
}
