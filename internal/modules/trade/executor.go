// Package trade implements the trade executor: turning committed open/close
// signals into exchange orders under the account sizing rules.
package trade

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/clients/kucoin"
	"github.com/mastheader/masthead/internal/domain"
	"github.com/mastheader/masthead/internal/modules/account"
	"github.com/mastheader/masthead/internal/queue"
	"github.com/mastheader/masthead/internal/storage"
)

// buyOrderLifetime bounds how long an unfilled entry order may rest before
// the exchange cancels it.
const buyOrderLifetime = time.Hour

// monitorDelay is how long placed orders get to fill before the monitor
// stage first inspects them.
const monitorDelay = 900 * time.Second

const receiveWait = 10 * time.Second

// OrderStore persists placed orders.
type OrderStore interface {
	Put(ctx context.Context, order domain.Order) error
}

// PositionStore rolls back speculative position claims for opens that are
// rejected before an order ever reaches the exchange.
type PositionStore interface {
	DeleteIfGUID(ctx context.Context, slug, guid string) error
}

// SignalQueue is the receive side of one action queue.
type SignalQueue interface {
	Receive(ctx context.Context, max int32, wait time.Duration) ([]queue.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// TaskPublisher enqueues monitor tasks.
type TaskPublisher interface {
	Send(ctx context.Context, body string, delay time.Duration) (string, error)
}

// Counter records processed signal counts for the status endpoint. May be nil.
type Counter interface {
	Add(stage string, n int)
}

// Executor drains both signal queues in one single-writer loop. Each cycle
// receives up to a batch from each queue and processes every close before any
// open, so capital freed by exits funds the entries of the same cycle.
type Executor struct {
	exchange    domain.ExchangeClient
	accountRepo account.Repository
	accountName string
	maxTrades   int
	orders      OrderStore
	positions   PositionStore
	sellQueue   SignalQueue
	buyQueue    SignalQueue
	monitor     TaskPublisher
	counter     Counter
	log         zerolog.Logger
}

// NewExecutor creates a new trade executor.
func NewExecutor(exchange domain.ExchangeClient, accountRepo account.Repository, accountName string, maxTrades int, orders OrderStore, positions PositionStore, sellQueue, buyQueue SignalQueue, monitor TaskPublisher, counter Counter, log zerolog.Logger) *Executor {
	return &Executor{
		exchange:    exchange,
		accountRepo: accountRepo,
		accountName: accountName,
		maxTrades:   maxTrades,
		orders:      orders,
		positions:   positions,
		sellQueue:   sellQueue,
		buyQueue:    buyQueue,
		monitor:     monitor,
		counter:     counter,
		log:         log.With().Str("service", "trade").Logger(),
	}
}

// Run loops until the context is cancelled. Cycle errors back off
// exponentially; the undeleted messages of a failed cycle come back through
// redelivery, where the duplicate-order checks make reprocessing safe.
func (e *Executor) Run(ctx context.Context) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = time.Second
	backoffCfg.MaxInterval = time.Minute

	e.log.Info().Msg("Trade executor started")
	for {
		if ctx.Err() != nil {
			e.log.Info().Msg("Trade executor stopped")
			return
		}

		if err := e.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				e.log.Info().Msg("Trade executor stopped")
				return
			}
			sleep := backoffCfg.NextBackOff()
			e.log.Error().Err(err).Dur("retry_in", sleep).Msg("Cycle failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			continue
		}
		backoffCfg.Reset()
	}
}

type item struct {
	signal  domain.Signal
	receipt string
	source  SignalQueue
}

// cycle receives one batch from each queue and processes it. Messages are
// deleted only after the whole batch has been processed; a fatal error leaves
// everything for redelivery.
func (e *Executor) cycle(ctx context.Context) error {
	closes, err := e.receive(ctx, e.sellQueue)
	if err != nil {
		return err
	}
	opens, err := e.receive(ctx, e.buyQueue)
	if err != nil {
		return err
	}
	if len(closes) == 0 && len(opens) == 0 {
		return nil
	}

	mgr := account.NewManager(e.exchange, e.accountRepo, e.accountName, e.maxTrades, e.log)
	if _, err := mgr.Refresh(ctx); err != nil {
		return err
	}

	for _, it := range closes {
		if err := e.processClose(ctx, mgr, it.signal); err != nil {
			return err
		}
	}
	for _, it := range opens {
		if err := e.processOpen(ctx, mgr, it.signal); err != nil {
			return err
		}
	}

	for _, it := range append(closes, opens...) {
		if err := it.source.Delete(ctx, it.receipt); err != nil {
			return err
		}
	}
	if e.counter != nil {
		e.counter.Add("trade", len(closes)+len(opens))
	}
	return nil
}

// receive pulls a batch and decodes it, dropping undecodable bodies in place.
func (e *Executor) receive(ctx context.Context, q SignalQueue) ([]item, error) {
	messages, err := q.Receive(ctx, queue.MaxBatchEntries, receiveWait)
	if err != nil {
		return nil, err
	}

	items := make([]item, 0, len(messages))
	for _, msg := range messages {
		signal, err := queue.DecodeSignal(msg.Body)
		if err != nil {
			e.log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("Dropping undecodable signal")
			if err := q.Delete(ctx, msg.ReceiptHandle); err != nil {
				return nil, err
			}
			continue
		}
		items = append(items, item{signal: signal, receipt: msg.ReceiptHandle, source: q})
	}
	return items, nil
}

// processClose sells the unheld balance for the signal's asset. A signal
// whose position is already flat, or whose balance a resting order fully
// holds, is a no-op; that keeps redelivered close signals idempotent.
func (e *Executor) processClose(ctx context.Context, mgr *account.Manager, signal domain.Signal) error {
	log := e.log.With().Str("slug", signal.Slug).Str("side", "close").Logger()

	position := mgr.OpenPositionByCurrency(signal.Ticker)
	if position == nil {
		log.Info().Msg("No held balance, close is a no-op")
		return nil
	}

	size := position.Balance - position.Holds
	if size <= 0 {
		// A resting sell from an earlier delivery already commits the whole
		// balance; another order would bounce for insufficient funds.
		log.Info().Msg("Balance fully held by a resting order, close is a no-op")
		return nil
	}

	price, err := e.exchange.GetFiatPrice(ctx, signal.Ticker)
	if err != nil {
		return err
	}

	orderID, err := e.exchange.CreateLimitOrder(ctx, domain.CreateOrderRequest{
		Symbol:      signal.Symbol(),
		Side:        "sell",
		Price:       price,
		Size:        size,
		TimeInForce: "GTC",
	})
	if err != nil {
		if kucoin.IsSymbolNotExists(err) {
			log.Warn().Msg("Symbol not on exchange, close dropped")
			return nil
		}
		return err
	}

	if err := e.recordOrder(ctx, signal, orderID, "sell", price, size, signal.GUID+domain.CloseSuffix); err != nil {
		return err
	}

	_, err = mgr.Refresh(ctx)
	return err
}

// processOpen places a 1h limit buy sized by the account rules. Rejections
// that can never succeed roll back the speculative position claim.
func (e *Executor) processOpen(ctx context.Context, mgr *account.Manager, signal domain.Signal) error {
	log := e.log.With().Str("slug", signal.Slug).Str("side", "open").Logger()

	if !mgr.CanTrade() {
		log.Info().Msg("Account at capacity, open rejected")
		return e.rollbackPosition(ctx, signal, log)
	}

	active, err := mgr.HasActiveBuyOrder(ctx, signal.Symbol())
	if err != nil {
		return err
	}
	if active {
		// An order from a previous delivery is already working this entry.
		log.Info().Msg("Active buy order exists, open skipped")
		return nil
	}

	quote := mgr.PositionSizeMax()
	if quote <= 0 {
		log.Info().Msg("No sizable balance, open rejected")
		return e.rollbackPosition(ctx, signal, log)
	}

	price, size, err := mgr.ComputePriceAndSize(ctx, signal.Ticker, quote)
	if err != nil {
		log.Warn().Err(err).Msg("Unpriceable symbol, open rejected")
		return e.rollbackPosition(ctx, signal, log)
	}

	orderID, err := e.exchange.CreateLimitOrder(ctx, domain.CreateOrderRequest{
		Symbol:      signal.Symbol(),
		Side:        "buy",
		Price:       price,
		Size:        size,
		TimeInForce: "GTT",
		CancelAfter: buyOrderLifetime,
	})
	if err != nil {
		if kucoin.IsSymbolNotExists(err) {
			log.Warn().Msg("Symbol not on exchange, open dropped")
			return e.rollbackPosition(ctx, signal, log)
		}
		return err
	}

	if err := e.recordOrder(ctx, signal, orderID, "buy", price, size, signal.GUID); err != nil {
		return err
	}

	if err := mgr.DecrementAvailable(ctx, quote); err != nil {
		return err
	}
	if err := mgr.IncrementOpenTrades(ctx); err != nil {
		return err
	}

	_, err = mgr.Refresh(ctx)
	return err
}

// recordOrder persists the order and schedules its monitor task.
func (e *Executor) recordOrder(ctx context.Context, signal domain.Signal, orderID, side string, price, size float64, guidDetails string) error {
	if err := e.orders.Put(ctx, domain.Order{
		OrderID:     orderID,
		Slug:        signal.Slug,
		GUIDMeta:    signal.GUID,
		GUIDDetails: guidDetails,
		Symbol:      signal.Symbol(),
		Side:        side,
		Price:       price,
		Size:        size,
		Status:      "open",
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return err
	}

	body, err := queue.EncodeMonitorTask(queue.MonitorTask{
		Slug:        signal.Slug,
		OrderID:     orderID,
		GUIDMeta:    signal.GUID,
		GUIDDetails: guidDetails,
		Side:        side,
	})
	if err != nil {
		return err
	}
	_, err = e.monitor.Send(ctx, body, monitorDelay)
	return err
}

// rollbackPosition releases the position claim made when the open decision
// was committed, so the strategy can re-enter on a later evaluation. A guid
// mismatch means the claim was already replaced; nothing to release then.
func (e *Executor) rollbackPosition(ctx context.Context, signal domain.Signal, log zerolog.Logger) error {
	err := e.positions.DeleteIfGUID(ctx, signal.Slug, signal.GUID)
	if err != nil && !errors.Is(err, storage.ErrConditionFailed) {
		return err
	}
	log.Debug().Str("guid", signal.GUID).Msg("Position claim released")
	return nil
}
