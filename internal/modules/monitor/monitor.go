// Package monitor implements the order monitor: resolving the terminal state
// of every placed order and reconciling position metadata with it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/domain"
	"github.com/mastheader/masthead/internal/queue"
	"github.com/mastheader/masthead/internal/storage"
)

// recheckDelay spaces the inspections of an order that is still working.
const recheckDelay = 900 * time.Second

// Order outcomes as persisted on the order record.
const (
	statusFilled    = "filled"
	statusCancelled = "cancelled"
)

// PositionStore rolls back or retires position metadata.
type PositionStore interface {
	DeleteIfGUID(ctx context.Context, slug, guid string) error
}

// DecisionStore closes out the audit record once a position is exited.
type DecisionStore interface {
	MarkClosed(ctx context.Context, guid string) error
}

// OrderStore reads and updates persisted orders.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	Put(ctx context.Context, order domain.Order) error
}

// TaskQueue requeues still-working orders and deletes consumed tasks.
type TaskQueue interface {
	Send(ctx context.Context, body string, delay time.Duration) (string, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Notifier publishes fill notifications.
type Notifier interface {
	Publish(ctx context.Context, topic, subject, message string) (string, error)
}

// Monitor consumes monitor tasks and drives each order to a terminal state:
// filled or cancelled/expired. Buys that die are rolled back; sells that fill
// retire the position.
type Monitor struct {
	exchange  domain.ExchangeClient
	positions PositionStore
	decisions DecisionStore
	orders    OrderStore
	tasks     TaskQueue
	notifier  Notifier
	topic     string
	log       zerolog.Logger
}

// NewMonitor creates a new order monitor. Topic may be empty to disable fill
// notifications.
func NewMonitor(exchange domain.ExchangeClient, positions PositionStore, decisions DecisionStore, orders OrderStore, tasks TaskQueue, notifier Notifier, topic string, log zerolog.Logger) *Monitor {
	return &Monitor{
		exchange:  exchange,
		positions: positions,
		decisions: decisions,
		orders:    orders,
		tasks:     tasks,
		notifier:  notifier,
		topic:     topic,
		log:       log.With().Str("service", "monitor").Logger(),
	}
}

// HandleBatch processes the received tasks sequentially.
func (m *Monitor) HandleBatch(ctx context.Context, messages []queue.Message) error {
	for _, msg := range messages {
		if err := m.process(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) process(ctx context.Context, msg queue.Message) error {
	task, err := queue.DecodeMonitorTask(msg.Body)
	if err != nil {
		m.log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("Dropping undecodable monitor task")
		return m.tasks.Delete(ctx, msg.ReceiptHandle)
	}

	log := m.log.With().
		Str("slug", task.Slug).
		Str("order_id", task.OrderID).
		Str("side", task.Side).
		Logger()

	order, err := m.exchange.GetOrder(ctx, task.OrderID)
	if err != nil {
		return err
	}

	if order.IsActive {
		log.Debug().Msg("Order still working, recheck scheduled")
		return m.requeue(ctx, msg, task)
	}

	if order.CancelExist {
		if err := m.handleCancelled(ctx, task, log); err != nil {
			return err
		}
	} else {
		if err := m.handleFilled(ctx, task, order, log); err != nil {
			return err
		}
	}

	return m.tasks.Delete(ctx, msg.ReceiptHandle)
}

// handleFilled confirms a filled buy or retires the position of a filled sell.
func (m *Monitor) handleFilled(ctx context.Context, task queue.MonitorTask, order domain.ExchangeOrder, log zerolog.Logger) error {
	if task.Side == "sell" {
		if err := m.positions.DeleteIfGUID(ctx, task.Slug, task.GUIDMeta); err != nil {
			// Guid mismatch means a newer position replaced this one; the
			// exit itself still happened on the exchange.
			if !errors.Is(err, storage.ErrConditionFailed) {
				return err
			}
			log.Warn().Msg("Position guid changed under closing sell")
		}
		if err := m.decisions.MarkClosed(ctx, task.GUIDMeta); err != nil {
			return err
		}
	}

	if err := m.updateOrderStatus(ctx, task.OrderID, statusFilled); err != nil {
		return err
	}

	log.Info().Float64("deal_size", order.DealSize).Msg("Order filled")
	return m.notify(ctx, fmt.Sprintf("Masthead: %s order filled", task.Side),
		fmt.Sprintf("%s %s order %s filled (size %.8f)", task.Slug, task.Side, task.OrderID, order.DealSize))
}

// handleCancelled rolls back the position claim of a dead buy; a dead sell
// leaves the position open for the strategy to close again.
func (m *Monitor) handleCancelled(ctx context.Context, task queue.MonitorTask, log zerolog.Logger) error {
	if task.Side == "buy" {
		err := m.positions.DeleteIfGUID(ctx, task.Slug, task.GUIDMeta)
		if err != nil && !errors.Is(err, storage.ErrConditionFailed) {
			return err
		}
		log.Info().Msg("Buy cancelled, position claim released")
	} else {
		log.Warn().Msg("Sell cancelled, position still open")
	}

	return m.updateOrderStatus(ctx, task.OrderID, statusCancelled)
}

func (m *Monitor) updateOrderStatus(ctx context.Context, orderID, status string) error {
	order, err := m.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	order.Status = status
	return m.orders.Put(ctx, order)
}

func (m *Monitor) requeue(ctx context.Context, msg queue.Message, task queue.MonitorTask) error {
	body, err := queue.EncodeMonitorTask(task)
	if err != nil {
		return err
	}
	if _, err := m.tasks.Send(ctx, body, recheckDelay); err != nil {
		return err
	}
	return m.tasks.Delete(ctx, msg.ReceiptHandle)
}

func (m *Monitor) notify(ctx context.Context, subject, message string) error {
	if m.notifier == nil || m.topic == "" {
		return nil
	}
	if _, err := m.notifier.Publish(ctx, m.topic, subject, message); err != nil {
		// Notification is best effort; the order outcome is already recorded.
		m.log.Warn().Err(err).Msg("Fill notification failed")
	}
	return nil
}
