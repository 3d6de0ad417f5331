package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/domain"
	"github.com/mastheader/masthead/internal/queue"
	"github.com/mastheader/masthead/internal/storage"
)

// MetricStore is the slice of metric persistence the engine consumes.
type MetricStore interface {
	GetRange(ctx context.Context, slug string, from, to time.Time) ([]domain.MetricSample, error)
}

// PositionStore is the position persistence the engine consumes. The engine
// is the only writer of position metadata and decision records.
type PositionStore interface {
	Create(ctx context.Context, meta domain.PositionMeta) error
	Get(ctx context.Context, slug string) (domain.PositionMeta, error)
}

// DecisionStore appends committed decisions to the audit trail.
type DecisionStore interface {
	Create(ctx context.Context, record domain.DecisionRecord) error
}

// SignalPublisher batches signal messages onto one action queue.
type SignalPublisher interface {
	SendBatch(ctx context.Context, bodies []string) error
}

// EventSink deletes consumed data-ready messages.
type EventSink interface {
	Delete(ctx context.Context, receiptHandle string) error
}

// Engine consumes data-ready events, evaluates the latest metric row and
// commits OPEN/CLOSE decisions. PASS produces no writes and no signal.
type Engine struct {
	calc      *Calculator
	metrics   MetricStore
	positions PositionStore
	decisions DecisionStore
	buyQueue  SignalPublisher
	sellQueue SignalPublisher
	events    EventSink
	log       zerolog.Logger
}

// NewEngine creates a new strategy engine.
func NewEngine(calc *Calculator, metrics MetricStore, positions PositionStore, decisions DecisionStore, buyQueue, sellQueue SignalPublisher, events EventSink, log zerolog.Logger) *Engine {
	return &Engine{
		calc:      calc,
		metrics:   metrics,
		positions: positions,
		decisions: decisions,
		buyQueue:  buyQueue,
		sellQueue: sellQueue,
		events:    events,
		log:       log.With().Str("service", "strategy").Logger(),
	}
}

// HandleBatch evaluates every event, commits the resulting decisions, then
// publishes the signals grouped by action and deletes the consumed messages.
// A publish failure leaves the messages for redelivery; the conditional
// position create drops the duplicates the retry produces.
func (e *Engine) HandleBatch(ctx context.Context, messages []queue.Message) error {
	var opens, closes []string
	receipts := make([]string, 0, len(messages))

	for _, msg := range messages {
		signal, err := e.process(ctx, msg)
		if err != nil {
			return err
		}
		if signal != nil {
			body, err := queue.EncodeSignal(*signal)
			if err != nil {
				return err
			}
			switch signal.Action {
			case domain.ActionOpen:
				opens = append(opens, body)
			case domain.ActionClose:
				closes = append(closes, body)
			}
		}
		receipts = append(receipts, msg.ReceiptHandle)
	}

	if len(opens) > 0 {
		if err := e.buyQueue.SendBatch(ctx, opens); err != nil {
			return err
		}
	}
	if len(closes) > 0 {
		if err := e.sellQueue.SendBatch(ctx, closes); err != nil {
			return err
		}
	}

	for _, receipt := range receipts {
		if err := e.events.Delete(ctx, receipt); err != nil {
			return err
		}
	}
	return nil
}

// process evaluates one data-ready event and commits its decision. Returns
// the signal to publish, or nil for PASS and for all dropped events.
func (e *Engine) process(ctx context.Context, msg queue.Message) (*domain.Signal, error) {
	event, err := queue.DecodeDataReady(msg.Body)
	if err != nil {
		e.log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("Dropping undecodable data-ready event")
		return nil, nil
	}

	log := e.log.With().Str("slug", event.Slug).Logger()

	dateTo, err := time.Parse(domain.TimeFormat, event.Watermark)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping event with bad watermark")
		return nil, nil
	}

	from := dateTo.AddDate(0, 0, -e.calc.MinSamples())
	samples, err := e.metrics.GetRange(ctx, event.Slug, from, dateTo)
	if err != nil {
		return nil, err
	}

	snapshot, err := e.calc.Evaluate(samples)
	if err != nil {
		// Young assets have not accumulated a full window yet.
		log.Debug().Err(err).Msg("Window not evaluable")
		return nil, nil
	}

	// OPEN wins when both flags fire: the fresher entry evidence outranks
	// the exit condition it coincides with.
	action := domain.ActionPass
	switch {
	case snapshot.TradeOpen:
		action = domain.ActionOpen
	case snapshot.TradeClose:
		action = domain.ActionClose
	}

	log.Info().
		Str("action", string(action)).
		Float64("price", snapshot.PriceUSD).
		Float64("deviation", snapshot.Deviation).
		Float64("daa_change", snapshot.DAAChange).
		Bool("trending", snapshot.Trending).
		Msg("Window evaluated")

	switch action {
	case domain.ActionOpen:
		return e.commitOpen(ctx, event, snapshot, log)
	case domain.ActionClose:
		return e.commitClose(ctx, event, snapshot, log)
	default:
		return nil, nil
	}
}

// commitOpen claims the position slot and records the decision. A slug that
// is already open turns the signal into a no-op.
func (e *Engine) commitOpen(ctx context.Context, event queue.DataReady, snapshot domain.IndicatorSnapshot, log zerolog.Logger) (*domain.Signal, error) {
	now := time.Now().UTC()
	guid := uuid.New().String()

	err := e.positions.Create(ctx, domain.PositionMeta{
		Slug:      event.Slug,
		GUID:      guid,
		CreatedAt: now,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			log.Debug().Msg("Position already open, signal suppressed")
			return nil, nil
		}
		return nil, err
	}

	if err := e.decisions.Create(ctx, domain.DecisionRecord{
		Slug:       event.Slug,
		GUID:       guid,
		Action:     domain.ActionOpen,
		Indicators: snapshot,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	return &domain.Signal{
		Slug:     event.Slug,
		Ticker:   event.Ticker,
		Action:   domain.ActionOpen,
		GUID:     guid,
		IssuedAt: now,
	}, nil
}

// commitClose records the close decision against the open position's guid.
// No open position turns the signal into a no-op; an open position without a
// guid is a consistency fault and the signal is dropped.
func (e *Engine) commitClose(ctx context.Context, event queue.DataReady, snapshot domain.IndicatorSnapshot, log zerolog.Logger) (*domain.Signal, error) {
	meta, err := e.positions.Get(ctx, event.Slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug().Msg("No open position, close suppressed")
			return nil, nil
		}
		return nil, err
	}
	if meta.GUID == "" {
		log.Error().Msg("Open position without guid, close dropped")
		return nil, nil
	}

	now := time.Now().UTC()
	if err := e.decisions.Create(ctx, domain.DecisionRecord{
		Slug:       event.Slug,
		GUID:       meta.GUID + domain.CloseSuffix,
		Action:     domain.ActionClose,
		Indicators: snapshot,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	return &domain.Signal{
		Slug:     event.Slug,
		Ticker:   event.Ticker,
		Action:   domain.ActionClose,
		GUID:     meta.GUID,
		IssuedAt: now,
	}, nil
}
