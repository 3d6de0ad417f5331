package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/clients/santiment"
	"github.com/mastheader/masthead/internal/domain"
	"github.com/mastheader/masthead/internal/queue"
)

// Requeue delay bounds for rate-limited fetches. The jitter spreads the
// retries of a primed batch so they do not hit the provider in lockstep; the
// cap keeps a bogus upstream hint from parking a task for hours.
const (
	requeueJitterMin = 60 * time.Second
	requeueJitterMax = 600 * time.Second
	requeueDelayMax  = 900 * time.Second
)

// MetricsFetcher is the market-data dependency of the executor.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, slug string, metrics []string, from time.Time) (map[string][]santiment.Point, error)
}

// AssetStore is the slice of asset persistence the executor consumes.
type AssetStore interface {
	Delete(ctx context.Context, slug string) error
}

// MetricStore is the slice of metric persistence the executor consumes.
type MetricStore interface {
	PutSamples(ctx context.Context, samples []domain.MetricSample) error
	LatestTimestamp(ctx context.Context, slug string) (*time.Time, error)
}

// TaskQueue is the queue surface the executor needs: requeueing rate-limited
// tasks onto its own queue and deleting consumed messages.
type TaskQueue interface {
	Send(ctx context.Context, body string, delay time.Duration) (string, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// EventQueue publishes data-ready events downstream.
type EventQueue interface {
	Send(ctx context.Context, body string, delay time.Duration) (string, error)
}

// Executor consumes harvest tasks: resolve the watermark, fetch the metric
// series from it forward, persist the joined samples and announce the new
// watermark downstream.
type Executor struct {
	fetcher      MetricsFetcher
	assets       AssetStore
	metrics      MetricStore
	tasks        TaskQueue
	events       EventQueue
	lookbackDays int
	rng          *rand.Rand
	log          zerolog.Logger
}

// NewExecutor creates a new harvest executor.
func NewExecutor(fetcher MetricsFetcher, assets AssetStore, metrics MetricStore, tasks TaskQueue, events EventQueue, lookbackDays int, log zerolog.Logger) *Executor {
	return &Executor{
		fetcher:      fetcher,
		assets:       assets,
		metrics:      metrics,
		tasks:        tasks,
		events:       events,
		lookbackDays: lookbackDays,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		log:          log.With().Str("service", "harvest").Logger(),
	}
}

// HandleBatch processes the received tasks sequentially. An error on one task
// stops the batch; the failed and remaining messages stay undeleted and come
// back through redelivery, where the idempotent sample writes absorb the
// overlap.
func (e *Executor) HandleBatch(ctx context.Context, messages []queue.Message) error {
	for _, msg := range messages {
		if err := e.process(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) process(ctx context.Context, msg queue.Message) error {
	task, err := queue.DecodeHarvestTask(msg.Body)
	if err != nil {
		// Malformed bodies would fail identically forever; drop them.
		e.log.Warn().Err(err).Str("message_id", msg.MessageID).Msg("Dropping undecodable harvest task")
		return e.tasks.Delete(ctx, msg.ReceiptHandle)
	}

	log := e.log.With().Str("slug", task.Slug).Logger()

	from, err := e.resolveWatermark(ctx, task)
	if err != nil {
		return err
	}

	series, err := e.fetcher.FetchMetrics(ctx, task.Slug, harvestMetrics, from)
	if err != nil {
		var rateLimit *santiment.RateLimitError
		if errors.As(err, &rateLimit) {
			return e.requeue(ctx, msg, task, rateLimit, log)
		}
		return fmt.Errorf("fetch failed for %s: %w", task.Slug, err)
	}

	if len(series[metricPrice]) == 0 || len(series[metricActiveAddresses]) == 0 {
		// The provider cannot supply the mandatory metrics for this slug;
		// it will never become tradable, so remove it for good.
		log.Warn().Msg("Mandatory metrics unavailable, removing asset")
		if err := e.assets.Delete(ctx, task.Slug); err != nil {
			return err
		}
		return e.tasks.Delete(ctx, msg.ReceiptHandle)
	}

	samples := joinSeries(task.Slug, series)
	if len(samples) == 0 {
		// Both mandatory series exist but never share a timestamp; the join
		// will never yield a usable row for this slug, same as a missing
		// series.
		log.Warn().Msg("Mandatory metrics never align, removing asset")
		if err := e.assets.Delete(ctx, task.Slug); err != nil {
			return err
		}
		return e.tasks.Delete(ctx, msg.ReceiptHandle)
	}

	if err := e.metrics.PutSamples(ctx, samples); err != nil {
		return err
	}

	watermark := samples[len(samples)-1].Timestamp
	body, err := queue.EncodeDataReady(queue.DataReady{
		Slug:      task.Slug,
		Ticker:    task.Ticker,
		Watermark: watermark.UTC().Format(domain.TimeFormat),
	})
	if err != nil {
		return err
	}
	if _, err := e.events.Send(ctx, body, 0); err != nil {
		return err
	}

	log.Info().
		Int("samples", len(samples)).
		Time("watermark", watermark).
		Msg("Harvest complete")
	return e.tasks.Delete(ctx, msg.ReceiptHandle)
}

// resolveWatermark turns the task's watermark field into the fetch start:
// parse it when carried, look it up when sentinel, fall back to the
// configured lookback when nothing was ever harvested.
func (e *Executor) resolveWatermark(ctx context.Context, task queue.HarvestTask) (time.Time, error) {
	if task.Watermark != "" && task.Watermark != queue.WatermarkUnknown {
		ts, err := time.Parse(domain.TimeFormat, task.Watermark)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad watermark for %s: %w", task.Slug, err)
		}
		return ts, nil
	}

	latest, err := e.metrics.LatestTimestamp(ctx, task.Slug)
	if err != nil {
		return time.Time{}, err
	}
	if latest != nil {
		return *latest, nil
	}
	return time.Now().UTC().AddDate(0, 0, -e.lookbackDays), nil
}

// requeue replaces the rate-limited in-flight message with a delayed copy of
// the same payload, honoring the provider's wait hint.
func (e *Executor) requeue(ctx context.Context, msg queue.Message, task queue.HarvestTask, rateLimit *santiment.RateLimitError, log zerolog.Logger) error {
	delay := e.requeueDelay(rateLimit.SuggestedWait)

	body, err := queue.EncodeHarvestTask(task)
	if err != nil {
		return err
	}
	if _, err := e.tasks.Send(ctx, body, delay); err != nil {
		return err
	}
	if err := e.tasks.Delete(ctx, msg.ReceiptHandle); err != nil {
		return err
	}

	log.Info().Dur("delay", delay).Msg("Rate limited, task requeued")
	return nil
}

// requeueDelay is the provider's suggested wait plus uniform jitter, capped.
func (e *Executor) requeueDelay(hint time.Duration) time.Duration {
	jitterRange := int64((requeueJitterMax - requeueJitterMin) / time.Second)
	jitter := requeueJitterMin + time.Duration(e.rng.Int63n(jitterRange+1))*time.Second

	delay := hint + jitter
	if delay > requeueDelayMax {
		delay = requeueDelayMax
	}
	return delay
}
