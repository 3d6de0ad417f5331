package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Handler processes one received batch. The handler owns message deletion:
// it must delete each message exactly once, after the work derived from it
// has fully succeeded or been permanently rejected. Returning an error leaves
// undeleted messages to the visibility timeout for redelivery.
type Handler interface {
	HandleBatch(ctx context.Context, messages []Message) error
}

// BatchCounter records processed message counts per stage. May be nil.
type BatchCounter interface {
	Add(stage string, n int)
}

// Poller long-polls a queue and hands batches to a Handler. Receive failures
// back off exponentially; a successful receive resets the backoff.
type Poller struct {
	queue     *Queue
	handler   Handler
	batchSize int32
	waitTime  time.Duration
	counter   BatchCounter
	log       zerolog.Logger
}

// NewPoller creates a poller for the queue.
func NewPoller(q *Queue, handler Handler, batchSize int32, counter BatchCounter, log zerolog.Logger) *Poller {
	if batchSize <= 0 || batchSize > MaxBatchEntries {
		batchSize = MaxBatchEntries
	}
	return &Poller{
		queue:     q,
		handler:   handler,
		batchSize: batchSize,
		waitTime:  20 * time.Second,
		counter:   counter,
		log:       log.With().Str("poller", q.Name()).Logger(),
	}
}

// Run polls until the context is cancelled. Handler errors are logged and the
// loop continues; the messages involved stay invisible until their visibility
// timeout expires and redelivery applies.
func (p *Poller) Run(ctx context.Context) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = time.Second
	backoffCfg.MaxInterval = time.Minute

	p.log.Info().Msg("Poller started")
	for {
		if ctx.Err() != nil {
			p.log.Info().Msg("Poller stopped")
			return
		}

		messages, err := p.queue.Receive(ctx, p.batchSize, p.waitTime)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info().Msg("Poller stopped")
				return
			}
			sleep := backoffCfg.NextBackOff()
			p.log.Error().Err(err).Dur("retry_in", sleep).Msg("Receive failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			continue
		}
		backoffCfg.Reset()

		if len(messages) == 0 {
			continue
		}

		if err := p.handler.HandleBatch(ctx, messages); err != nil {
			p.log.Error().Err(err).Int("batch", len(messages)).Msg("Batch failed, awaiting redelivery")
			continue
		}
		if p.counter != nil {
			p.counter.Add(p.queue.Name(), len(messages))
		}
	}
}
