package harvest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/domain"
	"github.com/mastheader/masthead/internal/queue"
)

// AssetLister is the slice of asset persistence the primer consumes.
type AssetLister interface {
	List(ctx context.Context) ([]domain.Asset, error)
}

// WatermarkSource resolves the latest harvested sample per slug.
type WatermarkSource interface {
	LatestTimestamp(ctx context.Context, slug string) (*time.Time, error)
}

// TaskPublisher enqueues harvest tasks in batches.
type TaskPublisher interface {
	SendBatch(ctx context.Context, bodies []string) error
}

// Primer enqueues one harvest task per tradable asset, carrying the asset's
// current watermark so the executor can skip the lookup. Runs on a schedule.
type Primer struct {
	assets     AssetLister
	watermarks WatermarkSource
	tasks      TaskPublisher
	log        zerolog.Logger
}

// NewPrimer creates a new harvest primer.
func NewPrimer(assets AssetLister, watermarks WatermarkSource, tasks TaskPublisher, log zerolog.Logger) *Primer {
	return &Primer{
		assets:     assets,
		watermarks: watermarks,
		tasks:      tasks,
		log:        log.With().Str("service", "harvest-primer").Logger(),
	}
}

// Run primes the harvest queue with every tradable asset.
func (p *Primer) Run(ctx context.Context) error {
	assets, err := p.assets.List(ctx)
	if err != nil {
		return err
	}

	bodies := make([]string, 0, len(assets))
	for _, asset := range assets {
		watermark := queue.WatermarkUnknown
		latest, err := p.watermarks.LatestTimestamp(ctx, asset.Slug)
		if err != nil {
			return err
		}
		if latest != nil {
			watermark = latest.UTC().Format(domain.TimeFormat)
		}

		body, err := queue.EncodeHarvestTask(queue.HarvestTask{
			Slug:      asset.Slug,
			Ticker:    asset.Ticker,
			Watermark: watermark,
		})
		if err != nil {
			return err
		}
		bodies = append(bodies, body)
	}

	if len(bodies) == 0 {
		p.log.Warn().Msg("No tradable assets to prime")
		return nil
	}
	if err := p.tasks.SendBatch(ctx, bodies); err != nil {
		return err
	}

	p.log.Info().Int("assets", len(bodies)).Msg("Harvest queue primed")
	return nil
}
