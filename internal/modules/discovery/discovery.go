// Package discovery implements the discovery stage: building the tradable
// asset set as the intersection of the exchange's listed pairs and the
// market-data provider's project catalog.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/clients/santiment"
	"github.com/mastheader/masthead/internal/domain"
	"github.com/mastheader/masthead/internal/notify"
)

// stablecoinSegment marks projects that never trend; they are excluded at
// the source.
const stablecoinSegment = "Stablecoin"

// denylist holds slugs excluded regardless of segment: quote-pegged assets
// the segment field misses.
var denylist = map[string]bool{
	"usd-coin": true,
	"susd":     true,
	"tether":   true,
}

// TickerSource lists the exchange's trading pair symbols.
type TickerSource interface {
	GetAllTickers(ctx context.Context) ([]string, error)
}

// ProjectSource lists the market-data provider's project catalog.
type ProjectSource interface {
	GetProjects(ctx context.Context) ([]santiment.Project, error)
}

// AssetStore inserts newly discovered assets.
type AssetStore interface {
	CreateIfAbsent(ctx context.Context, asset domain.Asset) (bool, error)
}

// Notifier publishes the run summary.
type Notifier interface {
	Publish(ctx context.Context, topic, subject, message string) (string, error)
}

// Mailer sends the run summary by email.
type Mailer interface {
	Send(ctx context.Context, email notify.Email) (string, error)
}

// Result summarizes one discovery run.
type Result struct {
	Matched  int
	Created  int
	NewSlugs []string
}

// Service runs the discovery join and records the result.
type Service struct {
	tickers   TickerSource
	projects  ProjectSource
	assets    AssetStore
	notifier  Notifier
	topic     string
	mailer    Mailer
	sender    string
	recipient string
	log       zerolog.Logger
}

// NewService creates a new discovery service. Mailer may be nil, and topic,
// sender or recipient may be empty, to disable the respective notification.
func NewService(tickers TickerSource, projects ProjectSource, assets AssetStore, notifier Notifier, topic string, mailer Mailer, sender, recipient string, log zerolog.Logger) *Service {
	return &Service{
		tickers:   tickers,
		projects:  projects,
		assets:    assets,
		notifier:  notifier,
		topic:     topic,
		mailer:    mailer,
		sender:    sender,
		recipient: recipient,
		log:       log.With().Str("service", "discovery").Logger(),
	}
}

// Run performs one discovery pass: join, filter, insert, notify.
func (s *Service) Run(ctx context.Context) (Result, error) {
	symbols, err := s.tickers.GetAllTickers(ctx)
	if err != nil {
		return Result{}, err
	}

	baseTickers := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		base, _, found := strings.Cut(symbol, "-")
		if found && base != "" {
			baseTickers[strings.ToUpper(base)] = true
		}
	}

	projects, err := s.projects.GetProjects(ctx)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	var result Result
	for _, project := range projects {
		if !baseTickers[project.Ticker] {
			continue
		}
		if project.MarketSegment == stablecoinSegment || denylist[project.Slug] {
			continue
		}
		result.Matched++

		created, err := s.assets.CreateIfAbsent(ctx, domain.Asset{
			Slug:          project.Slug,
			Ticker:        project.Ticker,
			Name:          project.Name,
			MarketSegment: project.MarketSegment,
			TotalSupply:   project.TotalSupply,
			CreatedAt:     now,
		})
		if err != nil {
			return Result{}, err
		}
		if created {
			result.Created++
			result.NewSlugs = append(result.NewSlugs, project.Slug)
		}
	}

	s.log.Info().
		Int("matched", result.Matched).
		Int("created", result.Created).
		Msg("Discovery complete")

	if err := s.announce(ctx, result, now); err != nil {
		// The asset set is already updated; a lost announcement is not
		// worth a rerun.
		s.log.Warn().Err(err).Msg("Discovery announcement failed")
	}
	return result, nil
}

// announce publishes the run summary to the topic and mails it out.
func (s *Service) announce(ctx context.Context, result Result, ranAt time.Time) error {
	subject := fmt.Sprintf("Masthead: Discovery Process Complete %s", ranAt.Format(domain.TimeFormat))
	message := fmt.Sprintf("Discovery matched %d assets, %d new.", result.Matched, result.Created)
	if len(result.NewSlugs) > 0 {
		message += " New: " + strings.Join(result.NewSlugs, ", ")
	}

	if s.topic != "" {
		if _, err := s.notifier.Publish(ctx, s.topic, subject, message); err != nil {
			return err
		}
	}
	if s.mailer != nil && s.sender != "" && s.recipient != "" {
		if _, err := s.mailer.Send(ctx, notify.Email{
			Sender:    s.sender,
			Recipient: s.recipient,
			Subject:   subject,
			Message:   message,
		}); err != nil {
			return err
		}
	}
	return nil
}
