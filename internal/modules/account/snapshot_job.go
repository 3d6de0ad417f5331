package account

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/domain"
)

// LogStore appends account snapshots to the history table.
type LogStore interface {
	AppendLog(ctx context.Context, account domain.Account) error
}

// SnapshotJob refreshes the account from exchange truth and appends the
// snapshot to the account log. Runs on a schedule to build the balance
// history the trading tables cannot reconstruct.
type SnapshotJob struct {
	exchange  domain.ExchangeClient
	repo      Repository
	history   LogStore
	name      string
	maxTrades int
	log       zerolog.Logger
}

// NewSnapshotJob creates a new account snapshot job.
func NewSnapshotJob(exchange domain.ExchangeClient, repo Repository, history LogStore, name string, maxTrades int, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		exchange:  exchange,
		repo:      repo,
		history:   history,
		name:      name,
		maxTrades: maxTrades,
		log:       log,
	}
}

// Run refreshes and logs one snapshot.
func (j *SnapshotJob) Run(ctx context.Context) error {
	mgr := NewManager(j.exchange, j.repo, j.name, j.maxTrades, j.log)
	snapshot, err := mgr.Refresh(ctx)
	if err != nil {
		return err
	}
	return j.history.AppendLog(ctx, snapshot)
}
