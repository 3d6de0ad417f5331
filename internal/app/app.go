// Package app wires the pipeline together: AWS session, clients,
// repositories, queues, stages, scheduler and the ops server.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/clients/kucoin"
	"github.com/mastheader/masthead/internal/clients/santiment"
	"github.com/mastheader/masthead/internal/config"
	"github.com/mastheader/masthead/internal/modules/account"
	"github.com/mastheader/masthead/internal/modules/discovery"
	"github.com/mastheader/masthead/internal/modules/harvest"
	"github.com/mastheader/masthead/internal/modules/monitor"
	"github.com/mastheader/masthead/internal/modules/strategy"
	"github.com/mastheader/masthead/internal/modules/trade"
	"github.com/mastheader/masthead/internal/notify"
	"github.com/mastheader/masthead/internal/queue"
	"github.com/mastheader/masthead/internal/scheduler"
	"github.com/mastheader/masthead/internal/server"
	"github.com/mastheader/masthead/internal/storage"
)

// App holds the wired pipeline.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	server    *server.Server
	pollers   []*queue.Poller
	tradeExec *trade.Executor

	discoverySvc *discovery.Service
	primer       *harvest.Primer
	snapshotJob  *account.SnapshotJob
}

// New wires every component. Queue URLs are resolved eagerly so a
// misconfigured environment fails at startup, not mid-pipeline.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)
	snsClient := sns.NewFromConfig(awsCfg)
	sesClient := ses.NewFromConfig(awsCfg)

	exchange := kucoin.NewClient(cfg.KucoinKey, cfg.KucoinSecret, cfg.KucoinAPIPassphrase, log)
	marketData := santiment.NewClient(cfg.SantimentKey, log)

	assets := storage.NewAssetRepository(dynamoClient, cfg.TableDiscovery, log)
	metrics := storage.NewMetricRepository(dynamoClient, cfg.TableHarvest, log)
	positions := storage.NewPositionRepository(dynamoClient, cfg.TableTradeMeta, log)
	decisions := storage.NewDecisionRepository(dynamoClient, cfg.TableTradeDetails, log)
	orders := storage.NewOrderRepository(dynamoClient, cfg.TableOrders, log)
	accounts := storage.NewAccountRepository(dynamoClient, cfg.TableAccount, cfg.TableAccountLog, log)

	harvestQ, err := queue.NewQueue(ctx, sqsClient, cfg.QueueHarvest, log)
	if err != nil {
		return nil, err
	}
	dataReadyQ, err := queue.NewQueue(ctx, sqsClient, cfg.QueueDataReady, log)
	if err != nil {
		return nil, err
	}
	buyQ, err := queue.NewQueue(ctx, sqsClient, cfg.QueueBuySignal, log)
	if err != nil {
		return nil, err
	}
	sellQ, err := queue.NewQueue(ctx, sqsClient, cfg.QueueSellSignal, log)
	if err != nil {
		return nil, err
	}
	monitorQ, err := queue.NewQueue(ctx, sqsClient, cfg.QueueMonitor, log)
	if err != nil {
		return nil, err
	}

	publisher := notify.NewPublisher(snsClient, log)
	mailer := notify.NewMailer(sesClient, log)

	discoverySvc := discovery.NewService(exchange, marketData, assets,
		publisher, cfg.SNSTopicDiscovery, mailer, cfg.SESSender, cfg.SESRecipient, log)

	primer := harvest.NewPrimer(assets, metrics, harvestQ, log)
	harvestExec := harvest.NewExecutor(marketData, assets, metrics,
		harvestQ, dataReadyQ, cfg.HarvestDefaultLookbackDays, log)

	calc := strategy.NewCalculator(cfg.Strategy)
	engine := strategy.NewEngine(calc, metrics, positions, decisions, buyQ, sellQ, dataReadyQ, log)

	counters := server.NewCounters()

	tradeExec := trade.NewExecutor(exchange, accounts, cfg.AccountName, cfg.MaxTrades,
		orders, positions, sellQ, buyQ, monitorQ, counters, log)

	orderMonitor := monitor.NewMonitor(exchange, positions, decisions, orders,
		monitorQ, publisher, cfg.SNSTopicDiscovery, log)

	snapshotJob := account.NewSnapshotJob(exchange, accounts, accounts,
		cfg.AccountName, cfg.MaxTrades, log)

	return &App{
		cfg: cfg,
		log: log.With().Str("component", "app").Logger(),

		server: server.New(cfg.Port, counters, log),
		pollers: []*queue.Poller{
			queue.NewPoller(harvestQ, harvestExec, queue.MaxBatchEntries, counters, log),
			queue.NewPoller(dataReadyQ, engine, queue.MaxBatchEntries, counters, log),
			queue.NewPoller(monitorQ, orderMonitor, queue.MaxBatchEntries, counters, log),
		},
		tradeExec: tradeExec,

		discoverySvc: discoverySvc,
		primer:       primer,
		snapshotJob:  snapshotJob,
	}, nil
}

// Run starts every stage and blocks until the context is cancelled, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	sched := scheduler.New(ctx, a.log)
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{a.cfg.CronDiscovery, scheduler.NewFuncJob("discovery", func(ctx context.Context) error {
			_, err := a.discoverySvc.Run(ctx)
			return err
		})},
		{a.cfg.CronHarvest, scheduler.NewFuncJob("harvest-primer", a.primer.Run)},
		{a.cfg.CronAccountLog, scheduler.NewFuncJob("account-log", a.snapshotJob.Run)},
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.job.Name(), err)
		}
	}
	sched.Start()

	var wg sync.WaitGroup
	for _, poller := range a.pollers {
		wg.Add(1)
		go func(p *queue.Poller) {
			defer wg.Done()
			p.Run(ctx)
		}(poller)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.tradeExec.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Server shutdown failed")
	}

	sched.Stop()
	wg.Wait()
	a.log.Info().Msg("Pipeline stopped")
	return nil
}
