// Package scheduler provides cron-based background job scheduling.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a schedulable unit of work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// FuncJob adapts a named function to the Job interface.
type FuncJob struct {
	name string
	fn   func(context.Context) error
}

// NewFuncJob creates a job from a function.
func NewFuncJob(name string, fn func(context.Context) error) FuncJob {
	return FuncJob{name: name, fn: fn}
}

// Run executes the wrapped function.
func (j FuncJob) Run(ctx context.Context) error { return j.fn(ctx) }

// Name returns the job name.
func (j FuncJob) Name() string { return j.name }

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  zerolog.Logger
}

// New creates a new scheduler. Jobs run with the given context so shutdown
// cancels in-flight work.
func New(ctx context.Context, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		ctx:  ctx,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule.
// Schedule examples:
//   - "*/5 * * * *"  - Every 5 minutes
//   - "@hourly"      - Every hour
//   - "30 6 * * *"   - 06:30 daily
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(s.ctx); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
			return
		}

		s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	})
	return err
}
