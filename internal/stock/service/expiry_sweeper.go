package service

import (
	"context"
	"fmt"
	"time"

	"github.com/freshstock/freshstock-backend/pkg/actor"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultExpirySweep is used when no schedule is configured
const DefaultExpirySweep = "@every 1h"

const sweepTimeout = 2 * time.Minute

// ExpirySweeper moves past-date batches to EXPIRED on a cron schedule
type ExpirySweeper struct {
	cron    *cron.Cron
	batches *BatchService
	spec    string
	logger  *logger.Logger
}

// NewExpirySweeper creates a sweeper for the given cron spec
func NewExpirySweeper(batches *BatchService, spec string, log *logger.Logger) *ExpirySweeper {
	if spec == "" {
		spec = DefaultExpirySweep
	}
	log = log.WithComponent("expiry-sweeper")
	return &ExpirySweeper{
		cron:    cron.New(),
		batches: batches,
		spec:    spec,
		logger:  log,
	}
}

// Start registers the sweep on its schedule plus a one-off run at startup.
// Both entries share one job that skips a tick while a sweep is running,
// and both go through the scheduler, so Stop waits for either.
func (s *ExpirySweeper) Start() error {
	s.logger.Info().Str("schedule", s.spec).Msg("starting expiry sweeper")

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.logger})).Then(cron.FuncJob(s.sweep))
	if _, err := s.cron.AddJob(s.spec, job); err != nil {
		return fmt.Errorf("invalid expiry sweep schedule %q: %w", s.spec, err)
	}
	s.cron.Schedule(&once{}, job)

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *ExpirySweeper) Stop() {
	s.logger.Info().Msg("stopping expiry sweeper")
	<-s.cron.Stop().Done()
}

// RunOnce sweeps every seller's batches
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int64, error) {
	ctx = actor.WithActor(ctx, actor.SystemActor())
	return s.batches.ExpireSweep(ctx, nil)
}

func (s *ExpirySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	count, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if count > 0 {
		s.logger.Info().Int64("expired", count).Msg("expiry sweep completed")
	}
}

// once fires a single time, as soon as the scheduler starts
type once struct {
	fired bool
}

func (o *once) Next(t time.Time) time.Time {
	if o.fired {
		return time.Time{}
	}
	o.fired = true
	return t
}

// cronLogger routes the scheduler's own messages to zerolog
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
