// Package scheduler runs the notification pipeline on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"ticket_bot/internal/pipeline"
)

// Runner is the interface for triggering one notification pass.
type Runner interface {
	Run(ctx context.Context) (pipeline.Result, error)
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler periodically runs the pipeline.
type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	spec     string
	log      *slog.Logger
}

// New creates a Scheduler for a cron spec such as "*/5 * * * *" or "@every 10m".
// A leading seconds field is accepted.
func New(runner Runner, spec string, log *slog.Logger) (*Scheduler, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		spec:     spec,
		log:      log,
	}, nil
}

// Run performs one pass immediately and then one per schedule tick, blocking
// until ctx is cancelled. A tick that fires while a pass is still running is skipped.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runOnce(ctx) }))
	c.Start()
	s.log.Info("scheduler started", "schedule", s.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.log.Info("scheduled run skipped, another run is in progress")
	case err != nil:
		s.log.Error("scheduled run", "state", res.State, "error", err)
	default:
		s.log.Debug("scheduled run", "outcome", res.Outcome, "count", len(res.NewEvents))
	}
}
