package harness

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mouseadmin-e2e/internal/scenario"
)

// Scheduler re-runs a workflow on a cron schedule. A tick that arrives while
// a run is still in progress is skipped.
type Scheduler struct {
	harness  *Harness
	workflow *scenario.Workflow
	logger   arbor.ILogger
	cron     *cron.Cron
	schedule string
	ctx      context.Context
}

// NewScheduler registers the workflow under schedule. Failed scheduled runs
// do not pause; their diagnostics are written to the results directory.
func NewScheduler(h *Harness, wf *scenario.Workflow, schedule string, logger arbor.ILogger) (*Scheduler, error) {
	h.DisableSuspend()

	s := &Scheduler{harness: h, workflow: wf, logger: logger, schedule: schedule}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronLogger := cronLogAdapter{logger: logger}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is cancelled and any
// in-flight run has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Str("workflow", s.workflow.Name).Msg("Scheduler started")

	<-ctx.Done()

	s.logger.Info().Msg("Scheduler stopping, waiting for in-flight run")
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce() {
	if s.ctx.Err() != nil {
		return
	}
	record, err := s.harness.Run(s.ctx, s.workflow)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled run failed")
		return
	}
	s.logger.Info().Str("run_id", record.ID).Msg("Scheduled run passed")
}

// cronLogAdapter routes cron's own logging through arbor
type cronLogAdapter struct {
	logger arbor.ILogger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error().Err(err).Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}
