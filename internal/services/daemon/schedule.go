package daemon

import (
	"context"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Submitter enqueues tasks.
type Submitter interface {
	Submit(kind models.TaskKind, args models.TaskArgs) (models.Task, error)
}

// Schedule submits backups on a cron expression, optionally followed by a
// prune. Both go through the queue like any other request.
type Schedule struct {
	spec             string
	pruneAfterBackup bool
	submitter        Submitter
	cron             *cron.Cron
	logger           zerolog.Logger
}

// NewSchedule parses spec, a standard five field cron expression or a
// descriptor such as "@daily".
func NewSchedule(logger zerolog.Logger, spec string, pruneAfterBackup bool, submitter Submitter) (*Schedule, error) {
	s := &Schedule{
		spec:             spec,
		pruneAfterBackup: pruneAfterBackup,
		submitter:        submitter,
		cron:             cron.New(),
		logger:           logger.With().Str("component", "schedule").Logger(),
	}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, models.ConfigError("invalid schedule %q: %v", spec, err)
	}
	return s, nil
}

// fire runs on every schedule tick.
func (s *Schedule) fire() {
	task, err := s.submitter.Submit(models.TaskBackup, models.TaskArgs{})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to submit scheduled backup")
		return
	}
	s.logger.Info().Str("task", task.ID).Msg("scheduled backup submitted")

	if !s.pruneAfterBackup {
		return
	}
	task, err = s.submitter.Submit(models.TaskPrune, models.TaskArgs{})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to submit scheduled prune")
		return
	}
	s.logger.Info().Str("task", task.ID).Msg("scheduled prune submitted")
}

// Serve runs the cron loop until ctx is done.
func (s *Schedule) Serve(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info().Str("schedule", s.spec).Msg("backup schedule started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("backup schedule stopped")
	return ctx.Err()
}

// String names the schedule in supervisor logs.
func (s *Schedule) String() string {
	return "backup-schedule"
}
