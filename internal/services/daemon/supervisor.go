package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Supervisor restarts the daemon's long running services when they fail.
type Supervisor struct {
	root   *suture.Supervisor
	logger zerolog.Logger
}

// NewSupervisor creates a supervisor with suture's default failure budget.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	l := logger.With().Str("component", "supervisor").Logger()
	return &Supervisor{
		root: suture.New("gorsync-daemon", suture.Spec{
			EventHook: func(e suture.Event) {
				l.Warn().Fields(e.Map()).Msg(e.String())
			},
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			Timeout:          10 * time.Second,
		}),
		logger: l,
	}
}

// Add registers a service.
func (s *Supervisor) Add(svc suture.Service) {
	s.root.Add(svc)
}

// Serve runs all services until ctx is done. A clean shutdown returns nil.
func (s *Supervisor) Serve(ctx context.Context) error {
	s.logger.Info().Msg("daemon starting")
	err := s.root.Serve(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Info().Msg("daemon stopped")
		return nil
	}
	return err
}
