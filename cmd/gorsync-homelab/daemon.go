package main

import (
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/control"
	"github.com/fgeck/gorsync-homelab/internal/services/daemon"
	"github.com/fgeck/gorsync-homelab/internal/services/orchestrator"
	"github.com/fgeck/gorsync-homelab/internal/services/retention"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the task daemon",
	Long: `Run the daemon in the foreground:
  - a single worker running submitted backups, restores and prunes in order
  - the control API on the configured unix socket
  - scheduled backups (if daemon.schedule is set)

Generations left in progress by a previous run are marked failed on start.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if _, err := control.NewClient(a.cfg.Daemon.Socket).Tasks(ctx); err == nil {
		return &models.Error{
			Kind: models.KindAlreadyRunning,
			Msg:  "a daemon is already listening on " + a.cfg.Daemon.Socket,
		}
	}

	scheduler := daemon.New(
		log.Logger,
		orchestrator.New(log.Logger, *a.cfg, a.catalog),
		retention.New(log.Logger, a.catalog),
		a.catalog,
		daemon.Options{
			Policy:       a.cfg.Retention,
			KeepFinished: a.cfg.Daemon.KeepFinished,
			LogOutput:    logWriter(),
		},
	)

	sup := daemon.NewSupervisor(log.Logger)
	sup.Add(scheduler)
	sup.Add(control.NewServer(log.Logger, a.cfg.Daemon.Socket, scheduler, a.catalog))

	if a.cfg.Daemon.Schedule != "" {
		schedule, err := daemon.NewSchedule(log.Logger, a.cfg.Daemon.Schedule, a.cfg.Daemon.PruneAfterBackup, scheduler)
		if err != nil {
			return err
		}
		sup.Add(schedule)
	}

	log.Info().
		Str("socket", a.cfg.Daemon.Socket).
		Str("target", a.cfg.Target.Address(a.cfg.Target.Path)).
		Str("schedule", a.cfg.Daemon.Schedule).
		Msg("configuration loaded")

	return sup.Serve(ctx)
}
