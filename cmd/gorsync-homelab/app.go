package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gorsync-homelab/internal/config"
	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/catalog"
	"github.com/fgeck/gorsync-homelab/internal/services/control"
	"github.com/fgeck/gorsync-homelab/internal/services/storage"
	"github.com/rs/zerolog/log"
)

// app bundles the loaded configuration with an open catalog.
type app struct {
	cfg     *models.BackupConfig
	fsys    storage.FS
	catalog *catalog.Impl
}

func loadConfig() (*models.BackupConfig, error) {
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Debug().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Debug().Err(err).Msg("invalid configuration")
		return nil, err
	}

	log.Debug().
		Str("config", configFile).
		Str("target", cfg.Target.Address(cfg.Target.Path)).
		Msg("configuration loaded")
	return cfg, nil
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	fsys, err := storage.New(log.Logger, cfg.Target)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		fsys:    fsys,
		catalog: catalog.New(log.Logger, fsys, cfg.Target.Path),
	}, nil
}

func (a *app) Close() {
	if err := a.fsys.Close(); err != nil {
		log.Debug().Err(err).Msg("closing target")
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// submitToDaemon hands the task to a running daemon and prints its id.
func submitToDaemon(ctx context.Context, kind models.TaskKind, args models.TaskArgs) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	task, err := control.NewClient(cfg.Daemon.Socket).Submit(ctx, kind, args)
	if err != nil {
		return err
	}

	log.Info().Str("task", task.ID).Str("kind", string(task.Kind)).Msg("task submitted")
	fmt.Println(task.ID)
	return nil
}

func daemonClient() (*control.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return control.NewClient(cfg.Daemon.Socket), nil
}

func printCounters(c models.TransferCounters) {
	fmt.Printf("  Files: %d created, %d updated, %d deleted, %d unchanged\n",
		c.FilesCreated, c.FilesUpdated, c.FilesDeleted, c.FilesUnchanged)
	fmt.Printf("  Transferred: %s of %s\n",
		humanize.IBytes(uint64(c.BytesTransferred)), humanize.IBytes(uint64(c.BytesTotal)))
}

func printPruneResult(result *models.PruneResult) {
	verb := "Removed"
	if result.DryRun {
		verb = "Would remove"
	}
	if len(result.Removed) == 0 {
		fmt.Println("Nothing to remove.")
	} else {
		fmt.Printf("%s %d generation(s): %s\n", verb, len(result.Removed), strings.Join(result.Removed, ", "))
	}
	for _, g := range result.Plan.Keep {
		reasons := result.Plan.Reasons[g.Name]
		parts := make([]string, len(reasons))
		for i, r := range reasons {
			parts[i] = string(r)
		}
		log.Debug().Str("generation", g.Name).Strs("reasons", parts).Msg("kept")
	}
	for name, msg := range result.Failed {
		fmt.Printf("Failed to remove %s: %s\n", name, msg)
	}
}
