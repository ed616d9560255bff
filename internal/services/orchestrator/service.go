// Package orchestrator drives backup and restore runs against a target.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/catalog"
	"github.com/fgeck/gorsync-homelab/internal/services/matcher"
	"github.com/fgeck/gorsync-homelab/internal/services/notify"
	"github.com/fgeck/gorsync-homelab/internal/services/transfer"
	"github.com/fgeck/gorsync-homelab/internal/services/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for the backup orchestrator.
type Service interface {
	Backup(ctx context.Context, opts models.BackupOptions) (*models.BackupResult, error)
	Restore(ctx context.Context, opts models.RestoreOptions) (*models.RestoreReport, error)
}

// Impl implements the orchestrator Service interface.
type Impl struct {
	cfg         models.BackupConfig
	matcherSvc  matcher.Service
	catalogSvc  catalog.Service
	transferSvc transfer.Service
	wolSvc      wol.Service
	notifier    notify.Notifier
	hostname    string
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates a new orchestrator for cfg on top of cat.
func New(logger zerolog.Logger, cfg models.BackupConfig, cat catalog.Service) *Impl {
	return NewWithServices(
		logger,
		cfg,
		matcher.New(logger),
		cat,
		transfer.New(logger, cfg.Rsync, cfg.Target.SSHConfigFile),
		wol.New(logger),
		notify.New(logger, cfg.Telegram),
	)
}

// NewWithServices creates a new orchestrator with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	cfg models.BackupConfig,
	matcherSvc matcher.Service,
	catalogSvc catalog.Service,
	transferSvc transfer.Service,
	wolSvc wol.Service,
	notifier notify.Notifier,
) *Impl {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Impl{
		cfg:         cfg,
		matcherSvc:  matcherSvc,
		catalogSvc:  catalogSvc,
		transferSvc: transferSvc,
		wolSvc:      wolSvc,
		notifier:    notifier,
		hostname:    hostname,
		now:         time.Now,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
	}
}

// SetClock replaces the time source (for testing).
func (s *Impl) SetClock(now func() time.Time) {
	s.now = now
}

// Backup creates a new generation holding the resolved selection, hard
// linked against the newest complete generation. A failed transfer leaves
// the generation on disk marked failed.
//
//nolint:gocognit,gocyclo // backup workflow has multiple steps
func (s *Impl) Backup(ctx context.Context, opts models.BackupOptions) (*models.BackupResult, error) {
	logger := loggerFrom(ctx, s.logger)
	startTime := s.now()
	result := &models.BackupResult{DryRun: opts.DryRun}
	var failedStep string
	var runErr error

	logger.Info().
		Str("target", s.cfg.Target.Address(s.catalogSvc.Root())).
		Bool("dry_run", opts.DryRun).
		Msg("starting backup run")

	defer func() {
		result.Duration = time.Since(startTime)
		if !opts.DryRun && !models.IsKind(runErr, models.KindEmptySelection) {
			s.sendNotification(ctx, logger, models.TaskBackup, startTime, result.Generation, result.Transfer, failedStep, runErr)
		}
	}()

	// Step 1: resolve the selection
	failedStep = "select"
	selection, err := s.matcherSvc.Resolve(s.cfg.Rules)
	if err != nil {
		runErr = err
		return result, err
	}
	if len(selection) == 0 {
		runErr = models.EmptySelectionError()
		logger.Warn().Msg("selection is empty, nothing to back up")
		return result, runErr
	}
	result.Selection = selection
	logger.Info().Int("items", len(selection)).Msg("selection resolved")

	// Step 2: wake the target (if configured)
	if err := s.wake(ctx, logger, &failedStep); err != nil {
		runErr = err
		return result, err
	}

	// Step 3: pick the link-dest predecessor
	failedStep = "catalog"
	previous, err := s.previous(ctx, opts.Previous, startTime)
	if err != nil {
		runErr = err
		return result, err
	}
	var previousName, linkDest string
	if previous != nil {
		previousName = previous.Name
		linkDest = s.catalogSvc.DataPath(previous.Name)
		logger.Info().Str("previous", previousName).Msg("hard linking against previous generation")
	} else {
		logger.Info().Msg("no complete generation yet, creating a full copy")
	}

	req := models.TransferRequest{
		Sources:  selection,
		LinkDest: linkDest,
		Excludes: s.matcherSvc.RsyncExcludes(s.cfg.Rules.Excludes),
		Delete:   true,
		DryRun:   opts.DryRun,
		Remote:   s.cfg.Target.IsRemote(),
	}

	// Dry runs never register a generation.
	if opts.DryRun {
		failedStep = "transfer"
		preview := startTime.Format(models.GenerationNameFormat)
		req.Destination = s.cfg.Target.Address(s.catalogSvc.DataPath(preview))
		tr, err := s.transferSvc.Run(ctx, req)
		if err != nil {
			runErr = err
			return result, err
		}
		result.Transfer = tr
		if tr.Error != nil {
			runErr = tr.Error
			return result, tr.Error
		}
		failedStep = ""
		return result, nil
	}

	// Step 4: register the new generation
	gen, err := s.catalogSvc.Register(ctx, startTime, previousName)
	if err != nil {
		runErr = err
		return result, err
	}
	result.Generation = gen
	logger = logger.With().Str("generation", gen.Name).Logger()

	// Step 5: transfer
	failedStep = "transfer"
	req.Destination = s.cfg.Target.Address(s.catalogSvc.DataPath(gen.Name))
	tr, err := s.transferSvc.Run(ctx, req)
	result.Transfer = tr

	// Finalizing must survive cancellation of the run.
	finalCtx := context.WithoutCancel(ctx)
	status := models.StatusComplete
	switch {
	case err != nil:
		status = models.StatusFailed
		gen.ExitCode = -1
		gen.Message = err.Error()
		runErr = err
	case tr.Error != nil:
		status = models.StatusFailed
		gen.ExitCode = tr.ExitCode
		gen.Message = tr.Message
		gen.Counters = tr.Counters
		runErr = tr.Error
	default:
		gen.ExitCode = tr.ExitCode
		gen.Message = tr.Message
		gen.Counters = tr.Counters
	}
	gen.FinishedAt = s.now()

	// Step 6: finalize
	if err := s.catalogSvc.Finalize(finalCtx, gen, status); err != nil {
		logger.Error().Err(err).Msg("failed to finalize generation")
		if runErr == nil {
			failedStep = "finalize"
			runErr = err
		}
		return result, runErr
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("backup failed, generation kept for inspection")
		return result, runErr
	}

	if size, err := s.catalogSvc.Usage(finalCtx, gen.Name); err != nil {
		logger.Warn().Err(err).Msg("could not compute generation size")
	} else {
		gen.SizeBytes = size
	}

	failedStep = ""
	logger.Info().
		Int("files_created", gen.Counters.FilesCreated).
		Int("files_updated", gen.Counters.FilesUpdated).
		Int("files_deleted", gen.Counters.FilesDeleted).
		Int64("size", gen.SizeBytes).
		Dur("duration", time.Since(startTime)).
		Msg("backup run completed successfully")

	return result, nil
}

func (s *Impl) previous(ctx context.Context, forced string, startTime time.Time) (*models.Generation, error) {
	if forced == "" {
		return s.catalogSvc.NewestCompleteBefore(ctx, startTime)
	}
	gen, err := s.catalogSvc.Find(ctx, forced)
	if err != nil {
		return nil, err
	}
	if !gen.IsComplete() {
		return nil, models.ConfigError("generation %s is %s and cannot be used as link-dest", gen.Name, gen.Status)
	}
	return gen, nil
}

// Restore copies a generation, or items of it, back to a destination. The
// destination defaults to the items' original location. Nothing outside the
// restored set is ever deleted.
func (s *Impl) Restore(ctx context.Context, opts models.RestoreOptions) (*models.RestoreReport, error) {
	logger := loggerFrom(ctx, s.logger)
	startTime := s.now()
	report := &models.RestoreReport{DryRun: opts.DryRun, Items: opts.Items}
	var gen *models.Generation
	var failedStep string
	var runErr error

	defer func() {
		report.Duration = time.Since(startTime)
		if !opts.DryRun {
			s.sendNotification(ctx, logger, models.TaskRestore, startTime, gen, report.Transfer, failedStep, runErr)
		}
	}()

	// Step 1: wake the target (if configured)
	if err := s.wake(ctx, logger, &failedStep); err != nil {
		runErr = err
		return report, err
	}

	// Step 2: resolve the generation
	failedStep = "catalog"
	var err error
	gen, err = s.resolve(ctx, opts)
	if err != nil {
		runErr = err
		return report, err
	}
	if gen.Status == models.StatusInProgress {
		runErr = models.BackupInProgressError(gen.Name)
		return report, runErr
	}
	if gen.Status == models.StatusFailed {
		logger.Warn().Str("generation", gen.Name).Msg("restoring from a failed generation, data may be incomplete")
	}
	report.Generation = gen.Name

	destination := opts.Destination
	if destination == "" {
		destination = "/"
	}
	report.Destination = destination

	dataDir := s.catalogSvc.DataPath(gen.Name)
	var sources []string
	if len(opts.Items) == 0 {
		sources = []string{s.cfg.Target.Address(dataDir + "/./")}
	} else {
		for _, item := range opts.Items {
			rel := strings.TrimLeft(path.Clean("/"+item), "/")
			sources = append(sources, s.cfg.Target.Address(dataDir+"/./"+rel))
		}
	}

	logger.Info().
		Str("generation", gen.Name).
		Strs("items", opts.Items).
		Str("destination", destination).
		Bool("dry_run", opts.DryRun).
		Msg("starting restore")

	// Step 3: transfer
	failedStep = "transfer"
	tr, err := s.transferSvc.Run(ctx, models.TransferRequest{
		Sources:     sources,
		Destination: destination,
		DryRun:      opts.DryRun,
		Remote:      s.cfg.Target.IsRemote(),
	})
	if err != nil {
		runErr = err
		return report, err
	}
	report.Transfer = tr
	if tr.Error != nil {
		runErr = tr.Error
		return report, tr.Error
	}

	if !opts.DryRun {
		if err := s.catalogSvc.RecordRestore(context.WithoutCancel(ctx), gen.Name, s.now()); err != nil {
			logger.Warn().Err(err).Msg("could not record restore in generation metadata")
		}
	}

	failedStep = ""
	logger.Info().
		Str("generation", gen.Name).
		Int("files_created", tr.Counters.FilesCreated).
		Int("files_updated", tr.Counters.FilesUpdated).
		Dur("duration", time.Since(startTime)).
		Msg("restore completed successfully")

	return report, nil
}

func (s *Impl) resolve(ctx context.Context, opts models.RestoreOptions) (*models.Generation, error) {
	if opts.Nth > 0 {
		return s.catalogSvc.Nth(ctx, opts.Nth)
	}
	name := opts.Generation
	if name == "" {
		name = models.LatestAlias
	}
	return s.catalogSvc.Find(ctx, name)
}

func (s *Impl) wake(ctx context.Context, logger zerolog.Logger, failedStep *string) error {
	if s.cfg.WOL == nil {
		return nil
	}
	*failedStep = "wol"
	cfg := s.cfg.WOL

	logger.Info().
		Str("mac", cfg.MACAddress).
		Str("target", cfg.PollAddress).
		Msg("sending Wake-on-LAN packet")

	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return models.TransferError("WOL failed", err)
	}
	if result.Error != nil {
		return models.TransferError("WOL failed", result.Error)
	}
	if !result.TargetReady && cfg.PollAddress != "" {
		return models.TransferError("target unreachable", fmt.Errorf("target did not become ready after WOL"))
	}

	logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("target_ready", result.TargetReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) sendNotification(
	ctx context.Context,
	logger zerolog.Logger,
	kind models.TaskKind,
	startTime time.Time,
	gen *models.Generation,
	tr *models.TransferResult,
	failedStep string,
	runErr error,
) {
	msg := models.Notification{
		Success:   runErr == nil,
		Kind:      kind,
		Host:      s.hostname,
		Target:    s.cfg.Target.Address(s.catalogSvc.Root()),
		StartTime: startTime,
		Duration:  time.Since(startTime),
	}
	if gen != nil {
		msg.Generation = gen.Name
	}
	if tr != nil {
		msg.Counters = tr.Counters
	}
	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorKind = models.KindOf(runErr)
		msg.ErrorMessage = runErr.Error()
	}

	result, err := s.notifier.Notify(context.WithoutCancel(ctx), msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to send notification")
		return
	}
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to send notification")
		return
	}
	if result.MessageSent {
		logger.Info().Msg("notification sent")
	}
}

// loggerFrom prefers a logger carried by ctx, such as a task log.
func loggerFrom(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return fallback
}
