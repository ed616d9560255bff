// Package transfer runs rsync and turns its output into structured results.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/rs/zerolog"
)

// DefaultOutFormat is the only per-file output format ParseLine understands.
const DefaultOutFormat = "%t %i %n"

// Service defines the interface for transfer operations.
type Service interface {
	Args(req models.TransferRequest) []string
	Run(ctx context.Context, req models.TransferRequest) (*models.TransferResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor      CommandExecutor
	settings      models.RsyncSettings
	sshConfigFile string
	location      *time.Location
	logger        zerolog.Logger
}

// New creates a new transfer service.
func New(logger zerolog.Logger, settings models.RsyncSettings, sshConfigFile string) *Impl {
	return NewWithExecutor(logger, settings, sshConfigFile, &DefaultExecutor{})
}

// NewWithExecutor creates a new transfer service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, settings models.RsyncSettings, sshConfigFile string, executor CommandExecutor) *Impl {
	return &Impl{
		executor:      executor,
		settings:      settings,
		sshConfigFile: sshConfigFile,
		location:      time.Local,
		logger:        logger.With().Str("component", "transfer").Logger(),
	}
}

func (s *Impl) sshCommand() string {
	cmd := []string{s.settings.SSHBinary, "-o", "StrictHostKeyChecking=no", "-o", "NumberOfPasswordPrompts=0"}
	if s.sshConfigFile != "" {
		if _, err := os.Stat(s.sshConfigFile); err == nil {
			cmd = append(cmd, "-F", s.sshConfigFile)
		}
	}
	return strings.Join(cmd, " ")
}

// Args builds the rsync argument list for req. Deletion flags only appear
// when req.Delete is set.
func (s *Impl) Args(req models.TransferRequest) []string {
	var args []string
	if req.DryRun {
		args = append(args, "--dry-run")
	}
	if req.Remote {
		args = append(args, "-e", s.sshCommand())
	}

	args = append(args, "--archive", "--relative", "--human-readable", "--stats", "--verbose")

	outFormat := s.settings.OutFormat
	if outFormat == "" {
		outFormat = DefaultOutFormat
	}
	args = append(args, "--out-format="+outFormat)

	if s.settings.ACLs {
		args = append(args, "--acls")
	}
	if s.settings.XAttrs {
		args = append(args, "--xattrs")
	}
	if s.settings.PruneEmptyDirs {
		args = append(args, "--prune-empty-dirs")
	}

	if req.Delete {
		args = append(args, "--delete")
	}
	if req.LinkDest != "" {
		args = append(args, "--link-dest="+req.LinkDest)
	}
	for _, e := range req.Excludes {
		args = append(args, "--exclude="+e)
	}

	args = append(args, req.Sources...)
	args = append(args, req.Destination)
	return args
}

// Run executes one transfer. Process failures are reported in the result's
// Error field; the returned error is only set when rsync could not run at all.
func (s *Impl) Run(ctx context.Context, req models.TransferRequest) (*models.TransferResult, error) {
	if len(req.Sources) == 0 {
		return nil, models.EmptySelectionError()
	}
	if req.Destination == "" {
		return nil, models.ConfigError("transfer destination must not be empty")
	}

	logger := loggerFrom(ctx, s.logger)
	args := s.Args(req)
	logger.Info().
		Str("command", s.settings.Binary+" "+strings.Join(args, " ")).
		Bool("dry_run", req.DryRun).
		Msg("executing rsync")

	start := time.Now()
	var files []models.FileOutcome
	var st stats
	onLine := func(line string) {
		if out, ok := ParseLine(line, s.location); ok {
			files = append(files, out)
		} else {
			st.parseStatsLine(line)
		}
		logger.Info().Msg(strings.Trim(line, `"`))
	}

	code, err := s.executor.Stream(ctx, "/", onLine, s.settings.Binary, args...)
	if err != nil {
		return nil, models.TransferError("could not run rsync", err)
	}

	result := &models.TransferResult{
		ExitCode: code,
		Message:  ExitMessage(code),
		Counters: st.counters(files),
		Files:    files,
		Duration: time.Since(start),
	}

	switch {
	case code == 0:
	case ctx.Err() != nil:
		result.Error = models.TransferError("transfer interrupted", ctx.Err())
	case IsUnreachable(code):
		result.Error = models.TransferError("target unreachable", fmt.Errorf("rsync exited with code %d: %s", code, result.Message))
	default:
		result.Error = models.TransferError(fmt.Sprintf("rsync exited with code %d", code), errors.New(result.Message))
	}

	event := logger.Info()
	if result.Error != nil {
		event = logger.Error().Err(result.Error)
	}
	event.
		Int("exit_code", code).
		Int("files_created", result.Counters.FilesCreated).
		Int("files_updated", result.Counters.FilesUpdated).
		Int("files_deleted", result.Counters.FilesDeleted).
		Int64("bytes_transferred", result.Counters.BytesTransferred).
		Dur("duration", result.Duration).
		Msg("rsync finished")

	return result, nil
}

// loggerFrom prefers a logger carried by ctx, such as a task log.
func loggerFrom(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return fallback
}
