// Package catalog is the single authority over the generations stored at a backup target.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/storage"
	"github.com/rs/zerolog"
)

const (
	dataDirName = "data"
	trashPrefix = ".trash-"
)

// Service defines the interface for catalog operations.
type Service interface {
	Root() string
	DataPath(name string) string
	List(ctx context.Context) ([]models.Generation, error)
	Find(ctx context.Context, nameOrAlias string) (*models.Generation, error)
	Nth(ctx context.Context, n int) (*models.Generation, error)
	NewestCompleteBefore(ctx context.Context, t time.Time) (*models.Generation, error)
	Register(ctx context.Context, startedAt time.Time, previous string) (*models.Generation, error)
	Finalize(ctx context.Context, gen *models.Generation, status models.GenerationStatus) error
	Remove(ctx context.Context, name string) error
	Mark(ctx context.Context, name string, status models.GenerationStatus) (*models.Generation, error)
	Usage(ctx context.Context, name string) (int64, error)
	RecordRestore(ctx context.Context, name string, at time.Time) error
	Recover(ctx context.Context) ([]string, error)
}

// Impl implements the catalog Service interface.
type Impl struct {
	fs       storage.FS
	root     string
	location *time.Location
	logger   zerolog.Logger
}

// New creates a catalog for the generations below root. Names are rendered
// in the local time zone.
func New(logger zerolog.Logger, fsys storage.FS, root string) *Impl {
	return NewWithLocation(logger, fsys, root, time.Local)
}

// NewWithLocation creates a catalog that renders names in loc (for testing).
func NewWithLocation(logger zerolog.Logger, fsys storage.FS, root string, loc *time.Location) *Impl {
	return &Impl{
		fs:       fsys,
		root:     path.Clean(root),
		location: loc,
		logger:   logger.With().Str("component", "catalog").Logger(),
	}
}

// Root returns the target directory holding the generations.
func (c *Impl) Root() string {
	return c.root
}

// DataPath returns the directory the transfer writes a generation's files into.
func (c *Impl) DataPath(name string) string {
	return path.Join(c.root, name, dataDirName)
}

func (c *Impl) infoPath(name string) string {
	return path.Join(c.root, name, InfoFileName)
}

// ParseName returns the timestamp encoded in a generation name.
func (c *Impl) ParseName(name string) (time.Time, bool) {
	if len(name) != len(models.GenerationNameFormat) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(models.GenerationNameFormat, name, c.location)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// List returns all generations ordered oldest to newest by timestamp. It never
// writes to the target. A generation whose metadata is missing or unreadable
// is reported as failed.
func (c *Impl) List(ctx context.Context) ([]models.Generation, error) {
	entries, err := c.fs.ReadDir(ctx, c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.Generation{}, nil
		}
		return nil, models.TransferError(fmt.Sprintf("listing %s", c.root), err)
	}

	gens := make([]models.Generation, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		if strings.HasPrefix(e.Name, trashPrefix) {
			continue
		}
		created, ok := c.ParseName(e.Name)
		if !ok {
			c.logger.Debug().Str("entry", e.Name).Msg("ignoring foreign directory")
			continue
		}

		gen := models.Generation{
			Name:      e.Name,
			CreatedAt: created,
			Root:      path.Join(c.root, e.Name),
		}
		if err := c.readSidecar(ctx, &gen); err != nil {
			switch {
			case errors.Is(err, fs.ErrNotExist):
				gen.Status = models.StatusFailed
				gen.Message = "metadata missing"
			case errors.Is(err, errUnreadableSidecar):
				c.logger.Warn().Err(err).Str("generation", e.Name).Msg("treating generation with unreadable metadata as failed")
				gen.Status = models.StatusFailed
				gen.Message = "metadata unreadable"
			default:
				return nil, err
			}
		}
		gens = append(gens, gen)
	}

	sort.SliceStable(gens, func(i, j int) bool {
		if !gens[i].CreatedAt.Equal(gens[j].CreatedAt) {
			return gens[i].CreatedAt.Before(gens[j].CreatedAt)
		}
		return gens[i].Name < gens[j].Name
	})
	return gens, nil
}

// sweepTrash deletes leftovers of interrupted removals. Only the paths that
// already mutate the target call it.
func (c *Impl) sweepTrash(ctx context.Context) {
	entries, err := c.fs.ReadDir(ctx, c.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn().Err(err).Msg("failed to list target for sweeping")
		}
		return
	}
	for _, e := range entries {
		if !e.IsDir || !strings.HasPrefix(e.Name, trashPrefix) {
			continue
		}
		if err := c.fs.RemoveAll(ctx, path.Join(c.root, e.Name)); err != nil {
			c.logger.Warn().Err(err).Str("entry", e.Name).Msg("failed to sweep removed generation")
			continue
		}
		c.logger.Debug().Str("entry", e.Name).Msg("swept removed generation")
	}
}

// Find looks up a generation by name; "latest" resolves to the newest complete one.
func (c *Impl) Find(ctx context.Context, nameOrAlias string) (*models.Generation, error) {
	if nameOrAlias == models.LatestAlias {
		return c.Nth(ctx, 1)
	}

	gens, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range gens {
		if gens[i].Name == nameOrAlias {
			return &gens[i], nil
		}
	}
	return nil, models.NotFoundError("generation", nameOrAlias)
}

// Nth returns the n-th newest complete generation, 1 being the newest.
func (c *Impl) Nth(ctx context.Context, n int) (*models.Generation, error) {
	if n < 1 {
		return nil, models.ConfigError("nth must be at least 1, got %d", n)
	}
	gens, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := 0
	for i := len(gens) - 1; i >= 0; i-- {
		if !gens[i].IsComplete() {
			continue
		}
		seen++
		if seen == n {
			return &gens[i], nil
		}
	}
	if n == 1 {
		return nil, models.NotFoundError("complete generation", "")
	}
	return nil, models.NotFoundError(fmt.Sprintf("%d. newest complete generation", n), "")
}

// NewestCompleteBefore returns the newest complete generation created strictly
// before t, or nil if there is none.
func (c *Impl) NewestCompleteBefore(ctx context.Context, t time.Time) (*models.Generation, error) {
	gens, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(gens) - 1; i >= 0; i-- {
		if gens[i].IsComplete() && gens[i].CreatedAt.Before(t) {
			return &gens[i], nil
		}
	}
	return nil, nil
}

// Register creates an in-progress generation named after startedAt. When that
// name would not sort after every existing one it is moved one second past the
// newest generation.
func (c *Impl) Register(ctx context.Context, startedAt time.Time, previous string) (*models.Generation, error) {
	c.sweepTrash(ctx)
	gens, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, g := range gens {
		if g.Status == models.StatusInProgress {
			return nil, models.BackupInProgressError(g.Name)
		}
	}

	created := startedAt.In(c.location).Truncate(time.Second)
	if len(gens) > 0 {
		newest := gens[len(gens)-1].CreatedAt
		if !created.After(newest) {
			created = newest.Add(time.Second)
		}
	}
	name := created.Format(models.GenerationNameFormat)

	gen := &models.Generation{
		Name:      name,
		CreatedAt: created,
		Root:      path.Join(c.root, name),
		Status:    models.StatusInProgress,
		Previous:  previous,
		StartedAt: startedAt,
	}

	if err := c.fs.MkdirAll(ctx, c.DataPath(name)); err != nil {
		return nil, models.TransferError(fmt.Sprintf("creating generation %s", name), err)
	}
	if err := c.writeSidecar(ctx, gen); err != nil {
		if rmErr := c.fs.RemoveAll(ctx, gen.Root); rmErr != nil {
			c.logger.Error().Err(rmErr).Str("generation", name).Msg("failed to clean up half-registered generation")
		}
		return nil, models.TransferError(fmt.Sprintf("registering generation %s", name), err)
	}

	c.logger.Info().Str("generation", name).Str("previous", previous).Msg("generation registered")
	return gen, nil
}

// Finalize records the terminal status and the run results held by gen.
// The link-dest predecessor recorded at registration is kept.
func (c *Impl) Finalize(ctx context.Context, gen *models.Generation, status models.GenerationStatus) error {
	if status != models.StatusComplete && status != models.StatusFailed {
		return fmt.Errorf("cannot finalize %s as %q", gen.Name, status)
	}

	stored, err := c.Find(ctx, gen.Name)
	if err != nil {
		return err
	}

	gen.Status = status
	gen.Previous = stored.Previous
	if gen.FinishedAt.IsZero() {
		gen.FinishedAt = time.Now()
	}
	if err := c.writeSidecar(ctx, gen); err != nil {
		return err
	}

	c.logger.Info().
		Str("generation", gen.Name).
		Str("status", string(status)).
		Int("exit_code", gen.ExitCode).
		Msg("generation finalized")
	return nil
}

// Remove deletes a generation. The directory is first renamed to a hidden
// trash name so a failure never leaves a half-deleted generation behind.
func (c *Impl) Remove(ctx context.Context, name string) error {
	c.sweepTrash(ctx)
	gens, err := c.List(ctx)
	if err != nil {
		return err
	}

	idx := -1
	newestComplete := ""
	for i := range gens {
		if gens[i].Name == name {
			idx = i
		}
		if gens[i].IsComplete() {
			newestComplete = gens[i].Name
		}
	}
	if idx < 0 {
		return models.NotFoundError("generation", name)
	}
	if gens[idx].Status == models.StatusInProgress {
		return models.InProgressError(name)
	}
	if name == newestComplete {
		return models.RetentionSafetyError(name)
	}

	trash := path.Join(c.root, fmt.Sprintf("%s%s-%d", trashPrefix, name, time.Now().UnixNano()))
	if err := c.fs.Rename(ctx, gens[idx].Root, trash); err != nil {
		return models.TransferError(fmt.Sprintf("removing generation %s", name), err)
	}

	if err := c.fs.RemoveAll(ctx, trash); err != nil {
		c.logger.Warn().Err(err).Str("generation", name).Msg("generation removed, leftover files will be swept later")
	}

	c.logger.Info().Str("generation", name).Msg("generation removed")
	return nil
}

// Mark overrides the status of a generation.
func (c *Impl) Mark(ctx context.Context, name string, status models.GenerationStatus) (*models.Generation, error) {
	if status != models.StatusComplete && status != models.StatusFailed {
		return nil, models.ConfigError("generations can only be marked complete or failed")
	}
	gen, err := c.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	if gen.Status == status {
		return gen, nil
	}

	previous := gen.Status
	gen.Status = status
	gen.Message = ""
	if gen.FinishedAt.IsZero() {
		gen.FinishedAt = time.Now()
	}
	if err := c.writeSidecar(ctx, gen); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("generation", name).
		Str("from", string(previous)).
		Str("to", string(status)).
		Msg("generation status changed")
	return gen, nil
}

// Usage computes the disk usage of a generation and records it.
func (c *Impl) Usage(ctx context.Context, name string) (int64, error) {
	gen, err := c.Find(ctx, name)
	if err != nil {
		return 0, err
	}
	size, err := c.fs.Usage(ctx, gen.Root)
	if err != nil {
		return 0, fmt.Errorf("computing usage of %s: %w", name, err)
	}
	gen.SizeBytes = size
	if err := c.writeSidecar(ctx, gen); err != nil {
		return 0, err
	}
	return size, nil
}

// RecordRestore appends a restore timestamp to a generation.
func (c *Impl) RecordRestore(ctx context.Context, name string, at time.Time) error {
	gen, err := c.Find(ctx, name)
	if err != nil {
		return err
	}
	gen.RestoredAt = append(gen.RestoredAt, at)
	return c.writeSidecar(ctx, gen)
}

// Recover marks generations left in progress by a dead process as failed and
// sweeps leftover trash. It must only run while no backup is active on the target.
func (c *Impl) Recover(ctx context.Context) ([]string, error) {
	c.sweepTrash(ctx)
	gens, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var recovered []string
	for i := range gens {
		if gens[i].Status != models.StatusInProgress {
			continue
		}
		gens[i].Status = models.StatusFailed
		gens[i].Message = "backup interrupted"
		if gens[i].FinishedAt.IsZero() {
			gens[i].FinishedAt = time.Now()
		}
		if err := c.writeSidecar(ctx, &gens[i]); err != nil {
			return recovered, err
		}
		c.logger.Warn().Str("generation", gens[i].Name).Msg("interrupted generation marked failed")
		recovered = append(recovered, gens[i].Name)
	}
	return recovered, nil
}
