package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/goccy/go-json"
)

// InfoFileName is the metadata sidecar stored next to a generation's data dir.
const InfoFileName = ".info"

var errUnreadableSidecar = errors.New("unreadable metadata")

// sidecar is the on-disk record of a generation. Fields are only ever added;
// keys written by other versions are carried over untouched on rewrite.
type sidecar struct {
	Name       string                  `json:"name"`
	Previous   *string                 `json:"previous"`
	Status     models.GenerationStatus `json:"status,omitempty"`
	Valid      *bool                   `json:"valid,omitempty"`
	StartedAt  *time.Time              `json:"started_at,omitempty"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
	ExitCode   int                     `json:"exit_code"`
	Message    string                  `json:"message"`
	models.TransferCounters
	Bytes      int64       `json:"bytes"`
	RestoredAt []time.Time `json:"restored_at"`
}

func toSidecar(g *models.Generation) sidecar {
	valid := g.Status == models.StatusComplete
	sc := sidecar{
		Name:             g.Name,
		Status:           g.Status,
		Valid:            &valid,
		ExitCode:         g.ExitCode,
		Message:          g.Message,
		TransferCounters: g.Counters,
		Bytes:            g.SizeBytes,
		RestoredAt:       g.RestoredAt,
	}
	if g.Previous != "" {
		prev := g.Previous
		sc.Previous = &prev
	}
	if !g.StartedAt.IsZero() {
		t := g.StartedAt
		sc.StartedAt = &t
	}
	if !g.FinishedAt.IsZero() {
		t := g.FinishedAt
		sc.FinishedAt = &t
	}
	if sc.RestoredAt == nil {
		sc.RestoredAt = []time.Time{}
	}
	return sc
}

// apply copies the sidecar into g. Sidecars without a status but with the
// legacy valid flag map to complete or failed.
func (sc sidecar) apply(g *models.Generation) {
	switch {
	case sc.Status.Valid():
		g.Status = sc.Status
	case sc.Valid != nil && *sc.Valid:
		g.Status = models.StatusComplete
	default:
		g.Status = models.StatusFailed
	}
	if sc.Previous != nil {
		g.Previous = *sc.Previous
	}
	if sc.StartedAt != nil {
		g.StartedAt = *sc.StartedAt
	}
	if sc.FinishedAt != nil {
		g.FinishedAt = *sc.FinishedAt
	}
	g.ExitCode = sc.ExitCode
	g.Message = sc.Message
	g.Counters = sc.TransferCounters
	g.SizeBytes = sc.Bytes
	g.RestoredAt = sc.RestoredAt
}

func (c *Impl) readSidecar(ctx context.Context, g *models.Generation) error {
	data, err := c.fs.ReadFile(ctx, c.infoPath(g.Name))
	if err != nil {
		return err
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("%w: could not parse %s of %s: %v", errUnreadableSidecar, InfoFileName, g.Name, err)
	}
	sc.apply(g)
	return nil
}

// writeSidecar merges g into the existing sidecar, keeping unknown keys.
func (c *Impl) writeSidecar(ctx context.Context, g *models.Generation) error {
	merged := map[string]json.RawMessage{}

	existing, err := c.fs.ReadFile(ctx, c.infoPath(g.Name))
	switch {
	case err == nil:
		if err := json.Unmarshal(existing, &merged); err != nil {
			c.logger.Warn().Err(err).Str("generation", g.Name).Msg("replacing unreadable metadata")
			merged = map[string]json.RawMessage{}
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("reading metadata of %s: %w", g.Name, err)
	}

	known, err := json.Marshal(toSidecar(g))
	if err != nil {
		return fmt.Errorf("could not marshal metadata: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return fmt.Errorf("could not marshal metadata: %w", err)
	}
	for k, v := range fields {
		merged[k] = v
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal metadata: %w", err)
	}
	if err := c.fs.WriteFile(ctx, c.infoPath(g.Name), data); err != nil {
		return fmt.Errorf("could not write metadata of %s: %w", g.Name, err)
	}
	return nil
}
