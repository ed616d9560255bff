package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/catalog"
	"github.com/rs/zerolog"
)

// Service defines the interface for pruning generations.
type Service interface {
	// Prune applies a retention policy.
	Prune(ctx context.Context, policy models.RetentionPolicy, dryRun bool) (*models.PruneResult, error)
	// PruneNames removes the named generations.
	PruneNames(ctx context.Context, names []string, dryRun bool) (*models.PruneResult, error)
	// PruneFailed removes every failed generation.
	PruneFailed(ctx context.Context, dryRun bool) (*models.PruneResult, error)
}

// Impl implements the retention Service interface on top of the catalog.
type Impl struct {
	catalog catalog.Service
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates a new pruner.
func New(logger zerolog.Logger, cat catalog.Service) *Impl {
	return &Impl{
		catalog: cat,
		now:     time.Now,
		logger:  logger.With().Str("component", "retention").Logger(),
	}
}

// NewWithClock creates a new pruner with a fixed clock (for testing).
func NewWithClock(logger zerolog.Logger, cat catalog.Service, now func() time.Time) *Impl {
	s := New(logger, cat)
	s.now = now
	return s
}

// Prune selects generations with policy and removes the rest.
func (s *Impl) Prune(ctx context.Context, policy models.RetentionPolicy, dryRun bool) (*models.PruneResult, error) {
	if err := Validate(policy); err != nil {
		return nil, err
	}

	gens, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := Select(gens, policy, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("weekday_full", policy.WeekdayFull).
		Int("days", policy.Days).
		Int("weeks", policy.Weeks).
		Int("months", policy.Months).
		Int("years", policy.Years).
		Int("keep_last", policy.KeepLast).
		Dur("keep_within", policy.KeepWithin).
		Msg("applying retention policy")

	return s.execute(ctx, plan, dryRun)
}

// PruneNames removes the named generations. Unknown names fail the whole
// request before anything is removed.
func (s *Impl) PruneNames(ctx context.Context, names []string, dryRun bool) (*models.PruneResult, error) {
	gens, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	for _, n := range names {
		if !containsName(gens, n) {
			return nil, models.NotFoundError("generation", n)
		}
	}

	return s.execute(ctx, planFor(gens, func(g models.Generation) bool { return wanted[g.Name] }), dryRun)
}

// PruneFailed removes every failed generation.
func (s *Impl) PruneFailed(ctx context.Context, dryRun bool) (*models.PruneResult, error) {
	gens, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, planFor(gens, func(g models.Generation) bool {
		return g.Status == models.StatusFailed
	}), dryRun)
}

// planFor deletes what remove selects, applying the same protections as Select.
func planFor(gens []models.Generation, remove func(models.Generation) bool) models.RetentionPlan {
	plan := models.RetentionPlan{
		Keep:    []models.Generation{},
		Delete:  []models.Generation{},
		Reasons: map[string][]models.RetentionReason{},
	}
	ordered := sortedCopy(gens)
	newest := NewestComplete(ordered)

	for _, g := range ordered {
		switch {
		case !remove(g):
			plan.Reasons[g.Name] = append(plan.Reasons[g.Name], models.ReasonUnselected)
			plan.Keep = append(plan.Keep, g)
		case g.Status == models.StatusInProgress:
			plan.Reasons[g.Name] = append(plan.Reasons[g.Name], models.ReasonInProgress)
			plan.Keep = append(plan.Keep, g)
		case newest != nil && g.Name == newest.Name:
			plan.Reasons[g.Name] = append(plan.Reasons[g.Name], models.ReasonSafety)
			plan.Keep = append(plan.Keep, g)
		default:
			plan.Delete = append(plan.Delete, g)
		}
	}
	return plan
}

// execute removes plan.Delete oldest first. Dry runs walk the same path and
// only skip the removal itself.
func (s *Impl) execute(ctx context.Context, plan models.RetentionPlan, dryRun bool) (*models.PruneResult, error) {
	start := time.Now()
	result := &models.PruneResult{
		DryRun:  dryRun,
		Plan:    plan,
		Removed: []string{},
		Failed:  map[string]string{},
	}

	for name, reasons := range plan.Reasons {
		for _, r := range reasons {
			switch r {
			case models.ReasonSafety:
				s.logger.Warn().
					Err(models.RetentionSafetyError(name)).
					Str("generation", name).
					Msg("retention safety floor kept the newest complete generation")
			case models.ReasonInProgress:
				s.logger.Debug().Str("generation", name).Msg("skipping generation in progress")
			}
		}
	}

	for _, g := range plan.Delete {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		if dryRun {
			s.logger.Info().Str("generation", g.Name).Str("status", string(g.Status)).Msg("[DRY RUN] would remove generation")
			result.Removed = append(result.Removed, g.Name)
			continue
		}

		if err := s.catalog.Remove(ctx, g.Name); err != nil {
			s.logger.Warn().Err(err).Str("generation", g.Name).Msg("failed to remove generation")
			result.Failed[g.Name] = err.Error()
			continue
		}
		s.logger.Info().Str("generation", g.Name).Msg("generation removed")
		result.Removed = append(result.Removed, g.Name)
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Bool("dry_run", dryRun).
		Int("kept", len(plan.Keep)).
		Int("removed", len(result.Removed)).
		Int("failed", len(result.Failed)).
		Dur("duration", result.Duration).
		Msg("prune completed")

	if len(result.Failed) > 0 {
		return result, fmt.Errorf("%d generation(s) could not be removed", len(result.Failed))
	}
	return result, nil
}

func containsName(gens []models.Generation, name string) bool {
	for _, g := range gens {
		if g.Name == name {
			return true
		}
	}
	return false
}

// RunTask dispatches a prune task: explicit names win over failed-only,
// which wins over an explicit policy. Without any, fallback is applied.
func RunTask(ctx context.Context, svc Service, fallback models.RetentionPolicy, args models.TaskArgs) (*models.PruneResult, error) {
	switch {
	case len(args.Names) > 0:
		return svc.PruneNames(ctx, args.Names, args.DryRun)
	case args.Failed:
		return svc.PruneFailed(ctx, args.DryRun)
	case args.Policy != nil:
		return svc.Prune(ctx, *args.Policy, args.DryRun)
	default:
		return svc.Prune(ctx, fallback, args.DryRun)
	}
}
