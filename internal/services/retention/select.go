// Package retention decides which generations a policy keeps and prunes the rest.
package retention

import (
	"sort"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
)

const (
	dayFormat   = "2006-01-02"
	monthFormat = "2006-01"
	yearFormat  = "2006"
)

// Validate rejects policies that are malformed or keep nothing.
func Validate(policy models.RetentionPolicy) error {
	if policy.WeekdayFull < 0 || policy.WeekdayFull > 6 {
		return models.ConfigError("weekday_full must be between 0 (Monday) and 6 (Sunday), got %d", policy.WeekdayFull)
	}
	if policy.Days < 0 || policy.Weeks < 0 || policy.Months < 0 || policy.Years < 0 || policy.KeepLast < 0 {
		return models.ConfigError("retention counts must not be negative")
	}
	if policy.KeepWithin < 0 {
		return models.ConfigError("keep_within must not be negative")
	}
	if policy.IsEmpty() {
		return models.ConfigError("retention policy must keep something: set days, weeks, months, years, keep_last or keep_within")
	}
	return nil
}

// Select computes which generations survive policy at now. It never touches
// storage. In-progress generations, generations dated after now and the newest
// complete generation are always kept; everything no predicate keeps is deleted.
//
// Daily buckets are calendar days. Weekly, monthly and yearly buckets only
// consider generations taken on the policy's full-backup weekday. Each tier
// keeps the newest generation of its N newest buckets; a bucket whose
// generation a finer tier already kept is tagged but does not use up budget.
func Select(gens []models.Generation, policy models.RetentionPolicy, now time.Time) (models.RetentionPlan, error) {
	if err := Validate(policy); err != nil {
		return models.RetentionPlan{}, err
	}

	plan := models.RetentionPlan{
		Keep:    []models.Generation{},
		Delete:  []models.Generation{},
		Reasons: map[string][]models.RetentionReason{},
	}
	if len(gens) == 0 {
		return plan, nil
	}

	ordered := sortedCopy(gens)
	keep := func(g models.Generation, reason models.RetentionReason) {
		plan.Reasons[g.Name] = append(plan.Reasons[g.Name], reason)
	}

	// Newest first from here on.
	var candidates, complete []models.Generation
	for i := len(ordered) - 1; i >= 0; i-- {
		g := ordered[i]
		switch {
		case g.Status == models.StatusInProgress:
			keep(g, models.ReasonInProgress)
		case g.CreatedAt.After(now):
			keep(g, models.ReasonFuture)
		default:
			candidates = append(candidates, g)
			if g.IsComplete() {
				complete = append(complete, g)
			}
		}
	}

	weekday := policy.GoWeekday()
	var full []models.Generation
	for _, g := range complete {
		if g.CreatedAt.Weekday() == weekday {
			full = append(full, g)
		}
	}

	tiers := []struct {
		count  int
		gens   []models.Generation
		key    func(time.Time) string
		reason models.RetentionReason
	}{
		{policy.Days, complete, dayKey, models.ReasonDaily},
		{policy.Weeks, full, weekKey(weekday), models.ReasonWeekly},
		{policy.Months, full, monthKey, models.ReasonMonthly},
		{policy.Years, full, yearKey, models.ReasonYearly},
	}
	for _, tier := range tiers {
		if tier.count <= 0 {
			continue
		}
		seen := map[string]bool{}
		saved := 0
		for _, g := range tier.gens {
			if saved >= tier.count {
				break
			}
			k := tier.key(g.CreatedAt)
			if seen[k] {
				continue
			}
			seen[k] = true
			keptByFinerTier := len(plan.Reasons[g.Name]) > 0
			keep(g, tier.reason)
			if !keptByFinerTier {
				saved++
			}
		}
	}

	for i, g := range candidates {
		if i >= policy.KeepLast {
			break
		}
		keep(g, models.ReasonKeepLast)
	}

	if policy.KeepWithin > 0 {
		cutoff := now.Add(-policy.KeepWithin)
		for _, g := range candidates {
			if g.CreatedAt.Before(cutoff) {
				break
			}
			keep(g, models.ReasonKeepWithin)
		}
	}

	if newest := NewestComplete(ordered); newest != nil && len(plan.Reasons[newest.Name]) == 0 {
		keep(*newest, models.ReasonSafety)
	}

	for _, g := range ordered {
		if len(plan.Reasons[g.Name]) > 0 {
			plan.Keep = append(plan.Keep, g)
		} else {
			plan.Delete = append(plan.Delete, g)
		}
	}
	return plan, nil
}

// NewestComplete returns the newest complete generation of gens, or nil.
func NewestComplete(gens []models.Generation) *models.Generation {
	var newest *models.Generation
	for i := range gens {
		g := &gens[i]
		if !g.IsComplete() {
			continue
		}
		if newest == nil || g.CreatedAt.After(newest.CreatedAt) ||
			(g.CreatedAt.Equal(newest.CreatedAt) && g.Name > newest.Name) {
			newest = g
		}
	}
	return newest
}

// SafetyKept reports whether the plan kept a generation only because it is
// the newest complete one.
func SafetyKept(plan models.RetentionPlan) (string, bool) {
	for name, reasons := range plan.Reasons {
		if len(reasons) == 1 && reasons[0] == models.ReasonSafety {
			return name, true
		}
	}
	return "", false
}

func sortedCopy(gens []models.Generation) []models.Generation {
	out := make([]models.Generation, len(gens))
	copy(out, gens)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func dayKey(t time.Time) string {
	return t.Format(dayFormat)
}

// weekKey buckets by the date of the week's first day, weeks starting on start.
func weekKey(start time.Weekday) func(time.Time) string {
	return func(t time.Time) string {
		offset := (int(t.Weekday()) - int(start) + 7) % 7
		return t.AddDate(0, 0, -offset).Format(dayFormat)
	}
}

func monthKey(t time.Time) string {
	return t.Format(monthFormat)
}

func yearKey(t time.Time) string {
	return t.Format(yearFormat)
}
