package models

import "time"

// RetentionPolicy defines which generations survive a prune.
//
// The GFS tiers (Days, Weeks, Months, Years) and the two standalone
// predicates (KeepLast, KeepWithin) are combined as a union: a generation
// survives if any predicate keeps it.
type RetentionPolicy struct {
	// WeekdayFull is the weekday whose generation represents its week,
	// Monday being 0 and Sunday 6.
	WeekdayFull int `json:"weekday_full" validate:"min=0,max=6"`

	Days   int `json:"days" validate:"min=0"`
	Weeks  int `json:"weeks" validate:"min=0"`
	Months int `json:"months" validate:"min=0"`
	Years  int `json:"years" validate:"min=0"`

	KeepLast   int           `json:"keep_last,omitempty" validate:"min=0"`
	KeepWithin time.Duration `json:"keep_within,omitempty" validate:"min=0"`
}

// HasGFS reports whether any GFS tier is enabled.
func (p RetentionPolicy) HasGFS() bool {
	return p.Days > 0 || p.Weeks > 0 || p.Months > 0 || p.Years > 0
}

// IsEmpty reports whether the policy keeps nothing at all.
func (p RetentionPolicy) IsEmpty() bool {
	return !p.HasGFS() && p.KeepLast <= 0 && p.KeepWithin <= 0
}

// GoWeekday converts WeekdayFull to a time.Weekday.
func (p RetentionPolicy) GoWeekday() time.Weekday {
	return time.Weekday((p.WeekdayFull + 1) % 7)
}

// RetentionReason names the predicate that kept a generation.
type RetentionReason string

const (
	ReasonDaily      RetentionReason = "daily"
	ReasonWeekly     RetentionReason = "weekly"
	ReasonMonthly    RetentionReason = "monthly"
	ReasonYearly     RetentionReason = "yearly"
	ReasonKeepLast   RetentionReason = "keep-last"
	ReasonKeepWithin RetentionReason = "keep-within"
	ReasonInProgress RetentionReason = "in-progress"
	ReasonFuture     RetentionReason = "future"
	ReasonSafety     RetentionReason = "safety-floor"
	ReasonUnselected RetentionReason = "not-selected"
)

// RetentionPlan is the outcome of a retention selection.
type RetentionPlan struct {
	Keep    []Generation
	Delete  []Generation
	Reasons map[string][]RetentionReason // generation name -> predicates that kept it
}

// PruneResult reports what a prune run removed or would remove.
type PruneResult struct {
	DryRun   bool
	Plan     RetentionPlan
	Removed  []string
	Failed   map[string]string // generation name -> error message
	Duration time.Duration
}
