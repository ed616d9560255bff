package retention

import (
	"testing"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-03-01 is a Friday.
var start = time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)

func gen(t time.Time, status models.GenerationStatus) models.Generation {
	return models.Generation{
		Name:      t.Format(models.GenerationNameFormat),
		CreatedAt: t,
		Status:    status,
	}
}

// daily returns n complete generations, one per day from start.
func daily(n int) []models.Generation {
	gens := make([]models.Generation, 0, n)
	for i := 0; i < n; i++ {
		gens = append(gens, gen(start.AddDate(0, 0, i), models.StatusComplete))
	}
	return gens
}

func names(gens []models.Generation) []string {
	out := make([]string, 0, len(gens))
	for _, g := range gens {
		out = append(out, g.Name)
	}
	return out
}

func day(d int) string {
	return time.Date(2024, 3, d, 3, 0, 0, 0, time.UTC).Format(models.GenerationNameFormat)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  models.RetentionPolicy
		wantErr bool
	}{
		{"days only", models.RetentionPolicy{Days: 7}, false},
		{"keep last only", models.RetentionPolicy{KeepLast: 1}, false},
		{"keep within only", models.RetentionPolicy{KeepWithin: time.Hour}, false},
		{"empty", models.RetentionPolicy{}, true},
		{"weekday too large", models.RetentionPolicy{WeekdayFull: 7, Days: 1}, true},
		{"weekday negative", models.RetentionPolicy{WeekdayFull: -1, Days: 1}, true},
		{"negative count", models.RetentionPolicy{Days: 3, Weeks: -1}, true},
		{"negative keep within", models.RetentionPolicy{Days: 3, KeepWithin: -time.Hour}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.policy)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, models.IsKind(err, models.KindConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSelect_Empty(t *testing.T) {
	plan, err := Select(nil, models.RetentionPolicy{Days: 7}, start)
	require.NoError(t, err)
	assert.Empty(t, plan.Keep)
	assert.Empty(t, plan.Delete)
	assert.NotNil(t, plan.Keep)
	assert.NotNil(t, plan.Delete)
}

func TestSelect_EmptyPolicy(t *testing.T) {
	_, err := Select(daily(3), models.RetentionPolicy{}, start)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestSelect_Daily(t *testing.T) {
	gens := daily(10)
	now := gens[9].CreatedAt.Add(time.Hour)

	plan, err := Select(gens, models.RetentionPolicy{Days: 7}, now)
	require.NoError(t, err)

	assert.Equal(t, names(gens[3:]), names(plan.Keep))
	assert.Equal(t, names(gens[:3]), names(plan.Delete))
	for _, g := range plan.Keep {
		assert.Equal(t, []models.RetentionReason{models.ReasonDaily}, plan.Reasons[g.Name])
	}
}

func TestSelect_DailyKeepsNewestOfDay(t *testing.T) {
	morning := gen(start, models.StatusComplete)
	evening := gen(start.Add(12*time.Hour), models.StatusComplete)

	plan, err := Select([]models.Generation{morning, evening}, models.RetentionPolicy{Days: 1}, start.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, []string{evening.Name}, names(plan.Keep))
	assert.Equal(t, []string{morning.Name}, names(plan.Delete))
}

func TestSelect_WeeklyOnFullWeekday(t *testing.T) {
	// Sundays in range: 3rd, 10th, 17th.
	gens := daily(21)
	now := gens[20].CreatedAt.Add(time.Hour)

	plan, err := Select(gens, models.RetentionPolicy{WeekdayFull: 6, Weeks: 2}, now)
	require.NoError(t, err)

	assert.Equal(t, []string{day(10), day(17), day(21)}, names(plan.Keep))
	assert.Equal(t, []models.RetentionReason{models.ReasonWeekly}, plan.Reasons[day(10)])
	assert.Equal(t, []models.RetentionReason{models.ReasonWeekly}, plan.Reasons[day(17)])
	assert.Equal(t, []models.RetentionReason{models.ReasonSafety}, plan.Reasons[day(21)])
	assert.Len(t, plan.Delete, 18)
}

func TestSelect_FinerTierDoesNotUseBudget(t *testing.T) {
	gens := daily(21)
	now := gens[20].CreatedAt.Add(time.Hour)

	plan, err := Select(gens, models.RetentionPolicy{WeekdayFull: 6, Days: 5, Weeks: 2}, now)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{day(3), day(10), day(17), day(18), day(19), day(20), day(21)},
		names(plan.Keep))
	assert.Equal(t,
		[]models.RetentionReason{models.ReasonDaily, models.ReasonWeekly},
		plan.Reasons[day(17)])
}

func TestSelect_MonthlyAndYearly(t *testing.T) {
	// One Sunday generation per month through 2023 and early 2024.
	var gens []models.Generation
	for m := 0; m < 15; m++ {
		first := time.Date(2023, time.Month(1+m), 1, 3, 0, 0, 0, time.UTC)
		for first.Weekday() != time.Sunday {
			first = first.AddDate(0, 0, 1)
		}
		gens = append(gens, gen(first, models.StatusComplete))
	}
	now := gens[len(gens)-1].CreatedAt.Add(time.Hour)

	plan, err := Select(gens, models.RetentionPolicy{WeekdayFull: 6, Months: 3, Years: 2}, now)
	require.NoError(t, err)

	// Monthly keeps Jan to Mar 2024, yearly adds Dec 2023.
	kept := names(plan.Keep)
	assert.Len(t, kept, 4)
	assert.Contains(t, kept, gens[14].Name)
	assert.Contains(t, kept, gens[13].Name)
	assert.Contains(t, kept, gens[12].Name)
	assert.Contains(t, kept, gens[11].Name)
	assert.Equal(t, []models.RetentionReason{models.ReasonYearly}, plan.Reasons[gens[11].Name])
	assert.Equal(t,
		[]models.RetentionReason{models.ReasonMonthly, models.ReasonYearly},
		plan.Reasons[gens[14].Name])
}

func TestSelect_FailedNeverKeptByTiers(t *testing.T) {
	gens := daily(3)
	gens[2].Status = models.StatusFailed
	now := gens[2].CreatedAt.Add(time.Hour)

	plan, err := Select(gens, models.RetentionPolicy{Days: 1}, now)
	require.NoError(t, err)

	assert.Equal(t, []string{gens[1].Name}, names(plan.Keep))
	assert.Equal(t, []string{gens[0].Name, gens[2].Name}, names(plan.Delete))
}

func TestSelect_KeepLastIncludesFailed(t *testing.T) {
	gens := daily(4)
	gens[3].Status = models.StatusFailed
	now := gens[3].CreatedAt.Add(time.Hour)

	plan, err := Select(gens, models.RetentionPolicy{KeepLast: 2}, now)
	require.NoError(t, err)

	assert.Equal(t, []string{gens[2].Name, gens[3].Name}, names(plan.Keep))
}

func TestSelect_InProgressAndFutureKept(t *testing.T) {
	gens := daily(5)
	gens[1].Status = models.StatusInProgress
	future := gen(start.AddDate(0, 1, 0), models.StatusComplete)
	gens = append(gens, future)
	now := gens[4].CreatedAt.Add(time.Hour)

	plan, err := Select(gens, models.RetentionPolicy{KeepLast: 1}, now)
	require.NoError(t, err)

	assert.Equal(t, []models.RetentionReason{models.ReasonInProgress}, plan.Reasons[gens[1].Name])
	assert.Equal(t, []models.RetentionReason{models.ReasonFuture}, plan.Reasons[future.Name])
	assert.Equal(t, []models.RetentionReason{models.ReasonKeepLast}, plan.Reasons[gens[4].Name])
	assert.Equal(t, []string{gens[0].Name, gens[2].Name, gens[3].Name}, names(plan.Delete))
}

func TestSelect_KeepLastAndWithinUnion(t *testing.T) {
	gens := daily(10)
	now := gens[9].CreatedAt.Add(time.Hour)

	plan, err := Select(gens, models.RetentionPolicy{KeepLast: 2, KeepWithin: 4 * 24 * time.Hour}, now)
	require.NoError(t, err)

	// Within four days of now: the 7th to the 10th generation.
	assert.Equal(t, names(gens[6:]), names(plan.Keep))
	assert.Equal(t,
		[]models.RetentionReason{models.ReasonKeepLast, models.ReasonKeepWithin},
		plan.Reasons[gens[9].Name])
	assert.Equal(t, []models.RetentionReason{models.ReasonKeepWithin}, plan.Reasons[gens[6].Name])
}

func TestSelect_SafetyFloor(t *testing.T) {
	gens := daily(3)
	now := gens[2].CreatedAt.AddDate(0, 1, 0)

	plan, err := Select(gens, models.RetentionPolicy{KeepWithin: time.Hour}, now)
	require.NoError(t, err)

	assert.Equal(t, []string{gens[2].Name}, names(plan.Keep))
	name, ok := SafetyKept(plan)
	assert.True(t, ok)
	assert.Equal(t, gens[2].Name, name)
}

func TestSelect_SafetyFloorNotNeeded(t *testing.T) {
	plan, err := Select(daily(3), models.RetentionPolicy{Days: 1}, start.AddDate(0, 0, 3))
	require.NoError(t, err)

	_, ok := SafetyKept(plan)
	assert.False(t, ok)
}

func TestSelect_Idempotent(t *testing.T) {
	gens := daily(60)
	now := gens[59].CreatedAt.Add(time.Hour)
	policy := models.RetentionPolicy{WeekdayFull: 6, Days: 7, Weeks: 4, Months: 2, KeepLast: 3}

	first, err := Select(gens, policy, now)
	require.NoError(t, err)
	require.NotEmpty(t, first.Delete)

	second, err := Select(first.Keep, policy, now)
	require.NoError(t, err)

	assert.Empty(t, second.Delete)
	assert.Equal(t, names(first.Keep), names(second.Keep))
}

func TestSelect_InputOrderIrrelevant(t *testing.T) {
	gens := daily(10)
	reversed := make([]models.Generation, len(gens))
	for i, g := range gens {
		reversed[len(gens)-1-i] = g
	}
	now := gens[9].CreatedAt.Add(time.Hour)
	policy := models.RetentionPolicy{Days: 4}

	a, err := Select(gens, policy, now)
	require.NoError(t, err)
	b, err := Select(reversed, policy, now)
	require.NoError(t, err)

	assert.Equal(t, names(a.Keep), names(b.Keep))
	assert.Equal(t, names(a.Delete), names(b.Delete))
}

func TestNewestComplete(t *testing.T) {
	gens := daily(3)
	gens[2].Status = models.StatusFailed

	newest := NewestComplete(gens)
	require.NotNil(t, newest)
	assert.Equal(t, gens[1].Name, newest.Name)

	assert.Nil(t, NewestComplete(nil))
}

func TestWeekKey(t *testing.T) {
	key := weekKey(time.Sunday)
	sunday := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2024, 3, 16, 23, 0, 0, 0, time.UTC)
	nextSunday := time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, key(sunday), key(saturday))
	assert.NotEqual(t, key(sunday), key(nextSunday))
}
