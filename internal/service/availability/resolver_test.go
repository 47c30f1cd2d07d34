package availability

import (
	"testing"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func mondayRule(start, end string, slot int) domain.AvailabilityRule {
	s, _ := domain.ParseTimeOfDay(start)
	e, _ := domain.ParseTimeOfDay(end)
	return domain.AvailabilityRule{
		ID:          "rule-" + start,
		ResponderID: "responder-1",
		DayOfWeek:   time.Monday,
		StartTime:   s,
		EndTime:     e,
		SlotMinutes: slot,
		Timezone:    "UTC",
	}
}

func at(day time.Time, hhmm string) time.Time {
	t, _ := domain.ParseTimeOfDay(hhmm)
	return t.On(day, time.UTC)
}

func dayRange(day time.Time) domain.Interval {
	return domain.Interval{Start: day, End: day.AddDate(0, 0, 1)}
}

func available(slots []domain.Slot) []domain.Slot {
	out := make([]domain.Slot, 0)
	for _, s := range slots {
		if s.Available {
			out = append(out, s)
		}
	}
	return out
}

func hasAvailable(slots []domain.Slot, start, end time.Time) bool {
	for _, s := range slots {
		if s.Available && s.Start.Equal(start) && s.End.Equal(end) {
			return true
		}
	}
	return false
}

func TestResolve_MondayScenario(t *testing.T) {
	require.Equal(t, time.Monday, monday.Weekday())

	slots, err := Resolve(Query{
		Range:  dayRange(monday),
		Rules:  []domain.AvailabilityRule{mondayRule("09:00", "17:00", 30)},
		Claims: []domain.Interval{{Start: at(monday, "10:00"), End: at(monday, "10:30")}},
	})
	require.NoError(t, err)

	assert.Len(t, available(slots), 15)
	assert.True(t, hasAvailable(slots, at(monday, "09:00"), at(monday, "09:30")))
	assert.True(t, hasAvailable(slots, at(monday, "10:30"), at(monday, "11:00")))
	assert.False(t, hasAvailable(slots, at(monday, "10:00"), at(monday, "10:30")))

	// Занятое окно возвращается как недоступное.
	var taken []domain.Slot
	for _, s := range slots {
		if !s.Available {
			taken = append(taken, s)
		}
	}
	require.Len(t, taken, 1)
	assert.Equal(t, at(monday, "10:00"), taken[0].Start)
	assert.Equal(t, at(monday, "10:30"), taken[0].End)
}

func TestResolve_OutputIsOrderedAndDisjoint(t *testing.T) {
	slots, err := Resolve(Query{
		Range:    dayRange(monday),
		Timezone: "Europe/Berlin",
		Rules: []domain.AvailabilityRule{
			mondayRule("09:00", "12:00", 30),
			mondayRule("11:00", "13:00", 60),
		},
		Busy:   []domain.Interval{{Start: at(monday, "09:10"), End: at(monday, "09:20")}},
		Claims: []domain.Interval{{Start: at(monday, "12:00"), End: at(monday, "12:30")}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	for i, s := range slots {
		assert.Equal(t, time.UTC, s.Start.Location())
		assert.Equal(t, "Europe/Berlin", s.Timezone)
		assert.True(t, s.Start.Before(s.End))
		if i > 0 {
			assert.False(t, s.Start.Before(slots[i-1].End), "slot %d overlaps its predecessor", i)
		}
	}
}

func TestResolve_DegenerateRange(t *testing.T) {
	_, err := Resolve(Query{Range: domain.Interval{Start: monday, End: monday}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = Resolve(Query{Range: domain.Interval{Start: monday.Add(time.Hour), End: monday}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestResolve_UnknownDisplayTimezone(t *testing.T) {
	_, err := Resolve(Query{Range: dayRange(monday), Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestResolve_WholeDayBlockClearsDay(t *testing.T) {
	slots, err := Resolve(Query{
		Range: dayRange(monday),
		Rules: []domain.AvailabilityRule{mondayRule("09:00", "17:00", 30)},
		Overrides: []domain.AvailabilityOverride{{
			ID: "o1", Date: monday, Kind: domain.OverrideBlocked, Timezone: "UTC",
		}},
	})
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestResolve_PartialBlock(t *testing.T) {
	start, _ := domain.ParseTimeOfDay("12:00")
	end, _ := domain.ParseTimeOfDay("13:00")

	slots, err := Resolve(Query{
		Range: dayRange(monday),
		Rules: []domain.AvailabilityRule{mondayRule("09:00", "17:00", 60)},
		Overrides: []domain.AvailabilityOverride{{
			ID: "o1", Date: monday, Kind: domain.OverrideBlocked, StartTime: &start, EndTime: &end, Timezone: "UTC",
		}},
	})
	require.NoError(t, err)

	assert.Len(t, available(slots), 7)
	assert.False(t, hasAvailable(slots, at(monday, "12:00"), at(monday, "13:00")))
	assert.True(t, hasAvailable(slots, at(monday, "13:00"), at(monday, "14:00")))
}

func TestResolve_OverrideOnlyDay(t *testing.T) {
	tuesday := monday.AddDate(0, 0, 1)
	start, _ := domain.ParseTimeOfDay("10:00")
	end, _ := domain.ParseTimeOfDay("12:00")

	slots, err := Resolve(Query{
		Range: dayRange(tuesday),
		Rules: []domain.AvailabilityRule{mondayRule("09:00", "17:00", 30)},
		Overrides: []domain.AvailabilityOverride{{
			ID: "o1", Date: tuesday, Kind: domain.OverrideAvailable, StartTime: &start, EndTime: &end, Timezone: "UTC",
		}},
		DefaultSlotMinutes: 60,
	})
	require.NoError(t, err)

	require.Len(t, available(slots), 2)
	assert.True(t, hasAvailable(slots, at(tuesday, "10:00"), at(tuesday, "11:00")))
	assert.True(t, hasAvailable(slots, at(tuesday, "11:00"), at(tuesday, "12:00")))
}

func TestResolve_AvailableOverrideExtendsRuleDay(t *testing.T) {
	start, _ := domain.ParseTimeOfDay("17:00")
	end, _ := domain.ParseTimeOfDay("18:00")

	slots, err := Resolve(Query{
		Range: dayRange(monday),
		Rules: []domain.AvailabilityRule{mondayRule("09:00", "17:00", 30)},
		Overrides: []domain.AvailabilityOverride{{
			ID: "o1", Date: monday, Kind: domain.OverrideAvailable, StartTime: &start, EndTime: &end, Timezone: "UTC",
		}},
	})
	require.NoError(t, err)

	assert.Len(t, available(slots), 18)
	assert.True(t, hasAvailable(slots, at(monday, "17:30"), at(monday, "18:00")))
}

func TestResolve_BusyIntervalsAreSubtracted(t *testing.T) {
	slots, err := Resolve(Query{
		Range: dayRange(monday),
		Rules: []domain.AvailabilityRule{mondayRule("09:00", "12:00", 60)},
		Busy:  []domain.Interval{{Start: at(monday, "10:00"), End: at(monday, "11:00")}},
	})
	require.NoError(t, err)

	assert.Len(t, available(slots), 2)
	assert.False(t, hasAvailable(slots, at(monday, "10:00"), at(monday, "11:00")))
}

func TestResolve_RemainderIsDropped(t *testing.T) {
	slots, err := Resolve(Query{
		Range: dayRange(monday),
		Rules: []domain.AvailabilityRule{mondayRule("09:00", "10:45", 30)},
	})
	require.NoError(t, err)

	assert.Len(t, available(slots), 3)
	last := slots[len(slots)-1]
	assert.False(t, last.Available)
	assert.Equal(t, at(monday, "10:30"), last.Start)
	assert.Equal(t, at(monday, "10:45"), last.End)
}

func TestResolve_RuleTimezone(t *testing.T) {
	rule := mondayRule("09:00", "10:00", 60)
	rule.Timezone = "America/New_York"

	slots, err := Resolve(Query{
		Range: dayRange(monday),
		Rules: []domain.AvailabilityRule{rule},
	})
	require.NoError(t, err)

	require.Len(t, slots, 1)
	// В октябре Нью-Йорк живет по UTC-4.
	assert.Equal(t, at(monday, "13:00"), slots[0].Start)
	assert.Equal(t, at(monday, "14:00"), slots[0].End)
}

func TestResolve_RangeClipsWindows(t *testing.T) {
	slots, err := Resolve(Query{
		Range: domain.Interval{Start: at(monday, "11:00"), End: at(monday, "13:00")},
		Rules: []domain.AvailabilityRule{mondayRule("09:00", "17:00", 60)},
	})
	require.NoError(t, err)

	require.Len(t, slots, 2)
	assert.Equal(t, at(monday, "11:00"), slots[0].Start)
	assert.Equal(t, at(monday, "13:00"), slots[1].End)
}

func TestContains(t *testing.T) {
	slots := []domain.Slot{
		{Start: at(monday, "09:00"), End: at(monday, "09:30"), Available: true},
		{Start: at(monday, "09:30"), End: at(monday, "10:00"), Available: true},
		{Start: at(monday, "10:00"), End: at(monday, "10:30"), Available: false},
		{Start: at(monday, "10:30"), End: at(monday, "11:00"), Available: true},
	}

	assert.True(t, Contains(slots, domain.Interval{Start: at(monday, "09:00"), End: at(monday, "10:00")}))
	assert.True(t, Contains(slots, domain.Interval{Start: at(monday, "10:30"), End: at(monday, "11:00")}))
	assert.False(t, Contains(slots, domain.Interval{Start: at(monday, "09:30"), End: at(monday, "10:30")}))
	assert.False(t, Contains(slots, domain.Interval{Start: at(monday, "11:00"), End: at(monday, "11:30")}))
}
