package domain

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

const MinutesPerDay TimeOfDay = 24 * 60

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidRequest, s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On places the time of day on the given calendar date in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, loc)
}

type AvailabilityRule struct {
	ID          string
	ResponderID string
	DayOfWeek   time.Weekday
	StartTime   TimeOfDay
	EndTime     TimeOfDay
	SlotMinutes int
	Timezone    string
	RetiredAt   *time.Time
	CreatedAt   time.Time
}

func (r AvailabilityRule) Validate() error {
	if r.DayOfWeek < time.Sunday || r.DayOfWeek > time.Saturday {
		return fmt.Errorf("%w: day of week must be 0-6", ErrInvalidRequest)
	}
	if r.StartTime < 0 || r.EndTime > MinutesPerDay || r.StartTime >= r.EndTime {
		return fmt.Errorf("%w: rule window %s-%s must be within a single day", ErrInvalidRequest, r.StartTime, r.EndTime)
	}
	if r.SlotMinutes <= 0 {
		return fmt.Errorf("%w: slot granularity must be positive", ErrInvalidRequest)
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidRequest, r.Timezone)
	}
	return nil
}

type OverrideKind string

const (
	OverrideBlocked   OverrideKind = "blocked"
	OverrideAvailable OverrideKind = "available"
)

type AvailabilityOverride struct {
	ID          string
	ResponderID string
	// Date holds the calendar date only; the clock part is ignored.
	Date      time.Time
	Kind      OverrideKind
	StartTime *TimeOfDay
	EndTime   *TimeOfDay
	Timezone  string
	Reason    string
	CreatedAt time.Time
}

func (o AvailabilityOverride) WholeDay() bool {
	return o.StartTime == nil || o.EndTime == nil
}

func (o AvailabilityOverride) Validate() error {
	if o.Kind != OverrideBlocked && o.Kind != OverrideAvailable {
		return fmt.Errorf("%w: override kind must be blocked or available", ErrInvalidRequest)
	}
	if (o.StartTime == nil) != (o.EndTime == nil) {
		return fmt.Errorf("%w: override needs both start and end, or neither", ErrInvalidRequest)
	}
	if !o.WholeDay() && (*o.StartTime < 0 || *o.EndTime > MinutesPerDay || *o.StartTime >= *o.EndTime) {
		return fmt.Errorf("%w: override window must be within a single day", ErrInvalidRequest)
	}
	if _, err := time.LoadLocation(o.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidRequest, o.Timezone)
	}
	return nil
}
