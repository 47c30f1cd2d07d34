package domain

import "time"

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Empty() bool {
	return !i.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) UTC() Interval {
	return Interval{Start: i.Start.UTC(), End: i.End.UTC()}
}

// Slot is one resolved window, tagged with whether it can be booked.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
	Timezone  string
}
