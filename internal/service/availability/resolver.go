package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/Domenick1991/slotbooking/internal/domain"
)

// Query is everything the resolver needs. It performs no I/O.
type Query struct {
	Range    domain.Interval
	Timezone string

	Rules     []domain.AvailabilityRule
	Overrides []domain.AvailabilityOverride
	// Busy are external calendar commitments, Claims the windows of live bookings.
	Busy   []domain.Interval
	Claims []domain.Interval

	// DefaultSlotMinutes slices override-only days that have no rule for their weekday.
	DefaultSlotMinutes int
}

// window is an open span together with the slot length it is sliced into.
type window struct {
	domain.Interval
	slot time.Duration
}

// Resolve computes the bookable slots of Range, followed by the unavailable gaps between them
// inside the responder's working hours. Output is ascending, non-overlapping and in UTC.
func Resolve(q Query) ([]domain.Slot, error) {
	if q.Range.Empty() {
		return nil, fmt.Errorf("%w: range start must be before range end", domain.ErrInvalidRequest)
	}
	display := q.Timezone
	if display == "" {
		display = "UTC"
	}
	if _, err := time.LoadLocation(display); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidRequest, display)
	}

	open, err := ruleWindows(q.Rules, q.Range)
	if err != nil {
		return nil, err
	}
	open, err = applyOverrides(open, q.Overrides, q.Rules, q.Range, q.DefaultSlotMinutes)
	if err != nil {
		return nil, err
	}
	open = clip(open, q.Range)

	free := subtract(open, q.Busy)
	free = subtract(free, q.Claims)

	slots := make([]domain.Slot, 0)
	for _, w := range free {
		for start := w.Start; !start.Add(w.slot).After(w.End); start = start.Add(w.slot) {
			slots = append(slots, domain.Slot{
				Start:     start.UTC(),
				End:       start.Add(w.slot).UTC(),
				Available: true,
				Timezone:  display,
			})
		}
	}

	taken := make([]domain.Interval, 0, len(slots))
	for _, s := range slots {
		taken = append(taken, domain.Interval{Start: s.Start, End: s.End})
	}
	for _, gap := range subtract(open, taken) {
		slots = append(slots, domain.Slot{
			Start:     gap.Start.UTC(),
			End:       gap.End.UTC(),
			Available: false,
			Timezone:  display,
		})
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

// ruleWindows expands weekly rules into concrete windows touching rng. Each rule is evaluated
// in its own timezone, so a day is enumerated one step either side of the range.
func ruleWindows(rules []domain.AvailabilityRule, rng domain.Interval) ([]window, error) {
	out := make([]window, 0)
	for _, rule := range rules {
		loc, err := time.LoadLocation(rule.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s has unknown timezone %q", domain.ErrInvalidRequest, rule.ID, rule.Timezone)
		}
		for _, day := range daysCovering(rng, loc) {
			if day.Weekday() != rule.DayOfWeek {
				continue
			}
			w := window{
				Interval: domain.Interval{Start: rule.StartTime.On(day, loc), End: rule.EndTime.On(day, loc)},
				slot:     time.Duration(rule.SlotMinutes) * time.Minute,
			}
			if w.Overlaps(rng) {
				out = append(out, w)
			}
		}
	}
	return union(out), nil
}

// applyOverrides removes blocked spans, then adds available ones. A blocked override without
// times clears its whole local day.
func applyOverrides(open []window, overrides []domain.AvailabilityOverride, rules []domain.AvailabilityRule, rng domain.Interval, defaultSlotMinutes int) ([]window, error) {
	var blocked []domain.Interval
	var added []window
	for _, o := range overrides {
		loc, err := time.LoadLocation(o.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: override %s has unknown timezone %q", domain.ErrInvalidRequest, o.ID, o.Timezone)
		}
		day := time.Date(o.Date.Year(), o.Date.Month(), o.Date.Day(), 0, 0, 0, 0, loc)
		span := domain.Interval{Start: day, End: day.AddDate(0, 0, 1)}
		if !o.WholeDay() {
			span = domain.Interval{Start: o.StartTime.On(day, loc), End: o.EndTime.On(day, loc)}
		}
		if !span.Overlaps(rng) {
			continue
		}

		switch o.Kind {
		case domain.OverrideBlocked:
			blocked = append(blocked, span)
		case domain.OverrideAvailable:
			added = append(added, window{Interval: span, slot: slotFor(day.Weekday(), rules, defaultSlotMinutes)})
		}
	}

	open = subtract(open, blocked)
	return union(append(open, added...)), nil
}

// slotFor picks the finest granularity among rules for the weekday, or the default.
func slotFor(day time.Weekday, rules []domain.AvailabilityRule, defaultSlotMinutes int) time.Duration {
	minutes := 0
	for _, r := range rules {
		if r.DayOfWeek == day && (minutes == 0 || r.SlotMinutes < minutes) {
			minutes = r.SlotMinutes
		}
	}
	if minutes == 0 {
		minutes = defaultSlotMinutes
	}
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

func daysCovering(rng domain.Interval, loc *time.Location) []time.Time {
	first := rng.Start.In(loc)
	last := rng.End.In(loc)
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	end := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	days := make([]time.Time, 0)
	for ; !day.After(end); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

// union merges overlapping or touching windows. A merged window keeps the finer slot length.
func union(ws []window) []window {
	if len(ws) == 0 {
		return ws
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].Start.Before(ws[j].Start) })

	out := []window{ws[0]}
	for _, w := range ws[1:] {
		last := &out[len(out)-1]
		if w.Start.After(last.End) {
			out = append(out, w)
			continue
		}
		if w.End.After(last.End) {
			last.End = w.End
		}
		if w.slot < last.slot {
			last.slot = w.slot
		}
	}
	return out
}

// subtract removes every cut from every window, splitting windows where needed.
func subtract(ws []window, cuts []domain.Interval) []window {
	for _, cut := range cuts {
		if cut.Empty() {
			continue
		}
		next := make([]window, 0, len(ws))
		for _, w := range ws {
			if !w.Overlaps(cut) {
				next = append(next, w)
				continue
			}
			if w.Start.Before(cut.Start) {
				next = append(next, window{Interval: domain.Interval{Start: w.Start, End: cut.Start}, slot: w.slot})
			}
			if cut.End.Before(w.End) {
				next = append(next, window{Interval: domain.Interval{Start: cut.End, End: w.End}, slot: w.slot})
			}
		}
		ws = next
	}
	return ws
}

func clip(ws []window, rng domain.Interval) []window {
	out := make([]window, 0, len(ws))
	for _, w := range ws {
		if w.Start.Before(rng.Start) {
			w.Start = rng.Start
		}
		if w.End.After(rng.End) {
			w.End = rng.End
		}
		if !w.Empty() {
			out = append(out, w)
		}
	}
	return out
}

// Contains reports whether target lies entirely inside one open window of slots. Adjacent
// available slots count as one window.
func Contains(slots []domain.Slot, target domain.Interval) bool {
	var run *domain.Interval
	for _, s := range slots {
		if !s.Available {
			run = nil
			continue
		}
		if run == nil || !s.Start.Equal(run.End) {
			run = &domain.Interval{Start: s.Start, End: s.End}
		} else {
			run.End = s.End
		}
		if run.Contains(target) {
			return true
		}
	}
	return false
}
