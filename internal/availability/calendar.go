package availability

import (
	"sort"
	"time"
)

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Empty() bool { return !i.End.After(i.Start) }

// Calendar is one consultant's availability as seen from their timezone.
type Calendar struct {
	Location *time.Location
	Slots    []Slot
	Blocks   []Block
	// Busy holds already booked meetings. Bookable ignores it because the
	// database rejects double bookings; Windows subtracts it.
	Busy []Interval
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Bookable reports whether [start, end) stays within one local day, fits
// inside a single slot of that weekday, and misses every block.
func (c Calendar) Bookable(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	loc := c.loc()
	ls, le := start.In(loc), end.In(loc)

	startOff := sinceMidnight(ls)
	endOff := sinceMidnight(le)
	if !sameDay(ls, le) {
		next := midnight(ls).AddDate(0, 0, 1)
		if !le.Equal(next) {
			return false
		}
		endOff = MinutesPerDay * time.Minute
	}

	contained := false
	for _, slot := range c.Slots {
		if slot.Weekday != ls.Weekday() {
			continue
		}
		if time.Duration(slot.StartMinute)*time.Minute <= startOff && endOff <= time.Duration(slot.EndMinute)*time.Minute {
			contained = true
			break
		}
	}
	if !contained {
		return false
	}

	want := Interval{Start: start, End: end}
	for _, b := range c.Blocks {
		if want.Overlaps(b.Interval()) {
			return false
		}
	}
	return true
}

// Windows lists the free intervals between from and to in start order.
func (c Calendar) Windows(from, to time.Time) []Interval {
	if !to.After(from) {
		return nil
	}
	loc := c.loc()
	bounds := Interval{Start: from, End: to}

	out := []Interval{}
	for day := midnight(from.In(loc)); day.Before(to); day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc) {
		for _, slot := range c.Slots {
			if slot.Weekday != day.Weekday() {
				continue
			}
			w := Interval{
				Start: time.Date(day.Year(), day.Month(), day.Day(), 0, slot.StartMinute, 0, 0, loc),
				End:   time.Date(day.Year(), day.Month(), day.Day(), 0, slot.EndMinute, 0, 0, loc),
			}
			w = clip(w, bounds)
			if w.Empty() {
				continue
			}
			out = append(out, w)
		}
	}

	for _, b := range c.Blocks {
		out = subtract(out, b.Interval())
	}
	for _, busy := range c.Busy {
		out = subtract(out, busy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func clip(w, bounds Interval) Interval {
	if w.Start.Before(bounds.Start) {
		w.Start = bounds.Start
	}
	if w.End.After(bounds.End) {
		w.End = bounds.End
	}
	return w
}

func subtract(in []Interval, cut Interval) []Interval {
	out := make([]Interval, 0, len(in))
	for _, w := range in {
		if !w.Overlaps(cut) {
			out = append(out, w)
			continue
		}
		if w.Start.Before(cut.Start) {
			out = append(out, Interval{Start: w.Start, End: cut.Start})
		}
		if cut.End.Before(w.End) {
			out = append(out, Interval{Start: cut.End, End: w.End})
		}
	}
	return out
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// sinceMidnight is wall-clock time of day, so DST shifts do not move slots.
func sinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}
