package availability

import (
	"errors"
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone %s unavailable: %v", name, err)
	}
	return loc
}

func TestSlotValidate(t *testing.T) {
	cases := []struct {
		name string
		slot Slot
		ok   bool
	}{
		{"ok", Slot{Weekday: time.Monday, StartMinute: 540, EndMinute: 720}, true},
		{"full day", Slot{Weekday: time.Sunday, StartMinute: 0, EndMinute: 1440}, true},
		{"empty", Slot{Weekday: time.Monday, StartMinute: 600, EndMinute: 600}, false},
		{"inverted", Slot{Weekday: time.Monday, StartMinute: 700, EndMinute: 600}, false},
		{"past midnight", Slot{Weekday: time.Monday, StartMinute: 600, EndMinute: 1441}, false},
		{"negative", Slot{Weekday: time.Monday, StartMinute: -1, EndMinute: 60}, false},
		{"weekday", Slot{Weekday: 7, StartMinute: 0, EndMinute: 60}, false},
	}
	for _, tc := range cases {
		err := tc.slot.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: Validate() err=%v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: Validate() err=%v, want ErrInvalid", tc.name, err)
		}
	}
}

func TestValidateSlots(t *testing.T) {
	touching := []Slot{
		{Weekday: time.Monday, StartMinute: 720, EndMinute: 1020},
		{Weekday: time.Monday, StartMinute: 540, EndMinute: 720},
		{Weekday: time.Tuesday, StartMinute: 540, EndMinute: 1020},
	}
	if err := ValidateSlots(touching); err != nil {
		t.Fatalf("ValidateSlots() err=%v", err)
	}
	if touching[0].StartMinute != 720 {
		t.Fatalf("ValidateSlots must not reorder its input")
	}

	overlapping := []Slot{
		{Weekday: time.Monday, StartMinute: 540, EndMinute: 721},
		{Weekday: time.Monday, StartMinute: 720, EndMinute: 1020},
	}
	if err := ValidateSlots(overlapping); !errors.Is(err, ErrInvalid) {
		t.Fatalf("ValidateSlots() err=%v, want ErrInvalid", err)
	}

	duplicate := []Slot{
		{Weekday: time.Friday, StartMinute: 540, EndMinute: 600},
		{Weekday: time.Friday, StartMinute: 540, EndMinute: 600},
	}
	if err := ValidateSlots(duplicate); !errors.Is(err, ErrInvalid) {
		t.Fatalf("ValidateSlots() err=%v, want ErrInvalid", err)
	}

	if err := ValidateSlots(nil); err != nil {
		t.Fatalf("ValidateSlots(nil) err=%v", err)
	}
}

func TestBlockForDates(t *testing.T) {
	loc := mustLoc(t, "Europe/Berlin")
	b, err := BlockForDates("2026-03-02", "2026-03-03", loc, " vacation ")
	if err != nil {
		t.Fatalf("BlockForDates() err=%v", err)
	}
	wantStart := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	wantEnd := time.Date(2026, 3, 4, 0, 0, 0, 0, loc)
	if !b.StartsAt.Equal(wantStart) || !b.EndsAt.Equal(wantEnd) {
		t.Fatalf("block=%v..%v, want %v..%v", b.StartsAt, b.EndsAt, wantStart, wantEnd)
	}
	if b.Reason != "vacation" {
		t.Fatalf("reason=%q", b.Reason)
	}

	if _, err := BlockForDates("2026-03-03", "2026-03-02", loc, ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("BlockForDates() err=%v, want ErrInvalid", err)
	}
	if _, err := BlockForDates("03/02/2026", "2026-03-02", loc, ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("BlockForDates() err=%v, want ErrInvalid", err)
	}
}

func TestValidateBlock(t *testing.T) {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	existing := []Block{{ID: "b1", StartsAt: base, EndsAt: base.Add(24 * time.Hour)}}

	touching := Block{StartsAt: base.Add(24 * time.Hour), EndsAt: base.Add(48 * time.Hour)}
	if err := ValidateBlock(touching, existing); err != nil {
		t.Fatalf("ValidateBlock() err=%v", err)
	}

	overlapping := Block{StartsAt: base.Add(23 * time.Hour), EndsAt: base.Add(25 * time.Hour)}
	if err := ValidateBlock(overlapping, existing); !errors.Is(err, ErrBlockOverlap) {
		t.Fatalf("ValidateBlock() err=%v, want ErrBlockOverlap", err)
	}

	self := Block{ID: "b1", StartsAt: base, EndsAt: base.Add(2 * time.Hour)}
	if err := ValidateBlock(self, existing); err != nil {
		t.Fatalf("ValidateBlock(self) err=%v", err)
	}

	empty := Block{StartsAt: base, EndsAt: base}
	if err := ValidateBlock(empty, nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("ValidateBlock() err=%v, want ErrInvalid", err)
	}
}

func TestCalendarBookable(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	cal := Calendar{
		Location: loc,
		Slots: []Slot{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60},
			{Weekday: time.Monday, StartMinute: 12 * 60, EndMinute: 17 * 60},
			{Weekday: time.Tuesday, StartMinute: 22 * 60, EndMinute: MinutesPerDay},
		},
		Blocks: []Block{{
			StartsAt: time.Date(2026, 3, 2, 15, 0, 0, 0, loc),
			EndsAt:   time.Date(2026, 3, 2, 16, 0, 0, 0, loc),
		}},
	}
	at := func(day, h, m int) time.Time { return time.Date(2026, 3, day, h, m, 0, 0, loc) }

	cases := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside morning slot", at(2, 9, 0), at(2, 10, 0), true},
		{"ends at slot end", at(2, 11, 0), at(2, 12, 0), true},
		{"spans two touching slots", at(2, 11, 30), at(2, 12, 30), false},
		{"before slot", at(2, 8, 30), at(2, 9, 30), false},
		{"hits block", at(2, 14, 30), at(2, 15, 30), false},
		{"touches block end", at(2, 16, 0), at(2, 17, 0), true},
		{"wrong weekday", at(4, 10, 0), at(4, 11, 0), false},
		{"ends at midnight", at(3, 23, 0), at(4, 0, 0), true},
		{"crosses midnight", at(3, 23, 0), at(4, 0, 30), false},
		{"empty", at(2, 10, 0), at(2, 10, 0), false},
		{"utc input", at(2, 10, 0).UTC(), at(2, 11, 0).UTC(), true},
	}
	for _, tc := range cases {
		if got := cal.Bookable(tc.start, tc.end); got != tc.want {
			t.Fatalf("%s: Bookable()=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCalendarWindows(t *testing.T) {
	loc := time.UTC
	cal := Calendar{
		Location: loc,
		Slots: []Slot{
			{Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60},
			{Weekday: time.Tuesday, StartMinute: 9 * 60, EndMinute: 10 * 60},
		},
		Blocks: []Block{{
			StartsAt: time.Date(2026, 3, 2, 10, 0, 0, 0, loc),
			EndsAt:   time.Date(2026, 3, 2, 10, 30, 0, 0, loc),
		}},
		Busy: []Interval{{
			Start: time.Date(2026, 3, 2, 11, 0, 0, 0, loc),
			End:   time.Date(2026, 3, 2, 11, 15, 0, 0, loc),
		}},
	}
	from := time.Date(2026, 3, 2, 9, 30, 0, 0, loc)
	to := time.Date(2026, 3, 4, 0, 0, 0, 0, loc)

	got := cal.Windows(from, to)
	want := []Interval{
		{Start: time.Date(2026, 3, 2, 9, 30, 0, 0, loc), End: time.Date(2026, 3, 2, 10, 0, 0, 0, loc)},
		{Start: time.Date(2026, 3, 2, 10, 30, 0, 0, loc), End: time.Date(2026, 3, 2, 11, 0, 0, 0, loc)},
		{Start: time.Date(2026, 3, 2, 11, 15, 0, 0, loc), End: time.Date(2026, 3, 2, 12, 0, 0, 0, loc)},
		{Start: time.Date(2026, 3, 3, 9, 0, 0, 0, loc), End: time.Date(2026, 3, 3, 10, 0, 0, 0, loc)},
	}
	if len(got) != len(want) {
		t.Fatalf("Windows() len=%d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("Windows()[%d]=%v, want %v", i, got[i], want[i])
		}
	}

	if got := cal.Windows(to, from); got != nil {
		t.Fatalf("Windows(inverted)=%v, want nil", got)
	}
}
