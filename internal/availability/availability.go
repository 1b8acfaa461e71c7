// Package availability decides when a consultant can be booked.
//
// A consultant publishes recurring weekly slots in their own timezone and
// removes time with blocks. Slots and blocks are validated on write; reads
// check interval containment against them.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const MinutesPerDay = 24 * 60

var (
	ErrInvalid      = errors.New("invalid availability")
	ErrBlockOverlap = errors.New("availability block overlaps an existing block")
)

// Slot is a recurring weekly window in minutes since local midnight.
type Slot struct {
	Weekday     time.Weekday `json:"weekday"`
	StartMinute int          `json:"start_minute"`
	EndMinute   int          `json:"end_minute"`
}

func (s Slot) Validate() error {
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday must be 0..6 (got %d)", ErrInvalid, s.Weekday)
	}
	if s.StartMinute < 0 || s.EndMinute > MinutesPerDay {
		return fmt.Errorf("%w: slot minutes must be within 0..%d", ErrInvalid, MinutesPerDay)
	}
	if s.StartMinute >= s.EndMinute {
		return fmt.Errorf("%w: slot must end after it starts", ErrInvalid)
	}
	return nil
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %02d:%02d-%02d:%02d", s.Weekday, s.StartMinute/60, s.StartMinute%60, s.EndMinute/60, s.EndMinute%60)
}

// ValidateSlots rejects malformed slots and overlapping slots on the same
// weekday. Slots that only touch are allowed.
func ValidateSlots(slots []Slot) error {
	sorted := make([]Slot, len(slots))
	copy(sorted, slots)
	for _, slot := range sorted {
		if err := slot.Validate(); err != nil {
			return err
		}
	}
	sortSlots(sorted)
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Weekday == cur.Weekday && prev.EndMinute > cur.StartMinute {
			return fmt.Errorf("%w: slots %s and %s overlap", ErrInvalid, prev, cur)
		}
	}
	return nil
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Weekday != slots[j].Weekday {
			return slots[i].Weekday < slots[j].Weekday
		}
		return slots[i].StartMinute < slots[j].StartMinute
	})
}

// Block removes [StartsAt, EndsAt) from a user's availability.
type Block struct {
	ID        string    `json:"block_id"`
	UserID    string    `json:"user_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (b Block) Validate() error {
	if b.StartsAt.IsZero() || b.EndsAt.IsZero() {
		return fmt.Errorf("%w: block start and end are required", ErrInvalid)
	}
	if !b.EndsAt.After(b.StartsAt) {
		return fmt.Errorf("%w: block must end after it starts", ErrInvalid)
	}
	return nil
}

func (b Block) Interval() Interval { return Interval{Start: b.StartsAt, End: b.EndsAt} }

// BlockForDates blocks whole local days, from the midnight starting from
// through the midnight ending to.
func BlockForDates(from, to string, loc *time.Location, reason string) (Block, error) {
	if loc == nil {
		loc = time.UTC
	}
	fromDay, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(from), loc)
	if err != nil {
		return Block{}, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrInvalid)
	}
	toDay, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(to), loc)
	if err != nil {
		return Block{}, fmt.Errorf("%w: to must be YYYY-MM-DD", ErrInvalid)
	}
	if toDay.Before(fromDay) {
		return Block{}, fmt.Errorf("%w: to must not be before from", ErrInvalid)
	}
	end := time.Date(toDay.Year(), toDay.Month(), toDay.Day()+1, 0, 0, 0, 0, loc)
	return Block{StartsAt: fromDay, EndsAt: end, Reason: strings.TrimSpace(reason)}, nil
}

// ValidateBlock rejects an invalid block or one that overlaps existing
// blocks. An existing block with the same id is ignored.
func ValidateBlock(b Block, existing []Block) error {
	if err := b.Validate(); err != nil {
		return err
	}
	for _, other := range existing {
		if b.ID != "" && other.ID == b.ID {
			continue
		}
		if b.Interval().Overlaps(other.Interval()) {
			return fmt.Errorf("%w: %s..%s", ErrBlockOverlap, other.StartsAt.UTC().Format(time.RFC3339), other.EndsAt.UTC().Format(time.RFC3339))
		}
	}
	return nil
}
