package meetings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/availability"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
	"github.com/leadline-labs/leadline/internal/service"
)

const (
	MaxWindowDays = 31

	resourceAvailability = domain.ResourceAvailability
)

// Schedule is a user's published availability.
type Schedule struct {
	UserID   string               `json:"user_id"`
	Timezone string               `json:"timezone"`
	Slots    []availability.Slot  `json:"slots"`
	Blocks   []availability.Block `json:"blocks"`
}

// Availability returns the weekly slots and the blocks that have not ended
// before now.
func (s *Service) Availability(ctx context.Context, p access.Principal, userID string) (Schedule, error) {
	if !p.Can(access.AvailabilityRead) {
		return Schedule{}, service.ErrForbidden
	}
	user, err := s.stores.Users.GetUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return Schedule{}, err
	}
	slots, err := s.stores.Availability.ListSlots(ctx, user.ID)
	if err != nil {
		return Schedule{}, err
	}
	blocks, err := s.stores.Availability.ListBlocks(ctx, user.ID, time.Now().UTC(), time.Time{})
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{UserID: user.ID, Timezone: timezoneOf(user), Slots: slots, Blocks: blocks}, nil
}

// ReplaceSlots swaps the whole weekly schedule of userID.
func (s *Service) ReplaceSlots(ctx context.Context, p access.Principal, info service.AuditInfo, userID string, slots []availability.Slot) ([]availability.Slot, error) {
	userID = strings.TrimSpace(userID)
	if !canManageAvailability(p, userID) {
		return nil, service.ErrForbidden
	}
	if err := availability.ValidateSlots(slots); err != nil {
		return nil, service.Invalid(err.Error())
	}
	var out []availability.Slot
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		if _, err := st.Users.GetUser(ctx, userID); err != nil {
			return err
		}
		if err := st.Availability.ReplaceSlots(ctx, userID, slots); err != nil {
			return err
		}
		stored, err := st.Availability.ListSlots(ctx, userID)
		if err != nil {
			return err
		}
		payload := domain.Metadata{"slots": slotStrings(stored)}
		if _, err := st.Audit.Append(ctx, info.Event("availability.slots_replaced", resourceAvailability, userID, payload)); err != nil {
			return err
		}
		out = stored
		return nil
	})
	return out, err
}

// BlockInput takes either whole dates (From, To inclusive, in the user's
// timezone) or an explicit interval.
type BlockInput struct {
	From     string
	To       string
	StartsAt time.Time
	EndsAt   time.Time
	Reason   string
}

// AddBlock rejects blocks that overlap an existing block of the same user
// with availability.ErrBlockOverlap.
func (s *Service) AddBlock(ctx context.Context, p access.Principal, info service.AuditInfo, userID string, in BlockInput) (availability.Block, error) {
	userID = strings.TrimSpace(userID)
	if !canManageAvailability(p, userID) {
		return availability.Block{}, service.ErrForbidden
	}

	var out availability.Block
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		user, err := st.Users.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		block, err := blockFromInput(user, in)
		if err != nil {
			return err
		}
		block.ID = uuid.NewString()
		block.UserID = user.ID
		block.CreatedAt = time.Now().UTC()

		existing, err := st.Availability.ListBlocks(ctx, user.ID, block.StartsAt, block.EndsAt)
		if err != nil {
			return err
		}
		if err := availability.ValidateBlock(block, existing); err != nil {
			if errors.Is(err, availability.ErrBlockOverlap) {
				return err
			}
			return service.Invalid(err.Error())
		}
		if err := st.Availability.CreateBlock(ctx, block); err != nil {
			return err
		}
		payload := domain.Metadata{
			"starts_at": block.StartsAt.UTC().Format(time.RFC3339),
			"ends_at":   block.EndsAt.UTC().Format(time.RFC3339),
			"reason":    block.Reason,
		}
		if _, err := st.Audit.Append(ctx, info.Event("availability.block_added", resourceAvailability, user.ID, payload)); err != nil {
			return err
		}
		out = block
		return nil
	})
	return out, err
}

func (s *Service) DeleteBlock(ctx context.Context, p access.Principal, info service.AuditInfo, userID, blockID string) error {
	userID = strings.TrimSpace(userID)
	if !canManageAvailability(p, userID) {
		return service.ErrForbidden
	}
	return s.tx.InTx(ctx, func(st repo.Stores) error {
		if err := st.Availability.DeleteBlock(ctx, userID, strings.TrimSpace(blockID)); err != nil {
			return err
		}
		_, err := st.Audit.Append(ctx, info.Event("availability.block_deleted", resourceAvailability, userID, domain.Metadata{"block_id": strings.TrimSpace(blockID)}))
		return err
	})
}

// Windows lists the free intervals of userID between the local midnight
// starting from and the local midnight after to. Scheduled meetings count
// as busy.
func (s *Service) Windows(ctx context.Context, p access.Principal, userID, from, to string) ([]availability.Interval, error) {
	if !p.Can(access.AvailabilityRead) {
		return nil, service.ErrForbidden
	}
	user, err := s.stores.Users.GetUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	rangeBlock, err := availability.BlockForDates(from, to, mustLocation(user), "")
	if err != nil {
		return nil, service.Invalid(strings.TrimPrefix(err.Error(), availability.ErrInvalid.Error()+": "))
	}
	start, end := rangeBlock.StartsAt, rangeBlock.EndsAt
	if end.Sub(start) > MaxWindowDays*24*time.Hour+time.Hour {
		return nil, service.Invalid(fmt.Sprintf("range must span at most %d days", MaxWindowDays))
	}

	cal, err := calendarFor(ctx, s.stores, user, start, end)
	if err != nil {
		return nil, err
	}
	busy, err := s.stores.Meetings.ListMeetings(ctx, repo.MeetingFilter{
		ConsultantID: user.ID,
		Status:       domain.MeetingScheduled,
		From:         start,
		To:           end,
	})
	if err != nil {
		return nil, err
	}
	for _, m := range busy {
		cal.Busy = append(cal.Busy, availability.Interval{Start: m.StartsAt, End: m.EndsAt})
	}
	return cal.Windows(start, end), nil
}

func canManageAvailability(p access.Principal, userID string) bool {
	if p.Can(access.AvailabilityManageAny) {
		return true
	}
	return userID != "" && userID == p.UserID && p.Can(access.AvailabilityManageOwn)
}

func blockFromInput(user domain.User, in BlockInput) (availability.Block, error) {
	reason := strings.TrimSpace(in.Reason)
	if len(reason) > 500 {
		return availability.Block{}, service.Invalid("reason must be at most 500 characters")
	}
	dates := strings.TrimSpace(in.From) != "" || strings.TrimSpace(in.To) != ""
	explicit := !in.StartsAt.IsZero() || !in.EndsAt.IsZero()
	switch {
	case dates && explicit:
		return availability.Block{}, service.Invalid("use either from/to dates or starts_at/ends_at")
	case dates:
		b, err := availability.BlockForDates(in.From, in.To, mustLocation(user), reason)
		if err != nil {
			return availability.Block{}, service.Invalid(strings.TrimPrefix(err.Error(), availability.ErrInvalid.Error()+": "))
		}
		return b, nil
	case explicit:
		return availability.Block{StartsAt: in.StartsAt.UTC(), EndsAt: in.EndsAt.UTC(), Reason: reason}, nil
	default:
		return availability.Block{}, service.Invalid("from/to dates or starts_at/ends_at are required")
	}
}

// mustLocation falls back to UTC; stored users always carry a valid zone.
func mustLocation(user domain.User) *time.Location {
	loc, err := user.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

func timezoneOf(user domain.User) string {
	if tz := strings.TrimSpace(user.Timezone); tz != "" {
		return tz
	}
	return "UTC"
}

func slotStrings(slots []availability.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slot.String())
	}
	return out
}
