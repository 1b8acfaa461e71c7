package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/availability"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

func (db *DB) ListSlots(ctx context.Context, userID string) ([]availability.Slot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := append([]availability.Slot{}, db.st.slots[strings.TrimSpace(userID)]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].StartMinute < out[j].StartMinute
	})
	return out, nil
}

func (db *DB) ReplaceSlots(ctx context.Context, userID string, slots []availability.Slot) error {
	if err := availability.ValidateSlots(slots); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	userID = strings.TrimSpace(userID)
	if _, ok := db.st.users[userID]; !ok {
		return repo.ErrNotFound
	}
	db.st.slots[userID] = append([]availability.Slot(nil), slots...)
	return nil
}

func (db *DB) ListBlocks(ctx context.Context, userID string, from, to time.Time) ([]availability.Block, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]availability.Block, 0)
	for _, b := range db.st.blocks {
		if b.UserID != strings.TrimSpace(userID) {
			continue
		}
		if !to.IsZero() && !b.StartsAt.Before(to) {
			continue
		}
		if !from.IsZero() && !b.EndsAt.After(from) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (db *DB) CreateBlock(ctx context.Context, block availability.Block) error {
	if err := block.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.st.blocks[block.ID]; ok {
		return repo.ErrConflict
	}
	if _, ok := db.st.users[block.UserID]; !ok {
		return repo.ErrNotFound
	}
	block.StartsAt, block.EndsAt = block.StartsAt.UTC(), block.EndsAt.UTC()
	for _, other := range db.st.blocks {
		if other.UserID == block.UserID && block.Interval().Overlaps(other.Interval()) {
			return availability.ErrBlockOverlap
		}
	}
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now().UTC()
	}
	db.st.blocks[block.ID] = block
	return nil
}

func (db *DB) DeleteBlock(ctx context.Context, userID, blockID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	b, ok := db.st.blocks[strings.TrimSpace(blockID)]
	if !ok || b.UserID != strings.TrimSpace(userID) {
		return repo.ErrNotFound
	}
	delete(db.st.blocks, b.ID)
	return nil
}

func (db *DB) CreateMeeting(ctx context.Context, meeting domain.Meeting) error {
	if err := meeting.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.st.meetings[meeting.ID]; ok {
		return repo.ErrConflict
	}
	if err := db.checkMeetingLocked(meeting); err != nil {
		return err
	}
	now := time.Now().UTC()
	if meeting.CreatedAt.IsZero() {
		meeting.CreatedAt = now
	}
	if meeting.UpdatedAt.IsZero() {
		meeting.UpdatedAt = meeting.CreatedAt
	}
	db.st.meetings[meeting.ID] = meeting
	return nil
}

func (db *DB) GetMeeting(ctx context.Context, id string) (domain.Meeting, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.st.meetings[strings.TrimSpace(id)]
	if !ok {
		return domain.Meeting{}, repo.ErrNotFound
	}
	return m, nil
}

func (db *DB) ListMeetings(ctx context.Context, filter repo.MeetingFilter) ([]domain.Meeting, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]domain.Meeting, 0)
	for _, m := range db.st.meetings {
		if filter.Visibility != nil {
			lead := db.st.leads[m.LeadID]
			viewer := strings.TrimSpace(filter.ViewerID)
			if !filter.Visibility.Allows(lead) && (viewer == "" || m.ConsultantID != viewer) {
				continue
			}
		}
		if v := strings.TrimSpace(filter.ConsultantID); v != "" && m.ConsultantID != v {
			continue
		}
		if v := strings.TrimSpace(filter.LeadID); v != "" && m.LeadID != v {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if !filter.To.IsZero() && !m.StartsAt.Before(filter.To) {
			continue
		}
		if !filter.From.IsZero() && !m.EndsAt.After(filter.From) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (db *DB) UpdateMeeting(ctx context.Context, meeting domain.Meeting) error {
	if err := meeting.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	current, ok := db.st.meetings[meeting.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if err := db.checkMeetingLocked(meeting); err != nil {
		return err
	}
	meeting.CreatedAt = current.CreatedAt
	if meeting.UpdatedAt.IsZero() {
		meeting.UpdatedAt = time.Now().UTC()
	}
	db.st.meetings[meeting.ID] = meeting
	return nil
}

// checkMeetingLocked mirrors the foreign keys and the exclusion constraint
// over scheduled meetings of one consultant.
func (db *DB) checkMeetingLocked(meeting domain.Meeting) error {
	if _, ok := db.st.leads[meeting.LeadID]; !ok {
		return repo.ErrNotFound
	}
	if _, ok := db.st.users[meeting.ConsultantID]; !ok {
		return repo.ErrNotFound
	}
	if meeting.Status != domain.MeetingScheduled {
		return nil
	}
	want := availability.Interval{Start: meeting.StartsAt, End: meeting.EndsAt}
	for id, other := range db.st.meetings {
		if id == meeting.ID || other.ConsultantID != meeting.ConsultantID || other.Status != domain.MeetingScheduled {
			continue
		}
		if want.Overlaps(availability.Interval{Start: other.StartsAt, End: other.EndsAt}) {
			return repo.ErrMeetingConflict
		}
	}
	return nil
}

func (db *DB) GetSetting(ctx context.Context, key string) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, ok := db.st.settings[strings.TrimSpace(key)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (db *DB) PutSetting(ctx context.Context, key string, value []byte, updatedBy string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.st.settings[strings.TrimSpace(key)] = append([]byte(nil), value...)
	return nil
}

func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	key = strings.TrimSpace(key)
	if _, ok := db.st.settings[key]; !ok {
		return repo.ErrNotFound
	}
	delete(db.st.settings, key)
	return nil
}

func (db *DB) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	event.Payload = event.Payload.Clone()
	db.st.audit = append(db.st.audit, event)
	return int64(len(db.st.audit)), nil
}
