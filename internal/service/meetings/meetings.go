// Package meetings books consultant meetings against published
// availability and manages the availability itself.
//
// The repository enforces that one consultant never holds two overlapping
// scheduled meetings; this package checks everything else before writing.
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
	DefaultMaxDuration = 4 * time.Hour
	DefaultListLimit   = 100
	MaxListLimit       = 500

	resourceMeeting = domain.ResourceMeeting
	maxNotesLength  = 10000
)

type Service struct {
	stores      repo.Stores
	tx          repo.Transactor
	maxDuration time.Duration
}

func New(stores repo.Stores, tx repo.Transactor, maxDuration time.Duration) *Service {
	if stores.Meetings == nil || stores.Leads == nil || stores.Users == nil || stores.Availability == nil || tx == nil {
		return nil
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Service{stores: stores, tx: tx, maxDuration: maxDuration}
}

type ScheduleInput struct {
	LeadID       string
	ConsultantID string
	StartsAt     time.Time
	EndsAt       time.Time
	Location     string
	Notes        string
}

// Schedule books a meeting on a visible lead. The consultant becomes the
// lead's consultant when the lead has none yet.
func (s *Service) Schedule(ctx context.Context, p access.Principal, info service.AuditInfo, in ScheduleInput) (domain.Meeting, error) {
	if !p.Can(access.MeetingsSchedule) {
		return domain.Meeting{}, service.ErrForbidden
	}
	var verr service.ValidationError
	if strings.TrimSpace(in.LeadID) == "" {
		verr.Add("lead_id is required")
	}
	if strings.TrimSpace(in.ConsultantID) == "" {
		verr.Add("consultant_id is required")
	}
	if len(in.Notes) > maxNotesLength {
		verr.Add(fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
	}
	s.validateInterval(&verr, in.StartsAt, in.EndsAt)
	if err := verr.OrNil(); err != nil {
		return domain.Meeting{}, err
	}

	var out domain.Meeting
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		lead, err := st.Leads.GetLead(ctx, strings.TrimSpace(in.LeadID), p.Scope())
		if err != nil {
			return err
		}
		consultant, err := loadConsultant(ctx, st, strings.TrimSpace(in.ConsultantID))
		if err != nil {
			return err
		}
		if err := checkBookable(ctx, st, consultant, in.StartsAt, in.EndsAt); err != nil {
			return err
		}

		now := time.Now().UTC()
		meeting := domain.Meeting{
			ID:           uuid.NewString(),
			LeadID:       lead.ID,
			ConsultantID: consultant.ID,
			ScheduledBy:  p.UserID,
			StartsAt:     in.StartsAt.UTC(),
			EndsAt:       in.EndsAt.UTC(),
			Status:       domain.MeetingScheduled,
			Location:     strings.TrimSpace(in.Location),
			Notes:        strings.TrimSpace(in.Notes),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := st.Meetings.CreateMeeting(ctx, meeting); err != nil {
			return err
		}
		if lead.ConsultantID == "" {
			lead.ConsultantID = consultant.ID
			lead.UpdatedAt = now
			if err := st.Leads.UpdateLead(ctx, lead); err != nil {
				return err
			}
		}
		payload := meetingPayload(meeting)
		if err := addActivity(ctx, st, info, lead.ID, domain.ActivityMeetingScheduled, "", payload); err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("meeting.scheduled", resourceMeeting, meeting.ID, payload)); err != nil {
			return err
		}
		out = meeting
		return nil
	})
	return out, err
}

// Reschedule moves a scheduled meeting to a new interval with the same
// checks as Schedule.
func (s *Service) Reschedule(ctx context.Context, p access.Principal, info service.AuditInfo, id string, startsAt, endsAt time.Time) (domain.Meeting, error) {
	var verr service.ValidationError
	s.validateInterval(&verr, startsAt, endsAt)
	if err := verr.OrNil(); err != nil {
		return domain.Meeting{}, err
	}

	var out domain.Meeting
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		meeting, err := loadForMutation(ctx, st, p, id)
		if err != nil {
			return err
		}
		if meeting.Status != domain.MeetingScheduled {
			return fmt.Errorf("%w: meeting is %s", service.ErrInvalidTransition, meeting.Status)
		}
		consultant, err := loadConsultant(ctx, st, meeting.ConsultantID)
		if err != nil {
			return err
		}
		if err := checkBookable(ctx, st, consultant, startsAt, endsAt); err != nil {
			return err
		}

		previous := meeting
		meeting.StartsAt, meeting.EndsAt = startsAt.UTC(), endsAt.UTC()
		meeting.UpdatedAt = time.Now().UTC()
		if err := st.Meetings.UpdateMeeting(ctx, meeting); err != nil {
			return err
		}
		payload := meetingPayload(meeting)
		payload["previous_starts_at"] = previous.StartsAt.Format(time.RFC3339)
		payload["previous_ends_at"] = previous.EndsAt.Format(time.RFC3339)
		if err := addActivity(ctx, st, info, meeting.LeadID, domain.ActivityMeetingUpdated, "rescheduled", payload); err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("meeting.rescheduled", resourceMeeting, meeting.ID, payload)); err != nil {
			return err
		}
		out = meeting
		return nil
	})
	return out, err
}

func (s *Service) Cancel(ctx context.Context, p access.Principal, info service.AuditInfo, id, notes string) (domain.Meeting, error) {
	return s.transition(ctx, p, info, id, domain.MeetingCancelled, notes)
}

func (s *Service) Complete(ctx context.Context, p access.Principal, info service.AuditInfo, id, notes string) (domain.Meeting, error) {
	return s.transition(ctx, p, info, id, domain.MeetingCompleted, notes)
}

func (s *Service) NoShow(ctx context.Context, p access.Principal, info service.AuditInfo, id, notes string) (domain.Meeting, error) {
	return s.transition(ctx, p, info, id, domain.MeetingNoShow, notes)
}

func (s *Service) transition(ctx context.Context, p access.Principal, info service.AuditInfo, id string, next domain.MeetingStatus, notes string) (domain.Meeting, error) {
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLength {
		return domain.Meeting{}, service.Invalid(fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
	}

	var out domain.Meeting
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		meeting, err := loadForMutation(ctx, st, p, id)
		if err != nil {
			return err
		}
		if !meeting.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s to %s", service.ErrInvalidTransition, meeting.Status, next)
		}
		from := meeting.Status
		meeting.Status = next
		if notes != "" {
			meeting.Notes = notes
		}
		meeting.UpdatedAt = time.Now().UTC()
		if err := st.Meetings.UpdateMeeting(ctx, meeting); err != nil {
			return err
		}
		payload := meetingPayload(meeting)
		payload["from_status"] = string(from)
		if err := addActivity(ctx, st, info, meeting.LeadID, domain.ActivityMeetingUpdated, string(next), payload); err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("meeting."+string(next), resourceMeeting, meeting.ID, payload)); err != nil {
			return err
		}
		out = meeting
		return nil
	})
	return out, err
}

// Get hides meetings the principal cannot see behind repo.ErrNotFound.
func (s *Service) Get(ctx context.Context, p access.Principal, id string) (domain.Meeting, error) {
	if !p.Can(access.MeetingsRead) {
		return domain.Meeting{}, service.ErrForbidden
	}
	return loadVisible(ctx, s.stores, p, id)
}

type ListInput struct {
	ConsultantID string
	LeadID       string
	Status       domain.MeetingStatus
	From         time.Time
	To           time.Time
	Limit        int
}

func (s *Service) List(ctx context.Context, p access.Principal, in ListInput) ([]domain.Meeting, error) {
	if !p.Can(access.MeetingsRead) {
		return nil, service.ErrForbidden
	}
	var verr service.ValidationError
	limit := in.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 1 || limit > MaxListLimit {
		verr.Add(fmt.Sprintf("limit must be within 1..%d", MaxListLimit))
	}
	if in.Status != "" && !in.Status.Valid() {
		verr.Add(fmt.Sprintf("unknown status %q", in.Status))
	}
	if !in.From.IsZero() && !in.To.IsZero() && !in.To.After(in.From) {
		verr.Add("to must be after from")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	filter := repo.MeetingFilter{
		ConsultantID: strings.TrimSpace(in.ConsultantID),
		LeadID:       strings.TrimSpace(in.LeadID),
		Status:       in.Status,
		From:         in.From,
		To:           in.To,
		Limit:        limit,
	}
	if !p.Can(access.MeetingsManage) {
		scope := p.Scope()
		filter.Visibility = &scope
		filter.ViewerID = p.UserID
	}
	return s.stores.Meetings.ListMeetings(ctx, filter)
}

func (s *Service) validateInterval(verr *service.ValidationError, startsAt, endsAt time.Time) {
	if startsAt.IsZero() || endsAt.IsZero() {
		verr.Add("starts_at and ends_at are required")
		return
	}
	if !endsAt.After(startsAt) {
		verr.Add("ends_at must be after starts_at")
		return
	}
	if endsAt.Sub(startsAt) > s.maxDuration {
		verr.Add(fmt.Sprintf("meeting must not be longer than %s", s.maxDuration))
	}
}

func loadVisible(ctx context.Context, st repo.Stores, p access.Principal, id string) (domain.Meeting, error) {
	meeting, err := st.Meetings.GetMeeting(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Meeting{}, err
	}
	if p.Can(access.MeetingsManage) || meeting.ConsultantID == p.UserID {
		return meeting, nil
	}
	if _, err := st.Leads.GetLead(ctx, meeting.LeadID, p.Scope()); err != nil {
		return domain.Meeting{}, err
	}
	return meeting, nil
}

// loadForMutation allows meetings.manage holders, the meeting's consultant
// and the scheduler who still holds meetings.schedule.
func loadForMutation(ctx context.Context, st repo.Stores, p access.Principal, id string) (domain.Meeting, error) {
	if !p.Can(access.MeetingsRead) {
		return domain.Meeting{}, service.ErrForbidden
	}
	meeting, err := loadVisible(ctx, st, p, id)
	if err != nil {
		return domain.Meeting{}, err
	}
	switch {
	case p.Can(access.MeetingsManage):
	case meeting.ConsultantID == p.UserID:
	case p.Can(access.MeetingsSchedule) && meeting.ScheduledBy == p.UserID:
	default:
		return domain.Meeting{}, service.ErrForbidden
	}
	return meeting, nil
}

func loadConsultant(ctx context.Context, st repo.Stores, id string) (domain.User, error) {
	user, err := st.Users.GetUser(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, service.Invalid("consultant_id does not exist")
	}
	if err != nil {
		return domain.User{}, err
	}
	if !user.Active {
		return domain.User{}, service.Invalid("consultant is inactive")
	}
	if user.Role != domain.RoleConsultant {
		return domain.User{}, service.Invalid("consultant_id must reference a consultant")
	}
	return user, nil
}

func calendarFor(ctx context.Context, st repo.Stores, user domain.User, from, to time.Time) (availability.Calendar, error) {
	loc, err := user.Location()
	if err != nil {
		return availability.Calendar{}, err
	}
	slots, err := st.Availability.ListSlots(ctx, user.ID)
	if err != nil {
		return availability.Calendar{}, err
	}
	blocks, err := st.Availability.ListBlocks(ctx, user.ID, from, to)
	if err != nil {
		return availability.Calendar{}, err
	}
	return availability.Calendar{Location: loc, Slots: slots, Blocks: blocks}, nil
}

func checkBookable(ctx context.Context, st repo.Stores, consultant domain.User, startsAt, endsAt time.Time) error {
	cal, err := calendarFor(ctx, st, consultant, startsAt.Add(-24*time.Hour), endsAt.Add(24*time.Hour))
	if err != nil {
		return err
	}
	if !cal.Bookable(startsAt, endsAt) {
		return fmt.Errorf("%w: %s..%s", service.ErrNotBookable, startsAt.UTC().Format(time.RFC3339), endsAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func addActivity(ctx context.Context, st repo.Stores, info service.AuditInfo, leadID string, kind domain.ActivityKind, body string, payload domain.Metadata) error {
	return st.Activities.AddActivity(ctx, domain.Activity{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		Actor:     info.Actor,
		Kind:      kind,
		Body:      body,
		Payload:   payload.Clone(),
		CreatedAt: time.Now().UTC(),
	})
}

func meetingPayload(m domain.Meeting) domain.Metadata {
	return domain.Metadata{
		"lead_id":       m.LeadID,
		"consultant_id": m.ConsultantID,
		"starts_at":     m.StartsAt.Format(time.RFC3339),
		"ends_at":       m.EndsAt.Format(time.RFC3339),
		"status":        string(m.Status),
	}
}
