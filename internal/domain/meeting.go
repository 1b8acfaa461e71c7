package domain

import (
	"errors"
	"strings"
	"time"
)

type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "scheduled"
	MeetingCompleted MeetingStatus = "completed"
	MeetingCancelled MeetingStatus = "cancelled"
	MeetingNoShow    MeetingStatus = "no_show"
)

func (s MeetingStatus) Valid() bool {
	switch s {
	case MeetingScheduled, MeetingCompleted, MeetingCancelled, MeetingNoShow:
		return true
	}
	return false
}

type Meeting struct {
	ID           string
	LeadID       string
	ConsultantID string
	ScheduledBy  string
	StartsAt     time.Time
	EndsAt       time.Time
	Status       MeetingStatus
	Location     string
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (m Meeting) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("meeting id is required")
	}
	if strings.TrimSpace(m.LeadID) == "" {
		return errors.New("meeting lead is required")
	}
	if strings.TrimSpace(m.ConsultantID) == "" {
		return errors.New("meeting consultant is required")
	}
	if m.StartsAt.IsZero() || m.EndsAt.IsZero() {
		return errors.New("meeting start and end are required")
	}
	if !m.EndsAt.After(m.StartsAt) {
		return errors.New("meeting must end after it starts")
	}
	if !m.Status.Valid() {
		return errors.New("meeting status is invalid")
	}
	return nil
}

// CanTransition reports whether a meeting may move from s to next. Only
// scheduled meetings change state.
func (s MeetingStatus) CanTransition(next MeetingStatus) bool {
	if s != MeetingScheduled || !next.Valid() {
		return false
	}
	return next != MeetingScheduled
}
