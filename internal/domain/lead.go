package domain

import (
	"errors"
	"strings"
	"time"
)

const DefaultLeadSource = "manual"

// Acquisition records where a lead came from.
type Acquisition struct {
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	LandingPath string `json:"landing_path,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	RuleID      string `json:"rule_id,omitempty"`
}

func (a Acquisition) IsZero() bool { return a == Acquisition{} }

type Lead struct {
	ID           string
	Name         string
	Company      string
	Email        string
	Phone        string
	Source       string
	StageID      string
	OwnerID      string
	ConsultantID string
	TeamID       string
	ValueCents   int64
	Currency     string
	Notes        string
	LostReason   string
	Acquisition  Acquisition
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
}

func (l Lead) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return errors.New("lead id is required")
	}
	if strings.TrimSpace(l.Name) == "" {
		return errors.New("lead name is required")
	}
	if strings.TrimSpace(l.Email) != "" {
		if err := ValidateEmail(l.Email); err != nil {
			return err
		}
	}
	if strings.TrimSpace(l.StageID) == "" {
		return errors.New("lead stage is required")
	}
	if strings.TrimSpace(l.OwnerID) == "" {
		return errors.New("lead owner is required")
	}
	if l.ValueCents < 0 {
		return errors.New("lead value must be non-negative")
	}
	return nil
}

type ActivityKind string

const (
	ActivityCreated          ActivityKind = "created"
	ActivityNote             ActivityKind = "note"
	ActivityStageChange      ActivityKind = "stage_change"
	ActivityAssignment       ActivityKind = "assignment"
	ActivityMeetingScheduled ActivityKind = "meeting_scheduled"
	ActivityMeetingUpdated   ActivityKind = "meeting_updated"
)

// Activity is an append-only entry on a lead's timeline.
type Activity struct {
	ID        string
	LeadID    string
	Actor     string
	Kind      ActivityKind
	Body      string
	Payload   Metadata
	CreatedAt time.Time
}

func (a Activity) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("activity id is required")
	}
	if strings.TrimSpace(a.LeadID) == "" {
		return errors.New("activity lead is required")
	}
	if strings.TrimSpace(a.Actor) == "" {
		return errors.New("activity actor is required")
	}
	if strings.TrimSpace(string(a.Kind)) == "" {
		return errors.New("activity kind is required")
	}
	return nil
}
