package repo

import (
	"context"
	"time"

	"github.com/leadline-labs/leadline/internal/availability"
	"github.com/leadline-labs/leadline/internal/domain"
)

type UserFilter struct {
	Role   domain.Role
	TeamID string
	Active *bool
	Limit  int
}

type LeadFilter struct {
	Scope   domain.LeadScope
	StageID string
	OwnerID string
	// Query matches name, company or email case-insensitively.
	Query  string
	Limit  int
	Offset int
}

type MeetingFilter struct {
	ConsultantID string
	LeadID       string
	Status       domain.MeetingStatus
	From         time.Time
	To           time.Time
	// Visibility limits results to meetings on leads in scope or where
	// ViewerID is the consultant. Zero value means unrestricted.
	Visibility *domain.LeadScope
	ViewerID   string
	Limit      int
}

// StageTotal aggregates the leads currently in one stage.
type StageTotal struct {
	StageID    string
	Count      int64
	ValueCents int64
}

// UserRepository manages CRM users.
type UserRepository interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserBySubject(ctx context.Context, subject string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) error
	BindSubject(ctx context.Context, userID, subject string) error
}

type TeamRepository interface {
	CreateTeam(ctx context.Context, team domain.Team) error
	GetTeam(ctx context.Context, id string) (domain.Team, error)
	ListTeams(ctx context.Context) ([]domain.Team, error)
}

// StageRepository manages the ordered pipeline.
type StageRepository interface {
	ListStages(ctx context.Context) ([]domain.Stage, error)
	GetStage(ctx context.Context, id string) (domain.Stage, error)
	CreateStage(ctx context.Context, stage domain.Stage) error
	UpdateStage(ctx context.Context, stage domain.Stage) error
	DeleteStage(ctx context.Context, id string) error
	// SetPositions rewrites every stage position. Callers run it inside
	// a transaction.
	SetPositions(ctx context.Context, orderedIDs []string) error
}

// LeadRepository reads are always filtered by a scope.
type LeadRepository interface {
	CreateLead(ctx context.Context, lead domain.Lead) error
	GetLead(ctx context.Context, id string, scope domain.LeadScope) (domain.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]domain.Lead, error)
	UpdateLead(ctx context.Context, lead domain.Lead) error
	DeleteLead(ctx context.Context, id string) error
	StageTotals(ctx context.Context, scope domain.LeadScope) ([]StageTotal, error)
}

type ActivityRepository interface {
	AddActivity(ctx context.Context, activity domain.Activity) error
	ListActivities(ctx context.Context, leadID string, limit int) ([]domain.Activity, error)
}

type AvailabilityRepository interface {
	ListSlots(ctx context.Context, userID string) ([]availability.Slot, error)
	// ReplaceSlots swaps the full weekly schedule. Callers run it inside a
	// transaction.
	ReplaceSlots(ctx context.Context, userID string, slots []availability.Slot) error
	ListBlocks(ctx context.Context, userID string, from, to time.Time) ([]availability.Block, error)
	CreateBlock(ctx context.Context, block availability.Block) error
	DeleteBlock(ctx context.Context, userID, blockID string) error
}

type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting domain.Meeting) error
	GetMeeting(ctx context.Context, id string) (domain.Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]domain.Meeting, error)
	UpdateMeeting(ctx context.Context, meeting domain.Meeting) error
}

type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte, updatedBy string) error
	DeleteSetting(ctx context.Context, key string) error
}

// AuditEventAppender ensures append-only audit writes.
type AuditEventAppender interface {
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)
}

// Stores bundles the repositories bound to one connection or transaction.
type Stores struct {
	Users        UserRepository
	Teams        TeamRepository
	Stages       StageRepository
	Leads        LeadRepository
	Activities   ActivityRepository
	Availability AvailabilityRepository
	Meetings     MeetingRepository
	Settings     SettingsRepository
	Audit        AuditEventAppender
}

// Transactor runs fn against stores bound to a single transaction. The
// transaction commits when fn returns nil.
type Transactor interface {
	InTx(ctx context.Context, fn func(Stores) error) error
}
