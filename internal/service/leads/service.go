package leads

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
	"github.com/leadline-labs/leadline/internal/service"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
	SourceFunnel     = "funnel"

	resourceLead = domain.ResourceLead
)

// ErrIntakeUnavailable means the intake owner for public leads is missing
// or inactive.
var ErrIntakeUnavailable = errors.New("lead intake owner unavailable")

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type Service struct {
	stores repo.Stores
	tx     repo.Transactor
	now    func() time.Time
}

func New(stores repo.Stores, tx repo.Transactor) *Service {
	if stores.Leads == nil || stores.Stages == nil || stores.Users == nil || tx == nil {
		return nil
	}
	return &Service{stores: stores, tx: tx, now: time.Now}
}

type CreateInput struct {
	Name         string
	Company      string
	Email        string
	Phone        string
	Source       string
	StageID      string
	OwnerID      string
	ConsultantID string
	ValueCents   int64
	Currency     string
	Notes        string
}

func (s *Service) Create(ctx context.Context, p access.Principal, info service.AuditInfo, in CreateInput) (domain.Lead, error) {
	if !p.Can(access.LeadsCreate) {
		return domain.Lead{}, service.ErrForbidden
	}
	var verr service.ValidationError
	validateContact(&verr, in.Name, in.Email)
	if in.ValueCents < 0 {
		verr.Add("value_cents must be non-negative")
	}
	currency := normalizeCurrency(&verr, in.Currency)
	if err := verr.OrNil(); err != nil {
		return domain.Lead{}, err
	}

	ownerID := strings.TrimSpace(in.OwnerID)
	if ownerID == "" {
		ownerID = p.UserID
	}
	consultantID := strings.TrimSpace(in.ConsultantID)
	if (ownerID != p.UserID || consultantID != "") && !p.Can(access.LeadsAssign) {
		return domain.Lead{}, service.ErrForbidden
	}

	now := s.now().UTC()
	lead := domain.Lead{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Company:      strings.TrimSpace(in.Company),
		Email:        strings.TrimSpace(in.Email),
		Phone:        strings.TrimSpace(in.Phone),
		Source:       strings.TrimSpace(in.Source),
		StageID:      strings.TrimSpace(in.StageID),
		OwnerID:      ownerID,
		ConsultantID: consultantID,
		ValueCents:   in.ValueCents,
		Currency:     currency,
		Notes:        strings.TrimSpace(in.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if lead.Source == "" {
		lead.Source = domain.DefaultLeadSource
	}

	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		return s.insert(ctx, st, info, &lead, "lead.created")
	})
	if err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

type CaptureInput struct {
	Name        string
	Company     string
	Email       string
	Phone       string
	Notes       string
	OwnerEmail  string
	Acquisition domain.Acquisition
}

// Capture stores a lead submitted through the public funnel. The lead is
// owned by the intake user named by OwnerEmail.
func (s *Service) Capture(ctx context.Context, info service.AuditInfo, in CaptureInput) (domain.Lead, error) {
	if strings.TrimSpace(in.OwnerEmail) == "" {
		return domain.Lead{}, ErrIntakeUnavailable
	}
	var verr service.ValidationError
	validateContact(&verr, in.Name, in.Email)
	if strings.TrimSpace(in.Email) == "" && strings.TrimSpace(in.Phone) == "" {
		verr.Add("email or phone is required")
	}
	if err := verr.OrNil(); err != nil {
		return domain.Lead{}, err
	}

	now := s.now().UTC()
	lead := domain.Lead{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Company:     strings.TrimSpace(in.Company),
		Email:       strings.TrimSpace(in.Email),
		Phone:       strings.TrimSpace(in.Phone),
		Source:      SourceFunnel,
		Notes:       strings.TrimSpace(in.Notes),
		Acquisition: in.Acquisition,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		owner, err := st.Users.GetUserByEmail(ctx, strings.TrimSpace(in.OwnerEmail))
		if errors.Is(err, repo.ErrNotFound) {
			return ErrIntakeUnavailable
		}
		if err != nil {
			return fmt.Errorf("load intake owner: %w", err)
		}
		if !owner.Active {
			return ErrIntakeUnavailable
		}
		lead.OwnerID = owner.ID
		return s.insert(ctx, st, info, &lead, "lead.captured")
	})
	if err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

func (s *Service) insert(ctx context.Context, st repo.Stores, info service.AuditInfo, lead *domain.Lead, action string) error {
	owner, err := loadActiveUser(ctx, st, lead.OwnerID, "owner_id")
	if err != nil {
		return err
	}
	lead.TeamID = owner.TeamID
	if lead.ConsultantID != "" {
		if _, err := loadConsultant(ctx, st, lead.ConsultantID); err != nil {
			return err
		}
	}

	stage, err := resolveStage(ctx, st, lead.StageID)
	if err != nil {
		return err
	}
	lead.StageID = stage.ID
	if stage.IsLost {
		return service.Invalid("a new lead cannot start in a lost stage")
	}
	if stage.IsWon {
		closed := lead.CreatedAt
		lead.ClosedAt = &closed
	}

	if err := lead.Validate(); err != nil {
		return service.Invalid(err.Error())
	}
	if err := st.Leads.CreateLead(ctx, *lead); err != nil {
		return err
	}
	if err := addActivity(ctx, st, info, lead.ID, domain.ActivityCreated, "", domain.Metadata{"source": lead.Source, "stage_id": lead.StageID}); err != nil {
		return err
	}
	payload := domain.Metadata{"name": lead.Name, "stage_id": lead.StageID, "owner_id": lead.OwnerID, "source": lead.Source}
	if !lead.Acquisition.IsZero() {
		payload["acquisition"] = lead.Acquisition
	}
	_, err = st.Audit.Append(ctx, info.Event(action, resourceLead, lead.ID, payload))
	return err
}

func (s *Service) Get(ctx context.Context, p access.Principal, id string) (domain.Lead, error) {
	return s.stores.Leads.GetLead(ctx, strings.TrimSpace(id), p.Scope())
}

type ListInput struct {
	StageID string
	OwnerID string
	Query   string
	Limit   int
	Offset  int
}

func (s *Service) List(ctx context.Context, p access.Principal, in ListInput) ([]domain.Lead, error) {
	limit := in.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 1 || limit > MaxListLimit {
		return nil, service.Invalid(fmt.Sprintf("limit must be between 1 and %d", MaxListLimit))
	}
	if in.Offset < 0 {
		return nil, service.Invalid("offset must be non-negative")
	}
	return s.stores.Leads.ListLeads(ctx, repo.LeadFilter{
		Scope:   p.Scope(),
		StageID: strings.TrimSpace(in.StageID),
		OwnerID: strings.TrimSpace(in.OwnerID),
		Query:   strings.TrimSpace(in.Query),
		Limit:   limit,
		Offset:  in.Offset,
	})
}

// UpdateInput leaves nil fields unchanged.
type UpdateInput struct {
	Name       *string
	Company    *string
	Email      *string
	Phone      *string
	Source     *string
	Notes      *string
	ValueCents *int64
	Currency   *string
}

func (s *Service) Update(ctx context.Context, p access.Principal, info service.AuditInfo, id string, in UpdateInput) (domain.Lead, error) {
	if !p.Can(access.LeadsUpdate) {
		return domain.Lead{}, service.ErrForbidden
	}
	var out domain.Lead
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		lead, err := st.Leads.GetLead(ctx, strings.TrimSpace(id), p.Scope())
		if err != nil {
			return err
		}
		changed := []string{}
		var verr service.ValidationError
		set := func(field string, dst *string, src *string) {
			if src == nil {
				return
			}
			v := strings.TrimSpace(*src)
			if v != *dst {
				*dst = v
				changed = append(changed, field)
			}
		}
		set("name", &lead.Name, in.Name)
		set("company", &lead.Company, in.Company)
		set("email", &lead.Email, in.Email)
		set("phone", &lead.Phone, in.Phone)
		set("source", &lead.Source, in.Source)
		set("notes", &lead.Notes, in.Notes)
		if in.ValueCents != nil && *in.ValueCents != lead.ValueCents {
			lead.ValueCents = *in.ValueCents
			changed = append(changed, "value_cents")
		}
		if in.Currency != nil {
			currency := normalizeCurrency(&verr, *in.Currency)
			if currency != lead.Currency {
				lead.Currency = currency
				changed = append(changed, "currency")
			}
		}
		validateContact(&verr, lead.Name, lead.Email)
		if lead.ValueCents < 0 {
			verr.Add("value_cents must be non-negative")
		}
		if lead.Source == "" {
			lead.Source = domain.DefaultLeadSource
		}
		if err := verr.OrNil(); err != nil {
			return err
		}
		if len(changed) == 0 {
			out = lead
			return nil
		}

		lead.UpdatedAt = s.now().UTC()
		if err := st.Leads.UpdateLead(ctx, lead); err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("lead.updated", resourceLead, lead.ID, domain.Metadata{"fields": changed})); err != nil {
			return err
		}
		out = lead
		return nil
	})
	return out, err
}

func (s *Service) MoveStage(ctx context.Context, p access.Principal, info service.AuditInfo, id, stageID, lostReason string) (domain.Lead, error) {
	if !p.Can(access.LeadsUpdate) {
		return domain.Lead{}, service.ErrForbidden
	}
	stageID = strings.TrimSpace(stageID)
	if stageID == "" {
		return domain.Lead{}, service.Invalid("stage_id is required")
	}
	lostReason = strings.TrimSpace(lostReason)

	var out domain.Lead
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		lead, err := st.Leads.GetLead(ctx, strings.TrimSpace(id), p.Scope())
		if err != nil {
			return err
		}
		if lead.StageID == stageID {
			out = lead
			return nil
		}
		to, err := st.Stages.GetStage(ctx, stageID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return service.Invalid("stage_id does not exist")
			}
			return err
		}
		if to.IsLost && lostReason == "" {
			return service.Invalid("lost_reason is required when moving to a lost stage")
		}

		now := s.now().UTC()
		from := lead.StageID
		lead.StageID = to.ID
		switch {
		case to.Terminal():
			closed := now
			lead.ClosedAt = &closed
		default:
			lead.ClosedAt = nil
		}
		if to.IsLost {
			lead.LostReason = lostReason
		} else {
			lead.LostReason = ""
		}
		lead.UpdatedAt = now
		if err := st.Leads.UpdateLead(ctx, lead); err != nil {
			return err
		}

		payload := domain.Metadata{"from": from, "to": to.ID}
		if to.IsLost {
			payload["lost_reason"] = lostReason
		}
		if err := addActivity(ctx, st, info, lead.ID, domain.ActivityStageChange, "", payload); err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("lead.stage_changed", resourceLead, lead.ID, payload)); err != nil {
			return err
		}
		out = lead
		return nil
	})
	return out, err
}

// AssignInput leaves nil fields unchanged. An empty consultant id clears
// the consultant.
type AssignInput struct {
	OwnerID      *string
	ConsultantID *string
}

func (s *Service) Assign(ctx context.Context, p access.Principal, info service.AuditInfo, id string, in AssignInput) (domain.Lead, error) {
	if !p.Can(access.LeadsAssign) {
		return domain.Lead{}, service.ErrForbidden
	}
	if in.OwnerID == nil && in.ConsultantID == nil {
		return domain.Lead{}, service.Invalid("owner_id or consultant_id is required")
	}

	var out domain.Lead
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		lead, err := st.Leads.GetLead(ctx, strings.TrimSpace(id), p.Scope())
		if err != nil {
			return err
		}
		payload := domain.Metadata{}
		if in.OwnerID != nil {
			ownerID := strings.TrimSpace(*in.OwnerID)
			if ownerID == "" {
				return service.Invalid("owner_id must not be empty")
			}
			if ownerID != lead.OwnerID {
				owner, err := loadActiveUser(ctx, st, ownerID, "owner_id")
				if err != nil {
					return err
				}
				payload["owner_from"] = lead.OwnerID
				payload["owner_to"] = owner.ID
				lead.OwnerID = owner.ID
				lead.TeamID = owner.TeamID
			}
		}
		if in.ConsultantID != nil {
			consultantID := strings.TrimSpace(*in.ConsultantID)
			if consultantID != lead.ConsultantID {
				if consultantID != "" {
					if _, err := loadConsultant(ctx, st, consultantID); err != nil {
						return err
					}
				}
				payload["consultant_from"] = lead.ConsultantID
				payload["consultant_to"] = consultantID
				lead.ConsultantID = consultantID
			}
		}
		if len(payload) == 0 {
			out = lead
			return nil
		}

		lead.UpdatedAt = s.now().UTC()
		if err := st.Leads.UpdateLead(ctx, lead); err != nil {
			return err
		}
		if err := addActivity(ctx, st, info, lead.ID, domain.ActivityAssignment, "", payload); err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("lead.assigned", resourceLead, lead.ID, payload)); err != nil {
			return err
		}
		out = lead
		return nil
	})
	return out, err
}

func (s *Service) Delete(ctx context.Context, p access.Principal, info service.AuditInfo, id string) error {
	if !p.Can(access.LeadsDelete) {
		return service.ErrForbidden
	}
	return s.tx.InTx(ctx, func(st repo.Stores) error {
		lead, err := st.Leads.GetLead(ctx, strings.TrimSpace(id), p.Scope())
		if err != nil {
			return err
		}
		if err := st.Leads.DeleteLead(ctx, lead.ID); err != nil {
			return err
		}
		_, err = st.Audit.Append(ctx, info.Event("lead.deleted", resourceLead, lead.ID, domain.Metadata{"name": lead.Name}))
		return err
	})
}

func (s *Service) Activities(ctx context.Context, p access.Principal, id string, limit int) ([]domain.Activity, error) {
	lead, err := s.stores.Leads.GetLead(ctx, strings.TrimSpace(id), p.Scope())
	if err != nil {
		return nil, err
	}
	if limit < 0 || limit > MaxListLimit {
		return nil, service.Invalid(fmt.Sprintf("limit must be between 1 and %d", MaxListLimit))
	}
	return s.stores.Activities.ListActivities(ctx, lead.ID, limit)
}

const maxNoteLength = 10000

func (s *Service) AddNote(ctx context.Context, p access.Principal, info service.AuditInfo, id, body string) (domain.Activity, error) {
	if !p.Can(access.LeadsUpdate) {
		return domain.Activity{}, service.ErrForbidden
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Activity{}, service.Invalid("body is required")
	}
	if len(body) > maxNoteLength {
		return domain.Activity{}, service.Invalid(fmt.Sprintf("body exceeds %d characters", maxNoteLength))
	}

	var out domain.Activity
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		lead, err := st.Leads.GetLead(ctx, strings.TrimSpace(id), p.Scope())
		if err != nil {
			return err
		}
		out = newActivity(info, lead.ID, domain.ActivityNote, body, nil)
		if err := st.Activities.AddActivity(ctx, out); err != nil {
			return err
		}
		_, err = st.Audit.Append(ctx, info.Event("lead.note_added", resourceLead, lead.ID, domain.Metadata{"activity_id": out.ID}))
		return err
	})
	return out, err
}

func newActivity(info service.AuditInfo, leadID string, kind domain.ActivityKind, body string, payload domain.Metadata) domain.Activity {
	if payload == nil {
		payload = domain.Metadata{}
	}
	return domain.Activity{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		Actor:     info.Actor,
		Kind:      kind,
		Body:      body,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func addActivity(ctx context.Context, st repo.Stores, info service.AuditInfo, leadID string, kind domain.ActivityKind, body string, payload domain.Metadata) error {
	return st.Activities.AddActivity(ctx, newActivity(info, leadID, kind, body, payload))
}

func validateContact(verr *service.ValidationError, name, email string) {
	if strings.TrimSpace(name) == "" {
		verr.Add("name is required")
	}
	if strings.TrimSpace(email) != "" {
		if err := domain.ValidateEmail(email); err != nil {
			verr.Add("email is invalid")
		}
	}
}

func normalizeCurrency(verr *service.ValidationError, raw string) string {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		return "EUR"
	}
	if !currencyPattern.MatchString(currency) {
		verr.Add("currency must be a three letter ISO code")
	}
	return currency
}

func resolveStage(ctx context.Context, st repo.Stores, stageID string) (domain.Stage, error) {
	if stageID != "" {
		stage, err := st.Stages.GetStage(ctx, stageID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Stage{}, service.Invalid("stage_id does not exist")
		}
		return stage, err
	}
	stages, err := st.Stages.ListStages(ctx)
	if err != nil {
		return domain.Stage{}, err
	}
	if len(stages) == 0 {
		return domain.Stage{}, service.Invalid("pipeline has no stages")
	}
	return stages[0], nil
}

func loadActiveUser(ctx context.Context, st repo.Stores, id, field string) (domain.User, error) {
	user, err := st.Users.GetUser(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, service.Invalid(field + " does not exist")
	}
	if err != nil {
		return domain.User{}, err
	}
	if !user.Active {
		return domain.User{}, service.Invalid(field + " is inactive")
	}
	return user, nil
}

func loadConsultant(ctx context.Context, st repo.Stores, id string) (domain.User, error) {
	user, err := loadActiveUser(ctx, st, id, "consultant_id")
	if err != nil {
		return domain.User{}, err
	}
	if user.Role != domain.RoleConsultant {
		return domain.User{}, service.Invalid("consultant_id must reference a consultant")
	}
	return user, nil
}
