// Package users manages CRM user accounts and teams.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
	"github.com/leadline-labs/leadline/internal/service"
)

const (
	DefaultListLimit = 200
	MaxListLimit     = 1000

	resourceUser = domain.ResourceUser
	resourceTeam = domain.ResourceTeam
)

type Service struct {
	stores repo.Stores
	tx     repo.Transactor
}

func New(stores repo.Stores, tx repo.Transactor) *Service {
	if stores.Users == nil || stores.Teams == nil || tx == nil {
		return nil
	}
	return &Service{stores: stores, tx: tx}
}

type ListInput struct {
	Role   string
	TeamID string
	Active *bool
	Limit  int
}

func (s *Service) List(ctx context.Context, p access.Principal, in ListInput) ([]domain.User, error) {
	if !p.Can(access.UsersRead) {
		return nil, service.ErrForbidden
	}
	var verr service.ValidationError
	var role domain.Role
	if strings.TrimSpace(in.Role) != "" {
		parsed, err := domain.ParseRole(in.Role)
		if err != nil {
			verr.Add(err.Error())
		}
		role = parsed
	}
	limit := in.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 1 || limit > MaxListLimit {
		verr.Add(fmt.Sprintf("limit must be within 1..%d", MaxListLimit))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return s.stores.Users.ListUsers(ctx, repo.UserFilter{Role: role, TeamID: strings.TrimSpace(in.TeamID), Active: in.Active, Limit: limit})
}

func (s *Service) Get(ctx context.Context, p access.Principal, id string) (domain.User, error) {
	if !p.Can(access.UsersRead) && strings.TrimSpace(id) != p.UserID {
		return domain.User{}, service.ErrForbidden
	}
	return s.stores.Users.GetUser(ctx, strings.TrimSpace(id))
}

type CreateInput struct {
	Email       string
	DisplayName string
	Role        string
	TeamID      string
	Timezone    string
}

func (s *Service) Create(ctx context.Context, p access.Principal, info service.AuditInfo, in CreateInput) (domain.User, error) {
	if !p.Can(access.UsersManage) {
		return domain.User{}, service.ErrForbidden
	}
	user := domain.User{
		ID:          uuid.NewString(),
		Email:       strings.ToLower(strings.TrimSpace(in.Email)),
		DisplayName: strings.TrimSpace(in.DisplayName),
		TeamID:      strings.TrimSpace(in.TeamID),
		Timezone:    strings.TrimSpace(in.Timezone),
		Active:      true,
	}
	var verr service.ValidationError
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		verr.Add(err.Error())
	}
	user.Role = role
	validateProfile(&verr, user)
	if err := verr.OrNil(); err != nil {
		return domain.User{}, err
	}

	var out domain.User
	err = s.tx.InTx(ctx, func(st repo.Stores) error {
		if err := checkTeam(ctx, st, user.TeamID); err != nil {
			return err
		}
		now := time.Now().UTC()
		user.CreatedAt, user.UpdatedAt = now, now
		if err := st.Users.CreateUser(ctx, user); err != nil {
			return err
		}
		created, err := st.Users.GetUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("user.created", resourceUser, created.ID, userPayload(created))); err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

// UpdateInput leaves nil fields unchanged.
type UpdateInput struct {
	DisplayName *string
	Role        *string
	TeamID      *string
	Timezone    *string
	Active      *bool
}

// Update refuses changes that would take the caller's own role or active
// flag away, so an admin cannot lock themselves out.
func (s *Service) Update(ctx context.Context, p access.Principal, info service.AuditInfo, id string, in UpdateInput) (domain.User, error) {
	if !p.Can(access.UsersManage) {
		return domain.User{}, service.ErrForbidden
	}
	var out domain.User
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		user, err := st.Users.GetUser(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		var verr service.ValidationError
		changed := []string{}
		if in.DisplayName != nil {
			user.DisplayName = strings.TrimSpace(*in.DisplayName)
			changed = append(changed, "display_name")
		}
		if in.Role != nil {
			role, err := domain.ParseRole(*in.Role)
			if err != nil {
				verr.Add(err.Error())
			} else {
				if user.ID == p.UserID && role != user.Role {
					verr.Add("cannot change your own role")
				}
				user.Role = role
			}
			changed = append(changed, "role")
		}
		if in.TeamID != nil {
			user.TeamID = strings.TrimSpace(*in.TeamID)
			changed = append(changed, "team_id")
		}
		if in.Timezone != nil {
			user.Timezone = strings.TrimSpace(*in.Timezone)
			changed = append(changed, "timezone")
		}
		if in.Active != nil {
			if user.ID == p.UserID && !*in.Active {
				verr.Add("cannot deactivate yourself")
			}
			user.Active = *in.Active
			changed = append(changed, "active")
		}
		validateProfile(&verr, user)
		if err := verr.OrNil(); err != nil {
			return err
		}
		if in.TeamID != nil {
			if err := checkTeam(ctx, st, user.TeamID); err != nil {
				return err
			}
		}
		user.UpdatedAt = time.Now().UTC()
		if err := st.Users.UpdateUser(ctx, user); err != nil {
			return err
		}
		payload := userPayload(user)
		payload["changed"] = changed
		if _, err := st.Audit.Append(ctx, info.Event("user.updated", resourceUser, user.ID, payload)); err != nil {
			return err
		}
		out = user
		return nil
	})
	return out, err
}

// Bootstrap creates an active ADMIN for email unless a user with that email
// already exists. It runs without a principal at startup.
func (s *Service) Bootstrap(ctx context.Context, info service.AuditInfo, email, displayName string) (domain.User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := domain.ValidateEmail(email); err != nil {
		return domain.User{}, false, service.Invalid(err.Error())
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = email
	}
	var out domain.User
	var created bool
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		existing, err := st.Users.GetUserByEmail(ctx, email)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		user := domain.User{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: strings.TrimSpace(displayName),
			Role:        domain.RoleAdmin,
			Active:      true,
		}
		if err := st.Users.CreateUser(ctx, user); err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("user.bootstrapped", resourceUser, user.ID, userPayload(user))); err != nil {
			return err
		}
		out, created = user, true
		return nil
	})
	return out, created, err
}

func (s *Service) Teams(ctx context.Context, p access.Principal) ([]domain.Team, error) {
	if !p.Can(access.UsersRead) {
		return nil, service.ErrForbidden
	}
	return s.stores.Teams.ListTeams(ctx)
}

type TeamInput struct {
	Name      string
	ManagerID string
}

func (s *Service) CreateTeam(ctx context.Context, p access.Principal, info service.AuditInfo, in TeamInput) (domain.Team, error) {
	if !p.Can(access.UsersManage) {
		return domain.Team{}, service.ErrForbidden
	}
	team := domain.Team{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		ManagerID: strings.TrimSpace(in.ManagerID),
		CreatedAt: time.Now().UTC(),
	}
	if team.Name == "" {
		return domain.Team{}, service.Invalid("name is required")
	}
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		if team.ManagerID != "" {
			manager, err := st.Users.GetUser(ctx, team.ManagerID)
			if errors.Is(err, repo.ErrNotFound) {
				return service.Invalid("manager_id does not exist")
			}
			if err != nil {
				return err
			}
			if !manager.Active {
				return service.Invalid("manager is inactive")
			}
		}
		if err := st.Teams.CreateTeam(ctx, team); err != nil {
			return err
		}
		_, err := st.Audit.Append(ctx, info.Event("team.created", resourceTeam, team.ID, domain.Metadata{"name": team.Name, "manager_id": team.ManagerID}))
		return err
	})
	if err != nil {
		return domain.Team{}, err
	}
	return team, nil
}

func validateProfile(verr *service.ValidationError, user domain.User) {
	if err := domain.ValidateEmail(user.Email); err != nil {
		verr.Add(err.Error())
	}
	if user.DisplayName == "" {
		verr.Add("display_name is required")
	}
	if _, err := user.Location(); err != nil {
		verr.Add(err.Error())
	}
}

func checkTeam(ctx context.Context, st repo.Stores, teamID string) error {
	if teamID == "" {
		return nil
	}
	_, err := st.Teams.GetTeam(ctx, teamID)
	if errors.Is(err, repo.ErrNotFound) {
		return service.Invalid("team_id does not exist")
	}
	return err
}

func userPayload(u domain.User) domain.Metadata {
	return domain.Metadata{
		"email":   u.Email,
		"role":    string(u.Role),
		"team_id": u.TeamID,
		"active":  u.Active,
	}
}
