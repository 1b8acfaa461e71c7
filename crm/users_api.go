package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/service/users"
)

type createUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	TeamID      string `json:"team_id,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Role        *string `json:"role,omitempty"`
	TeamID      *string `json:"team_id,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type createTeamRequest struct {
	Name      string `json:"name"`
	ManagerID string `json:"manager_id,omitempty"`
}

type teamResponse struct {
	TeamID    string    `json:"team_id"`
	Name      string    `json:"name"`
	ManagerID string    `json:"manager_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func teamFromDomain(t domain.Team) teamResponse {
	return teamResponse{TeamID: t.ID, Name: t.Name, ManagerID: t.ManagerID, CreatedAt: t.CreatedAt}
}

func (api *crmAPI) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	active, err := parseBoolQuery(r, "active")
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	list, err := api.users.List(r.Context(), p, users.ListInput{
		Role:   r.URL.Query().Get("role"),
		TeamID: r.URL.Query().Get("team_id"),
		Active: active,
		Limit:  limit,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(list))
	for _, u := range list {
		out = append(out, userFromDomain(u))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (api *crmAPI) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	user, err := api.users.Create(r.Context(), p, auditInfo(r, p.Actor()), users.CreateInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		TeamID:      req.TeamID,
		Timezone:    req.Timezone,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/users/"+user.ID)
	api.writeJSON(w, http.StatusCreated, userFromDomain(user))
}

func (api *crmAPI) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	userID := strings.TrimSpace(r.PathValue("user_id"))
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	user, err := api.users.Update(r.Context(), p, auditInfo(r, p.Actor()), userID, users.UpdateInput{
		DisplayName: req.DisplayName,
		Role:        req.Role,
		TeamID:      req.TeamID,
		Timezone:    req.Timezone,
		Active:      req.Active,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, userFromDomain(user))
}

func (api *crmAPI) handleListTeams(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	teams, err := api.users.Teams(r.Context(), p)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]teamResponse, 0, len(teams))
	for _, t := range teams {
		out = append(out, teamFromDomain(t))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"teams": out})
}

func (api *crmAPI) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req createTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	team, err := api.users.CreateTeam(r.Context(), p, auditInfo(r, p.Actor()), users.TeamInput{Name: req.Name, ManagerID: req.ManagerID})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, teamFromDomain(team))
}
