package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/service/leads"
)

type leadResponse struct {
	LeadID       string              `json:"lead_id"`
	Name         string              `json:"name"`
	Company      string              `json:"company,omitempty"`
	Email        string              `json:"email,omitempty"`
	Phone        string              `json:"phone,omitempty"`
	Source       string              `json:"source"`
	StageID      string              `json:"stage_id"`
	OwnerID      string              `json:"owner_id"`
	ConsultantID string              `json:"consultant_id,omitempty"`
	TeamID       string              `json:"team_id,omitempty"`
	ValueCents   int64               `json:"value_cents"`
	Currency     string              `json:"currency"`
	Notes        string              `json:"notes,omitempty"`
	LostReason   string              `json:"lost_reason,omitempty"`
	Acquisition  *domain.Acquisition `json:"acquisition,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	ClosedAt     *time.Time          `json:"closed_at,omitempty"`
}

func leadFromDomain(l domain.Lead) leadResponse {
	out := leadResponse{
		LeadID:       l.ID,
		Name:         l.Name,
		Company:      l.Company,
		Email:        l.Email,
		Phone:        l.Phone,
		Source:       l.Source,
		StageID:      l.StageID,
		OwnerID:      l.OwnerID,
		ConsultantID: l.ConsultantID,
		TeamID:       l.TeamID,
		ValueCents:   l.ValueCents,
		Currency:     l.Currency,
		Notes:        l.Notes,
		LostReason:   l.LostReason,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
		ClosedAt:     l.ClosedAt,
	}
	if !l.Acquisition.IsZero() {
		acq := l.Acquisition
		out.Acquisition = &acq
	}
	return out
}

type activityResponse struct {
	ActivityID string          `json:"activity_id"`
	LeadID     string          `json:"lead_id"`
	Actor      string          `json:"actor"`
	Kind       string          `json:"kind"`
	Body       string          `json:"body,omitempty"`
	Payload    domain.Metadata `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

func activityFromDomain(a domain.Activity) activityResponse {
	payload := a.Payload
	if payload == nil {
		payload = domain.Metadata{}
	}
	return activityResponse{
		ActivityID: a.ID,
		LeadID:     a.LeadID,
		Actor:      a.Actor,
		Kind:       string(a.Kind),
		Body:       a.Body,
		Payload:    payload,
		CreatedAt:  a.CreatedAt,
	}
}

type createLeadRequest struct {
	Name         string `json:"name"`
	Company      string `json:"company,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Source       string `json:"source,omitempty"`
	StageID      string `json:"stage_id,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
	ConsultantID string `json:"consultant_id,omitempty"`
	ValueCents   int64  `json:"value_cents,omitempty"`
	Currency     string `json:"currency,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type updateLeadRequest struct {
	Name       *string `json:"name,omitempty"`
	Company    *string `json:"company,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Source     *string `json:"source,omitempty"`
	Notes      *string `json:"notes,omitempty"`
	ValueCents *int64  `json:"value_cents,omitempty"`
	Currency   *string `json:"currency,omitempty"`
}

type moveStageRequest struct {
	StageID    string `json:"stage_id"`
	LostReason string `json:"lost_reason,omitempty"`
}

type assignLeadRequest struct {
	OwnerID      *string `json:"owner_id,omitempty"`
	ConsultantID *string `json:"consultant_id,omitempty"`
}

type addNoteRequest struct {
	Body string `json:"body"`
}

func (api *crmAPI) handleListLeads(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	offset, err := parseIntQuery(r, "offset", 0)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := api.leads.List(r.Context(), p, leads.ListInput{
		StageID: q.Get("stage_id"),
		OwnerID: q.Get("owner_id"),
		Query:   q.Get("q"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]leadResponse, 0, len(list))
	for _, l := range list {
		out = append(out, leadFromDomain(l))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"leads": out, "scope": string(p.Scope().Kind)})
}

func (api *crmAPI) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req createLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	lead, err := api.leads.Create(r.Context(), p, auditInfo(r, p.Actor()), leads.CreateInput{
		Name:         req.Name,
		Company:      req.Company,
		Email:        req.Email,
		Phone:        req.Phone,
		Source:       req.Source,
		StageID:      req.StageID,
		OwnerID:      req.OwnerID,
		ConsultantID: req.ConsultantID,
		ValueCents:   req.ValueCents,
		Currency:     req.Currency,
		Notes:        req.Notes,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/leads/"+lead.ID)
	api.writeJSON(w, http.StatusCreated, leadFromDomain(lead))
}

func (api *crmAPI) handleGetLead(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	lead, err := api.leads.Get(r.Context(), p, strings.TrimSpace(r.PathValue("lead_id")))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, leadFromDomain(lead))
}

func (api *crmAPI) handleUpdateLead(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req updateLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	lead, err := api.leads.Update(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("lead_id")), leads.UpdateInput{
		Name:       req.Name,
		Company:    req.Company,
		Email:      req.Email,
		Phone:      req.Phone,
		Source:     req.Source,
		Notes:      req.Notes,
		ValueCents: req.ValueCents,
		Currency:   req.Currency,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, leadFromDomain(lead))
}

func (api *crmAPI) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	if err := api.leads.Delete(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("lead_id"))); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *crmAPI) handleMoveLeadStage(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req moveStageRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	lead, err := api.leads.MoveStage(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("lead_id")), req.StageID, req.LostReason)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, leadFromDomain(lead))
}

func (api *crmAPI) handleAssignLead(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req assignLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	lead, err := api.leads.Assign(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("lead_id")), leads.AssignInput{
		OwnerID:      req.OwnerID,
		ConsultantID: req.ConsultantID,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, leadFromDomain(lead))
}

func (api *crmAPI) handleListActivities(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	acts, err := api.leads.Activities(r.Context(), p, strings.TrimSpace(r.PathValue("lead_id")), limit)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]activityResponse, 0, len(acts))
	for _, a := range acts {
		out = append(out, activityFromDomain(a))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"activities": out})
}

func (api *crmAPI) handleAddNote(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req addNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	act, err := api.leads.AddNote(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("lead_id")), req.Body)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, activityFromDomain(act))
}
