package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/availability"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/service"
	"github.com/leadline-labs/leadline/internal/service/meetings"
)

type meetingResponse struct {
	MeetingID    string    `json:"meeting_id"`
	LeadID       string    `json:"lead_id"`
	ConsultantID string    `json:"consultant_id"`
	ScheduledBy  string    `json:"scheduled_by"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	Status       string    `json:"status"`
	Location     string    `json:"location,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func meetingFromDomain(m domain.Meeting) meetingResponse {
	return meetingResponse{
		MeetingID:    m.ID,
		LeadID:       m.LeadID,
		ConsultantID: m.ConsultantID,
		ScheduledBy:  m.ScheduledBy,
		StartsAt:     m.StartsAt,
		EndsAt:       m.EndsAt,
		Status:       string(m.Status),
		Location:     m.Location,
		Notes:        m.Notes,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

type scheduleMeetingRequest struct {
	LeadID       string    `json:"lead_id"`
	ConsultantID string    `json:"consultant_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	Location     string    `json:"location,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

type rescheduleMeetingRequest struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type meetingTransitionRequest struct {
	Notes string `json:"notes,omitempty"`
}

type replaceSlotsRequest struct {
	Slots []availability.Slot `json:"slots"`
}

type addBlockRequest struct {
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	StartsAt time.Time `json:"starts_at,omitempty"`
	EndsAt   time.Time `json:"ends_at,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

func (api *crmAPI) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	sched, err := api.meetings.Availability(r.Context(), p, strings.TrimSpace(r.PathValue("user_id")))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, sched)
}

func (api *crmAPI) handleReplaceSlots(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req replaceSlotsRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	slots, err := api.meetings.ReplaceSlots(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("user_id")), req.Slots)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if slots == nil {
		slots = []availability.Slot{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (api *crmAPI) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req addBlockRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	block, err := api.meetings.AddBlock(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("user_id")), meetings.BlockInput{
		From:     req.From,
		To:       req.To,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
		Reason:   req.Reason,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, block)
}

func (api *crmAPI) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	userID := strings.TrimSpace(r.PathValue("user_id"))
	blockID := strings.TrimSpace(r.PathValue("block_id"))
	if err := api.meetings.DeleteBlock(r.Context(), p, auditInfo(r, p.Actor()), userID, blockID); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *crmAPI) handleWindows(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	windows, err := api.meetings.Windows(r.Context(), p, strings.TrimSpace(r.PathValue("user_id")), q.Get("from"), q.Get("to"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if windows == nil {
		windows = []availability.Interval{}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

func (api *crmAPI) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := api.meetings.List(r.Context(), p, meetings.ListInput{
		ConsultantID: q.Get("consultant_id"),
		LeadID:       q.Get("lead_id"),
		Status:       domain.MeetingStatus(strings.TrimSpace(q.Get("status"))),
		From:         from,
		To:           to,
		Limit:        limit,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]meetingResponse, 0, len(list))
	for _, m := range list {
		out = append(out, meetingFromDomain(m))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"meetings": out})
}

func (api *crmAPI) handleScheduleMeeting(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req scheduleMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	m, err := api.meetings.Schedule(r.Context(), p, auditInfo(r, p.Actor()), meetings.ScheduleInput{
		LeadID:       req.LeadID,
		ConsultantID: req.ConsultantID,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		Location:     req.Location,
		Notes:        req.Notes,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/meetings/"+m.ID)
	api.writeJSON(w, http.StatusCreated, meetingFromDomain(m))
}

func (api *crmAPI) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	m, err := api.meetings.Get(r.Context(), p, strings.TrimSpace(r.PathValue("meeting_id")))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, meetingFromDomain(m))
}

func (api *crmAPI) handleRescheduleMeeting(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req rescheduleMeetingRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	m, err := api.meetings.Reschedule(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("meeting_id")), req.StartsAt, req.EndsAt)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, meetingFromDomain(m))
}

type meetingTransitionFunc func(ctx context.Context, p access.Principal, info service.AuditInfo, id, notes string) (domain.Meeting, error)

// meetingTransition serves the cancel, complete and no-show routes. The
// body is optional.
func (api *crmAPI) meetingTransition(fn meetingTransitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := api.principal(w, r)
		if !ok {
			return
		}
		var req meetingTransitionRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				api.writeError(w, r, http.StatusBadRequest, "invalid_json")
				return
			}
		}
		m, err := fn(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("meeting_id")), req.Notes)
		if err != nil {
			api.writeServiceError(w, r, err)
			return
		}
		api.writeJSON(w, http.StatusOK, meetingFromDomain(m))
	}
}
