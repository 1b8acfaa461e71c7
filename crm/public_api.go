package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/funnel"
	"github.com/leadline-labs/leadline/internal/platform/auditlog"
	"github.com/leadline-labs/leadline/internal/platform/auth"
	"github.com/leadline-labs/leadline/internal/platform/httpserver"
	"github.com/leadline-labs/leadline/internal/platform/requestid"
	"github.com/leadline-labs/leadline/internal/service"
	"github.com/leadline-labs/leadline/internal/service/leads"
)

type submitGateRequest struct {
	SessionID   string            `json:"session_id"`
	Answers     map[string]string `json:"answers"`
	UTMSource   string            `json:"utm_source,omitempty"`
	UTMMedium   string            `json:"utm_medium,omitempty"`
	UTMCampaign string            `json:"utm_campaign,omitempty"`
	UTMTerm     string            `json:"utm_term,omitempty"`
	UTMContent  string            `json:"utm_content,omitempty"`
	Referrer    string            `json:"referrer,omitempty"`
	LandingPath string            `json:"landing_path,omitempty"`
}

func (req submitGateRequest) acquisition() domain.Acquisition {
	return domain.Acquisition{
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		UTMTerm:     req.UTMTerm,
		UTMContent:  req.UTMContent,
		Referrer:    req.Referrer,
		LandingPath: req.LandingPath,
	}
}

type gateResponse struct {
	Outcome     string     `json:"outcome"`
	RuleID      string     `json:"rule_id,omitempty"`
	Description string     `json:"description,omitempty"`
	Token       string     `json:"gate_token,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type captureLeadRequest struct {
	GateToken string `json:"gate_token"`
	Name      string `json:"name"`
	Company   string `json:"company,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type captureLeadResponse struct {
	LeadID  string `json:"lead_id"`
	Outcome string `json:"outcome"`
}

func (api *crmAPI) handleGetGate(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.gate)
}

func (api *crmAPI) handleSubmitGate(w http.ResponseWriter, r *http.Request) {
	var req submitGateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if err := funnel.ValidateSessionID(sessionID); err != nil {
		api.writeServiceError(w, r, service.Invalid(err.Error()))
		return
	}
	acq := req.acquisition()
	if acq.IsZero() {
		acq = funnel.AcquisitionFromQuery(r.URL.Query(), r.Referer())
	}

	decision, sub, err := funnel.Evaluate(api.gate, funnel.Submission{Answers: req.Answers, Acquisition: acq})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	now := api.now().UTC()
	event := funnel.GateEvent(sessionID, decision, sub.Acquisition, r.Header.Get(requestid.Header), httpserver.ClientIP(r), r.UserAgent(), now)
	if _, err := api.stores.Audit.Append(r.Context(), event); err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	resp := gateResponse{Outcome: decision.Outcome, RuleID: decision.RuleID, Description: decision.Description}
	if decision.Outcome != funnel.OutcomeDisqualified {
		token, err := funnel.IssueGateToken(api.signer, sessionID, decision, sub.Acquisition, api.cfg.GateTokenTTL, now)
		if err != nil {
			api.writeServiceError(w, r, err)
			return
		}
		expiresAt := now.Add(api.cfg.GateTokenTTL)
		resp.Token = token
		resp.ExpiresAt = &expiresAt
	}
	api.writeJSON(w, http.StatusOK, resp)
}

func (api *crmAPI) handleCaptureLead(w http.ResponseWriter, r *http.Request) {
	var req captureLeadRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	claims, err := funnel.VerifyGateToken(api.signer, strings.TrimSpace(req.GateToken), api.now())
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		api.writeError(w, r, http.StatusUnauthorized, "gate_token_expired")
		return
	case err != nil:
		api.writeError(w, r, http.StatusUnauthorized, "invalid_gate_token")
		return
	}
	if claims.Outcome == funnel.OutcomeDisqualified {
		api.writeError(w, r, http.StatusForbidden, "disqualified")
		return
	}

	info := auditInfo(r, auditlog.VisitorActorPrefix+claims.SessionID)
	lead, err := api.leads.Capture(r.Context(), info, leads.CaptureInput{
		Name:        req.Name,
		Company:     req.Company,
		Email:       req.Email,
		Phone:       req.Phone,
		Notes:       req.Notes,
		OwnerEmail:  api.cfg.IntakeOwnerEmail,
		Acquisition: claims.LeadAcquisition(),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, captureLeadResponse{LeadID: lead.ID, Outcome: claims.Outcome})
}

func (api *crmAPI) handleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var ev funnel.Event
	if err := decodeJSON(r, &ev); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	props, err := ev.Validate()
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	event := ev.AuditEvent(props, r.Header.Get(requestid.Header), httpserver.ClientIP(r), r.UserAgent(), api.now())
	if _, err := api.stores.Audit.Append(r.Context(), event); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
