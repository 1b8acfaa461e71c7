package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/funnel"
	"github.com/leadline-labs/leadline/internal/platform/auditlog"
	"github.com/leadline-labs/leadline/internal/service"
)

type createExportRequest struct {
	ActionPrefix string `json:"action_prefix,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Actor        string `json:"actor,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
}

// auditFilterFromQuery reads the shared audit filter parameters.
func auditFilterFromQuery(r *http.Request) (auditlog.Filter, error) {
	q := r.URL.Query()
	f := auditlog.Filter{
		ActionPrefix: strings.TrimSpace(q.Get("action_prefix")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		ResourceID:   strings.TrimSpace(q.Get("resource_id")),
		Actor:        strings.TrimSpace(q.Get("actor")),
	}
	var err error
	if f.From, err = parseTimeQuery(r, "from"); err != nil {
		return auditlog.Filter{}, err
	}
	if f.To, err = parseTimeQuery(r, "to"); err != nil {
		return auditlog.Filter{}, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return auditlog.Filter{}, service.Invalid("to must be after from")
	}
	if raw := strings.TrimSpace(q.Get("after_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return auditlog.Filter{}, service.Invalid("after_id must be a non-negative integer")
		}
		f.AfterID = id
	}
	limit, err := parseIntQuery(r, "limit", auditlog.DefaultListLimit)
	if err != nil {
		return auditlog.Filter{}, err
	}
	if limit <= 0 || limit > auditlog.MaxListLimit {
		return auditlog.Filter{}, service.Invalid("limit must be between 1 and " + strconv.Itoa(auditlog.MaxListLimit))
	}
	f.Limit = limit
	return f, nil
}

func (api *crmAPI) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	if !p.Can(access.AuditRead) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	f, err := auditFilterFromQuery(r)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	events, err := api.audit.List(r.Context(), f)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	resp := map[string]any{"events": events}
	if len(events) == f.Limit {
		resp["next_after_id"] = events[len(events)-1].EventID
	}
	api.writeJSON(w, http.StatusOK, resp)
}

func (api *crmAPI) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	if !p.Can(access.AuditExport) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	if api.exporter == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "export_unavailable")
		return
	}
	var req createExportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}
	f := auditlog.Filter{
		ActionPrefix: strings.TrimSpace(req.ActionPrefix),
		ResourceType: strings.TrimSpace(req.ResourceType),
		ResourceID:   strings.TrimSpace(req.ResourceID),
		Actor:        strings.TrimSpace(req.Actor),
	}
	var verr service.ValidationError
	var err error
	if f.From, err = parseRFC3339(req.From); err != nil {
		verr.Add("from must be an RFC 3339 timestamp")
	}
	if f.To, err = parseRFC3339(req.To); err != nil {
		verr.Add("to must be an RFC 3339 timestamp")
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		verr.Add("to must be after from")
	}
	if err := verr.OrNil(); err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	res, err := api.exporter.Export(r.Context(), auditInfo(r, p.Actor()), f)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, res)
}

func (api *crmAPI) handleFunnelStats(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	if !p.Can(access.FunnelRead) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
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
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		api.writeServiceError(w, r, service.Invalid("to must be after from"))
		return
	}
	counts, err := api.audit.CountByAction(r.Context(), auditlog.Filter{ActionPrefix: funnel.EventActionPrefix, From: from, To: to})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"counts": counts,
		"total":  total,
	})
}
