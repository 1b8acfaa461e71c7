package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/auditexport"
	"github.com/leadline-labs/leadline/internal/availability"
	"github.com/leadline-labs/leadline/internal/funnel"
	"github.com/leadline-labs/leadline/internal/platform/auditlog"
	"github.com/leadline-labs/leadline/internal/platform/auth"
	"github.com/leadline-labs/leadline/internal/platform/httpserver"
	"github.com/leadline-labs/leadline/internal/platform/requestid"
	"github.com/leadline-labs/leadline/internal/repo"
	"github.com/leadline-labs/leadline/internal/service"
	"github.com/leadline-labs/leadline/internal/service/leads"
	"github.com/leadline-labs/leadline/internal/service/meetings"
	"github.com/leadline-labs/leadline/internal/service/pipeline"
	"github.com/leadline-labs/leadline/internal/service/users"
)

const serviceName = "crm"

// auditReader is the read side of the audit table.
type auditReader interface {
	List(ctx context.Context, f auditlog.Filter) ([]auditlog.Record, error)
	CountByAction(ctx context.Context, f auditlog.Filter) (map[string]int64, error)
}

type dbAuditReader struct {
	q auditlog.Queryer
}

func (r dbAuditReader) List(ctx context.Context, f auditlog.Filter) ([]auditlog.Record, error) {
	return auditlog.List(ctx, r.q, f)
}

func (r dbAuditReader) CountByAction(ctx context.Context, f auditlog.Filter) (map[string]int64, error) {
	return auditlog.CountByAction(ctx, r.q, f)
}

type auditExporter interface {
	Export(ctx context.Context, info service.AuditInfo, f auditlog.Filter) (auditexport.Result, error)
}

type crmDeps struct {
	Logger   *slog.Logger
	Stores   repo.Stores
	Tx       repo.Transactor
	Resolver *access.Resolver
	Signer   *auth.Signer
	AuthCfg  auth.Config
	Config   config
	Gate     funnel.Definition
	Audit    auditReader
	Exporter auditExporter
	Now      func() time.Time
}

type crmAPI struct {
	logger   *slog.Logger
	stores   repo.Stores
	tx       repo.Transactor
	resolver *access.Resolver
	signer   *auth.Signer
	authCfg  auth.Config
	cfg      config
	gate     funnel.Definition
	audit    auditReader
	exporter auditExporter
	now      func() time.Time

	leads    *leads.Service
	pipeline *pipeline.Service
	meetings *meetings.Service
	users    *users.Service
}

func newCRMAPI(deps crmDeps) (*crmAPI, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if deps.Signer == nil {
		return nil, errors.New("signer is required")
	}
	api := &crmAPI{
		logger:   deps.Logger,
		stores:   deps.Stores,
		tx:       deps.Tx,
		resolver: deps.Resolver,
		signer:   deps.Signer,
		authCfg:  deps.AuthCfg,
		cfg:      deps.Config,
		gate:     deps.Gate,
		audit:    deps.Audit,
		exporter: deps.Exporter,
		now:      deps.Now,
		leads:    leads.New(deps.Stores, deps.Tx),
		pipeline: pipeline.New(deps.Stores, deps.Tx),
		meetings: meetings.New(deps.Stores, deps.Tx, deps.Config.MeetingMaxDuration),
		users:    users.New(deps.Stores, deps.Tx),
	}
	if api.now == nil {
		api.now = time.Now
	}
	if api.leads == nil || api.pipeline == nil || api.meetings == nil || api.users == nil {
		return nil, errors.New("stores and transactor are required")
	}
	if err := api.gate.Validate(); err != nil {
		return nil, err
	}
	return api, nil
}

func (api *crmAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/session", api.handleSession)
	mux.HandleFunc("POST /auth/token", api.handleIssueToken)
	mux.HandleFunc("GET /me", api.handleMe)

	mux.HandleFunc("GET /users", api.handleListUsers)
	mux.HandleFunc("POST /users", api.handleCreateUser)
	mux.HandleFunc("PATCH /users/{user_id}", api.handleUpdateUser)
	mux.HandleFunc("GET /teams", api.handleListTeams)
	mux.HandleFunc("POST /teams", api.handleCreateTeam)

	mux.HandleFunc("GET /pipeline/stages", api.handleListStages)
	mux.HandleFunc("POST /pipeline/stages", api.handleCreateStage)
	mux.HandleFunc("PATCH /pipeline/stages/{stage_id}", api.handleUpdateStage)
	mux.HandleFunc("DELETE /pipeline/stages/{stage_id}", api.handleDeleteStage)
	mux.HandleFunc("PUT /pipeline/stages/order", api.handleReorderStages)
	mux.HandleFunc("GET /reports/pipeline", api.handlePipelineReport)

	mux.HandleFunc("GET /leads", api.handleListLeads)
	mux.HandleFunc("POST /leads", api.handleCreateLead)
	mux.HandleFunc("GET /leads/{lead_id}", api.handleGetLead)
	mux.HandleFunc("PATCH /leads/{lead_id}", api.handleUpdateLead)
	mux.HandleFunc("DELETE /leads/{lead_id}", api.handleDeleteLead)
	mux.HandleFunc("POST /leads/{lead_id}/stage", api.handleMoveLeadStage)
	mux.HandleFunc("POST /leads/{lead_id}/assign", api.handleAssignLead)
	mux.HandleFunc("GET /leads/{lead_id}/activities", api.handleListActivities)
	mux.HandleFunc("POST /leads/{lead_id}/notes", api.handleAddNote)

	mux.HandleFunc("GET /users/{user_id}/availability", api.handleGetAvailability)
	mux.HandleFunc("PUT /users/{user_id}/availability/slots", api.handleReplaceSlots)
	mux.HandleFunc("POST /users/{user_id}/availability/blocks", api.handleAddBlock)
	mux.HandleFunc("DELETE /users/{user_id}/availability/blocks/{block_id}", api.handleDeleteBlock)
	mux.HandleFunc("GET /users/{user_id}/availability/windows", api.handleWindows)

	mux.HandleFunc("GET /meetings", api.handleListMeetings)
	mux.HandleFunc("POST /meetings", api.handleScheduleMeeting)
	mux.HandleFunc("GET /meetings/{meeting_id}", api.handleGetMeeting)
	mux.HandleFunc("POST /meetings/{meeting_id}/reschedule", api.handleRescheduleMeeting)
	mux.HandleFunc("POST /meetings/{meeting_id}/cancel", api.meetingTransition(api.meetings.Cancel))
	mux.HandleFunc("POST /meetings/{meeting_id}/complete", api.meetingTransition(api.meetings.Complete))
	mux.HandleFunc("POST /meetings/{meeting_id}/no-show", api.meetingTransition(api.meetings.NoShow))

	mux.HandleFunc("GET /admin/permissions", api.handleGetPermissions)
	mux.HandleFunc("PUT /admin/permissions", api.handlePutPermissions)
	mux.HandleFunc("DELETE /admin/permissions", api.handleResetPermissions)

	mux.HandleFunc("GET /audit/events", api.handleListAuditEvents)
	mux.HandleFunc("POST /audit/exports", api.handleCreateExport)
	mux.HandleFunc("GET /funnel/stats", api.handleFunnelStats)
}

// registerPublic mounts the unauthenticated funnel routes behind limit.
func (api *crmAPI) registerPublic(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	mux.Handle("GET /public/gate", limit(http.HandlerFunc(api.handleGetGate)))
	mux.Handle("POST /public/gate", limit(http.HandlerFunc(api.handleSubmitGate)))
	mux.Handle("POST /public/leads", limit(http.HandlerFunc(api.handleCaptureLead)))
	mux.Handle("POST /public/events", limit(http.HandlerFunc(api.handleTrackEvent)))
}

// publicPrefixes bypass authentication.
var publicPrefixes = []string{"/healthz", "/readyz", "/public/", "/auth/login", "/auth/callback", "/auth/logout"}

// handler mounts every route on mux and wraps it in the auth middleware.
// Session tokens are checked first, then identity.
func (api *crmAPI) handler(mux *http.ServeMux, identity auth.Authenticator, limit func(http.Handler) http.Handler, deny auth.AuditFunc) http.Handler {
	api.register(mux)
	api.registerPublic(mux, limit)
	return auth.Middleware{
		Logger: api.logger,
		Authenticator: auth.SessionTokenAuthenticator{
			Signer:     api.signer,
			Next:       identity,
			CookieName: api.authCfg.SessionCookieName,
			Now:        api.now,
		},
		Enrich:       api.enrich,
		Audit:        deny,
		SkipPrefixes: publicPrefixes,
	}.Wrap(mux)
}

// enrich resolves the principal for every authenticated request.
func (api *crmAPI) enrich(r *http.Request, identity auth.Identity) (*http.Request, error) {
	p, err := api.resolver.Resolve(r.Context(), identity)
	if err != nil {
		return nil, err
	}
	return r.WithContext(access.ContextWithPrincipal(r.Context(), p)), nil
}

func (api *crmAPI) principal(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	p, ok := access.PrincipalFromContext(r.Context())
	if !ok || strings.TrimSpace(p.UserID) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return access.Principal{}, false
	}
	return p, true
}

func auditInfo(r *http.Request, actor string) service.AuditInfo {
	return service.AuditInfo{
		Actor:     actor,
		RequestID: r.Header.Get(requestid.Header),
		IP:        httpserver.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *crmAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *crmAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteError(w, r, status, code)
}

func (api *crmAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(requestid.Header),
		"details":    details,
	})
}

// writeServiceError maps service, repository and driver errors onto the
// HTTP error envelope.
func (api *crmAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if issues := service.Issues(err); len(issues) > 0 {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_input", issues)
		return
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		api.writeError(w, r, http.StatusBadRequest, "invalid_input")
	case errors.Is(err, service.ErrForbidden), errors.Is(err, auth.ErrForbidden):
		api.writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, repo.ErrMeetingConflict):
		api.writeError(w, r, http.StatusConflict, "meeting_conflict")
	case errors.Is(err, repo.ErrAlreadyCaptured):
		api.writeError(w, r, http.StatusConflict, "already_captured")
	case errors.Is(err, repo.ErrStageInUse):
		api.writeError(w, r, http.StatusConflict, "stage_in_use")
	case errors.Is(err, availability.ErrBlockOverlap):
		api.writeError(w, r, http.StatusConflict, "block_overlap")
	case errors.Is(err, service.ErrInvalidTransition):
		api.writeError(w, r, http.StatusConflict, "invalid_transition")
	case errors.Is(err, service.ErrNotBookable):
		api.writeError(w, r, http.StatusUnprocessableEntity, "not_bookable")
	case errors.Is(err, access.ErrAdminLockout):
		api.writeError(w, r, http.StatusConflict, "admin_lockout")
	case errors.Is(err, access.ErrInvalidOverride):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_override", err.Error())
	case errors.Is(err, leads.ErrIntakeUnavailable):
		api.writeError(w, r, http.StatusServiceUnavailable, "intake_unavailable")
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict")
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		api.writeError(w, r, http.StatusConflict, "conflict")
	case errors.As(err, &pgErr) && pgErr.Code == "23503":
		api.writeError(w, r, http.StatusNotFound, "not_found")
	default:
		api.logger.Error("request failed", "request_id", r.Header.Get(requestid.Header), "method", r.Method, "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func parseIntQuery(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, service.Invalid(key + " must be an integer")
	}
	return parsed, nil
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	t, err := parseRFC3339(r.URL.Query().Get(key))
	if err != nil {
		return time.Time{}, service.Invalid(key + " must be an RFC 3339 timestamp")
	}
	return t, nil
}

// parseRFC3339 returns the zero time for an empty value.
func parseRFC3339(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseBoolQuery(r *http.Request, key string) (*bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return nil, service.Invalid(key + " must be a boolean")
	}
	return &parsed, nil
}
