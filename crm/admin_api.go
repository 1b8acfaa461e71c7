package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

const maxOverrideBytes = 64 << 10

type permissionsResponse struct {
	Effective  map[string][]string `json:"effective"`
	Overridden []string            `json:"overridden"`
	Known      []string            `json:"known"`
}

func (api *crmAPI) permissionsView(override access.Override) permissionsResponse {
	m := access.Matrix{Override: override}
	known := make([]string, 0, len(access.All))
	for _, p := range access.All {
		known = append(known, string(p))
	}
	return permissionsResponse{Effective: m.Effective(), Overridden: m.Overridden(), Known: known}
}

func (api *crmAPI) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	if !p.Can(access.PermissionsManage) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	override, err := api.resolver.Override(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, api.permissionsView(override))
}

func (api *crmAPI) handlePutPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	if !p.Can(access.PermissionsManage) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxOverrideBytes+1))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(raw) > maxOverrideBytes {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
		return
	}
	override, err := access.ParseOverride(raw)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	canonical, err := override.MarshalJSON()
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	info := auditInfo(r, p.Actor())
	m := access.Matrix{Override: override}
	err = api.tx.InTx(r.Context(), func(st repo.Stores) error {
		if err := st.Settings.PutSetting(r.Context(), access.SettingsKey, canonical, p.Actor()); err != nil {
			return err
		}
		_, err := st.Audit.Append(r.Context(), info.Event("permissions.updated", domain.ResourceSettings, access.SettingsKey, domain.Metadata{
			"roles": m.Overridden(),
		}))
		return err
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.resolver.Invalidate()
	api.writeJSON(w, http.StatusOK, api.permissionsView(override))
}

func (api *crmAPI) handleResetPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	if !p.Can(access.PermissionsManage) {
		api.writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	info := auditInfo(r, p.Actor())
	err := api.tx.InTx(r.Context(), func(st repo.Stores) error {
		if err := st.Settings.DeleteSetting(r.Context(), access.SettingsKey); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		_, err := st.Audit.Append(r.Context(), info.Event("permissions.reset", domain.ResourceSettings, access.SettingsKey, nil))
		return err
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.resolver.Invalidate()
	api.writeJSON(w, http.StatusOK, api.permissionsView(access.Override{}))
}
