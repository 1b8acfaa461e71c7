package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/service/pipeline"
)

type stageResponse struct {
	StageID   string    `json:"stage_id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	IsWon     bool      `json:"is_won"`
	IsLost    bool      `json:"is_lost"`
	CreatedAt time.Time `json:"created_at"`
}

func stageFromDomain(s domain.Stage) stageResponse {
	return stageResponse{StageID: s.ID, Name: s.Name, Position: s.Position, IsWon: s.IsWon, IsLost: s.IsLost, CreatedAt: s.CreatedAt}
}

func stagesFromDomain(stages []domain.Stage) []stageResponse {
	out := make([]stageResponse, 0, len(stages))
	for _, s := range stages {
		out = append(out, stageFromDomain(s))
	}
	return out
}

type createStageRequest struct {
	Name   string `json:"name"`
	IsWon  bool   `json:"is_won,omitempty"`
	IsLost bool   `json:"is_lost,omitempty"`
}

type updateStageRequest struct {
	Name   *string `json:"name,omitempty"`
	IsWon  *bool   `json:"is_won,omitempty"`
	IsLost *bool   `json:"is_lost,omitempty"`
}

type reorderStagesRequest struct {
	StageIDs []string `json:"stage_ids"`
}

func (api *crmAPI) handleListStages(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	stages, err := api.pipeline.Stages(r.Context(), p)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"stages": stagesFromDomain(stages)})
}

func (api *crmAPI) handleCreateStage(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req createStageRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	stage, err := api.pipeline.CreateStage(r.Context(), p, auditInfo(r, p.Actor()), pipeline.StageInput{Name: req.Name, IsWon: req.IsWon, IsLost: req.IsLost})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, stageFromDomain(stage))
}

func (api *crmAPI) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req updateStageRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	stage, err := api.pipeline.UpdateStage(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("stage_id")), pipeline.StagePatch{
		Name:   req.Name,
		IsWon:  req.IsWon,
		IsLost: req.IsLost,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, stageFromDomain(stage))
}

func (api *crmAPI) handleDeleteStage(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	if err := api.pipeline.DeleteStage(r.Context(), p, auditInfo(r, p.Actor()), strings.TrimSpace(r.PathValue("stage_id"))); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *crmAPI) handleReorderStages(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	var req reorderStagesRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	stages, err := api.pipeline.Reorder(r.Context(), p, auditInfo(r, p.Actor()), req.StageIDs)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"stages": stagesFromDomain(stages)})
}

func (api *crmAPI) handlePipelineReport(w http.ResponseWriter, r *http.Request) {
	p, ok := api.principal(w, r)
	if !ok {
		return
	}
	summary, err := api.pipeline.Summary(r.Context(), p)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, summary)
}
