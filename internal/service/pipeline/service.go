// Package pipeline manages the ordered sales stages and reports on the leads
// moving through them.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
	"github.com/leadline-labs/leadline/internal/service"
)

const resourceStage = domain.ResourceStage

type Service struct {
	stores repo.Stores
	tx     repo.Transactor
}

func New(stores repo.Stores, tx repo.Transactor) *Service {
	if stores.Stages == nil || stores.Leads == nil || tx == nil {
		return nil
	}
	return &Service{stores: stores, tx: tx}
}

func (s *Service) Stages(ctx context.Context, p access.Principal) ([]domain.Stage, error) {
	if !p.Can(access.PipelineRead) {
		return nil, service.ErrForbidden
	}
	return s.stores.Stages.ListStages(ctx)
}

type StageInput struct {
	Name   string
	IsWon  bool
	IsLost bool
}

func (in StageInput) validate() error {
	var verr service.ValidationError
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("name is required")
	}
	if in.IsWon && in.IsLost {
		verr.Add("a stage cannot be both won and lost")
	}
	return verr.OrNil()
}

// CreateStage appends a stage at the end of the pipeline.
func (s *Service) CreateStage(ctx context.Context, p access.Principal, info service.AuditInfo, in StageInput) (domain.Stage, error) {
	if !p.Can(access.PipelineManage) {
		return domain.Stage{}, service.ErrForbidden
	}
	if err := in.validate(); err != nil {
		return domain.Stage{}, err
	}
	var out domain.Stage
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		stage := domain.Stage{
			ID:        uuid.NewString(),
			Name:      strings.TrimSpace(in.Name),
			IsWon:     in.IsWon,
			IsLost:    in.IsLost,
			CreatedAt: time.Now().UTC(),
		}
		if err := st.Stages.CreateStage(ctx, stage); err != nil {
			return err
		}
		created, err := st.Stages.GetStage(ctx, stage.ID)
		if err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("pipeline.stage_created", resourceStage, created.ID, stagePayload(created))); err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

// StagePatch leaves nil fields unchanged.
type StagePatch struct {
	Name   *string
	IsWon  *bool
	IsLost *bool
}

func (s *Service) UpdateStage(ctx context.Context, p access.Principal, info service.AuditInfo, id string, patch StagePatch) (domain.Stage, error) {
	if !p.Can(access.PipelineManage) {
		return domain.Stage{}, service.ErrForbidden
	}
	var out domain.Stage
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		stage, err := st.Stages.GetStage(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		if patch.Name != nil {
			stage.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.IsWon != nil {
			stage.IsWon = *patch.IsWon
		}
		if patch.IsLost != nil {
			stage.IsLost = *patch.IsLost
		}
		if err := (StageInput{Name: stage.Name, IsWon: stage.IsWon, IsLost: stage.IsLost}).validate(); err != nil {
			return err
		}
		if err := st.Stages.UpdateStage(ctx, stage); err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("pipeline.stage_updated", resourceStage, stage.ID, stagePayload(stage))); err != nil {
			return err
		}
		out = stage
		return nil
	})
	return out, err
}

// DeleteStage fails with repo.ErrStageInUse while any lead sits in it.
func (s *Service) DeleteStage(ctx context.Context, p access.Principal, info service.AuditInfo, id string) error {
	if !p.Can(access.PipelineManage) {
		return service.ErrForbidden
	}
	return s.tx.InTx(ctx, func(st repo.Stores) error {
		stage, err := st.Stages.GetStage(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		if err := st.Stages.DeleteStage(ctx, stage.ID); err != nil {
			return err
		}
		_, err = st.Audit.Append(ctx, info.Event("pipeline.stage_deleted", resourceStage, stage.ID, stagePayload(stage)))
		return err
	})
}

// Reorder applies a full permutation of the existing stage ids.
func (s *Service) Reorder(ctx context.Context, p access.Principal, info service.AuditInfo, orderedIDs []string) ([]domain.Stage, error) {
	if !p.Can(access.PipelineManage) {
		return nil, service.ErrForbidden
	}
	var out []domain.Stage
	err := s.tx.InTx(ctx, func(st repo.Stores) error {
		stages, err := st.Stages.ListStages(ctx)
		if err != nil {
			return err
		}
		ids, err := validatePermutation(stages, orderedIDs)
		if err != nil {
			return err
		}
		if err := st.Stages.SetPositions(ctx, ids); err != nil {
			return err
		}
		if _, err := st.Audit.Append(ctx, info.Event("pipeline.reordered", resourceStage, "order", domain.Metadata{"stage_ids": ids})); err != nil {
			return err
		}
		out, err = st.Stages.ListStages(ctx)
		return err
	})
	return out, err
}

func validatePermutation(stages []domain.Stage, orderedIDs []string) ([]string, error) {
	if len(orderedIDs) != len(stages) {
		return nil, service.Invalid(fmt.Sprintf("stage_ids must list all %d stages", len(stages)))
	}
	existing := make(map[string]struct{}, len(stages))
	for _, stage := range stages {
		existing[stage.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(orderedIDs))
	ids := make([]string, 0, len(orderedIDs))
	for _, raw := range orderedIDs {
		id := strings.TrimSpace(raw)
		if _, ok := existing[id]; !ok {
			return nil, service.Invalid(fmt.Sprintf("unknown stage %q", id))
		}
		if _, ok := seen[id]; ok {
			return nil, service.Invalid(fmt.Sprintf("stage %q listed twice", id))
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

type StageSummary struct {
	StageID    string `json:"stage_id"`
	Name       string `json:"name"`
	Position   int    `json:"position"`
	IsWon      bool   `json:"is_won"`
	IsLost     bool   `json:"is_lost"`
	Count      int64  `json:"count"`
	ValueCents int64  `json:"value_cents"`
}

type Summary struct {
	Scope          domain.ScopeKind `json:"scope"`
	Stages         []StageSummary   `json:"stages"`
	TotalCount     int64            `json:"total_count"`
	TotalValue     int64            `json:"total_value_cents"`
	WonCount       int64            `json:"won_count"`
	WonValue       int64            `json:"won_value_cents"`
	LostCount      int64            `json:"lost_count"`
	LostValue      int64            `json:"lost_value_cents"`
	OpenCount      int64            `json:"open_count"`
	OpenValue      int64            `json:"open_value_cents"`
	WinRate        float64          `json:"win_rate"`
	WinRateDefined bool             `json:"win_rate_defined"`
}

// Summary reports per stage counts over the caller's lead scope. Win rate
// is won / (won + lost) and is undefined until a lead closes.
func (s *Service) Summary(ctx context.Context, p access.Principal) (Summary, error) {
	if !p.Can(access.ReportsRead) {
		return Summary{}, service.ErrForbidden
	}
	scope := p.Scope()
	stages, err := s.stores.Stages.ListStages(ctx)
	if err != nil {
		return Summary{}, err
	}
	totals, err := s.stores.Leads.StageTotals(ctx, scope)
	if err != nil {
		return Summary{}, err
	}
	byStage := make(map[string]repo.StageTotal, len(totals))
	for _, t := range totals {
		byStage[t.StageID] = t
	}

	out := Summary{Scope: scope.Kind, Stages: make([]StageSummary, 0, len(stages))}
	for _, stage := range stages {
		t := byStage[stage.ID]
		out.Stages = append(out.Stages, StageSummary{
			StageID:    stage.ID,
			Name:       stage.Name,
			Position:   stage.Position,
			IsWon:      stage.IsWon,
			IsLost:     stage.IsLost,
			Count:      t.Count,
			ValueCents: t.ValueCents,
		})
		out.TotalCount += t.Count
		out.TotalValue += t.ValueCents
		switch {
		case stage.IsWon:
			out.WonCount += t.Count
			out.WonValue += t.ValueCents
		case stage.IsLost:
			out.LostCount += t.Count
			out.LostValue += t.ValueCents
		default:
			out.OpenCount += t.Count
			out.OpenValue += t.ValueCents
		}
	}
	if closed := out.WonCount + out.LostCount; closed > 0 {
		out.WinRate = float64(out.WonCount) / float64(closed)
		out.WinRateDefined = true
	}
	return out, nil
}

func stagePayload(stage domain.Stage) domain.Metadata {
	return domain.Metadata{
		"name":     stage.Name,
		"position": stage.Position,
		"is_won":   stage.IsWon,
		"is_lost":  stage.IsLost,
	}
}

