package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

type StageStore struct {
	db DB
}

func NewStageStore(db DB) *StageStore {
	if db == nil {
		return nil
	}
	return &StageStore{db: db}
}

const selectStageColumns = `SELECT stage_id, name, position, is_won, is_lost, created_at FROM pipeline_stages`

func scanStage(row rowScanner) (domain.Stage, error) {
	var st domain.Stage
	if err := row.Scan(&st.ID, &st.Name, &st.Position, &st.IsWon, &st.IsLost, &st.CreatedAt); err != nil {
		return domain.Stage{}, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return st, nil
}

func (s *StageStore) ListStages(ctx context.Context) ([]domain.Stage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("stage store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, selectStageColumns+` ORDER BY position, stage_id`)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Stage, 0)
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}
	return out, nil
}

func (s *StageStore) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	if s == nil || s.db == nil {
		return domain.Stage{}, fmt.Errorf("stage store not initialized")
	}
	st, err := scanStage(s.db.QueryRowContext(ctx, selectStageColumns+` WHERE stage_id = $1`, strings.TrimSpace(id)))
	if err != nil {
		return domain.Stage{}, handleNotFound(err)
	}
	return st, nil
}

func (s *StageStore) CreateStage(ctx context.Context, stage domain.Stage) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage store not initialized")
	}
	if err := stage.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO pipeline_stages (stage_id, name, position, is_won, is_lost, created_at)
		 VALUES ($1,$2,(SELECT COALESCE(MAX(position) + 1, 0) FROM pipeline_stages),$3,$4,$5)`,
		strings.TrimSpace(stage.ID),
		strings.TrimSpace(stage.Name),
		stage.IsWon,
		stage.IsLost,
		normalizeTime(stage.CreatedAt),
	)
	return mapError("insert stage", err)
}

func (s *StageStore) UpdateStage(ctx context.Context, stage domain.Stage) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage store not initialized")
	}
	if err := stage.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pipeline_stages SET name = $2, is_won = $3, is_lost = $4 WHERE stage_id = $1`,
		strings.TrimSpace(stage.ID),
		strings.TrimSpace(stage.Name),
		stage.IsWon,
		stage.IsLost,
	)
	if err != nil {
		return mapError("update stage", err)
	}
	return requireAffected(res, "update stage")
}

// DeleteStage refuses stages that still hold leads.
func (s *StageStore) DeleteStage(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_stages WHERE stage_id = $1`, strings.TrimSpace(id))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return repo.ErrStageInUse
		}
		return mapError("delete stage", err)
	}
	return requireAffected(res, "delete stage")
}

// The position constraint is deferred, so intermediate duplicates are
// fine until commit.
func (s *StageStore) SetPositions(ctx context.Context, orderedIDs []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage store not initialized")
	}
	for i, id := range orderedIDs {
		res, err := s.db.ExecContext(ctx, `UPDATE pipeline_stages SET position = $2 WHERE stage_id = $1`, strings.TrimSpace(id), i)
		if err != nil {
			return mapError("reorder stages", err)
		}
		if err := requireAffected(res, "reorder stages"); err != nil {
			return err
		}
	}
	return nil
}
