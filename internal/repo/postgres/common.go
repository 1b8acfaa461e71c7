package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leadline-labs/leadline/internal/availability"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	meetingOverlapConstraint = "meetings_consultant_no_overlap"
	blockOverlapConstraint   = "availability_blocks_no_overlap"
	gateSessionConstraint    = "leads_gate_session_key"
)

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func encodeMetadata(meta domain.Metadata) ([]byte, error) {
	if meta == nil {
		meta = domain.Metadata{}
	}
	return json.Marshal(meta)
}

func decodeMetadata(raw []byte) (domain.Metadata, error) {
	if len(raw) == 0 {
		return domain.Metadata{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return domain.Metadata(out), nil
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

// mapError translates driver errors into repo sentinels, keeping the
// original error in the chain.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.ConstraintName == blockOverlapConstraint || strings.Contains(pgErr.Message, blockOverlapConstraint):
			return fmt.Errorf("%s: %w: %w", op, availability.ErrBlockOverlap, err)
		case pgErr.Code == "23P01" || strings.Contains(pgErr.ConstraintName, meetingOverlapConstraint) || strings.Contains(pgErr.Message, meetingOverlapConstraint):
			return fmt.Errorf("%s: %w: %w", op, repo.ErrMeetingConflict, err)
		case pgErr.Code == "23505" && pgErr.ConstraintName == gateSessionConstraint:
			return fmt.Errorf("%s: %w: %w", op, repo.ErrAlreadyCaptured, err)
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w: %w", op, repo.ErrConflict, err)
		case pgErr.Code == "23503":
			return fmt.Errorf("%s: %w: %w", op, repo.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed predicates with positional parameters.
type where struct {
	clauses []string
	args    []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// addScope applies a lead scope to the lead columns under alias.
func (w *where) addScope(alias string, scope domain.LeadScope) {
	if clause := w.scopeClause(alias, scope); clause != "" {
		w.add(clause)
	}
}

// scopeClause renders scope as a predicate, or "" when it allows every lead.
func (w *where) scopeClause(alias string, scope domain.LeadScope) string {
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}
	own := func() string {
		if strings.TrimSpace(scope.UserID) == "" {
			return "FALSE"
		}
		p := w.arg(strings.TrimSpace(scope.UserID))
		return fmt.Sprintf("(%s = %s OR %s = %s)", col("owner_id"), p, col("consultant_id"), p)
	}

	switch scope.Kind {
	case domain.ScopeAll:
		return ""
	case domain.ScopeTeam:
		if strings.TrimSpace(scope.TeamID) == "" {
			return own()
		}
		team := w.arg(strings.TrimSpace(scope.TeamID))
		return fmt.Sprintf("(%s = %s OR %s)", col("team_id"), team, own())
	case domain.ScopeOwn:
		return own()
	default:
		return "FALSE"
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
