package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Record is a stored audit event as read back from the table.
type Record struct {
	EventID         int64           `json:"event_id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Actor           string          `json:"actor"`
	Action          string          `json:"action"`
	ResourceType    string          `json:"resource_type"`
	ResourceID      string          `json:"resource_id"`
	RequestID       string          `json:"request_id,omitempty"`
	IP              string          `json:"ip,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

type Filter struct {
	ActionPrefix string
	ResourceType string
	ResourceID   string
	Actor        string
	From         time.Time
	To           time.Time
	// AfterID pages forward by event id.
	AfterID int64
	Limit   int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

func (f Filter) where() (string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)
	add := func(column string, op string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", column, op, len(args)))
	}

	if p := strings.TrimSpace(f.ActionPrefix); p != "" {
		add("action", "LIKE", escapeLike(p)+"%")
	}
	if v := strings.TrimSpace(f.ResourceType); v != "" {
		add("resource_type", "=", v)
	}
	if v := strings.TrimSpace(f.ResourceID); v != "" {
		add("resource_id", "=", v)
	}
	if v := strings.TrimSpace(f.Actor); v != "" {
		add("actor", "=", v)
	}
	if !f.From.IsZero() {
		add("occurred_at", ">=", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("occurred_at", "<", f.To.UTC())
	}
	if f.AfterID > 0 {
		add("event_id", ">", f.AfterID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func List(ctx context.Context, q Queryer, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	out := make([]Record, 0, min(limit, DefaultListLimit))
	err := each(ctx, q, f, limit, func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Each streams every matching event in id order. Limit is ignored.
func Each(ctx context.Context, q Queryer, f Filter, fn func(Record) error) error {
	return each(ctx, q, f, 0, fn)
}

func each(ctx context.Context, q Queryer, f Filter, limit int, fn func(Record) error) error {
	if q == nil {
		return errors.New("queryer is required")
	}
	where, args := f.where()
	query := `SELECT event_id, occurred_at, actor, action, resource_type, resource_id,
		COALESCE(request_id, ''), COALESCE(host(ip), ''), COALESCE(user_agent, ''),
		payload, integrity_sha256
		FROM audit_events` + where + ` ORDER BY event_id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		var payload []byte
		if err := rows.Scan(
			&rec.EventID,
			&rec.OccurredAt,
			&rec.Actor,
			&rec.Action,
			&rec.ResourceType,
			&rec.ResourceID,
			&rec.RequestID,
			&rec.IP,
			&rec.UserAgent,
			&payload,
			&rec.IntegritySHA256,
		); err != nil {
			return fmt.Errorf("scan audit event: %w", err)
		}
		rec.OccurredAt = rec.OccurredAt.UTC()
		rec.Payload = json.RawMessage(payload)
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit events: %w", err)
	}
	return nil
}

// CountByAction groups matching events by action.
func CountByAction(ctx context.Context, q Queryer, f Filter) (map[string]int64, error) {
	if q == nil {
		return nil, errors.New("queryer is required")
	}
	where, args := f.where()
	rows, err := q.QueryContext(ctx, `SELECT action, COUNT(*) FROM audit_events`+where+` GROUP BY action ORDER BY action`, args...)
	if err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var action string
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan audit count: %w", err)
		}
		out[action] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit counts: %w", err)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
