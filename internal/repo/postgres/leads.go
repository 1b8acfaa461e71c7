package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

type LeadStore struct {
	db DB
}

func NewLeadStore(db DB) *LeadStore {
	if db == nil {
		return nil
	}
	return &LeadStore{db: db}
}

const selectLeadColumns = `SELECT lead_id, name, COALESCE(company, ''), COALESCE(email, ''), COALESCE(phone, ''),
	source, stage_id, owner_id, COALESCE(consultant_id::text, ''), COALESCE(team_id::text, ''),
	value_cents, currency, COALESCE(notes, ''), COALESCE(lost_reason, ''), acquisition,
	created_at, updated_at, closed_at
	FROM leads`

func scanLead(row rowScanner) (domain.Lead, error) {
	var (
		lead        domain.Lead
		acquisition []byte
		closedAt    sql.NullTime
	)
	if err := row.Scan(
		&lead.ID,
		&lead.Name,
		&lead.Company,
		&lead.Email,
		&lead.Phone,
		&lead.Source,
		&lead.StageID,
		&lead.OwnerID,
		&lead.ConsultantID,
		&lead.TeamID,
		&lead.ValueCents,
		&lead.Currency,
		&lead.Notes,
		&lead.LostReason,
		&acquisition,
		&lead.CreatedAt,
		&lead.UpdatedAt,
		&closedAt,
	); err != nil {
		return domain.Lead{}, err
	}
	if len(acquisition) > 0 {
		if err := json.Unmarshal(acquisition, &lead.Acquisition); err != nil {
			return domain.Lead{}, fmt.Errorf("decode acquisition: %w", err)
		}
	}
	lead.CreatedAt = lead.CreatedAt.UTC()
	lead.UpdatedAt = lead.UpdatedAt.UTC()
	lead.ClosedAt = timePtr(closedAt)
	return lead, nil
}

func (s *LeadStore) CreateLead(ctx context.Context, lead domain.Lead) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("lead store not initialized")
	}
	if err := lead.Validate(); err != nil {
		return err
	}
	acquisition, err := json.Marshal(lead.Acquisition)
	if err != nil {
		return fmt.Errorf("encode acquisition: %w", err)
	}
	createdAt := normalizeTime(lead.CreatedAt)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO leads (
			lead_id,
			name,
			company,
			email,
			phone,
			source,
			stage_id,
			owner_id,
			consultant_id,
			team_id,
			value_cents,
			currency,
			notes,
			lost_reason,
			acquisition,
			created_at,
			updated_at,
			closed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16,$17)`,
		strings.TrimSpace(lead.ID),
		strings.TrimSpace(lead.Name),
		nullIfEmpty(lead.Company),
		nullIfEmpty(lead.Email),
		nullIfEmpty(lead.Phone),
		sourceOrDefault(lead.Source),
		strings.TrimSpace(lead.StageID),
		strings.TrimSpace(lead.OwnerID),
		nullIfEmpty(lead.ConsultantID),
		nullIfEmpty(lead.TeamID),
		lead.ValueCents,
		currencyOrDefault(lead.Currency),
		nullIfEmpty(lead.Notes),
		nullIfEmpty(lead.LostReason),
		acquisition,
		createdAt,
		nullTime(lead.ClosedAt),
	)
	return mapError("insert lead", err)
}

func (s *LeadStore) GetLead(ctx context.Context, id string, scope domain.LeadScope) (domain.Lead, error) {
	if s == nil || s.db == nil {
		return domain.Lead{}, fmt.Errorf("lead store not initialized")
	}
	var w where
	w.add("lead_id = " + w.arg(strings.TrimSpace(id)))
	w.addScope("", scope)
	lead, err := scanLead(s.db.QueryRowContext(ctx, selectLeadColumns+w.String(), w.args...))
	if err != nil {
		return domain.Lead{}, handleNotFound(err)
	}
	return lead, nil
}

func buildListLeadsQuery(filter repo.LeadFilter) (string, []any) {
	var w where
	w.addScope("", filter.Scope)
	if v := strings.TrimSpace(filter.StageID); v != "" {
		w.add("stage_id = " + w.arg(v))
	}
	if v := strings.TrimSpace(filter.OwnerID); v != "" {
		w.add("owner_id = " + w.arg(v))
	}
	if v := strings.TrimSpace(filter.Query); v != "" {
		p := w.arg("%" + escapeLike(v) + "%")
		w.add(fmt.Sprintf("(name ILIKE %s OR company ILIKE %s OR email ILIKE %s)", p, p, p))
	}

	query := selectLeadColumns + w.String() + " ORDER BY created_at DESC, lead_id"
	if filter.Limit > 0 {
		query += " LIMIT " + w.arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + w.arg(filter.Offset)
	}
	return query, w.args
}

func (s *LeadStore) ListLeads(ctx context.Context, filter repo.LeadFilter) ([]domain.Lead, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("lead store not initialized")
	}
	query, args := buildListLeadsQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return out, nil
}

func (s *LeadStore) UpdateLead(ctx context.Context, lead domain.Lead) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("lead store not initialized")
	}
	if err := lead.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE leads SET
			name = $2,
			company = $3,
			email = $4,
			phone = $5,
			source = $6,
			stage_id = $7,
			owner_id = $8,
			consultant_id = $9,
			team_id = $10,
			value_cents = $11,
			currency = $12,
			notes = $13,
			lost_reason = $14,
			updated_at = $15,
			closed_at = $16
		 WHERE lead_id = $1`,
		strings.TrimSpace(lead.ID),
		strings.TrimSpace(lead.Name),
		nullIfEmpty(lead.Company),
		nullIfEmpty(lead.Email),
		nullIfEmpty(lead.Phone),
		sourceOrDefault(lead.Source),
		strings.TrimSpace(lead.StageID),
		strings.TrimSpace(lead.OwnerID),
		nullIfEmpty(lead.ConsultantID),
		nullIfEmpty(lead.TeamID),
		lead.ValueCents,
		currencyOrDefault(lead.Currency),
		nullIfEmpty(lead.Notes),
		nullIfEmpty(lead.LostReason),
		time.Now().UTC(),
		nullTime(lead.ClosedAt),
	)
	if err != nil {
		return mapError("update lead", err)
	}
	return requireAffected(res, "update lead")
}

func (s *LeadStore) DeleteLead(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("lead store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE lead_id = $1`, strings.TrimSpace(id))
	if err != nil {
		return mapError("delete lead", err)
	}
	return requireAffected(res, "delete lead")
}

func (s *LeadStore) StageTotals(ctx context.Context, scope domain.LeadScope) ([]repo.StageTotal, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("lead store not initialized")
	}
	var w where
	w.addScope("", scope)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT stage_id, COUNT(*), COALESCE(SUM(value_cents), 0) FROM leads`+w.String()+` GROUP BY stage_id`,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("stage totals: %w", err)
	}
	defer rows.Close()

	out := make([]repo.StageTotal, 0)
	for rows.Next() {
		var t repo.StageTotal
		if err := rows.Scan(&t.StageID, &t.Count, &t.ValueCents); err != nil {
			return nil, fmt.Errorf("scan stage total: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage totals: %w", err)
	}
	return out, nil
}

func sourceOrDefault(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return domain.DefaultLeadSource
	}
	return source
}

func currencyOrDefault(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "EUR"
	}
	return currency
}

type ActivityStore struct {
	db DB
}

func NewActivityStore(db DB) *ActivityStore {
	if db == nil {
		return nil
	}
	return &ActivityStore{db: db}
}

func (s *ActivityStore) AddActivity(ctx context.Context, activity domain.Activity) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("activity store not initialized")
	}
	if err := activity.Validate(); err != nil {
		return err
	}
	payload, err := encodeMetadata(activity.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO lead_activities (activity_id, lead_id, actor, kind, body, payload, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		strings.TrimSpace(activity.ID),
		strings.TrimSpace(activity.LeadID),
		strings.TrimSpace(activity.Actor),
		string(activity.Kind),
		nullIfEmpty(activity.Body),
		payload,
		normalizeTime(activity.CreatedAt),
	)
	return mapError("insert activity", err)
}

func (s *ActivityStore) ListActivities(ctx context.Context, leadID string, limit int) ([]domain.Activity, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("activity store not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT activity_id, lead_id, actor, kind, COALESCE(body, ''), payload, created_at
		 FROM lead_activities
		 WHERE lead_id = $1
		 ORDER BY created_at DESC, activity_id
		 LIMIT $2`,
		strings.TrimSpace(leadID),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Activity, 0)
	for rows.Next() {
		var (
			a       domain.Activity
			kind    string
			payload []byte
		)
		if err := rows.Scan(&a.ID, &a.LeadID, &a.Actor, &kind, &a.Body, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Kind = domain.ActivityKind(kind)
		a.CreatedAt = a.CreatedAt.UTC()
		meta, err := decodeMetadata(payload)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		a.Payload = meta
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}
