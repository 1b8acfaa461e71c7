package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

type MeetingStore struct {
	db DB
}

func NewMeetingStore(db DB) *MeetingStore {
	if db == nil {
		return nil
	}
	return &MeetingStore{db: db}
}

const selectMeetingColumns = `SELECT m.meeting_id, m.lead_id, m.consultant_id, m.scheduled_by, m.starts_at, m.ends_at,
	m.status, COALESCE(m.location, ''), COALESCE(m.notes, ''), m.created_at, m.updated_at
	FROM meetings m`

func scanMeeting(row rowScanner) (domain.Meeting, error) {
	var m domain.Meeting
	var status string
	if err := row.Scan(&m.ID, &m.LeadID, &m.ConsultantID, &m.ScheduledBy, &m.StartsAt, &m.EndsAt, &status, &m.Location, &m.Notes, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return domain.Meeting{}, err
	}
	m.Status = domain.MeetingStatus(status)
	m.StartsAt, m.EndsAt = m.StartsAt.UTC(), m.EndsAt.UTC()
	m.CreatedAt, m.UpdatedAt = m.CreatedAt.UTC(), m.UpdatedAt.UTC()
	return m, nil
}

// CreateMeeting relies on the exclusion constraint to reject overlapping
// scheduled meetings; the violation surfaces as repo.ErrMeetingConflict.
func (s *MeetingStore) CreateMeeting(ctx context.Context, meeting domain.Meeting) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("meeting store not initialized")
	}
	if err := meeting.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(meeting.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO meetings (
			meeting_id,
			lead_id,
			consultant_id,
			scheduled_by,
			starts_at,
			ends_at,
			status,
			location,
			notes,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		strings.TrimSpace(meeting.ID),
		strings.TrimSpace(meeting.LeadID),
		strings.TrimSpace(meeting.ConsultantID),
		strings.TrimSpace(meeting.ScheduledBy),
		meeting.StartsAt.UTC(),
		meeting.EndsAt.UTC(),
		string(meeting.Status),
		nullIfEmpty(meeting.Location),
		nullIfEmpty(meeting.Notes),
		createdAt,
	)
	return mapError("insert meeting", err)
}

func (s *MeetingStore) GetMeeting(ctx context.Context, id string) (domain.Meeting, error) {
	if s == nil || s.db == nil {
		return domain.Meeting{}, fmt.Errorf("meeting store not initialized")
	}
	m, err := scanMeeting(s.db.QueryRowContext(ctx, selectMeetingColumns+` WHERE m.meeting_id = $1`, strings.TrimSpace(id)))
	if err != nil {
		return domain.Meeting{}, handleNotFound(err)
	}
	return m, nil
}

func buildListMeetingsQuery(filter repo.MeetingFilter) (string, []any) {
	var w where
	query := selectMeetingColumns
	if filter.Visibility != nil {
		query += ` JOIN leads l ON l.lead_id = m.lead_id`
		clause := w.scopeClause("l", *filter.Visibility)
		if clause == "" {
			clause = "TRUE"
		}
		if v := strings.TrimSpace(filter.ViewerID); v != "" {
			clause = fmt.Sprintf("(%s OR m.consultant_id = %s)", clause, w.arg(v))
		}
		w.add(clause)
	}
	if v := strings.TrimSpace(filter.ConsultantID); v != "" {
		w.add("m.consultant_id = " + w.arg(v))
	}
	if v := strings.TrimSpace(filter.LeadID); v != "" {
		w.add("m.lead_id = " + w.arg(v))
	}
	if filter.Status != "" {
		w.add("m.status = " + w.arg(string(filter.Status)))
	}
	if !filter.To.IsZero() {
		w.add("m.starts_at < " + w.arg(filter.To.UTC()))
	}
	if !filter.From.IsZero() {
		w.add("m.ends_at > " + w.arg(filter.From.UTC()))
	}
	query += w.String() + " ORDER BY m.starts_at, m.meeting_id"
	if filter.Limit > 0 {
		query += " LIMIT " + w.arg(filter.Limit)
	}
	return query, w.args
}

func (s *MeetingStore) ListMeetings(ctx context.Context, filter repo.MeetingFilter) ([]domain.Meeting, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("meeting store not initialized")
	}
	query, args := buildListMeetingsQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Meeting, 0)
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings: %w", err)
	}
	return out, nil
}

func (s *MeetingStore) UpdateMeeting(ctx context.Context, meeting domain.Meeting) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("meeting store not initialized")
	}
	if err := meeting.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE meetings SET
			starts_at = $2,
			ends_at = $3,
			status = $4,
			location = $5,
			notes = $6,
			updated_at = $7
		 WHERE meeting_id = $1`,
		strings.TrimSpace(meeting.ID),
		meeting.StartsAt.UTC(),
		meeting.EndsAt.UTC(),
		string(meeting.Status),
		nullIfEmpty(meeting.Location),
		nullIfEmpty(meeting.Notes),
		time.Now().UTC(),
	)
	if err != nil {
		return mapError("update meeting", err)
	}
	return requireAffected(res, "update meeting")
}
