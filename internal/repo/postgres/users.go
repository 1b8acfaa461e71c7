package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	if db == nil {
		return nil
	}
	return &UserStore{db: db}
}

const selectUserColumns = `SELECT user_id, COALESCE(subject, ''), email, display_name, role, COALESCE(team_id::text, ''), timezone, active, created_at, updated_at FROM users`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var role string
	if err := row.Scan(&u.ID, &u.Subject, &u.Email, &u.DisplayName, &role, &u.TeamID, &u.Timezone, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (s *UserStore) CreateUser(ctx context.Context, user domain.User) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("user store not initialized")
	}
	if err := user.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(user.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO users (
			user_id,
			subject,
			email,
			display_name,
			role,
			team_id,
			timezone,
			active,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`,
		strings.TrimSpace(user.ID),
		nullIfEmpty(user.Subject),
		strings.ToLower(strings.TrimSpace(user.Email)),
		strings.TrimSpace(user.DisplayName),
		string(user.Role),
		nullIfEmpty(user.TeamID),
		timezoneOrUTC(user.Timezone),
		user.Active,
		createdAt,
	)
	return mapError("insert user", err)
}

func (s *UserStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.getBy(ctx, "user_id", id)
}

func (s *UserStore) GetUserBySubject(ctx context.Context, subject string) (domain.User, error) {
	return s.getBy(ctx, "subject", subject)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.getBy(ctx, "email", strings.ToLower(email))
}

func (s *UserStore) getBy(ctx context.Context, column string, value string) (domain.User, error) {
	if s == nil || s.db == nil {
		return domain.User{}, fmt.Errorf("user store not initialized")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.User{}, repo.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, selectUserColumns+` WHERE `+column+` = $1`, value)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, handleNotFound(err)
	}
	return user, nil
}

func (s *UserStore) ListUsers(ctx context.Context, filter repo.UserFilter) ([]domain.User, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("user store not initialized")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if filter.Role != "" {
		args = append(args, string(filter.Role))
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)))
	}
	if strings.TrimSpace(filter.TeamID) != "" {
		args = append(args, strings.TrimSpace(filter.TeamID))
		clauses = append(clauses, fmt.Sprintf("team_id = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active = $%d", len(args)))
	}

	query := selectUserColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY display_name, user_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *UserStore) UpdateUser(ctx context.Context, user domain.User) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("user store not initialized")
	}
	if err := user.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE users SET
			email = $2,
			display_name = $3,
			role = $4,
			team_id = $5,
			timezone = $6,
			active = $7,
			updated_at = $8
		 WHERE user_id = $1`,
		strings.TrimSpace(user.ID),
		strings.ToLower(strings.TrimSpace(user.Email)),
		strings.TrimSpace(user.DisplayName),
		string(user.Role),
		nullIfEmpty(user.TeamID),
		timezoneOrUTC(user.Timezone),
		user.Active,
		time.Now().UTC(),
	)
	if err != nil {
		return mapError("update user", err)
	}
	return requireAffected(res, "update user")
}

// BindSubject links an identity provider subject to a user that was
// provisioned by email. A user already bound to a different subject is a
// conflict.
func (s *UserStore) BindSubject(ctx context.Context, userID, subject string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("user store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE users SET subject = $2, updated_at = $3
		 WHERE user_id = $1 AND (subject IS NULL OR subject = $2)`,
		strings.TrimSpace(userID),
		strings.TrimSpace(subject),
		time.Now().UTC(),
	)
	if err != nil {
		return mapError("bind subject", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind subject: %w", err)
	}
	if n == 0 {
		return repo.ErrConflict
	}
	return nil
}

func timezoneOrUTC(tz string) string {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return "UTC"
	}
	return tz
}

type TeamStore struct {
	db DB
}

func NewTeamStore(db DB) *TeamStore {
	if db == nil {
		return nil
	}
	return &TeamStore{db: db}
}

func (s *TeamStore) CreateTeam(ctx context.Context, team domain.Team) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("team store not initialized")
	}
	if err := team.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO teams (team_id, name, manager_id, created_at) VALUES ($1,$2,$3,$4)`,
		strings.TrimSpace(team.ID),
		strings.TrimSpace(team.Name),
		nullIfEmpty(team.ManagerID),
		normalizeTime(team.CreatedAt),
	)
	return mapError("insert team", err)
}

func (s *TeamStore) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	if s == nil || s.db == nil {
		return domain.Team{}, fmt.Errorf("team store not initialized")
	}
	var team domain.Team
	err := s.db.QueryRowContext(
		ctx,
		`SELECT team_id, name, COALESCE(manager_id::text, ''), created_at FROM teams WHERE team_id = $1`,
		strings.TrimSpace(id),
	).Scan(&team.ID, &team.Name, &team.ManagerID, &team.CreatedAt)
	if err != nil {
		return domain.Team{}, handleNotFound(err)
	}
	return team, nil
}

func (s *TeamStore) ListTeams(ctx context.Context) ([]domain.Team, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("team store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT team_id, name, COALESCE(manager_id::text, ''), created_at FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Team, 0)
	for rows.Next() {
		var team domain.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.ManagerID, &team.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		out = append(out, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return out, nil
}

