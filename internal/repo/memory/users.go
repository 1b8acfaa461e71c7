package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

func (db *DB) CreateUser(ctx context.Context, user domain.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	user = normalizeUser(user)
	if _, ok := db.st.users[user.ID]; ok {
		return repo.ErrConflict
	}
	if err := db.checkUserLocked(user); err != nil {
		return err
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.UpdatedAt = user.CreatedAt
	db.st.users[user.ID] = user
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	user, ok := db.st.users[strings.TrimSpace(id)]
	if !ok {
		return domain.User{}, repo.ErrNotFound
	}
	return user, nil
}

func (db *DB) GetUserBySubject(ctx context.Context, subject string) (domain.User, error) {
	subject = strings.TrimSpace(subject)
	return db.findUser(func(u domain.User) bool { return subject != "" && u.Subject == subject })
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return db.findUser(func(u domain.User) bool { return u.Email == email })
}

func (db *DB) findUser(match func(domain.User) bool) (domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, u := range db.st.users {
		if match(u) {
			return u, nil
		}
	}
	return domain.User{}, repo.ErrNotFound
}

func (db *DB) ListUsers(ctx context.Context, filter repo.UserFilter) ([]domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]domain.User, 0)
	for _, u := range db.st.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if v := strings.TrimSpace(filter.TeamID); v != "" && u.TeamID != v {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (db *DB) UpdateUser(ctx context.Context, user domain.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	user = normalizeUser(user)
	current, ok := db.st.users[user.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if err := db.checkUserLocked(user); err != nil {
		return err
	}
	user.Subject = current.Subject
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	db.st.users[user.ID] = user
	return nil
}

func (db *DB) BindSubject(ctx context.Context, userID, subject string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	userID, subject = strings.TrimSpace(userID), strings.TrimSpace(subject)
	user, ok := db.st.users[userID]
	if !ok || (user.Subject != "" && user.Subject != subject) {
		return repo.ErrConflict
	}
	for id, other := range db.st.users {
		if id != userID && other.Subject == subject {
			return repo.ErrConflict
		}
	}
	user.Subject = subject
	user.UpdatedAt = time.Now().UTC()
	db.st.users[userID] = user
	return nil
}

// checkUserLocked enforces the unique and foreign keys of the users table.
func (db *DB) checkUserLocked(user domain.User) error {
	for id, other := range db.st.users {
		if id == user.ID {
			continue
		}
		if other.Email == user.Email || (user.Subject != "" && other.Subject == user.Subject) {
			return repo.ErrConflict
		}
	}
	if user.TeamID != "" {
		if _, ok := db.st.teams[user.TeamID]; !ok {
			return repo.ErrNotFound
		}
	}
	return nil
}

func normalizeUser(user domain.User) domain.User {
	user.ID = strings.TrimSpace(user.ID)
	user.Subject = strings.TrimSpace(user.Subject)
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.DisplayName = strings.TrimSpace(user.DisplayName)
	user.TeamID = strings.TrimSpace(user.TeamID)
	if strings.TrimSpace(user.Timezone) == "" {
		user.Timezone = "UTC"
	}
	return user
}

func (db *DB) CreateTeam(ctx context.Context, team domain.Team) error {
	if err := team.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	team.Name = strings.TrimSpace(team.Name)
	for id, other := range db.st.teams {
		if id == team.ID || other.Name == team.Name {
			return repo.ErrConflict
		}
	}
	if team.CreatedAt.IsZero() {
		team.CreatedAt = time.Now().UTC()
	}
	db.st.teams[team.ID] = team
	return nil
}

func (db *DB) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	team, ok := db.st.teams[strings.TrimSpace(id)]
	if !ok {
		return domain.Team{}, repo.ErrNotFound
	}
	return team, nil
}

func (db *DB) ListTeams(ctx context.Context) ([]domain.Team, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]domain.Team, 0, len(db.st.teams))
	for _, t := range db.st.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
