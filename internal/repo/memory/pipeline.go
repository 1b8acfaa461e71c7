package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

func (db *DB) ListStages(ctx context.Context) ([]domain.Stage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.sortedStagesLocked(), nil
}

func (db *DB) sortedStagesLocked() []domain.Stage {
	out := make([]domain.Stage, 0, len(db.st.stages))
	for _, s := range db.st.stages {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (db *DB) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	stage, ok := db.st.stages[strings.TrimSpace(id)]
	if !ok {
		return domain.Stage{}, repo.ErrNotFound
	}
	return stage, nil
}

func (db *DB) CreateStage(ctx context.Context, stage domain.Stage) error {
	if err := stage.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	stage.Name = strings.TrimSpace(stage.Name)
	next := 0
	for id, other := range db.st.stages {
		if id == stage.ID || other.Name == stage.Name {
			return repo.ErrConflict
		}
		if other.Position >= next {
			next = other.Position + 1
		}
	}
	stage.Position = next
	if stage.CreatedAt.IsZero() {
		stage.CreatedAt = time.Now().UTC()
	}
	db.st.stages[stage.ID] = stage
	return nil
}

func (db *DB) UpdateStage(ctx context.Context, stage domain.Stage) error {
	if err := stage.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	current, ok := db.st.stages[stage.ID]
	if !ok {
		return repo.ErrNotFound
	}
	stage.Name = strings.TrimSpace(stage.Name)
	for id, other := range db.st.stages {
		if id != stage.ID && other.Name == stage.Name {
			return repo.ErrConflict
		}
	}
	current.Name, current.IsWon, current.IsLost = stage.Name, stage.IsWon, stage.IsLost
	db.st.stages[stage.ID] = current
	return nil
}

func (db *DB) DeleteStage(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	id = strings.TrimSpace(id)
	if _, ok := db.st.stages[id]; !ok {
		return repo.ErrNotFound
	}
	for _, lead := range db.st.leads {
		if lead.StageID == id {
			return repo.ErrStageInUse
		}
	}
	delete(db.st.stages, id)
	return nil
}

func (db *DB) SetPositions(ctx context.Context, orderedIDs []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i, id := range orderedIDs {
		stage, ok := db.st.stages[strings.TrimSpace(id)]
		if !ok {
			return repo.ErrNotFound
		}
		stage.Position = i
		db.st.stages[stage.ID] = stage
	}
	seen := map[int]bool{}
	for _, s := range db.st.stages {
		if seen[s.Position] {
			return repo.ErrConflict
		}
		seen[s.Position] = true
	}
	return nil
}

func (db *DB) CreateLead(ctx context.Context, lead domain.Lead) error {
	if err := lead.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.st.leads[lead.ID]; ok {
		return repo.ErrConflict
	}
	if err := db.checkLeadRefsLocked(lead); err != nil {
		return err
	}
	if sid := lead.Acquisition.SessionID; sid != "" {
		for _, other := range db.st.leads {
			if other.Acquisition.SessionID == sid {
				return repo.ErrAlreadyCaptured
			}
		}
	}
	lead = normalizeLead(lead)
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	if lead.UpdatedAt.IsZero() {
		lead.UpdatedAt = lead.CreatedAt
	}
	db.st.leads[lead.ID] = lead
	return nil
}

func (db *DB) GetLead(ctx context.Context, id string, scope domain.LeadScope) (domain.Lead, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	lead, ok := db.st.leads[strings.TrimSpace(id)]
	if !ok || !scope.Allows(lead) {
		return domain.Lead{}, repo.ErrNotFound
	}
	return lead, nil
}

func (db *DB) ListLeads(ctx context.Context, filter repo.LeadFilter) ([]domain.Lead, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	out := make([]domain.Lead, 0)
	for _, lead := range db.st.leads {
		if !filter.Scope.Allows(lead) {
			continue
		}
		if v := strings.TrimSpace(filter.StageID); v != "" && lead.StageID != v {
			continue
		}
		if v := strings.TrimSpace(filter.OwnerID); v != "" && lead.OwnerID != v {
			continue
		}
		if query != "" && !containsFold(query, lead.Name, lead.Company, lead.Email) {
			continue
		}
		out = append(out, lead)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []domain.Lead{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (db *DB) UpdateLead(ctx context.Context, lead domain.Lead) error {
	if err := lead.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	current, ok := db.st.leads[lead.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if err := db.checkLeadRefsLocked(lead); err != nil {
		return err
	}
	lead = normalizeLead(lead)
	lead.CreatedAt = current.CreatedAt
	lead.Acquisition = current.Acquisition
	if lead.UpdatedAt.IsZero() {
		lead.UpdatedAt = time.Now().UTC()
	}
	db.st.leads[lead.ID] = lead
	return nil
}

func (db *DB) DeleteLead(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	id = strings.TrimSpace(id)
	if _, ok := db.st.leads[id]; !ok {
		return repo.ErrNotFound
	}
	delete(db.st.leads, id)
	kept := db.st.activities[:0]
	for _, a := range db.st.activities {
		if a.LeadID != id {
			kept = append(kept, a)
		}
	}
	db.st.activities = kept
	for mid, m := range db.st.meetings {
		if m.LeadID == id {
			delete(db.st.meetings, mid)
		}
	}
	return nil
}

func (db *DB) StageTotals(ctx context.Context, scope domain.LeadScope) ([]repo.StageTotal, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	totals := map[string]*repo.StageTotal{}
	for _, lead := range db.st.leads {
		if !scope.Allows(lead) {
			continue
		}
		t, ok := totals[lead.StageID]
		if !ok {
			t = &repo.StageTotal{StageID: lead.StageID}
			totals[lead.StageID] = t
		}
		t.Count++
		t.ValueCents += lead.ValueCents
	}
	out := make([]repo.StageTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageID < out[j].StageID })
	return out, nil
}

func (db *DB) checkLeadRefsLocked(lead domain.Lead) error {
	if _, ok := db.st.stages[lead.StageID]; !ok {
		return repo.ErrNotFound
	}
	if _, ok := db.st.users[lead.OwnerID]; !ok {
		return repo.ErrNotFound
	}
	if lead.ConsultantID != "" {
		if _, ok := db.st.users[lead.ConsultantID]; !ok {
			return repo.ErrNotFound
		}
	}
	if lead.TeamID != "" {
		if _, ok := db.st.teams[lead.TeamID]; !ok {
			return repo.ErrNotFound
		}
	}
	return nil
}

func normalizeLead(lead domain.Lead) domain.Lead {
	if strings.TrimSpace(lead.Source) == "" {
		lead.Source = domain.DefaultLeadSource
	}
	lead.Currency = strings.ToUpper(strings.TrimSpace(lead.Currency))
	if lead.Currency == "" {
		lead.Currency = "EUR"
	}
	return lead
}

func containsFold(needle string, haystack ...string) bool {
	for _, h := range haystack {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func (db *DB) AddActivity(ctx context.Context, activity domain.Activity) error {
	if err := activity.Validate(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.st.leads[activity.LeadID]; !ok {
		return repo.ErrNotFound
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	activity.Payload = activity.Payload.Clone()
	db.st.activities = append(db.st.activities, activity)
	return nil
}

func (db *DB) ListActivities(ctx context.Context, leadID string, limit int) ([]domain.Activity, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]domain.Activity, 0)
	for _, a := range db.st.activities {
		if a.LeadID == strings.TrimSpace(leadID) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
