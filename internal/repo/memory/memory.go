// Package memory is an in-process implementation of every repository in
// repo.Stores. It enforces the same keys, references and the consultant
// overlap constraint as the Postgres schema, and backs service and
// handler tests.
package memory

import (
	"context"
	"sync"

	"github.com/leadline-labs/leadline/internal/availability"
	"github.com/leadline-labs/leadline/internal/domain"
	"github.com/leadline-labs/leadline/internal/repo"
)

// DB holds all tables. Store methods are safe for concurrent use;
// transactions are serialized and roll back by restoring a snapshot.
type DB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state
}

type state struct {
	users      map[string]domain.User
	teams      map[string]domain.Team
	stages     map[string]domain.Stage
	leads      map[string]domain.Lead
	activities []domain.Activity
	slots      map[string][]availability.Slot
	blocks     map[string]availability.Block
	meetings   map[string]domain.Meeting
	settings   map[string][]byte
	audit      []domain.AuditEvent
}

func New() *DB {
	return &DB{st: state{
		users:    map[string]domain.User{},
		teams:    map[string]domain.Team{},
		stages:   map[string]domain.Stage{},
		leads:    map[string]domain.Lead{},
		slots:    map[string][]availability.Slot{},
		blocks:   map[string]availability.Block{},
		meetings: map[string]domain.Meeting{},
		settings: map[string][]byte{},
	}}
}

// Stores binds every repository to db.
func (db *DB) Stores() repo.Stores {
	return repo.Stores{
		Users:        db,
		Teams:        db,
		Stages:       db,
		Leads:        db,
		Activities:   db,
		Availability: db,
		Meetings:     db,
		Settings:     db,
		Audit:        db,
	}
}

func (db *DB) InTx(ctx context.Context, fn func(repo.Stores) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snapshot := db.st.clone()
	db.mu.Unlock()

	if err := fn(db.Stores()); err != nil {
		db.mu.Lock()
		db.st = snapshot
		db.mu.Unlock()
		return err
	}
	return nil
}

// AuditEvents returns a copy of every appended audit event.
func (db *DB) AuditEvents() []domain.AuditEvent {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]domain.AuditEvent(nil), db.st.audit...)
}

func (s state) clone() state {
	out := state{
		users:      cloneMap(s.users),
		teams:      cloneMap(s.teams),
		stages:     cloneMap(s.stages),
		leads:      cloneMap(s.leads),
		activities: append([]domain.Activity(nil), s.activities...),
		slots:      make(map[string][]availability.Slot, len(s.slots)),
		blocks:     cloneMap(s.blocks),
		meetings:   cloneMap(s.meetings),
		settings:   make(map[string][]byte, len(s.settings)),
		audit:      append([]domain.AuditEvent(nil), s.audit...),
	}
	for k, v := range s.slots {
		out.slots[k] = append([]availability.Slot(nil), v...)
	}
	for k, v := range s.settings {
		out.settings[k] = append([]byte(nil), v...)
	}
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
