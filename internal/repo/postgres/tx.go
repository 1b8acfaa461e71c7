package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leadline-labs/leadline/internal/repo"
)

// NewStores binds every repository to db, which may be a *sql.DB or a
// *sql.Tx.
func NewStores(db DB) repo.Stores {
	return repo.Stores{
		Users:        NewUserStore(db),
		Teams:        NewTeamStore(db),
		Stages:       NewStageStore(db),
		Leads:        NewLeadStore(db),
		Activities:   NewActivityStore(db),
		Availability: NewAvailabilityStore(db),
		Meetings:     NewMeetingStore(db),
		Settings:     NewSettingsStore(db),
		Audit:        NewAuditStore(db),
	}
}

type Transactor struct {
	db *sql.DB
}

func NewTransactor(db *sql.DB) *Transactor {
	if db == nil {
		return nil
	}
	return &Transactor{db: db}
}

func (t *Transactor) InTx(ctx context.Context, fn func(repo.Stores) error) error {
	if t == nil || t.db == nil {
		return errors.New("transactor not initialized")
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(NewStores(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("commit tx", err)
	}
	return nil
}
