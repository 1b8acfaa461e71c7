package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type SettingsStore struct {
	db DB
}

func NewSettingsStore(db DB) *SettingsStore {
	if db == nil {
		return nil
	}
	return &SettingsStore{db: db}
}

func (s *SettingsStore) GetSetting(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("settings store not initialized")
	}
	var value []byte
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, strings.TrimSpace(key)).Scan(&value); err != nil {
		return nil, handleNotFound(err)
	}
	return value, nil
}

func (s *SettingsStore) PutSetting(ctx context.Context, key string, value []byte, updatedBy string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("settings store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO settings (key, value, updated_at, updated_by) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by`,
		strings.TrimSpace(key),
		value,
		time.Now().UTC(),
		strings.TrimSpace(updatedBy),
	)
	return mapError("put setting", err)
}

func (s *SettingsStore) DeleteSetting(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("settings store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = $1`, strings.TrimSpace(key))
	if err != nil {
		return mapError("delete setting", err)
	}
	return requireAffected(res, "delete setting")
}
