package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SettingsStore is a keyed settings backend. Each key is its own row so
// writers on different sources never contend.
type SettingsStore struct {
	db DB
}

// NewSettingsStore wraps db.
func NewSettingsStore(db DB) (*SettingsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SettingsStore{db: db}, nil
}

// Get returns the value under key; ok is false when the key was never set.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	const query = `
INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := s.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
