package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SettingsRepository reads global feature toggles maintained by the admin
// panel, e.g. maintenance mode.
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context, name string) (string, bool, error) {
	const query = `SELECT value FROM app_settings WHERE name = ?`
	var value string
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read setting %s: %w", name, err)
	}
	return value, true, nil
}
