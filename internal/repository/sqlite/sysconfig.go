package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/ncsstat/ncsstat/internal/apperror"
	"github.com/ncsstat/ncsstat/internal/repository"
)

var _ repository.SystemConfigRepository = (*DB)(nil)

// GetInt reads an integer value from system_config.
// Returns apperror.ErrNotFound when the key is absent, so callers can fall
// back to their compiled-in default without treating it as a failure.
func (db *DB) GetInt(ctx context.Context, key string) (int64, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM system_config WHERE key = ?`, key,
	).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound("system_config", key)
		}
		return 0, fmt.Errorf("sqlite: reading system_config %s: %w", key, err)
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sqlite: system_config %s is not an integer: %w", key, err)
	}
	return n, nil
}

// Set writes a configuration value, replacing any existing one.
func (db *DB) Set(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO system_config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("sqlite: writing system_config %s: %w", key, err)
	}
	return nil
}
