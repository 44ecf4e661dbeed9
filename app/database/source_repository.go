package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SourceRepository handles database operations for source configurations
type SourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Get returns the configuration for a source type, or nil when none exists.
func (r *SourceRepository) Get(ctx context.Context, sourceType string) (*SourceConfig, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	row := conn.QueryRowContext(ctx, `
		SELECT source_type, enabled, last_refresh, COALESCE(last_error, ''), settings, updated_at
		FROM source_configs
		WHERE source_type = ?
	`, sourceType)

	config, err := scanSourceConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source config: %w", err)
	}
	return config, nil
}

func (r *SourceRepository) GetAll(ctx context.Context) ([]SourceConfig, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT source_type, enabled, last_refresh, COALESCE(last_error, ''), settings, updated_at
		FROM source_configs
		ORDER BY source_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get source configs: %w", err)
	}
	defer rows.Close()

	var configs []SourceConfig
	for rows.Next() {
		config, err := scanSourceConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source config: %w", err)
		}
		configs = append(configs, *config)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source config rows: %w", err)
	}

	return configs, nil
}

// Save inserts or updates a source configuration. LastRefresh and LastError
// are owned by the refresh path and left untouched here.
func (r *SourceRepository) Save(ctx context.Context, config SourceConfig) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	settings, err := json.Marshal(config.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO source_configs (source_type, enabled, settings, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_type) DO UPDATE SET
			enabled = excluded.enabled,
			settings = excluded.settings,
			updated_at = excluded.updated_at
	`, config.SourceType, config.Enabled, string(settings), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save source config: %w", err)
	}

	return nil
}

// UpdateRefreshResult records the outcome of a refresh attempt for a source.
// An empty errMsg clears last_error.
func (r *SourceRepository) UpdateRefreshResult(ctx context.Context, sourceType string, at time.Time, errMsg string) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `
		UPDATE source_configs
		SET last_refresh = ?, last_error = ?, updated_at = ?
		WHERE source_type = ?
	`, at.UTC(), errMsg, time.Now().UTC(), sourceType)
	if err != nil {
		return fmt.Errorf("failed to update refresh result: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSourceConfig(row rowScanner) (*SourceConfig, error) {
	var config SourceConfig
	var settings string
	var lastRefresh sql.NullTime

	err := row.Scan(&config.SourceType, &config.Enabled, &lastRefresh,
		&config.LastError, &settings, &config.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastRefresh.Valid {
		t := lastRefresh.Time
		config.LastRefresh = &t
	}

	if err := json.Unmarshal([]byte(settings), &config.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings for %s: %w", config.SourceType, err)
	}

	return &config, nil
}
