package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MigrationRepository tracks one-time data migrations in migration_history
type MigrationRepository struct {
	db *DB
}

func NewMigrationRepository(db *DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

func (r *MigrationRepository) Get(ctx context.Context, name string) (*MigrationRecord, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var record MigrationRecord
	err = conn.QueryRowContext(ctx, `
		SELECT migration_name, applied_at, status, rows_migrated,
		       COALESCE(error_message, ''), duration_seconds
		FROM migration_history
		WHERE migration_name = ?
	`, name).Scan(&record.Name, &record.AppliedAt, &record.Status,
		&record.RowsMigrated, &record.ErrorMessage, &record.DurationSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get migration record: %w", err)
	}

	return &record, nil
}

// Begin marks a migration as running. A failed earlier run is overwritten so
// the migration can be retried.
func (r *MigrationRepository) Begin(ctx context.Context, name string) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO migration_history (migration_name, applied_at, status)
		VALUES (?, ?, ?)
		ON CONFLICT(migration_name) DO UPDATE SET
			applied_at = excluded.applied_at,
			status = excluded.status,
			rows_migrated = 0,
			error_message = ''
	`, name, time.Now().UTC(), MigrationStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", name, err)
	}

	return nil
}

func (r *MigrationRepository) Complete(ctx context.Context, name string, rowsMigrated int, duration time.Duration) error {
	return r.finish(ctx, name, MigrationStatusCompleted, rowsMigrated, "", duration)
}

func (r *MigrationRepository) Fail(ctx context.Context, name string, errMsg string, duration time.Duration) error {
	return r.finish(ctx, name, MigrationStatusFailed, 0, errMsg, duration)
}

func (r *MigrationRepository) finish(ctx context.Context, name, status string, rowsMigrated int, errMsg string, duration time.Duration) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `
		UPDATE migration_history
		SET status = ?, rows_migrated = ?, error_message = ?, duration_seconds = ?
		WHERE migration_name = ?
	`, status, rowsMigrated, errMsg, duration.Seconds(), name)
	if err != nil {
		return fmt.Errorf("failed to finish migration %s: %w", name, err)
	}

	return nil
}
