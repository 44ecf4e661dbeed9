package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EmailRepository tracks processed newsletter emails for idempotent ingestion
type EmailRepository struct {
	db *DB
}

func NewEmailRepository(db *DB) *EmailRepository {
	return &EmailRepository{db: db}
}

func (r *EmailRepository) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	var exists int
	err = conn.QueryRowContext(ctx,
		"SELECT 1 FROM processed_emails WHERE message_id = ? LIMIT 1", messageID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed email: %w", err)
	}
	return true, nil
}

// Track records a newly collected message. Tracking the same message twice is
// a no-op so parallel workers seeing the same payload converge.
func (r *EmailRepository) Track(ctx context.Context, record ProcessedEmail) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO processed_emails (message_id, sender_email, subject, collected_at, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`, record.MessageID, record.Sender, record.Subject, record.CollectedAt.UTC(), EmailStatusCollected)
	if err != nil {
		return fmt.Errorf("failed to track processed email: %w", err)
	}

	return nil
}

// UpdateStatus moves a message to the given pipeline stage and stamps
// processed_at. An empty errMsg clears any previous error.
func (r *EmailRepository) UpdateStatus(ctx context.Context, messageID, status, errMsg string) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `
		UPDATE processed_emails
		SET status = ?, error_message = ?, processed_at = ?
		WHERE message_id = ?
	`, status, errMsg, time.Now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("failed to update email status: %w", err)
	}

	return nil
}

func (r *EmailRepository) Get(ctx context.Context, messageID string) (*ProcessedEmail, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var record ProcessedEmail
	var processedAt sql.NullTime

	err = conn.QueryRowContext(ctx, `
		SELECT message_id, sender_email, COALESCE(subject, ''), collected_at,
		       processed_at, status, COALESCE(error_message, '')
		FROM processed_emails
		WHERE message_id = ?
	`, messageID).Scan(&record.MessageID, &record.Sender, &record.Subject,
		&record.CollectedAt, &processedAt, &record.Status, &record.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed email: %w", err)
	}

	if processedAt.Valid {
		t := processedAt.Time
		record.ProcessedAt = &t
	}

	return &record, nil
}

func (r *EmailRepository) Count(ctx context.Context) (int, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var count int
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM processed_emails").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count processed emails: %w", err)
	}
	return count, nil
}

// ApplyRetention deletes the oldest tracking records beyond keepCount,
// ordered by collected_at. Returns the number of deleted rows.
func (r *EmailRepository) ApplyRetention(ctx context.Context, keepCount int) (int, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx, `
		DELETE FROM processed_emails WHERE message_id NOT IN (
			SELECT message_id FROM processed_emails
			ORDER BY collected_at DESC, message_id ASC LIMIT ?
		)
	`, keepCount)
	if err != nil {
		return 0, fmt.Errorf("failed to apply email retention: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted row count: %w", err)
	}
	return int(deleted), nil
}
