package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ItemRepository handles database operations for feed items
type ItemRepository struct {
	db *DB
}

func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Upsert inserts or updates items keyed by (source_type, source_id). On
// conflict the incoming content replaces the prior row and fetched_at
// advances; created_at is preserved. Returns the number of items written.
func (r *ItemRepository) Upsert(ctx context.Context, items []FeedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, item := range items {
		metadata, err := json.Marshal(item.Metadata)
		if err != nil {
			return count, fmt.Errorf("failed to marshal metadata for %s: %w", item.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO feed_items (id, source_type, source_id, title, item_date, summary, link, metadata, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_type, source_id) DO UPDATE SET
				title = excluded.title,
				item_date = excluded.item_date,
				summary = excluded.summary,
				link = excluded.link,
				metadata = excluded.metadata,
				fetched_at = excluded.fetched_at
		`, item.ID, item.SourceType, item.SourceID, item.Title, item.Date.UTC(),
			item.Summary, item.Link, string(metadata), item.FetchedAt.UTC())
		if err != nil {
			return count, fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return count, nil
}

// List returns items matching the filter, ordered by item_date descending
// with id ascending as the deterministic tie-break.
func (r *ItemRepository) List(ctx context.Context, filter ItemFilter) ([]FeedItem, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	where, args := buildItemFilter(filter)

	query := `
		SELECT id, source_type, source_id, title, item_date,
		       COALESCE(summary, ''), COALESCE(link, ''), metadata,
		       fetched_at, created_at
		FROM feed_items` + where + `
		ORDER BY item_date DESC, id ASC`

	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []FeedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

// Count returns the number of items matching the filter, ignoring pagination.
func (r *ItemRepository) Count(ctx context.Context, filter ItemFilter) (int, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	where, args := buildItemFilter(filter)

	var count int
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM feed_items"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "DELETE FROM feed_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

// ApplyRetention deletes the oldest items beyond keepCount, ordered by
// item_date. Returns the number of deleted rows.
func (r *ItemRepository) ApplyRetention(ctx context.Context, keepCount int) (int, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx, `
		DELETE FROM feed_items WHERE id NOT IN (
			SELECT id FROM feed_items ORDER BY item_date DESC, id ASC LIMIT ?
		)
	`, keepCount)
	if err != nil {
		return 0, fmt.Errorf("failed to apply item retention: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted row count: %w", err)
	}
	return int(deleted), nil
}

func buildItemFilter(filter ItemFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(filter.SourceTypes) > 0 {
		placeholders := strings.Repeat("?, ", len(filter.SourceTypes))
		clauses = append(clauses, fmt.Sprintf("source_type IN (%s)", placeholders[:len(placeholders)-2]))
		for _, st := range filter.SourceTypes {
			args = append(args, st)
		}
	}

	if filter.Keyword != "" {
		pattern := "%" + strings.ToLower(filter.Keyword) + "%"
		clauses = append(clauses, "(LOWER(title) LIKE ? OR LOWER(summary) LIKE ?)")
		args = append(args, pattern, pattern)
	}

	if filter.From != nil {
		clauses = append(clauses, "item_date >= ?")
		args = append(args, filter.From.UTC())
	}

	if filter.To != nil {
		clauses = append(clauses, "item_date <= ?")
		args = append(args, filter.To.UTC())
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanItem(rows *sql.Rows) (FeedItem, error) {
	var item FeedItem
	var metadata string
	var itemDate, fetchedAt, createdAt time.Time

	err := rows.Scan(
		&item.ID, &item.SourceType, &item.SourceID, &item.Title, &itemDate,
		&item.Summary, &item.Link, &metadata, &fetchedAt, &createdAt,
	)
	if err != nil {
		return item, fmt.Errorf("failed to scan item row: %w", err)
	}

	item.Date = itemDate
	item.FetchedAt = fetchedAt
	item.CreatedAt = createdAt

	if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
		return item, fmt.Errorf("failed to unmarshal metadata for %s: %w", item.ID, err)
	}

	return item, nil
}
