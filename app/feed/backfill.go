package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedloom/feedloom/app/database"
)

// LegacyIDBackfillName identifies the one-time migration that rewrites rows
// whose identifier predates the content-addressed scheme.
const LegacyIDBackfillName = "legacy_id_backfill"

// BackfillStore is the slice of the item repository the backfill needs.
type BackfillStore interface {
	List(ctx context.Context, filter database.ItemFilter) ([]database.FeedItem, error)
	Upsert(ctx context.Context, items []database.FeedItem) (int, error)
	Delete(ctx context.Context, id string) error
}

// MigrationLog records one-time migration runs for idempotency.
type MigrationLog interface {
	Get(ctx context.Context, name string) (*database.MigrationRecord, error)
	Begin(ctx context.Context, name string) error
	Complete(ctx context.Context, name string, rowsMigrated int, duration time.Duration) error
	Fail(ctx context.Context, name string, errMsg string, duration time.Duration) error
}

// Backfill recomputes content-addressed IDs for legacy rows. Safe to re-run:
// a completed run is skipped, a failed run starts over, and rows rewritten by
// a partial run are already in their final form.
type Backfill struct {
	items      BackfillStore
	migrations MigrationLog
}

func NewBackfill(items BackfillStore, migrations MigrationLog) *Backfill {
	return &Backfill{items: items, migrations: migrations}
}

// Run executes the backfill unless it already completed. Returns the number
// of rewritten rows.
func (b *Backfill) Run(ctx context.Context) (int, error) {
	record, err := b.migrations.Get(ctx, LegacyIDBackfillName)
	if err != nil {
		return 0, fmt.Errorf("failed to check migration history: %w", err)
	}
	if record != nil && record.Status == database.MigrationStatusCompleted {
		slog.Debug("Backfill already completed, skipping",
			"migration", LegacyIDBackfillName, "rows", record.RowsMigrated)
		return 0, nil
	}

	if err := b.migrations.Begin(ctx, LegacyIDBackfillName); err != nil {
		return 0, fmt.Errorf("failed to begin migration: %w", err)
	}

	started := time.Now()
	migrated, err := b.rewriteLegacyRows(ctx)
	if err != nil {
		if failErr := b.migrations.Fail(ctx, LegacyIDBackfillName, err.Error(), time.Since(started)); failErr != nil {
			slog.Warn("Failed to record migration failure", "migration", LegacyIDBackfillName, "error", failErr)
		}
		return migrated, err
	}

	if err := b.migrations.Complete(ctx, LegacyIDBackfillName, migrated, time.Since(started)); err != nil {
		return migrated, fmt.Errorf("failed to record migration completion: %w", err)
	}

	slog.Info("Backfill completed", "migration", LegacyIDBackfillName,
		"rows", migrated, "duration", time.Since(started))
	return migrated, nil
}

func (b *Backfill) rewriteLegacyRows(ctx context.Context) (int, error) {
	items, err := b.items.List(ctx, database.ItemFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list items: %w", err)
	}

	migrated := 0
	for _, item := range items {
		sourceID := GenerateSourceID(item.Title, item.Date.UTC().Format(DateLayout))
		id := item.SourceType + ":" + sourceID
		if item.ID == id && item.SourceID == sourceID {
			continue
		}

		// Delete before upsert: two legacy rows may collapse onto the same
		// content-addressed identity, which the upsert resolves.
		if err := b.items.Delete(ctx, item.ID); err != nil {
			return migrated, fmt.Errorf("failed to delete legacy row %s: %w", item.ID, err)
		}

		item.ID = id
		item.SourceID = sourceID
		if _, err := b.items.Upsert(ctx, []database.FeedItem{item}); err != nil {
			return migrated, fmt.Errorf("failed to rewrite row %s: %w", id, err)
		}
		migrated++
	}

	return migrated, nil
}
