package database

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

func testItem(sourceType, sourceID, title string, day int) FeedItem {
	return FeedItem{
		ID:         sourceType + ":" + sourceID,
		SourceType: sourceType,
		SourceID:   sourceID,
		Title:      title,
		Date:       time.Date(2026, 2, day, 0, 0, 0, 0, time.UTC),
		Summary:    "summary of " + title,
		Metadata:   map[string]string{"origin": "test"},
		FetchedAt:  time.Date(2026, 2, day, 12, 0, 0, 0, time.UTC),
	}
}
