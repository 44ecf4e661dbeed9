package database

import (
	"context"
	"testing"
	"time"
)

func TestSourceConfigGetMissing(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)

	config, err := repo.Get(context.Background(), "zotero")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if config != nil {
		t.Errorf("Expected nil for missing config, got %+v", config)
	}
}

func TestSourceConfigSaveAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	err := repo.Save(ctx, SourceConfig{
		SourceType: "zotero",
		Enabled:    true,
		Settings:   map[string]string{"user_id": "12345", "api_key": "secret"},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	config, err := repo.Get(ctx, "zotero")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if config == nil {
		t.Fatal("Expected saved config to be found")
	}
	if !config.Enabled {
		t.Error("Expected enabled config")
	}
	if config.Settings["user_id"] != "12345" {
		t.Errorf("Expected settings to roundtrip, got %v", config.Settings)
	}
	if config.LastRefresh != nil {
		t.Errorf("Expected no last_refresh on a fresh config, got %v", config.LastRefresh)
	}
}

func TestSourceConfigSavePreservesRefreshState(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	if err := repo.Save(ctx, SourceConfig{SourceType: "rss", Enabled: true,
		Settings: map[string]string{"feed_url": "https://a.example/feed"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	refreshedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := repo.UpdateRefreshResult(ctx, "rss", refreshedAt, "rss: transient fetch error"); err != nil {
		t.Fatalf("UpdateRefreshResult failed: %v", err)
	}

	// A settings change must not wipe out refresh bookkeeping
	if err := repo.Save(ctx, SourceConfig{SourceType: "rss", Enabled: false,
		Settings: map[string]string{"feed_url": "https://b.example/feed"}}); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	config, err := repo.Get(ctx, "rss")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if config.Enabled {
		t.Error("Expected save to update enabled flag")
	}
	if config.Settings["feed_url"] != "https://b.example/feed" {
		t.Errorf("Expected updated settings, got %v", config.Settings)
	}
	if config.LastRefresh == nil || config.LastRefresh.Unix() != refreshedAt.Unix() {
		t.Errorf("Expected last_refresh %s to survive save, got %v", refreshedAt, config.LastRefresh)
	}
	if config.LastError != "rss: transient fetch error" {
		t.Errorf("Expected last_error to survive save, got %q", config.LastError)
	}
}

func TestSourceConfigRefreshResultClearsError(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	if err := repo.Save(ctx, SourceConfig{SourceType: "zotero", Settings: map[string]string{}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := repo.UpdateRefreshResult(ctx, "zotero", time.Now().UTC(), "boom"); err != nil {
		t.Fatalf("UpdateRefreshResult failed: %v", err)
	}
	if err := repo.UpdateRefreshResult(ctx, "zotero", time.Now().UTC(), ""); err != nil {
		t.Fatalf("Second UpdateRefreshResult failed: %v", err)
	}

	config, err := repo.Get(ctx, "zotero")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if config.LastError != "" {
		t.Errorf("Expected a successful refresh to clear last_error, got %q", config.LastError)
	}
}

func TestSourceConfigGetAllSorted(t *testing.T) {
	db := newTestDB(t)
	repo := NewSourceRepository(db)
	ctx := context.Background()

	for _, sourceType := range []string{"zotero", "newsletter", "rss"} {
		if err := repo.Save(ctx, SourceConfig{SourceType: sourceType, Settings: map[string]string{}}); err != nil {
			t.Fatalf("Save %s failed: %v", sourceType, err)
		}
	}

	configs, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}

	expected := []string{"newsletter", "rss", "zotero"}
	if len(configs) != len(expected) {
		t.Fatalf("Expected %d configs, got %d", len(expected), len(configs))
	}
	for i := range expected {
		if configs[i].SourceType != expected[i] {
			t.Errorf("Expected configs[%d] = %s, got %s", i, expected[i], configs[i].SourceType)
		}
	}
}
