package database

import (
	"time"
)

// FeedItem is a normalized entry from any source. The (SourceType, SourceID)
// pair is unique; re-ingesting identical content updates the existing row.
type FeedItem struct {
	ID         string // "{source_type}:{source_id}"
	SourceType string
	SourceID   string // content hash prefix, local to the source
	Title      string
	Date       time.Time
	Summary    string
	Link       string
	Metadata   map[string]string
	FetchedAt  time.Time
	CreatedAt  time.Time
}

// SourceConfig holds the persisted per-source state. One row per registered
// source type, written by the settings surface and after each refresh attempt.
type SourceConfig struct {
	SourceType  string
	Enabled     bool
	LastRefresh *time.Time
	LastError   string
	Settings    map[string]string
	UpdatedAt   time.Time
}

// Processing pipeline stages for source-specific units of work (e.g., one
// collected email). Forward-only, except "failed" which is reachable from any
// stage.
const (
	EmailStatusCollected = "collected"
	EmailStatusConverted = "converted"
	EmailStatusParsed    = "parsed"
	EmailStatusFailed    = "failed"
)

type ProcessedEmail struct {
	MessageID    string
	Sender       string
	Subject      string
	CollectedAt  time.Time
	ProcessedAt  *time.Time
	Status       string
	ErrorMessage string
}

const (
	MigrationStatusRunning   = "running"
	MigrationStatusCompleted = "completed"
	MigrationStatusFailed    = "failed"
)

// MigrationRecord tracks one-time data migrations, checked for idempotency
// before re-running.
type MigrationRecord struct {
	Name            string
	AppliedAt       time.Time
	Status          string
	RowsMigrated    int
	ErrorMessage    string
	DurationSeconds float64
}

// ItemFilter narrows List/Count queries. A zero filter matches everything.
// Limit <= 0 means no limit.
type ItemFilter struct {
	SourceTypes []string
	Keyword     string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}
