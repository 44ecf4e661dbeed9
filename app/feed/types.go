package feed

import (
	"fmt"

	"github.com/feedloom/feedloom/app/database"
)

// Per-source refresh outcomes surfaced to the caller. Error outcomes carry
// the message: "error: <reason>".
const (
	StatusOK       = "ok"
	StatusDisabled = "skipped: disabled"
)

func StatusError(err error) string {
	return fmt.Sprintf("error: %v", err)
}

// ValidationError marks malformed input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// ListOptions select and paginate the merged feed view.
type ListOptions struct {
	SourceType string
	Keyword    string
	Page       int
	PageSize   int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalize clamps pagination to sane bounds.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > MaxPageSize {
		o.PageSize = MaxPageSize
	}
	return o
}

func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.PageSize
}

// RefreshResult is the outcome of one refresh invocation: a status per source
// and the merged, paginated view of durable state.
type RefreshResult struct {
	Statuses map[string]string
	Items    []database.FeedItem
	Total    int
	Page     int
	PageSize int
}
