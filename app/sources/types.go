package sources

import (
	"context"
	"fmt"
	"time"
)

// RawItem is what an adapter hands the aggregation core: normalized content
// without an identity. IDs are assigned by the core after validation.
type RawItem struct {
	Title    string
	Date     time.Time
	Summary  string
	Link     string
	Metadata map[string]string
}

// SchemaField describes one source-specific configuration key so the settings
// surface can render and validate it without core code changes.
type SchemaField struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, int, bool
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

type SchemaDescriptor struct {
	Fields []SchemaField `json:"fields"`
}

// Field returns the named field descriptor, or nil.
func (d SchemaDescriptor) Field(name string) *SchemaField {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// Source is the contract every content adapter implements. FetchItems must not
// partially mutate shared state: on error, no items are returned.
type Source interface {
	Type() string
	FetchItems(ctx context.Context, settings map[string]string) ([]RawItem, error)
	ConfigSchema() SchemaDescriptor
}

// FetchError wraps a source fetch failure. Transient errors (network, rate
// limit, 5xx) are retried with backoff; permanent ones (auth, bad config)
// surface immediately.
type FetchError struct {
	SourceType string
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s fetch error: %v", e.SourceType, kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func TransientError(sourceType string, err error) error {
	return &FetchError{SourceType: sourceType, Transient: true, Err: err}
}

func PermanentError(sourceType string, err error) error {
	return &FetchError{SourceType: sourceType, Transient: false, Err: err}
}
