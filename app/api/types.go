package api

import (
	"time"

	"github.com/feedloom/feedloom/app/database"
	"github.com/feedloom/feedloom/app/sources"
)

type itemResponse struct {
	ID         string            `json:"id"`
	SourceType string            `json:"source_type"`
	Title      string            `json:"title"`
	Date       time.Time         `json:"date"`
	Summary    string            `json:"summary,omitempty"`
	Link       string            `json:"link,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	FetchedAt  time.Time         `json:"fetched_at"`
}

func toItemResponse(item database.FeedItem) itemResponse {
	return itemResponse{
		ID:         item.ID,
		SourceType: item.SourceType,
		Title:      item.Title,
		Date:       item.Date,
		Summary:    item.Summary,
		Link:       item.Link,
		Metadata:   item.Metadata,
		FetchedAt:  item.FetchedAt,
	}
}

type refreshResponse struct {
	SourceStatus map[string]string `json:"source_status"`
	Items        []itemResponse    `json:"items"`
	Total        int               `json:"total"`
	Page         int               `json:"page"`
	PageSize     int               `json:"page_size"`
}

type listResponse struct {
	Items    []itemResponse `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type sourceResponse struct {
	SourceType  string                   `json:"source_type"`
	Enabled     bool                     `json:"enabled"`
	LastRefresh *time.Time               `json:"last_refresh,omitempty"`
	LastError   string                   `json:"last_error,omitempty"`
	Settings    map[string]string        `json:"settings"`
	Schema      sources.SchemaDescriptor `json:"schema"`
}

type saveSourceRequest struct {
	Enabled  *bool             `json:"enabled"`
	Settings map[string]string `json:"settings"`
}

type retentionRequest struct {
	EntityKind string `json:"entity_kind" binding:"required"`
	KeepCount  int    `json:"keep_count" binding:"required"`
}

type retentionResponse struct {
	EntityKind string `json:"entity_kind"`
	Deleted    int    `json:"deleted"`
}
