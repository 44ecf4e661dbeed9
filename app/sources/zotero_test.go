package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const zoteroFixture = `[
	{
		"data": {
			"key": "ABCD1234",
			"itemType": "journalArticle",
			"title": "Attention Is All You Need",
			"abstractNote": "The dominant sequence transduction models...",
			"url": "https://arxiv.org/abs/1706.03762",
			"date": "2017-06-12",
			"dateAdded": "2026-02-01T10:00:00Z",
			"creators": [
				{"firstName": "Ashish", "lastName": "Vaswani"},
				{"name": "Google Brain"}
			]
		}
	},
	{
		"data": {
			"key": "WXYZ5678",
			"itemType": "preprint",
			"title": "",
			"dateAdded": "2026-02-02T10:00:00Z"
		}
	},
	{
		"data": {
			"key": "QRST9012",
			"itemType": "book",
			"title": "Undated Classic",
			"date": "not a date",
			"dateAdded": "2026-02-03T10:00:00Z"
		}
	}
]`

func zoteroSettings(apiURL string) map[string]string {
	return map[string]string{
		"user_id": "12345",
		"api_key": "secret",
		"api_url": apiURL,
	}
}

func TestZoteroFetchItems(t *testing.T) {
	var gotPath, gotVersion, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.Header.Get("Zotero-API-Version")
		gotKey = r.Header.Get("Zotero-API-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(zoteroFixture))
	}))
	defer server.Close()

	zotero := NewZotero(server.Client(), "feedloom-test")

	items, err := zotero.FetchItems(context.Background(), zoteroSettings(server.URL))
	if err != nil {
		t.Fatalf("FetchItems failed: %v", err)
	}

	if gotPath != "/users/12345/items/top" {
		t.Errorf("Expected path /users/12345/items/top, got %s", gotPath)
	}
	if gotVersion != "3" {
		t.Errorf("Expected Zotero-API-Version 3, got %q", gotVersion)
	}
	if gotKey != "secret" {
		t.Errorf("Expected API key header, got %q", gotKey)
	}

	// The untitled item is dropped
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.Title != "Attention Is All You Need" {
		t.Errorf("Unexpected title %q", first.Title)
	}
	expectedDate := time.Date(2017, 6, 12, 0, 0, 0, 0, time.UTC)
	if !first.Date.Equal(expectedDate) {
		t.Errorf("Expected publication date %s, got %s", expectedDate, first.Date)
	}
	if first.Link != "https://arxiv.org/abs/1706.03762" {
		t.Errorf("Unexpected link %q", first.Link)
	}
	if first.Metadata["authors"] != "Ashish Vaswani; Google Brain" {
		t.Errorf("Unexpected authors %q", first.Metadata["authors"])
	}
	if first.Metadata["item_type"] != "journalArticle" {
		t.Errorf("Unexpected item type %q", first.Metadata["item_type"])
	}

	// Unparseable publication date falls back to dateAdded
	second := items[1]
	fallback := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	if !second.Date.Equal(fallback) {
		t.Errorf("Expected dateAdded fallback %s, got %s", fallback, second.Date)
	}
}

func TestZoteroMissingCredentials(t *testing.T) {
	zotero := NewZotero(http.DefaultClient, "feedloom-test")

	_, err := zotero.FetchItems(context.Background(), map[string]string{})

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fetchErr.Transient {
		t.Error("Expected missing credentials to be permanent")
	}
}

func TestZoteroServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	zotero := NewZotero(server.Client(), "feedloom-test")

	_, err := zotero.FetchItems(context.Background(), zoteroSettings(server.URL))

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if !fetchErr.Transient {
		t.Error("Expected 500 to be transient")
	}
}

func TestZoteroAuthErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	zotero := NewZotero(server.Client(), "feedloom-test")

	_, err := zotero.FetchItems(context.Background(), zoteroSettings(server.URL))

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fetchErr.Transient {
		t.Error("Expected 403 to be permanent")
	}
}

func TestZoteroRateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	zotero := NewZotero(server.Client(), "feedloom-test")

	_, err := zotero.FetchItems(context.Background(), zoteroSettings(server.URL))

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if !fetchErr.Transient {
		t.Error("Expected 429 to be transient")
	}
}

func TestZoteroLimitSetting(t *testing.T) {
	var gotLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	zotero := NewZotero(server.Client(), "feedloom-test")

	settings := zoteroSettings(server.URL)
	settings["limit"] = "10"
	if _, err := zotero.FetchItems(context.Background(), settings); err != nil {
		t.Fatalf("FetchItems failed: %v", err)
	}
	if gotLimit != "10" {
		t.Errorf("Expected limit query of 10, got %q", gotLimit)
	}
}
