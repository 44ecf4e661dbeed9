package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const zoteroAPIURL = "https://api.zotero.org"

// Zotero fetches top-level library items from the Zotero web API.
type Zotero struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

func NewZotero(httpClient *http.Client, userAgent string) *Zotero {
	return &Zotero{
		httpClient: httpClient,
		// Zotero asks clients to stay around 2 requests per second
		limiter:   rate.NewLimiter(rate.Limit(2), 2),
		userAgent: userAgent,
	}
}

func (z *Zotero) Type() string {
	return "zotero"
}

func (z *Zotero) ConfigSchema() SchemaDescriptor {
	return SchemaDescriptor{
		Fields: []SchemaField{
			{Name: "user_id", Type: "string", Required: true, Description: "Zotero user ID"},
			{Name: "api_key", Type: "string", Required: true, Description: "Zotero API key"},
			{Name: "limit", Type: "int", Default: "50", Description: "Maximum items per fetch"},
			{Name: "api_url", Type: "string", Default: zoteroAPIURL, Description: "API base URL"},
		},
	}
}

type zoteroCreator struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Name      string `json:"name"`
}

type zoteroItem struct {
	Data struct {
		Key          string          `json:"key"`
		ItemType     string          `json:"itemType"`
		Title        string          `json:"title"`
		AbstractNote string          `json:"abstractNote"`
		URL          string          `json:"url"`
		Date         string          `json:"date"`
		DateAdded    string          `json:"dateAdded"`
		Creators     []zoteroCreator `json:"creators"`
	} `json:"data"`
}

func (z *Zotero) FetchItems(ctx context.Context, settings map[string]string) ([]RawItem, error) {
	userID := settings["user_id"]
	apiKey := settings["api_key"]
	if userID == "" || apiKey == "" {
		return nil, PermanentError(z.Type(), fmt.Errorf("user_id and api_key settings are required"))
	}

	baseURL := settings["api_url"]
	if baseURL == "" {
		baseURL = zoteroAPIURL
	}

	limit := 50
	if v := settings["limit"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	if err := z.limiter.Wait(ctx); err != nil {
		return nil, TransientError(z.Type(), err)
	}

	url := fmt.Sprintf("%s/users/%s/items/top?format=json&limit=%d&sort=dateAdded&direction=desc",
		baseURL, userID, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, PermanentError(z.Type(), fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Zotero-API-Version", "3")
	req.Header.Set("Zotero-API-Key", apiKey)
	req.Header.Set("User-Agent", z.userAgent)

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return nil, TransientError(z.Type(), fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, PermanentError(z.Type(), fmt.Errorf("authentication failed: %s", resp.Status))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, TransientError(z.Type(), fmt.Errorf("HTTP error: %s", resp.Status))
	default:
		return nil, PermanentError(z.Type(), fmt.Errorf("HTTP error: %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransientError(z.Type(), fmt.Errorf("failed to read response body: %w", err))
	}

	var zoteroItems []zoteroItem
	if err := json.Unmarshal(body, &zoteroItems); err != nil {
		return nil, PermanentError(z.Type(), fmt.Errorf("failed to decode response: %w", err))
	}

	items := make([]RawItem, 0, len(zoteroItems))
	for _, zi := range zoteroItems {
		if zi.Data.Title == "" {
			continue
		}
		items = append(items, RawItem{
			Title:   zi.Data.Title,
			Date:    zoteroItemDate(zi),
			Summary: zi.Data.AbstractNote,
			Link:    zi.Data.URL,
			Metadata: map[string]string{
				"key":       zi.Data.Key,
				"item_type": zi.Data.ItemType,
				"authors":   formatCreators(zi.Data.Creators),
			},
		})
	}

	return items, nil
}

// zoteroItemDate prefers the item's own publication date and falls back to
// dateAdded, which the API always sets.
func zoteroItemDate(zi zoteroItem) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, zi.Data.Date); err == nil {
			return t.UTC()
		}
	}
	if t, err := time.Parse(time.RFC3339, zi.Data.DateAdded); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func formatCreators(creators []zoteroCreator) string {
	names := make([]string, 0, len(creators))
	for _, c := range creators {
		switch {
		case c.Name != "":
			names = append(names, c.Name)
		case c.FirstName != "" || c.LastName != "":
			names = append(names, strings.TrimSpace(c.FirstName+" "+c.LastName))
		}
	}
	return strings.Join(names, "; ")
}
