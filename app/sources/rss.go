package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSS is a generic RSS/Atom adapter. It exists as a third source type and as
// proof that extending the system takes only the Source contract plus a
// registry call.
type RSS struct {
	parser *gofeed.Parser
}

func NewRSS(userAgent string) *RSS {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &RSS{parser: parser}
}

func (r *RSS) Type() string {
	return "rss"
}

func (r *RSS) ConfigSchema() SchemaDescriptor {
	return SchemaDescriptor{
		Fields: []SchemaField{
			{Name: "feed_url", Type: "string", Required: true, Description: "RSS/Atom feed URL"},
		},
	}
}

func (r *RSS) FetchItems(ctx context.Context, settings map[string]string) ([]RawItem, error) {
	feedURL := settings["feed_url"]
	if feedURL == "" {
		return nil, PermanentError(r.Type(), fmt.Errorf("feed_url setting is required"))
	}

	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, r.classify(err)
	}

	items := make([]RawItem, 0, len(feed.Items))
	for _, fi := range feed.Items {
		if fi.Title == "" {
			continue
		}

		date := time.Now().UTC()
		if fi.PublishedParsed != nil {
			date = fi.PublishedParsed.UTC()
		} else if fi.UpdatedParsed != nil {
			date = fi.UpdatedParsed.UTC()
		}

		metadata := map[string]string{"feed_title": feed.Title}
		if authors := formatFeedAuthors(fi); authors != "" {
			metadata["authors"] = authors
		}
		if len(fi.Categories) > 0 {
			metadata["categories"] = strings.Join(fi.Categories, "; ")
		}

		items = append(items, RawItem{
			Title:    fi.Title,
			Date:     date,
			Summary:  fi.Description,
			Link:     fi.Link,
			Metadata: metadata,
		})
	}

	return items, nil
}

func (r *RSS) classify(err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 || httpErr.StatusCode >= 500 {
			return TransientError(r.Type(), err)
		}
		return PermanentError(r.Type(), err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TransientError(r.Type(), err)
	}

	// gofeed parse failures on malformed XML are permanent; everything else
	// from the transport is worth a retry
	if strings.Contains(err.Error(), "Failed to detect feed type") {
		return PermanentError(r.Type(), err)
	}
	return TransientError(r.Type(), err)
}

func formatFeedAuthors(item *gofeed.Item) string {
	var names []string
	for _, author := range item.Authors {
		if author != nil && author.Name != "" {
			names = append(names, author.Name)
		}
	}
	if len(names) == 0 && item.Author != nil && item.Author.Name != "" {
		names = append(names, item.Author.Name)
	}
	return strings.Join(names, "; ")
}
