// Package feeds retrieves candidate content items from RSS/Atom sources.
package feeds

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/jonathan/newsletter-curator/internal/fetch"
)

// minInlineContent is the content length below which the linked page is
// fetched for fuller text, when page fetching is enabled.
const minInlineContent = 200

// Fetcher retrieves and parses feeds.
type Fetcher struct {
	parser   *gofeed.Parser
	maxItems int
	pages    *fetch.Options
}

// NewFetcher creates a Fetcher that returns at most maxItems items per feed.
func NewFetcher(maxItems int) *Fetcher {
	return &Fetcher{
		parser:   gofeed.NewParser(),
		maxItems: maxItems,
	}
}

// EnablePageFetch makes Fetch retrieve the linked page of entries that carry
// little or no inline content. Failures leave the inline content untouched.
func (f *Fetcher) EnablePageFetch() {
	f.pages = fetch.DefaultOptions()
}

// Fetch retrieves a feed and converts its entries into Items, newest entries
// first as the feed lists them. Entries without a link are skipped: the
// source URL is the dedup key downstream and an item without one cannot be
// staged.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]Item, error) {
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	items := f.convert(feed)
	if f.pages != nil {
		f.backfill(ctx, items)
	}
	return items, nil
}

func (f *Fetcher) backfill(ctx context.Context, items []Item) {
	for i := range items {
		if len(items[i].Content) >= minInlineContent {
			continue
		}
		text, err := fetch.PageText(ctx, items[i].SourceURL, f.pages)
		if err != nil {
			continue
		}
		if len(text) > len(items[i].Content) {
			items[i].Content = text
		}
	}
}

// Parse converts already retrieved feed XML into Items. Used by tests and by
// callers that manage their own transport.
func (f *Fetcher) Parse(raw string) ([]Item, error) {
	feed, err := f.parser.ParseString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return f.convert(feed), nil
}

func (f *Fetcher) convert(feed *gofeed.Feed) []Item {
	count := len(feed.Items)
	if f.maxItems > 0 && count > f.maxItems {
		count = f.maxItems
	}

	items := make([]Item, 0, count)
	for i := 0; i < count; i++ {
		entry := feed.Items[i]
		if entry.Link == "" {
			continue
		}

		var publishedAt time.Time
		if entry.PublishedParsed != nil {
			publishedAt = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			publishedAt = *entry.UpdatedParsed
		}

		content := entry.Content
		if content == "" {
			content = entry.Description
		}

		items = append(items, Item{
			SourceURL:   entry.Link,
			Title:       entry.Title,
			Content:     ExtractText(content),
			PublishedAt: publishedAt,
		})
	}
	return items
}
