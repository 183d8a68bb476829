package feeds

import "time"

// Item is one candidate content item pulled from a feed.
type Item struct {
	SourceURL   string
	Title       string
	Content     string
	PublishedAt time.Time
}
