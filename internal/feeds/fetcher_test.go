package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Engineering Blog</title>
    <item>
      <title>First Post</title>
      <link>https://example.com/first</link>
      <description>&lt;p&gt;Plain &lt;b&gt;intro&lt;/b&gt; text.&lt;/p&gt;</description>
      <pubDate>Mon, 03 Mar 2025 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Second Post</title>
      <link>https://example.com/second</link>
      <description>Second body</description>
    </item>
    <item>
      <title>No Link Post</title>
      <description>should be skipped</description>
    </item>
    <item>
      <title>Third Post</title>
      <link>https://example.com/third</link>
      <description>Third body</description>
    </item>
  </channel>
</rss>`

func TestParse(t *testing.T) {
	fetcher := NewFetcher(0)

	items, err := fetcher.Parse(sampleRSS)
	require.NoError(t, err)
	require.Len(t, items, 3, "linkless entry must be skipped")

	first := items[0]
	assert.Equal(t, "https://example.com/first", first.SourceURL)
	assert.Equal(t, "First Post", first.Title)
	assert.Equal(t, "Plain intro text.", first.Content)
	assert.Equal(t, time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), first.PublishedAt.UTC())

	// Missing pubDate leaves PublishedAt zero
	assert.True(t, items[1].PublishedAt.IsZero())
}

func TestParse_MaxItemsCap(t *testing.T) {
	fetcher := NewFetcher(2)

	items, err := fetcher.Parse(sampleRSS)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "https://example.com/first", items[0].SourceURL)
	assert.Equal(t, "https://example.com/second", items[1].SourceURL)
}

func TestParse_InvalidXML(t *testing.T) {
	fetcher := NewFetcher(0)

	_, err := fetcher.Parse("not a feed at all")
	assert.Error(t, err)
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text passthrough",
			input:    "already plain",
			expected: "already plain",
		},
		{
			name:     "strips tags",
			input:    "<p>Hello <strong>world</strong></p>",
			expected: "Hello world",
		},
		{
			name:     "removes scripts",
			input:    "<p>Visible</p><script>alert(1)</script><style>.x{}</style>",
			expected: "Visible",
		},
		{
			name:     "collapses whitespace",
			input:    "<div>  line one\n\n   line two  </div>",
			expected: "line one line two",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractText(tt.input))
		})
	}
}

func TestFetch_PageBackfill(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed.xml":
			feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>T</title>
<item><title>Thin</title><link>` + srv.URL + `/post</link><description>stub</description></item>
</channel></rss>`
			_, _ = w.Write([]byte(feed))
		case "/post":
			_, _ = w.Write([]byte(`<html><body><article><p>the full article body fetched from the page</p></article></body></html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fetcher := NewFetcher(0)
	fetcher.EnablePageFetch()

	items, err := fetcher.Fetch(context.Background(), srv.URL+"/feed.xml")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "the full article body fetched from the page", items[0].Content)
}

func TestFetch_PageBackfillFailureKeepsInline(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feed.xml" {
			feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>T</title>
<item><title>Thin</title><link>` + srv.URL + `/gone</link><description>inline stub</description></item>
</channel></rss>`
			_, _ = w.Write([]byte(feed))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := NewFetcher(0)
	fetcher.EnablePageFetch()

	items, err := fetcher.Fetch(context.Background(), srv.URL+"/feed.xml")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "inline stub", items[0].Content)
}
