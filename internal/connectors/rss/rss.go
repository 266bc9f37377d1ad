// Package rss implements the RSS/Atom connector variant (C9): fetching a
// feed URL, extracting items/entries, and normalizing them into ContentItems
// (spec.md §4.9 "RSS").
package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/townhall-civic/rag/internal/connectors"
	"github.com/townhall-civic/rag/internal/store"
)

const fetchTimeout = 30 * time.Second

// Connector is the RSS/Atom connector.
type Connector struct {
	id, tenantID string
	category     store.ContentCategory
	feedURL      string
	shouldEmbed  bool
	client       *http.Client
}

// New constructs an RSS/Atom connector for feedURL.
func New(id, tenantID, feedURL string, category store.ContentCategory, shouldEmbed bool) *Connector {
	return &Connector{id: id, tenantID: tenantID, category: category, feedURL: feedURL, shouldEmbed: shouldEmbed, client: &http.Client{Timeout: fetchTimeout}}
}

func (c *Connector) ID() string                      { return c.id }
func (c *Connector) Type() store.ConnectorType        { return store.ConnectorRSS }
func (c *Connector) Category() store.ContentCategory { return c.category }
func (c *Connector) TenantID() string                { return c.tenantID }
func (c *Connector) ShouldEmbed() bool                { return c.shouldEmbed }

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"encoded"`
	PubDate     string `xml:"pubDate"`
	Category    string `xml:"category"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	Link    struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Summary   string `xml:"summary"`
	Content   string `xml:"content"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
}

// Fetch retrieves and parses the feed, surfacing a typed error on timeout or
// an unparseable response.
func (c *Connector) Fetch(ctx context.Context) ([]connectors.RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rss: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: fetch %s: %w", c.feedURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("rss: fetch %s: status %d", c.feedURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("rss: read body: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("rss: parse %s: %w", c.feedURL, err)
	}

	var out []connectors.RawItem
	for _, it := range feed.Channel.Items {
		content := it.Content
		if content == "" {
			content = it.Description
		}
		out = append(out, connectors.RawItem{
			Title:       decodeEntities(it.Title),
			Link:        strings.TrimSpace(it.Link),
			Summary:     decodeEntities(it.Description),
			Content:     decodeEntities(content),
			PublishedAt: parseFeedDate(it.PubDate),
			Extra:       map[string]string{"category": it.Category},
		})
	}
	for _, e := range feed.Entries {
		content := e.Content
		if content == "" {
			content = e.Summary
		}
		published := e.Published
		if published == "" {
			published = e.Updated
		}
		out = append(out, connectors.RawItem{
			Title:       decodeEntities(e.Title),
			Link:        strings.TrimSpace(e.Link.Href),
			Summary:     decodeEntities(e.Summary),
			Content:     decodeEntities(content),
			PublishedAt: parseFeedDate(published),
		})
	}
	return out, nil
}

var cdataRe = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)

func stripCDATA(s string) string {
	if m := cdataRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// decodeEntities strips CDATA wrappers (encoding/xml already unescapes most
// entities, but feed producers frequently double-encode within CDATA blocks)
// and decodes the remaining named entities, always decoding &amp; last to
// avoid turning "&amp;lt;" into "<" (spec.md §4.9 "RSS").
func decodeEntities(s string) string {
	s = stripCDATA(s)
	replacer := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	s = replacer.Replace(s)
	s = strings.ReplaceAll(s, "&amp;", "&")
	return strings.TrimSpace(s)
}

var feedDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05Z07:00",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

func parseFeedDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range feedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Normalize converts raw feed items into ContentItems, computing a
// deterministic content hash from the item link (falling back to title).
func (c *Connector) Normalize(items []connectors.RawItem) []store.ContentItem {
	out := make([]store.ContentItem, 0, len(items))
	for _, it := range items {
		hashKey := it.Link
		if hashKey == "" {
			hashKey = it.Title
		}
		out = append(out, store.ContentItem{
			TenantID:    c.tenantID,
			SourceID:    c.id,
			Category:    c.category,
			Title:       it.Title,
			Content:     it.Content,
			Summary:     it.Summary,
			PublishedAt: it.PublishedAt,
			URL:         it.Link,
			ContentHash: connectors.ContentHash(hashKey),
		})
	}
	return out
}
