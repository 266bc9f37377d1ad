// Package scrape implements the generic scraper connector variant (C9):
// crawling a listing page for candidate article links, extracting readable
// content from each, and applying a geographic relevance filter tuned per
// content category (spec.md §4.9 "Generic scraper").
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/townhall-civic/rag/internal/connectors"
	"github.com/townhall-civic/rag/internal/store"
)

const (
	listingTimeout = 15 * time.Second
	itemTimeout    = 15 * time.Second
	politenessWait = 500 * time.Millisecond
	minBodyChars   = 50
)

// Connector is the generic readability-based scraper.
type Connector struct {
	id, tenantID string
	category     store.ContentCategory
	listingURL   string
	linkSelector *regexp.Regexp // not set by New and not consulted by discoverLinks; candidate links are narrowed by urlFilter only
	urlFilter    *regexp.Regexp
	maxPages     int
	shouldEmbed  bool
	tenantLocality string
	neighboringLocalities []string
	client       *http.Client
	sleep        func(time.Duration)
}

// Config parameterizes one scraper instance.
type Config struct {
	ID, TenantID   string
	Category       store.ContentCategory
	ListingURL     string
	URLFilter      string // optional regexp applied to candidate hrefs
	MaxPages       int
	ShouldEmbed    bool
	TenantLocality string
	NeighboringLocalities []string
}

// New constructs a scraper connector from cfg.
func New(cfg Config) (*Connector, error) {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 20
	}
	var urlFilter *regexp.Regexp
	if cfg.URLFilter != "" {
		re, err := regexp.Compile(cfg.URLFilter)
		if err != nil {
			return nil, fmt.Errorf("scrape: invalid url_filter: %w", err)
		}
		urlFilter = re
	}
	return &Connector{
		id: cfg.ID, tenantID: cfg.TenantID, category: cfg.Category, listingURL: cfg.ListingURL,
		urlFilter: urlFilter, maxPages: maxPages, shouldEmbed: cfg.ShouldEmbed,
		tenantLocality: cfg.TenantLocality, neighboringLocalities: cfg.NeighboringLocalities,
		client: &http.Client{Timeout: itemTimeout}, sleep: time.Sleep,
	}, nil
}

func (c *Connector) ID() string                      { return c.id }
func (c *Connector) Type() store.ConnectorType        { return store.ConnectorScrape }
func (c *Connector) Category() store.ContentCategory { return c.category }
func (c *Connector) TenantID() string                { return c.tenantID }
func (c *Connector) ShouldEmbed() bool                { return c.shouldEmbed }

// Fetch crawls the listing page for candidate links, then fetches and
// extracts each one, applying the geographic relevance filter.
func (c *Connector) Fetch(ctx context.Context) ([]connectors.RawItem, error) {
	links, err := c.discoverLinks(ctx)
	if err != nil {
		return nil, err
	}
	if len(links) > c.maxPages {
		links = links[:c.maxPages]
	}

	var out []connectors.RawItem
	for i, link := range links {
		item, err := c.fetchOne(ctx, link)
		if err != nil {
			continue // per-item fetch errors are non-fatal; the run just yields fewer items
		}
		if item != nil && c.passesGeographicFilter(item.Title + " " + item.Content) {
			out = append(out, *item)
		}
		if i < len(links)-1 {
			c.sleep(politenessWait)
		}
	}
	return out, nil
}

func (c *Connector) discoverLinks(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.listingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape: build listing request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape: fetch listing %s: %w", c.listingURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("scrape: fetch listing %s: status %d", c.listingURL, resp.StatusCode)
	}

	base, err := url.Parse(c.listingURL)
	if err != nil {
		return nil, fmt.Errorf("scrape: parse listing url: %w", err)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("scrape: parse listing html: %w", err)
	}

	seen := map[string]bool{}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				resolved := resolveLink(base, a.Val)
				if resolved == "" || seen[resolved] {
					continue
				}
				if !isHTTPNoFragment(resolved) {
					continue
				}
				if c.urlFilter != nil && !c.urlFilter.MatchString(resolved) {
					continue
				}
				seen[resolved] = true
				links = append(links, resolved)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func isHTTPNoFragment(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Fragment == ""
}

func (c *Connector) fetchOne(ctx context.Context, link string) (*connectors.RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("scrape: fetch %s: status %d", link, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	parsedURL, _ := url.Parse(link)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("scrape: extract %s: %w", link, err)
	}
	if len(strings.TrimSpace(article.TextContent)) < minBodyChars {
		return nil, fmt.Errorf("scrape: %s: body too short", link)
	}

	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		markdown = article.TextContent
	}

	published := extractPublishedDate(body)

	return &connectors.RawItem{
		Title:       article.Title,
		Link:        link,
		Content:     markdown,
		Summary:     article.Excerpt,
		PublishedAt: published,
	}, nil
}

var (
	metaArticlePublished = regexp.MustCompile(`(?i)<meta[^>]+property=["']article:published_time["'][^>]+content=["']([^"']+)["']`)
	metaDate             = regexp.MustCompile(`(?i)<meta[^>]+name=["']date["'][^>]+content=["']([^"']+)["']`)
	timeDatetime         = regexp.MustCompile(`(?i)<time[^>]+datetime=["']([^"']+)["']`)
)

// extractPublishedDate scans the raw HTML for a publication date in one of
// three well-known locations, in priority order.
func extractPublishedDate(body []byte) time.Time {
	for _, re := range []*regexp.Regexp{metaArticlePublished, metaDate, timeDatetime} {
		if m := re.FindSubmatch(body); m != nil {
			if t, err := time.Parse(time.RFC3339, string(m[1])); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

var postalRe = regexp.MustCompile(`,\s*([A-Z]{2})\b|\(([A-Z]{2})\)|\b([A-Z]{2})\s*\d{5}\b`)

var otherStateNames = []string{
	"alabama", "alaska", "arizona", "arkansas", "california", "colorado", "connecticut",
	"delaware", "florida", "georgia", "hawaii", "idaho", "illinois", "indiana", "iowa",
	"kansas", "kentucky", "louisiana", "maine", "maryland", "michigan", "minnesota",
	"mississippi", "missouri", "montana", "nebraska", "nevada", "new mexico", "new york",
	"north carolina", "north dakota", "ohio", "oklahoma", "oregon", "pennsylvania",
	"rhode island", "south carolina", "south dakota", "tennessee", "texas", "utah",
	"vermont", "virginia", "washington", "west virginia", "wisconsin", "wyoming",
}

// strictScopeCategories require the content to reference the tenant's own
// locality; other categories tolerate the broader metro area.
var strictScopeCategories = map[store.ContentCategory]bool{
	store.CategoryGovernment: true,
	store.CategorySafety:     true,
}

// passesGeographicFilter rejects content that appears to be about a distant
// place and does not mention the tenant's own locality or allowed
// neighboring localities (spec.md §4.9 "Geographic relevance filter").
func (c *Connector) passesGeographicFilter(text string) bool {
	if c.tenantLocality == "" {
		return true // no locality configured, cannot evaluate; default to pass
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, strings.ToLower(c.tenantLocality)) {
		return true
	}
	strict := strictScopeCategories[c.category]
	if !strict {
		for _, n := range c.neighboringLocalities {
			if strings.Contains(lower, strings.ToLower(n)) {
				return true
			}
		}
	}

	mentionsDistant := false
	for _, name := range otherStateNames {
		if strings.Contains(lower, name) {
			mentionsDistant = true
			break
		}
	}
	if !mentionsDistant && postalRe.MatchString(text) {
		mentionsDistant = true
	}
	return !mentionsDistant
}

// Normalize converts raw scraped items into ContentItems, hashing on URL.
func (c *Connector) Normalize(items []connectors.RawItem) []store.ContentItem {
	out := make([]store.ContentItem, 0, len(items))
	for _, it := range items {
		out = append(out, store.ContentItem{
			TenantID:    c.tenantID,
			SourceID:    c.id,
			Category:    c.category,
			Title:       it.Title,
			Content:     it.Content,
			Summary:     it.Summary,
			PublishedAt: it.PublishedAt,
			URL:         it.Link,
			ContentHash: connectors.ContentHash(it.Link),
		})
	}
	return out
}
