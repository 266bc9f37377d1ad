// Package ical implements the iCal connector variant (C9): fetching a
// .ics feed, splitting on VEVENT blocks, and filtering to events within a
// configurable look-ahead window (spec.md §4.9 "iCal").
package ical

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/townhall-civic/rag/internal/connectors"
	"github.com/townhall-civic/rag/internal/store"
)

const fetchTimeout = 30 * time.Second

// Connector is the iCal connector.
type Connector struct {
	id, tenantID string
	category     store.ContentCategory
	feedURL      string
	shouldEmbed  bool
	daysAhead    int
	client       *http.Client
	now          func() time.Time
}

// New constructs an iCal connector. daysAhead defaults to 90 when <= 0.
func New(id, tenantID, feedURL string, category store.ContentCategory, shouldEmbed bool, daysAhead int) *Connector {
	if daysAhead <= 0 {
		daysAhead = 90
	}
	return &Connector{id: id, tenantID: tenantID, category: category, feedURL: feedURL, shouldEmbed: shouldEmbed, daysAhead: daysAhead, client: &http.Client{Timeout: fetchTimeout}, now: time.Now}
}

func (c *Connector) ID() string                      { return c.id }
func (c *Connector) Type() store.ConnectorType        { return store.ConnectorICal }
func (c *Connector) Category() store.ContentCategory { return c.category }
func (c *Connector) TenantID() string                { return c.tenantID }
func (c *Connector) ShouldEmbed() bool                { return c.shouldEmbed }

// Fetch retrieves the feed and parses it into RawItems, already filtered to
// the [now, now+daysAhead] window.
func (c *Connector) Fetch(ctx context.Context) ([]connectors.RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ical: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ical: fetch %s: %w", c.feedURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ical: fetch %s: status %d", c.feedURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("ical: read body: %w", err)
	}

	events := parseEvents(unfoldLines(string(body)))
	now := c.now()
	horizon := now.AddDate(0, 0, c.daysAhead)

	var out []connectors.RawItem
	for _, e := range events {
		if e.dtstart.IsZero() {
			continue
		}
		if e.dtstart.Before(now) || e.dtstart.After(horizon) {
			continue
		}
		out = append(out, connectors.RawItem{
			Title:       e.summary,
			Link:        e.url,
			Summary:     e.location,
			Content:     e.description,
			PublishedAt: e.dtstart,
			UID:         e.uid,
			Extra:       map[string]string{"location": e.location, "dtend": e.dtend.Format(time.RFC3339)},
		})
	}
	return out, nil
}

type vevent struct {
	uid, summary, description, location, url string
	dtstart, dtend                            time.Time
}

// unfoldLines joins RFC 5545 folded lines (a continuation line starts with a
// single space or tab) into single logical lines.
func unfoldLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	rawLines := strings.Split(raw, "\n")
	var out []string
	for _, line := range rawLines {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(out) > 0 {
			out[len(out)-1] += line[1:]
			continue
		}
		out = append(out, line)
	}
	return out
}

func parseEvents(lines []string) []vevent {
	var events []vevent
	var cur *vevent
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "BEGIN:VEVENT":
			cur = &vevent{}
			continue
		case trimmed == "END:VEVENT":
			if cur != nil {
				events = append(events, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			continue
		}
		key, value, ok := splitProperty(trimmed)
		if !ok {
			continue
		}
		value = unescapeText(value)
		switch key {
		case "UID":
			cur.uid = value
		case "SUMMARY":
			cur.summary = value
		case "DESCRIPTION":
			cur.description = value
		case "LOCATION":
			cur.location = value
		case "URL":
			cur.url = value
		case "DTSTART":
			cur.dtstart = parseICalTime(value)
		case "DTEND":
			cur.dtend = parseICalTime(value)
		}
	}
	for i := range events {
		if events[i].uid == "" {
			events[i].uid = events[i].summary + "|" + events[i].dtstart.Format(time.RFC3339)
		}
	}
	return events
}

// splitProperty splits a "NAME;PARAM=x:VALUE" line into its bare property
// name and value, discarding parameters (e.g. TZID).
func splitProperty(line string) (key, value string, ok bool) {
	colon := strings.IndexByte(line, ':')
	if colon == -1 {
		return "", "", false
	}
	head := line[:colon]
	value = line[colon+1:]
	if semi := strings.IndexByte(head, ';'); semi != -1 {
		head = head[:semi]
	}
	return strings.ToUpper(strings.TrimSpace(head)), value, true
}

func unescapeText(s string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return replacer.Replace(s)
}

var icalLayouts = []string{"20060102T150405Z", "20060102T150405", "20060102"}

func parseICalTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range icalLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Normalize converts raw events into ContentItems, hashing on UID (falling
// back to summary+start already folded into UID by parseEvents).
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
			ContentHash: connectors.ContentHash(it.UID),
		})
	}
	return out
}
