// Package registry instantiates concrete connectors (C9) from a
// SourceConfig, selected by connector_type alone; the subtype does not
// choose an implementation and appears only in the error for types that
// have none.
package registry

import (
	"fmt"

	"github.com/townhall-civic/rag/internal/connectors"
	"github.com/townhall-civic/rag/internal/connectors/ical"
	"github.com/townhall-civic/rag/internal/connectors/rss"
	"github.com/townhall-civic/rag/internal/connectors/scrape"
	"github.com/townhall-civic/rag/internal/store"
)

// TenantLocality resolves the tenant-scoped locality names the generic
// scraper's geographic filter needs; the registry doesn't own tenant
// configuration, so it depends on this narrow lookup instead.
type TenantLocality interface {
	Locality(tenantID string) (name string, neighbors []string)
}

// Registry builds a connectors.Connector for a given SourceConfig.
type Registry struct {
	Locality TenantLocality
}

// New constructs a Registry.
func New(locality TenantLocality) *Registry {
	return &Registry{Locality: locality}
}

// Build instantiates the concrete connector for cfg. Unknown connector types,
// types without an implementation, a missing feed_url or listing_url and an
// invalid url_filter return an error so the ingestion runner can isolate the
// failure to this one source. A days_ahead or max_pages value that does not
// parse as an integer is left at 0 without an error.
func (r *Registry) Build(cfg store.SourceConfig) (connectors.Connector, error) {
	switch cfg.ConnectorType {
	case store.ConnectorRSS:
		feedURL := cfg.Config["feed_url"]
		if feedURL == "" {
			return nil, fmt.Errorf("registry: source %s: rss connector requires config[feed_url]", cfg.ID)
		}
		return rss.New(cfg.ID, cfg.TenantID, feedURL, cfg.Category, cfg.ShouldEmbed), nil

	case store.ConnectorICal:
		feedURL := cfg.Config["feed_url"]
		if feedURL == "" {
			return nil, fmt.Errorf("registry: source %s: ical connector requires config[feed_url]", cfg.ID)
		}
		daysAhead := 0
		if v, ok := cfg.Config["days_ahead"]; ok {
			fmt.Sscanf(v, "%d", &daysAhead)
		}
		return ical.New(cfg.ID, cfg.TenantID, feedURL, cfg.Category, cfg.ShouldEmbed, daysAhead), nil

	case store.ConnectorScrape:
		listingURL := cfg.Config["listing_url"]
		if listingURL == "" {
			return nil, fmt.Errorf("registry: source %s: scrape connector requires config[listing_url]", cfg.ID)
		}
		maxPages := 0
		if v, ok := cfg.Config["max_pages"]; ok {
			fmt.Sscanf(v, "%d", &maxPages)
		}
		locality, neighbors := "", []string(nil)
		if r.Locality != nil {
			locality, neighbors = r.Locality.Locality(cfg.TenantID)
		}
		return scrape.New(scrape.Config{
			ID: cfg.ID, TenantID: cfg.TenantID, Category: cfg.Category,
			ListingURL: listingURL, URLFilter: cfg.Config["url_filter"],
			MaxPages: maxPages, ShouldEmbed: cfg.ShouldEmbed,
			TenantLocality: locality, NeighboringLocalities: neighbors,
		})

	case store.ConnectorAPI, store.ConnectorPDF:
		return nil, fmt.Errorf("registry: source %s: connector type %q:%q has no registered implementation", cfg.ID, cfg.ConnectorType, cfg.Subtype)

	default:
		return nil, fmt.Errorf("registry: source %s: unknown connector_type %q", cfg.ID, cfg.ConnectorType)
	}
}
