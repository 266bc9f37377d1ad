// Package connectors defines the polymorphic connector contract (C9): each
// concrete connector fetches raw items from a remote source and normalizes
// them into ContentItems with a deterministic content hash (spec.md §4.9).
package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/townhall-civic/rag/internal/store"
)

// RawItem is an unnormalized item as fetched from a remote source, before
// normalize() runs.
type RawItem struct {
	Title       string
	Link        string
	Summary     string
	Content     string
	PublishedAt time.Time
	UID         string // iCal UID or any other source-native identifier
	ImageURL    string
	Extra       map[string]string
}

// Connector is the shared contract every concrete source type implements.
type Connector interface {
	ID() string
	Type() store.ConnectorType
	Category() store.ContentCategory
	TenantID() string
	ShouldEmbed() bool
	Fetch(ctx context.Context) ([]RawItem, error)
	Normalize(items []RawItem) []store.ContentItem
}

// ContentHash computes the deterministic SHA-256 dedup hash used across all
// connector variants (spec.md §4.9 per-variant hash inputs).
func ContentHash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
