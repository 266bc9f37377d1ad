package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store implementation used by tests and by
// small deployments that do not need durability.
type MemoryStore struct {
	mu sync.RWMutex

	documents map[string]Document // key: tenant|url
	chunks    map[string]Chunk    // key: id
	content   map[string]ContentItem
	dedup     map[string]string // key: tenant|source|hash -> content item id
	sources   map[string]SourceConfig
	answers   map[string]CachedAnswer
	logs      []IngestionLogEntry
	usage     []UsageRow
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Document),
		chunks:    make(map[string]Chunk),
		content:   make(map[string]ContentItem),
		dedup:     make(map[string]string),
		sources:   make(map[string]SourceConfig),
		answers:   make(map[string]CachedAnswer),
	}
}

func docKey(tenant, url string) string { return tenant + "|" + url }
func dedupKey(tenant, source, hash string) string { return tenant + "|" + source + "|" + hash }

func (m *MemoryStore) ListDocuments(_ context.Context, tenantID string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for _, d := range m.documents {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *MemoryStore) UpsertDocument(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[docKey(doc.TenantID, doc.URL)] = doc
	return nil
}

func (m *MemoryStore) GetChunksByIDs(_ context.Context, tenantID string, ids []string) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok && c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertChunk(_ context.Context, c Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[c.ID] = c
	return nil
}

func (m *MemoryStore) SiblingChunks(_ context.Context, tenantID, documentID string, aroundIndex, count int) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var siblings []Chunk
	for _, c := range m.chunks {
		if c.TenantID == tenantID && c.DocumentID == documentID && c.ChunkIndex != aroundIndex {
			siblings = append(siblings, c)
		}
	}
	sort.Slice(siblings, func(i, j int) bool {
		di := abs(siblings[i].ChunkIndex - aroundIndex)
		dj := abs(siblings[j].ChunkIndex - aroundIndex)
		if di != dj {
			return di < dj
		}
		return siblings[i].ChunkIndex < siblings[j].ChunkIndex
	})
	if len(siblings) > count {
		siblings = siblings[:count]
	}
	return siblings, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (m *MemoryStore) GetContentItemsByIDs(_ context.Context, tenantID string, ids []string) ([]ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ContentItem, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.content[id]; ok && c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertContentItem(_ context.Context, item ContentItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dedupKey(item.TenantID, item.SourceID, item.ContentHash)
	if _, exists := m.dedup[key]; exists {
		return false, nil
	}
	m.dedup[key] = item.ID
	m.content[item.ID] = item
	return true, nil
}

func (m *MemoryStore) ListContentItems(_ context.Context, q ContentItemQuery) ([]ContentItem, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []ContentItem
	now := time.Unix(q.NowUnix, 0)
	for _, c := range m.content {
		if c.TenantID != q.TenantID {
			continue
		}
		if q.Category != "" && string(c.Category) != q.Category {
			continue
		}
		if q.SourceID != "" && c.SourceID != q.SourceID {
			continue
		}
		if c.ExpiresAt != nil && q.NowUnix > 0 && c.ExpiresAt.Before(now) {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].PublishedAt.After(matched[j].PublishedAt) })
	total := len(matched)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) ListSourceConfigs(_ context.Context, tenantID string, schedule string, enabledOnly bool) ([]SourceConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SourceConfig
	for _, s := range m.sources {
		if tenantID != "" && s.TenantID != tenantID {
			continue
		}
		if schedule != "" && string(s.Schedule) != schedule {
			continue
		}
		if enabledOnly && !s.Enabled {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) RecordRunResult(_ context.Context, id string, lastFetchedAt int64, lastError string, errorCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil
	}
	s.LastFetchedAt = time.Unix(lastFetchedAt, 0)
	s.LastError = lastError
	s.ErrorCount = errorCount
	m.sources[id] = s
	return nil
}

// PutSourceConfig is a test/seed helper, not part of the Store interface.
func (m *MemoryStore) PutSourceConfig(s SourceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[s.ID] = s
}

func (m *MemoryStore) GetCachedAnswer(_ context.Context, key string) (CachedAnswer, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.answers[key]
	return a, ok, nil
}

func (m *MemoryStore) PutCachedAnswer(_ context.Context, a CachedAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[a.Key] = a
	return nil
}

func (m *MemoryStore) AppendIngestionLog(_ context.Context, e IngestionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e)
	return nil
}

func (m *MemoryStore) InsertUsageRow(_ context.Context, r UsageRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, r)
	return nil
}

// Logs and Usage expose recorded rows for assertions in tests.
func (m *MemoryStore) Logs() []IngestionLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]IngestionLogEntry, len(m.logs))
	copy(out, m.logs)
	return out
}

func (m *MemoryStore) UsageRows() []UsageRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UsageRow, len(m.usage))
	copy(out, m.usage)
	return out
}
