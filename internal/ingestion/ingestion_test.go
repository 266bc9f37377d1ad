package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/townhall-civic/rag/internal/cache"
	"github.com/townhall-civic/rag/internal/connectors"
	"github.com/townhall-civic/rag/internal/embedclient"
	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/vectorindex"
)

// fakeConnector yields a fixed set of raw items and normalizes them
// deterministically, so the same input always hashes the same way across
// two runs (idempotence, spec.md §8).
type fakeConnector struct {
	id, tenantID string
	category     store.ContentCategory
	shouldEmbed  bool
	items        []connectors.RawItem
	fetchErr     error
}

func (f *fakeConnector) ID() string                      { return f.id }
func (f *fakeConnector) Type() store.ConnectorType        { return store.ConnectorRSS }
func (f *fakeConnector) Category() store.ContentCategory { return f.category }
func (f *fakeConnector) TenantID() string                { return f.tenantID }
func (f *fakeConnector) ShouldEmbed() bool                { return f.shouldEmbed }
func (f *fakeConnector) Fetch(context.Context) ([]connectors.RawItem, error) {
	return f.items, f.fetchErr
}
func (f *fakeConnector) Normalize(items []connectors.RawItem) []store.ContentItem {
	out := make([]store.ContentItem, 0, len(items))
	for _, it := range items {
		out = append(out, store.ContentItem{
			TenantID:    f.tenantID,
			SourceID:    f.id,
			Category:    f.category,
			Title:       it.Title,
			Content:     it.Content,
			URL:         it.Link,
			ContentHash: connectors.ContentHash(it.Link),
		})
	}
	return out
}

type fakeBuilder struct {
	conn connectors.Connector
	err  error
}

func (b fakeBuilder) Build(store.SourceConfig) (connectors.Connector, error) { return b.conn, b.err }

func threeItems() []connectors.RawItem {
	return []connectors.RawItem{
		{Title: "A", Link: "https://town.example/a"},
		{Title: "B", Link: "https://town.example/b"},
		{Title: "C", Link: "https://town.example/c"},
	}
}

func newTestRunner(conn connectors.Connector, s *store.MemoryStore) *Runner {
	embed := embedclient.NewWithFunc(func(_ context.Context, inputs []string) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i := range inputs {
			out[i] = []float32{0.1, 0.2, 0.3}
		}
		return out, nil
	}, 3, 10, cache.New(100, time.Minute))
	return New(s, s, s, fakeBuilder{conn: conn}, embed, vectorindex.NewMemory(), zerolog.Nop())
}

func TestRunConnectors_IngestionIdempotence(t *testing.T) {
	s := store.NewMemoryStore()
	s.PutSourceConfig(store.SourceConfig{
		ID: "src1", TenantID: "T", ConnectorType: store.ConnectorRSS,
		Category: store.CategoryNews, Schedule: store.ScheduleDaily, Enabled: true, ShouldEmbed: true,
	})
	conn := &fakeConnector{id: "src1", tenantID: "T", category: store.CategoryNews, shouldEmbed: true, items: threeItems()}
	r := newTestRunner(conn, s)

	first := r.RunConnectors(context.Background(), Options{TenantID: "T", Force: true})
	require.Len(t, first, 1)
	assert.Equal(t, 3, first[0].ItemsFound)
	assert.Equal(t, 3, first[0].ItemsUpserted)
	assert.Equal(t, 0, first[0].ItemsSkipped)

	second := r.RunConnectors(context.Background(), Options{TenantID: "T", Force: true})
	require.Len(t, second, 1)
	assert.Equal(t, 3, second[0].ItemsFound)
	assert.Equal(t, 0, second[0].ItemsUpserted)
	assert.Equal(t, 3, second[0].ItemsSkipped)
}

func TestRunConnectors_SchedulerGating(t *testing.T) {
	s := store.NewMemoryStore()
	s.PutSourceConfig(store.SourceConfig{
		ID: "src1", TenantID: "T", ConnectorType: store.ConnectorRSS,
		Category: store.CategoryNews, Schedule: store.ScheduleHourly, Enabled: true,
		LastFetchedAt: time.Now().Add(-2 * time.Minute),
	})
	called := false
	conn := &fakeConnector{id: "src1", tenantID: "T", items: threeItems()}
	builder := fetchTrackingBuilder{conn: conn, called: &called}
	r := New(s, s, s, builder, embedclient.NewWithFunc(func(context.Context, []string) ([][]float32, error) { return nil, nil }, 3, 10, nil), vectorindex.NewMemory(), zerolog.Nop())

	results := r.RunConnectors(context.Background(), Options{TenantID: "T", Force: false})
	assert.Empty(t, results)
	assert.False(t, called, "connector should not be instantiated when not due")
}

type fetchTrackingBuilder struct {
	conn   connectors.Connector
	called *bool
}

func (b fetchTrackingBuilder) Build(store.SourceConfig) (connectors.Connector, error) {
	*b.called = true
	return b.conn, nil
}

func TestRunConnectors_ConnectorFailureIsolated(t *testing.T) {
	s := store.NewMemoryStore()
	s.PutSourceConfig(store.SourceConfig{ID: "bad", TenantID: "T", ConnectorType: store.ConnectorRSS, Schedule: store.ScheduleDaily, Enabled: true})
	s.PutSourceConfig(store.SourceConfig{ID: "good", TenantID: "T", ConnectorType: store.ConnectorRSS, Schedule: store.ScheduleDaily, Enabled: true})

	conns := map[string]connectors.Connector{
		"bad":  &fakeConnector{id: "bad", tenantID: "T"},
		"good": &fakeConnector{id: "good", tenantID: "T", items: threeItems()},
	}
	badConn := conns["bad"].(*fakeConnector)
	badConn.fetchErr = assert.AnError

	builder := multiBuilder{conns: conns}
	r := New(s, s, s, builder, embedclient.NewWithFunc(func(context.Context, []string) ([][]float32, error) { return nil, nil }, 3, 10, nil), vectorindex.NewMemory(), zerolog.Nop())

	results := r.RunConnectors(context.Background(), Options{TenantID: "T", Force: true})
	require.Len(t, results, 2)

	byID := map[string]ConnectorResult{}
	for _, res := range results {
		byID[res.ID] = res
	}
	assert.NotEmpty(t, byID["bad"].Errors)
	assert.Empty(t, byID["good"].Errors)
	assert.Equal(t, 3, byID["good"].ItemsUpserted)
}

type multiBuilder struct {
	conns map[string]connectors.Connector
}

func (b multiBuilder) Build(cfg store.SourceConfig) (connectors.Connector, error) {
	return b.conns[cfg.ID], nil
}
