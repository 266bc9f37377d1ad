package hybridsearch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/townhall-civic/rag/internal/embedclient"
	"github.com/townhall-civic/rag/internal/router"
	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/vectorindex"
)

// fixedEmbed returns a unit vector keyed only by the first input, so that
// every call (question or rewritten query) maps deterministically onto one
// of a handful of test fixtures instead of hitting a network call.
func fixedEmbed(vectors map[string][]float32) embedclient.EmbedFunc {
	return func(_ context.Context, inputs []string) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i, in := range inputs {
			if v, ok := vectors[in]; ok {
				out[i] = v
			} else {
				out[i] = []float32{0, 0, 1}
			}
		}
		return out, nil
	}
}

func TestSearch_EmptyQuestionReturnsEmptyWithoutEmbedding(t *testing.T) {
	called := false
	embed := embedclient.NewWithFunc(func(ctx context.Context, inputs []string) ([][]float32, error) {
		called = true
		return nil, nil
	}, 3, 10, nil)

	s := &Searcher{Embed: embed, Index: vectorindex.NewMemory(), Store: store.NewMemoryStore(), Log: zerolog.Nop()}
	res, err := s.Search(context.Background(), Request{TenantID: "t1", Question: "   "})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.False(t, called)
}

func TestSearch_RanksAndDedupsByURL(t *testing.T) {
	ctx := context.Background()
	embed := embedclient.NewWithFunc(fixedEmbed(map[string][]float32{
		"trash pickup schedule": {1, 0, 0},
	}), 3, 10, nil)

	idx := vectorindex.NewMemory()
	require.NoError(t, idx.Upsert(ctx, "chunks", "c1", []float32{1, 0, 0}, map[string]string{"tenant_id": "t1"}))
	require.NoError(t, idx.Upsert(ctx, "chunks", "c2", []float32{0.9, 0.1, 0}, map[string]string{"tenant_id": "t1"}))
	require.NoError(t, idx.Upsert(ctx, "chunks", "c3", []float32{0, 1, 0}, map[string]string{"tenant_id": "t1"})) // below similarity floor

	st := store.NewMemoryStore()
	require.NoError(t, st.InsertChunk(ctx, store.Chunk{
		ID: "c1", TenantID: "t1", DocumentID: "d1", ChunkIndex: 0,
		ChunkText: "trash pickup is every Tuesday",
		Metadata:  store.ChunkMetadata{DocumentTitle: "Sanitation", DocumentURL: "https://town.gov/sanitation", Date: time.Now()},
	}))
	// c2 shares the same document URL as c1 but scores lower -> should be deduped away.
	require.NoError(t, st.InsertChunk(ctx, store.Chunk{
		ID: "c2", TenantID: "t1", DocumentID: "d1", ChunkIndex: 1,
		ChunkText: "trash pickup schedule details",
		Metadata:  store.ChunkMetadata{DocumentTitle: "Sanitation", DocumentURL: "https://town.gov/sanitation", Date: time.Now()},
	}))
	require.NoError(t, st.InsertChunk(ctx, store.Chunk{
		ID: "c3", TenantID: "t1", DocumentID: "d2", ChunkIndex: 0,
		ChunkText: "unrelated zoning ordinance",
		Metadata:  store.ChunkMetadata{DocumentTitle: "Zoning", DocumentURL: "https://town.gov/zoning"},
	}))

	s := &Searcher{Embed: embed, Index: idx, Store: st, Log: zerolog.Nop(), MinSimilarity: 0.30, ContentNamespaceFrac: 0.5}
	res, err := s.Search(ctx, Request{
		TenantID: "t1",
		Question: "trash pickup schedule",
		Config:   router.ConfigFor(router.IntentSchedule),
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1, "c2 should be deduped against c1 by shared document URL, c3 filtered by similarity floor")
	assert.Equal(t, "https://town.gov/sanitation", res.Chunks[0].URL)
	assert.Equal(t, "S1", res.Chunks[0].SourceID)
}

func TestSearch_TruncatesToLimit(t *testing.T) {
	ctx := context.Background()
	embed := embedclient.NewWithFunc(fixedEmbed(nil), 3, 10, nil)
	idx := vectorindex.NewMemory()
	st := store.NewMemoryStore()
	for i := 0; i < 5; i++ {
		id := "c" + string(rune('0'+i))
		require.NoError(t, idx.Upsert(ctx, "chunks", id, []float32{0, 0, 1}, map[string]string{"tenant_id": "t1"}))
		require.NoError(t, st.InsertChunk(ctx, store.Chunk{
			ID: id, TenantID: "t1", DocumentID: id, ChunkIndex: 0,
			ChunkText: "some civic information",
			Metadata:  store.ChunkMetadata{DocumentURL: "https://town.gov/" + id},
		}))
	}
	s := &Searcher{Embed: embed, Index: idx, Store: st, Log: zerolog.Nop(), MinSimilarity: 0.0}
	res, err := s.Search(ctx, Request{TenantID: "t1", Question: "anything", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 2)
}
