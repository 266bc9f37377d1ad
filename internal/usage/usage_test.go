package usage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/townhall-civic/rag/internal/store"
)

func TestRecord_ComputesCostFromPriceMap(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, zerolog.Nop())
	r.rand = func() float64 { return 1.0 } // never sampled out for non-embed endpoints, irrelevant here

	r.Record(context.Background(), Call{TenantID: "t1", Endpoint: "answer", Model: "gpt-4o-mini", PromptTokens: 1_000_000, CompletionTokens: 1_000_000})

	rows := st.UsageRows()
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.75, rows[0].EstimatedCostUSD, 0.0001)
	assert.Equal(t, 2_000_000, rows[0].TotalTokens)
}

func TestRecord_SamplesEmbedCalls(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, zerolog.Nop())
	r.EmbedSampleRate = 0.5
	r.rand = func() float64 { return 0.9 } // above rate -> dropped
	r.Record(context.Background(), Call{TenantID: "t1", Endpoint: "embed", Model: "text-embedding-3-small", PromptTokens: 10})
	assert.Empty(t, st.UsageRows())

	r.rand = func() float64 { return 0.1 } // below rate -> recorded
	r.Record(context.Background(), Call{TenantID: "t1", Endpoint: "embed", Model: "text-embedding-3-small", PromptTokens: 10})
	assert.Len(t, st.UsageRows(), 1)
}

func TestRecord_UnlistedModelCostsZeroButStillRecorded(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, zerolog.Nop())
	r.Record(context.Background(), Call{TenantID: "t1", Endpoint: "answer", Model: "unknown-model", PromptTokens: 100, CompletionTokens: 50})
	rows := st.UsageRows()
	require.Len(t, rows, 1)
	assert.Equal(t, 0.0, rows[0].EstimatedCostUSD)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 5, EstimateTokens("twenty characters!!!"))
}
