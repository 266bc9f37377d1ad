package composer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/townhall-civic/rag/internal/hybridsearch"
	"github.com/townhall-civic/rag/internal/llmchat"
	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/usage"
)

type recordedEvent struct {
	name    string
	payload any
}

type recordingWriter struct {
	events []recordedEvent
}

func (w *recordingWriter) WriteEvent(event string, payload any) error {
	w.events = append(w.events, recordedEvent{name: event, payload: payload})
	return nil
}

func (w *recordingWriter) names() []string {
	out := make([]string, len(w.events))
	for i, e := range w.events {
		out[i] = e.name
	}
	return out
}

type fakeStreamProvider struct {
	reply string
}

func (f fakeStreamProvider) Chat(context.Context, string, []llmchat.Message) (string, error) {
	return f.reply, nil
}

func (f fakeStreamProvider) ChatStream(_ context.Context, _ string, _ []llmchat.Message, h llmchat.StreamHandler) error {
	h.OnDelta(f.reply)
	return nil
}

func TestCompose_CacheHitEmitsSyntheticStream(t *testing.T) {
	st := store.NewMemoryStore()
	key := CacheKey("t1", "transfer station hours")
	require.NoError(t, st.PutCachedAnswer(context.Background(), store.CachedAnswer{
		Key: key, Question: "transfer station hours", TenantID: "t1", Answer: "The transfer station is open 8-4.",
		Sources: []store.AttributedSource{{Title: "Public Works", URL: "https://town.gov/pw"}},
		StoredAt: time.Now(),
	}))
	c := &Composer{Provider: fakeStreamProvider{}, Model: "gpt-4o-mini", Store: st, Log: zerolog.Nop()}
	w := &recordingWriter{}
	err := c.Compose(context.Background(), Request{
		TenantID: "t1",
		Messages: []llmchat.Message{{Role: "user", Content: "transfer station hours"}},
	}, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"data-confidence", "data-sources", "data-response-id", "text-start", "text-delta", "text-end"}, w.names())
}

func TestCompose_EmptyRetrievalEmitsFallback(t *testing.T) {
	st := store.NewMemoryStore()
	c := &Composer{Provider: fakeStreamProvider{}, Model: "gpt-4o-mini", Store: st, Log: zerolog.Nop()}
	w := &recordingWriter{}
	err := c.Compose(context.Background(), Request{
		TenantID: "t1",
		Messages: []llmchat.Message{{Role: "user", Content: "something obscure"}},
		TenantPhone: "(555) 555-1234",
	}, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"data-confidence", "data-sources", "data-response-id", "text-start", "text-delta", "text-end"}, w.names())
	delta := w.events[4].payload.(map[string]string)
	assert.Contains(t, delta["delta"], "(555) 555-1234")
}

func TestCompose_LiveStreamParsesUsedSourcesAndEmitsFinalSources(t *testing.T) {
	st := store.NewMemoryStore()
	usageRecorder := usage.New(st, zerolog.Nop())
	c := &Composer{
		Provider: fakeStreamProvider{reply: "The dump is open Saturdays [S1].\nUSED_SOURCES: S1"},
		Model:    "gpt-4o-mini", Store: st, Usage: usageRecorder, Log: zerolog.Nop(),
	}
	w := &recordingWriter{}
	chunks := []hybridsearch.RetrievedChunk{
		{SourceID: "S1", Text: "the transfer station is open Saturdays 8-4", Title: "Public Works", URL: "https://town.gov/pw", SemanticScore: 0.9},
		{SourceID: "S2", Text: "unrelated zoning text", Title: "Zoning", URL: "https://town.gov/zoning", SemanticScore: 0.5},
	}
	err := c.Compose(context.Background(), Request{
		TenantID: "t1",
		Messages: []llmchat.Message{{Role: "user", Content: "when is the dump open"}},
		Chunks:   chunks,
	}, w)
	require.NoError(t, err)

	names := w.names()
	// confidence, sources(all), response-id, text-start, text-delta, text-end, sources(filtered)
	require.Equal(t, []string{"data-confidence", "data-sources", "data-response-id", "text-start", "text-delta", "text-end", "data-sources"}, names)

	finalSources := w.events[6].payload.([]Source)
	require.Len(t, finalSources, 1)
	assert.Equal(t, "S1", finalSources[0].SourceID)

	// Deltas are forwarded as the provider sent them; the marker is stripped
	// from the accumulated text, which is what the answer cache stores.
	key := CacheKey("t1", "when is the dump open")
	require.Eventually(t, func() bool {
		_, ok, _ := st.GetCachedAnswer(context.Background(), key)
		return ok
	}, time.Second, 10*time.Millisecond)
	cached, _, err := st.GetCachedAnswer(context.Background(), key)
	require.NoError(t, err)
	assert.NotContains(t, cached.Answer, "USED_SOURCES")
}

func TestParseUsedSources_NoneYieldsEmptyFilteredSources(t *testing.T) {
	all := []Source{{SourceID: "S1"}, {SourceID: "S2"}}
	cleaned, filtered := parseUsedSources("Sorry, I don't know.\nUSED_SOURCES: NONE", all)
	assert.NotContains(t, cleaned, "USED_SOURCES")
	assert.Equal(t, []Source{}, filtered)
}

func TestParseUsedSources_PreservesOriginalOrder(t *testing.T) {
	all := []Source{{SourceID: "S1"}, {SourceID: "S2"}, {SourceID: "S3"}}
	_, filtered := parseUsedSources("answer text\nUSED_SOURCES: S3, S1", all)
	require.Len(t, filtered, 2)
	assert.Equal(t, "S1", filtered[0].SourceID)
	assert.Equal(t, "S3", filtered[1].SourceID)
}

func TestParseUsedSources_MissingMarkerReturnsNilFiltered(t *testing.T) {
	_, filtered := parseUsedSources("just an answer with no marker", []Source{{SourceID: "S1"}})
	assert.Nil(t, filtered)
}
