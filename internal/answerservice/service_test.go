package answerservice

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/townhall-civic/rag/internal/composer"
	"github.com/townhall-civic/rag/internal/embedclient"
	"github.com/townhall-civic/rag/internal/hybridsearch"
	"github.com/townhall-civic/rag/internal/llmchat"
	"github.com/townhall-civic/rag/internal/router"
	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/vectorindex"
)

type fakeReplyProvider struct {
	reply string
}

func (f fakeReplyProvider) Chat(context.Context, string, []llmchat.Message) (string, error) {
	return f.reply, nil
}

func (f fakeReplyProvider) ChatStream(_ context.Context, _ string, _ []llmchat.Message, h llmchat.StreamHandler) error {
	h.OnDelta(f.reply)
	return nil
}

type recordingWriter struct {
	events []string
}

func (w *recordingWriter) WriteEvent(event string, _ any) error {
	w.events = append(w.events, event)
	return nil
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	idx := vectorindex.NewMemory()
	embed := embedclient.NewWithFunc(func(_ context.Context, inputs []string) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i := range inputs {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	}, 3, 10, nil)

	require.NoError(t, idx.Upsert(context.Background(), "chunks", "c1", []float32{1, 0, 0}, map[string]string{"tenant_id": "t1"}))
	require.NoError(t, st.InsertChunk(context.Background(), store.Chunk{
		ID: "c1", TenantID: "t1", DocumentID: "d1", ChunkIndex: 0,
		ChunkText: "The transfer station is open Saturdays 8 to 4.",
		Metadata:  store.ChunkMetadata{DocumentTitle: "Public Works", DocumentURL: "https://town.gov/pw"},
	}))

	search := &hybridsearch.Searcher{Embed: embed, Index: idx, Store: st, Log: zerolog.Nop()}
	rtr := router.New(nil, "", zerolog.Nop())
	compose := &composer.Composer{Provider: fakeReplyProvider{reply: "The dump is open Saturdays [S1].\nUSED_SOURCES: S1"}, Model: "m", Store: st, Log: zerolog.Nop()}

	return &Service{Router: rtr, Search: search, Compose: compose, Log: zerolog.Nop(), DefaultMatchCount: 10}, st
}

func TestAnswer_EmptyQuestionSkipsRetrievalAndStillComposes(t *testing.T) {
	svc, _ := newTestService(t)
	w := &recordingWriter{}
	err := svc.Answer(context.Background(), "t1", []llmchat.Message{{Role: "user", Content: "   "}}, w)
	require.NoError(t, err)
	assert.Contains(t, w.events, "text-end")
}

func TestAnswer_RunsFullPipelineAndStreamsComposedAnswer(t *testing.T) {
	svc, _ := newTestService(t)
	w := &recordingWriter{}
	err := svc.Answer(context.Background(), "t1", []llmchat.Message{{Role: "user", Content: "when is the transfer station open"}}, w)
	require.NoError(t, err)
	assert.Contains(t, w.events, "text-delta")
	assert.Contains(t, w.events, "text-end")
}

func TestAnswer_RetrievalFailureFallsBackToEmptyContext(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Search.Index = brokenIndex{}
	w := &recordingWriter{}
	err := svc.Answer(context.Background(), "t1", []llmchat.Message{{Role: "user", Content: "when is the transfer station open"}}, w)
	require.NoError(t, err)
	assert.Contains(t, w.events, "text-end")
}

type brokenIndex struct{}

func (brokenIndex) Query(context.Context, string, []float32, int, map[string]string) ([]vectorindex.Match, error) {
	return nil, assertErr{}
}
func (brokenIndex) Upsert(context.Context, string, string, []float32, map[string]string) error { return nil }
func (brokenIndex) Delete(context.Context, string, string) error                               { return nil }

type assertErr struct{}

func (assertErr) Error() string { return "index unavailable" }

func TestDedupAndResynthesize_KeepsHighestScorePerURLAndReassignsSourceIDs(t *testing.T) {
	chunks := []hybridsearch.RetrievedChunk{
		{URL: "https://town.gov/a", Score: 0.5, SourceID: "S1"},
		{URL: "https://town.gov/a", Score: 0.9, SourceID: "S2"},
		{URL: "https://town.gov/b", Score: 0.7, SourceID: "S3"},
	}
	out := dedupAndResynthesize(chunks, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "https://town.gov/a", out[0].URL)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, "S1", out[0].SourceID)
	assert.Equal(t, "S2", out[1].SourceID)
}

func TestDedupAndResynthesize_TruncatesToLimit(t *testing.T) {
	chunks := []hybridsearch.RetrievedChunk{
		{URL: "https://town.gov/a", Score: 0.9},
		{URL: "https://town.gov/b", Score: 0.8},
		{URL: "https://town.gov/c", Score: 0.7},
	}
	out := dedupAndResynthesize(chunks, 2)
	assert.Len(t, out, 2)
}

func TestLastUserMessage_ReturnsMostRecentUserTurn(t *testing.T) {
	msgs := []llmchat.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	assert.Equal(t, "second", lastUserMessage(msgs))
}
