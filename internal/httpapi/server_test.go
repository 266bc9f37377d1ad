package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/townhall-civic/rag/internal/connectors"
	"github.com/townhall-civic/rag/internal/cron"
	"github.com/townhall-civic/rag/internal/embedclient"
	"github.com/townhall-civic/rag/internal/hybridsearch"
	"github.com/townhall-civic/rag/internal/ingestion"
	"github.com/townhall-civic/rag/internal/monitor"
	"github.com/townhall-civic/rag/internal/router"
	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/vectorindex"
)

type noopBuilder struct{}

func (noopBuilder) Build(store.SourceConfig) (connectors.Connector, error) { return nil, nil }

func newTestServer(t *testing.T) *Server {
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
	search := &hybridsearch.Searcher{Embed: embed, Index: idx, Store: st, Log: zerolog.Nop()}
	rtr := router.New(nil, "", zerolog.Nop())

	monitorRunner := monitor.New(st, st, zerolog.Nop())
	ingestRunner := ingestion.New(st, st, st, noopBuilder{}, embed, idx, zerolog.Nop())
	cronRunner := cron.New(monitorRunner, ingestRunner, zerolog.Nop())

	return NewServer(Deps{
		Router: rtr, Search: search, Store: st, Cron: cronRunner,
		CronBearerToken: "secret-token", Log: zerolog.Nop(),
	})
}

func TestHandleSearch_EmptyQueryReturnsEmptyResults(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(searchRequest{Query: "", TenantID: "t1"})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestHandleSearch_InvalidJSONReturnsBadRequest(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader([]byte("{invalid")))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleContentList_DefaultsTenantAndPagination(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/content", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp contentListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 20, resp.Limit)
	assert.Equal(t, 0, resp.Offset)
}

func TestHandleCron_MissingBearerTokenIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/cron", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCron_ValidBearerTokenRunsCompositeJob(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/cron", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp cronResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Steps)
}

func TestAuthorizedCron_RejectsWrongToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/cron", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	assert.False(t, s.authorizedCron(req))
}

func TestSnippetFor_TruncatesAtWordBoundaryWithEllipsis(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "word "
	}
	snippet := snippetFor(long)
	assert.True(t, len(snippet) <= searchSnippetLen+4)
	assert.Contains(t, snippet, "...")
}

func TestSnippetFor_ShortTextIsUnchanged(t *testing.T) {
	assert.Equal(t, "short text", snippetFor("short text"))
}

func TestAtoiDefault_FallsBackOnEmptyOrInvalid(t *testing.T) {
	assert.Equal(t, 20, atoiDefault("", 20))
	assert.Equal(t, 20, atoiDefault("not-a-number", 20))
	assert.Equal(t, 5, atoiDefault("5", 20))
}
