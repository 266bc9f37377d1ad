package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/townhall-civic/rag/internal/store"
)

func TestRun_UnchangedETagNotReportedChanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "A")
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	require.NoError(t, s.UpsertDocument(context.Background(), store.Document{
		ID: "d1", TenantID: "T", URL: srv.URL, SourceType: store.SourceTypeHTML,
		Metadata: map[string]string{"etag": "A", "content_length": "100"},
		LastVerifiedAt: time.Now(),
	}))

	r := New(s, s, zerolog.Nop())
	res, err := r.Run(context.Background(), "T", "test")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Empty(t, res.Changed)
}

func TestRun_ChangedETagReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "B")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	require.NoError(t, s.UpsertDocument(context.Background(), store.Document{
		ID: "d1", TenantID: "T", URL: srv.URL, SourceType: store.SourceTypeHTML,
		Metadata: map[string]string{"etag": "A"},
	}))

	r := New(s, s, zerolog.Nop())
	res, err := r.Run(context.Background(), "T", "test")
	require.NoError(t, err)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, srv.URL, res.Changed[0])

	docs, err := s.ListDocuments(context.Background(), "T")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "B", docs[0].Metadata["etag"])
	assert.False(t, docs[0].LastVerifiedAt.IsZero())
}

func TestRun_StaleFlaggedOnPersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	old := time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, s.UpsertDocument(context.Background(), store.Document{
		ID: "d1", TenantID: "T", URL: srv.URL, SourceType: store.SourceTypeHTML,
		LastVerifiedAt: old,
	}))

	r := New(s, s, zerolog.Nop())
	r.StalenessHorizon = 90 * 24 * time.Hour
	res, err := r.Run(context.Background(), "T", "test")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)

	docs, err := s.ListDocuments(context.Background(), "T")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.True(t, docs[0].IsStale)
}
