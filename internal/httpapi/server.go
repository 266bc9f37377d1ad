// Package httpapi exposes the service's external HTTP surface (spec.md §6):
// the streaming /answer endpoint, /search, /content listing, and the
// bearer-protected /cron scheduled entry point. Grounded on the teacher's
// internal/httpapi/server.go mux-based routing style.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/answerservice"
	"github.com/townhall-civic/rag/internal/composer"
	"github.com/townhall-civic/rag/internal/cron"
	"github.com/townhall-civic/rag/internal/hybridsearch"
	"github.com/townhall-civic/rag/internal/llmchat"
	"github.com/townhall-civic/rag/internal/router"
	"github.com/townhall-civic/rag/internal/store"
)

const (
	defaultTenant    = "default"
	maxSearchLimit   = 20
	searchSnippetLen = 300
)

// Server exposes the service's HTTP endpoints.
type Server struct {
	Answer          *answerservice.Service
	Router          *router.Router
	Search          *hybridsearch.Searcher
	Store           store.Store
	Cron            *cron.Runner
	CronBearerToken string
	Log             zerolog.Logger

	mux *http.ServeMux
}

// Deps is the fully-wired set of collaborators a Server needs.
type Deps struct {
	Answer          *answerservice.Service
	Router          *router.Router
	Search          *hybridsearch.Searcher
	Store           store.Store
	Cron            *cron.Runner
	CronBearerToken string
	Log             zerolog.Logger
}

// NewServer constructs a Server from deps and registers its routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		Answer: deps.Answer, Router: deps.Router, Search: deps.Search,
		Store: deps.Store, Cron: deps.Cron, CronBearerToken: deps.CronBearerToken, Log: deps.Log,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /answer", s.handleAnswer)
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("GET /content", s.handleContentList)
	s.mux.HandleFunc("GET /cron", s.handleCron)
	s.mux.HandleFunc("POST /cron", s.handleCron)
}

// --- /answer -----------------------------------------------------------

type answerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type answerRequest struct {
	Messages []answerMessage `json:"messages"`
	TenantID string          `json:"tenant_id"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must be non-empty", nil)
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = defaultTenant
	}

	msgs := make([]llmchat.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid message role %q", m.Role), nil)
			return
		}
		msgs = append(msgs, llmchat.Message{Role: m.Role, Content: m.Content})
	}

	writer := newSSEEventWriter(w)
	if err := s.Answer.Answer(r.Context(), tenantID, msgs, writer); err != nil {
		s.Log.Error().Err(err).Str("tenant_id", tenantID).Msg("httpapi: answer pipeline failed")
		// Headers are already committed once the stream starts; best effort
		// is to stop writing. A client reading a truncated stream observes
		// this as an early close, which is the degraded-dependency
		// behavior spec.md §7 calls for.
	}
}

// --- /search -------------------------------------------------------------

type searchRequest struct {
	Query    string `json:"query"`
	TenantID string `json:"tenant_id"`
	Limit    int    `json:"limit"`
}

// SearchResult is the projection of a RetrievedChunk surfaced to /search
// (spec.md §6).
type SearchResult struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	SourceURL  string   `json:"source_url"`
	Department string   `json:"department,omitempty"`
	Date       string   `json:"date,omitempty"`
	Similarity float64  `json:"similarity"`
	Highlights []string `json:"highlights"`
}

type cachedAnswerView struct {
	AnswerText string                   `json:"answer_text"`
	Sources    []store.AttributedSource `json:"sources"`
}

type searchResponse struct {
	Results       []SearchResult    `json:"results"`
	CachedAnswer  *cachedAnswerView `json:"cached_answer,omitempty"`
	TimingMS      int64             `json:"timing_ms"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeJSON(w, http.StatusOK, searchResponse{Results: []SearchResult{}, TimingMS: time.Since(start).Milliseconds()})
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = defaultTenant
	}
	limit := req.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	resp := searchResponse{}
	if cached, ok, err := s.Store.GetCachedAnswer(r.Context(), composer.CacheKey(tenantID, query)); err == nil && ok && !cached.Expired(time.Now()) {
		resp.CachedAnswer = &cachedAnswerView{AnswerText: cached.Answer, Sources: cached.Sources}
	}

	routed := s.Router.Route(r.Context(), query, tenantID, nil)
	cfg := router.ConfigFor(router.IntentFactual)
	if len(routed) > 0 {
		cfg = routed[0].Config
	}
	result, err := s.Search.Search(r.Context(), hybridsearch.Request{
		TenantID: tenantID, Question: query, Config: cfg, Limit: limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed", err)
		return
	}

	resp.Results = make([]SearchResult, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		date := ""
		if !c.Date.IsZero() {
			date = c.Date.Format(time.RFC3339)
		}
		resp.Results = append(resp.Results, SearchResult{
			ID: c.SourceID, Title: c.Title, Snippet: snippetFor(c.Text),
			SourceURL: c.URL, Date: date, Similarity: c.SemanticScore,
			Highlights: []string{},
		})
	}
	resp.TimingMS = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

// --- /content --------------------------------------------------------------

type contentListResponse struct {
	Items   []store.ContentItem `json:"items"`
	Total   int                  `json:"total"`
	HasMore bool                 `json:"hasMore"`
	Offset  int                  `json:"offset"`
	Limit   int                  `json:"limit"`
}

func (s *Server) handleContentList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenant")
	if tenantID == "" {
		tenantID = defaultTenant
	}
	limit := atoiDefault(q.Get("limit"), 20)
	offset := atoiDefault(q.Get("offset"), 0)

	items, total, err := s.Store.ListContentItems(r.Context(), store.ContentItemQuery{
		TenantID: tenantID, Category: q.Get("category"), SourceID: q.Get("source"),
		Limit: limit, Offset: offset, NowUnix: time.Now().Unix(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "content listing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, contentListResponse{
		Items: items, Total: total, HasMore: offset+len(items) < total, Offset: offset, Limit: limit,
	})
}

// --- /cron -------------------------------------------------------------

type cronStepView struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
	Error      string `json:"error,omitempty"`
}

type cronResponse struct {
	MonitorChecked int            `json:"monitor_checked"`
	MonitorChanged []string       `json:"monitor_changed"`
	IngestResults  any            `json:"ingest_results"`
	Steps          []cronStepView `json:"steps"`
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedCron(r) {
		writeError(w, http.StatusUnauthorized, "missing or invalid bearer token", nil)
		return
	}
	if s.Cron == nil {
		writeError(w, http.StatusInternalServerError, "cron runner not configured", nil)
		return
	}
	tenantID := r.URL.Query().Get("tenant")
	force := r.URL.Query().Get("force") == "true"

	result := s.Cron.Run(r.Context(), cron.Options{TenantID: tenantID, TriggeredBy: "http_cron", Force: force})

	steps := make([]cronStepView, 0, len(result.Steps))
	for _, st := range result.Steps {
		errMsg := ""
		if st.Err != nil {
			errMsg = st.Err.Error()
		}
		steps = append(steps, cronStepView{Name: st.Name, DurationMS: st.DurationMS, TimedOut: st.TimedOut, Error: errMsg})
	}
	writeJSON(w, http.StatusOK, cronResponse{
		MonitorChecked: result.Monitor.Checked,
		MonitorChanged: result.Monitor.Changed,
		IngestResults:  result.Ingest,
		Steps:          steps,
	})
}

func (s *Server) authorizedCron(r *http.Request) bool {
	if s.CronBearerToken == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return strings.TrimPrefix(auth, prefix) == s.CronBearerToken
}

// --- shared helpers ------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": message, "details": details})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// snippetFor truncates text to roughly searchSnippetLen characters, ending
// at a word boundary with an ellipsis when truncated (spec.md §6).
func snippetFor(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= searchSnippetLen {
		return text
	}
	cut := text[:searchSnippetLen]
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \n\t") + "..."
}
