package router

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/llmchat"
)

// RoutedQuery is one fully-resolved retrieval plan: the text to embed and
// search with, plus the RetrievalConfig that governs hybrid search tuning.
type RoutedQuery struct {
	Query      string
	Intent     Intent
	SourceHint string
	Config     RetrievalConfig
}

// Router ties together synonym expansion (always applied, deterministic),
// best-effort LLM rewrite, and best-effort LLM decomposition, then resolves
// each resulting sub-query against the static intent -> RetrievalConfig
// table.
type Router struct {
	Provider      llmchat.Provider
	RewriteModel  string
	Synonyms      SynonymDict
	Log           zerolog.Logger
}

// New constructs a Router with the default universal synonym dictionary.
func New(provider llmchat.Provider, rewriteModel string, log zerolog.Logger) *Router {
	return &Router{
		Provider:     provider,
		RewriteModel: rewriteModel,
		Synonyms:     SynonymDict{Universal: DefaultUniversal},
		Log:          log,
	}
}

// Route expands, rewrites, and decomposes a raw user question into one or
// more routed sub-queries ready for hybrid search.
func (r *Router) Route(ctx context.Context, rawQuery, tenantID string, history []llmchat.Message) []RoutedQuery {
	expanded := r.Synonyms.Expand(rawQuery, tenantID)
	rewritten := Rewrite(ctx, r.Provider, r.RewriteModel, expanded, history, r.Log)
	subQueries := Decompose(ctx, r.Provider, r.RewriteModel, rewritten, r.Log)

	routed := make([]RoutedQuery, 0, len(subQueries))
	for _, sq := range subQueries {
		routed = append(routed, RoutedQuery{
			Query:      sq.Query,
			Intent:     sq.Intent,
			SourceHint: sq.SourceHint,
			Config:     ConfigFor(sq.Intent),
		})
	}
	return routed
}
