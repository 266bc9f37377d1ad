// Package answerservice wires the query router (C6), hybrid search (C5),
// and answer composer (C8) into the single pipeline the /answer endpoint
// drives (spec.md §2 "Data flow (answering)").
package answerservice

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/composer"
	"github.com/townhall-civic/rag/internal/hybridsearch"
	"github.com/townhall-civic/rag/internal/llmchat"
	"github.com/townhall-civic/rag/internal/router"
)

// TenantInfo resolves the per-tenant display/fallback fields the composer
// needs; kept as a narrow seam so this package doesn't own tenant config.
type TenantInfo interface {
	Name(tenantID string) string
	Phone(tenantID string) string
	URL(tenantID string) string
}

// Service ties routing, retrieval, and composition together for one
// /answer request.
type Service struct {
	Router            *router.Router
	Search            *hybridsearch.Searcher
	Compose           *composer.Composer
	Tenants           TenantInfo
	Log               zerolog.Logger
	DefaultMatchCount int
}

// Answer executes the full pipeline and streams the result through w.
func (s *Service) Answer(ctx context.Context, tenantID string, messages []llmchat.Message, w composer.EventWriter) error {
	question := lastUserMessage(messages)
	history := messages
	if strings.TrimSpace(question) == "" {
		return s.Compose.Compose(ctx, composer.Request{TenantID: tenantID, Messages: messages, Chunks: nil, TenantName: s.name(tenantID), TenantPhone: s.phone(tenantID), TenantURL: s.url(tenantID)}, w)
	}

	routed := s.Router.Route(ctx, question, tenantID, history)
	chunks, err := s.retrieveAll(ctx, tenantID, question, routed)
	if err != nil {
		s.Log.Warn().Err(err).Msg("answerservice: retrieval failed, falling back to empty-context answer")
		chunks = nil
	}

	return s.Compose.Compose(ctx, composer.Request{
		TenantID:    tenantID,
		Messages:    messages,
		Chunks:      chunks,
		TenantName:  s.name(tenantID),
		TenantPhone: s.phone(tenantID),
		TenantURL:   s.url(tenantID),
	}, w)
}

// retrieveAll runs hybrid search once per routed sub-query (spec.md §4.6
// step 3's `strategy` field selects how the caller would fan these out;
// this service runs them sequentially and merges, which is a valid subset
// of both "parallel" and "sequential" for a single-process deployment),
// then merges and re-dedups by URL so a compound question's sub-answers
// don't duplicate the same source.
func (s *Service) retrieveAll(ctx context.Context, tenantID, question string, routed []router.RoutedQuery) ([]hybridsearch.RetrievedChunk, error) {
	if len(routed) == 0 {
		return nil, nil
	}
	var merged []hybridsearch.RetrievedChunk
	var firstErr error
	for _, rq := range routed {
		limit := rq.Config.ResultCount
		if limit <= 0 {
			limit = s.defaultMatchCount()
		}
		result, err := s.Search.Search(ctx, hybridsearch.Request{
			TenantID:       tenantID,
			Question:       question,
			RewrittenQuery: rq.Query,
			Config:         rq.Config,
			Limit:          limit,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		merged = append(merged, result.Chunks...)
	}
	if len(merged) == 0 {
		return nil, firstErr
	}
	return dedupAndResynthesize(merged, s.defaultMatchCount()), nil
}

// dedupAndResynthesize keeps, per distinct URL, the highest-scoring chunk
// across all sub-query result sets, re-sorts, truncates, and reassigns
// source ids so citations in the composed answer stay contiguous.
func dedupAndResynthesize(chunks []hybridsearch.RetrievedChunk, limit int) []hybridsearch.RetrievedChunk {
	best := map[string]hybridsearch.RetrievedChunk{}
	order := []string{}
	for _, c := range chunks {
		key := c.URL
		if key == "" {
			key = fmt.Sprintf("%s:%s:%d", c.Kind, c.DocumentID, c.ChunkIndex)
		}
		if existing, ok := best[key]; !ok || c.Score > existing.Score {
			if !ok {
				order = append(order, key)
			}
			best[key] = c
		}
	}
	out := make([]hybridsearch.RetrievedChunk, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].URL < out[j].URL
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].SourceID = fmt.Sprintf("S%d", i+1)
	}
	return out
}

func (s *Service) defaultMatchCount() int {
	if s.DefaultMatchCount > 0 {
		return s.DefaultMatchCount
	}
	return 20
}

func (s *Service) name(tenantID string) string {
	if s.Tenants == nil {
		return ""
	}
	return s.Tenants.Name(tenantID)
}

func (s *Service) phone(tenantID string) string {
	if s.Tenants == nil {
		return ""
	}
	return s.Tenants.Phone(tenantID)
}

func (s *Service) url(tenantID string) string {
	if s.Tenants == nil {
		return ""
	}
	return s.Tenants.URL(tenantID)
}

func lastUserMessage(msgs []llmchat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}
