// Package hybridsearch implements hybrid retrieval (C5): combining semantic
// (vector) and lexical signals across the "chunks" and "content" namespaces,
// deduplicating by source URL, and ranking with an intent-tuned weighted sum
// (spec.md §4.5, design notes §9a).
package hybridsearch

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/townhall-civic/rag/internal/embedclient"
	"github.com/townhall-civic/rag/internal/router"
	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/vectorindex"
)

const (
	namespaceChunks  = "chunks"
	namespaceContent = "content"

	semanticWeight = 0.60
	lexicalWeight  = 0.20

	recencyHalfLifeDays = 180.0
)

// RetrievedChunk is one passage surfaced to the answer composer (C8), with a
// synthesized source_id used for inline citation.
type RetrievedChunk struct {
	SourceID   string
	Kind       string // "chunk" | "content"
	DocumentID string
	ChunkIndex int
	Text       string
	Title      string
	URL        string
	Section    string
	Date       time.Time

	SemanticScore   float64
	LexicalScore    float64
	RecencyScore    float64
	AuthorityScore  float64
	SourceTypeBoost float64
	Score           float64
}

// Request is one hybrid search invocation.
type Request struct {
	TenantID       string
	Question       string
	RewrittenQuery string
	Now            time.Time
	Config         router.RetrievalConfig
	Limit          int
}

// Result is the ranked, truncated, source-attributed retrieval output.
type Result struct {
	Chunks []RetrievedChunk
}

// Searcher executes hybrid search requests.
type Searcher struct {
	Embed                *embedclient.Client
	Index                vectorindex.Index
	Store                store.Store
	Log                  zerolog.Logger
	MinSimilarity        float64
	ContentNamespaceFrac float64
}

type namespaceMatch struct {
	namespace string
	score     float64
}

// Search embeds the question (and, if distinct, a rewritten variant),
// queries both vector namespaces concurrently, fetches source text, scores,
// dedups by URL, and returns the top Limit results. An empty (post-trim)
// question returns an empty result without invoking the embedding provider.
func (s *Searcher) Search(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = req.Config.ResultCount
	}
	if limit <= 0 {
		limit = 10
	}

	primary, err := s.Embed.Embed(ctx, question)
	if err != nil {
		return Result{}, fmt.Errorf("hybridsearch: embed question: %w", err)
	}

	embeddings := [][]float32{primary}
	rewritten := strings.TrimSpace(req.RewrittenQuery)
	if rewritten != "" && !strings.EqualFold(rewritten, question) {
		if rv, err := s.Embed.Embed(ctx, rewritten); err != nil {
			s.Log.Warn().Err(err).Msg("rewritten query embedding failed, continuing with primary only")
		} else {
			embeddings = append(embeddings, rv)
		}
	}

	contentFrac := s.ContentNamespaceFrac
	if contentFrac <= 0 {
		contentFrac = 0.5
	}
	chunksTopK := limit * 3
	contentTopK := int(math.Ceil(float64(limit) * contentFrac))

	// id -> best score seen across embedding variants, per namespace.
	chunkScores := map[string]float64{}
	contentScores := map[string]float64{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, emb := range embeddings {
		emb := emb
		g.Go(func() error {
			matches, err := s.Index.Query(gctx, namespaceChunks, emb, chunksTopK, map[string]string{"tenant_id": req.TenantID})
			if err != nil {
				return fmt.Errorf("query chunks namespace: %w", err)
			}
			mu.Lock()
			for _, m := range matches {
				if m.Score > chunkScores[m.ID] {
					chunkScores[m.ID] = m.Score
				}
			}
			mu.Unlock()
			return nil
		})
		g.Go(func() error {
			matches, err := s.Index.Query(gctx, namespaceContent, emb, contentTopK, map[string]string{"tenant_id": req.TenantID})
			if err != nil {
				// Content-namespace failures are non-fatal (spec.md §4.5,
				// §7): log and leave this namespace's contribution empty
				// rather than aborting the chunks-namespace results too.
				s.Log.Warn().Err(err).Msg("content namespace query failed, continuing with chunks only")
				return nil
			}
			mu.Lock()
			for _, m := range matches {
				if m.Score > contentScores[m.ID] {
					contentScores[m.ID] = m.Score
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("hybridsearch: %w", err)
	}

	chunkIDs := keysOf(chunkScores)
	contentIDs := keysOf(contentScores)

	chunks, err := s.Store.GetChunksByIDs(ctx, req.TenantID, chunkIDs)
	if err != nil {
		return Result{}, fmt.Errorf("hybridsearch: fetch chunks: %w", err)
	}
	items, err := s.Store.GetContentItemsByIDs(ctx, req.TenantID, contentIDs)
	if err != nil {
		return Result{}, fmt.Errorf("hybridsearch: fetch content items: %w", err)
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	var candidates []RetrievedChunk
	for _, c := range chunks {
		candidates = append(candidates, chunkToCandidate(c, chunkScores[c.ID], question, now, req.Config))
	}
	for _, it := range items {
		candidates = append(candidates, contentToCandidate(it, contentScores[it.ID], question, now, req.Config))
	}

	minSim := req.Config.SimilarityThreshold
	if minSim <= 0 {
		minSim = s.MinSimilarity
	}
	if minSim <= 0 {
		minSim = 0.30
	}
	candidates = filterBelow(candidates, minSim)
	candidates = filterBySource(candidates, req.Config.SourceFilter)
	candidates = dedupByURL(candidates)

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].SemanticScore != candidates[j].SemanticScore {
			return candidates[i].SemanticScore > candidates[j].SemanticScore
		}
		return candidates[i].URL < candidates[j].URL
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	if req.Config.SiblingExpansion {
		candidates = s.expandSiblings(ctx, req.TenantID, candidates, req.Config.SiblingExpansionCount)
	}

	for i := range candidates {
		candidates[i].SourceID = fmt.Sprintf("S%d", i+1)
	}

	return Result{Chunks: candidates}, nil
}

func (s *Searcher) expandSiblings(ctx context.Context, tenantID string, base []RetrievedChunk, count int) []RetrievedChunk {
	if count <= 0 {
		return base
	}
	seen := map[string]bool{}
	for _, c := range base {
		if c.Kind == "chunk" {
			seen[c.DocumentID+"#"+fmt.Sprint(c.ChunkIndex)] = true
		}
	}
	out := append([]RetrievedChunk(nil), base...)
	for _, c := range base {
		if c.Kind != "chunk" {
			continue
		}
		siblings, err := s.Store.SiblingChunks(ctx, tenantID, c.DocumentID, c.ChunkIndex, count)
		if err != nil {
			s.Log.Warn().Err(err).Str("document_id", c.DocumentID).Msg("sibling expansion failed")
			continue
		}
		for _, sib := range siblings {
			key := sib.DocumentID + "#" + fmt.Sprint(sib.ChunkIndex)
			if seen[key] {
				continue
			}
			seen[key] = true
			rc := chunkToCandidate(sib, c.SemanticScore, "", time.Now(), router.RetrievalConfig{})
			rc.Score = c.Score
			rc.LexicalScore = c.LexicalScore
			rc.RecencyScore = c.RecencyScore
			rc.AuthorityScore = c.AuthorityScore
			out = append(out, rc)
		}
	}
	return out
}

func keysOf(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func filterBelow(in []RetrievedChunk, floor float64) []RetrievedChunk {
	out := in[:0]
	for _, c := range in {
		if c.SemanticScore >= floor {
			out = append(out, c)
		}
	}
	return out
}

// filterBySource applies the intent's SourceFilter (spec.md §4.6
// document_lookup: "filter source=documents"). An empty filter is a no-op;
// "documents" restricts results to document-derived chunks, excluding the
// complementary content-item corpus.
func filterBySource(in []RetrievedChunk, sourceFilter string) []RetrievedChunk {
	if sourceFilter == "" {
		return in
	}
	out := in[:0]
	for _, c := range in {
		switch sourceFilter {
		case "documents":
			if c.Kind == "chunk" {
				out = append(out, c)
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

// dedupByURL keeps, per distinct URL, the candidate with the highest
// semantic score (design notes §9b).
func dedupByURL(in []RetrievedChunk) []RetrievedChunk {
	best := map[string]RetrievedChunk{}
	order := []string{}
	for _, c := range in {
		key := c.URL
		if key == "" {
			key = c.Kind + ":" + c.DocumentID + ":" + fmt.Sprint(c.ChunkIndex)
		}
		if existing, ok := best[key]; !ok || c.SemanticScore > existing.SemanticScore {
			if !ok {
				order = append(order, key)
			}
			best[key] = c
		}
	}
	out := make([]RetrievedChunk, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func recencyScore(t time.Time, now time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Pow(0.5, days/recencyHalfLifeDays)
}

func lexicalOverlap(query, text string) float64 {
	qTokens := tokenSet(query)
	if len(qTokens) == 0 {
		return 0
	}
	tTokens := tokenSet(text)
	if len(tTokens) == 0 {
		return 0
	}
	var hits int
	for t := range qTokens {
		if tTokens[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if len(f) < 3 {
			continue
		}
		out[f] = true
	}
	return out
}

func sourceTypeBoostFor(boosts map[string]float64, key string) float64 {
	if boosts == nil || key == "" {
		return 0
	}
	return boosts[key]
}

func weighted(semantic, lexical, recency, authority, boost float64, cfg router.RetrievalConfig) float64 {
	recencyW := cfg.RecencyWeight
	authorityW := cfg.AuthorityWeight
	sum := clamp01(semantic)*semanticWeight + clamp01(lexical)*lexicalWeight +
		clamp01(recency)*recencyW + clamp01(authority)*authorityW + boost
	if sum > 1.0 {
		sum = 1.0
	}
	return sum
}

func chunkToCandidate(c store.Chunk, semantic float64, query string, now time.Time, cfg router.RetrievalConfig) RetrievedChunk {
	lexical := lexicalOverlap(query, c.ChunkText)
	recency := recencyScore(c.Metadata.Date, now)
	authority := c.Metadata.SourceWeight
	boost := sourceTypeBoostFor(cfg.SourceTypeBoosts, "document")
	rc := RetrievedChunk{
		Kind:            "chunk",
		DocumentID:      c.DocumentID,
		ChunkIndex:      c.ChunkIndex,
		Text:            c.ChunkText,
		Title:           c.Metadata.DocumentTitle,
		URL:             c.Metadata.DocumentURL,
		Section:         c.Metadata.Section,
		Date:            c.Metadata.Date,
		SemanticScore:   semantic,
		LexicalScore:    lexical,
		RecencyScore:    recency,
		AuthorityScore:  authority,
		SourceTypeBoost: boost,
	}
	rc.Score = weighted(semantic, lexical, recency, authority, boost, cfg)
	return rc
}

func contentToCandidate(it store.ContentItem, semantic float64, query string, now time.Time, cfg router.RetrievalConfig) RetrievedChunk {
	text := it.Content
	if text == "" {
		text = it.Summary
	}
	lexical := lexicalOverlap(query, it.Title+" "+text)
	recency := recencyScore(it.PublishedAt, now)
	authority := 0.5
	boost := sourceTypeBoostFor(cfg.SourceTypeBoosts, string(it.Category))
	rc := RetrievedChunk{
		Kind:            "content",
		DocumentID:      it.ID,
		Text:            text,
		Title:           it.Title,
		URL:             it.URL,
		Date:            it.PublishedAt,
		SemanticScore:   semantic,
		LexicalScore:    lexical,
		RecencyScore:    recency,
		AuthorityScore:  authority,
		SourceTypeBoost: boost,
	}
	rc.Score = weighted(semantic, lexical, recency, authority, boost, cfg)
	return rc
}
