package router

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/llmchat"
)

const decomposeTimeout = 2 * time.Second

const decomposeSystemPrompt = `Classify the user's question and, if it bundles more than one distinct
question, split it into independent sub-queries. Respond with ONLY a JSON object of the form:
{"sub_queries":[{"query":"...","intent":"factual|procedural|recommendation|exploratory|comparison|document_lookup|contact|schedule|navigational","source_hint":"any|documents|content"}]}
Most questions have exactly one sub-query. Do not include any text outside the JSON object.`

// SubQuery is one independently-retrievable piece of a (possibly compound)
// user question.
type SubQuery struct {
	Query      string `json:"query"`
	Intent     Intent `json:"intent"`
	SourceHint string `json:"source_hint"`
}

type decomposeResponse struct {
	SubQueries []SubQuery `json:"sub_queries"`
}

// Decompose classifies intent and, when the question bundles more than one
// ask, splits it into sub-queries. On any failure, timeout, or malformed
// response it falls back to a single sub-query with intent "factual" and
// source hint "any" (spec.md §4.6 step 3).
func Decompose(ctx context.Context, provider llmchat.Provider, model, query string, log zerolog.Logger) []SubQuery {
	fallback := []SubQuery{{Query: query, Intent: IntentFactual, SourceHint: "any"}}
	if provider == nil || strings.TrimSpace(query) == "" {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, decomposeTimeout)
	defer cancel()

	msgs := []llmchat.Message{
		{Role: "system", Content: decomposeSystemPrompt},
		{Role: "user", Content: query},
	}
	raw, err := provider.Chat(ctx, model, msgs)
	if err != nil {
		log.Warn().Err(err).Msg("query decomposition failed, using single-query fallback")
		return fallback
	}
	raw = extractJSONObject(raw)
	var parsed decomposeResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		log.Warn().Err(err).Msg("query decomposition returned malformed JSON, using single-query fallback")
		return fallback
	}
	if len(parsed.SubQueries) == 0 {
		return fallback
	}
	for i := range parsed.SubQueries {
		if strings.TrimSpace(parsed.SubQueries[i].Query) == "" {
			parsed.SubQueries[i].Query = query
		}
		if parsed.SubQueries[i].SourceHint == "" {
			parsed.SubQueries[i].SourceHint = "any"
		}
		if _, ok := intentConfigs[parsed.SubQueries[i].Intent]; !ok {
			parsed.SubQueries[i].Intent = IntentFactual
		}
	}
	return parsed.SubQueries
}

// extractJSONObject trims any leading/trailing prose a model adds despite
// instructions, keeping only the outermost {...} span.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
