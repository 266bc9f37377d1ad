package router

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/llmchat"
)

const rewriteTimeout = 2 * time.Second

const rewriteSystemPrompt = `You rewrite short, possibly ambiguous user questions into a single
self-contained search query. Expand abbreviations and resolve obvious pronouns using the
conversation so far. Respond with ONLY the rewritten query, no quotes, no commentary.`

// Rewrite asks the LLM to expand a query into a self-contained search string.
// It is strictly best-effort: any error, timeout, or a rewrite that is
// case/trim-insensitively identical to the original falls back to returning
// the original query unchanged (spec.md §4.6 step 2).
func Rewrite(ctx context.Context, provider llmchat.Provider, model, query string, history []llmchat.Message, log zerolog.Logger) string {
	if provider == nil || strings.TrimSpace(query) == "" {
		return query
	}
	ctx, cancel := context.WithTimeout(ctx, rewriteTimeout)
	defer cancel()

	msgs := make([]llmchat.Message, 0, len(history)+2)
	msgs = append(msgs, llmchat.Message{Role: "system", Content: rewriteSystemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, llmchat.Message{Role: "user", Content: query})

	rewritten, err := provider.Chat(ctx, model, msgs)
	if err != nil {
		log.Warn().Err(err).Msg("query rewrite failed, using original query")
		return query
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}
	if strings.EqualFold(strings.TrimSpace(rewritten), strings.TrimSpace(query)) {
		return query
	}
	return rewritten
}
