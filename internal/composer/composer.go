// Package composer implements the answer composer (C8): turning retrieved
// chunks, a question, and conversation history into a streamed, attributed
// answer, with a durable-cache fast path and an empty-retrieval fallback
// (spec.md §4.8).
package composer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/confidence"
	"github.com/townhall-civic/rag/internal/hybridsearch"
	"github.com/townhall-civic/rag/internal/llmchat"
	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/usage"
)

// Source is one attributed citation surfaced alongside an answer.
type Source struct {
	SourceID      string     `json:"source_id"`
	Citation      string     `json:"citation"`
	DocumentTitle string     `json:"document_title"`
	DocumentURL   string     `json:"document_url,omitempty"`
	Section       string     `json:"section,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	PageNumber    int        `json:"page_number,omitempty"`
}

// EventWriter is the single-writer SSE sink the composer emits events to;
// httpapi supplies the concrete implementation bound to an http.ResponseWriter.
type EventWriter interface {
	WriteEvent(event string, payload any) error
}

// Request is one composition invocation.
type Request struct {
	TenantID    string
	Messages    []llmchat.Message // full conversation, last entry is the current user turn
	Chunks      []hybridsearch.RetrievedChunk
	TenantName  string
	TenantPhone string
	TenantURL   string
}

// Composer renders a streamed answer for one request.
type Composer struct {
	Provider       llmchat.Provider
	Model          string
	Store          store.AnswerCacheStore
	Usage          *usage.Recorder
	Log            zerolog.Logger
	AnswerCacheTTL time.Duration
}

var usedSourcesRe = regexp.MustCompile(`(?i)USED_SOURCES:\s*([^\n]*)`)

// CacheKey derives the deterministic C3 lookup key for a (tenant, question)
// pair.
func CacheKey(tenantID, question string) string {
	h := sha256.Sum256([]byte(tenantID + "|" + strings.ToLower(strings.TrimSpace(question))))
	return hex.EncodeToString(h[:])
}

// Compose renders the full answer pipeline: C3 fast path, empty-retrieval
// fallback, or a live LLM stream with citation parsing.
func (c *Composer) Compose(ctx context.Context, req Request, w EventWriter) error {
	question := lastUserMessage(req.Messages)
	key := CacheKey(req.TenantID, question)

	if cached, ok, err := c.Store.GetCachedAnswer(ctx, key); err != nil {
		c.Log.Warn().Err(err).Msg("answer cache lookup failed, proceeding to live answer")
	} else if ok && !cached.Expired(time.Now()) {
		return c.streamCached(cached, w)
	}

	if len(req.Chunks) == 0 {
		return c.streamFallback(req, w)
	}

	return c.streamLive(ctx, req, key, question, w)
}

func (c *Composer) streamCached(cached store.CachedAnswer, w EventWriter) error {
	sources := make([]Source, 0, len(cached.Sources))
	for i, s := range cached.Sources {
		sources = append(sources, Source{SourceID: fmt.Sprintf("S%d", i+1), Citation: s.Title, DocumentTitle: s.Title, DocumentURL: s.URL})
	}
	if err := w.WriteEvent("data-confidence", confidence.ServedFromCache()); err != nil {
		return err
	}
	if err := w.WriteEvent("data-sources", sources); err != nil {
		return err
	}
	id := uuid.NewString()
	if err := w.WriteEvent("data-response-id", id); err != nil {
		return err
	}
	if err := w.WriteEvent("text-start", map[string]string{"id": id}); err != nil {
		return err
	}
	if err := w.WriteEvent("text-delta", map[string]string{"id": id, "delta": cached.Answer}); err != nil {
		return err
	}
	return w.WriteEvent("text-end", map[string]string{"id": id})
}

func (c *Composer) streamFallback(req Request, w EventWriter) error {
	phone := req.TenantPhone
	if phone == "" {
		phone = "your town hall"
	}
	msg := fmt.Sprintf("I couldn't find anything in our records to answer that. Please contact %s", phone)
	if req.TenantURL != "" {
		msg += fmt.Sprintf(" or visit %s", req.TenantURL)
	}
	msg += " for assistance."

	if err := w.WriteEvent("data-confidence", confidence.Score(nil, confidence.DefaultThresholds)); err != nil {
		return err
	}
	if err := w.WriteEvent("data-sources", []Source{}); err != nil {
		return err
	}
	id := uuid.NewString()
	if err := w.WriteEvent("data-response-id", id); err != nil {
		return err
	}
	if err := w.WriteEvent("text-start", map[string]string{"id": id}); err != nil {
		return err
	}
	if err := w.WriteEvent("text-delta", map[string]string{"id": id, "delta": msg}); err != nil {
		return err
	}
	return w.WriteEvent("text-end", map[string]string{"id": id})
}

func (c *Composer) streamLive(ctx context.Context, req Request, cacheKey, question string, w EventWriter) error {
	sims := make([]float64, 0, len(req.Chunks))
	allSources := make([]Source, 0, len(req.Chunks))
	for _, ch := range req.Chunks {
		sims = append(sims, ch.SemanticScore)
		allSources = append(allSources, toSource(ch))
	}
	conf := confidence.Score(sims, confidence.DefaultThresholds)

	if err := w.WriteEvent("data-confidence", conf); err != nil {
		return err
	}
	if err := w.WriteEvent("data-sources", allSources); err != nil {
		return err
	}
	respID := uuid.NewString()
	if err := w.WriteEvent("data-response-id", respID); err != nil {
		return err
	}
	if err := w.WriteEvent("text-start", map[string]string{"id": respID}); err != nil {
		return err
	}

	msgs := buildPrompt(req)
	var writeErr error
	var accumulated strings.Builder
	handler := llmchat.StreamHandlerFunc(func(delta string) {
		if writeErr != nil || delta == "" {
			return
		}
		accumulated.WriteString(delta)
		if err := w.WriteEvent("text-delta", map[string]string{"id": respID, "delta": delta}); err != nil {
			writeErr = err
		}
	})
	streamErr := c.Provider.ChatStream(ctx, c.Model, msgs, handler)
	if writeErr != nil {
		return writeErr
	}

	if err := w.WriteEvent("text-end", map[string]string{"id": respID}); err != nil {
		return err
	}

	full := accumulated.String()
	cleanText, filtered := parseUsedSources(full, allSources)
	if streamErr != nil {
		c.Log.Warn().Err(streamErr).Msg("LLM stream ended with error; emitting partial accumulated text")
	}
	if filtered != nil {
		if err := w.WriteEvent("data-sources", filtered); err != nil {
			return err
		}
	}

	go c.finalize(req, cacheKey, question, cleanText, filtered, allSources)
	return streamErr
}

// finalize performs the fire-and-forget usage recording and answer-cache
// write described in spec.md §4.8 step 6; it must never block stream close.
func (c *Composer) finalize(req Request, cacheKey, question, cleanText string, filtered, all []Source) {
	ctx := context.Background()
	sources := filtered
	if sources == nil {
		sources = all
	}
	attributed := make([]store.AttributedSource, 0, len(sources))
	for _, s := range sources {
		attributed = append(attributed, store.AttributedSource{Title: s.DocumentTitle, URL: s.DocumentURL})
	}
	if err := c.Store.PutCachedAnswer(ctx, store.CachedAnswer{
		Key: cacheKey, Question: question, TenantID: req.TenantID, Answer: cleanText,
		Sources: attributed, StoredAt: time.Now(), TTL: c.AnswerCacheTTL,
	}); err != nil {
		c.Log.Warn().Err(err).Msg("answer cache write failed")
	}
	if c.Usage != nil {
		promptText := systemPromptText(req)
		c.Usage.Record(ctx, usage.Call{
			TenantID: req.TenantID, Endpoint: "answer", Model: c.Model,
			PromptTokens:     usage.EstimateTokens(promptText),
			CompletionTokens: usage.EstimateTokens(cleanText),
		})
	}
}

func toSource(ch hybridsearch.RetrievedChunk) Source {
	s := Source{SourceID: ch.SourceID, Citation: ch.SourceID, DocumentTitle: ch.Title, DocumentURL: ch.URL, Section: ch.Section}
	if !ch.Date.IsZero() {
		d := ch.Date
		s.Date = &d
	}
	return s
}

func lastUserMessage(msgs []llmchat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	if len(msgs) > 0 {
		return msgs[len(msgs)-1].Content
	}
	return ""
}

func hasPriorAssistantTurn(msgs []llmchat.Message) bool {
	for _, m := range msgs {
		if m.Role == "assistant" {
			return true
		}
	}
	return false
}

func systemPromptText(req Request) string {
	return buildPrompt(req)[0].Content
}

func buildPrompt(req Request) []llmchat.Message {
	var sb strings.Builder
	tenant := req.TenantName
	if tenant == "" {
		tenant = "your town"
	}
	sb.WriteString("You are the civic information assistant for " + tenant + ".\n")
	if !hasPriorAssistantTurn(req.Messages) {
		sb.WriteString("Only use the numbered context below to answer; do not invent facts not present there.\n")
	}
	sb.WriteString("Context:\n")
	for _, ch := range req.Chunks {
		sb.WriteString("[" + ch.SourceID + "] " + ch.Text + "\n")
	}
	sb.WriteString("\nCite every factual claim with its bracketed source id, e.g. [S1]. ")
	sb.WriteString("After your answer, on its own line, write USED_SOURCES: followed by a comma-separated list of the source ids you actually relied on, or USED_SOURCES: NONE if you used none.")

	msgs := make([]llmchat.Message, 0, len(req.Messages)+1)
	msgs = append(msgs, llmchat.Message{Role: "system", Content: sb.String()})
	msgs = append(msgs, req.Messages...)
	return msgs
}

// parseUsedSources extracts the USED_SOURCES marker, strips it from the
// displayed text, and filters the candidate source set to the referenced
// ids (in their original relative order). A missing marker leaves the text
// unchanged and returns a nil filtered slice (no final sources event).
func parseUsedSources(text string, all []Source) (string, []Source) {
	loc := usedSourcesRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}
	marker := text[loc[2]:loc[3]]
	cleaned := strings.TrimRight(text[:loc[0]], "\n ") + text[loc[1]:]
	cleaned = strings.TrimSpace(cleaned)

	marker = strings.TrimSpace(marker)
	if strings.EqualFold(marker, "NONE") {
		return cleaned, []Source{}
	}
	wanted := map[string]bool{}
	for _, id := range strings.Split(marker, ",") {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id != "" {
			wanted[id] = true
		}
	}
	filtered := make([]Source, 0, len(wanted))
	for _, s := range all {
		if wanted[strings.ToUpper(s.SourceID)] {
			filtered = append(filtered, s)
		}
	}
	return cleaned, filtered
}
