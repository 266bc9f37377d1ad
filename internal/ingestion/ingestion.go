// Package ingestion implements the ingestion runner (C10): scheduling due
// connectors, executing fetch→normalize, upserting into the content corpus
// with content-hash dedup, and tracking per-source run state (spec.md
// §4.10).
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/connectors"
	"github.com/townhall-civic/rag/internal/embedclient"
	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/vectorindex"
)

const maxEmbedInputChars = 8000

// Builder constructs the concrete connector for a SourceConfig; satisfied by
// *registry.Registry without importing it here (registry already depends on
// the connectors package, so ingestion depends only on this narrow seam).
type Builder interface {
	Build(cfg store.SourceConfig) (connectors.Connector, error)
}

// ConnectorResult is the per-connector outcome described in spec.md §4.10
// step 7.
type ConnectorResult struct {
	ID             string
	ItemsFound     int
	ItemsUpserted  int
	ItemsSkipped   int
	Errors         []string
	DurationMS     int64
}

// Options parameterizes one invocation of RunConnectors (spec.md §4.10).
type Options struct {
	TenantID string // empty = all tenants
	Schedule string // empty = all schedules
	Force    bool
}

// Runner executes ingestion runs. Connectors within one run are executed
// sequentially (spec.md §4.10 "Concurrency"): the store load they generate
// is kept predictable, and upserts are applied in normalize() order.
type Runner struct {
	Sources store.SourceConfigStore
	Content store.ContentItemStore
	Logs    store.IngestionLogStore
	Build   Builder
	Embed   *embedclient.Client
	Index   vectorindex.Index
	Log     zerolog.Logger
	Now     func() time.Time
}

// New constructs a Runner with time.Now as its clock.
func New(sources store.SourceConfigStore, content store.ContentItemStore, logs store.IngestionLogStore, build Builder, embed *embedclient.Client, index vectorindex.Index, log zerolog.Logger) *Runner {
	return &Runner{Sources: sources, Content: content, Logs: logs, Build: build, Embed: embed, Index: index, Log: log, Now: time.Now}
}

// RunConnectors loads due SourceConfigs matching opts and runs each in turn,
// isolating per-connector failures (spec.md §4.10, §7 "Connector
// fetch/parse failure").
func (r *Runner) RunConnectors(ctx context.Context, opts Options) []ConnectorResult {
	now := r.clock()
	configs, err := r.Sources.ListSourceConfigs(ctx, opts.TenantID, opts.Schedule, true)
	if err != nil {
		r.Log.Error().Err(err).Msg("ingestion: failed to list source configs")
		return nil
	}

	results := make([]ConnectorResult, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Due(now, opts.Force) {
			continue
		}
		results = append(results, r.runOne(ctx, cfg, now))
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, cfg store.SourceConfig, now time.Time) ConnectorResult {
	start := now
	res := ConnectorResult{ID: cfg.ID}

	conn, err := r.Build.Build(cfg)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		r.recordOutcome(ctx, cfg, now, res)
		return res
	}

	raw, err := conn.Fetch(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("fetch: %w", err).Error())
		res.DurationMS = r.clock().Sub(start).Milliseconds()
		r.recordOutcome(ctx, cfg, now, res)
		return res
	}

	items := conn.Normalize(raw)
	res.ItemsFound = len(items)

	for i := range items {
		item := items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if conn.ShouldEmbed() {
			text := embedInput(item.Title, item.Summary, item.Content)
			vec, err := r.Embed.Embed(ctx, text)
			if err != nil {
				r.Log.Warn().Err(err).Str("source_id", cfg.ID).Msg("ingestion: embedding failed, upserting without a vector")
			} else {
				item.Embedding = vec
			}
		}

		inserted, err := r.Content.UpsertContentItem(ctx, item)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("upsert %s: %w", item.ContentHash, err).Error())
			continue
		}
		if !inserted {
			res.ItemsSkipped++
			continue
		}
		res.ItemsUpserted++
		if len(item.Embedding) > 0 && r.Index != nil {
			if err := r.Index.Upsert(ctx, "content", item.ID, item.Embedding, map[string]string{"tenant_id": item.TenantID}); err != nil {
				r.Log.Warn().Err(err).Str("item_id", item.ID).Msg("ingestion: vector index upsert failed")
			}
		}
	}

	res.DurationMS = r.clock().Sub(start).Milliseconds()
	r.recordOutcome(ctx, cfg, now, res)
	return res
}

// recordOutcome persists the SourceConfig run state (spec.md §4.10 step 6)
// and appends an ingestion-log row, regardless of outcome.
func (r *Runner) recordOutcome(ctx context.Context, cfg store.SourceConfig, now time.Time, res ConnectorResult) {
	lastErr := ""
	errorCount := cfg.ErrorCount
	if len(res.Errors) > 0 {
		lastErr = res.Errors[len(res.Errors)-1]
		errorCount++
	} else {
		errorCount = 0
	}
	if err := r.Sources.RecordRunResult(ctx, cfg.ID, now.Unix(), lastErr, errorCount); err != nil {
		r.Log.Warn().Err(err).Str("source_id", cfg.ID).Msg("ingestion: failed to record run result")
	}
	if r.Logs != nil {
		summary := fmt.Sprintf("found=%d upserted=%d skipped=%d errors=%d", res.ItemsFound, res.ItemsUpserted, res.ItemsSkipped, len(res.Errors))
		if err := r.Logs.AppendIngestionLog(ctx, store.IngestionLogEntry{
			TenantID: cfg.TenantID, Kind: "ingest", SourceID: cfg.ID, Summary: summary,
			OccurredAt: now, DurationMS: res.DurationMS, Errors: len(res.Errors),
		}); err != nil {
			r.Log.Warn().Err(err).Msg("ingestion: failed to append ingestion log")
		}
	}
}

func (r *Runner) clock() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// embedInput builds the text embedded for a ContentItem: title plus
// summary-or-content, truncated to the provider input ceiling (spec.md
// §4.10 step 5).
func embedInput(title, summary, content string) string {
	body := summary
	if body == "" {
		body = content
	}
	text := title
	if body != "" {
		text += "\n" + body
	}
	if len(text) > maxEmbedInputChars {
		text = text[:maxEmbedInputChars]
	}
	return text
}
