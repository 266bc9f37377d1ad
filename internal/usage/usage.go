// Package usage implements the cost/usage recorder (C12): translating a raw
// token count into an estimated dollar cost via a static price table and
// writing an accounting row, with sampling for high-volume call sites and a
// swallow-and-log policy on write failure (spec.md §4.12).
package usage

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/telemetry"
)

// Price is a per-million-token rate pair for one model.
type Price struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// DefaultPrices is a static price map covering the models wired in
// SPEC_FULL.md's domain stack; unlisted models cost 0 and are still recorded.
var DefaultPrices = map[string]Price{
	"gpt-4o-mini":             {PromptPerMillion: 0.15, CompletionPerMillion: 0.60},
	"gpt-4o":                  {PromptPerMillion: 2.50, CompletionPerMillion: 10.00},
	"text-embedding-3-small":  {PromptPerMillion: 0.02, CompletionPerMillion: 0},
	"text-embedding-3-large":  {PromptPerMillion: 0.13, CompletionPerMillion: 0},
	"claude-3-5-sonnet-latest": {PromptPerMillion: 3.00, CompletionPerMillion: 15.00},
}

// Call describes one billable invocation to record.
type Call struct {
	TenantID         string
	Endpoint         string // "answer" | "embed" | "search"
	Model            string
	PromptTokens     int
	CompletionTokens int
	Metadata         map[string]string
}

// Recorder writes Calls into the usage store.
type Recorder struct {
	Store          store.UsageStore
	Log            zerolog.Logger
	Prices         map[string]Price
	EmbedSampleRate float64 // fraction of "embed" endpoint calls actually written, default 0.05
	Metrics        telemetry.Metrics // optional cross-cutting instrumentation
	now            func() time.Time
	rand           func() float64
}

// New constructs a Recorder with the default price map and a 5% embedding
// sample rate.
func New(s store.UsageStore, log zerolog.Logger) *Recorder {
	return &Recorder{Store: s, Log: log, Prices: DefaultPrices, EmbedSampleRate: 0.05, now: time.Now, rand: rand.Float64}
}

// Record writes one usage row, applying sampling for the "embed" endpoint.
// Write failures are logged and swallowed (never returned), matching the
// fire-and-forget contract callers (notably the composer) rely on.
func (r *Recorder) Record(ctx context.Context, c Call) {
	if c.Endpoint == "embed" {
		rate := r.EmbedSampleRate
		if rate <= 0 {
			rate = 0.05
		}
		if r.randFloat() >= rate {
			return
		}
	}
	total := c.PromptTokens + c.CompletionTokens
	price := r.Prices[c.Model]
	cost := float64(c.PromptTokens)/1_000_000*price.PromptPerMillion +
		float64(c.CompletionTokens)/1_000_000*price.CompletionPerMillion

	row := store.UsageRow{
		TenantID:         c.TenantID,
		Endpoint:         c.Endpoint,
		Model:            c.Model,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		TotalTokens:      total,
		EstimatedCostUSD: cost,
		Metadata:         c.Metadata,
		RecordedAt:       r.clock(),
	}
	if err := r.Store.InsertUsageRow(ctx, row); err != nil {
		r.Log.Warn().Err(err).Str("tenant_id", c.TenantID).Str("endpoint", c.Endpoint).Msg("usage row write failed")
	}
	if r.Metrics != nil {
		attrs := map[string]string{"endpoint": c.Endpoint, "model": c.Model}
		r.Metrics.IncCounter(ctx, "usage_calls_total", attrs)
		r.Metrics.ObserveHistogram(ctx, "usage_cost_usd", cost, attrs)
	}
}

func (r *Recorder) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Recorder) randFloat() float64 {
	if r.rand != nil {
		return r.rand()
	}
	return rand.Float64()
}

// EstimateTokens is a crude, dependency-free token estimator (~4 characters
// per token) used where a real tokenizer isn't wired, matching the "estimate
// is good enough for accounting, not billing reconciliation" scope in
// spec.md §4.12.
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 && s != "" {
		n = 1
	}
	return n
}
