// Package monitor implements the change monitor (C11): periodically
// re-checking tracked Documents for upstream changes via conditional HTTP
// headers, discovering new URLs from an optional feed, and flagging stale
// documents (spec.md §4.11).
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/store"
)

const defaultHEADTimeout = 15 * time.Second

// Result is the outcome of one run_change_detection invocation (spec.md
// §4.11, §6 scheduled cron response shape).
type Result struct {
	Checked    int
	Changed    []string // document URLs
	New        []string // URLs discovered but not tracked
	Errors     int
	DurationMS int64
}

// DiscoveryFeed fetches candidate URLs from a configured RSS discovery feed
// (spec.md §4.11 step 3); kept as a narrow seam so monitor doesn't depend on
// the rss connector package directly.
type DiscoveryFeed func(ctx context.Context) ([]string, error)

// Runner executes change-detection runs.
type Runner struct {
	Documents        store.DocumentStore
	Logs             store.IngestionLogStore
	Client           *http.Client
	StalenessHorizon time.Duration
	Discover         DiscoveryFeed // nil = discovery disabled
	Log              zerolog.Logger
	Now              func() time.Time
}

// New constructs a Runner with sane defaults.
func New(documents store.DocumentStore, logs store.IngestionLogStore, log zerolog.Logger) *Runner {
	return &Runner{
		Documents:        documents,
		Logs:             logs,
		Client:           &http.Client{Timeout: defaultHEADTimeout},
		StalenessHorizon: 90 * 24 * time.Hour,
		Log:              log,
		Now:              time.Now,
	}
}

// Run executes one change-detection pass for tenantID (spec.md §4.11).
func (r *Runner) Run(ctx context.Context, tenantID, triggeredBy string) (Result, error) {
	start := r.clock()
	docs, err := r.Documents.ListDocuments(ctx, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("monitor: list documents: %w", err)
	}

	res := Result{}
	tracked := make(map[string]bool, len(docs))
	now := r.clock()
	horizon := r.StalenessHorizon
	if horizon <= 0 {
		horizon = 90 * 24 * time.Hour
	}

	for _, doc := range docs {
		tracked[doc.URL] = true
		res.Checked++

		changed, headers, err := r.checkOne(ctx, doc)
		if err != nil {
			res.Errors++
			r.Log.Warn().Err(err).Str("url", doc.URL).Msg("monitor: check failed")
			// last_verified_at is left untouched on a failed check; only
			// re-evaluate staleness against its existing value (step 4).
			if now.Sub(doc.LastVerifiedAt) >= horizon && !doc.IsStale {
				doc.IsStale = true
				if err := r.Documents.UpsertDocument(ctx, doc); err != nil {
					r.Log.Warn().Err(err).Str("url", doc.URL).Msg("monitor: failed to flag stale document")
				}
			}
			continue
		}
		if changed {
			res.Changed = append(res.Changed, doc.URL)
		}
		doc.Metadata = mergeHeaders(doc.Metadata, headers)
		doc.Metadata["last_checked"] = now.Format(time.RFC3339)
		doc.LastVerifiedAt = now
		doc.IsStale = false

		if err := r.Documents.UpsertDocument(ctx, doc); err != nil {
			res.Errors++
			r.Log.Warn().Err(err).Str("url", doc.URL).Msg("monitor: failed to persist updated document")
		}
	}

	if r.Discover != nil {
		candidates, err := r.Discover(ctx)
		if err != nil {
			res.Errors++
			r.Log.Warn().Err(err).Msg("monitor: discovery feed check failed")
		} else {
			for _, u := range candidates {
				if !tracked[u] {
					res.New = append(res.New, u)
				}
			}
		}
	}

	res.DurationMS = r.clock().Sub(start).Milliseconds()

	if r.Logs != nil {
		summary := fmt.Sprintf("checked=%d changed=%d new=%d errors=%d triggered_by=%s", res.Checked, len(res.Changed), len(res.New), res.Errors, triggeredBy)
		if err := r.Logs.AppendIngestionLog(ctx, store.IngestionLogEntry{
			TenantID: tenantID, Kind: "monitor", Summary: summary,
			OccurredAt: start, DurationMS: res.DurationMS, Errors: res.Errors,
		}); err != nil {
			r.Log.Warn().Err(err).Msg("monitor: failed to append ingestion log")
		}
	}

	return res, nil
}

// checkOne issues a HEAD request (falling back to GET when HEAD isn't
// supported) and compares the observed ETag/Last-Modified/Content-Length
// against the document's stored metadata (spec.md §4.11 step 2).
func (r *Runner) checkOne(ctx context.Context, doc store.Document) (changed bool, headers map[string]string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, doc.URL, nil)
	if err != nil {
		return false, nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("head %s: %w", doc.URL, err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
		if err != nil {
			return false, nil, fmt.Errorf("build fallback request: %w", err)
		}
		resp, err = r.Client.Do(req)
		if err != nil {
			return false, nil, fmt.Errorf("get %s: %w", doc.URL, err)
		}
		resp.Body.Close()
	}
	if resp.StatusCode >= 400 {
		return false, nil, fmt.Errorf("check %s: status %d", doc.URL, resp.StatusCode)
	}

	observed := map[string]string{
		"etag":           resp.Header.Get("ETag"),
		"last_modified":  resp.Header.Get("Last-Modified"),
		"content_length": resp.Header.Get("Content-Length"),
	}

	hadPrior := doc.Metadata["etag"] != "" || doc.Metadata["last_modified"] != "" || doc.Metadata["content_length"] != ""
	hasObserved := observed["etag"] != "" || observed["last_modified"] != "" || observed["content_length"] != ""
	if !hasObserved && !hadPrior {
		return true, observed, nil // no headers either side: treat as changed (spec.md §4.11 step 2)
	}

	changed = observed["etag"] != doc.Metadata["etag"] ||
		observed["last_modified"] != doc.Metadata["last_modified"] ||
		observed["content_length"] != doc.Metadata["content_length"]
	return changed, observed, nil
}

func mergeHeaders(existing map[string]string, observed map[string]string) map[string]string {
	out := make(map[string]string, len(existing)+len(observed))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range observed {
		if v != "" || !strings.Contains("etag,last_modified,content_length", k) {
			out[k] = v
		}
	}
	return out
}

func (r *Runner) clock() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
