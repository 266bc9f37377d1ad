// Package cron implements the composite scheduled entry point (spec.md
// §4.10 "Composite cron"): monitor → ingest → downstream generators, each
// step wrapped in its own timeout with a short cooldown between steps so
// load on the store and upstream feeds is spread out rather than bursted.
package cron

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/townhall-civic/rag/internal/ingestion"
	"github.com/townhall-civic/rag/internal/monitor"
)

// Downstream is an optional post-ingest step (e.g. article generation);
// article generation itself is out of this service's scope (spec.md §1
// "Out of scope"), so by default no Downstream steps are registered and the
// composite run is just monitor → ingest.
type Downstream func(ctx context.Context, tenantID string) error

// StepResult reports one step's outcome, including whether its timeout
// fired, per SPEC_FULL.md's "composite cron step timing metadata" addition.
type StepResult struct {
	Name       string
	DurationMS int64
	TimedOut   bool
	Err        error
}

// Result is the full composite-cron outcome for one invocation.
type Result struct {
	Monitor monitor.Result
	Ingest  []ingestion.ConnectorResult
	Steps   []StepResult
}

// Options configures one composite run.
type Options struct {
	TenantID          string
	TriggeredBy       string
	Force             bool
	MonitorTimeout    time.Duration // default 90s
	IngestTimeout     time.Duration // default 120s
	StepCooldown      time.Duration // default 3s
	DownstreamSteps   []Downstream
}

// Runner wires the monitor and ingestion runners into one scheduled batch.
type Runner struct {
	Monitor *monitor.Runner
	Ingest  *ingestion.Runner
	Log     zerolog.Logger
}

// New constructs a composite Runner.
func New(m *monitor.Runner, i *ingestion.Runner, log zerolog.Logger) *Runner {
	return &Runner{Monitor: m, Ingest: i, Log: log}
}

// Run executes monitor, then ingest, then any downstream steps, in order.
// A failing or timed-out step does not prevent subsequent steps from
// running (spec.md §4.10 "Step failures do not prevent subsequent steps").
func (r *Runner) Run(ctx context.Context, opts Options) Result {
	monitorTimeout := opts.MonitorTimeout
	if monitorTimeout <= 0 {
		monitorTimeout = 90 * time.Second
	}
	ingestTimeout := opts.IngestTimeout
	if ingestTimeout <= 0 {
		ingestTimeout = 120 * time.Second
	}
	cooldown := opts.StepCooldown
	if cooldown <= 0 {
		cooldown = 3 * time.Second
	}

	res := Result{}

	if r.Monitor != nil {
		start := time.Now()
		mctx, cancel := context.WithTimeout(ctx, monitorTimeout)
		mr, err := r.Monitor.Run(mctx, opts.TenantID, opts.TriggeredBy)
		cancel()
		step := StepResult{Name: "monitor", DurationMS: time.Since(start).Milliseconds(), Err: err}
		if mctx.Err() == context.DeadlineExceeded {
			step.TimedOut = true
		}
		res.Monitor = mr
		res.Steps = append(res.Steps, step)
		if err != nil {
			r.Log.Warn().Err(err).Msg("cron: monitor step failed")
		}
		sleep(ctx, cooldown)
	}

	if r.Ingest != nil {
		start := time.Now()
		ictx, cancel := context.WithTimeout(ctx, ingestTimeout)
		ir := r.Ingest.RunConnectors(ictx, ingestion.Options{TenantID: opts.TenantID, Force: opts.Force})
		cancel()
		step := StepResult{Name: "ingest", DurationMS: time.Since(start).Milliseconds()}
		if ictx.Err() == context.DeadlineExceeded {
			step.TimedOut = true
		}
		res.Ingest = ir
		res.Steps = append(res.Steps, step)
		sleep(ctx, cooldown)
	}

	for i, step := range opts.DownstreamSteps {
		start := time.Now()
		err := step(ctx, opts.TenantID)
		res.Steps = append(res.Steps, StepResult{Name: "downstream", DurationMS: time.Since(start).Milliseconds(), Err: err})
		if err != nil {
			r.Log.Warn().Err(err).Int("step", i).Msg("cron: downstream step failed")
		}
		if i < len(opts.DownstreamSteps)-1 {
			sleep(ctx, cooldown)
		}
	}

	return res
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
