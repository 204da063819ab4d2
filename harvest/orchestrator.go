package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/planharvest/go-planning-harvest/models"
)

// Orchestrator runs every registered harvester concurrently and waits for
// all of them to settle. One harvester's failure never cancels or blocks
// the others; the consolidated report carries every outcome.
type Orchestrator struct {
	harvesters []*Harvester
	metrics    *Metrics

	stopped atomic.Bool

	mu     sync.Mutex
	ran    bool
	report *models.Report
}

// NewOrchestrator builds an orchestrator over an explicit harvester list.
// One orchestrator serves one run.
func NewOrchestrator(metrics *Metrics, harvesters ...*Harvester) *Orchestrator {
	return &Orchestrator{
		harvesters: harvesters,
		metrics:    metrics,
	}
}

// Stop requests a cooperative shutdown. Each harvester's chunk loop
// consults the flag between chunks: in-flight work drains, no new chunk
// starts, and the run settles early with partial stats flagged incomplete.
func (o *Orchestrator) Stop() {
	if o.stopped.CompareAndSwap(false, true) {
		slog.Info("orchestrator stop requested, draining in-flight chunks")
	}
}

// Stopped reports whether a stop has been requested.
func (o *Orchestrator) Stopped() bool { return o.stopped.Load() }

// settled pairs one harvester's registration slot with its outcome.
type settled struct {
	index   int
	name    string
	outcome *Outcome
	err     error
}

// RunAll starts every harvester concurrently, waits for all of them to
// settle, and builds the consolidated report exactly once. It never
// returns an error: harvester-level failures become report data.
func (o *Orchestrator) RunAll(ctx context.Context, since time.Time) (*models.Report, error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator: already run")
	}
	o.ran = true
	o.mu.Unlock()

	start := time.Now()
	slog.Info("harvest run starting",
		slog.Int("sources", len(o.harvesters)),
		slog.Time("since", since),
	)

	results := make([]settled, len(o.harvesters))
	var wg sync.WaitGroup
	for i, h := range o.harvesters {
		wg.Add(1)
		go func(index int, h *Harvester) {
			defer wg.Done()
			outcome, err := h.Run(ctx, since, o.stopped.Load)
			results[index] = settled{index: index, name: h.Name(), outcome: outcome, err: err}
		}(i, h)
	}
	wg.Wait()

	report := o.buildReport(start, results)
	o.metrics.ObserveRunDuration(report.Duration)

	o.mu.Lock()
	o.report = report
	o.mu.Unlock()

	slog.Info("harvest run finished",
		slog.Int("records", report.Totals.Records),
		slog.Int("pages_succeeded", report.Totals.PagesSucceeded),
		slog.Int("pages_failed", report.Totals.PagesFailed),
		slog.Int("failed_sources", len(report.FailedSources)),
		slog.Bool("incomplete", report.Incomplete),
		slog.Duration("duration", report.Duration),
	)
	return report.Clone(), nil
}

// Report returns a snapshot of the last run's report, or nil before any
// run. Successive calls without an intervening run return identical data.
func (o *Orchestrator) Report() *models.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.report == nil {
		return nil
	}
	return o.report.Clone()
}

// buildReport folds every settled harvester into one report, in
// registration order. Built once, after all harvesters have settled.
func (o *Orchestrator) buildReport(start time.Time, results []settled) *models.Report {
	report := &models.Report{
		StartTime:  start,
		Incomplete: o.stopped.Load(),
	}

	for _, res := range results {
		if res.err != nil {
			report.FailedSources = append(report.FailedSources, models.SourceFailure{
				Source: res.name,
				Reason: res.err.Error(),
			})
			slog.Error("source failed",
				slog.String("source", res.name),
				slog.Any("error", res.err),
			)
			continue
		}

		stats := res.outcome.Stats
		report.Sources = append(report.Sources, stats)
		report.Records = append(report.Records, res.outcome.Records...)
		report.Totals.Records += stats.Records
		report.Totals.PagesSucceeded += stats.PagesSucceeded
		report.Totals.PagesFailed += stats.PagesFailed
		report.Totals.Retries += stats.Retries
		if stats.Incomplete {
			report.Incomplete = true
		}
	}

	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	return report
}
