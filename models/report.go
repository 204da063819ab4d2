package models

import "time"

// SourceFailure marks a source whose harvester failed before producing
// partial stats: discovery failed or the run deadline elapsed. Distinct
// from a source that merely lost individual pages.
type SourceFailure struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// ReportTotals aggregates accounting across every source in a run.
type ReportTotals struct {
	Records        int `json:"records"`
	PagesSucceeded int `json:"pages_succeeded"`
	PagesFailed    int `json:"pages_failed"`
	Retries        int `json:"retries"`
}

// Report is the consolidated outcome of one orchestrator run. It is built
// exactly once, after every harvester has settled, and always distinguishes
// "zero records because the source was empty" from "zero records because
// the source failed".
type Report struct {
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Duration      time.Duration   `json:"duration"`
	Sources       []HarvestStats  `json:"sources"`
	FailedSources []SourceFailure `json:"failed_sources,omitempty"`
	Totals        ReportTotals    `json:"totals"`
	Incomplete    bool            `json:"incomplete"`

	// Records carries every harvested record for the persistence
	// collaborator. Excluded from the JSON summary.
	Records []*Record `json:"-"`
}

// HasFailures reports whether any source failed outright.
func (r *Report) HasFailures() bool {
	return len(r.FailedSources) > 0
}

// Clone returns an independent copy of the report. Records are shared;
// they are immutable once a run settles.
func (r *Report) Clone() *Report {
	out := *r
	out.Sources = make([]HarvestStats, len(r.Sources))
	for i := range r.Sources {
		out.Sources[i] = r.Sources[i].Clone()
	}
	if r.FailedSources != nil {
		out.FailedSources = make([]SourceFailure, len(r.FailedSources))
		copy(out.FailedSources, r.FailedSources)
	}
	if r.Records != nil {
		out.Records = make([]*Record, len(r.Records))
		copy(out.Records, r.Records)
	}
	return &out
}
