// Package models defines data structures shared across the harvester.
package models

import "time"

// Record represents one planning application harvested from a council portal.
type Record struct {
	Source       string    `csv:"source" json:"source"`
	Reference    string    `csv:"reference" json:"reference"`
	Address      string    `csv:"address" json:"address"`
	Proposal     string    `csv:"proposal" json:"proposal"`
	Status       string    `csv:"status" json:"status"`
	ReceivedDate string    `csv:"received_date" json:"received_date"`
	URL          string    `csv:"url" json:"url"`
	HarvestedAt  time.Time `csv:"harvested_at" json:"harvested_at"`
}

// PageFailure records a listing page that exhausted its retry budget.
type PageFailure struct {
	Page   int    `json:"page"`
	Reason string `json:"reason"`
}

// HarvestStats holds the per-source accounting for one run. It is owned
// exclusively by its harvester while the run is in flight and frozen once
// the harvester settles.
type HarvestStats struct {
	Source         string        `json:"source"`
	PagesTotal     int           `json:"pages_total"`
	PagesSucceeded int           `json:"pages_succeeded"`
	PagesFailed    int           `json:"pages_failed"`
	FailedPages    []PageFailure `json:"failed_pages,omitempty"`
	Records        int           `json:"records"`
	Retries        int           `json:"retries"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	PagesPerSecond float64       `json:"pages_per_second"`
	Incomplete     bool          `json:"incomplete"`
}

// Finalize stamps the end of the run and derives duration and throughput.
func (s *HarvestStats) Finalize() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
	if secs := s.Duration.Seconds(); secs > 0 {
		s.PagesPerSecond = float64(s.PagesSucceeded+s.PagesFailed) / secs
	}
}

// Clone returns an independent copy so callers can hold a stats snapshot
// without aliasing the harvester's internal state.
func (s *HarvestStats) Clone() HarvestStats {
	out := *s
	if s.FailedPages != nil {
		out.FailedPages = make([]PageFailure, len(s.FailedPages))
		copy(out.FailedPages, s.FailedPages)
	}
	return out
}
