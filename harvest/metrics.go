package harvest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvesting engine. One
// instance is shared by every harvester in a run; series are split by
// source label.
type Metrics struct {
	Registry        *prometheus.Registry
	PagesTotal      *prometheus.CounterVec
	PageDuration    *prometheus.HistogramVec
	RecordsTotal    *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	SourcesFailed   prometheus.Counter
	HarvestDuration prometheus.Histogram
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_pages_total",
			Help: "Listing pages attempted, by source and outcome.",
		},
		[]string{"source", "status"},
	)
	pageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_page_duration_seconds",
			Help:    "Fetch-and-parse latency per listing page.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_records_total",
			Help: "Planning application records extracted, by source.",
		},
		[]string{"source"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_retries_total",
			Help: "Page retry attempts, by source.",
		},
		[]string{"source"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_errors_total",
			Help: "Page failures by source and error type.",
		},
		[]string{"source", "error_type"},
	)
	sourcesFailed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_sources_failed_total",
			Help: "Harvesters that failed outright (discovery or deadline).",
		},
	)
	harvestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Wall-clock duration of whole orchestrator runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	registry.MustRegister(pages, pageDuration, records, retries, errorsTotal, sourcesFailed, harvestDuration)

	return &Metrics{
		Registry:        registry,
		PagesTotal:      pages,
		PageDuration:    pageDuration,
		RecordsTotal:    records,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		SourcesFailed:   sourcesFailed,
		HarvestDuration: harvestDuration,
	}
}

// IncPage counts one settled page for a source.
func (m *Metrics) IncPage(source, status string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(source, status).Inc()
}

// ObservePageDuration records one page's fetch-and-parse latency.
func (m *Metrics) ObservePageDuration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.PageDuration.WithLabelValues(source).Observe(d.Seconds())
}

// AddRecords counts extracted records for a source.
func (m *Metrics) AddRecords(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(source).Add(float64(n))
}

// AddRetries counts retry attempts for a source.
func (m *Metrics) AddRetries(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RetriesTotal.WithLabelValues(source).Add(float64(n))
}

// IncError counts one classified page failure.
func (m *Metrics) IncError(source, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(source, errorType).Inc()
}

// IncSourceFailed counts one harvester-level failure.
func (m *Metrics) IncSourceFailed() {
	if m == nil {
		return
	}
	m.SourcesFailed.Inc()
}

// ObserveRunDuration records a whole run's wall-clock time.
func (m *Metrics) ObserveRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.HarvestDuration.Observe(d.Seconds())
}
