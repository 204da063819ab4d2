package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/planharvest/go-planning-harvest/config"
	"github.com/planharvest/go-planning-harvest/models"
	"github.com/planharvest/go-planning-harvest/parallel"
	"github.com/planharvest/go-planning-harvest/ratelimit"
)

// State tracks a harvester's lifecycle. Settled is terminal; an instance
// is not reused across runs.
type State int32

const (
	StateIdle State = iota
	StateDiscovering
	StateFetching
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateFetching:
		return "fetching"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Outcome is a settled harvester's result: frozen stats plus every record
// extracted from the pages that succeeded.
type Outcome struct {
	Stats   models.HarvestStats
	Records []*models.Record
}

// Harvester fetches and parses all listing pages of one source, honoring
// that source's rate and concurrency configuration. Page failures are
// isolated; only discovery failure or a run deadline fails the harvester.
type Harvester struct {
	cfg     config.SourceConfig
	src     Source
	limiter ratelimit.Limiter
	metrics *Metrics

	state atomic.Int32

	mu      sync.Mutex
	stats   models.HarvestStats
	records []*models.Record
}

// New builds a harvester for one source. A burst capacity selects the
// token-bucket limiter; otherwise requests are spaced at a fixed interval.
func New(cfg config.SourceConfig, src Source, metrics *Metrics) (*Harvester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("harvester %s: %w", cfg.Name, err)
	}

	var limiter ratelimit.Limiter
	var err error
	if cfg.Burst > 0 {
		limiter, err = ratelimit.NewTokenBucket(cfg.RequestsPerSecond, cfg.Burst)
	} else {
		limiter, err = ratelimit.NewIntervalLimiter(cfg.RequestsPerSecond)
	}
	if err != nil {
		return nil, fmt.Errorf("harvester %s: %w", cfg.Name, err)
	}

	return &Harvester{
		cfg:     cfg,
		src:     src,
		limiter: limiter,
		metrics: metrics,
	}, nil
}

// Name returns the source identifier.
func (h *Harvester) Name() string { return h.cfg.Name }

// State reports the current lifecycle state.
func (h *Harvester) State() State { return State(h.state.Load()) }

// Stats returns an independent snapshot of the accounting so far.
func (h *Harvester) Stats() models.HarvestStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats.Clone()
}

// Run harvests every listing page published since the given date. stop,
// when non-nil, is consulted between chunks only; a positive answer
// settles the run early with partial stats flagged incomplete.
//
// The returned error is non-nil only for harvester-level failures
// (discovery, deadline); individual failed pages are reported through
// the outcome's stats instead.
func (h *Harvester) Run(ctx context.Context, since time.Time, stop func() bool) (*Outcome, error) {
	if !h.state.CompareAndSwap(int32(StateIdle), int32(StateDiscovering)) {
		return nil, fmt.Errorf("harvester %s: already run (state %s)", h.cfg.Name, h.State())
	}
	defer h.state.Store(int32(StateSettled))

	h.mu.Lock()
	h.stats = models.HarvestStats{Source: h.cfg.Name, StartTime: time.Now()}
	h.mu.Unlock()

	total, err := h.discover(ctx, since)
	if err != nil {
		h.finalize()
		h.metrics.IncSourceFailed()
		return nil, &DiscoveryError{Source: h.cfg.Name, Err: err}
	}

	h.mu.Lock()
	h.stats.PagesTotal = total
	h.mu.Unlock()

	slog.Info("harvest discovered pages",
		slog.String("source", h.cfg.Name),
		slog.Int("pages", total),
		slog.Time("since", since),
	)

	h.state.Store(int32(StateFetching))

	if total > 0 {
		if err := h.fetchPages(ctx, total, stop); err != nil {
			h.finalize()
			h.metrics.IncSourceFailed()
			return nil, fmt.Errorf("harvester %s: %w", h.cfg.Name, err)
		}
	}

	if h.cfg.FetchDetails {
		h.enrichDetails(ctx)
	}

	h.finalize()

	h.mu.Lock()
	outcome := &Outcome{Stats: h.stats.Clone(), Records: h.records}
	h.mu.Unlock()

	slog.Info("harvest settled",
		slog.String("source", h.cfg.Name),
		slog.Int("pages_succeeded", outcome.Stats.PagesSucceeded),
		slog.Int("pages_failed", outcome.Stats.PagesFailed),
		slog.Int("records", outcome.Stats.Records),
		slog.Bool("incomplete", outcome.Stats.Incomplete),
	)
	return outcome, nil
}

func (h *Harvester) discover(ctx context.Context, since time.Time) (int, error) {
	discCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	total, err := h.src.TotalPages(discCtx, since)
	if err != nil {
		return 0, err
	}
	if total < 0 {
		return 0, fmt.Errorf("source reported %d pages", total)
	}
	return total, nil
}

// fetchPages runs the chunked page loop. A page operation is: rate-limiter
// acquire, fetch with the per-request timeout, parse, accumulate.
func (h *Harvester) fetchPages(ctx context.Context, total int, stop func() bool) error {
	pages := make([]int, total)
	for i := range pages {
		pages[i] = i
	}

	var attempts atomic.Int64

	op := func(ctx context.Context, page int) ([]*models.Record, error) {
		attempts.Add(1)
		if err := h.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()

		start := time.Now()
		raw, err := h.src.FetchPage(reqCtx, page)
		if err != nil {
			return nil, ClassifyError(err, 0)
		}
		records := h.src.Parse(raw)
		h.metrics.ObservePageDuration(h.cfg.Name, time.Since(start))
		return records, nil
	}

	results, err := parallel.ProcessInChunks(ctx, pages, op, parallel.Options{
		Concurrency:   h.cfg.PageConcurrency,
		RetryAttempts: h.cfg.MaxRetries,
		RetryDelay:    h.cfg.RetryBackoff,
		RetryDelayMax: h.cfg.RetryBackoffMax,
		Stop:          stop,
		OnProgress: func(completed, total int) {
			if completed%10 == 0 || completed == total {
				slog.Debug("harvest progress",
					slog.String("source", h.cfg.Name),
					slog.Int("completed", completed),
					slog.Int("total", total),
				)
			}
		},
	})

	h.fold(results)

	retries := int(attempts.Load()) - len(results)
	if retries > 0 {
		h.mu.Lock()
		h.stats.Retries = retries
		h.mu.Unlock()
		h.metrics.AddRetries(h.cfg.Name, retries)
	}

	if errors.Is(err, parallel.ErrStopped) {
		h.mu.Lock()
		h.stats.Incomplete = true
		h.mu.Unlock()
		return nil
	}
	return err
}

// fold accumulates settled page results into stats and the record set.
func (h *Harvester) fold(results []parallel.Result[[]*models.Record]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, res := range results {
		if res.Success() {
			h.stats.PagesSucceeded++
			h.stats.Records += len(res.Value)
			h.records = append(h.records, res.Value...)
			h.metrics.IncPage(h.cfg.Name, "success")
			h.metrics.AddRecords(h.cfg.Name, len(res.Value))
			continue
		}

		label := ErrorTypeLabel(res.Err)
		h.stats.PagesFailed++
		h.stats.FailedPages = append(h.stats.FailedPages, models.PageFailure{
			Page:   res.Index,
			Reason: label,
		})
		h.metrics.IncPage(h.cfg.Name, "failure")
		h.metrics.IncError(h.cfg.Name, label)

		slog.Error("harvest page failed",
			slog.String("source", h.cfg.Name),
			slog.Int("page", res.Index),
			slog.String("category", label),
			slog.Any("error", res.Err),
		)
	}
}

// enrichDetails runs the optional secondary detail-page pass. Detail
// failures degrade individual records, never the harvest.
func (h *Harvester) enrichDetails(ctx context.Context) {
	fetcher, ok := h.src.(DetailFetcher)
	if !ok {
		return
	}

	h.mu.Lock()
	records := h.records
	h.mu.Unlock()
	if len(records) == 0 {
		return
	}

	bp := parallel.NewBatchProcessor[*models.Record, struct{}]()
	op := func(ctx context.Context, record *models.Record) (struct{}, error) {
		if err := h.limiter.Acquire(ctx); err != nil {
			return struct{}{}, err
		}
		reqCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
		return struct{}{}, fetcher.FetchDetail(reqCtx, record)
	}

	outcome := bp.ProcessBatch(ctx, records, op, h.cfg.DetailConcurrency, nil)
	for _, failure := range outcome.Errors {
		slog.Warn("detail fetch failed",
			slog.String("source", h.cfg.Name),
			slog.Int("record", failure.Index),
			slog.Any("error", failure.Err),
		)
	}
}

func (h *Harvester) finalize() {
	h.mu.Lock()
	h.stats.Finalize()
	h.mu.Unlock()
}
