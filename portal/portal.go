// Package portal implements the harvest.Source strategy for HTML council
// planning portals. Fetching goes through a colly collector, parsing
// through goquery with the per-source CSS selectors.
package portal

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/planharvest/go-planning-harvest/config"
	"github.com/planharvest/go-planning-harvest/harvest"
	"github.com/planharvest/go-planning-harvest/models"
	"github.com/planharvest/go-planning-harvest/parser"
)

const captureKey = "capture"

// Portal is one council planning site, addressed by paged search URLs and
// scraped with configured selectors. Safe for the harvester's concurrent
// page fetches; the collector revisits the same search URL across retries.
type Portal struct {
	cfg       config.SourceConfig
	base      *url.URL
	collector *colly.Collector

	mu    sync.Mutex
	since time.Time // fixed by TotalPages for the rest of the run
}

// Option adjusts a Portal after the collector is built.
type Option func(*Portal)

// WithTransport swaps the collector's HTTP transport. Used by tests to
// intercept requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Portal) {
		p.collector.WithTransport(rt)
	}
}

// New builds a portal source from its configuration.
func New(cfg config.SourceConfig, userAgent string, opts ...Option) (*Portal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("portal %s: %w", cfg.Name, err)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("portal %s: parse base url: %w", cfg.Name, err)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(base.Host),
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	collector.OnResponse(func(r *colly.Response) {
		if c, ok := r.Ctx.GetAny(captureKey).(*capture); ok {
			c.status = r.StatusCode
			c.body = r.Body
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r == nil {
			return
		}
		if c, ok := r.Ctx.GetAny(captureKey).(*capture); ok {
			c.status = r.StatusCode
			c.err = err
		}
	})

	p := &Portal{
		cfg:       cfg,
		base:      base,
		collector: collector,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the configured source name.
func (p *Portal) Name() string { return p.cfg.Name }

// capture collects one request's outcome through the collector's handler
// callbacks, keyed off the per-request colly context.
type capture struct {
	status int
	body   []byte
	err    error
}

// TotalPages loads the first results page and derives the page count from
// the portal's result-count banner. It also pins the since date used to
// build every subsequent page URL in this run.
func (p *Portal) TotalPages(ctx context.Context, since time.Time) (int, error) {
	p.mu.Lock()
	p.since = since
	p.mu.Unlock()

	raw, err := p.fetch(ctx, p.pageURL(0, since))
	if err != nil {
		return 0, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return 0, fmt.Errorf("parse listing markup: %w", err)
	}
	banner := doc.Find(p.cfg.Selectors.TotalCount).First()
	if banner.Length() == 0 {
		return 0, fmt.Errorf("count selector %q matched nothing", p.cfg.Selectors.TotalCount)
	}
	count, err := parser.ExtractCount(banner.Text())
	if err != nil {
		return 0, fmt.Errorf("result count: %w", err)
	}

	pages := (count + p.cfg.PageSize - 1) / p.cfg.PageSize
	slog.Debug("portal discovered result count",
		slog.String("source", p.cfg.Name),
		slog.Int("results", count),
		slog.Int("pages", pages),
	)
	return pages, nil
}

// FetchPage retrieves one listing page by zero-based index.
func (p *Portal) FetchPage(ctx context.Context, page int) (*harvest.RawPage, error) {
	p.mu.Lock()
	since := p.since
	p.mu.Unlock()

	raw, err := p.fetch(ctx, p.pageURL(page, since))
	if err != nil {
		return nil, err
	}
	raw.Page = page
	return raw, nil
}

// Parse extracts one record per configured row selector. Rows missing
// their reference or detail link are logged and skipped, never fatal.
func (p *Portal) Parse(raw *harvest.RawPage) []*models.Record {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		slog.Error("portal markup unreadable",
			slog.String("source", p.cfg.Name),
			slog.Int("page", raw.Page),
			slog.Any("error", err),
		)
		return nil
	}

	sel := p.cfg.Selectors
	var records []*models.Record
	doc.Find(sel.Row).Each(func(i int, row *goquery.Selection) {
		record := &models.Record{
			Source:      p.cfg.Name,
			Reference:   parser.NormalizeReference(row.Find(sel.Reference).First().Text()),
			Address:     parser.CollapseWhitespace(row.Find(sel.Address).First().Text()),
			Proposal:    parser.CollapseWhitespace(row.Find(sel.Proposal).First().Text()),
			Status:      parser.NormalizeStatus(row.Find(sel.Status).First().Text()),
			HarvestedAt: time.Now(),
		}
		if received, err := parser.ParseDate(row.Find(sel.ReceivedDate).First().Text()); err == nil {
			record.ReceivedDate = received.Format("2006-01-02")
		}
		if href, ok := row.Find(sel.DetailLink).First().Attr("href"); ok {
			record.URL = p.absoluteURL(raw.URL, href)
		}

		if err := parser.ValidateRecord(record); err != nil {
			slog.Debug("skipping listing row",
				slog.String("source", p.cfg.Name),
				slog.Int("page", raw.Page),
				slog.Int("row", i),
				slog.Any("error", err),
			)
			return
		}
		records = append(records, record)
	})
	return records
}

// FetchDetail loads a record's detail page and fills in the fields the
// listing row left blank. Detail markup is queried with the same status
// and received-date selectors as the listing.
func (p *Portal) FetchDetail(ctx context.Context, record *models.Record) error {
	raw, err := p.fetch(ctx, record.URL)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return fmt.Errorf("parse detail markup: %w", err)
	}

	sel := p.cfg.Selectors
	if status := parser.NormalizeStatus(doc.Find(sel.Status).First().Text()); status != "" {
		record.Status = status
	}
	if record.ReceivedDate == "" {
		if received, err := parser.ParseDate(doc.Find(sel.ReceivedDate).First().Text()); err == nil {
			record.ReceivedDate = received.Format("2006-01-02")
		}
	}
	if proposal := parser.CollapseWhitespace(doc.Find(sel.Proposal).First().Text()); proposal != "" {
		record.Proposal = proposal
	}
	return nil
}

// fetch issues one GET through the collector, funneling the outcome into a
// per-request capture. The collector enforces the request timeout; ctx is
// checked up front so canceled work never reaches the network.
func (p *Portal) fetch(ctx context.Context, pageURL string) (*harvest.RawPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &capture{}
	reqCtx := colly.NewContext()
	reqCtx.Put(captureKey, out)

	if err := p.collector.Request(http.MethodGet, pageURL, nil, reqCtx, nil); err != nil {
		return nil, harvest.ClassifyError(err, out.status)
	}
	if out.err != nil {
		return nil, harvest.ClassifyError(out.err, out.status)
	}

	return &harvest.RawPage{
		URL:        pageURL,
		StatusCode: out.status,
		Body:       out.body,
		FetchedAt:  time.Now(),
	}, nil
}

// pageURL expands the search path template for one page of the window.
func (p *Portal) pageURL(page int, since time.Time) string {
	path := strings.ReplaceAll(p.cfg.SearchPath, "{page}", strconv.Itoa(page))
	path = strings.ReplaceAll(path, "{from}", since.Format("2006-01-02"))

	ref, err := url.Parse(path)
	if err != nil {
		// Validated at startup; fall back to naive joining.
		return strings.TrimSuffix(p.cfg.BaseURL, "/") + path
	}
	return p.base.ResolveReference(ref).String()
}

func (p *Portal) absoluteURL(pageURL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	base := p.base
	if parsed, err := url.Parse(pageURL); err == nil {
		base = parsed
	}
	return base.ResolveReference(ref).String()
}
