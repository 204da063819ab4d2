// Package harvest contains the per-source harvester and the orchestrator
// that runs every source concurrently into one consolidated report.
package harvest

import (
	"context"
	"time"

	"github.com/planharvest/go-planning-harvest/models"
)

// RawPage is one fetched listing page, before parsing.
type RawPage struct {
	Page       int
	URL        string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// Source is the pluggable per-portal strategy consumed by a Harvester.
// Implementations own everything portal-specific: URL construction, page
// fetching, and DOM parsing.
type Source interface {
	// Name identifies the source in stats, metrics, and logs.
	Name() string

	// TotalPages reports how many listing pages cover applications
	// received since the given date. A failure here fails the whole
	// harvester, not just a page.
	TotalPages(ctx context.Context, since time.Time) (int, error)

	// FetchPage retrieves one listing page by zero-based index. Failures
	// are retried under the harvester's retry policy.
	FetchPage(ctx context.Context, page int) (*RawPage, error)

	// Parse extracts records from a fetched page. Pure: implementations
	// swallow and log their own parse problems and return zero records
	// for a page they cannot understand.
	Parse(raw *RawPage) []*models.Record
}

// DetailFetcher is an optional Source extension for portals whose listing
// rows need a secondary detail-page fetch to complete a record. The
// harvester runs these through its detail concurrency bound.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, record *models.Record) error
}
