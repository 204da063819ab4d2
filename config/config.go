// Package config holds the harvester engine and per-source configuration.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the full engine configuration: output and observability
// settings plus one SourceConfig per council portal.
type Config struct {
	OutputFile   string        `mapstructure:"output_file"`
	OutputFormat string        `mapstructure:"output_format"` // csv, json, or dual
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	UserAgent    string        `mapstructure:"user_agent"`
	Window       time.Duration `mapstructure:"window"` // default harvest look-back
	Verbose      bool          `mapstructure:"verbose"`

	PipelineBufferSize int `mapstructure:"pipeline_buffer_size"`
	BatchSize          int `mapstructure:"batch_size"`
	DedupeMaxSize      int `mapstructure:"dedupe_max_size"`

	Defaults SourceDefaults `mapstructure:"defaults"`
	Sources  []SourceConfig `mapstructure:"sources"`
}

// SourceDefaults supplies values for fields a source omits.
type SourceDefaults struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax   time.Duration `mapstructure:"retry_backoff_max"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PageConcurrency   int           `mapstructure:"page_concurrency"`
	DetailConcurrency int           `mapstructure:"detail_concurrency"`
	PageSize          int           `mapstructure:"page_size"`
}

// SourceConfig describes one council planning portal. Immutable once a
// harvest run starts.
type SourceConfig struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`

	// SearchPath is the listing path template. {page} is replaced with the
	// zero-based page index and {from} with the since date (2006-01-02).
	SearchPath string `mapstructure:"search_path"`

	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"` // 0 = fixed-interval limiter
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax   time.Duration `mapstructure:"retry_backoff_max"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PageConcurrency   int           `mapstructure:"page_concurrency"`
	DetailConcurrency int           `mapstructure:"detail_concurrency"`
	FetchDetails      bool          `mapstructure:"fetch_details"`
	PageSize          int           `mapstructure:"page_size"`

	Selectors Selectors `mapstructure:"selectors"`
}

// Selectors are the CSS selectors used to pull records out of a portal's
// listing markup. Empty fields fall back to DefaultSelectors.
type Selectors struct {
	Row          string `mapstructure:"row"`
	Reference    string `mapstructure:"reference"`
	Address      string `mapstructure:"address"`
	Proposal     string `mapstructure:"proposal"`
	Status       string `mapstructure:"status"`
	ReceivedDate string `mapstructure:"received_date"`
	DetailLink   string `mapstructure:"detail_link"`
	TotalCount   string `mapstructure:"total_count"`
}

// DefaultSelectors matches the markup most Idox-style portals emit.
func DefaultSelectors() Selectors {
	return Selectors{
		Row:          "li.searchresult",
		Reference:    "p.metaInfo span.applicationNumber",
		Address:      "p.address",
		Proposal:     "a.summaryLink",
		Status:       "p.metaInfo span.status",
		ReceivedDate: "p.metaInfo span.received",
		DetailLink:   "a.summaryLink",
		TotalCount:   "span.showing-count",
	}
}

// DefaultConfig returns conservative engine defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputFile:   "output/applications.csv",
		OutputFormat: "csv",
		MetricsAddr:  "",
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Window:       30 * 24 * time.Hour,
		Verbose:      false,

		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,

		Defaults: SourceDefaults{
			RequestsPerSecond: 2,
			Burst:             0,
			MaxRetries:        2,
			RetryBackoff:      200 * time.Millisecond,
			RetryBackoffMax:   2 * time.Second,
			Timeout:           10 * time.Second,
			PageConcurrency:   4,
			DetailConcurrency: 2,
			PageSize:          10,
		},
	}
}

// ApplyDefaults fills every unset source field from the defaults block.
func (c *Config) ApplyDefaults() {
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.RequestsPerSecond == 0 {
			s.RequestsPerSecond = c.Defaults.RequestsPerSecond
		}
		if s.Burst == 0 {
			s.Burst = c.Defaults.Burst
		}
		if s.MaxRetries == 0 {
			s.MaxRetries = c.Defaults.MaxRetries
		}
		if s.RetryBackoff == 0 {
			s.RetryBackoff = c.Defaults.RetryBackoff
		}
		if s.RetryBackoffMax == 0 {
			s.RetryBackoffMax = c.Defaults.RetryBackoffMax
		}
		if s.Timeout == 0 {
			s.Timeout = c.Defaults.Timeout
		}
		if s.PageConcurrency == 0 {
			s.PageConcurrency = c.Defaults.PageConcurrency
		}
		if s.DetailConcurrency == 0 {
			s.DetailConcurrency = c.Defaults.DetailConcurrency
		}
		if s.PageSize == 0 {
			s.PageSize = c.Defaults.PageSize
		}

		defaults := DefaultSelectors()
		sel := &s.Selectors
		if sel.Row == "" {
			sel.Row = defaults.Row
		}
		if sel.Reference == "" {
			sel.Reference = defaults.Reference
		}
		if sel.Address == "" {
			sel.Address = defaults.Address
		}
		if sel.Proposal == "" {
			sel.Proposal = defaults.Proposal
		}
		if sel.Status == "" {
			sel.Status = defaults.Status
		}
		if sel.ReceivedDate == "" {
			sel.ReceivedDate = defaults.ReceivedDate
		}
		if sel.DetailLink == "" {
			sel.DetailLink = defaults.DetailLink
		}
		if sel.TotalCount == "" {
			sel.TotalCount = defaults.TotalCount
		}
	}
}

// Validate ensures all configuration values are coherent. Called before
// any harvesting begins; a failure here is a startup error, never a
// harvest failure.
func (c *Config) Validate() error {
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
		name := c.Sources[i].Name
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate source name %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Validate checks a single source's settings.
func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source name cannot be empty")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsed, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if s.SearchPath == "" {
		return fmt.Errorf("search path cannot be empty")
	}
	if !strings.Contains(s.SearchPath, "{page}") {
		return fmt.Errorf("search path must contain a {page} placeholder")
	}
	if s.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if s.Burst < 0 {
		return fmt.Errorf("burst cannot be negative")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if s.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if s.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if s.RetryBackoffMax > 0 && s.RetryBackoff > s.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", s.RetryBackoff, s.RetryBackoffMax)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if s.PageConcurrency <= 0 {
		return fmt.Errorf("page concurrency must be positive")
	}
	if s.DetailConcurrency <= 0 {
		return fmt.Errorf("detail concurrency must be positive")
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	return nil
}
