package scraper

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Scope controls which discovered links stay inside a crawl.
type Scope string

// Scope values accepted by ScrapeOptions.
const (
	// ScopeSubpages keeps links under the seed's base path on the same
	// host and scheme. This is the default.
	ScopeSubpages Scope = "subpages"
	// ScopeHostname keeps links whose hostname matches the seed's exactly.
	ScopeHostname Scope = "hostname"
	// ScopeDomain keeps links sharing the seed's registrable domain.
	ScopeDomain Scope = "domain"
)

// RenderMode decides when the HTML pipeline renders a page in a headless
// browser before processing.
type RenderMode string

// Render modes accepted by ScrapeOptions.
const (
	RenderNever  RenderMode = "never"
	RenderAuto   RenderMode = "auto"
	RenderAlways RenderMode = "always"
)

// DefaultSchemes is the scheme allow-list applied when ScrapeOptions leaves
// AllowedSchemes empty.
var DefaultSchemes = []string{"http", "https", "file"}

// Progress is the cumulative crawl state reported after every fetch attempt.
type Progress struct {
	// Completed counts pages whose fetch attempt has finished, successfully
	// or not.
	Completed int `json:"completed"`
	// Total counts URLs admitted to the crawl so far. It grows as links are
	// discovered.
	Total int `json:"total"`
	// URL is the page the report refers to.
	URL string `json:"url"`
}

// ProgressFunc receives progress reports. Implementations must be fast; the
// orchestrator calls them inline.
type ProgressFunc func(Progress)

// ScrapeOptions captures per-crawl configuration requested by the caller.
type ScrapeOptions struct {
	SeedURL         string     `json:"seed_url"`
	MaxDepth        int        `json:"max_depth"`
	MaxPages        int        `json:"max_pages"`
	MaxConcurrency  int        `json:"max_concurrency"`
	Scope           Scope      `json:"scope"`
	IncludePatterns []string   `json:"include_patterns,omitempty"`
	ExcludePatterns []string   `json:"exclude_patterns,omitempty"`
	FollowRedirects bool       `json:"follow_redirects"`
	AllowedSchemes  []string   `json:"allowed_schemes,omitempty"`
	RenderMode      RenderMode `json:"render_mode,omitempty"`

	// OnProgress is invoked after every fetch attempt. Optional.
	OnProgress ProgressFunc `json:"-"`
}

// Normalize fills zero values with defaults. MaxDepth 0 means seed only and
// MaxPages 0 means uncapped, so neither is touched here.
func (o *ScrapeOptions) Normalize() {
	if o.Scope == "" {
		o.Scope = ScopeSubpages
	}
	if o.RenderMode == "" {
		o.RenderMode = RenderNever
	}
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	if len(o.AllowedSchemes) == 0 {
		o.AllowedSchemes = append([]string(nil), DefaultSchemes...)
	}
}

// Validate reports configuration-level problems. These are the only fatal
// errors a crawl can have; everything later accumulates per page.
func (o ScrapeOptions) Validate() error {
	if strings.TrimSpace(o.SeedURL) == "" {
		return fmt.Errorf("seed url is required")
	}
	u, err := url.Parse(o.SeedURL)
	if err != nil {
		return fmt.Errorf("parse seed url: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("seed url %q has no scheme", o.SeedURL)
	}
	if !SchemeAllowed(u.Scheme, o.AllowedSchemes) {
		return fmt.Errorf("seed url scheme %q is not in the allow-list %v", u.Scheme, o.AllowedSchemes)
	}
	switch o.Scope {
	case ScopeSubpages, ScopeHostname, ScopeDomain:
	default:
		return fmt.Errorf("unknown scope %q", o.Scope)
	}
	switch o.RenderMode {
	case RenderNever, RenderAuto, RenderAlways:
	default:
		return fmt.Errorf("unknown render mode %q", o.RenderMode)
	}
	if o.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative")
	}
	if o.MaxPages < 0 {
		return fmt.Errorf("max pages must not be negative")
	}
	return nil
}

// SchemeAllowed reports whether scheme appears in the allow-list. The empty
// list falls back to DefaultSchemes.
func SchemeAllowed(scheme string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = DefaultSchemes
	}
	scheme = strings.ToLower(scheme)
	for _, s := range allowed {
		if scheme == strings.ToLower(s) {
			return true
		}
	}
	return false
}

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	URL             string
	FollowRedirects bool
	Headers         http.Header
}

// RawContent is the result of a fetch: undecoded bytes plus transport
// metadata. SourceURL is the final URL after any redirects.
type RawContent struct {
	SourceURL  string
	MimeType   string
	Charset    string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ProcessOptions tunes a single pipeline invocation.
type ProcessOptions struct {
	RenderMode RenderMode
}

// ProcessedContent is a pipeline's output: canonical text, extracted
// metadata and links, and every error the stages recorded along the way.
type ProcessedContent struct {
	TextContent string
	Metadata    map[string]any
	Links       []string
	Errors      []error
}

// Title returns the extracted title, if any stage recorded one.
func (p ProcessedContent) Title() string {
	if t, ok := p.Metadata["title"].(string); ok {
		return t
	}
	return ""
}

// PageResult is the per-page entry of a crawl result, in completion order.
type PageResult struct {
	URL         string         `json:"url"`
	Depth       int            `json:"depth"`
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"content,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
	StatusCode  int            `json:"status_code,omitempty"`
	MimeType    string         `json:"mime_type,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	ArchiveURI  string         `json:"archive_uri,omitempty"`
	FetchedAt   time.Time      `json:"fetched_at,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
}

// Failed reports whether the page never produced usable content.
func (p PageResult) Failed() bool {
	return p.Content == "" && len(p.Errors) > 0
}

// CrawlCounters tracks aggregate stats for one crawl.
type CrawlCounters struct {
	PagesFetched   int `json:"pages_fetched"`
	PagesFailed    int `json:"pages_failed"`
	URLsDiscovered int `json:"urls_discovered"`
}

// CrawlResult aggregates everything a finished (or canceled) crawl
// produced.
type CrawlResult struct {
	SeedURL   string        `json:"seed_url"`
	Pages     []PageResult  `json:"pages"`
	Counters  CrawlCounters `json:"counters"`
	Canceled  bool          `json:"canceled,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// CrawlStatus represents the lifecycle state of a submitted crawl.
type CrawlStatus string

// Crawl status values persisted in the crawl store.
const (
	CrawlStatusQueued    CrawlStatus = "queued"
	CrawlStatusRunning   CrawlStatus = "running"
	CrawlStatusSucceeded CrawlStatus = "succeeded"
	CrawlStatusFailed    CrawlStatus = "failed"
	CrawlStatusCanceled  CrawlStatus = "canceled"
)

// Crawl is the metadata persisted for each submitted crawl request.
type Crawl struct {
	ID        string        `json:"id"`
	Status    CrawlStatus   `json:"status"`
	Submitted time.Time     `json:"submitted_at"`
	Started   *time.Time    `json:"started_at,omitempty"`
	Finished  *time.Time    `json:"finished_at,omitempty"`
	ErrorText string        `json:"error_text,omitempty"`
	Options   ScrapeOptions `json:"options"`
	Counters  CrawlCounters `json:"counters"`
}

// PageEvent is published for each completed page when a publisher is
// configured.
type PageEvent struct {
	CrawlID     string    `json:"crawl_id"`
	URL         string    `json:"url"`
	MimeType    string    `json:"mime_type,omitempty"`
	StatusCode  int       `json:"status_code,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Submission wraps a crawl ready to run, as carried by the queue.
type Submission struct {
	CrawlID   string        `json:"crawl_id"`
	Options   ScrapeOptions `json:"options"`
	Attempt   int           `json:"attempt,omitempty"`
	Submitted int64         `json:"submitted_unix,omitempty"`
}

// RenderResult is what a Renderer returns for one page.
type RenderResult struct {
	HTML       string
	FinalURL   string
	StatusCode int
	Duration   time.Duration
}
