package scraper

import (
	"context"
	"time"
)

// Fetcher retrieves a URL and returns the raw body plus transport metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (RawContent, error)
}

// Pipeline turns raw fetched content into processed text, links, and
// metadata for one family of MIME types.
type Pipeline interface {
	// CanProcess reports whether the pipeline claims the MIME type. The
	// type is compared without parameters, case-insensitively.
	CanProcess(mimeType string) bool
	// Process decodes the raw bytes and runs the pipeline's stage chain.
	// Per-stage errors accumulate inside the returned ProcessedContent;
	// the error return is reserved for failures before any stage ran.
	Process(ctx context.Context, raw RawContent, opts ProcessOptions) (ProcessedContent, error)
	// Close releases pipeline resources, such as a shared render engine.
	Close() error
}

// Renderer loads a page in a headless browser and returns the DOM after
// scripts ran.
type Renderer interface {
	Render(ctx context.Context, url string) (RenderResult, error)
}

// CrawlStore persists crawl and page metadata for serve mode.
type CrawlStore interface {
	CreateCrawl(ctx context.Context, crawl Crawl) error
	UpdateCrawlStatus(ctx context.Context, crawlID string, status CrawlStatus, errText string, counters CrawlCounters) error
	RecordPage(ctx context.Context, crawlID string, page PageResult) error
	GetCrawl(ctx context.Context, crawlID string) (Crawl, error)
	// ListCrawls returns crawls newest first, optionally filtered by
	// status. A nil status matches everything.
	ListCrawls(ctx context.Context, status *CrawlStatus, limit, offset int) ([]Crawl, error)
	ListPages(ctx context.Context, crawlID string) ([]PageResult, error)
}

// ArchiveStore writes raw page bodies and returns a URI.
type ArchiveStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes page completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, event PageEvent) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl submissions.
type Queue interface {
	Enqueue(ctx context.Context, sub Submission) error
	Dequeue(ctx context.Context) (Submission, error)
}

// Hasher computes digests for archive paths and page events.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
