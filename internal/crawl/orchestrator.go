package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docharvest/docharvest/internal/clock/system"
	"github.com/docharvest/docharvest/internal/hash/sha256"
	"github.com/docharvest/docharvest/internal/id/uuid"
	"github.com/docharvest/docharvest/internal/pattern"
	"github.com/docharvest/docharvest/internal/progress"
	"github.com/docharvest/docharvest/internal/scraper"
)

// Deps carries the orchestrator's collaborators. Fetcher and Pipelines are
// required; everything else is optional and defaults to no-ops or the real
// clock/hasher/ID generator.
type Deps struct {
	Fetcher   scraper.Fetcher
	Pipelines []scraper.Pipeline
	Logger    *zap.Logger

	Archive       scraper.ArchiveStore
	ArchivePrefix string
	Publisher     scraper.Publisher
	PublishTopic  string
	Events        progress.Emitter

	// OnPage runs after each page is recorded, in worker goroutines.
	OnPage func(ctx context.Context, crawlID string, page scraper.PageResult)

	Hasher scraper.Hasher
	Clock  scraper.Clock
	IDs    scraper.IDGenerator
}

// Orchestrator runs documentation crawls: a frontier of admitted URLs, a
// bounded worker pool, fetch, pipeline processing, and link discovery.
type Orchestrator struct {
	deps Deps
}

// New validates deps and builds an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("crawl: fetcher is required")
	}
	if len(deps.Pipelines) == 0 {
		return nil, errors.New("crawl: at least one pipeline is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	return &Orchestrator{deps: deps}, nil
}

// Scrape runs a crawl under a freshly generated crawl ID.
func (o *Orchestrator) Scrape(ctx context.Context, opts scraper.ScrapeOptions) (*scraper.CrawlResult, error) {
	crawlID, err := o.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("crawl id: %w", err)
	}
	return o.ScrapeCrawl(ctx, crawlID, opts)
}

// ScrapeCrawl runs a crawl under the given ID. It returns an error only
// for configuration-level failures and an unreachable seed; cancellation
// returns the partial result with Canceled set and a nil error.
func (o *Orchestrator) ScrapeCrawl(ctx context.Context, crawlID string, opts scraper.ScrapeOptions) (*scraper.CrawlResult, error) {
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	filter, err := pattern.New(opts.IncludePatterns, opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	seed, err := scraper.NormalizeURL(opts.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("seed url: %w", err)
	}
	policy, err := scraper.NewScopePolicy(opts.Scope, seed)
	if err != nil {
		return nil, err
	}

	st := &crawlState{
		opts:     opts,
		crawlID:  crawlID,
		frontier: newFrontier(),
		budget:   &budget{limit: opts.MaxPages},
		filter:   filter,
		policy:   policy,
	}
	st.frontier.Admit(seed, 0)

	startedAt := o.deps.Clock.Now()
	o.deps.Logger.Info("crawl started",
		zap.String("crawl_id", crawlID),
		zap.String("seed", seed),
		zap.Int("max_depth", opts.MaxDepth),
		zap.Int("max_pages", opts.MaxPages),
		zap.Int("concurrency", opts.MaxConcurrency))
	o.emit(progress.Event{
		CrawlID: crawlID,
		Stage:   progress.StageCrawlStart,
		Site:    hostOf(seed),
		URL:     seed,
	})

	g, gctx := errgroup.WithContext(ctx)
	watchDone := make(chan struct{})
	crawlDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-gctx.Done():
			st.frontier.Close()
		case <-crawlDone:
		}
	}()
	for i := 0; i < opts.MaxConcurrency; i++ {
		g.Go(func() error {
			return o.worker(gctx, st)
		})
	}
	runErr := g.Wait()
	close(crawlDone)
	<-watchDone

	res := &scraper.CrawlResult{
		SeedURL:   seed,
		Pages:     st.takePages(),
		Counters:  st.counters(),
		StartedAt: startedAt,
		Duration:  o.deps.Clock.Now().Sub(startedAt),
	}

	if ctx.Err() != nil {
		res.Canceled = true
		o.deps.Logger.Info("crawl canceled",
			zap.String("crawl_id", crawlID),
			zap.Int("pages", len(res.Pages)))
		o.emit(progress.Event{
			CrawlID: crawlID,
			Stage:   progress.StageCrawlDone,
			Site:    hostOf(seed),
			Dur:     res.Duration,
			Note:    "canceled",
		})
		return res, nil
	}
	if runErr != nil {
		o.deps.Logger.Error("crawl failed",
			zap.String("crawl_id", crawlID),
			zap.Error(runErr))
		o.emit(progress.Event{
			CrawlID: crawlID,
			Stage:   progress.StageCrawlError,
			Site:    hostOf(seed),
			Dur:     res.Duration,
			Note:    runErr.Error(),
		})
		return nil, runErr
	}

	o.deps.Logger.Info("crawl finished",
		zap.String("crawl_id", crawlID),
		zap.Int("pages", len(res.Pages)),
		zap.Int("fetched", res.Counters.PagesFetched),
		zap.Int("failed", res.Counters.PagesFailed),
		zap.Duration("duration", res.Duration))
	o.emit(progress.Event{
		CrawlID: crawlID,
		Stage:   progress.StageCrawlDone,
		Site:    hostOf(seed),
		Dur:     res.Duration,
	})
	return res, nil
}

func (o *Orchestrator) worker(ctx context.Context, st *crawlState) error {
	for {
		entry, ok := st.frontier.Next()
		if !ok {
			return nil
		}
		err := o.processEntry(ctx, st, entry)
		st.frontier.Done()
		if err != nil {
			st.frontier.Close()
			return err
		}
	}
}

// processEntry handles one frontier entry end to end. Its error return is
// fatal for the whole crawl and only used for seed fetch failures.
func (o *Orchestrator) processEntry(ctx context.Context, st *crawlState, entry Entry) error {
	if !st.budget.reserve() {
		st.frontier.Close()
		return nil
	}

	o.emit(progress.Event{
		CrawlID: st.crawlID,
		Stage:   progress.StageFetchStart,
		Site:    hostOf(entry.URL),
		URL:     entry.URL,
		Depth:   entry.Depth,
	})
	start := o.deps.Clock.Now()
	raw, err := o.deps.Fetcher.Fetch(ctx, scraper.FetchRequest{
		URL:             entry.URL,
		FollowRedirects: st.opts.FollowRedirects,
	})
	if err != nil {
		st.budget.release()
		if ctx.Err() != nil {
			return nil
		}
		o.deps.Logger.Warn("fetch failed",
			zap.String("crawl_id", st.crawlID),
			zap.String("url", entry.URL),
			zap.Error(err))
		o.emit(progress.Event{
			CrawlID:     st.crawlID,
			Stage:       progress.StageFetchDone,
			Site:        hostOf(entry.URL),
			URL:         entry.URL,
			Depth:       entry.Depth,
			StatusClass: progress.ClassifyStatus(statusFrom(err)),
		})
		page := scraper.PageResult{
			URL:        entry.URL,
			Depth:      entry.Depth,
			Errors:     []string{err.Error()},
			StatusCode: statusFrom(err),
			FetchedAt:  start,
		}
		o.finishPage(ctx, st, page, true)
		if entry.Depth == 0 {
			return fmt.Errorf("seed fetch failed: %w", err)
		}
		return nil
	}

	st.markFetched()
	o.emit(progress.Event{
		CrawlID:     st.crawlID,
		Stage:       progress.StageFetchDone,
		Site:        hostOf(entry.URL),
		URL:         entry.URL,
		Depth:       entry.Depth,
		Bytes:       int64(len(raw.Body)),
		StatusClass: progress.ClassifyStatus(raw.StatusCode),
		Dur:         raw.Duration,
	})

	pageURL := raw.SourceURL
	if pageURL == "" {
		pageURL = entry.URL
	}

	var (
		processed scraper.ProcessedContent
		pageErrs  []error
	)
	if pipe := o.selectPipeline(raw.MimeType); pipe == nil {
		pageErrs = append(pageErrs, &scraper.UnsupportedContentError{URL: pageURL, MimeType: raw.MimeType})
	} else {
		var procErr error
		processed, procErr = pipe.Process(ctx, raw, scraper.ProcessOptions{RenderMode: st.opts.RenderMode})
		if procErr != nil {
			pageErrs = append(pageErrs, procErr)
		}
		pageErrs = append(pageErrs, processed.Errors...)
	}

	links := o.admitLinks(st, entry, pageURL, processed.Links)

	hash := o.hashBody(raw.Body, &pageErrs)
	archiveURI := o.archivePage(ctx, st, pageURL, hash, raw, &pageErrs)
	o.publishPage(ctx, st, pageURL, hash, archiveURI, raw, &pageErrs)

	page := scraper.PageResult{
		URL:         pageURL,
		Depth:       entry.Depth,
		Title:       processed.Title(),
		Content:     processed.TextContent,
		Links:       links,
		Metadata:    processed.Metadata,
		Errors:      scraper.ErrorStrings(pageErrs),
		StatusCode:  raw.StatusCode,
		MimeType:    raw.MimeType,
		ContentHash: hash,
		ArchiveURI:  archiveURI,
		FetchedAt:   start,
		DurationMs:  raw.Duration.Milliseconds(),
	}
	o.finishPage(ctx, st, page, false)
	return nil
}

// admitLinks resolves, gates, and admits a page's outbound links. The
// returned slice holds every resolved link that passed the scheme
// allow-list, including ones scope or patterns kept out of the frontier.
func (o *Orchestrator) admitLinks(st *crawlState, entry Entry, pageURL string, found []string) []string {
	if len(found) == 0 {
		return nil
	}
	links := make([]string, 0, len(found))
	for _, href := range found {
		abs, err := scraper.ResolveLink(pageURL, href)
		if err != nil {
			continue
		}
		parsed, err := url.Parse(abs)
		if err != nil {
			continue
		}
		if !scraper.SchemeAllowed(parsed.Scheme, st.opts.AllowedSchemes) {
			continue
		}
		links = append(links, abs)
		if !st.policy.Allows(parsed) {
			continue
		}
		if !st.filter.ShouldInclude(abs) {
			continue
		}
		if entry.Depth+1 > st.opts.MaxDepth {
			continue
		}
		st.frontier.Admit(abs, entry.Depth+1)
	}
	return links
}

// finishPage records the page, reports progress, and runs hooks. Failed
// marks fetch-level failures; processing errors still count as completed.
func (o *Orchestrator) finishPage(ctx context.Context, st *crawlState, page scraper.PageResult, failed bool) {
	st.record(page, failed)
	completed := st.completed()
	total := st.frontier.Admitted()
	if st.opts.OnProgress != nil {
		st.opts.OnProgress(scraper.Progress{
			Completed: completed,
			Total:     total,
			URL:       page.URL,
		})
	}
	o.emit(progress.Event{
		CrawlID:     st.crawlID,
		Stage:       progress.StagePageDone,
		Site:        hostOf(page.URL),
		URL:         page.URL,
		Depth:       page.Depth,
		StatusClass: progress.ClassifyStatus(page.StatusCode),
		Note:        strings.Join(page.Errors, "; "),
	})
	if o.deps.OnPage != nil {
		o.deps.OnPage(ctx, st.crawlID, page)
	}
}

func (o *Orchestrator) selectPipeline(mimeType string) scraper.Pipeline {
	for _, p := range o.deps.Pipelines {
		if p.CanProcess(mimeType) {
			return p
		}
	}
	return nil
}

func (o *Orchestrator) hashBody(body []byte, pageErrs *[]error) string {
	hash, err := o.deps.Hasher.Hash(body)
	if err != nil {
		*pageErrs = append(*pageErrs, fmt.Errorf("hash body: %w", err))
		return ""
	}
	return hash
}

func (o *Orchestrator) archivePage(ctx context.Context, st *crawlState, pageURL, hash string, raw scraper.RawContent, pageErrs *[]error) string {
	if o.deps.Archive == nil {
		return ""
	}
	uri, err := o.deps.Archive.Put(ctx, archivePath(o.deps.ArchivePrefix, st.crawlID, pageURL, hash, raw.MimeType), raw.MimeType, raw.Body)
	if err != nil {
		o.deps.Logger.Warn("archive write failed",
			zap.String("crawl_id", st.crawlID),
			zap.String("url", pageURL),
			zap.Error(err))
		*pageErrs = append(*pageErrs, fmt.Errorf("archive page: %w", err))
		return ""
	}
	return uri
}

func (o *Orchestrator) publishPage(ctx context.Context, st *crawlState, pageURL, hash, archiveURI string, raw scraper.RawContent, pageErrs *[]error) {
	if o.deps.Publisher == nil {
		return
	}
	_, err := o.deps.Publisher.Publish(ctx, o.deps.PublishTopic, scraper.PageEvent{
		CrawlID:     st.crawlID,
		URL:         pageURL,
		MimeType:    raw.MimeType,
		StatusCode:  raw.StatusCode,
		ContentHash: hash,
		ArchiveURI:  archiveURI,
		FetchedAt:   o.deps.Clock.Now(),
	})
	if err != nil {
		o.deps.Logger.Warn("page event publish failed",
			zap.String("crawl_id", st.crawlID),
			zap.String("url", pageURL),
			zap.Error(err))
		*pageErrs = append(*pageErrs, fmt.Errorf("publish page event: %w", err))
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.deps.Events == nil {
		return
	}
	evt.TS = o.deps.Clock.Now()
	o.deps.Events.Emit(evt)
}

// crawlState is the shared mutable state of one running crawl.
type crawlState struct {
	opts     scraper.ScrapeOptions
	crawlID  string
	frontier *frontier
	budget   *budget
	filter   *pattern.Filter
	policy   *scraper.ScopePolicy

	mu      sync.Mutex
	pages   []scraper.PageResult
	fetched int
	failed  int
}

func (st *crawlState) record(page scraper.PageResult, failed bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pages = append(st.pages, page)
	if failed {
		st.failed++
	}
}

func (st *crawlState) markFetched() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.fetched++
}

func (st *crawlState) completed() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.pages)
}

func (st *crawlState) takePages() []scraper.PageResult {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pages
}

func (st *crawlState) counters() scraper.CrawlCounters {
	st.mu.Lock()
	defer st.mu.Unlock()
	return scraper.CrawlCounters{
		PagesFetched:   st.fetched,
		PagesFailed:    st.failed,
		URLsDiscovered: st.frontier.Admitted(),
	}
}

// budget caps successful fetches. A worker reserves a slot before fetching
// and releases it when the fetch fails, so failures never consume pages
// from the cap.
type budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

func (b *budget) reserve() bool {
	if b.limit <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

func (b *budget) release() {
	if b.limit <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used > 0 {
		b.used--
	}
}

func statusFrom(err error) int {
	var fetchErr *scraper.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode
	}
	return 0
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// archivePath builds <prefix>/<crawlID>/<host>/<hash12>.<ext>.
func archivePath(prefix, crawlID, pageURL, hash, mimeType string) string {
	host := hostOf(pageURL)
	if host == "" {
		host = "local"
	}
	short := hash
	if len(short) > 12 {
		short = short[:12]
	}
	if short == "" {
		short = "page"
	}
	return path.Join(prefix, crawlID, host, short+extFor(mimeType))
}

func extFor(mimeType string) string {
	switch mimeType {
	case "text/html", "application/xhtml+xml":
		return ".html"
	case "text/markdown", "text/x-markdown":
		return ".md"
	case "application/json", "text/json":
		return ".json"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
