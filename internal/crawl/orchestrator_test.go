package crawl

import (
	"context"
	cryptosha "crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docharvest/docharvest/internal/progress"
	"github.com/docharvest/docharvest/internal/scraper"
)

const testSeed = "https://docs.example.com/guide/"

// TestNewValidatesDeps ensures the required collaborators are enforced.
func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{Pipelines: []scraper.Pipeline{newLinkPipeline()}})
	require.ErrorContains(t, err, "fetcher is required")

	_, err = New(Deps{Fetcher: newFakeSite()})
	require.ErrorContains(t, err, "at least one pipeline")

	o, err := New(Deps{Fetcher: newFakeSite(), Pipelines: []scraper.Pipeline{newLinkPipeline()}})
	require.NoError(t, err)
	require.NotNil(t, o)
}

// TestScrapeCrawlsSiteToCompletion walks a three-page site and checks
// pages, counters, links, and the progress stream end to end.
func TestScrapeCrawlsSiteToCompletion(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(testSeed, "/guide/a\n/guide/b")
	site.addPage("https://docs.example.com/guide/a", "/guide/b\n/outside/c")
	site.addPage("https://docs.example.com/guide/b", "")

	var (
		mu      sync.Mutex
		reports []scraper.Progress
		pages   []scraper.PageResult
		ids     []string
	)
	o := newTestOrchestrator(t, site, func(d *Deps) {
		d.OnPage = func(_ context.Context, crawlID string, page scraper.PageResult) {
			mu.Lock()
			defer mu.Unlock()
			pages = append(pages, page)
			ids = append(ids, crawlID)
		}
	})

	res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
		SeedURL:        testSeed,
		MaxDepth:       3,
		MaxConcurrency: 1,
		OnProgress: func(p scraper.Progress) {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, p)
		},
	})
	require.NoError(t, err)
	require.False(t, res.Canceled)
	require.Equal(t, testSeed, res.SeedURL)
	require.False(t, res.StartedAt.IsZero())

	require.Len(t, res.Pages, 3)
	require.Equal(t, testSeed, res.Pages[0].URL)
	require.Equal(t, 0, res.Pages[0].Depth)
	require.Equal(t, "Doc "+testSeed, res.Pages[0].Title)
	require.Equal(t, "/guide/a\n/guide/b", res.Pages[0].Content)
	require.Equal(t, []string{
		"https://docs.example.com/guide/a",
		"https://docs.example.com/guide/b",
	}, res.Pages[0].Links)
	require.Equal(t, 200, res.Pages[0].StatusCode)
	require.Equal(t, "text/html", res.Pages[0].MimeType)

	require.Equal(t, "https://docs.example.com/guide/a", res.Pages[1].URL)
	require.Equal(t, 1, res.Pages[1].Depth)
	require.Contains(t, res.Pages[1].Links, "https://docs.example.com/outside/c")

	require.Equal(t, scraper.CrawlCounters{
		PagesFetched:   3,
		PagesFailed:    0,
		URLsDiscovered: 3,
	}, res.Counters)

	require.ElementsMatch(t, []string{
		testSeed,
		"https://docs.example.com/guide/a",
		"https://docs.example.com/guide/b",
	}, site.fetchedURLs())

	require.Equal(t, []scraper.Progress{
		{Completed: 1, Total: 3, URL: testSeed},
		{Completed: 2, Total: 3, URL: "https://docs.example.com/guide/a"},
		{Completed: 3, Total: 3, URL: "https://docs.example.com/guide/b"},
	}, reports)

	require.Len(t, pages, 3)
	require.Len(t, ids, 3)
	require.NotEmpty(t, ids[0])
	require.Equal(t, ids[0], ids[1])
	require.Equal(t, ids[0], ids[2])
}

// TestScrapeDeduplicatesUnderConcurrency crawls a fully cross-linked graph
// with many workers and checks every URL is fetched exactly once.
func TestScrapeDeduplicatesUnderConcurrency(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	urls := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		urls = append(urls, fmt.Sprintf("https://docs.example.com/guide/p%d", i))
	}
	var body strings.Builder
	for _, u := range urls {
		body.WriteString(u + "\n")
	}
	for _, u := range urls {
		site.addPage(u, body.String())
	}

	var (
		mu      sync.Mutex
		reports []scraper.Progress
	)
	o := newTestOrchestrator(t, site)
	res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
		SeedURL:        urls[0],
		MaxDepth:       10,
		MaxConcurrency: 8,
		OnProgress: func(p scraper.Progress) {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, p)
		},
	})
	require.NoError(t, err)

	fetched := site.fetchedURLs()
	require.Len(t, fetched, len(urls))
	require.ElementsMatch(t, urls, fetched)
	require.Len(t, res.Pages, len(urls))
	require.Equal(t, len(urls), res.Counters.URLsDiscovered)

	require.Len(t, reports, len(urls))
	for _, p := range reports {
		require.LessOrEqual(t, p.Completed, p.Total)
	}
}

// TestScrapeMaxDepthZeroFetchesSeedOnly keeps discovered links out of the
// frontier while still recording them on the seed page.
func TestScrapeMaxDepthZeroFetchesSeedOnly(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(testSeed, "/guide/a\n/guide/b")
	site.addPage("https://docs.example.com/guide/a", "")
	site.addPage("https://docs.example.com/guide/b", "")

	o := newTestOrchestrator(t, site)
	res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
		SeedURL:  testSeed,
		MaxDepth: 0,
	})
	require.NoError(t, err)

	require.Len(t, res.Pages, 1)
	require.Len(t, res.Pages[0].Links, 2)
	require.Equal(t, []string{testSeed}, site.fetchedURLs())
	require.Equal(t, 1, res.Counters.URLsDiscovered)
}

// TestScrapeMaxPagesCapsFetches stops the crawl once the page budget is
// spent, without an error.
func TestScrapeMaxPagesCapsFetches(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	var body strings.Builder
	for i := 0; i < 10; i++ {
		child := fmt.Sprintf("https://docs.example.com/guide/c%d", i)
		body.WriteString(child + "\n")
		site.addPage(child, "")
	}
	site.addPage(testSeed, body.String())

	o := newTestOrchestrator(t, site)
	res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
		SeedURL:        testSeed,
		MaxDepth:       2,
		MaxPages:       3,
		MaxConcurrency: 2,
	})
	require.NoError(t, err)
	require.False(t, res.Canceled)

	require.Equal(t, 3, res.Counters.PagesFetched)
	require.Len(t, res.Pages, 3)
	require.Len(t, site.fetchedURLs(), 3)
}

// TestScrapeScopePolicies exercises the three scopes against a mixed link set.
func TestScrapeScopePolicies(t *testing.T) {
	t.Parallel()

	links := []string{
		"https://docs.example.com/guide/deep",
		"https://docs.example.com/api/ref",
		"https://blog.example.com/post",
		"https://other.net/x",
	}

	cases := []struct {
		scope   scraper.Scope
		fetched []string
	}{
		{
			scope:   scraper.ScopeSubpages,
			fetched: []string{testSeed, "https://docs.example.com/guide/deep"},
		},
		{
			scope: scraper.ScopeHostname,
			fetched: []string{
				testSeed,
				"https://docs.example.com/guide/deep",
				"https://docs.example.com/api/ref",
			},
		},
		{
			scope: scraper.ScopeDomain,
			fetched: []string{
				testSeed,
				"https://docs.example.com/guide/deep",
				"https://docs.example.com/api/ref",
				"https://blog.example.com/post",
			},
		},
	}

	for _, tc := range cases {
		t.Run(string(tc.scope), func(t *testing.T) {
			t.Parallel()

			site := newFakeSite()
			site.addPage(testSeed, strings.Join(links, "\n"))
			for _, link := range links {
				site.addPage(link, "")
			}

			o := newTestOrchestrator(t, site)
			_, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
				SeedURL:  testSeed,
				MaxDepth: 1,
				Scope:    tc.scope,
			})
			require.NoError(t, err)
			require.ElementsMatch(t, tc.fetched, site.fetchedURLs())
		})
	}
}

// TestScrapePatternFilters checks includes and excludes gate admission but
// never strip links from page results.
func TestScrapePatternFilters(t *testing.T) {
	t.Parallel()

	t.Run("exclude", func(t *testing.T) {
		t.Parallel()

		site := newFakeSite()
		site.addPage(testSeed, "/guide/keep\n/guide/skipme")
		site.addPage("https://docs.example.com/guide/keep", "")
		site.addPage("https://docs.example.com/guide/skipme", "")

		o := newTestOrchestrator(t, site)
		res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
			SeedURL:         testSeed,
			MaxDepth:        1,
			ExcludePatterns: []string{"/guide/skip*"},
		})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{testSeed, "https://docs.example.com/guide/keep"}, site.fetchedURLs())
		require.Contains(t, res.Pages[0].Links, "https://docs.example.com/guide/skipme")
	})

	t.Run("include", func(t *testing.T) {
		t.Parallel()

		site := newFakeSite()
		site.addPage(testSeed, "/guide/docs-a\n/guide/other")
		site.addPage("https://docs.example.com/guide/docs-a", "")
		site.addPage("https://docs.example.com/guide/other", "")

		o := newTestOrchestrator(t, site)
		_, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
			SeedURL:         testSeed,
			MaxDepth:        1,
			IncludePatterns: []string{"/guide/docs*"},
		})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{testSeed, "https://docs.example.com/guide/docs-a"}, site.fetchedURLs())
	})
}

// TestScrapeSeedFetchFailureIsFatal returns an error instead of a result
// when the very first fetch fails.
func TestScrapeSeedFetchFailureIsFatal(t *testing.T) {
	t.Parallel()

	site := newFakeSite()

	o := newTestOrchestrator(t, site)
	res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{SeedURL: testSeed})
	require.Error(t, err)
	require.Nil(t, res)
	require.ErrorContains(t, err, "seed fetch failed")

	var fetchErr *scraper.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 404, fetchErr.StatusCode)
}

// TestScrapePageFetchFailureIsRecorded keeps the crawl alive and records
// the failed page with its error.
func TestScrapePageFetchFailureIsRecorded(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(testSeed, "/guide/missing")

	var reports []scraper.Progress
	var mu sync.Mutex
	o := newTestOrchestrator(t, site)
	res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
		SeedURL:        testSeed,
		MaxDepth:       1,
		MaxConcurrency: 1,
		OnProgress: func(p scraper.Progress) {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, p)
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Pages, 2)
	failed := res.Pages[1]
	require.Equal(t, "https://docs.example.com/guide/missing", failed.URL)
	require.True(t, failed.Failed())
	require.Len(t, failed.Errors, 1)
	require.Contains(t, failed.Errors[0], "status 404")
	require.Equal(t, 404, failed.StatusCode)

	require.Equal(t, scraper.CrawlCounters{
		PagesFetched:   1,
		PagesFailed:    1,
		URLsDiscovered: 2,
	}, res.Counters)
	require.Equal(t, scraper.Progress{Completed: 2, Total: 2, URL: failed.URL}, reports[len(reports)-1])
}

// TestScrapeUnsupportedContentTypeIsNonFatal records a page error when no
// pipeline claims the MIME type and keeps crawling.
func TestScrapeUnsupportedContentTypeIsNonFatal(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(testSeed, "/guide/data.bin")
	site.pages["https://docs.example.com/guide/data.bin"] = fakePage{
		mime: "application/octet-stream",
		body: "\x00\x01",
	}

	o := newTestOrchestrator(t, site)
	res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
		SeedURL:  testSeed,
		MaxDepth: 1,
	})
	require.NoError(t, err)

	require.Len(t, res.Pages, 2)
	var binary scraper.PageResult
	for _, p := range res.Pages {
		if p.URL == "https://docs.example.com/guide/data.bin" {
			binary = p
		}
	}
	require.Equal(t, "application/octet-stream", binary.MimeType)
	require.Empty(t, binary.Content)
	require.Len(t, binary.Errors, 1)
	require.Contains(t, binary.Errors[0], `no pipeline for content type "application/octet-stream"`)

	require.Equal(t, 2, res.Counters.PagesFetched)
	require.Equal(t, 0, res.Counters.PagesFailed)
}

// TestScrapeCancellationReturnsPartialResult cancels mid-crawl and expects
// the pages finished so far, the Canceled flag, and no error.
func TestScrapeCancellationReturnsPartialResult(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(testSeed, "/guide/slow1\n/guide/slow2")
	site.pages["https://docs.example.com/guide/slow1"] = fakePage{mime: "text/html", slow: true}
	site.pages["https://docs.example.com/guide/slow2"] = fakePage{mime: "text/html", slow: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once

	o := newTestOrchestrator(t, site)
	res, err := o.Scrape(ctx, scraper.ScrapeOptions{
		SeedURL:        testSeed,
		MaxDepth:       1,
		MaxConcurrency: 2,
		OnProgress: func(scraper.Progress) {
			once.Do(cancel)
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.True(t, res.Canceled)

	require.Len(t, res.Pages, 1)
	require.Equal(t, testSeed, res.Pages[0].URL)
	require.Equal(t, 1, res.Counters.PagesFetched)
}

// TestScrapeResolvesLinksAgainstFinalURL follows a redirected seed and
// resolves relative links against the URL the content came from.
func TestScrapeResolvesLinksAgainstFinalURL(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.pages[testSeed] = fakePage{
		mime:     "text/html",
		body:     "child",
		finalURL: "https://docs.example.com/guide/v2/",
	}
	site.addPage("https://docs.example.com/guide/v2/child", "")

	o := newTestOrchestrator(t, site)
	res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
		SeedURL:  testSeed,
		MaxDepth: 1,
	})
	require.NoError(t, err)

	require.Equal(t, "https://docs.example.com/guide/v2/", res.Pages[0].URL)
	require.Equal(t, []string{"https://docs.example.com/guide/v2/child"}, res.Pages[0].Links)
	require.Contains(t, site.fetchedURLs(), "https://docs.example.com/guide/v2/child")
}

// TestScrapeSkipsDisallowedSchemes drops non-allow-listed links before they
// reach the page's link list or the frontier.
func TestScrapeSkipsDisallowedSchemes(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(testSeed, "ftp://files.example.com/x\nmailto:docs@example.com\n/guide/ok")
	site.addPage("https://docs.example.com/guide/ok", "")

	o := newTestOrchestrator(t, site)
	res, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
		SeedURL:  testSeed,
		MaxDepth: 1,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"https://docs.example.com/guide/ok"}, res.Pages[0].Links)
	require.ElementsMatch(t, []string{testSeed, "https://docs.example.com/guide/ok"}, site.fetchedURLs())
}

// TestScrapeArchivesHashesAndPublishes wires the archive store and publisher
// and checks hash, archive URI, and the published event.
func TestScrapeArchivesHashesAndPublishes(t *testing.T) {
	t.Parallel()

	const body = "just one page"
	wantHash := fmt.Sprintf("%x", cryptosha.Sum256([]byte(body)))

	site := newFakeSite()
	site.addPage(testSeed, body)

	archive := &fakeArchive{}
	pub := &fakePublisher{}
	o := newTestOrchestrator(t, site, func(d *Deps) {
		d.Archive = archive
		d.ArchivePrefix = "raw"
		d.Publisher = pub
		d.PublishTopic = "pages"
	})

	res, err := o.ScrapeCrawl(context.Background(), "crawl-123", scraper.ScrapeOptions{
		SeedURL: testSeed,
	})
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)

	page := res.Pages[0]
	require.Equal(t, wantHash, page.ContentHash)

	wantPath := "raw/crawl-123/docs.example.com/" + wantHash[:12] + ".html"
	require.Equal(t, []string{wantPath}, archive.paths())
	require.Equal(t, "mem://"+wantPath, page.ArchiveURI)

	events := pub.published()
	require.Len(t, events, 1)
	require.Equal(t, "pages", events[0].topic)
	require.Equal(t, "crawl-123", events[0].event.CrawlID)
	require.Equal(t, testSeed, events[0].event.URL)
	require.Equal(t, wantHash, events[0].event.ContentHash)
	require.Equal(t, "mem://"+wantPath, events[0].event.ArchiveURI)
	require.False(t, events[0].event.FetchedAt.IsZero())
}

// TestScrapeValidatesOptions rejects configuration-level mistakes up front.
func TestScrapeValidatesOptions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		opts    scraper.ScrapeOptions
		wantErr string
	}{
		{
			name:    "missing seed",
			opts:    scraper.ScrapeOptions{},
			wantErr: "seed url is required",
		},
		{
			name:    "seed scheme not allowed",
			opts:    scraper.ScrapeOptions{SeedURL: "ftp://docs.example.com/"},
			wantErr: "not in the allow-list",
		},
		{
			name:    "unknown scope",
			opts:    scraper.ScrapeOptions{SeedURL: testSeed, Scope: "galaxy"},
			wantErr: "unknown scope",
		},
		{
			name:    "unknown render mode",
			opts:    scraper.ScrapeOptions{SeedURL: testSeed, RenderMode: "sometimes"},
			wantErr: "unknown render mode",
		},
		{
			name:    "negative depth",
			opts:    scraper.ScrapeOptions{SeedURL: testSeed, MaxDepth: -1},
			wantErr: "max depth",
		},
		{
			name:    "negative pages",
			opts:    scraper.ScrapeOptions{SeedURL: testSeed, MaxPages: -2},
			wantErr: "max pages",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			o := newTestOrchestrator(t, newFakeSite())
			res, err := o.Scrape(context.Background(), tc.opts)
			require.Nil(t, res)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}

	t.Run("invalid pattern", func(t *testing.T) {
		t.Parallel()

		o := newTestOrchestrator(t, newFakeSite())
		_, err := o.Scrape(context.Background(), scraper.ScrapeOptions{
			SeedURL:         testSeed,
			IncludePatterns: []string{"/[unclosed/"},
		})
		var patternErr *scraper.InvalidPatternError
		require.ErrorAs(t, err, &patternErr)
	})
}

// TestScrapeEmitsLifecycleEvents checks the progress emitter sees the crawl
// from start to done.
func TestScrapeEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(testSeed, "")

	emitter := &fakeEmitter{}
	o := newTestOrchestrator(t, site, func(d *Deps) {
		d.Events = emitter
	})

	_, err := o.ScrapeCrawl(context.Background(), "crawl-evt", scraper.ScrapeOptions{SeedURL: testSeed})
	require.NoError(t, err)

	events := emitter.all()
	require.NotEmpty(t, events)
	require.Equal(t, progress.StageCrawlStart, events[0].Stage)
	require.Equal(t, progress.StageCrawlDone, events[len(events)-1].Stage)

	stages := make(map[progress.Stage]progress.Event)
	for _, evt := range events {
		require.Equal(t, "crawl-evt", evt.CrawlID)
		require.False(t, evt.TS.IsZero())
		stages[evt.Stage] = evt
	}
	require.Contains(t, stages, progress.StageFetchStart)
	require.Contains(t, stages, progress.StageFetchDone)
	require.Contains(t, stages, progress.StagePageDone)
	require.Equal(t, progress.Status2xx, stages[progress.StageFetchDone].StatusClass)
}

func newTestOrchestrator(t *testing.T, site *fakeSite, mutate ...func(*Deps)) *Orchestrator {
	t.Helper()
	deps := Deps{
		Fetcher:   site,
		Pipelines: []scraper.Pipeline{newLinkPipeline()},
		Logger:    zap.NewNop(),
	}
	for _, m := range mutate {
		m(&deps)
	}
	o, err := New(deps)
	require.NoError(t, err)
	return o
}

type fakePage struct {
	mime     string
	status   int
	body     string
	finalURL string
	slow     bool
	err      error
}

// fakeSite serves pages keyed by normalized URL and records every fetch.
type fakeSite struct {
	mu      sync.Mutex
	pages   map[string]fakePage
	fetched []string
}

func newFakeSite() *fakeSite {
	return &fakeSite{pages: map[string]fakePage{}}
}

func (s *fakeSite) addPage(url, body string) {
	s.pages[url] = fakePage{mime: "text/html", body: body}
}

func (s *fakeSite) Fetch(ctx context.Context, req scraper.FetchRequest) (scraper.RawContent, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, req.URL)
	page, ok := s.pages[req.URL]
	s.mu.Unlock()

	if !ok {
		return scraper.RawContent{}, &scraper.FetchError{
			URL:        req.URL,
			StatusCode: 404,
			Err:        errors.New("not found"),
		}
	}
	if page.slow {
		<-ctx.Done()
		return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: ctx.Err()}
	}
	if page.err != nil {
		return scraper.RawContent{}, page.err
	}

	status := page.status
	if status == 0 {
		status = 200
	}
	sourceURL := page.finalURL
	if sourceURL == "" {
		sourceURL = req.URL
	}
	return scraper.RawContent{
		SourceURL:  sourceURL,
		MimeType:   page.mime,
		StatusCode: status,
		Body:       []byte(page.body),
		Duration:   5 * time.Millisecond,
	}, nil
}

func (s *fakeSite) fetchedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

// linkPipeline treats every non-empty body line as a link, which keeps link
// graphs in tests trivial to express.
type linkPipeline struct {
	types []string
}

func newLinkPipeline() *linkPipeline {
	return &linkPipeline{types: []string{"text/html"}}
}

func (p *linkPipeline) CanProcess(mimeType string) bool {
	for _, t := range p.types {
		if t == mimeType {
			return true
		}
	}
	return false
}

func (p *linkPipeline) Process(_ context.Context, raw scraper.RawContent, _ scraper.ProcessOptions) (scraper.ProcessedContent, error) {
	var links []string
	for _, line := range strings.Split(string(raw.Body), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			links = append(links, line)
		}
	}
	return scraper.ProcessedContent{
		TextContent: string(raw.Body),
		Metadata:    map[string]any{"title": "Doc " + raw.SourceURL},
		Links:       links,
	}, nil
}

func (p *linkPipeline) Close() error { return nil }

type fakeArchive struct {
	mu     sync.Mutex
	stored []string
}

func (a *fakeArchive) Put(_ context.Context, path, _ string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stored = append(a.stored, path)
	return "mem://" + path, nil
}

func (a *fakeArchive) paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.stored...)
}

type publishedEvent struct {
	topic string
	event scraper.PageEvent
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(_ context.Context, topic string, event scraper.PageEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, event: event})
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

func (p *fakePublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *fakeEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *fakeEmitter) all() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}
