package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docharvest/docharvest/internal/config"
	"github.com/docharvest/docharvest/internal/crawl"
	"github.com/docharvest/docharvest/internal/fetch"
	"github.com/docharvest/docharvest/internal/fetch/file"
	"github.com/docharvest/docharvest/internal/fetch/headless"
	"github.com/docharvest/docharvest/internal/fetch/web"
	"github.com/docharvest/docharvest/internal/pipeline"
	"github.com/docharvest/docharvest/internal/scraper"
	"github.com/docharvest/docharvest/internal/splitter"
)

type crawlFlags struct {
	depth           int
	maxPages        int
	concurrency     int
	scope           string
	include         []string
	exclude         []string
	render          string
	followRedirects bool
	robots          bool
	chunkSize       int
	out             string
	format          string
}

// newCrawlCmd creates the one-shot 'crawl' subcommand. Flags left unset
// fall back to the corresponding config values.
func newCrawlCmd() *cobra.Command {
	f := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Crawl a site once and report the pages",
		Long: `Crawls from the seed URL, following in-scope links up to the depth and
page budgets, and writes a JSON report to stdout. With --out, page content
is split into byte-budgeted chunk files under the output directory instead,
next to a crawl.json manifest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], f)
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&f.depth, "depth", 0, "maximum link depth from the seed (0 = seed only)")
	fl.IntVar(&f.maxPages, "max-pages", 0, "page budget (0 = unlimited)")
	fl.IntVar(&f.concurrency, "concurrency", 0, "parallel fetch workers")
	fl.StringVar(&f.scope, "scope", "", "crawl scope: subpages, hostname, or domain")
	fl.StringArrayVar(&f.include, "include", nil, "glob or regex a URL must match (repeatable)")
	fl.StringArrayVar(&f.exclude, "exclude", nil, "glob or regex that rejects a URL (repeatable)")
	fl.StringVar(&f.render, "render", "", "headless rendering: never, auto, or always")
	fl.BoolVar(&f.followRedirects, "follow-redirects", true, "follow HTTP redirects")
	fl.BoolVar(&f.robots, "robots", true, "respect robots.txt")
	fl.IntVar(&f.chunkSize, "chunk-size", 0, "chunk budget in bytes for --out files")
	fl.StringVar(&f.out, "out", "", "write chunk files under this directory instead of a stdout report")
	fl.StringVar(&f.format, "format", "json", "stdout report format: json or text")
	return cmd
}

func runCrawl(cmd *cobra.Command, seedURL string, f *crawlFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if f.format != "json" && f.format != "text" {
		return fmt.Errorf("unknown format %q", f.format)
	}
	if cmd.Flags().Changed("robots") {
		cfg.Fetch.RespectRobots = f.robots
	}
	chunkSize := cfg.Split.MaxChunkSize
	if cmd.Flags().Changed("chunk-size") {
		chunkSize = f.chunkSize
	}

	opts := crawlOptions(cmd, cfg, seedURL, f)
	opts.OnProgress = func(p scraper.Progress) {
		logger.Debug("fetched", zap.String("url", p.URL),
			zap.Int("completed", p.Completed), zap.Int("total", p.Total))
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	renderer, closeRenderer, err := buildRenderer(cfg, opts.RenderMode, logger)
	if err != nil {
		return err
	}
	defer closeRenderer()

	orchestrator, err := buildOrchestrator(cfg, renderer, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := orchestrator.Scrape(ctx, opts)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	if result.Canceled {
		logger.Warn("crawl canceled, reporting partial results", zap.Int("pages", len(result.Pages)))
	}

	if f.out != "" {
		return writeChunks(cmd, result, f.out, chunkSize, logger)
	}
	return writeReport(cmd, result, f.format)
}

// crawlOptions merges config crawl defaults with any explicitly set flags.
func crawlOptions(cmd *cobra.Command, cfg config.Config, seedURL string, f *crawlFlags) scraper.ScrapeOptions {
	opts := cfg.Crawl.Options(seedURL)
	flags := cmd.Flags()
	if flags.Changed("depth") {
		opts.MaxDepth = f.depth
	}
	if flags.Changed("max-pages") {
		opts.MaxPages = f.maxPages
	}
	if flags.Changed("concurrency") {
		opts.MaxConcurrency = f.concurrency
	}
	if flags.Changed("scope") {
		opts.Scope = scraper.Scope(f.scope)
	}
	if flags.Changed("include") {
		opts.IncludePatterns = f.include
	}
	if flags.Changed("exclude") {
		opts.ExcludePatterns = f.exclude
	}
	if flags.Changed("follow-redirects") {
		opts.FollowRedirects = f.followRedirects
	}
	if flags.Changed("render") {
		opts.RenderMode = scraper.RenderMode(f.render)
	}
	opts.Normalize()
	return opts
}

// buildRenderer returns a real engine whenever the crawl may render, so
// --render works without flipping headless.enabled in the config.
func buildRenderer(cfg config.Config, mode scraper.RenderMode, logger *zap.Logger) (scraper.Renderer, func(), error) {
	if mode == scraper.RenderNever {
		return headless.NewNoop(), func() {}, nil
	}
	engine, err := headless.New(headless.Config{
		MaxParallel:       cfg.Headless.MaxTabs,
		UserAgent:         cfg.Fetch.UserAgent,
		NavigationTimeout: cfg.Headless.NavTimeout(),
	}, logger.Named("headless"))
	if err != nil {
		return nil, nil, fmt.Errorf("init headless engine: %w", err)
	}
	return engine, func() {
		if cerr := engine.Close(); cerr != nil {
			logger.Warn("headless engine close failed", zap.Error(cerr))
		}
	}, nil
}

func buildOrchestrator(cfg config.Config, renderer scraper.Renderer, logger *zap.Logger) (*crawl.Orchestrator, error) {
	webFetcher := web.New(web.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       cfg.Fetch.Timeout(),
		MaxBodySize:   cfg.Fetch.MaxBodyBytes,
		RespectRobots: cfg.Fetch.RespectRobots,
	})
	pipelineLogger := logger.Named("pipeline")
	orchestrator, err := crawl.New(crawl.Deps{
		Fetcher: fetch.NewRouter(webFetcher, file.New()),
		Pipelines: []scraper.Pipeline{
			pipeline.NewHTML(renderer, pipelineLogger),
			pipeline.NewMarkdown(pipelineLogger),
			pipeline.NewJSON(pipelineLogger),
		},
		Logger: logger.Named("crawl"),
	})
	if err != nil {
		return nil, fmt.Errorf("init crawler: %w", err)
	}
	return orchestrator, nil
}

func writeReport(cmd *cobra.Command, result *scraper.CrawlResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	case "text":
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Crawled %s: %d pages (%d failed, %d URLs discovered) in %s\n",
			result.SeedURL, result.Counters.PagesFetched, result.Counters.PagesFailed,
			result.Counters.URLsDiscovered, result.Duration.Round(time.Millisecond))
		for _, page := range result.Pages {
			marker := " "
			if len(page.Errors) > 0 {
				marker = "!"
			}
			fmt.Fprintf(out, "%s %3d  depth=%d  %s\n", marker, page.StatusCode, page.Depth, page.URL)
		}
		if result.Canceled {
			fmt.Fprintln(out, "crawl canceled before completion")
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// writeChunks splits each page's content under the chunk budget and writes
// one file per chunk, plus a crawl.json manifest with the full report.
func writeChunks(cmd *cobra.Command, result *scraper.CrawlResult, outDir string, chunkSize int, logger *zap.Logger) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	written := 0
	for i, page := range result.Pages {
		if page.Content == "" {
			continue
		}
		chunks, err := splitter.Split(page.Content, splitter.Options{MaxChunkSize: chunkSize})
		if err != nil {
			logger.Warn("split failed, writing page unchunked",
				zap.String("url", page.URL), zap.Error(err))
			chunks = []splitter.Chunk{{Content: page.Content}}
		}
		base := fmt.Sprintf("%04d-%s", i+1, chunkFileBase(page.URL))
		for j, chunk := range chunks {
			name := fmt.Sprintf("%s.%03d%s", base, j+1, chunkExt(page.MimeType))
			if err := os.WriteFile(filepath.Join(outDir, name), []byte(chunk.Content), 0o644); err != nil {
				return fmt.Errorf("write chunk %s: %w", name, err)
			}
			written++
		}
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "crawl.json"), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d chunk files and crawl.json for %d pages to %s\n",
		written, len(result.Pages), outDir)
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// chunkFileBase converts a page URL into a file name stem.
func chunkFileBase(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "page"
	}
	stem := strings.Trim(u.Host+u.Path, "/")
	stem = unsafeFileChars.ReplaceAllString(stem, "-")
	if stem == "" {
		stem = "index"
	}
	if len(stem) > 120 {
		stem = stem[:120]
	}
	return stem
}

func chunkExt(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "json"):
		return ".json"
	case strings.Contains(mimeType, "markdown"):
		return ".md"
	default:
		return ".txt"
	}
}
