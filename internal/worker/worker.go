// Package worker runs queued crawl submissions through the orchestrator.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docharvest/docharvest/internal/crawl"
	"github.com/docharvest/docharvest/internal/scraper"
)

// statusWriteTimeout bounds store writes that must survive shutdown, such
// as the final status of a crawl that was canceled mid-flight.
const statusWriteTimeout = 10 * time.Second

// Config controls Pool behavior.
type Config struct {
	// Concurrency is the number of submissions processed in parallel.
	// Each crawl additionally runs its own fetch pool, bounded by the
	// submission's MaxConcurrency.
	Concurrency int
}

// Pool consumes crawl submissions and executes them: mark running, run
// the orchestrator, record the final status and counters. A cancel
// registry lets the API stop a crawl this process is running.
type Pool struct {
	queue        scraper.Queue
	store        scraper.CrawlStore
	orchestrator *crawl.Orchestrator
	cfg          Config
	logger       *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs a Pool.
func New(queue scraper.Queue, store scraper.CrawlStore, orchestrator *crawl.Orchestrator, cfg Config, logger *zap.Logger) (*Pool, error) {
	if queue == nil {
		return nil, errors.New("worker: queue is required")
	}
	if store == nil {
		return nil, errors.New("worker: store is required")
	}
	if orchestrator == nil {
		return nil, errors.New("worker: orchestrator is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		queue:        queue,
		store:        store,
		orchestrator: orchestrator,
		cfg:          cfg,
		logger:       logger,
		cancels:      make(map[string]context.CancelFunc),
	}, nil
}

// Run blocks, consuming submissions until the context ends or the queue
// closes, then waits for running crawls to finish.
func (p *Pool) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			p.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		sub, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, scraper.ErrQueueClosed) {
				return
			}
			p.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		p.logger.Debug("dequeued submission", zap.String("crawl_id", sub.CrawlID))
		p.runSubmission(ctx, sub)
	}
}

func (p *Pool) runSubmission(ctx context.Context, sub scraper.Submission) {
	// A cancel issued while the submission sat in the queue must win.
	if cr, err := p.store.GetCrawl(ctx, sub.CrawlID); err == nil && cr.Status == scraper.CrawlStatusCanceled {
		p.logger.Info("skipping canceled submission", zap.String("crawl_id", sub.CrawlID))
		return
	}

	crawlCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.register(sub.CrawlID, cancel)
	defer p.unregister(sub.CrawlID)

	if err := p.store.UpdateCrawlStatus(ctx, sub.CrawlID, scraper.CrawlStatusRunning, "", scraper.CrawlCounters{}); err != nil {
		p.logger.Error("mark crawl running failed", zap.String("crawl_id", sub.CrawlID), zap.Error(err))
		return
	}

	result, err := p.orchestrator.ScrapeCrawl(crawlCtx, sub.CrawlID, sub.Options)
	status, errText, counters := finalStatus(result, err)

	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer scancel()
	if uerr := p.store.UpdateCrawlStatus(sctx, sub.CrawlID, status, errText, counters); uerr != nil {
		p.logger.Error("final crawl status update failed", zap.String("crawl_id", sub.CrawlID), zap.Error(uerr))
	}
}

// Cancel requests cancellation of a running crawl and reports whether
// this process was running it.
func (p *Pool) Cancel(crawlID string) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[crawlID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (p *Pool) register(crawlID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[crawlID] = cancel
}

func (p *Pool) unregister(crawlID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, crawlID)
}

func finalStatus(result *scraper.CrawlResult, err error) (scraper.CrawlStatus, string, scraper.CrawlCounters) {
	switch {
	case err != nil:
		return scraper.CrawlStatusFailed, err.Error(), scraper.CrawlCounters{}
	case result.Canceled:
		return scraper.CrawlStatusCanceled, "", result.Counters
	default:
		return scraper.CrawlStatusSucceeded, "", result.Counters
	}
}

// PageRecorder returns an orchestrator page hook that persists pages to
// the store. Writes are detached from crawl cancellation so pages that
// finish during shutdown still commit.
func PageRecorder(store scraper.CrawlStore, logger *zap.Logger) func(context.Context, string, scraper.PageResult) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, crawlID string, page scraper.PageResult) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
		defer cancel()
		if err := store.RecordPage(rctx, crawlID, page); err != nil {
			logger.Error("record page failed",
				zap.String("crawl_id", crawlID),
				zap.String("url", page.URL),
				zap.Error(err))
		}
	}
}
