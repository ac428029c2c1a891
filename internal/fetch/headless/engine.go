// Package headless renders pages in a shared headless Chrome instance.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Config controls the shared browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
}

// Engine implements scraper.Renderer on one lazily started ExecAllocator.
// Each render runs in its own tab context; MaxParallel bounds open tabs.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	limiter chan struct{}

	init        singleflight.Group
	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
	closed      bool
}

// New builds an Engine. The browser process starts on first render, not
// here.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Engine{cfg: cfg, logger: logger, limiter: limiter}, nil
}

// Render navigates a fresh tab and returns the post-JavaScript DOM.
func (e *Engine) Render(ctx context.Context, pageURL string) (scraper.RenderResult, error) {
	if err := e.acquire(ctx); err != nil {
		return scraper.RenderResult{}, err
	}
	defer e.release()

	alloc, err := e.allocatorCtx()
	if err != nil {
		return scraper.RenderResult{}, err
	}

	taskCtx, taskCancel := chromedp.NewContext(alloc)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, e.navTimeout())
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := e.navigate(taskCtx, pageURL)
	if err != nil {
		return scraper.RenderResult{}, fmt.Errorf("render %s: %w", pageURL, err)
	}

	status, responseURL := meta.snapshotWithFallbacks(pageURL, finalURL)
	e.logger.Debug("rendered page",
		zap.String("url", pageURL),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)))

	return scraper.RenderResult{
		HTML:       html,
		FinalURL:   responseURL,
		StatusCode: status,
		Duration:   time.Since(start),
	}, nil
}

// Close tears the browser down. Later renders fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
		e.allocator = nil
	}
	return nil
}

// allocatorCtx returns the shared allocator, starting it at most once even
// under concurrent first renders.
func (e *Engine) allocatorCtx() (context.Context, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New("headless engine closed")
	}
	if e.allocator != nil {
		alloc := e.allocator
		e.mu.Unlock()
		return alloc, nil
	}
	e.mu.Unlock()

	_, err, _ := e.init.Do("allocator", func() (any, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)
		allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			cancel()
			return nil, errors.New("headless engine closed")
		}
		e.allocator = allocCtx
		e.allocCancel = cancel
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.allocator == nil {
		return nil, errors.New("headless engine closed")
	}
	return e.allocator, nil
}

func (e *Engine) navigate(ctx context.Context, pageURL string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		e.setupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(e.settleDelay()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (e *Engine) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (e *Engine) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}

func (e *Engine) navTimeout() time.Duration {
	if e == nil || e.cfg.NavigationTimeout <= 0 {
		return 45 * time.Second
	}
	return e.cfg.NavigationTimeout
}

func (e *Engine) settleDelay() time.Duration {
	if e == nil || e.cfg.SettleDelay <= 0 {
		return 500 * time.Millisecond
	}
	return e.cfg.SettleDelay
}

// responseMeta captures the main document response from CDP network
// events. The listener goroutine writes while Render reads at the end.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

// snapshotWithFallbacks prefers the captured document response, then the
// reported location, then the request URL.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, url
}
