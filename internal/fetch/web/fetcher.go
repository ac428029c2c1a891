// Package web implements the HTTP fetcher on a colly collector.
package web

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gocolly/colly/v2"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxBodySize   int
	RespectRobots bool
}

// Fetcher implements scraper.Fetcher with a colly collector cloned per
// request. The pooled transport is shared by all clones.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Non-2xx responses still carry usable bodies and headers; deliver
	// them instead of turning them into collector errors.
	c.ParseHTTPErrorResponse = true
	// Revisit bookkeeping lives in the crawl frontier, not here.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET. Responses with status >= 400 return
// both the response and a FetchError carrying the status.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.RawContent, error) {
	var (
		result   scraper.RawContent
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return scraper.RawContent{}, &scraper.FetchError{URL: request.URL, Err: err}
	}
	if result.StatusCode >= 400 {
		return result, &scraper.FetchError{
			URL:        request.URL,
			StatusCode: result.StatusCode,
			Err:        errors.New(http.StatusText(result.StatusCode)),
		}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request scraper.FetchRequest,
	start time.Time,
	result *scraper.RawContent,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	if !request.FollowRedirects {
		collector.SetRedirectHandler(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request scraper.FetchRequest,
	start time.Time,
	result *scraper.RawContent,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = scraper.RawContent{
			SourceURL:  r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		result.MimeType, result.Charset = contentType(r.Headers.Get("Content-Type"), result.Body)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request scraper.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// contentType splits a Content-Type header into MIME type and charset,
// sniffing the body when the header is missing or malformed.
func contentType(header string, body []byte) (string, string) {
	if header != "" {
		if mt, params, err := mime.ParseMediaType(header); err == nil {
			return mt, params["charset"]
		}
	}
	detected := mimetype.Detect(body).String()
	if mt, params, err := mime.ParseMediaType(detected); err == nil {
		return mt, params["charset"]
	}
	return detected, ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
