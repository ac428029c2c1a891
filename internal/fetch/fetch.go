// Package fetch routes fetch requests to scheme-specific fetchers.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Router implements scraper.Fetcher by delegating on URL scheme.
type Router struct {
	web  scraper.Fetcher
	file scraper.Fetcher
}

// NewRouter builds a Router. Either fetcher may be nil, in which case its
// schemes are rejected.
func NewRouter(web, file scraper.Fetcher) *Router {
	return &Router{web: web, file: file}
}

func (r *Router) Fetch(ctx context.Context, req scraper.FetchRequest) (scraper.RawContent, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: err}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if r.web != nil {
			return r.web.Fetch(ctx, req)
		}
	case "file":
		if r.file != nil {
			return r.file.Fetch(ctx, req)
		}
	}
	return scraper.RawContent{}, &scraper.FetchError{
		URL: req.URL,
		Err: fmt.Errorf("no fetcher for scheme %q", u.Scheme),
	}
}
