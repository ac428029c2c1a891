// Package file serves file: URLs from the local filesystem.
package file

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/docharvest/docharvest/internal/scraper"
)

// extTypes maps documentation file extensions to MIME types. Anything not
// listed falls back to content sniffing.
var extTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".html":     "text/html",
	".htm":      "text/html",
	".xhtml":    "application/xhtml+xml",
	".json":     "application/json",
	".txt":      "text/plain",
}

// indexNames are tried, in order, when a file: URL points at a directory.
var indexNames = []string{"index.html", "index.md"}

// Fetcher implements scraper.Fetcher for local documentation trees.
type Fetcher struct{}

func New() *Fetcher {
	return &Fetcher{}
}

func (f *Fetcher) Fetch(ctx context.Context, req scraper.FetchRequest) (scraper.RawContent, error) {
	if err := ctx.Err(); err != nil {
		return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: err}
	}
	start := time.Now()

	u, err := url.Parse(req.URL)
	if err != nil {
		return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: err}
	}
	if u.Scheme != "file" {
		return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: fmt.Errorf("unexpected scheme %q", u.Scheme)}
	}
	if u.Host != "" && u.Host != "localhost" {
		return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: fmt.Errorf("remote file host %q not supported", u.Host)}
	}
	path := u.Path
	if path == "" {
		return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: errors.New("empty path")}
	}

	sourceURL := req.URL
	info, err := os.Stat(path)
	if err != nil {
		return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: err}
	}
	if info.IsDir() {
		path, err = resolveIndex(path)
		if err != nil {
			return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: err}
		}
		// Relative links in an index document resolve against the
		// directory, which needs its trailing slash for that.
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
			sourceURL = u.String()
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return scraper.RawContent{}, &scraper.FetchError{URL: req.URL, Err: err}
	}

	return scraper.RawContent{
		SourceURL:  sourceURL,
		MimeType:   detectType(path, data),
		StatusCode: http.StatusOK,
		Body:       data,
		Duration:   time.Since(start),
	}, nil
}

func resolveIndex(dir string) (string, error) {
	for _, name := range indexNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("directory has no index document: %s", dir)
}

func detectType(path string, data []byte) string {
	if mt, ok := extTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	detected := mimetype.Detect(data).String()
	if mt, _, err := mime.ParseMediaType(detected); err == nil {
		return mt
	}
	return detected
}
