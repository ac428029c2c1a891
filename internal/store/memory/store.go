// Package memory provides an in-memory crawl store for development and
// tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Store keeps crawl and page records in process memory.
type Store struct {
	mu     sync.RWMutex
	crawls map[string]scraper.Crawl
	pages  map[string][]scraper.PageResult
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		crawls: make(map[string]scraper.Crawl),
		pages:  make(map[string][]scraper.PageResult),
	}
}

// CreateCrawl stores a new crawl record.
func (s *Store) CreateCrawl(_ context.Context, crawl scraper.Crawl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.crawls[crawl.ID]; exists {
		return errors.New("crawl already exists")
	}
	s.crawls[crawl.ID] = crawl
	return nil
}

// UpdateCrawlStatus updates the status, error text, and counters for a
// crawl. The first transition to running stamps Started; any terminal
// status stamps Finished.
func (s *Store) UpdateCrawlStatus(
	_ context.Context,
	crawlID string,
	status scraper.CrawlStatus,
	errText string,
	counters scraper.CrawlCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	crawl, ok := s.crawls[crawlID]
	if !ok {
		return scraper.ErrNotFound
	}
	crawl.Status = status
	crawl.ErrorText = errText
	crawl.Counters = counters
	now := time.Now().UTC()
	if status == scraper.CrawlStatusRunning && crawl.Started == nil {
		crawl.Started = pointerTime(now)
	}
	if isTerminal(status) && crawl.Finished == nil {
		crawl.Finished = pointerTime(now)
	}
	s.crawls[crawlID] = crawl
	return nil
}

// RecordPage appends a page row for a crawl.
func (s *Store) RecordPage(_ context.Context, crawlID string, page scraper.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[crawlID] = append(s.pages[crawlID], page)
	return nil
}

// GetCrawl fetches a crawl by ID.
func (s *Store) GetCrawl(_ context.Context, crawlID string) (scraper.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	crawl, ok := s.crawls[crawlID]
	if !ok {
		return scraper.Crawl{}, scraper.ErrNotFound
	}
	return crawl, nil
}

// ListCrawls returns crawls newest first, optionally filtered by status.
func (s *Store) ListCrawls(
	_ context.Context,
	status *scraper.CrawlStatus,
	limit, offset int,
) ([]scraper.Crawl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]scraper.Crawl, 0, len(s.crawls))
	for _, crawl := range s.crawls {
		if status != nil && crawl.Status != *status {
			continue
		}
		matched = append(matched, crawl)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Submitted.Equal(matched[j].Submitted) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Submitted.After(matched[j].Submitted)
	})
	if offset >= len(matched) {
		return []scraper.Crawl{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// ListPages returns all recorded pages for a crawl in insertion order.
func (s *Store) ListPages(_ context.Context, crawlID string) ([]scraper.PageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[crawlID]
	out := make([]scraper.PageResult, len(pages))
	copy(out, pages)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status scraper.CrawlStatus) bool {
	switch status {
	case scraper.CrawlStatusSucceeded, scraper.CrawlStatusFailed, scraper.CrawlStatusCanceled:
		return true
	default:
		return false
	}
}
