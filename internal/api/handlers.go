package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/docharvest/docharvest/internal/scraper"
)

const (
	defaultCrawlLimit = 50
	maxCrawlLimit     = 500
	enqueueTimeout    = 5 * time.Second
)

type submitCrawlRequest struct {
	SeedURL         string   `json:"seed_url"`
	MaxDepth        *int     `json:"max_depth"`
	MaxPages        *int     `json:"max_pages"`
	MaxConcurrency  *int     `json:"max_concurrency"`
	Scope           string   `json:"scope"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	FollowRedirects *bool    `json:"follow_redirects"`
	AllowedSchemes  []string `json:"allowed_schemes"`
	RenderMode      string   `json:"render_mode"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req submitCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts, err := s.toOptions(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	crawlID, err := s.enqueueCrawl(r.Context(), opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"crawl_id": crawlID})
}

func (s *Server) listCrawls(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultCrawlLimit, maxCrawlLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *scraper.CrawlStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	crawls, err := s.store.ListCrawls(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list crawls failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawls")
		return
	}
	if crawls == nil {
		crawls = []scraper.Crawl{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawls": crawls})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "crawl_id")
	crawl, err := s.store.GetCrawl(r.Context(), crawlID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crawl not found")
			return
		}
		s.logger.Error("get crawl failed", zap.String("crawl_id", crawlID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawl": crawl})
}

func (s *Server) listCrawlPages(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "crawl_id")
	crawl, err := s.store.GetCrawl(r.Context(), crawlID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crawl not found")
			return
		}
		s.logger.Error("get crawl failed", zap.String("crawl_id", crawlID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl")
		return
	}
	pages, err := s.store.ListPages(r.Context(), crawlID)
	if err != nil {
		s.logger.Error("list pages failed", zap.String("crawl_id", crawlID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawl pages")
		return
	}
	if pages == nil {
		pages = []scraper.PageResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawl_id": crawl.ID, "pages": pages})
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "crawl_id")
	crawl, err := s.store.GetCrawl(r.Context(), crawlID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crawl not found")
			return
		}
		s.logger.Error("get crawl failed", zap.String("crawl_id", crawlID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl")
		return
	}
	switch crawl.Status {
	case scraper.CrawlStatusQueued:
		err := s.store.UpdateCrawlStatus(
			r.Context(),
			crawlID,
			scraper.CrawlStatusCanceled,
			"canceled via API",
			crawl.Counters,
		)
		if err != nil {
			s.logger.Error("cancel queued crawl failed", zap.String("crawl_id", crawlID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to cancel crawl")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"crawl_id": crawlID,
			"status":   string(scraper.CrawlStatusCanceled),
		})
	case scraper.CrawlStatusRunning:
		// The worker pool records the final canceled status once the
		// crawl unwinds.
		if s.canceler == nil || !s.canceler.Cancel(crawlID) {
			writeError(w, http.StatusConflict, "crawl is not running on this node")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"crawl_id": crawlID,
			"status":   "canceling",
		})
	default:
		writeError(w, http.StatusConflict, fmt.Sprintf("crawl already %s", crawl.Status))
	}
}

func (s *Server) enqueueCrawl(ctx context.Context, opts scraper.ScrapeOptions) (string, error) {
	crawlID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate crawl id: %w", err)
	}
	now := s.clock.Now()
	crawl := scraper.Crawl{
		ID:        crawlID,
		Status:    scraper.CrawlStatusQueued,
		Submitted: now,
		Options:   opts,
	}
	if err := s.store.CreateCrawl(ctx, crawl); err != nil {
		return "", fmt.Errorf("create crawl: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	sub := scraper.Submission{
		CrawlID:   crawlID,
		Options:   opts,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.queue.Enqueue(queueCtx, sub); err != nil {
		return "", fmt.Errorf("enqueue crawl: %w", err)
	}
	return crawlID, nil
}

func (s *Server) toOptions(req submitCrawlRequest) (scraper.ScrapeOptions, error) {
	opts := s.cfg.Crawl.Options(req.SeedURL)
	opts.MaxDepth = valueOrDefault(req.MaxDepth, opts.MaxDepth)
	opts.MaxPages = valueOrDefault(req.MaxPages, opts.MaxPages)
	opts.MaxConcurrency = valueOrDefault(req.MaxConcurrency, opts.MaxConcurrency)
	opts.FollowRedirects = valueOrDefault(req.FollowRedirects, opts.FollowRedirects)
	if req.Scope != "" {
		opts.Scope = scraper.Scope(req.Scope)
	}
	if req.RenderMode != "" {
		opts.RenderMode = scraper.RenderMode(req.RenderMode)
	}
	if req.IncludePatterns != nil {
		opts.IncludePatterns = req.IncludePatterns
	}
	if req.ExcludePatterns != nil {
		opts.ExcludePatterns = req.ExcludePatterns
	}
	if len(req.AllowedSchemes) > 0 {
		opts.AllowedSchemes = req.AllowedSchemes
	}
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return scraper.ScrapeOptions{}, err
	}
	return opts, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (scraper.CrawlStatus, error) {
	switch strings.ToLower(input) {
	case "queued":
		return scraper.CrawlStatusQueued, nil
	case "running":
		return scraper.CrawlStatusRunning, nil
	case "succeeded":
		return scraper.CrawlStatusSucceeded, nil
	case "failed":
		return scraper.CrawlStatusFailed, nil
	case "canceled", "cancelled":
		return scraper.CrawlStatusCanceled, nil
	default:
		return "", errors.New("invalid status")
	}
}
