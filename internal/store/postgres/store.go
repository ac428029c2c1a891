// Package postgres provides the Postgres-backed crawl store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists crawls and their pages in Postgres.
type Store struct {
	pool db
}

// New creates a Postgres-backed crawl store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool db) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const createCrawlsTable = `
CREATE TABLE IF NOT EXISTS crawls (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error_text TEXT NOT NULL DEFAULT '',
	options JSONB NOT NULL,
	pages_fetched BIGINT NOT NULL DEFAULT 0,
	pages_failed BIGINT NOT NULL DEFAULT 0,
	urls_discovered BIGINT NOT NULL DEFAULT 0
)`

const createPagesTable = `
CREATE TABLE IF NOT EXISTS crawl_pages (
	seq BIGSERIAL PRIMARY KEY,
	crawl_id TEXT NOT NULL,
	url TEXT NOT NULL,
	depth INT NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	links TEXT[] NOT NULL DEFAULT '{}',
	metadata JSONB,
	errors TEXT[] NOT NULL DEFAULT '{}',
	status_code INT NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	archive_uri TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0
)`

const createPagesIndex = `
CREATE INDEX IF NOT EXISTS crawl_pages_crawl_id_idx ON crawl_pages (crawl_id, seq)`

// Migrate creates the crawl tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createCrawlsTable, createPagesTable, createPagesIndex} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate crawl store: %w", err)
		}
	}
	return nil
}

// CreateCrawl inserts a new crawl row.
func (s *Store) CreateCrawl(ctx context.Context, crawl scraper.Crawl) error {
	if crawl.ID == "" {
		return fmt.Errorf("crawl id is required")
	}
	optionsJSON, err := json.Marshal(crawl.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	query := `
INSERT INTO crawls (
	id, status, submitted_at, options, pages_fetched, pages_failed, urls_discovered
) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query,
		crawl.ID,
		string(crawl.Status),
		crawl.Submitted,
		optionsJSON,
		crawl.Counters.PagesFetched,
		crawl.Counters.PagesFailed,
		crawl.Counters.URLsDiscovered,
	)
	if err != nil {
		return fmt.Errorf("insert crawl: %w", err)
	}
	return nil
}

// UpdateCrawlStatus updates status, error text, and counters. The first
// transition to running stamps started_at; terminal statuses stamp
// finished_at.
func (s *Store) UpdateCrawlStatus(
	ctx context.Context,
	crawlID string,
	status scraper.CrawlStatus,
	errText string,
	counters scraper.CrawlCounters,
) error {
	query := `
UPDATE crawls SET
	status = $2,
	error_text = $3,
	pages_fetched = $4,
	pages_failed = $5,
	urls_discovered = $6,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
	finished_at = CASE
		WHEN $2 IN ('succeeded', 'failed', 'canceled') AND finished_at IS NULL THEN now()
		ELSE finished_at
	END
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		crawlID,
		string(status),
		errText,
		counters.PagesFetched,
		counters.PagesFailed,
		counters.URLsDiscovered,
	)
	if err != nil {
		return fmt.Errorf("update crawl status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrNotFound
	}
	return nil
}

// RecordPage inserts a page row for a crawl.
func (s *Store) RecordPage(ctx context.Context, crawlID string, page scraper.PageResult) error {
	var metadataJSON []byte
	if page.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(page.Metadata)
		if err != nil {
			return fmt.Errorf("marshal page metadata: %w", err)
		}
	}
	query := `
INSERT INTO crawl_pages (
	crawl_id, url, depth, title, content, links, metadata, errors,
	status_code, mime_type, content_hash, archive_uri, fetched_at, duration_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := s.pool.Exec(ctx, query,
		crawlID,
		page.URL,
		page.Depth,
		page.Title,
		page.Content,
		page.Links,
		metadataJSON,
		page.Errors,
		page.StatusCode,
		page.MimeType,
		page.ContentHash,
		page.ArchiveURI,
		page.FetchedAt,
		page.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// GetCrawl fetches a crawl by ID.
func (s *Store) GetCrawl(ctx context.Context, crawlID string) (scraper.Crawl, error) {
	query := `
SELECT status, submitted_at, started_at, finished_at, error_text, options,
	pages_fetched, pages_failed, urls_discovered
FROM crawls WHERE id = $1`
	var (
		crawl       scraper.Crawl
		status      string
		optionsJSON []byte
	)
	crawl.ID = crawlID
	err := s.pool.QueryRow(ctx, query, crawlID).Scan(
		&status,
		&crawl.Submitted,
		&crawl.Started,
		&crawl.Finished,
		&crawl.ErrorText,
		&optionsJSON,
		&crawl.Counters.PagesFetched,
		&crawl.Counters.PagesFailed,
		&crawl.Counters.URLsDiscovered,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Crawl{}, scraper.ErrNotFound
		}
		return scraper.Crawl{}, fmt.Errorf("select crawl: %w", err)
	}
	crawl.Status = scraper.CrawlStatus(status)
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &crawl.Options); err != nil {
			return scraper.Crawl{}, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	return crawl, nil
}

// ListCrawls returns crawls newest first, optionally filtered by status.
func (s *Store) ListCrawls(
	ctx context.Context,
	status *scraper.CrawlStatus,
	limit, offset int,
) ([]scraper.Crawl, error) {
	query := `
SELECT id, status, submitted_at, started_at, finished_at, error_text, options,
	pages_fetched, pages_failed, urls_discovered
FROM crawls`
	var args []any
	if status != nil {
		args = append(args, string(*status))
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY submitted_at DESC, id"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select crawls: %w", err)
	}
	defer rows.Close()

	var crawls []scraper.Crawl
	for rows.Next() {
		var (
			crawl       scraper.Crawl
			statusText  string
			optionsJSON []byte
		)
		err := rows.Scan(
			&crawl.ID,
			&statusText,
			&crawl.Submitted,
			&crawl.Started,
			&crawl.Finished,
			&crawl.ErrorText,
			&optionsJSON,
			&crawl.Counters.PagesFetched,
			&crawl.Counters.PagesFailed,
			&crawl.Counters.URLsDiscovered,
		)
		if err != nil {
			return nil, fmt.Errorf("scan crawl: %w", err)
		}
		crawl.Status = scraper.CrawlStatus(statusText)
		if len(optionsJSON) > 0 {
			if err := json.Unmarshal(optionsJSON, &crawl.Options); err != nil {
				return nil, fmt.Errorf("unmarshal options: %w", err)
			}
		}
		crawls = append(crawls, crawl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawls: %w", err)
	}
	return crawls, nil
}

// ListPages returns all recorded pages for a crawl in insertion order.
func (s *Store) ListPages(ctx context.Context, crawlID string) ([]scraper.PageResult, error) {
	query := `
SELECT url, depth, title, content, links, metadata, errors,
	status_code, mime_type, content_hash, archive_uri, fetched_at, duration_ms
FROM crawl_pages WHERE crawl_id = $1 ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, crawlID)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	defer rows.Close()

	var pages []scraper.PageResult
	for rows.Next() {
		var (
			page         scraper.PageResult
			metadataJSON []byte
		)
		err := rows.Scan(
			&page.URL,
			&page.Depth,
			&page.Title,
			&page.Content,
			&page.Links,
			&metadataJSON,
			&page.Errors,
			&page.StatusCode,
			&page.MimeType,
			&page.ContentHash,
			&page.ArchiveURI,
			&page.FetchedAt,
			&page.DurationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &page.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal page metadata: %w", err)
			}
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}
