// Package main hosts the docharvest binary.
//
// Architecture overview:
//   - Crawl orchestrator: internal/crawl walks a site breadth-first from a seed URL under depth/page/concurrency
//     budgets, applying the scope policy and include/exclude patterns before a URL is admitted. Fetched content is
//     dispatched to the first pipeline claiming its MIME type.
//   - Fetch: internal/fetch routes by scheme to the colly-based web fetcher (robots, redirects, body cap, charset
//     detection) or the file fetcher for file: URLs; internal/fetch/headless renders JavaScript-dependent pages
//     through a shared chromedp browser when the render mode calls for it.
//   - Pipelines: internal/pipeline implements staged extraction per content type (HTML, Markdown, JSON); each stage
//     decides whether the chain proceeds. internal/splitter cuts oversized page content into byte-budgeted chunks
//     along structural boundaries (Markdown table rows, top-level JSON members, text blocks and lines).
//   - Serve mode: internal/server wires the chi API, a bounded submission queue (memory or Pub/Sub), and the crawl
//     worker pool. Crawl state is persisted via the CrawlStore (memory or Postgres); raw content can be archived
//     (local dir, memory, or GCS) and page events published (Pub/Sub). Progress events are batched by the hub and
//     fanned out to zap and Prometheus sinks.
//   - Configuration & plumbing: Viper populates config from file/env (DOCHARVEST_ prefix); zap provides structured
//     logging; /metrics serves the injected Prometheus registry.
//
// Operational notes:
//   - Concurrency model: per-crawl fetch workers bounded by MaxConcurrency inside the orchestrator; serve mode adds
//     a fixed pool of crawl workers fed by the queue. Shutdown is coordinated via context cancellation; final status
//     writes survive cancellation with short detached timeouts.
//   - Cancellation: POST /v1/crawls/{id}/cancel marks queued crawls canceled in the store and cooperatively cancels
//     running ones through the pool's cancel registry; the interrupted crawl keeps its partial results.
//   - Observability: zap logs carry crawl IDs and URLs at key transitions; the progress hub never blocks crawl
//     workers and counts drops under backpressure.
//
// Quick start:
//   - One-shot: go run . crawl https://docs.example.com/guide/ --depth 2 --format text
//   - Chunked output: go run . crawl file:///srv/docs/index.html --out ./harvest --chunk-size 4096
//   - Service: go run . serve (listens on server.addr, drains cleanly on SIGTERM)
package main
