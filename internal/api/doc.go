// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls for crawl submission; POST /v1/crawls/{id}/cancel.
//   - GET /v1/crawls, /v1/crawls/{id}, /v1/crawls/{id}/pages for progress
//     reporting backed by the CrawlStore.
package api
