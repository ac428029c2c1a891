// Package scraper defines the core types, interfaces, and error taxonomy
// shared across docharvest subsystems: fetchers, pipelines, the crawl
// orchestrator, stores, and the API. Implementation packages depend on this
// package, never on each other's internals.
package scraper
