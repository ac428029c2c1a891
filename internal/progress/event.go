// Package progress defines the event structures emitted during crawls.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StageCrawlDone  Stage = "CRAWL_DONE"
	StageCrawlError Stage = "CRAWL_ERROR"
	StageFetchStart Stage = "FETCH_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StagePageDone   Stage = "PAGE_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of crawl progress.
type Event struct {
	// CrawlID identifies the crawl run the event belongs to.
	CrawlID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, fetch, or page milestone occurred.
	Stage Stage
	// Site optionally scopes fetch events to a host label.
	Site string
	// URL is the page URL for fetch and page events.
	URL string
	// Depth is the page's distance from the seed.
	Depth int
	// Bytes carries the response size for the fetch.
	Bytes int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures execution latency for fetches and crawl completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StageFetchStart, StagePageDone:
		if e.URL == "" {
			return fmt.Errorf("%s requires a url", e.Stage)
		}
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires a url")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires a status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events. Code zero, used
// for fetches that never produced a response, maps to StatusOther.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
