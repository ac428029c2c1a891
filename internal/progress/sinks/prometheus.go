package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docharvest/docharvest/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns all
// collectors for crawls started/completed/running, per-site fetch counters,
// and page completions.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted *prometheus.CounterVec
	crawlsRunning   prometheus.Gauge
	crawlRuntime    *prometheus.HistogramVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	pagesProcessed *prometheus.CounterVec

	tracker *crawlTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docharvest_crawls_started_total",
			Help: "Total crawls that have started.",
		}),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docharvest_crawls_completed_total",
			Help: "Total crawls completed partitioned by result.",
		}, []string{"result"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docharvest_crawls_running",
			Help: "Current number of running crawls.",
		}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docharvest_crawl_runtime_seconds",
			Help:    "Wall time per completed crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docharvest_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docharvest_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docharvest_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		pagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docharvest_pages_processed_total",
			Help: "Pages recorded in crawl results partitioned by status class.",
		}, []string{"status_class"}),
		tracker: newCrawlTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsCompleted,
		s.crawlsRunning,
		s.crawlRuntime,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.pagesProcessed,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCrawlStart, progress.StageCrawlDone, progress.StageCrawlError:
		s.handleCrawlEvent(evt)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StagePageDone:
		s.handlePageEvent(evt)
	}
}

func (s *PrometheusSink) handleCrawlEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCrawlStart:
		s.crawlsStarted.Inc()
		if s.tracker.start(evt.CrawlID) {
			s.crawlsRunning.Inc()
		}
	case progress.StageCrawlDone:
		result := "success"
		if evt.Note == "canceled" {
			result = "canceled"
		}
		s.crawlsCompleted.WithLabelValues(result).Inc()
		s.observeRuntime(evt, result)
	case progress.StageCrawlError:
		s.crawlsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageCrawlStart && s.tracker.complete(evt.CrawlID) {
		s.crawlsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.crawlRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.pagesProcessed.WithLabelValues(statusClass).Inc()
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[string]struct{})}
}

func (t *crawlTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *crawlTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
