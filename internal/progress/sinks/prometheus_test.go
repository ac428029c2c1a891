package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/docharvest/docharvest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	crawlID := "3f1d6f7e-9c2a-4d5b-8e01-6a7b8c9d0e1f"
	batch := []progress.Event{
		{CrawlID: crawlID, TS: time.Now(), Stage: progress.StageCrawlStart},
		{
			CrawlID:     crawlID,
			TS:          time.Now().Add(10 * time.Second),
			Stage:       progress.StageFetchDone,
			Site:        "docs.example.com",
			URL:         "https://docs.example.com/guide/",
			Bytes:       1024,
			StatusClass: progress.Status2xx,
			Dur:         200 * time.Millisecond,
		},
		{
			CrawlID:     crawlID,
			TS:          time.Now().Add(11 * time.Second),
			Stage:       progress.StagePageDone,
			Site:        "docs.example.com",
			URL:         "https://docs.example.com/guide/",
			StatusClass: progress.Status2xx,
		},
		{CrawlID: crawlID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageCrawlDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.crawlsRunning))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.fetchRequests.WithLabelValues("docs.example.com", string(progress.Status2xx))),
		1e-9,
	)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("docs.example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "docharvest_fetch_duration_seconds"))
	require.Equal(
		t,
		1.0,
		testutil.ToFloat64(sink.pagesProcessed.WithLabelValues(string(progress.Status2xx))),
	)
}

// TestPrometheusSinkLabelsCanceledCrawls checks the canceled note maps to its own result label.
func TestPrometheusSinkLabelsCanceledCrawls(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	crawlID := "5a2b3c4d-1e2f-4a5b-9c8d-7e6f5a4b3c2d"
	batch := []progress.Event{
		{CrawlID: crawlID, TS: time.Now(), Stage: progress.StageCrawlStart},
		{CrawlID: crawlID, TS: time.Now(), Stage: progress.StageCrawlDone, Dur: time.Second, Note: "canceled"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("canceled")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.crawlsRunning))
}
