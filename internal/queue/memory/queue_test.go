package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docharvest/docharvest/internal/scraper"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan scraper.Submission, 1)
	errCh := make(chan error, 1)

	go func() {
		sub, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- sub
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	sub := scraper.Submission{
		CrawlID: "crawl-1",
		Options: scraper.ScrapeOptions{SeedURL: "https://docs.example.com/"},
	}
	if err := q.Enqueue(context.Background(), sub); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.CrawlID != "crawl-1" {
			t.Fatalf("expected crawl-1, got %+v", got)
		}
		if got.Options.SeedURL != "https://docs.example.com/" {
			t.Fatalf("submission lost its options: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return submission")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), scraper.Submission{CrawlID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, scraper.Submission{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseDrainsBufferedSubmissions(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	if err := q.Enqueue(context.Background(), scraper.Submission{CrawlID: "crawl-1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()

	got, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue() after close should drain, got error %v", err)
	}
	if got.CrawlID != "crawl-1" {
		t.Fatalf("expected crawl-1, got %+v", got)
	}

	if _, err := q.Dequeue(context.Background()); !errors.Is(err, scraper.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
