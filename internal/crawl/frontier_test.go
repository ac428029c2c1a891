package crawl

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFrontierAdmitDeduplicates verifies a URL is only ever admitted once.
func TestFrontierAdmitDeduplicates(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	require.True(t, f.Admit("https://docs.example.com/guide/", 0))
	require.False(t, f.Admit("https://docs.example.com/guide/", 1))
	require.Equal(t, 1, f.Admitted())
}

// TestFrontierNextDrainsQueueInOrder checks FIFO delivery and exhaustion.
func TestFrontierNextDrainsQueueInOrder(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	require.True(t, f.Admit("https://docs.example.com/a", 0))
	require.True(t, f.Admit("https://docs.example.com/b", 1))

	first, ok := f.Next()
	require.True(t, ok)
	require.Equal(t, Entry{URL: "https://docs.example.com/a", Depth: 0}, first)

	second, ok := f.Next()
	require.True(t, ok)
	require.Equal(t, Entry{URL: "https://docs.example.com/b", Depth: 1}, second)

	f.Done()
	f.Done()

	_, ok = f.Next()
	require.False(t, ok)
}

// TestFrontierNextWaitsForInFlightWork ensures an empty queue does not end
// the crawl while a worker holding an entry could still admit more.
func TestFrontierNextWaitsForInFlightWork(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	require.True(t, f.Admit("https://docs.example.com/a", 0))

	_, ok := f.Next()
	require.True(t, ok)

	type result struct {
		entry Entry
		ok    bool
	}
	got := make(chan result, 1)
	go func() {
		entry, ok := f.Next()
		got <- result{entry: entry, ok: ok}
	}()

	select {
	case <-got:
		t.Fatal("Next returned while work was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, f.Admit("https://docs.example.com/b", 1))
	select {
	case r := <-got:
		require.True(t, r.ok)
		require.Equal(t, "https://docs.example.com/b", r.entry.URL)
	case <-time.After(time.Second):
		t.Fatal("Next never received the admitted entry")
	}

	f.Done()
	f.Done()
	_, ok = f.Next()
	require.False(t, ok)
}

// TestFrontierCloseDrainsAndRejects confirms Close drops queued entries,
// wakes waiters, and refuses further admissions.
func TestFrontierCloseDrainsAndRejects(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	require.True(t, f.Admit("https://docs.example.com/a", 0))
	require.True(t, f.Admit("https://docs.example.com/b", 1))

	f.Close()

	_, ok := f.Next()
	require.False(t, ok)
	require.False(t, f.Admit("https://docs.example.com/c", 1))
	require.Equal(t, 2, f.Admitted())

	f.Close()
}

// TestFrontierConcurrentAdmits hammers Admit from many goroutines to prove
// the visited set never double-admits.
func TestFrontierConcurrentAdmits(t *testing.T) {
	t.Parallel()

	f := newFrontier()
	const workers = 8
	const urls = 100

	var admitted sync.Map
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < urls; i++ {
				url := fmt.Sprintf("https://docs.example.com/page-%d", i)
				if f.Admit(url, 1) {
					if _, loaded := admitted.LoadOrStore(url, true); loaded {
						t.Errorf("url %s admitted twice", url)
					}
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, urls, f.Admitted())
}
