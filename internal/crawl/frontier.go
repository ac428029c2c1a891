// Package crawl drives concurrent documentation crawls: a frontier of
// discovered URLs, a bounded worker pool, and per-page fetch/process
// bookkeeping.
package crawl

import "sync"

// Entry is one unit of frontier work.
type Entry struct {
	URL   string
	Depth int
}

// frontier is the crawl's work queue fused with its visited set. Marking a
// URL visited and enqueueing it happen under one lock, so a URL can never
// be admitted twice, no matter how many workers discover it at once.
type frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	visited  map[string]struct{}
	queue    []Entry
	inFlight int
	admitted int
	closed   bool
}

func newFrontier() *frontier {
	f := &frontier{visited: map[string]struct{}{}}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Admit marks the URL visited and enqueues it in one step. It reports
// false for URLs already admitted and after Close.
func (f *frontier) Admit(url string, depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if _, seen := f.visited[url]; seen {
		return false
	}
	f.visited[url] = struct{}{}
	f.queue = append(f.queue, Entry{URL: url, Depth: depth})
	f.inFlight++
	f.admitted++
	f.cond.Broadcast()
	return true
}

// Next blocks until an entry is available. ok is false once the frontier
// is closed or exhausted: empty queue with nothing in flight that could
// still discover more.
func (f *frontier) Next() (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if len(f.queue) > 0 {
			entry := f.queue[0]
			f.queue = f.queue[1:]
			return entry, true
		}
		if f.closed || f.inFlight == 0 {
			return Entry{}, false
		}
		f.cond.Wait()
	}
}

// Done reports one dequeued entry fully processed, including any Admit
// calls it was going to make.
func (f *frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	if f.inFlight == 0 {
		f.cond.Broadcast()
	}
}

// Close drops queued work and wakes every waiter. Admit refuses afterward;
// in-flight entries finish normally.
func (f *frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.queue = nil
	f.cond.Broadcast()
}

// Admitted returns how many URLs were ever admitted, the crawl's running
// total for progress reporting.
func (f *frontier) Admitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admitted
}
