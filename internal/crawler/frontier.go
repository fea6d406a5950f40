package crawler

import (
	"github.com/imgsentry/imgsentry/internal/models"
)

// Frontier is the in-memory BFS state for one scan: a FIFO queue of pending
// normalized URLs plus the visited set. A URL is enqueued at most once per
// scan, gated on the "all discovered" set rather than the visited set, so a
// URL already waiting in the queue is never enqueued a second time.
//
// Not safe for concurrent use; page traversal within a scan is sequential.
type Frontier struct {
	pending    []string
	visited    map[string]struct{}
	discovered map[string]struct{}
}

// NewFrontier creates an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		visited:    make(map[string]struct{}),
		discovered: make(map[string]struct{}),
	}
}

// Add enqueues a raw URL after normalization. Returns true if the URL was
// accepted (valid and never discovered before in this scan).
func (f *Frontier) Add(rawURL string) bool {
	normalized, ok := NormalizeURL(rawURL)
	if !ok {
		return false
	}
	if _, seen := f.discovered[normalized]; seen {
		return false
	}
	f.discovered[normalized] = struct{}{}
	f.pending = append(f.pending, normalized)
	return true
}

// Next dequeues the oldest pending URL in first-discovered order.
func (f *Frontier) Next() (string, bool) {
	if len(f.pending) == 0 {
		return "", false
	}
	u := f.pending[0]
	f.pending = f.pending[1:]
	return u, true
}

// MarkVisited records a URL as crawled.
func (f *Frontier) MarkVisited(normalizedURL string) {
	f.visited[normalizedURL] = struct{}{}
	f.discovered[normalizedURL] = struct{}{}
}

// Visited reports whether a URL has already been crawled.
func (f *Frontier) Visited(normalizedURL string) bool {
	_, ok := f.visited[normalizedURL]
	return ok
}

// PendingCount returns the number of URLs waiting to be crawled.
func (f *Frontier) PendingCount() int {
	return len(f.pending)
}

// DiscoveredCount returns the total number of distinct URLs ever added.
func (f *Frontier) DiscoveredCount() int {
	return len(f.discovered)
}

// Snapshot produces a checkpoint-ready cut of the frontier. The returned
// slices satisfy visited ∩ pending = ∅ because a URL moves out of pending
// when dequeued and into visited only after its page completes.
func (f *Frontier) Snapshot() (visited []string, pending []string) {
	visited = make([]string, 0, len(f.visited))
	for u := range f.visited {
		visited = append(visited, u)
	}
	pending = make([]string, len(f.pending))
	copy(pending, f.pending)
	return visited, pending
}

// RestoreFrontier rebuilds a frontier from a checkpoint. Checkpointed URLs
// are already normalized; any URL present in both sets keeps its visited
// standing to preserve the disjointness invariant.
func RestoreFrontier(checkpoint *models.CrawlCheckpoint) *Frontier {
	f := NewFrontier()
	for _, u := range checkpoint.Visited {
		f.MarkVisited(u)
	}
	for _, u := range checkpoint.Pending {
		if f.Visited(u) {
			continue
		}
		if _, seen := f.discovered[u]; seen {
			continue
		}
		f.discovered[u] = struct{}{}
		f.pending = append(f.pending, u)
	}
	return f
}
