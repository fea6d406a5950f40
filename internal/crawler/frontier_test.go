package crawler

import (
	"testing"

	"github.com/imgsentry/imgsentry/internal/models"
)

func TestFrontier_Add(t *testing.T) {
	t.Run("Deduplicates by normalized form", func(t *testing.T) {
		f := NewFrontier()

		if !f.Add("https://example.com/page") {
			t.Fatal("First add must be accepted")
		}
		if f.Add("HTTPS://EXAMPLE.COM/page/") {
			t.Error("Same page in different spelling must be rejected")
		}
		if f.Add("https://example.com/page#frag") {
			t.Error("Same page with fragment must be rejected")
		}
		if f.PendingCount() != 1 {
			t.Errorf("Expected 1 pending, got %d", f.PendingCount())
		}
	})

	t.Run("Rejects invalid URLs", func(t *testing.T) {
		f := NewFrontier()
		if f.Add("javascript:void(0)") {
			t.Error("Non-http URL must be rejected")
		}
	})

	t.Run("Dequeued URL is never re-enqueued", func(t *testing.T) {
		f := NewFrontier()
		f.Add("https://example.com/a")

		u, ok := f.Next()
		if !ok || u != "https://example.com/a" {
			t.Fatalf("Expected dequeue of /a, got %q", u)
		}

		// Still in flight, not yet visited
		if f.Add("https://example.com/a") {
			t.Error("In-flight URL must not be re-enqueued")
		}
		f.MarkVisited(u)
		if f.Add("https://example.com/a") {
			t.Error("Visited URL must not be re-enqueued")
		}
	})
}

func TestFrontier_Next(t *testing.T) {
	f := NewFrontier()
	f.Add("https://example.com/1")
	f.Add("https://example.com/2")
	f.Add("https://example.com/3")

	for _, want := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"} {
		got, ok := f.Next()
		if !ok || got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
	if _, ok := f.Next(); ok {
		t.Error("Empty frontier must report no next URL")
	}
}

func TestFrontier_CheckpointRoundTrip(t *testing.T) {
	f := NewFrontier()
	for _, u := range []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	} {
		f.Add(u)
	}
	// Crawl a and b
	for i := 0; i < 2; i++ {
		u, _ := f.Next()
		f.MarkVisited(u)
	}

	visited, pending := f.Snapshot()
	if len(visited) != 2 || len(pending) != 2 {
		t.Fatalf("Expected 2 visited and 2 pending, got %d/%d", len(visited), len(pending))
	}

	checkpoint := &models.CrawlCheckpoint{
		ScanID:       "scan_test",
		Visited:      visited,
		Pending:      pending,
		PagesScanned: 2,
	}
	if err := checkpoint.Validate(); err != nil {
		t.Fatalf("Snapshot must produce a valid checkpoint: %v", err)
	}

	restored := RestoreFrontier(checkpoint)
	if restored.PendingCount() != 2 {
		t.Errorf("Expected 2 pending after restore, got %d", restored.PendingCount())
	}
	if !restored.Visited("https://example.com/a") || !restored.Visited("https://example.com/b") {
		t.Error("Visited set must survive the round trip")
	}

	// Crawled pages stay crawled
	if restored.Add("https://example.com/a") {
		t.Error("Restored frontier must not re-enqueue visited URLs")
	}

	// Pending pages drain in order
	got, _ := restored.Next()
	if got != "https://example.com/c" {
		t.Errorf("Expected /c first after restore, got %s", got)
	}
}

func TestRestoreFrontier_OverlapKeepsVisitedStanding(t *testing.T) {
	checkpoint := &models.CrawlCheckpoint{
		ScanID:  "scan_test",
		Visited: []string{"https://example.com/x"},
		Pending: []string{"https://example.com/x", "https://example.com/y"},
	}

	f := RestoreFrontier(checkpoint)
	if f.PendingCount() != 1 {
		t.Errorf("Overlapping URL must stay visited only, pending=%d", f.PendingCount())
	}
	got, _ := f.Next()
	if got != "https://example.com/y" {
		t.Errorf("Expected /y, got %s", got)
	}
}
