package models

import (
	"fmt"
	"time"
)

// CrawlCheckpoint is a durable snapshot of one scan's frontier taken at a
// processed-page boundary. Written periodically during the crawl, deleted on
// successful completion, read once at resume.
//
// Invariant: Visited and Pending are disjoint.
type CrawlCheckpoint struct {
	ScanID              string    `json:"scan_id"`
	Visited             []string  `json:"visited"`
	Pending             []string  `json:"pending"`
	PagesScanned        int       `json:"pages_scanned"`
	PagesDiscovered     int       `json:"pages_discovered"`
	NonConformingImages int       `json:"non_conforming_images"`
	CurrentURL          string    `json:"current_url"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Validate checks the visited/pending disjointness invariant.
func (c *CrawlCheckpoint) Validate() error {
	visited := make(map[string]struct{}, len(c.Visited))
	for _, u := range c.Visited {
		visited[u] = struct{}{}
	}
	for _, u := range c.Pending {
		if _, ok := visited[u]; ok {
			return fmt.Errorf("checkpoint for %s is inconsistent: %q is both visited and pending", c.ScanID, u)
		}
	}
	return nil
}
