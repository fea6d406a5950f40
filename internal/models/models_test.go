package models

import (
	"testing"
)

func TestScanStatus_IsTerminal(t *testing.T) {
	if ScanStatusQueued.IsTerminal() || ScanStatusProcessing.IsTerminal() {
		t.Error("Queued and Processing are not terminal")
	}
	if !ScanStatusCompleted.IsTerminal() || !ScanStatusFailed.IsTerminal() {
		t.Error("Completed and Failed are terminal")
	}
}

func TestDiscoveredImage_AddPageURL(t *testing.T) {
	img := &DiscoveredImage{PageURLs: []string{"https://example.com"}}

	if !img.AddPageURL("https://example.com/about") {
		t.Error("New page must be added")
	}
	if img.AddPageURL("https://example.com/about") {
		t.Error("Duplicate page must be rejected")
	}
	if len(img.PageURLs) != 2 {
		t.Errorf("Expected 2 pages, got %d", len(img.PageURLs))
	}
}

func TestCrawlCheckpoint_Validate(t *testing.T) {
	valid := &CrawlCheckpoint{
		ScanID:  "scan_1",
		Visited: []string{"https://example.com/a"},
		Pending: []string{"https://example.com/b"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Disjoint sets must validate: %v", err)
	}

	invalid := &CrawlCheckpoint{
		ScanID:  "scan_1",
		Visited: []string{"https://example.com/a"},
		Pending: []string{"https://example.com/a"},
	}
	if err := invalid.Validate(); err == nil {
		t.Error("Overlapping sets must fail validation")
	}
}
