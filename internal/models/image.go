package models

import (
	"time"
)

// DiscoveredImage is one image observed on the wire during a scan.
// Created when first observed on any page; the PageURLs set grows
// monotonically and is deduplicated when the image is re-observed.
type DiscoveredImage struct {
	ID     string `json:"id"`
	ScanID string `json:"scan_id"`
	URL    string `json:"url"`
	// MimeType is the declared Content-Type of the response.
	MimeType string `json:"mime_type"`
	// ByteSize is the actual encoded transfer size when the protocol
	// reported one, otherwise the declared content-length.
	ByteSize int64 `json:"byte_size"`
	// Width and Height are the natural dimensions from the rendered DOM;
	// zero when the image never appeared in it.
	Width  int64 `json:"width,omitempty"`
	Height int64 `json:"height,omitempty"`
	// EstimatedSize is the projected size after re-encoding to a modern
	// format; equal to ByteSize for already-conforming formats.
	EstimatedSize  int64   `json:"estimated_size"`
	SavingsPercent float64 `json:"savings_percent"`
	// NonConforming marks formats with a worthwhile re-encoding gain.
	NonConforming bool `json:"non_conforming"`
	// PageURLs lists every page the image was observed on, deduplicated.
	PageURLs    []string  `json:"page_urls"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// AddPageURL appends a page URL if not already present, preserving the
// monotonic, deduplicated set invariant.
func (img *DiscoveredImage) AddPageURL(pageURL string) bool {
	for _, existing := range img.PageURLs {
		if existing == pageURL {
			return false
		}
	}
	img.PageURLs = append(img.PageURLs, pageURL)
	return true
}
