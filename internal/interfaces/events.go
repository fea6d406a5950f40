package interfaces

import (
	"context"
)

// EventType identifies a crawl progress event.
type EventType string

const (
	EventPageStarted    EventType = "page_started"
	EventPageCompleted  EventType = "page_completed"
	EventImageFound     EventType = "image_found"
	EventCrawlCompleted EventType = "crawl_completed"
	EventCrawlFailed    EventType = "crawl_failed"
	// EventQueuePositionChanged is broadcast when the aging pass moves a
	// queued job.
	EventQueuePositionChanged EventType = "queue_position_changed"
)

// ImageInfo carries per-image details on EventImageFound.
type ImageInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	ByteSize int64  `json:"byte_size"`
	Width    int64  `json:"width,omitempty"`
	Height   int64  `json:"height,omitempty"`
}

// Event is a typed progress event emitted by the crawl orchestrator and the
// scheduler's aging pass.
type Event struct {
	Type   EventType `json:"type"`
	ScanID string    `json:"scan_id"`
	// CurrentURL is the page the event refers to, when page-scoped.
	CurrentURL      string     `json:"current_url,omitempty"`
	PagesScanned    int        `json:"pages_scanned"`
	PagesDiscovered int        `json:"pages_discovered"`
	ImagesFound     int        `json:"images_found"`
	QueuePosition   int        `json:"queue_position,omitempty"`
	Image           *ImageInfo `json:"image,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventService is the pub/sub boundary between the crawl core and
// out-of-scope presentation/notification transports.
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
