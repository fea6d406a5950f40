package interfaces

import (
	"context"

	"github.com/imgsentry/imgsentry/internal/models"
)

// Notifier delivers scan outcome notifications (email and similar).
// Implementations live outside the crawl core; they receive only the
// finalized result, never crawl internals.
type Notifier interface {
	ScanCompleted(ctx context.Context, job *models.ScanJob, result *models.ScanResult) error
	ScanFailed(ctx context.Context, job *models.ScanJob) error
}

// ReportSink renders finalized scan results (PDF and similar).
type ReportSink interface {
	RenderReport(ctx context.Context, result *models.ScanResult) error
}
