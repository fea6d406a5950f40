package interfaces

import (
	"context"

	"github.com/imgsentry/imgsentry/internal/models"
)

// JobStorage persists scan jobs. Implementations must make UpdatePriorities
// atomic with respect to concurrent dequeues.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.ScanJob) error
	GetJob(ctx context.Context, scanID string) (*models.ScanJob, error)
	UpdateJob(ctx context.Context, job *models.ScanJob) error

	// GetJobsByStatus returns all jobs in the given lifecycle state.
	GetJobsByStatus(ctx context.Context, status models.ScanStatus) ([]*models.ScanJob, error)
	// GetQueuedJobsByPriority returns queued jobs ordered by ascending
	// priority score (lower dequeues sooner).
	GetQueuedJobsByPriority(ctx context.Context) ([]*models.ScanJob, error)
	// CountJobsByStatus counts jobs in the given state.
	CountJobsByStatus(ctx context.Context, status models.ScanStatus) (int, error)
	// CountSubmissionsByIP counts prior scans submitted from an IP, used to
	// derive the fairness slot of a new submission.
	CountSubmissionsByIP(ctx context.Context, ip string) (int, error)
	// UpdatePriorities applies a bulk priority/queue-position update produced
	// by the aging pass.
	UpdatePriorities(ctx context.Context, priorities map[string]int64, positions map[string]int) error
}

// ImageStorage persists images discovered during scans.
type ImageStorage interface {
	SaveImage(ctx context.Context, img *models.DiscoveredImage) error
	// GetImageByURL looks up a previously discovered image within one scan,
	// so re-observations extend its page list instead of duplicating it.
	GetImageByURL(ctx context.Context, scanID, imageURL string) (*models.DiscoveredImage, error)
	GetImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error)
	CountImagesByScan(ctx context.Context, scanID string) (int, error)
}

// CheckpointStorage persists crawl checkpoints keyed by scan ID.
type CheckpointStorage interface {
	SaveCheckpoint(ctx context.Context, checkpoint *models.CrawlCheckpoint) error
	// GetCheckpoint returns nil, nil when no checkpoint exists for the scan.
	GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, scanID string) error
}

// StorageManager bundles the storages behind one lifecycle.
type StorageManager interface {
	JobStorage() JobStorage
	ImageStorage() ImageStorage
	CheckpointStorage() CheckpointStorage
	Close() error
}
