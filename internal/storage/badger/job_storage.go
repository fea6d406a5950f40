package badger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/imgsentry/imgsentry/internal/interfaces"
	"github.com/imgsentry/imgsentry/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	// BadgerHold has no multi-record transaction for read-modify-write, so
	// every writer takes this lock. Without it the aging pass could read a
	// Queued job, lose the CPU to the dispatcher marking it Processing, and
	// then write the stale Queued copy back, handing the job out twice.
	writeMu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.ScanJob) error {
	if job.ID == "" {
		return fmt.Errorf("scan job ID is required")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save scan job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, scanID string) (*models.ScanJob, error) {
	var job models.ScanJob
	if err := s.db.Store().Get(scanID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("scan job not found: %s", scanID)
		}
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.ScanJob) error {
	return s.SaveJob(ctx, job)
}

func (s *JobStorage) GetJobsByStatus(ctx context.Context, status models.ScanStatus) ([]*models.ScanJob, error) {
	var jobs []models.ScanJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %w", err)
	}

	result := make([]*models.ScanJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetQueuedJobsByPriority(ctx context.Context) ([]*models.ScanJob, error) {
	var jobs []models.ScanJob
	query := badgerhold.Where("Status").Eq(models.ScanStatusQueued).SortBy("Priority", "CreatedAt")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to get queued jobs: %w", err)
	}

	result := make([]*models.ScanJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.ScanStatus) (int, error) {
	count, err := s.db.Store().Count(&models.ScanJob{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) CountSubmissionsByIP(ctx context.Context, ip string) (int, error) {
	count, err := s.db.Store().Count(&models.ScanJob{}, badgerhold.Where("SubmitterIP").Eq(ip))
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions by IP: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) UpdatePriorities(ctx context.Context, priorities map[string]int64, positions map[string]int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for scanID, priority := range priorities {
		var job models.ScanJob
		if err := s.db.Store().Get(scanID, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				// Job was dequeued between the aging computation and this
				// write; its score no longer matters.
				continue
			}
			return fmt.Errorf("failed to load job %s for priority update: %w", scanID, err)
		}
		if job.Status != models.ScanStatusQueued {
			continue
		}
		job.Priority = priority
		if pos, ok := positions[scanID]; ok {
			job.QueuePosition = pos
		}
		if err := s.db.Store().Upsert(scanID, &job); err != nil {
			return fmt.Errorf("failed to update priority for %s: %w", scanID, err)
		}
	}
	return nil
}
