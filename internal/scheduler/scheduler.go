package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/imgsentry/imgsentry/internal/common"
	"github.com/imgsentry/imgsentry/internal/crawler"
	"github.com/imgsentry/imgsentry/internal/interfaces"
	"github.com/imgsentry/imgsentry/internal/models"
)

// ScanRunner executes one scan to completion. Implemented by the crawl
// orchestrator; abstracted so scheduling behavior is testable without a
// browser.
type ScanRunner interface {
	RunScan(ctx context.Context, job *models.ScanJob) (*models.ScanResult, error)
}

// SubmitRequest is a scan submission from the outer surface.
type SubmitRequest struct {
	TargetURL   string `validate:"required,url"`
	NotifyEmail string `validate:"omitempty,email"`
	SubmitterIP string `validate:"required,ip"`
}

// Scheduler owns the scan queue: submission, fairness-ordered dispatch
// under a concurrency cap, the cron-driven aging pass, per-IP cooldowns,
// and shutdown-safe cancellation of running scans.
type Scheduler struct {
	jobs        interfaces.JobStorage
	checkpoints interfaces.CheckpointStorage
	runner      ScanRunner
	events      interfaces.EventService
	notifier    interfaces.Notifier
	guard       *crawler.Guard
	cooldowns   *CooldownStore
	validate    *validator.Validate
	cron        *cron.Cron
	config      *common.SchedulerConfig
	logger      arbor.ILogger

	mu      sync.Mutex
	running map[string]*crawler.ScanContext
	stopped bool

	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewScheduler wires the scheduler. notifier may be nil.
func NewScheduler(
	jobs interfaces.JobStorage,
	checkpoints interfaces.CheckpointStorage,
	runner ScanRunner,
	events interfaces.EventService,
	notifier interfaces.Notifier,
	guard *crawler.Guard,
	config *common.SchedulerConfig,
	logger arbor.ILogger,
) *Scheduler {
	loopCtx, loopCancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:        jobs,
		checkpoints: checkpoints,
		runner:      runner,
		events:      events,
		notifier:    notifier,
		guard:       guard,
		cooldowns:   NewCooldownStore(config.CooldownWindow),
		validate:    validator.New(),
		cron:        cron.New(),
		config:      config,
		logger:      logger,
		running:     make(map[string]*crawler.ScanContext),
		loopCtx:     loopCtx,
		loopCancel:  loopCancel,
	}
}

// Submit validates and enqueues a new scan. The target URL is security
// validated at submission time so obviously hostile targets are rejected
// before they ever reach the queue; validation repeats at crawl time.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*models.ScanJob, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}

	target, ok := crawler.NormalizeURL(req.TargetURL)
	if !ok {
		return nil, &crawler.ValidationError{URL: req.TargetURL, Reason: "not a valid http(s) URL"}
	}
	if err := s.guard.ValidateURL(ctx, target); err != nil {
		return nil, err
	}

	submissionCount, err := s.jobs.CountSubmissionsByIP(ctx, req.SubmitterIP)
	if err != nil {
		return nil, fmt.Errorf("failed to count prior submissions: %w", err)
	}

	now := time.Now().UTC()
	job := &models.ScanJob{
		ID:              common.NewScanID(),
		TargetURL:       target,
		NotifyEmail:     req.NotifyEmail,
		Status:          models.ScanStatusQueued,
		Priority:        ComputeScore(submissionCount, now, s.config),
		SubmitterIP:     req.SubmitterIP,
		SubmissionCount: submissionCount,
		CreatedAt:       now,
	}
	job.QueuePosition = s.queuePositionFor(ctx, job.Priority)

	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue scan: %w", err)
	}

	s.logger.Info().
		Str("scan_id", job.ID).
		Str("target", job.TargetURL).
		Str("submitter_ip", job.SubmitterIP).
		Int("prior_submissions", submissionCount).
		Int64("priority", job.Priority).
		Int("queue_position", job.QueuePosition).
		Msg("Scan submitted")

	return job, nil
}

// queuePositionFor estimates a new job's 1-based standing from the scores
// already in the queue; ties go to the earlier submission. The next aging
// pass rebalances all positions, so a failed read only costs accuracy of
// the initial estimate.
func (s *Scheduler) queuePositionFor(ctx context.Context, priority int64) int {
	queued, err := s.jobs.GetQueuedJobsByPriority(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to estimate queue position")
		return 0
	}
	position := 1
	for _, q := range queued {
		if q.Priority <= priority {
			position++
		}
	}
	return position
}

// Start recovers interrupted jobs, then launches the dispatch loop and the
// aging cron.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverInterrupted(ctx); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.config.AgingSchedule, func() {
		s.agingPass(s.loopCtx)
	}); err != nil {
		return fmt.Errorf("invalid aging schedule %q: %w", s.config.AgingSchedule, err)
	}
	s.cron.Start()

	s.wg.Add(1)
	common.SafeGo(s.logger, "scheduler-dispatch", func() {
		defer s.wg.Done()
		s.dispatchLoop()
	})

	s.logger.Info().
		Int("max_concurrent_scans", s.config.MaxConcurrentScans).
		Dur("poll_interval", s.config.PollInterval).
		Str("aging_schedule", s.config.AgingSchedule).
		Msg("Scheduler started")

	return nil
}

// recoverInterrupted handles jobs left in Processing by a previous run. A
// job with a checkpoint goes back to the queue keeping its original
// priority; the orchestrator resumes it from the checkpoint when it is
// dispatched again. A job without one made no durable progress and is
// failed with a resubmission hint.
func (s *Scheduler) recoverInterrupted(ctx context.Context) error {
	stuck, err := s.jobs.GetJobsByStatus(ctx, models.ScanStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to load interrupted jobs: %w", err)
	}

	for _, job := range stuck {
		checkpoint, err := s.checkpoints.GetCheckpoint(ctx, job.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("scan_id", job.ID).Msg("Failed to load checkpoint during recovery")
			continue
		}

		if checkpoint == nil {
			s.failJob(ctx, job, "the scan was interrupted before any progress was saved; please resubmit")
			s.logger.Info().
				Str("scan_id", job.ID).
				Str("target", job.TargetURL).
				Msg("Failed interrupted scan with no checkpoint")
			continue
		}

		job.Status = models.ScanStatusQueued
		job.StartedAt = nil
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("scan_id", job.ID).Msg("Failed to recover interrupted job")
			continue
		}
		s.logger.Info().
			Str("scan_id", job.ID).
			Str("target", job.TargetURL).
			Int("pages_done", checkpoint.PagesScanned).
			Msg("Re-queued interrupted scan for resume from checkpoint")
	}
	return nil
}

func (s *Scheduler) dispatchLoop() {
	select {
	case <-time.After(s.config.StartupDelay):
	case <-s.loopCtx.Done():
		return
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		s.dispatchOnce(s.loopCtx)
		select {
		case <-ticker.C:
		case <-s.loopCtx.Done():
			return
		}
	}
}

// dispatchOnce fills free concurrency slots with the best-scored eligible
// queued jobs. Jobs from cooling-down IPs are skipped in place and retain
// their standing.
func (s *Scheduler) dispatchOnce(ctx context.Context) {
	processing, err := s.jobs.CountJobsByStatus(ctx, models.ScanStatusProcessing)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to count running scans")
		return
	}

	slots := s.config.MaxConcurrentScans - processing
	if slots <= 0 {
		return
	}

	queued, err := s.jobs.GetQueuedJobsByPriority(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load queued scans")
		return
	}

	for _, job := range queued {
		if slots == 0 {
			break
		}
		if s.cooldowns.Active(job.SubmitterIP) {
			s.logger.Debug().
				Str("scan_id", job.ID).
				Str("submitter_ip", job.SubmitterIP).
				Msg("Submitter cooling down, skipping for now")
			continue
		}
		if err := s.startScan(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("scan_id", job.ID).Msg("Failed to start scan")
			continue
		}
		slots--
	}
}

func (s *Scheduler) startScan(ctx context.Context, job *models.ScanJob) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is stopping")
	}

	now := time.Now().UTC()
	job.Status = models.ScanStatusProcessing
	job.StartedAt = &now
	job.QueuePosition = 0

	sc := crawler.NewScanContext(context.Background(), s.config.MaxScanDuration)
	s.running[job.ID] = sc
	s.mu.Unlock()

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
		sc.Release()
		return err
	}

	s.wg.Add(1)
	common.SafeGo(s.logger, "scan-"+job.ID, func() {
		defer s.wg.Done()
		s.runScan(sc, job)
	})
	return nil
}

// runScan drives one scan and resolves its terminal state. The cancellation
// cause decides the outcome: a duration timeout or caller cancellation
// fails the job, while a process shutdown leaves it in Processing so the
// next startup resumes it from checkpoint.
func (s *Scheduler) runScan(sc *crawler.ScanContext, job *models.ScanJob) {
	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
		sc.Release()
	}()

	result, err := s.runner.RunScan(sc.Context(), job)

	// Persistence after the scan must not depend on the scan's own context
	finishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err == nil {
		s.completeJob(finishCtx, job, result)
		return
	}

	switch crawler.CancelReasonOf(err) {
	case crawler.CancelShutdown:
		s.logger.Info().
			Str("scan_id", job.ID).
			Msg("Scan interrupted by shutdown, will resume on next startup")
		return
	case crawler.CancelTimeout:
		s.failJob(finishCtx, job, fmt.Sprintf("scan exceeded the maximum duration of %s", s.config.MaxScanDuration))
	case crawler.CancelCaller:
		s.failJob(finishCtx, job, "scan was cancelled")
	default:
		s.logger.Error().Err(err).Str("scan_id", job.ID).Msg("Scan failed")
		s.failJob(finishCtx, job, userFacingError(err))
	}
}

func (s *Scheduler) completeJob(ctx context.Context, job *models.ScanJob, result *models.ScanResult) {
	now := time.Now().UTC()
	job.Status = models.ScanStatusCompleted
	job.CompletedAt = &now
	job.PagesScanned = result.PagesScanned
	job.PagesDiscovered = result.PagesDiscovered
	job.NonConformingImages = result.NonConformingImages
	job.ReachedPageLimit = result.ReachedPageLimit

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("scan_id", job.ID).Msg("Failed to persist completed scan")
	}
	s.cooldowns.Start(job.SubmitterIP)

	if s.notifier != nil && job.NotifyEmail != "" {
		if err := s.notifier.ScanCompleted(ctx, job, result); err != nil {
			s.logger.Warn().Err(err).Str("scan_id", job.ID).Msg("Completion notification failed")
		}
	}
}

func (s *Scheduler) failJob(ctx context.Context, job *models.ScanJob, message string) {
	now := time.Now().UTC()
	job.Status = models.ScanStatusFailed
	job.CompletedAt = &now
	job.Error = message

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("scan_id", job.ID).Msg("Failed to persist failed scan")
	}
	s.cooldowns.Start(job.SubmitterIP)

	s.publish(ctx, interfaces.Event{
		Type:   interfaces.EventCrawlFailed,
		ScanID: job.ID,
		Error:  message,
	})

	if s.notifier != nil && job.NotifyEmail != "" {
		if err := s.notifier.ScanFailed(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("scan_id", job.ID).Msg("Failure notification failed")
		}
	}
}

// Cancel cancels a scan on request. A running scan is cancelled through its
// scan context; a still-queued scan is failed directly.
func (s *Scheduler) Cancel(ctx context.Context, scanID string) error {
	s.mu.Lock()
	sc, isRunning := s.running[scanID]
	s.mu.Unlock()

	if isRunning {
		sc.CancelWith(crawler.CancelCaller)
		return nil
	}

	job, err := s.jobs.GetJob(ctx, scanID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("scan %s not found", scanID)
	}
	if job.Status != models.ScanStatusQueued {
		return fmt.Errorf("scan %s is not cancellable in state %s", scanID, job.Status)
	}

	s.failJob(ctx, job, "scan was cancelled")
	return nil
}

// agingPass recomputes every queued job's aged score and 1-based queue
// position, persists the whole update atomically, and broadcasts position
// changes.
func (s *Scheduler) agingPass(ctx context.Context) {
	queued, err := s.jobs.GetQueuedJobsByPriority(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Aging pass failed to load queue")
		return
	}
	if len(queued) == 0 {
		return
	}

	now := time.Now().UTC()
	priorities := make(map[string]int64, len(queued))
	for _, job := range queued {
		base := ComputeScore(job.SubmissionCount, job.CreatedAt, s.config)
		priorities[job.ID] = AgedScore(base, job.CreatedAt, now, s.config)
	}

	sort.SliceStable(queued, func(i, j int) bool {
		pi, pj := priorities[queued[i].ID], priorities[queued[j].ID]
		if pi != pj {
			return pi < pj
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})

	positions := make(map[string]int, len(queued))
	for i, job := range queued {
		positions[job.ID] = i + 1
	}

	if err := s.jobs.UpdatePriorities(ctx, priorities, positions); err != nil {
		s.logger.Error().Err(err).Msg("Aging pass failed to persist priorities")
		return
	}

	for _, job := range queued {
		if positions[job.ID] == job.QueuePosition {
			continue
		}
		s.publish(ctx, interfaces.Event{
			Type:          interfaces.EventQueuePositionChanged,
			ScanID:        job.ID,
			QueuePosition: positions[job.ID],
		})
	}

	s.logger.Debug().Int("queued", len(queued)).Msg("Aging pass completed")
}

// Stop shuts the scheduler down: no new dispatches, running scans cancelled
// with the shutdown cause so they stay resumable, then waits for them to
// unwind.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, sc := range s.running {
		s.logger.Info().Str("scan_id", id).Msg("Cancelling scan for shutdown")
		sc.CancelWith(crawler.CancelShutdown)
	}
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.loopCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Scheduler shutdown timed out waiting for scans")
	}
	<-cronCtx.Done()

	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) publish(ctx context.Context, event interfaces.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Debug().Err(err).Str("event", string(event.Type)).Msg("Event publish failed")
	}
}

// userFacingError condenses an internal error into the concise message
// stored on the failed job.
func userFacingError(err error) string {
	switch {
	case crawler.IsSecurityError(err):
		return "the target address is not allowed to be scanned"
	case crawler.IsMemoryError(err):
		return "the scan was aborted because the service ran out of memory; please resubmit"
	default:
		return err.Error()
	}
}
