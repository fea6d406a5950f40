package crawler

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/imgsentry/imgsentry/internal/common"
	"github.com/imgsentry/imgsentry/internal/interfaces"
	"github.com/imgsentry/imgsentry/internal/models"
)

// Orchestrator runs one scan end to end: breadth-first page traversal from
// the target URL, image collection and savings estimation, periodic
// checkpointing, and progress events. Pages within a scan are crawled
// sequentially; concurrency lives one level up in the scheduler.
type Orchestrator struct {
	executor    PageExecutor
	guard       *Guard
	images      interfaces.ImageStorage
	checkpoints interfaces.CheckpointStorage
	events      interfaces.EventService
	config      *common.CrawlerConfig
	logger      arbor.ILogger
}

// NewOrchestrator wires the crawl orchestrator.
func NewOrchestrator(
	executor PageExecutor,
	guard *Guard,
	images interfaces.ImageStorage,
	checkpoints interfaces.CheckpointStorage,
	events interfaces.EventService,
	config *common.CrawlerConfig,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		executor:    executor,
		guard:       guard,
		images:      images,
		checkpoints: checkpoints,
		events:      events,
		config:      config,
		logger:      logger,
	}
}

// crawlState is the mutable progress of one running scan.
type crawlState struct {
	frontier            *Frontier
	pagesScanned        int
	nonConformingImages int
	reachedPageLimit    bool
	currentURL          string
}

// RunScan crawls the job's target site. If a checkpoint exists for the scan
// it resumes from there, otherwise it starts fresh from the target URL.
// Returns the finalized result, or an error whose cancellation cause (if
// any) the caller resolves into the job's final status.
func (o *Orchestrator) RunScan(ctx context.Context, job *models.ScanJob) (*models.ScanResult, error) {
	start := time.Now()

	target, ok := NormalizeURL(job.TargetURL)
	if !ok {
		return nil, &ValidationError{URL: job.TargetURL, Reason: "not a valid http(s) URL"}
	}

	state, err := o.restoreOrStart(ctx, job, target)
	if err != nil {
		return nil, err
	}

	robotsClient := o.guard.HTTPClient(15 * time.Second)
	robots := FetchRobots(ctx, robotsClient, target, o.config.UserAgent, o.logger)

	retry := &RetryPolicy{
		Attempts: o.config.RetryAttempts,
		Backoff:  o.config.RetryBackoff,
		Logger:   o.logger,
	}

	limiter := rate.NewLimiter(rate.Every(o.config.PageDelay), 1)

	o.logger.Info().
		Str("scan_id", job.ID).
		Str("target", target).
		Int("pages_done", state.pagesScanned).
		Int("pages_pending", state.frontier.PendingCount()).
		Msg("Scan started")

	for {
		if state.pagesScanned >= o.config.MaxPagesPerScan {
			state.reachedPageLimit = state.frontier.PendingCount() > 0
			break
		}

		pageURL, ok := state.frontier.Next()
		if !ok {
			break
		}

		if err := ctx.Err(); err != nil {
			return nil, CauseOf(ctx, err)
		}
		if err := o.checkMemory(); err != nil {
			return nil, err
		}

		if !SameRegistrableHost(pageURL, target) {
			continue
		}
		if !robots.Allowed(pathOf(pageURL)) {
			o.logger.Debug().Str("url", pageURL).Msg("Skipping robots-disallowed page")
			state.frontier.MarkVisited(pageURL)
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, CauseOf(ctx, err)
		}

		state.currentURL = pageURL
		o.publish(ctx, interfaces.Event{
			Type:            interfaces.EventPageStarted,
			ScanID:          job.ID,
			CurrentURL:      pageURL,
			PagesScanned:    state.pagesScanned,
			PagesDiscovered: state.frontier.DiscoveredCount(),
		})

		var result *PageResult
		err := retry.Do(ctx, pageURL, func() error {
			var pageErr error
			result, pageErr = o.executor.CrawlPage(ctx, pageURL)
			return pageErr
		})

		state.frontier.MarkVisited(pageURL)

		if err != nil {
			if CancelReasonOf(err) != CancelNone {
				return nil, err
			}
			// A page over its resource budget still contributes what was
			// observed before the cut-off
			if result == nil {
				o.logger.Warn().Err(err).Str("url", pageURL).Str("scan_id", job.ID).Msg("Page failed, skipping")
				continue
			}
			o.logger.Warn().Err(err).Str("url", pageURL).Str("scan_id", job.ID).Msg("Page truncated by resource budget")
		}

		if result.AuthPage {
			o.logger.Debug().Str("url", pageURL).Msg("Auth page, not traversing")
			state.pagesScanned++
			continue
		}

		if err := o.recordImages(ctx, job, state, result); err != nil {
			return nil, err
		}

		for _, link := range result.Links {
			normalized, ok := NormalizeURL(link)
			if !ok || !SameRegistrableHost(normalized, target) {
				continue
			}
			state.frontier.Add(normalized)
		}

		state.pagesScanned++

		o.publish(ctx, interfaces.Event{
			Type:            interfaces.EventPageCompleted,
			ScanID:          job.ID,
			CurrentURL:      pageURL,
			PagesScanned:    state.pagesScanned,
			PagesDiscovered: state.frontier.DiscoveredCount(),
			ImagesFound:     len(result.Images),
		})

		if o.config.CheckpointInterval > 0 && state.pagesScanned%o.config.CheckpointInterval == 0 {
			o.saveCheckpointAsync(job.ID, state)
		}
	}

	return o.finalize(ctx, job, state, target, start)
}

// restoreOrStart loads the scan's checkpoint when one exists, otherwise
// seeds a fresh frontier with the target URL.
func (o *Orchestrator) restoreOrStart(ctx context.Context, job *models.ScanJob, target string) (*crawlState, error) {
	checkpoint, err := o.checkpoints.GetCheckpoint(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	state := &crawlState{}
	if checkpoint != nil {
		state.frontier = RestoreFrontier(checkpoint)
		state.pagesScanned = checkpoint.PagesScanned
		state.nonConformingImages = checkpoint.NonConformingImages
		o.logger.Info().
			Str("scan_id", job.ID).
			Int("pages_done", checkpoint.PagesScanned).
			Int("pages_pending", len(checkpoint.Pending)).
			Msg("Resuming scan from checkpoint")
		return state, nil
	}

	state.frontier = NewFrontier()
	state.frontier.Add(target)
	return state, nil
}

// recordImages merges a page's observed images into storage. An image seen
// on an earlier page of the same scan gains this page in its page list
// instead of a duplicate record.
func (o *Orchestrator) recordImages(ctx context.Context, job *models.ScanJob, state *crawlState, page *PageResult) error {
	for _, observed := range page.Images {
		existing, err := o.images.GetImageByURL(ctx, job.ID, observed.URL)
		if err != nil {
			return fmt.Errorf("failed to look up image: %w", err)
		}

		if existing != nil {
			existing.AddPageURL(page.FinalURL)
			if err := o.images.SaveImage(ctx, existing); err != nil {
				return fmt.Errorf("failed to update image: %w", err)
			}
			continue
		}

		estimated, percent := EstimateSavings(observed.MimeType, observed.ByteSize, o.config.SavingsRatios)
		img := &models.DiscoveredImage{
			ID:             common.NewImageID(),
			ScanID:         job.ID,
			URL:            observed.URL,
			MimeType:       observed.MimeType,
			ByteSize:       observed.ByteSize,
			Width:          observed.Width,
			Height:         observed.Height,
			EstimatedSize:  estimated,
			SavingsPercent: percent,
			NonConforming:  !IsConforming(observed.MimeType),
			PageURLs:       []string{page.FinalURL},
			FirstSeenAt:    time.Now().UTC(),
		}
		if err := o.images.SaveImage(ctx, img); err != nil {
			return fmt.Errorf("failed to save image: %w", err)
		}

		if img.NonConforming {
			state.nonConformingImages++
		}

		o.publish(ctx, interfaces.Event{
			Type:   interfaces.EventImageFound,
			ScanID: job.ID,
			Image: &interfaces.ImageInfo{
				URL:      img.URL,
				MimeType: img.MimeType,
				ByteSize: img.ByteSize,
				Width:    img.Width,
				Height:   img.Height,
			},
		})
	}
	return nil
}

// finalize assembles the scan result, clears the checkpoint and publishes
// the completion event.
func (o *Orchestrator) finalize(ctx context.Context, job *models.ScanJob, state *crawlState, target string, start time.Time) (*models.ScanResult, error) {
	images, err := o.images.GetImagesByScan(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan images: %w", err)
	}

	var totalBytes, estimatedSavings int64
	for _, img := range images {
		totalBytes += img.ByteSize
		if img.NonConforming && img.EstimatedSize < img.ByteSize {
			estimatedSavings += img.ByteSize - img.EstimatedSize
		}
	}

	result := &models.ScanResult{
		ScanID:              job.ID,
		TargetURL:           target,
		PagesScanned:        state.pagesScanned,
		PagesDiscovered:     state.frontier.DiscoveredCount(),
		Images:              images,
		NonConformingImages: state.nonConformingImages,
		TotalBytes:          totalBytes,
		EstimatedSavings:    estimatedSavings,
		Duration:            time.Since(start),
		ReachedPageLimit:    state.reachedPageLimit,
	}

	if err := o.checkpoints.DeleteCheckpoint(ctx, job.ID); err != nil {
		o.logger.Warn().Err(err).Str("scan_id", job.ID).Msg("Failed to delete checkpoint after completion")
	}

	o.publish(ctx, interfaces.Event{
		Type:            interfaces.EventCrawlCompleted,
		ScanID:          job.ID,
		PagesScanned:    result.PagesScanned,
		PagesDiscovered: result.PagesDiscovered,
		ImagesFound:     len(result.Images),
	})

	o.logger.Info().
		Str("scan_id", job.ID).
		Int("pages_scanned", result.PagesScanned).
		Int("images", len(result.Images)).
		Int("non_conforming", result.NonConformingImages).
		Int64("estimated_savings_bytes", result.EstimatedSavings).
		Bool("reached_page_limit", result.ReachedPageLimit).
		Dur("duration", result.Duration).
		Msg("Scan completed")

	return result, nil
}

// saveCheckpointAsync persists the frontier cut without blocking the crawl.
// A failed checkpoint write is logged and tolerated; the scan just resumes
// from an older cut if interrupted.
func (o *Orchestrator) saveCheckpointAsync(scanID string, state *crawlState) {
	visited, pending := state.frontier.Snapshot()
	checkpoint := &models.CrawlCheckpoint{
		ScanID:              scanID,
		Visited:             visited,
		Pending:             pending,
		PagesScanned:        state.pagesScanned,
		PagesDiscovered:     state.frontier.DiscoveredCount(),
		NonConformingImages: state.nonConformingImages,
		CurrentURL:          state.currentURL,
		UpdatedAt:           time.Now().UTC(),
	}

	common.SafeGo(o.logger, "checkpoint-save", func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.checkpoints.SaveCheckpoint(saveCtx, checkpoint); err != nil {
			o.logger.Warn().Err(err).Str("scan_id", scanID).Msg("Checkpoint save failed")
		}
	})
}

// checkMemory aborts the scan when process heap usage crosses the
// configured ceiling.
func (o *Orchestrator) checkMemory() error {
	if o.config.MemoryLimitMB == 0 {
		return nil
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapAlloc > o.config.MemoryLimitMB*1024*1024 {
		return fmt.Errorf("%w: heap %d MB over limit %d MB",
			ErrMemoryLimitExceeded, stats.HeapAlloc/1024/1024, o.config.MemoryLimitMB)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event interfaces.Event) {
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Debug().Err(err).Str("event", string(event.Type)).Msg("Event publish failed")
	}
}

func pathOf(normalizedURL string) string {
	parsed, err := url.Parse(normalizedURL)
	if err != nil {
		return "/"
	}
	if parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}
