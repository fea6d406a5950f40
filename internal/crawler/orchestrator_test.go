package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/imgsentry/imgsentry/internal/common"
	"github.com/imgsentry/imgsentry/internal/interfaces"
	"github.com/imgsentry/imgsentry/internal/models"
)

// fakeExecutor serves canned page results keyed by normalized URL.
type fakeExecutor struct {
	mu    sync.Mutex
	pages map[string]*PageResult
	errs  map[string]error
	calls map[string]int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		pages: make(map[string]*PageResult),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeExecutor) CrawlPage(ctx context.Context, pageURL string) (*PageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, CauseOf(ctx, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[pageURL]++

	if err, ok := f.errs[pageURL]; ok {
		return nil, err
	}
	if page, ok := f.pages[pageURL]; ok {
		return page, nil
	}
	return &PageResult{FinalURL: pageURL, Status: 200}, nil
}

func (f *fakeExecutor) callCount(pageURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[pageURL]
}

// memImageStore is an in-memory ImageStorage.
type memImageStore struct {
	mu     sync.Mutex
	images map[string]*models.DiscoveredImage
}

func newMemImageStore() *memImageStore {
	return &memImageStore{images: make(map[string]*models.DiscoveredImage)}
}

func (s *memImageStore) key(scanID, url string) string { return scanID + "|" + url }

func (s *memImageStore) SaveImage(_ context.Context, img *models.DiscoveredImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *img
	s.images[s.key(img.ScanID, img.URL)] = &copied
	return nil
}

func (s *memImageStore) GetImageByURL(_ context.Context, scanID, imageURL string) (*models.DiscoveredImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if img, ok := s.images[s.key(scanID, imageURL)]; ok {
		copied := *img
		return &copied, nil
	}
	return nil, nil
}

func (s *memImageStore) GetImagesByScan(_ context.Context, scanID string) ([]*models.DiscoveredImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DiscoveredImage
	for _, img := range s.images {
		if img.ScanID == scanID {
			copied := *img
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memImageStore) CountImagesByScan(ctx context.Context, scanID string) (int, error) {
	imgs, _ := s.GetImagesByScan(ctx, scanID)
	return len(imgs), nil
}

// memCheckpointStore is an in-memory CheckpointStorage.
type memCheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[string]*models.CrawlCheckpoint
	saves       int
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{checkpoints: make(map[string]*models.CrawlCheckpoint)}
}

func (s *memCheckpointStore) SaveCheckpoint(_ context.Context, cp *models.CrawlCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cp
	s.checkpoints[cp.ScanID] = &copied
	s.saves++
	return nil
}

func (s *memCheckpointStore) GetCheckpoint(_ context.Context, scanID string) (*models.CrawlCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.checkpoints[scanID]; ok {
		copied := *cp
		return &copied, nil
	}
	return nil, nil
}

func (s *memCheckpointStore) DeleteCheckpoint(_ context.Context, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, scanID)
	return nil
}

func (s *memCheckpointStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// recordingEvents captures published events.
type recordingEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *recordingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }

func (r *recordingEvents) Publish(_ context.Context, event interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return r.Publish(ctx, event)
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) ofType(t interfaces.EventType) []interfaces.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interfaces.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	executor     *fakeExecutor
	images       *memImageStore
	checkpoints  *memCheckpointStore
	events       *recordingEvents
	config       *common.CrawlerConfig
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	config := &common.CrawlerConfig{
		UserAgent:          "imgsentry/1.0",
		MaxPagesPerScan:    50,
		CheckpointInterval: 0,
		RetryAttempts:      1,
		RetryBackoff:       time.Millisecond,
		SavingsRatios: map[string]float64{
			"image/jpeg": 0.30,
			"image/png":  0.26,
		},
	}

	f := &orchestratorFixture{
		executor:    newFakeExecutor(),
		images:      newMemImageStore(),
		checkpoints: newMemCheckpointStore(),
		events:      &recordingEvents{},
		config:      config,
	}
	f.orchestrator = NewOrchestrator(
		f.executor,
		NewGuard(),
		f.images,
		f.checkpoints,
		f.events,
		config,
		common.GetLogger(),
	)
	return f
}

// testSite runs an httptest server so robots.txt fetches stay local. The
// crawl itself goes through the fake executor.
func testSite(t *testing.T, robots string) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" && robots != "" {
			fmt.Fprint(w, robots)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func testJob(target string) *models.ScanJob {
	return &models.ScanJob{
		ID:        "scan_test",
		TargetURL: target,
		Status:    models.ScanStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
}

func TestOrchestrator_RunScan(t *testing.T) {
	t.Run("Traverses linked pages breadth-first and collects images", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		site := testSite(t, "")

		f.executor.pages[site] = &PageResult{
			FinalURL: site,
			Status:   200,
			Links:    []string{site + "/about", site + "/products"},
			Images: []ObservedImage{
				{URL: site + "/hero.jpg", MimeType: "image/jpeg", ByteSize: 100_000, Width: 1920, Height: 1080},
			},
		}
		f.executor.pages[site+"/about"] = &PageResult{
			FinalURL: site + "/about",
			Status:   200,
			Images: []ObservedImage{
				{URL: site + "/hero.jpg", MimeType: "image/jpeg", ByteSize: 100_000},
				{URL: site + "/team.webp", MimeType: "image/webp", ByteSize: 40_000},
			},
		}

		result, err := f.orchestrator.RunScan(context.Background(), testJob(site))
		if err != nil {
			t.Fatalf("RunScan failed: %v", err)
		}

		if result.PagesScanned != 3 {
			t.Errorf("Expected 3 pages scanned, got %d", result.PagesScanned)
		}
		if len(result.Images) != 2 {
			t.Fatalf("Expected 2 distinct images, got %d", len(result.Images))
		}
		if result.NonConformingImages != 1 {
			t.Errorf("Expected 1 non-conforming image, got %d", result.NonConformingImages)
		}
		if result.EstimatedSavings != 70_000 {
			t.Errorf("Expected 70000 bytes of savings, got %d", result.EstimatedSavings)
		}
		if result.ReachedPageLimit {
			t.Error("Scan finished under the page limit")
		}

		// Image seen on both pages keeps one record with both pages listed
		hero, _ := f.images.GetImageByURL(context.Background(), "scan_test", site+"/hero.jpg")
		if hero == nil || len(hero.PageURLs) != 2 {
			t.Errorf("Expected hero image on 2 pages, got %+v", hero)
		}
		if hero != nil && (hero.Width != 1920 || hero.Height != 1080) {
			t.Errorf("Rendered dimensions must reach the stored record, got %dx%d", hero.Width, hero.Height)
		}
	})

	t.Run("Page limit of one stops after the first page", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.config.MaxPagesPerScan = 1
		site := testSite(t, "")

		f.executor.pages[site] = &PageResult{
			FinalURL: site,
			Status:   200,
			Links:    []string{site + "/a", site + "/b", site + "/c"},
		}

		result, err := f.orchestrator.RunScan(context.Background(), testJob(site))
		if err != nil {
			t.Fatalf("RunScan failed: %v", err)
		}

		if result.PagesScanned != 1 {
			t.Errorf("Expected exactly 1 page scanned, got %d", result.PagesScanned)
		}
		if !result.ReachedPageLimit {
			t.Error("Expected the page-limit flag with links still pending")
		}
		if got := f.executor.callCount(site); got != 1 {
			t.Errorf("Expected a single crawl call with no retries, got %d", got)
		}
		if f.executor.callCount(site+"/a") != 0 {
			t.Error("Discovered links past the limit must not be crawled")
		}
	})

	t.Run("Respects robots disallow with longest match", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		site := testSite(t, "User-agent: *\nDisallow: /admin\nAllow: /admin/public\n")

		f.executor.pages[site] = &PageResult{
			FinalURL: site,
			Status:   200,
			Links:    []string{site + "/admin/secret", site + "/admin/public", site + "/open"},
		}

		if _, err := f.orchestrator.RunScan(context.Background(), testJob(site)); err != nil {
			t.Fatalf("RunScan failed: %v", err)
		}

		if f.executor.callCount(site+"/admin/secret") != 0 {
			t.Error("Disallowed page must not be crawled")
		}
		if f.executor.callCount(site+"/admin/public") != 1 {
			t.Error("The longer Allow rule must win")
		}
		if f.executor.callCount(site+"/open") != 1 {
			t.Error("Unmatched page must be crawled")
		}
	})

	t.Run("Skips failed pages and continues", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.config.RetryAttempts = 2
		site := testSite(t, "")

		f.executor.pages[site] = &PageResult{
			FinalURL: site,
			Status:   200,
			Links:    []string{site + "/broken", site + "/fine"},
		}
		f.executor.errs[site+"/broken"] = &NavigationError{URL: site + "/broken", Err: errors.New("net::ERR_TIMED_OUT")}

		result, err := f.orchestrator.RunScan(context.Background(), testJob(site))
		if err != nil {
			t.Fatalf("A failing page must not fail the scan: %v", err)
		}

		if got := f.executor.callCount(site + "/broken"); got != 2 {
			t.Errorf("Expected 2 attempts for the broken page, got %d", got)
		}
		if f.executor.callCount(site+"/fine") != 1 {
			t.Error("The scan must continue past the failed page")
		}
		if result.PagesScanned != 2 {
			t.Errorf("Failed page does not count as scanned, got %d", result.PagesScanned)
		}
	})

	t.Run("Does not follow off-site links", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		site := testSite(t, "")

		f.executor.pages[site] = &PageResult{
			FinalURL: site,
			Status:   200,
			Links:    []string{"https://elsewhere.example.org/page"},
		}

		result, err := f.orchestrator.RunScan(context.Background(), testJob(site))
		if err != nil {
			t.Fatalf("RunScan failed: %v", err)
		}
		if result.PagesScanned != 1 {
			t.Errorf("Off-site link must not be crawled, got %d pages", result.PagesScanned)
		}
	})

	t.Run("Auth pages count but are not traversed", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		site := testSite(t, "")

		f.executor.pages[site] = &PageResult{
			FinalURL: site,
			Status:   200,
			Links:    []string{site + "/portal"},
		}
		f.executor.pages[site+"/portal"] = &PageResult{
			FinalURL: site + "/portal",
			Status:   200,
			AuthPage: true,
			Links:    []string{site + "/portal/inside"},
		}

		result, err := f.orchestrator.RunScan(context.Background(), testJob(site))
		if err != nil {
			t.Fatalf("RunScan failed: %v", err)
		}
		if result.PagesScanned != 2 {
			t.Errorf("Expected 2 pages scanned, got %d", result.PagesScanned)
		}
		if f.executor.callCount(site+"/portal/inside") != 0 {
			t.Error("Links behind an auth page must not be followed")
		}
	})

	t.Run("Cancellation cause propagates out", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		site := testSite(t, "")

		sc := NewScanContext(context.Background(), time.Hour)
		defer sc.Release()
		sc.CancelWith(CancelShutdown)

		_, err := f.orchestrator.RunScan(sc.Context(), testJob(site))
		if CancelReasonOf(err) != CancelShutdown {
			t.Errorf("Expected tagged shutdown cause, got %v", err)
		}
	})

	t.Run("Writes checkpoints at the configured interval", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		f.config.CheckpointInterval = 2
		site := testSite(t, "")

		f.executor.pages[site] = &PageResult{
			FinalURL: site,
			Status:   200,
			Links:    []string{site + "/1", site + "/2", site + "/3"},
		}

		if _, err := f.orchestrator.RunScan(context.Background(), testJob(site)); err != nil {
			t.Fatalf("RunScan failed: %v", err)
		}

		deadline := time.After(2 * time.Second)
		for f.checkpoints.saveCount() < 2 {
			select {
			case <-deadline:
				t.Fatalf("Expected 2 checkpoint saves for 4 pages, got %d", f.checkpoints.saveCount())
			case <-time.After(10 * time.Millisecond):
			}
		}

		// Checkpoint is deleted once the scan completes
		cp, _ := f.checkpoints.GetCheckpoint(context.Background(), "scan_test")
		if cp != nil {
			t.Error("Completed scan must clear its checkpoint")
		}
	})

	t.Run("Resumes from a checkpoint without recrawling", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		site := testSite(t, "")

		f.checkpoints.SaveCheckpoint(context.Background(), &models.CrawlCheckpoint{
			ScanID:       "scan_test",
			Visited:      []string{site, site + "/done"},
			Pending:      []string{site + "/todo"},
			PagesScanned: 2,
			UpdatedAt:    time.Now().UTC(),
		})

		result, err := f.orchestrator.RunScan(context.Background(), testJob(site))
		if err != nil {
			t.Fatalf("RunScan failed: %v", err)
		}

		if f.executor.callCount(site) != 0 || f.executor.callCount(site+"/done") != 0 {
			t.Error("Visited pages must not be recrawled on resume")
		}
		if f.executor.callCount(site+"/todo") != 1 {
			t.Error("Pending pages must be crawled on resume")
		}
		if result.PagesScanned != 3 {
			t.Errorf("Page counter must continue from the checkpoint, got %d", result.PagesScanned)
		}
	})

	t.Run("Emits progress events", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		site := testSite(t, "")

		f.executor.pages[site] = &PageResult{
			FinalURL: site,
			Status:   200,
			Images: []ObservedImage{
				{URL: site + "/a.png", MimeType: "image/png", ByteSize: 1000},
			},
		}

		if _, err := f.orchestrator.RunScan(context.Background(), testJob(site)); err != nil {
			t.Fatalf("RunScan failed: %v", err)
		}

		if len(f.events.ofType(interfaces.EventPageStarted)) != 1 {
			t.Error("Expected one page_started event")
		}
		if len(f.events.ofType(interfaces.EventPageCompleted)) != 1 {
			t.Error("Expected one page_completed event")
		}
		if len(f.events.ofType(interfaces.EventImageFound)) != 1 {
			t.Error("Expected one image_found event")
		}
		if len(f.events.ofType(interfaces.EventCrawlCompleted)) != 1 {
			t.Error("Expected one crawl_completed event")
		}
	})

	t.Run("Rejects an invalid target", func(t *testing.T) {
		f := newOrchestratorFixture(t)

		_, err := f.orchestrator.RunScan(context.Background(), testJob("javascript:void(0)"))
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Errorf("Expected a validation error, got %v", err)
		}
	})
}
