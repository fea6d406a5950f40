package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/imgsentry/imgsentry/internal/common"
)

// Browser owns the shared Chrome process. One allocator and one browser
// context are launched lazily on first use and reused by all scans; each
// page gets its own tab context derived from the shared browser.
type Browser struct {
	mu             sync.Mutex
	allocatorCtx   context.Context
	allocatorStop  context.CancelFunc
	browserCtx     context.Context
	browserStop    context.CancelFunc
	launched       bool
	shutdown       bool
	config         *common.CrawlerConfig
	logger         arbor.ILogger
}

// NewBrowser creates an unlaunched browser manager.
func NewBrowser(config *common.CrawlerConfig, logger arbor.ILogger) *Browser {
	return &Browser{
		config: config,
		logger: logger,
	}
}

// Acquire returns the shared browser context, launching Chrome on first
// call. The returned context is the parent for per-page tab contexts.
func (b *Browser) Acquire(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shutdown {
		return nil, fmt.Errorf("browser already shut down")
	}
	if b.launched {
		return b.browserCtx, nil
	}

	start := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", b.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", false),
		chromedp.Flag("disable-backgrounding-occluded-windows", false),
		chromedp.Flag("disable-renderer-backgrounding", false),
		chromedp.UserAgent(b.config.UserAgent),
	)

	allocatorCtx, allocatorStop := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserStop := chromedp.NewContext(allocatorCtx)

	// Startup test so a broken Chrome install fails the first scan with a
	// clear error instead of hanging navigation
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserStop()
		allocatorStop()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	b.allocatorCtx = allocatorCtx
	b.allocatorStop = allocatorStop
	b.browserCtx = browserCtx
	b.browserStop = browserStop
	b.launched = true

	b.logger.Info().
		Bool("headless", b.config.Headless).
		Str("user_agent", b.config.UserAgent).
		Dur("startup_time", time.Since(start)).
		Msg("Browser launched")

	return b.browserCtx, nil
}

// Shutdown terminates the Chrome process. Safe to call without a prior
// launch and safe to call twice.
func (b *Browser) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shutdown {
		return
	}
	b.shutdown = true

	if !b.launched {
		return
	}

	done := make(chan struct{})
	go func() {
		b.browserStop()
		b.allocatorStop()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Msg("Browser shut down")
	case <-time.After(15 * time.Second):
		b.logger.Warn().Msg("Browser shutdown timed out")
	}

	b.launched = false
	b.browserCtx = nil
	b.allocatorCtx = nil
}
