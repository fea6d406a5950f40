package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/imgsentry/imgsentry/internal/common"
)

// PageResult is the outcome of crawling a single page.
type PageResult struct {
	FinalURL string
	Status   int
	RemoteIP string
	Images   []ObservedImage
	Links    []string
	AuthPage bool
}

// PageExecutor loads one page and reports what it saw. The orchestrator
// depends on this interface so crawl logic can be exercised without a
// browser.
type PageExecutor interface {
	CrawlPage(ctx context.Context, pageURL string) (*PageResult, error)
}

// authURLKeywords flag a URL as an authentication page without loading it
// further. Matched against the lowercased path.
var authURLKeywords = []string{"login", "log-in", "signin", "sign-in", "signup", "sign-up", "auth", "sso", "password"}

// ChromeExecutor drives a real Chrome tab per page: fetch-domain request
// interception for budgets and tracker blocking, CDP network observation
// for image capture, a scroll pass to trigger lazy loading, and a
// network-idle wait before teardown.
type ChromeExecutor struct {
	browser *Browser
	guard   *Guard
	config  *common.CrawlerConfig
	logger  arbor.ILogger
}

// NewChromeExecutor builds the production page executor.
func NewChromeExecutor(browser *Browser, guard *Guard, config *common.CrawlerConfig, logger arbor.ILogger) *ChromeExecutor {
	return &ChromeExecutor{
		browser: browser,
		guard:   guard,
		config:  config,
		logger:  logger,
	}
}

// CrawlPage loads pageURL in a fresh tab and collects images, links and the
// auth-page classification. The URL is security-validated before navigation
// and the connected address re-validated after, so a DNS answer that changes
// between the two is caught.
func (e *ChromeExecutor) CrawlPage(ctx context.Context, pageURL string) (*PageResult, error) {
	if err := e.guard.ValidateURL(ctx, pageURL); err != nil {
		return nil, err
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, &ValidationError{URL: pageURL, Reason: err.Error()}
	}
	if isAuthURL(parsed) {
		e.logger.Debug().Str("url", pageURL).Msg("Auth page detected from URL, skipping load")
		return &PageResult{FinalURL: pageURL, AuthPage: true}, nil
	}

	browserCtx, err := e.browser.Acquire(ctx)
	if err != nil {
		return nil, &NavigationError{URL: pageURL, Err: err}
	}

	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()

	navCtx, cancelNav := context.WithTimeout(tabCtx, e.config.NavigationTimeout)
	defer cancelNav()

	// Cancellation of the scan context must tear the tab down even though
	// the tab descends from the long-lived browser context
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	observer := NewImageObserver()
	var (
		requestCount  atomic.Int64
		byteCount     atomic.Int64
		limitExceeded atomic.Bool
		lastActivity  atomic.Int64
		mainStatus    atomic.Int64
		remoteIP      atomic.Value
	)
	lastActivity.Store(time.Now().UnixNano())

	pageHost := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		lastActivity.Store(time.Now().UnixNano())
		observer.Dispatch(ev)

		switch e2 := ev.(type) {
		case *fetch.EventRequestPaused:
			go e.resolvePausedRequest(tabCtx, e2, pageHost, &requestCount, &limitExceeded)
		case *network.EventResponseReceived:
			if e2.Type == network.ResourceTypeDocument && e2.Response != nil {
				mainStatus.Store(e2.Response.Status)
				if e2.Response.RemoteIPAddress != "" {
					remoteIP.Store(e2.Response.RemoteIPAddress)
				}
			}
		case *network.EventLoadingFinished:
			if byteCount.Add(int64(e2.EncodedDataLength)) > e.config.MaxBytesPerPage {
				limitExceeded.Store(true)
			}
		}
	})

	var html string
	err = chromedp.Run(navCtx,
		fetch.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if cause := CauseOf(ctx, err); CancelReasonOf(cause) != CancelNone {
			return nil, cause
		}
		return nil, &NavigationError{URL: pageURL, Err: err}
	}

	if ip, ok := remoteIP.Load().(string); ok && ip != "" {
		if err := e.guard.ValidateRemoteAddr(ip); err != nil {
			return nil, err
		}
	}

	// The settle phases run on their own budget derived from the tab, not
	// the navigation deadline, so a slow navigation cannot eat the scroll
	// and idle windows
	settleCtx, cancelSettle := context.WithTimeout(tabCtx, postNavigationBudget(e.config))
	defer cancelSettle()

	if e.config.EnableLazyLoad {
		e.scrollPage(settleCtx)
	}

	e.waitNetworkIdle(settleCtx, observer, &lastActivity)

	// Grace period lets in-flight image transfers land before teardown
	if observer.InFlight() > 0 && e.config.ImageGracePeriod > 0 {
		select {
		case <-time.After(e.config.ImageGracePeriod):
		case <-settleCtx.Done():
		}
	}

	var links []string
	var finalURL string
	var rendered []renderedImage
	if err := chromedp.Run(settleCtx,
		chromedp.Evaluate(`Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`, &links),
		chromedp.Evaluate(`Array.from(document.images).map(i => ({src: i.currentSrc || i.src, w: i.naturalWidth, h: i.naturalHeight}))`, &rendered),
		chromedp.Location(&finalURL),
	); err != nil {
		e.logger.Debug().Err(err).Str("url", pageURL).Msg("Link extraction failed")
		finalURL = pageURL
	}

	images := observer.Flush()
	applyDimensions(images, rendered)

	result := &PageResult{
		FinalURL: finalURL,
		Status:   int(mainStatus.Load()),
		Images:   images,
		Links:    links,
		AuthPage: classifyAuthPage(int(mainStatus.Load()), finalURL, html),
	}
	if ip, ok := remoteIP.Load().(string); ok {
		result.RemoteIP = ip
	}

	if limitExceeded.Load() {
		return result, fmt.Errorf("%w: %s (%d requests, %d bytes)",
			ErrPageSizeLimitExceeded, pageURL, requestCount.Load(), byteCount.Load())
	}

	e.logger.Debug().
		Str("url", pageURL).
		Int("status", result.Status).
		Int("images", len(result.Images)).
		Int("links", len(result.Links)).
		Bool("auth_page", result.AuthPage).
		Msg("Page crawled")

	return result, nil
}

// resolvePausedRequest continues or aborts an intercepted request. Runs on
// its own goroutine because fetch commands cannot be issued from the event
// callback itself.
func (e *ChromeExecutor) resolvePausedRequest(tabCtx context.Context, ev *fetch.EventRequestPaused, pageHost string, requestCount *atomic.Int64, limitExceeded *atomic.Bool) {
	c := chromedp.FromContext(tabCtx)
	if c == nil {
		return
	}
	execCtx := cdp.WithExecutor(tabCtx, c.Target)

	if reason, blocked := e.interceptDecision(ev.Request.URL, pageHost, requestCount, limitExceeded); blocked {
		if err := fetch.FailRequest(ev.RequestID, reason).Do(execCtx); err != nil && tabCtx.Err() == nil {
			e.logger.Debug().Err(err).Str("url", ev.Request.URL).Msg("Failed to abort request")
		}
		return
	}

	if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil && tabCtx.Err() == nil {
		e.logger.Debug().Err(err).Str("url", ev.Request.URL).Msg("Failed to continue request")
	}
}

// interceptDecision applies the per-page budgets and domain policy to one
// intercepted request. Once the request or byte budget is blown, every
// further request on the page is aborted rather than downloaded.
func (e *ChromeExecutor) interceptDecision(rawURL, pageHost string, requestCount *atomic.Int64, limitExceeded *atomic.Bool) (network.ErrorReason, bool) {
	if limitExceeded.Load() {
		return network.ErrorReasonAborted, true
	}
	if requestCount.Add(1) > int64(e.config.MaxRequestsPerPage) {
		limitExceeded.Store(true)
		return network.ErrorReasonAborted, true
	}

	reqURL, err := url.Parse(rawURL)
	if err != nil {
		return network.ErrorReasonAborted, true
	}
	host := strings.ToLower(reqURL.Hostname())

	if e.isTrackerHost(host) {
		return network.ErrorReasonBlockedByClient, true
	}
	if !e.isAllowedHost(host, pageHost) {
		return network.ErrorReasonBlockedByClient, true
	}
	return "", false
}

func (e *ChromeExecutor) isTrackerHost(host string) bool {
	return matchesDomain(host, e.config.TrackerDomains)
}

// isAllowedHost permits the page's own site (including subdomains) plus the
// configured third-party allow-list; everything else is aborted.
func (e *ChromeExecutor) isAllowedHost(host, pageHost string) bool {
	host = strings.TrimPrefix(host, "www.")
	if host == "" || host == pageHost || strings.HasSuffix(host, "."+pageHost) {
		return true
	}
	return matchesDomain(host, e.config.AllowedDomains)
}

func matchesDomain(host string, domains []string) bool {
	for _, domain := range domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// renderedImage is one <img> element as reported by the DOM, used to attach
// natural dimensions to network-observed images.
type renderedImage struct {
	Src    string `json:"src"`
	Width  int64  `json:"w"`
	Height int64  `json:"h"`
}

// applyDimensions copies natural dimensions from rendered DOM images onto
// the matching network observations. Images fetched but never rendered
// (CSS backgrounds, prefetches) keep zero dimensions.
func applyDimensions(images []ObservedImage, rendered []renderedImage) {
	if len(images) == 0 || len(rendered) == 0 {
		return
	}
	dims := make(map[string]renderedImage, len(rendered))
	for _, r := range rendered {
		if r.Src == "" || r.Width <= 0 || r.Height <= 0 {
			continue
		}
		dims[r.Src] = r
	}
	for i := range images {
		if r, ok := dims[images[i].URL]; ok {
			images[i].Width = r.Width
			images[i].Height = r.Height
		}
	}
}

// postNavigationBudget bounds the scroll, idle-wait, grace and extraction
// phases that follow a successful navigation.
func postNavigationBudget(config *common.CrawlerConfig) time.Duration {
	budget := config.NetworkIdleTimeout + config.ImageGracePeriod + 10*time.Second
	if config.EnableLazyLoad {
		budget += time.Duration(config.MaxScrollSteps) * config.ScrollStepDelay
	}
	return budget
}

// scrollPage steps through the page to trigger lazy-loaded images. Step
// count scales with page height over viewport height, clamped to the
// configured bounds; the pass finishes at the bottom and returns to the
// middle so IntersectionObserver-based loaders on both halves fire.
func (e *ChromeExecutor) scrollPage(ctx context.Context) {
	var pageHeight int
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(`Math.max(document.body.scrollHeight, document.documentElement.scrollHeight)`, &pageHeight),
	); err != nil {
		return
	}

	viewport := e.config.ViewportHeight
	if viewport <= 0 {
		viewport = 1080
	}
	steps := pageHeight / viewport
	if steps < e.config.MinScrollSteps {
		steps = e.config.MinScrollSteps
	}
	if steps > e.config.MaxScrollSteps {
		steps = e.config.MaxScrollSteps
	}

	for i := 1; i <= steps; i++ {
		offset := pageHeight * i / steps
		// A pointer move accompanies each scroll step so hover-triggered
		// loaders fire alongside IntersectionObserver ones
		pointerX := float64(200 + (i%3)*150)
		pointerY := float64(viewport / 2)
		if err := chromedp.Run(ctx,
			chromedp.Evaluate(fmt.Sprintf(`window.scrollTo({top: %d, behavior: 'instant'})`, offset), nil),
			chromedp.ActionFunc(func(ctx context.Context) error {
				return input.DispatchMouseEvent(input.MouseMoved, pointerX, pointerY).Do(ctx)
			}),
		); err != nil {
			return
		}
		select {
		case <-time.After(e.config.ScrollStepDelay):
		case <-ctx.Done():
			return
		}
	}

	chromedp.Run(ctx,
		chromedp.Evaluate(`window.scrollTo({top: document.body.scrollHeight, behavior: 'instant'})`, nil),
		chromedp.Evaluate(`window.scrollTo({top: document.body.scrollHeight / 2, behavior: 'instant'})`, nil),
	)
}

// waitNetworkIdle blocks until no network activity has been seen for the
// configured quiet window and no image transfers are pending, or until the
// idle timeout elapses. Timing out is expected on pages holding persistent
// connections and is not an error.
func (e *ChromeExecutor) waitNetworkIdle(ctx context.Context, observer *ImageObserver, lastActivity *atomic.Int64) {
	deadline := time.NewTimer(e.config.NetworkIdleTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			e.logger.Debug().
				Int("in_flight_images", observer.InFlight()).
				Msg("Network idle timeout reached, proceeding")
			return
		case <-ticker.C:
			quiet := time.Since(time.Unix(0, lastActivity.Load()))
			if quiet >= e.config.NetworkIdleWindow && observer.InFlight() == 0 {
				return
			}
		}
	}
}

// isAuthURL classifies a URL as an authentication page by its path.
func isAuthURL(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, keyword := range authURLKeywords {
		for _, segment := range strings.Split(path, "/") {
			if segment == keyword {
				return true
			}
		}
	}
	return false
}

// classifyAuthPage inspects a loaded page for authentication signals: a 401
// or 403 response, an auth-looking final URL after redirects, or a rendered
// password field alongside login wording.
func classifyAuthPage(status int, finalURL, html string) bool {
	if status == 401 || status == 403 {
		return true
	}
	if parsed, err := url.Parse(finalURL); err == nil && isAuthURL(parsed) {
		return true
	}
	if html == "" {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	if doc.Find(`input[type="password"]`).Length() == 0 {
		return false
	}

	lowered := strings.ToLower(doc.Text())
	for _, phrase := range []string{"log in", "login", "sign in", "signin"} {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
