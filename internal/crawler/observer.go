package crawler

import (
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
)

// ObservedImage is one image resource seen on the wire during a page load.
// Width and Height are filled in afterwards from the rendered DOM when the
// image appears in it; purely network-level observations leave them zero.
type ObservedImage struct {
	URL      string
	MimeType string
	ByteSize int64
	Width    int64
	Height   int64
}

// ImageObserver collects image resources from CDP network events for one
// page. An image is pending between its responseReceived and
// loadingFinished events; the finished event carries the authoritative
// encoded byte count. Pages torn down mid-load flush their pending entries
// with the header-declared size so slow images are not lost.
//
// Event callbacks arrive on chromedp's event goroutine while Flush and
// Images are called from the crawl goroutine, hence the mutex.
type ImageObserver struct {
	mu       sync.Mutex
	pending  map[network.RequestID]*ObservedImage
	observed []ObservedImage
}

// NewImageObserver creates an observer ready to attach to a page target.
func NewImageObserver() *ImageObserver {
	return &ImageObserver{
		pending: make(map[network.RequestID]*ObservedImage),
	}
}

// Dispatch routes a CDP event into the observer. Designed to be installed
// as a single chromedp.ListenTarget callback; non-network and non-image
// events fall through untouched.
func (o *ImageObserver) Dispatch(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		o.responseReceived(e)
	case *network.EventLoadingFinished:
		o.loadingFinished(e)
	case *network.EventLoadingFailed:
		o.loadingFailed(e)
	}
}

func (o *ImageObserver) responseReceived(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	mime := strings.ToLower(ev.Response.MimeType)
	if !strings.HasPrefix(mime, "image/") {
		return
	}
	if ev.Response.URL == "" || strings.HasPrefix(ev.Response.URL, "data:") {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[ev.RequestID] = &ObservedImage{
		URL:      ev.Response.URL,
		MimeType: mime,
		ByteSize: declaredContentLength(ev.Response.Headers),
	}
}

// declaredContentLength reads the Content-Length response header, the
// best-effort size for transfers torn down before their loadingFinished
// event arrives with the real encoded byte count.
func declaredContentLength(headers network.Headers) int64 {
	for name, value := range headers {
		if !strings.EqualFold(name, "Content-Length") {
			continue
		}
		raw, ok := value.(string)
		if !ok {
			return 0
		}
		length, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || length < 0 {
			return 0
		}
		return length
	}
	return 0
}

func (o *ImageObserver) loadingFinished(ev *network.EventLoadingFinished) {
	o.mu.Lock()
	defer o.mu.Unlock()

	img, ok := o.pending[ev.RequestID]
	if !ok {
		return
	}
	delete(o.pending, ev.RequestID)

	if ev.EncodedDataLength > 0 {
		img.ByteSize = int64(ev.EncodedDataLength)
	}
	o.observed = append(o.observed, *img)
}

func (o *ImageObserver) loadingFailed(ev *network.EventLoadingFailed) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, ev.RequestID)
}

// InFlight returns the number of image responses still awaiting their
// loadingFinished event. Used by the network-idle wait.
func (o *ImageObserver) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Flush moves any still-pending images into the observed set using their
// header-declared sizes, then returns everything collected. Called once at
// page teardown.
func (o *ImageObserver) Flush() []ObservedImage {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id, img := range o.pending {
		o.observed = append(o.observed, *img)
		delete(o.pending, id)
	}

	out := make([]ObservedImage, len(o.observed))
	copy(out, o.observed)
	return out
}
