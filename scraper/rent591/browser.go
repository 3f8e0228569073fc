package rent591

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"rent591-notifier/models"
	"rent591-notifier/utils"
)

// BrowserFetcher renders a detail page in headless Chrome before extraction.
// It is the expensive fallback for pages the site refuses to serve to plain
// HTTP clients; the Chrome allocator is created lazily on first use so cycles
// that never need the fallback never pay for a browser.
type BrowserFetcher struct {
	logger    *utils.Logger
	chromeBin string
	timeout   time.Duration

	mu       sync.Mutex
	allocCtx context.Context
	cancels  []context.CancelFunc
}

// NewBrowserFetcher creates a BrowserFetcher. chromeBin may be empty, in
// which case the binary is looked up on PATH and the usual install locations.
func NewBrowserFetcher(chromeBin string, timeout time.Duration, logger *utils.Logger) *BrowserFetcher {
	return &BrowserFetcher{
		logger:    logger,
		chromeBin: chromeBin,
		timeout:   timeout,
	}
}

func (b *BrowserFetcher) ensureAllocator() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.allocCtx != nil {
		return b.allocCtx
	}

	bin := b.chromeBin
	if bin == "" {
		bin = findChromeBinary()
	}
	b.logger.Info("[browser] starting headless browser (binary: %s)", bin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(userAgent),
	)
	if bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	b.allocCtx = silentCtx
	b.cancels = []context.CancelFunc{cancelSilent, cancelAlloc}
	return b.allocCtx
}

// Close tears down the browser if one was ever started.
func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
	b.allocCtx = nil
}

// FetchDetail renders the detail page and runs the same extractor as the
// static strategy over the rendered markup.
func (b *BrowserFetcher) FetchDetail(ctx context.Context, id string) (*models.RawDetailItem, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.ensureAllocator())
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()

	// Stop early if the caller's context dies while the tab is loading.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(fmt.Sprintf(detailURLFormat, id)),
		chromedp.Sleep(3*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("render detail %s: %w", id, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered detail %s: %w", id, err)
	}

	return parseDetailDocument(id, doc)
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
