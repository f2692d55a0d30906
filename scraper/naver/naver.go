package naver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"complex-watch/config"
	"complex-watch/models"
	"complex-watch/services"
	"complex-watch/utils"
)

const (
	baseURL      = "https://new.land.naver.com"
	apiPathToken = "/api/"

	// Responses queued between two drains of the session loop.
	eventBuffer = 256
)

// Same-address grouping makes the listing API report sameAddrCnt instead of
// returning one article per broker.
const sameAddressScript = `
	(function() {
		localStorage.setItem('sameAddrYn', 'true');
		localStorage.setItem('sameAddressGroup', 'true');
		return true;
	})()
`

const scrollScript = `
	(function() {
		var list = document.querySelector('.item_list');
		if (!list) {
			return {found: false, moved: false};
		}
		var before = list.scrollTop;
		list.scrollTop += 500;
		return {found: true, moved: list.scrollTop !== before};
	})()
`

// scrollResult is what scrollScript reports for one pagination step.
type scrollResult struct {
	Found bool `json:"found"`
	Moved bool `json:"moved"`
}

// moved reports whether the step counts as progress. A missing list
// container counts as a stuck viewport so a broken page ends the session
// through the stall limit.
func (r scrollResult) moved() bool {
	return r.Found && r.Moved
}

// Collector drives a real browser through a complex's listing page and feeds
// the intercepted API responses into a collection session.
type Collector struct {
	cfg    *config.Config
	logger *utils.Logger
	retry  *utils.RetryConfig
}

// New creates a ready-to-use Collector.
func New(cfg *config.Config, logger *utils.Logger) *Collector {
	return &Collector{
		cfg:    cfg,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

// Collect opens the complex page and scrolls its listing panel until agg
// ends the session.
func (c *Collector) Collect(ctx context.Context, agg *services.Aggregator) error {
	id := agg.CollectionID()

	chromeBin := findChromeBinary(c.cfg.ChromeBin)
	c.logger.Debug("[naver] %s: using browser binary %q", id, chromeBin)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions(chromeBin)...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	events := make(chan models.ResponseEvent, eventBuffer)
	c.listen(browserCtx, events)

	err := c.retry.Do(ctx, "open-complex-"+id, func() error {
		return c.open(browserCtx, id)
	})
	if err != nil {
		return fmt.Errorf("naver: open complex %s: %w", id, err)
	}

	pager := services.PagerFunc(c.scroll)
	if err := services.RunSession(browserCtx, agg, pager, events, c.cfg.ScrollDelay); err != nil {
		return fmt.Errorf("naver: session %s: %w", id, err)
	}

	collected, reported := agg.Progress()
	c.logger.Debug("[naver] %s: %d pages, %d/%d listings", id, agg.Pages(), collected, reported)
	return nil
}

func (c *Collector) allocatorOptions(chromeBin string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}
	return opts
}

// open sets the grouping preference on the marketplace origin, then loads the
// complex page with network capture enabled.
func (c *Collector) open(browserCtx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(browserCtx, 60*time.Second)
	defer cancel()

	var ok bool
	err := chromedp.Run(ctx,
		network.Enable(),
		chromedp.Navigate(baseURL),
		chromedp.Evaluate(sameAddressScript, &ok),
		chromedp.Navigate(baseURL+"/complexes/"+id),
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	return nil
}

func (c *Collector) scroll(ctx context.Context) (bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var res scrollResult
	if err := chromedp.Run(stepCtx, chromedp.Evaluate(scrollScript, &res)); err != nil {
		return false, fmt.Errorf("chromedp scroll: %w", err)
	}
	return res.moved(), nil
}

type pendingResponse struct {
	url    string
	status int
}

// listen forwards the body of every finished API response to events. Bodies
// are only retrievable once loading has finished, so response metadata is
// held until then.
func (c *Collector) listen(ctx context.Context, events chan<- models.ResponseEvent) {
	var mu sync.Mutex
	pending := make(map[network.RequestID]pendingResponse)

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Response == nil || !isAPIResponse(e.Response.URL) {
				return
			}
			mu.Lock()
			pending[e.RequestID] = pendingResponse{url: e.Response.URL, status: int(e.Response.Status)}
			mu.Unlock()

		case *network.EventLoadingFailed:
			mu.Lock()
			delete(pending, e.RequestID)
			mu.Unlock()

		case *network.EventLoadingFinished:
			mu.Lock()
			p, ok := pending[e.RequestID]
			delete(pending, e.RequestID)
			mu.Unlock()
			if !ok {
				return
			}
			// The listener runs on chromedp's event loop and must not block.
			go c.fetchBody(ctx, e.RequestID, p, events)
		}
	})
}

func (c *Collector) fetchBody(ctx context.Context, id network.RequestID, p pendingResponse, events chan<- models.ResponseEvent) {
	target := chromedp.FromContext(ctx).Target
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(ctx, target))
	if err != nil {
		c.logger.Debug("[naver] body unavailable for %s: %v", p.url, err)
		return
	}

	select {
	case events <- models.ResponseEvent{SourceURL: p.url, Status: p.status, Body: body}:
	case <-ctx.Done():
	}
}

func isAPIResponse(url string) bool {
	return strings.HasPrefix(url, baseURL) && strings.Contains(url, apiPathToken)
}

// findChromeBinary locates Chrome/Chromium, preferring an explicit path.
func findChromeBinary(explicit string) string {
	if explicit != "" {
		return explicit
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
