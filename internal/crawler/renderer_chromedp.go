package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/buyeewatch/buyee-watcher/internal/metrics"
)

// ErrScraperDisabled indicates rendering has been disabled via configuration.
var ErrScraperDisabled = errors.New("scraper disabled")

// stealthScript hides the webdriver flag before any page script runs. Buyee
// serves an empty shell to clients that look automated.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// itemWaitGrace bounds how long Scrape waits for item anchors after the
// results iframe loads. Expiry means the keyword simply has no listings.
const itemWaitGrace = 20 * time.Second

// BuyeeScraper renders search pages using headless Chrome via chromedp.
type BuyeeScraper struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	timeout         time.Duration
	domainQPS       float64
	domainLimiter   *rate.Limiter
	limiterOnce     sync.Once
	userAgent       string
	searchBaseURL   string
	iframeSelector  string
	itemSelector    string
}

// NewBuyeeScraper starts a shared browser process configured for Buyee:
// automation fingerprints suppressed, desktop viewport, and all traffic
// through the residential proxy when one is configured.
func NewBuyeeScraper(cfg Config, logger *zap.Logger) (*BuyeeScraper, error) {
	if cfg.RenderMaxConcurrency <= 0 {
		return nil, ErrScraperDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ResidentialProxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ResidentialProxy))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	iframeSelector := cfg.IframeSelector
	if iframeSelector == "" {
		iframeSelector = DefaultIframeSelector
	}
	itemSelector := cfg.ItemSelector
	if itemSelector == "" {
		itemSelector = DefaultItemSelector
	}
	return &BuyeeScraper{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.RenderMaxConcurrency),
		timeout:         cfg.RenderTimeout,
		domainQPS:       cfg.RenderDomainQPS,
		userAgent:       cfg.UserAgent,
		searchBaseURL:   cfg.SearchBaseURL,
		iframeSelector:  iframeSelector,
		itemSelector:    itemSelector,
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (s *BuyeeScraper) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.browserCancel()
	s.allocatorCancel()
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

// Scrape loads the search page for code, hops into the Mercari results
// iframe, waits for listings to hydrate, and returns the DOM snapshot.
// A keyword with no listings yields an empty result set, not an error.
func (s *BuyeeScraper) Scrape(ctx context.Context, code string) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, ErrScraperDisabled
	}

	release, err := s.acquireSlot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	defer release()

	if waitErr := s.waitDomainBudget(ctx); waitErr != nil {
		return Snapshot{}, fmt.Errorf("render rate limit: %w", waitErr)
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	s.recordResponse(tabCtx, meta)

	start := time.Now()
	searchURL := SearchURL(s.searchBaseURL, code)

	iframeSrc, err := s.loadSearchPage(taskCtx, searchURL)
	if err != nil {
		return Snapshot{}, err
	}
	html, err := s.loadResults(taskCtx, iframeSrc)
	if err != nil {
		return Snapshot{}, err
	}

	status := meta.status()
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return Snapshot{}, &BlockedError{StatusCode: status}
	}

	return Snapshot{
		Code:       code,
		URL:        searchURL,
		FinalURL:   meta.finalURL(iframeSrc),
		StatusCode: status,
		Body:       []byte(html),
		Duration:   time.Since(start),
		UsedJS:     true,
	}, nil
}

func (s *BuyeeScraper) loadSearchPage(ctx context.Context, searchURL string) (string, error) {
	var (
		iframeSrc string
		found     bool
	)
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(searchURL),
		chromedp.WaitReady(s.iframeSelector, chromedp.ByQuery),
		chromedp.AttributeValue(s.iframeSelector, "src", &iframeSrc, &found, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("load search page: %w", err)
	}
	if !found || iframeSrc == "" {
		return "", errors.New("results iframe missing src attribute")
	}
	return iframeSrc, nil
}

func (s *BuyeeScraper) loadResults(ctx context.Context, iframeSrc string) (string, error) {
	if err := chromedp.Run(ctx, chromedp.Navigate(iframeSrc)); err != nil {
		return "", fmt.Errorf("load results frame: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, itemWaitGrace)
	waitErr := chromedp.Run(waitCtx, chromedp.WaitVisible(s.itemSelector, chromedp.ByQuery))
	cancelWait()
	if waitErr != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("wait for listings: %w", ctx.Err())
		}
		if !errors.Is(waitErr, context.DeadlineExceeded) {
			return "", fmt.Errorf("wait for listings: %w", waitErr)
		}
		s.logger.Debug("no listing anchors appeared before grace expired")
	}

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot results: %w", err)
	}
	return html, nil
}

func (s *BuyeeScraper) acquireSlot(ctx context.Context) (func(), error) {
	if s.sem == nil {
		return func() {}, nil
	}
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (s *BuyeeScraper) waitDomainBudget(ctx context.Context) error {
	if s.domainQPS <= 0 {
		return nil
	}
	s.limiterOnce.Do(func() {
		s.domainLimiter = rate.NewLimiter(rate.Limit(s.domainQPS), 1)
	})
	if s.domainLimiter.Allow() {
		return nil
	}
	metrics.RateLimitWaits.Inc()
	if err := s.domainLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

// responseMeta tracks the most recent document response on the tab. Scrape
// navigates twice (outer search page, then the results iframe); the snapshot
// metadata must describe the navigation whose DOM ends up in Body.
type responseMeta struct {
	mu         sync.Mutex
	statusCode int
	headers    http.Header
	url        string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: make(http.Header),
	}
}

func (m *responseMeta) record(status int, url string, headers http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCode = status
	m.url = url
	m.headers = headers
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode
}

func (m *responseMeta) finalURL(raw string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.url == "" {
		return raw
	}
	return m.url
}

func (s *BuyeeScraper) recordResponse(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		headers := make(http.Header, len(resp.Response.Headers))
		for k, v := range resp.Response.Headers {
			headers.Add(k, fmt.Sprint(v))
		}
		meta.record(int(resp.Response.Status), resp.Response.URL, headers)
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
