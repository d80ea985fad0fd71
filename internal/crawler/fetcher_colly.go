package crawler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// CollyProber implements Prober using a cloned Colly collector per fetch.
// It deliberately ignores ambient proxy environment variables: the only proxy
// the watcher ever speaks through is the configured residential one.
type CollyProber struct {
	cfg           Config
	logger        *zap.Logger
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// NewCollyProber builds a prober from the crawl configuration.
func NewCollyProber(cfg Config, logger *zap.Logger) (*CollyProber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport, err := newProbeTransport(cfg.ResidentialProxy)
	if err != nil {
		return nil, err
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(transport)
	return &CollyProber{
		cfg:           cfg,
		logger:        logger,
		transport:     transport,
		baseCollector: c,
	}, nil
}

// Probe executes a single HTTP GET of the search page for code.
func (p *CollyProber) Probe(ctx context.Context, code string) (Snapshot, error) {
	var (
		result   Snapshot
		fetchErr error
	)
	start := time.Now()
	target := SearchURL(p.cfg.SearchBaseURL, code)

	collector := p.baseCollector.Clone()
	collector.UserAgent = p.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(p.transport)
	timeout := p.cfg.RequestTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = Snapshot{
			Code:       code,
			URL:        target,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := p.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return result, err
	}
	return result, nil
}

func (p *CollyProber) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("probe visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("probe response failed: %w", *fetchErr)
		}
		return nil
	}
}

// newProbeTransport builds a pooled transport. The Proxy func is explicit:
// either the residential proxy or nothing, never http.ProxyFromEnvironment.
func newProbeTransport(residentialProxy string) (*http.Transport, error) {
	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if residentialProxy != "" {
		proxyURL, err := url.Parse(residentialProxy)
		if err != nil {
			return nil, fmt.Errorf("parse residential proxy: %w", err)
		}
		t.Proxy = http.ProxyURL(proxyURL)
	}
	return t, nil
}
