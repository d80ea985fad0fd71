package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// BlockedError marks a fetch Buyee answered with a bot-block status (403 or
// 429). Repeating a blocked render burns proxy budget without changing the
// answer, so the retry policy treats it as permanent.
type BlockedError struct {
	StatusCode int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by target with status %d", e.StatusCode)
}

// IsBlocked reports whether err carries a BlockedError anywhere in its chain.
func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}

// ScrapeRetryPolicy retries transient render failures (timeouts, dropped
// connections, mid-render crashes) with jittered exponential backoff.
// Blocks and canceled contexts are never retried.
type ScrapeRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewScrapeRetryPolicy builds a policy from the crawl config, falling back
// to defaults for unset knobs.
func NewScrapeRetryPolicy(cfg Config) *ScrapeRetryPolicy {
	p := &ScrapeRetryPolicy{
		maxAttempts: cfg.RetryMaxAttempts,
		baseDelay:   cfg.RetryBaseDelay,
		maxDelay:    cfg.RetryMaxDelay,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 250 * time.Millisecond
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = 5 * time.Second
	}
	return p
}

// ShouldRetry decides whether the scrape error is worth another render slot.
func (p *ScrapeRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsBlocked(err) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns how long to pause before the next attempt: half the capped
// exponential delay plus up to half again in jitter.
func (p *ScrapeRetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 0; i < attempt && delay < p.maxDelay; i++ {
		delay *= 2
	}
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	half := delay / 2
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
