package crawler

import (
	"context"
	"time"
)

// Watchboard is the spreadsheet the watcher reads codes from and writes
// listings back to.
type Watchboard interface {
	Watchlist(ctx context.Context) ([]WatchEntry, error)
	ExistingURLs(ctx context.Context) (map[string]struct{}, error)
	AppendListings(ctx context.Context, listings []Listing) error
}

// RunStore persists run and listing metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	RecordListing(ctx context.Context, runID string, listing Listing) error
	SeenURL(ctx context.Context, url string) (bool, error)
	MarkSeen(ctx context.Context, url string) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListListings(ctx context.Context, runID string) ([]Listing, error)
}

// BlobStore writes raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes new-listing events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Prober does a cheap non-JS fetch of a search page, mainly to spot outright
// blocks before a render slot is spent.
type Prober interface {
	Probe(ctx context.Context, code string) (Snapshot, error)
}

// Scraper renders a search page with a headless browser and returns the DOM.
type Scraper interface {
	Scrape(ctx context.Context, code string) (Snapshot, error)
}

// PageDetector decides whether a probe result is usable without rendering.
type PageDetector interface {
	NeedsJS(ctx context.Context, snap Snapshot) bool
}

// Queue provides enqueue/dequeue semantics for crawl runs.
type Queue interface {
	Enqueue(ctx context.Context, item RunItem) error
	Dequeue(ctx context.Context) (RunItem, error)
}

// RetryPolicy decides whether and when to retry a failed scrape.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
