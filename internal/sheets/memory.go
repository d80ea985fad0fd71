package sheets

import (
	"context"
	"sync"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
)

// MemoryWatchboard is an in-memory Watchboard for tests and local runs.
type MemoryWatchboard struct {
	mu       sync.RWMutex
	entries  []crawler.WatchEntry
	listings []crawler.Listing
	urls     map[string]struct{}
}

// NewMemoryWatchboard seeds a watchboard with the given entries.
func NewMemoryWatchboard(entries []crawler.WatchEntry) *MemoryWatchboard {
	return &MemoryWatchboard{
		entries: append([]crawler.WatchEntry(nil), entries...),
		urls:    make(map[string]struct{}),
	}
}

// Watchlist returns the seeded entries.
func (m *MemoryWatchboard) Watchlist(_ context.Context) ([]crawler.WatchEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]crawler.WatchEntry(nil), m.entries...), nil
}

// ExistingURLs returns the URLs of listings appended so far.
func (m *MemoryWatchboard) ExistingURLs(_ context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]struct{}, len(m.urls))
	for u := range m.urls {
		out[u] = struct{}{}
	}
	return out, nil
}

// AppendListings records listings and indexes their URLs.
func (m *MemoryWatchboard) AppendListings(_ context.Context, listings []crawler.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range listings {
		m.listings = append(m.listings, l)
		m.urls[l.URL] = struct{}{}
	}
	return nil
}

// Listings returns everything appended, for test assertions.
func (m *MemoryWatchboard) Listings() []crawler.Listing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]crawler.Listing(nil), m.listings...)
}
