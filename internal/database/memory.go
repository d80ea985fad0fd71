package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
)

// MemoryStore provides an in-memory Provider for development/testing.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]crawler.Run
	listings map[string][]crawler.Listing
	seen     map[string]struct{}
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     make(map[string]crawler.Run),
		listings: make(map[string][]crawler.Listing),
		seen:     make(map[string]struct{}),
	}
}

// CreateRun stores a new run in queued status.
func (s *MemoryStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status and counters for a run.
func (s *MemoryStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status crawler.RunStatus,
	errText string,
	counters crawler.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s already finished with status %s", runID, run.Status)
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := time.Now().UTC()
	if status == crawler.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if status.Terminal() {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// RecordListing appends a listing row for a run.
func (s *MemoryStore) RecordListing(_ context.Context, runID string, l crawler.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[runID] = append(s.listings[runID], l)
	return nil
}

// SeenURL reports whether MarkSeen was called for the URL.
func (s *MemoryStore) SeenURL(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[url]
	return ok, nil
}

// MarkSeen records a URL in the dedup index.
func (s *MemoryStore) MarkSeen(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[url] = struct{}{}
	return nil
}

// GetRun fetches a run by ID.
func (s *MemoryStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, errors.New("run not found")
	}
	return run, nil
}

// ListListings returns all recorded listings for a run.
func (s *MemoryStore) ListListings(_ context.Context, runID string) ([]crawler.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listings := s.listings[runID]
	out := make([]crawler.Listing, len(listings))
	copy(out, listings)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
