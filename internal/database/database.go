// Package database persists run metadata and the seen-listing index.
package database

import (
	"context"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
)

// Provider is the run store plus lifecycle management.
type Provider interface {
	crawler.RunStore
	Close() error
}

// NoOpProvider discards everything. Used for one-shot CI runs where the sheet
// itself is the system of record.
type NoOpProvider struct{}

// CreateRun is a no-op.
func (NoOpProvider) CreateRun(context.Context, crawler.Run) error { return nil }

// UpdateRunStatus is a no-op.
func (NoOpProvider) UpdateRunStatus(context.Context, string, crawler.RunStatus, string, crawler.RunCounters) error {
	return nil
}

// RecordListing is a no-op.
func (NoOpProvider) RecordListing(context.Context, string, crawler.Listing) error { return nil }

// SeenURL always reports unseen so dedup falls back to the sheet URL set.
func (NoOpProvider) SeenURL(context.Context, string) (bool, error) { return false, nil }

// MarkSeen is a no-op.
func (NoOpProvider) MarkSeen(context.Context, string) error { return nil }

// GetRun returns an empty run.
func (NoOpProvider) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	return crawler.Run{ID: runID}, nil
}

// ListListings returns nothing.
func (NoOpProvider) ListListings(context.Context, string) ([]crawler.Listing, error) {
	return nil, nil
}

// Close is a no-op.
func (NoOpProvider) Close() error { return nil }
