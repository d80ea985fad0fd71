package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
)

func TestMemoryStore_RunLifecycle(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	run := crawler.Run{
		ID:        "run-1",
		Status:    crawler.RunStatusQueued,
		Trigger:   crawler.TriggerManual,
		Submitted: time.Now().UTC(),
	}
	require.NoError(t, store.CreateRun(ctx, run))
	require.Error(t, store.CreateRun(ctx, run), "duplicate runs are rejected")

	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", crawler.RunStatusRunning, "", crawler.RunCounters{}))
	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusRunning, got.Status)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	counters := crawler.RunCounters{CodesCrawled: 2, ListingsAdded: 5}
	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", crawler.RunStatusSucceeded, "", counters))
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusSucceeded, got.Status)
	require.Equal(t, counters, got.Counters)
	require.NotNil(t, got.Finished)

	require.Error(t, store.UpdateRunStatus(ctx, "missing", crawler.RunStatusFailed, "", crawler.RunCounters{}))
	_, err = store.GetRun(ctx, "missing")
	require.Error(t, err)
}

func TestMemoryStore_TerminalRunsStayTerminal(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, crawler.Run{
		ID:        "run-1",
		Status:    crawler.RunStatusQueued,
		Trigger:   crawler.TriggerManual,
		Submitted: time.Now().UTC(),
	}))
	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", crawler.RunStatusCanceled, "canceled via API", crawler.RunCounters{}))

	err := store.UpdateRunStatus(ctx, "run-1", crawler.RunStatusRunning, "", crawler.RunCounters{})
	require.ErrorContains(t, err, "already finished")

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusCanceled, got.Status)
	require.Equal(t, "canceled via API", got.ErrorText)
}

func TestMemoryStore_ListingsAndSeen(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	l := crawler.Listing{Code: "pokemon", URL: "https://buyee.jp/mercari/item/m1", PriceYen: 1200}
	require.NoError(t, store.RecordListing(ctx, "run-1", l))

	listings, err := store.ListListings(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, []crawler.Listing{l}, listings)

	seen, err := store.SeenURL(ctx, l.URL)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, store.MarkSeen(ctx, l.URL))
	seen, err = store.SeenURL(ctx, l.URL)
	require.NoError(t, err)
	require.True(t, seen)
}
