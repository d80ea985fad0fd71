package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
	"github.com/buyeewatch/buyee-watcher/internal/database"
	"github.com/buyeewatch/buyee-watcher/internal/hash/sha256"
	"github.com/buyeewatch/buyee-watcher/internal/metrics"
	memorypub "github.com/buyeewatch/buyee-watcher/internal/publisher/memory"
	"github.com/buyeewatch/buyee-watcher/internal/sheets"
	memoryblob "github.com/buyeewatch/buyee-watcher/internal/storage/memory"
)

const twoItemHTML = `<html><body>
<a class="simple_container__llX1q" href="/mercari/item/m111">
  <img src="https://static.mercdn.net/m111.jpg"/>
  <span class="simple_name__XMcbt">Charizard Card</span>
  <span class="simple_price__h13DP">1,200円</span>
</a>
<a class="simple_container__llX1q" href="/mercari/item/m222">
  <span class="simple_name__XMcbt">Sealed Box</span>
  <span class="simple_price__h13DP">99,800円</span>
</a>
</body></html>`

type fakeProber struct {
	body []byte
	err  error
}

func (f *fakeProber) Probe(_ context.Context, code string) (crawler.Snapshot, error) {
	if f.err != nil {
		return crawler.Snapshot{}, f.err
	}
	return crawler.Snapshot{Code: code, StatusCode: 200, Body: f.body}, nil
}

type fakeDetector struct {
	needsJS bool
}

func (f *fakeDetector) NeedsJS(context.Context, crawler.Snapshot) bool { return f.needsJS }

type fakeScraper struct {
	mu       sync.Mutex
	body     []byte
	failures int
	calls    int
}

func (f *fakeScraper) Scrape(_ context.Context, code string) (crawler.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return crawler.Snapshot{}, errors.New("render timeout")
	}
	return crawler.Snapshot{Code: code, StatusCode: 200, Body: f.body, UsedJS: true}, nil
}

type fakeRetry struct {
	maxAttempts int
}

func (f *fakeRetry) ShouldRetry(_ error, attempt int) bool { return attempt < f.maxAttempts }
func (f *fakeRetry) Backoff(int) time.Duration             { return 0 }

type testHarness struct {
	worker *Worker
	board  *sheets.MemoryWatchboard
	store  *database.MemoryStore
	blob   *memoryblob.BlobStore
	pub    *memorypub.Publisher
}

func newHarness(t *testing.T, entries []crawler.WatchEntry, prober crawler.Prober, detector crawler.PageDetector, scraper crawler.Scraper, retry crawler.RetryPolicy) *testHarness {
	t.Helper()
	h := &testHarness{
		board: sheets.NewMemoryWatchboard(entries),
		store: database.NewMemoryStore(),
		blob:  memoryblob.New(),
		pub:   memorypub.New(),
	}
	h.worker = New(
		nil,
		h.store,
		h.board,
		h.blob,
		h.pub,
		prober,
		scraper,
		detector,
		crawler.NewListingParser(crawler.Config{}),
		retry,
		sha256.New(),
		systemClock{},
		nil,
		Config{Topic: "listings", NoResultPlaceholder: true},
		zap.NewNop(),
	)
	return h
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func startRun(t *testing.T, h *testHarness, runID string) crawler.RunItem {
	t.Helper()
	require.NoError(t, h.store.CreateRun(context.Background(), crawler.Run{
		ID:        runID,
		Status:    crawler.RunStatusQueued,
		Trigger:   crawler.TriggerManual,
		Submitted: time.Now().UTC(),
	}))
	return crawler.RunItem{RunID: runID, Trigger: crawler.TriggerManual, Attempt: 1}
}

func TestWorker_ProcessRun_FiltersAndPersists(t *testing.T) {
	t.Parallel()

	addedBefore := testutil.ToFloat64(metrics.ListingsAdded)
	ceiling := 5000
	h := newHarness(t,
		[]crawler.WatchEntry{{Code: "pokemon", MaxPriceYen: &ceiling}},
		&fakeProber{body: []byte(twoItemHTML)},
		&fakeDetector{needsJS: false},
		nil,
		nil,
	)
	item := startRun(t, h, "run-1")

	h.worker.ProcessRun(context.Background(), item)

	run, err := h.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusSucceeded, run.Status)
	require.Equal(t, 1, run.Counters.CodesCrawled)
	require.Equal(t, 1, run.Counters.ListingsAdded)
	require.Equal(t, 1, run.Counters.ListingsPriced, "the 99,800 yen item is over the ceiling")

	appended := h.board.Listings()
	require.Len(t, appended, 1)
	require.Equal(t, "https://buyee.jp/mercari/item/m111", appended[0].URL)

	recorded, err := h.store.ListListings(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, recorded, 1)

	seen, err := h.store.SeenURL(context.Background(), appended[0].URL)
	require.NoError(t, err)
	require.True(t, seen)

	require.Equal(t, 1, h.blob.Len(), "the raw page is snapshotted once per code")
	require.Len(t, h.pub.Messages(), 1)
	require.GreaterOrEqual(t, testutil.ToFloat64(metrics.ListingsAdded)-addedBefore, 1.0)
}

func TestWorker_ProcessRun_DeduplicatesExistingURLs(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		[]crawler.WatchEntry{{Code: "pokemon"}},
		&fakeProber{body: []byte(twoItemHTML)},
		&fakeDetector{needsJS: false},
		nil,
		nil,
	)
	require.NoError(t, h.board.AppendListings(context.Background(), []crawler.Listing{
		{URL: "https://buyee.jp/mercari/item/m111"},
	}))
	item := startRun(t, h, "run-1")

	h.worker.ProcessRun(context.Background(), item)

	run, err := h.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusSucceeded, run.Status)
	require.Equal(t, 1, run.Counters.ListingsSeen)
	require.Equal(t, 1, run.Counters.ListingsAdded, "only the unseen item is appended")
}

func TestWorker_ProcessRun_NoResultPlaceholder(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		[]crawler.WatchEntry{{Code: "pokemon"}},
		&fakeProber{body: []byte("<html><body></body></html>")},
		&fakeDetector{needsJS: false},
		nil,
		nil,
	)
	item := startRun(t, h, "run-1")

	h.worker.ProcessRun(context.Background(), item)

	run, err := h.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusSucceeded, run.Status)
	require.Equal(t, 0, run.Counters.ListingsAdded)

	appended := h.board.Listings()
	require.Len(t, appended, 1)
	require.True(t, sheets.IsNoResult(appended[0]))
	require.Empty(t, h.pub.Messages(), "placeholders are not published")
}

func TestWorker_ProcessRun_RetriesRenderFailures(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{body: []byte(twoItemHTML), failures: 2}
	h := newHarness(t,
		[]crawler.WatchEntry{{Code: "pokemon"}},
		&fakeProber{body: []byte("tiny")},
		&fakeDetector{needsJS: true},
		scraper,
		&fakeRetry{maxAttempts: 3},
	)
	item := startRun(t, h, "run-1")

	h.worker.ProcessRun(context.Background(), item)

	run, err := h.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusSucceeded, run.Status)
	require.Equal(t, 3, scraper.calls)
	require.Equal(t, 2, run.Counters.ListingsAdded)
}

func TestWorker_ProcessRun_FailsWhenNothingCrawled(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		[]crawler.WatchEntry{{Code: "pokemon"}},
		&fakeProber{body: []byte("tiny")},
		&fakeDetector{needsJS: true},
		nil, // renderer unavailable
		nil,
	)
	item := startRun(t, h, "run-1")

	h.worker.ProcessRun(context.Background(), item)

	run, err := h.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, run.Status)
	require.Equal(t, 1, run.Counters.CodesFailed)
	require.NotEmpty(t, run.ErrorText)
}

func TestWorker_ProcessRun_PartialFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{body: []byte(twoItemHTML)}
	h := newHarness(t,
		[]crawler.WatchEntry{{Code: "pokemon"}, {Code: "broken"}},
		prober,
		&fakeDetector{needsJS: false},
		nil,
		nil,
	)
	// First entry parses fine; flip the prober into error mode for the second.
	h.worker.prober = &sequenceProber{
		snaps: []crawler.Snapshot{{Code: "pokemon", StatusCode: 200, Body: []byte(twoItemHTML)}},
		errs:  []error{nil, errors.New("connection reset")},
	}
	h.worker.scraper = nil
	item := startRun(t, h, "run-1")

	h.worker.ProcessRun(context.Background(), item)

	run, err := h.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusSucceeded, run.Status, "one crawled code is enough")
	require.Equal(t, 1, run.Counters.CodesCrawled)
	require.Equal(t, 1, run.Counters.CodesFailed)
}

type failingBoard struct {
	*sheets.MemoryWatchboard
	appendErr error
}

func (b *failingBoard) AppendListings(context.Context, []crawler.Listing) error {
	return b.appendErr
}

func TestWorker_ProcessRun_FailsWhenAppendFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		[]crawler.WatchEntry{{Code: "pokemon"}},
		&fakeProber{body: []byte(twoItemHTML)},
		&fakeDetector{needsJS: false},
		nil,
		nil,
	)
	// The sheet is the only durable output; a run that scraped pages but
	// wrote nothing must not report success.
	h.worker.watchboard = &failingBoard{
		MemoryWatchboard: h.board,
		appendErr:        errors.New("sheets API quota exceeded"),
	}
	item := startRun(t, h, "run-1")

	h.worker.ProcessRun(context.Background(), item)

	run, err := h.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, run.Status)
	require.Contains(t, run.ErrorText, "sheets API quota exceeded")
	require.Equal(t, 0, run.Counters.ListingsAdded)
	require.Empty(t, h.pub.Messages(), "nothing durable was written, nothing is announced")
}

func TestWorker_ProcessRun_SkipsCanceledRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		[]crawler.WatchEntry{{Code: "pokemon"}},
		&fakeProber{body: []byte(twoItemHTML)},
		&fakeDetector{needsJS: false},
		nil,
		nil,
	)
	item := startRun(t, h, "run-1")
	require.NoError(t, h.store.UpdateRunStatus(
		context.Background(), "run-1", crawler.RunStatusCanceled, "canceled via API", crawler.RunCounters{},
	))

	h.worker.ProcessRun(context.Background(), item)

	run, err := h.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusCanceled, run.Status)
	require.Equal(t, "canceled via API", run.ErrorText)
	require.Empty(t, h.board.Listings(), "a canceled run must not crawl")
}

func TestWorker_ProcessRun_CountsSkippedListings(t *testing.T) {
	t.Parallel()

	pricedBefore := testutil.ToFloat64(metrics.ListingsSkipped.WithLabelValues("price_ceiling"))
	dupBefore := testutil.ToFloat64(metrics.ListingsSkipped.WithLabelValues("duplicate"))

	ceiling := 5000
	h := newHarness(t,
		[]crawler.WatchEntry{{Code: "pokemon", MaxPriceYen: &ceiling}},
		&fakeProber{body: []byte(twoItemHTML)},
		&fakeDetector{needsJS: false},
		nil,
		nil,
	)
	require.NoError(t, h.board.AppendListings(context.Background(), []crawler.Listing{
		{URL: "https://buyee.jp/mercari/item/m111"},
	}))
	item := startRun(t, h, "run-1")

	h.worker.ProcessRun(context.Background(), item)

	// Other runs may bump the shared collectors concurrently, so assert the
	// delta floor rather than an exact value.
	require.GreaterOrEqual(t,
		testutil.ToFloat64(metrics.ListingsSkipped.WithLabelValues("price_ceiling"))-pricedBefore, 1.0)
	require.GreaterOrEqual(t,
		testutil.ToFloat64(metrics.ListingsSkipped.WithLabelValues("duplicate"))-dupBefore, 1.0)
}

type sequenceProber struct {
	mu    sync.Mutex
	snaps []crawler.Snapshot
	errs  []error
	call  int
}

func (p *sequenceProber) Probe(context.Context, string) (crawler.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.call
	p.call++
	if idx < len(p.errs) && p.errs[idx] != nil {
		return crawler.Snapshot{}, p.errs[idx]
	}
	if idx < len(p.snaps) {
		return p.snaps[idx], nil
	}
	return crawler.Snapshot{}, errors.New("no more snapshots")
}
