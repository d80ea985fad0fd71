// Package worker implements the crawl run execution loop.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
	"github.com/buyeewatch/buyee-watcher/internal/metrics"
	"github.com/buyeewatch/buyee-watcher/internal/progress"
	"github.com/buyeewatch/buyee-watcher/internal/sheets"
)

// Config controls Worker behavior.
type Config struct {
	ContentType         string
	SnapshotPrefix      string
	Topic               string
	NoResultPlaceholder bool
}

// Worker consumes run items and executes the crawl pipeline: probe, render,
// parse, filter, append to the sheet, persist, publish.
type Worker struct {
	queue      crawler.Queue
	runStore   crawler.RunStore
	watchboard crawler.Watchboard
	blobStore  crawler.BlobStore
	publisher  crawler.Publisher
	prober     crawler.Prober
	scraper    crawler.Scraper
	detector   crawler.PageDetector
	parser     *crawler.ListingParser
	retry      crawler.RetryPolicy
	hasher     crawler.Hasher
	clock      crawler.Clock
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	runStore crawler.RunStore,
	watchboard crawler.Watchboard,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	prober crawler.Prober,
	scraper crawler.Scraper,
	detector crawler.PageDetector,
	parser *crawler.ListingParser,
	retry crawler.RetryPolicy,
	hasher crawler.Hasher,
	clock crawler.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Worker{
		queue:      queue,
		runStore:   runStore,
		watchboard: watchboard,
		blobStore:  blobStore,
		publisher:  publisher,
		prober:     prober,
		scraper:    scraper,
		detector:   detector,
		parser:     parser,
		retry:      retry,
		hasher:     hasher,
		clock:      clock,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming run items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.ProcessRun(ctx, item)
	}
}

// ProcessRun executes one full crawl run. Exported so the one-shot command
// can run the pipeline without a queue.
func (w *Worker) ProcessRun(ctx context.Context, item crawler.RunItem) {
	// Cancellation via the API flips the run terminal while it sits on the
	// queue; a terminal run must never be picked up or overwritten.
	if run, err := w.runStore.GetRun(ctx, item.RunID); err == nil && run.Status.Terminal() {
		w.logger.Info("skipping finished run",
			zap.String("run_id", item.RunID),
			zap.String("status", string(run.Status)),
		)
		return
	}

	started := w.clock.Now()
	w.emit(progress.Event{RunID: item.RunID, TS: started, Stage: progress.StageRunStart})

	counters := crawler.RunCounters{}
	if err := w.runStore.UpdateRunStatus(ctx, item.RunID, crawler.RunStatusRunning, "", counters); err != nil {
		w.logger.Error("update run status failed", zap.String("run_id", item.RunID), zap.Error(err))
		return
	}

	entries, existing, err := w.loadBoard(ctx)
	if err != nil {
		w.finishRun(ctx, item, crawler.RunStatusFailed, err.Error(), counters, started)
		return
	}

	var fresh []crawler.Listing
	var lastErr string
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		added, crawlErr := w.crawlEntry(ctx, item, entry, existing, &counters)
		if crawlErr != nil {
			counters.CodesFailed++
			lastErr = crawlErr.Error()
			w.emit(progress.Event{
				RunID: item.RunID, TS: w.clock.Now(), Stage: progress.StageCodeError,
				Code: entry.Code, Note: crawlErr.Error(),
			})
			w.logger.Error("code crawl failed",
				zap.String("run_id", item.RunID),
				zap.String("code", entry.Code),
				zap.Error(crawlErr),
			)
			continue
		}
		counters.CodesCrawled++
		fresh = append(fresh, added...)
	}

	var persistErr error
	if len(fresh) > 0 {
		if persistErr = w.persistListings(ctx, item, fresh, &counters); persistErr != nil {
			lastErr = persistErr.Error()
		}
	}

	status, errText := w.deriveFinalStatus(ctx, counters, lastErr, persistErr)
	w.finishRun(ctx, item, status, errText, counters, started)
}

func (w *Worker) loadBoard(ctx context.Context) ([]crawler.WatchEntry, map[string]struct{}, error) {
	entries, err := w.watchboard.Watchlist(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load watchlist: %w", err)
	}
	existing, err := w.watchboard.ExistingURLs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load existing urls: %w", err)
	}
	return entries, existing, nil
}

func (w *Worker) crawlEntry(
	ctx context.Context,
	item crawler.RunItem,
	entry crawler.WatchEntry,
	existing map[string]struct{},
	counters *crawler.RunCounters,
) ([]crawler.Listing, error) {
	start := w.clock.Now()
	w.emit(progress.Event{RunID: item.RunID, TS: start, Stage: progress.StageCodeStart, Code: entry.Code})

	snap, err := w.fetchSnapshot(ctx, entry.Code)
	if err != nil {
		metrics.TotalScrapeErrors.Inc()
		return nil, err
	}
	metrics.TotalScrapes.Inc()
	w.snapshotBlob(ctx, item.RunID, snap)

	fetchedAt := w.clock.Now()
	listings, err := w.parser.Parse(snap, fetchedAt)
	if err != nil {
		return nil, err
	}

	var added []crawler.Listing
	for _, l := range listings {
		if !entry.WithinCeiling(l.PriceYen) {
			counters.ListingsPriced++
			metrics.ListingsSkipped.WithLabelValues("price_ceiling").Inc()
			continue
		}
		if w.isDuplicate(ctx, existing, l.URL) {
			counters.ListingsSeen++
			metrics.ListingsSkipped.WithLabelValues("duplicate").Inc()
			continue
		}
		existing[l.URL] = struct{}{}
		counters.ListingsAdded++
		metrics.ListingsAdded.Inc()
		added = append(added, l)
	}

	if len(listings) == 0 && w.cfg.NoResultPlaceholder {
		// One placeholder row per sheet, mirroring the empty-URL sentinel
		// the sheet already uses.
		if _, ok := existing[""]; !ok {
			existing[""] = struct{}{}
			added = append(added, sheets.NoResultListing(entry.Code, fetchedAt))
		}
	}

	w.emit(progress.Event{
		RunID: item.RunID, TS: w.clock.Now(), Stage: progress.StageCodeDone,
		Code: entry.Code, Listings: len(added), Bytes: int64(len(snap.Body)),
		Dur: w.clock.Now().Sub(start),
	})
	return added, nil
}

// fetchSnapshot probes first, then promotes to the headless renderer with
// retries. The probe is advisory: it spots outright blocks cheaply and keeps
// the fast path should Buyee ever serve results without JS.
func (w *Worker) fetchSnapshot(ctx context.Context, code string) (crawler.Snapshot, error) {
	if w.prober != nil {
		probe, probeErr := w.prober.Probe(ctx, code)
		switch {
		case probeErr != nil:
			w.logger.Debug("probe fetch failed", zap.String("code", code), zap.Error(probeErr))
		case probe.StatusCode == http.StatusForbidden || probe.StatusCode == http.StatusTooManyRequests:
			metrics.TotalBlockedProbes.Inc()
			w.logger.Warn("probe looks blocked",
				zap.String("code", code),
				zap.Int("status", probe.StatusCode),
			)
		case w.detector != nil && !w.detector.NeedsJS(ctx, probe):
			return probe, nil
		}
	}

	if w.scraper == nil {
		return crawler.Snapshot{}, fmt.Errorf("no scraper configured")
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		snap, err := w.scraper.Scrape(ctx, code)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		if w.retry == nil || !w.retry.ShouldRetry(err, attempt+1) {
			break
		}
		metrics.TotalRetries.Inc()
		if pauseErr := w.pause(ctx, w.retry.Backoff(attempt)); pauseErr != nil {
			break
		}
	}
	return crawler.Snapshot{}, fmt.Errorf("scrape %s: %w", code, lastErr)
}

func (w *Worker) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// snapshotBlob stores the raw rendered HTML. Failures are logged, not fatal:
// the snapshot exists for debugging selector drift, not correctness.
func (w *Worker) snapshotBlob(ctx context.Context, runID string, snap crawler.Snapshot) {
	if w.blobStore == nil || len(snap.Body) == 0 {
		return
	}
	hash, err := w.hasher.Hash(snap.Body)
	if err != nil {
		w.logger.Warn("hash snapshot failed", zap.Error(err))
		return
	}
	path := w.buildBlobPath(runID, snap.Code, hash)
	if _, err := w.blobStore.PutObject(ctx, path, w.cfg.ContentType, snap.Body); err != nil {
		w.logger.Warn("store snapshot failed", zap.String("path", path), zap.Error(err))
	}
}

func (w *Worker) buildBlobPath(runID, code, hash string) string {
	prefix := strings.Trim(w.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.html", runID, code, hash)
	}
	return fmt.Sprintf("%s/%s/%s/%s.html", prefix, runID, code, hash)
}

func (w *Worker) persistListings(
	ctx context.Context,
	item crawler.RunItem,
	fresh []crawler.Listing,
	counters *crawler.RunCounters,
) error {
	if err := w.watchboard.AppendListings(ctx, fresh); err != nil {
		metrics.SheetAppendErrors.Inc()
		counters.ListingsAdded = 0
		return fmt.Errorf("append listings: %w", err)
	}
	for _, l := range fresh {
		if sheets.IsNoResult(l) {
			continue
		}
		if err := w.runStore.RecordListing(ctx, item.RunID, l); err != nil {
			w.logger.Warn("record listing failed", zap.String("url", l.URL), zap.Error(err))
		}
		if err := w.runStore.MarkSeen(ctx, l.URL); err != nil {
			w.logger.Warn("mark seen failed", zap.String("url", l.URL), zap.Error(err))
		}
		w.publishListing(ctx, item.RunID, l)
	}
	return nil
}

func (w *Worker) publishListing(ctx context.Context, runID string, l crawler.Listing) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"run_id":    runID,
		"code":      l.Code,
		"title":     l.Title,
		"price_yen": l.PriceYen,
		"url":       l.URL,
		"timestamp": l.FetchedAt.Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish listing failed", zap.String("url", l.URL), zap.Error(err))
		return
	}
	w.logger.Info("listing published",
		zap.String("run_id", runID),
		zap.String("code", l.Code),
		zap.String("url", l.URL),
	)
}

func (w *Worker) isDuplicate(ctx context.Context, existing map[string]struct{}, url string) bool {
	if _, ok := existing[url]; ok {
		return true
	}
	seen, err := w.runStore.SeenURL(ctx, url)
	if err != nil {
		w.logger.Debug("seen-url lookup failed", zap.Error(err))
		return false
	}
	return seen
}

func (w *Worker) deriveFinalStatus(
	ctx context.Context,
	counters crawler.RunCounters,
	errText string,
	persistErr error,
) (crawler.RunStatus, string) {
	if counters.CodesCrawled == 0 && errText == "" {
		errText = "no codes were crawled"
	}
	switch {
	case ctx.Err() != nil:
		return crawler.RunStatusCanceled, errText
	case persistErr != nil:
		// The sheet is the system of record. A run that scraped pages but
		// could not write them produced nothing durable.
		return crawler.RunStatusFailed, errText
	case counters.CodesCrawled == 0:
		return crawler.RunStatusFailed, errText
	default:
		return crawler.RunStatusSucceeded, errText
	}
}

func (w *Worker) finishRun(
	ctx context.Context,
	item crawler.RunItem,
	status crawler.RunStatus,
	errText string,
	counters crawler.RunCounters,
	started time.Time,
) {
	if err := w.runStore.UpdateRunStatus(ctx, item.RunID, status, errText, counters); err != nil {
		w.logger.Error("final run status update failed", zap.String("run_id", item.RunID), zap.Error(err))
	}
	stage := progress.StageRunDone
	if status != crawler.RunStatusSucceeded {
		stage = progress.StageRunError
	}
	w.emit(progress.Event{
		RunID: item.RunID, TS: w.clock.Now(), Stage: stage,
		Dur: w.clock.Now().Sub(started), Note: errText,
	})
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(evt)
}
