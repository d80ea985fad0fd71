// Package cmd defines and implements the CLI commands for the buyee-watcher
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/buyeewatch/buyee-watcher/internal/clock/system"
	"github.com/buyeewatch/buyee-watcher/internal/crawler"
	"github.com/buyeewatch/buyee-watcher/internal/hash/sha256"
	"github.com/buyeewatch/buyee-watcher/internal/id/uuid"
	"github.com/buyeewatch/buyee-watcher/internal/progress"
	"github.com/buyeewatch/buyee-watcher/internal/progress/sinks"
	"github.com/buyeewatch/buyee-watcher/internal/worker"
)

// newCrawlCmd creates the 'crawl' subcommand: a single synchronous crawl run,
// the mode the scheduled CI invocation uses. The process exit code reflects
// the run outcome.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl over the watchlist and exits",
		Long: `Reads every keyword from the watch sheet, crawls Buyee's Mercari search
results for each, and appends new listings to the list sheet. Exits non-zero
if the run fails so schedulers can surface the failure.`,

		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	ccfg, err := crawler.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load crawler config: %w", err)
	}

	hub := progress.NewHub(progress.Config{}, sinks.NewLogSink(logger))
	defer func() {
		if cerr := hub.Close(cmd.Context()); cerr != nil {
			logger.Warn("close progress hub", zap.Error(cerr))
		}
	}()

	workers, cleanup, err := buildWorkers(nil, appInstance, ccfg, hub, 1)
	if err != nil {
		return err
	}
	defer cleanup(cmd.Context())
	w := workers[0]

	idGen := uuid.NewGenerator()
	runID, err := idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	now := system.New().Now()
	runStore := appInstance.GetDatabase()
	if err := runStore.CreateRun(cmd.Context(), crawler.Run{
		ID:        runID,
		Status:    crawler.RunStatusQueued,
		Trigger:   crawler.TriggerOneShot,
		Submitted: now,
	}); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	w.ProcessRun(cmd.Context(), crawler.RunItem{
		RunID:     runID,
		Trigger:   crawler.TriggerOneShot,
		Attempt:   1,
		Submitted: now.Unix(),
	})

	run, err := runStore.GetRun(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("fetch run result: %w", err)
	}
	logger.Info("crawl finished",
		zap.String("run_id", runID),
		zap.String("status", string(run.Status)),
		zap.Int("codes_crawled", run.Counters.CodesCrawled),
		zap.Int("listings_added", run.Counters.ListingsAdded),
	)
	// The no-op store reports an empty status; only a tracked failure should
	// flip the exit code.
	if run.Status != "" && run.Status != crawler.RunStatusSucceeded {
		return fmt.Errorf("crawl run %s: %s", run.Status, run.ErrorText)
	}
	return nil
}

// buildWorkers assembles the crawl pipeline from the app container and the
// crawler config. The workers share one prober and one headless browser; the
// returned cleanup tears the browser down.
func buildWorkers(
	queue crawler.Queue,
	appInstance App,
	ccfg crawler.Config,
	emitter progress.Emitter,
	count int,
) ([]*worker.Worker, func(context.Context), error) {
	logger := appInstance.GetLogger()
	svcCfg := appInstance.GetConfig()

	prober, err := crawler.NewCollyProber(ccfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init prober: %w", err)
	}

	scraper, err := buildScraper(ccfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func(ctx context.Context) {
		if scraper == nil {
			return
		}
		if cerr := scraper.Close(ctx); cerr != nil {
			logger.Warn("close scraper", zap.Error(cerr))
		}
	}

	topic := ""
	if svcCfg.PubSub.Enabled {
		topic = svcCfg.PubSub.TopicID
	}

	workers := make([]*worker.Worker, 0, count)
	for i := 0; i < count; i++ {
		workers = append(workers, worker.New(
			queue,
			appInstance.GetDatabase(),
			appInstance.GetWatchboard(),
			appInstance.GetBlobStore(),
			appInstance.GetPublisher(),
			prober,
			scraperOrNil(scraper),
			crawler.NewHeuristicDetector(ccfg),
			crawler.NewListingParser(ccfg),
			crawler.NewScrapeRetryPolicy(ccfg),
			sha256.New(),
			system.New(),
			emitter,
			worker.Config{
				ContentType:         ccfg.SnapshotContentType,
				SnapshotPrefix:      ccfg.SnapshotPrefix,
				Topic:               topic,
				NoResultPlaceholder: ccfg.NoResultPlaceholderRow,
			},
			logger,
		))
	}
	return workers, cleanup, nil
}

func buildScraper(ccfg crawler.Config, logger *zap.Logger) (*crawler.BuyeeScraper, error) {
	scraper, err := crawler.NewBuyeeScraper(ccfg, logger)
	switch {
	case err == nil:
		return scraper, nil
	case errors.Is(err, crawler.ErrScraperDisabled):
		logger.Warn("headless renderer disabled; only probe fetches will be used")
		return nil, nil
	default:
		return nil, fmt.Errorf("init scraper: %w", err)
	}
}

// scraperOrNil avoids handing the worker a typed nil interface.
func scraperOrNil(s *crawler.BuyeeScraper) crawler.Scraper {
	if s == nil {
		return nil
	}
	return s
}
