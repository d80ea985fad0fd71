// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalScrapes tracks search pages successfully rendered and parsed.
	TotalScrapes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_scrapes_total",
		Help: "The total number of search pages successfully scraped.",
	})
	// TotalScrapeErrors tracks scrape attempts that resulted in an error.
	TotalScrapeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_scrape_errors_total",
		Help: "The total number of failed scrape attempts.",
	})
	// TotalRetries tracks render retries after transient failures.
	TotalRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_scrape_retries_total",
		Help: "The total number of scrape retries.",
	})
	// TotalBlockedProbes tracks probe responses that looked like bot blocks.
	TotalBlockedProbes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_blocked_probes_total",
		Help: "The total number of probe fetches answered with 403 or 429.",
	})
	// SheetAppendErrors tracks failed writes to the list worksheet.
	SheetAppendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_sheet_append_errors_total",
		Help: "The total number of failed sheet append operations.",
	})
	// ListingsAdded tracks listings accepted for the list worksheet.
	ListingsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_listings_added_total",
		Help: "The total number of new listings appended to the sheet.",
	})
	// ListingsSkipped tracks listings filtered out, partitioned by reason
	// (price_ceiling, duplicate).
	ListingsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watcher_listings_skipped_total",
		Help: "The total number of scraped listings dropped before the sheet append.",
	}, []string{"reason"})
	// RateLimitWaits tracks renders that had to wait for the domain QPS budget.
	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watcher_render_rate_limit_waits_total",
		Help: "The total number of renders delayed by the per-domain rate limiter.",
	})
)
