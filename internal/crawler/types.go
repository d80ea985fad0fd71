package crawler

import "time"

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status is final. Terminal runs are never
// picked up by a worker and never change status again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Trigger records what started a run.
type Trigger string

// Supported run triggers.
const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerOneShot  Trigger = "oneshot"
)

// WatchEntry is one row of the watch sheet: a search keyword plus an optional
// price ceiling in yen. A nil ceiling means no limit.
type WatchEntry struct {
	Code        string
	MaxPriceYen *int
}

// Listing is a single non-sold item scraped from a Buyee search page.
type Listing struct {
	Code      string    `json:"code"`
	Title     string    `json:"title"`
	Price     string    `json:"price"`
	PriceYen  int       `json:"price_yen"`
	ImageURL  string    `json:"image_url"`
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Run is the metadata persisted for each crawl run.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Trigger   Trigger     `json:"trigger"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  RunCounters `json:"counters"`
}

// RunCounters tracks per-run progress stats.
type RunCounters struct {
	CodesCrawled   int `json:"codes_crawled"`
	CodesFailed    int `json:"codes_failed"`
	ListingsAdded  int `json:"listings_added"`
	ListingsSeen   int `json:"listings_seen"`
	ListingsPriced int `json:"listings_priced_out"`
}

// Snapshot holds the rendered HTML of one search page plus fetch metadata.
type Snapshot struct {
	Code       string
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	UsedJS     bool
}

// RunItem wraps a run ready to execute on the queue.
type RunItem struct {
	RunID     string
	Trigger   Trigger
	Attempt   int
	Submitted int64
}

// RunResult is returned by the API result endpoint.
type RunResult struct {
	Run      Run       `json:"run"`
	Listings []Listing `json:"listings"`
}
