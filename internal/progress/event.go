// Package progress defines the event stream emitted by the crawl workers and
// the hub that fans it out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
	StageCodeStart Stage = "CODE_START"
	StageCodeDone  Stage = "CODE_DONE"
	StageCodeError Stage = "CODE_ERROR"
)

// Event captures a single milestone of watcher progress.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Code scopes code-level events to a watch keyword.
	Code string
	// Listings carries the number of new listings found for the code.
	Listings int
	// Bytes carries the snapshot size for code completions.
	Bytes int64
	// Dur captures execution latency for code and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageCodeStart, StageCodeDone, StageCodeError:
		if e.Code == "" {
			return fmt.Errorf("%s requires a code", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
