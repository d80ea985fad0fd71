// Package schedule runs crawls on a cron cadence.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSpec fires at minute zero of every third hour, eight times per UTC
// day (00:00, 03:00, ... 21:00).
const DefaultSpec = "0 */3 * * *"

// Submitter starts a new crawl run. The scheduler only needs the trigger
// side of the run API.
type Submitter interface {
	SubmitRun(ctx context.Context) (string, error)
}

// Scheduler wraps a cron runner that submits crawl runs on a fixed spec.
// All schedule evaluation happens in UTC regardless of the host timezone.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	logger *zap.Logger
}

// New builds a Scheduler for the given cron spec. The spec uses the standard
// five-field format and is validated before the scheduler is returned.
func New(spec string, submitter Submitter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := Parse(spec); err != nil {
		return nil, err
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)
	s := &Scheduler{cron: c, spec: spec, logger: logger}
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		runID, err := submitter.SubmitRun(ctx)
		if err != nil {
			logger.Error("scheduled run submit failed", zap.Error(err))
			return
		}
		logger.Info("scheduled run submitted",
			zap.String("run_id", runID),
			zap.String("spec", spec),
		)
	}); err != nil {
		return nil, fmt.Errorf("register cron entry: %w", err)
	}
	return s, nil
}

// Start begins firing on schedule. It returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec))
}

// Stop halts the scheduler and waits for any in-flight trigger to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Parse validates a five-field cron spec and returns its schedule.
func Parse(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return sched, nil
}

// NextRuns returns the next n firing times of spec after from, in UTC.
func NextRuns(spec string, from time.Time, n int) ([]time.Time, error) {
	sched, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, n)
	next := from.UTC()
	for i := 0; i < n; i++ {
		next = sched.Next(next)
		times = append(times, next)
	}
	return times, nil
}
