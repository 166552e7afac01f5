// Package maintenance runs scheduled housekeeping for long-running
// deployments, currently pruning old generation history.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/takuphilchan/offgrid-t2i/internal/logging"
)

// DefaultSchedule runs the prune job daily at 03:30 (cron with seconds).
const DefaultSchedule = "0 30 3 * * *"

// Pruner deletes history entries created before cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Report describes one prune run.
type Report struct {
	Timestamp time.Time     `json:"timestamp"`
	Cutoff    time.Time     `json:"cutoff"`
	Removed   int64         `json:"removed"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Config for Scheduler
type Config struct {
	Schedule      string // cron expression with a seconds field
	RetentionDays int
	JobTimeout    time.Duration
}

// Scheduler prunes history on a cron schedule.
type Scheduler struct {
	mu        sync.Mutex
	cron      *cron.Cron
	pruner    Pruner
	retention time.Duration
	timeout   time.Duration
	log       *logging.Logger
	onRun     func(Report)
	last      *Report
	now       func() time.Time
}

// New creates a scheduler and registers the prune job. A retention of zero
// or less disables pruning; Start then does nothing.
func New(cfg Config, pruner Pruner, log *logging.Logger) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	if log == nil {
		log = logging.Default()
	}

	s := &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		pruner:    pruner,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		timeout:   cfg.JobTimeout,
		log:       log.With(map[string]any{"component": "maintenance"}),
		now:       time.Now,
	}

	if s.retention > 0 {
		if _, err := s.cron.AddFunc(cfg.Schedule, s.job); err != nil {
			return nil, fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Schedule, err)
		}
	}
	return s, nil
}

// OnRun sets a callback invoked after every prune run.
func (s *Scheduler) OnRun(callback func(Report)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRun = callback
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	if s.retention <= 0 {
		s.log.Info("history retention disabled, not scheduling prune")
		return
	}
	s.log.Info("starting maintenance scheduler", map[string]any{"entries": len(s.cron.Entries())})
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job, or until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastReport returns the most recent run, or nil.
func (s *Scheduler) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

func (s *Scheduler) job() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.RunNow(ctx)
}

// RunNow prunes immediately. With retention disabled it removes nothing and
// returns an empty Report.
func (s *Scheduler) RunNow(ctx context.Context) Report {
	if s.retention <= 0 {
		return Report{}
	}
	start := s.now()
	report := Report{Timestamp: start, Cutoff: start.Add(-s.retention)}

	removed, err := s.pruner.Prune(ctx, report.Cutoff)
	report.Removed = removed
	report.Duration = time.Since(start)
	if err != nil {
		report.Error = err.Error()
		s.log.Error("history prune failed", map[string]any{"error": err})
	} else if removed > 0 {
		s.log.Info("pruned generation history", map[string]any{"removed": removed, "cutoff": report.Cutoff.Format(time.RFC3339)})
	}

	s.mu.Lock()
	s.last = &report
	callback := s.onRun
	s.mu.Unlock()

	if callback != nil {
		callback(report)
	}
	return report
}
