// Package scheduler runs the hunt and maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"house-hunter/utils"
)

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

// Scheduler is a cron scheduler in which a job never overlaps with itself.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *utils.Logger
}

// New creates a scheduler evaluating specs in the given IANA timezone.
func New(timezone string, logger *utils.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load timezone %q: %w", timezone, err)
	}

	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{cron: c, entries: make(map[string]cron.EntryID), logger: logger}, nil
}

// Add registers fn under name. Each execution gets its own context bounded
// by timeout.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		started := time.Now()
		s.logger.Info("[scheduler] Starting %s", name)
		if err := fn(ctx); err != nil {
			s.logger.Error("[scheduler] %s failed: %v", name, err)
			return
		}
		s.logger.Info("[scheduler] %s finished in %s", name, time.Since(started).Round(time.Millisecond))
	})
	if err != nil {
		return fmt.Errorf("scheduler: schedule %s (%q): %w", name, spec, err)
	}

	s.entries[name] = id
	s.logger.Info("[scheduler] Scheduled %s: %s", name, spec)
	return nil
}

// RunNow executes a registered job synchronously. It is skipped if the same
// job is already running.
func (s *Scheduler) RunNow(name string) error {
	id, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	s.logger.Info("[scheduler] Triggering immediate run of %s", name)
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

// NextRuns lists the next activation of each job, soonest first. Empty
// before Start.
func (s *Scheduler) NextRuns() []string {
	var lines []string
	type next struct {
		name string
		at   time.Time
	}
	var all []next
	for name, id := range s.entries {
		all = append(all, next{name, s.cron.Entry(id).Next})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, n := range all {
		if n.at.IsZero() {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s at %s", n.name, n.at.Format(time.RFC1123)))
	}
	return lines
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("[scheduler] Started with %d job(s)", len(s.entries))
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("[scheduler] Stopped")
}
