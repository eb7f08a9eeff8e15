package clock

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler is a scheduled job body. A returned error is logged but never
// unwinds the scheduler.
type Handler func(ctx context.Context, now time.Time) error

// Schedule is either a fixed interval or a daily local wall-clock time
// (for daily-snapshot).
type Schedule struct {
	Interval time.Duration // zero means DailyAt is used instead
	DailyAt  *time.Time    // only Hour/Minute are read; zero value disables
	Location *time.Location
}

// Job is one registered scheduler entry.
type Job struct {
	Name     string
	Schedule Schedule
	Handler  Handler

	nextRun time.Time
	running bool
}

const workerPoolSize = 2

// Scheduler fires jobs cooperatively on a bounded worker pool so a slow
// scan can never delay a monitor tick. A handler slower than its
// interval does not stack — the next tick is skipped and logged.
type Scheduler struct {
	clock Clock
	mu    sync.Mutex
	jobs  []*Job
	work  chan func()
	wg    sync.WaitGroup

	tickInterval time.Duration
}

// NewScheduler creates a Scheduler driven by the given clock, polling at
// tickInterval (1s is the natural granularity for minute/second-scale
// jobs).
func NewScheduler(clock Clock, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	s := &Scheduler{
		clock:        clock,
		work:         make(chan func(), workerPoolSize*4),
		tickInterval: tickInterval,
	}
	for i := 0; i < workerPoolSize; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for fn := range s.work {
		fn()
	}
}

// Register adds a job. next_run_time is set to now, not now+interval, so
// a freshly registered job fires on the very first tick.
func (s *Scheduler) Register(name string, sched Schedule, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &Job{
		Name:     name,
		Schedule: sched,
		Handler:  handler,
		nextRun:  s.clock.Now(),
	})
}

// Run drives the scheduler until ctx is cancelled, then drains in-flight
// handlers before returning.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(s.work)
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*Job
	for _, j := range s.jobs {
		if j.running {
			slog.Debug("scheduler: job still running, tick skipped", "job", j.Name)
			continue // slower than its interval — this tick is skipped
		}
		if !now.Before(j.nextRun) {
			j.running = true
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		job := j
		select {
		case s.work <- func() { s.runJob(ctx, job, now) }:
		default:
			// worker pool saturated this tick; mark not-running so it's
			// retried next tick rather than silently lost.
			s.mu.Lock()
			job.running = false
			s.mu.Unlock()
			slog.Warn("scheduler: worker pool saturated, job deferred", "job", job.Name)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *Job, now time.Time) {
	defer func() {
		s.mu.Lock()
		j.running = false
		j.nextRun = nextRunAfter(j.Schedule, now)
		s.mu.Unlock()
	}()

	if err := j.Handler(ctx, now); err != nil {
		slog.Error("scheduler: job failed", "job", j.Name, "err", err)
	}
}

func nextRunAfter(sched Schedule, now time.Time) time.Time {
	if sched.DailyAt != nil {
		loc := sched.Location
		if loc == nil {
			loc = time.UTC
		}
		local := now.In(loc)
		target := time.Date(local.Year(), local.Month(), local.Day(),
			sched.DailyAt.Hour(), sched.DailyAt.Minute(), 0, 0, loc)
		if !target.After(local) {
			target = target.AddDate(0, 0, 1)
		}
		return target
	}
	return now.Add(sched.Interval)
}

// Jobs returns a snapshot of registered job names, for diagnostics.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}
