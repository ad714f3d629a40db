// Package jobs runs Hana's periodic maintenance on cron schedules: the sulk
// and romance checks, history trimming, long-term memory cleanup and
// database compaction.
//
// A failing job is logged and reported, then simply runs again on its next
// tick. Runs of the same job never overlap.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/bdobrica/Hana/common/trace"
	"github.com/bdobrica/Hana/internal/hana/report"
)

// Job is one unit of maintenance work.
type Job func(ctx context.Context) error

// ErrUnknownJob is returned by RunNow for a name that was never registered.
var ErrUnknownJob = errors.New("jobs: unknown job")

// Status describes a registered job for the status endpoint.
type Status struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run,omitzero"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
}

type entry struct {
	name string
	expr string
	job  Job
	// handle is the gocron job; its NextRun is the schedule of record.
	handle gocron.Job
	// run serialises executions; scheduled and manual runs share it.
	run sync.Mutex

	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
	runs     int
	failures int
}

// Scheduler wraps a gocron scheduler with status tracking and panic-safe,
// reported job execution.
type Scheduler struct {
	sched    gocron.Scheduler
	reporter report.Reporter
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
}

// NewScheduler creates a stopped scheduler evaluating cron expressions in
// loc.
func NewScheduler(loc *time.Location, reporter report.Reporter, logger *slog.Logger) (*Scheduler, error) {
	return newScheduler(loc, reporter, logger)
}

// newScheduler is NewScheduler with extra gocron options, such as a fake
// clock in tests.
func newScheduler(loc *time.Location, reporter report.Reporter, logger *slog.Logger, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = report.LogReporter{Logger: logger}
	}
	sched, err := gocron.NewScheduler(append([]gocron.SchedulerOption{gocron.WithLocation(loc)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("jobs: create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sched:    sched,
		reporter: reporter,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
	}, nil
}

// Register adds job under name on the standard five-field cron expression
// expr.
func (s *Scheduler) Register(name, expr string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("jobs: %s: already registered", name)
	}

	e := &entry{name: name, expr: expr, job: job}
	handle, err := s.sched.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(func() { s.execute(s.ctx, e) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("jobs: %s: invalid schedule %q: %w", name, expr, err)
	}
	e.handle = handle
	s.entries[name] = e
	s.logger.Info("jobs: registered", "job", name, "schedule", expr)
	return nil
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
	s.logger.Info("jobs: scheduler started", "jobs", len(s.entries))
}

// Stop cancels in-flight job contexts and waits for running jobs to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("jobs: shutdown: %w", err)
	}
	s.logger.Info("jobs: scheduler stopped")
	return nil
}

// RunNow runs the named job synchronously, outside its schedule. It waits
// for a scheduled run of the same job to finish first.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, e)
}

// Status lists every registered job, sorted by name. NextRun is zero until
// the scheduler has been started.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		next, err := e.handle.NextRun()
		if err != nil {
			s.logger.Debug("jobs: next run unavailable", "job", e.name, "err", err)
		}
		e.mu.Lock()
		st := Status{
			Name:     e.name,
			Schedule: e.expr,
			NextRun:  next,
			LastRun:  e.lastRun,
			Runs:     e.runs,
			Failures: e.failures,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) execute(ctx context.Context, e *entry) (err error) {
	e.run.Lock()
	defer e.run.Unlock()

	ctx, traceID := trace.Ensure(ctx)
	logger := s.logger.With("job", e.name, "trace_id", traceID)
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobs: %s: panic: %v", e.name, r)
		}
		took := s.now().Sub(start)

		e.mu.Lock()
		e.lastRun = start
		e.lastErr = err
		e.runs++
		if err != nil {
			e.failures++
		}
		e.mu.Unlock()

		if err != nil {
			logger.Error("jobs: run failed", "err", err, "took", took)
			s.reporter.ReportException(ctx, err, map[string]any{"job": e.name})
			return
		}
		logger.Debug("jobs: run finished", "took", took)
	}()

	return e.job(ctx)
}
