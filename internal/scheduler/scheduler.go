// Package scheduler runs named periodic jobs. It stands in for the
// platform's background-execution facility: a Host decides whether
// background work is allowed at all, and each job reports whether it
// found new data, nothing, or failed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnknownJob is returned by Trigger for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Result is the outcome a job reports to the host.
type Result int

const (
	ResultNoData Result = iota
	ResultNewData
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultNewData:
		return "new_data"
	case ResultFailed:
		return "failed"
	}

	return "no_data"
}

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (Result, error)
}

// Host is the environment that grants or refuses background execution.
type Host interface {
	AllowBackground(job string) bool
}

// HostFunc adapts a function to Host.
type HostFunc func(job string) bool

// AllowBackground calls f.
func (f HostFunc) AllowBackground(job string) bool { return f(job) }

// AllowAll is a Host that permits every job.
var AllowAll Host = HostFunc(func(string) bool { return true })

// JobStatus describes the last run of a job.
type JobStatus struct {
	Name      string
	Interval  time.Duration
	LastRun   time.Time
	LastError string
	Result    Result
	Runs      int
}

type entry struct {
	job     Job
	running atomic.Bool

	mu     sync.Mutex
	status JobStatus
}

// Scheduler owns the registered jobs.
type Scheduler struct {
	host   Host
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*entry
	runCtx context.Context
	wg     sync.WaitGroup
}

// New creates a Scheduler. A nil host allows everything.
func New(host Host, logger *slog.Logger) *Scheduler {
	if host == nil {
		host = AllowAll
	}

	return &Scheduler{
		host:   host,
		logger: logger.With(slog.String("component", "scheduler")),
		jobs:   make(map[string]*entry),
	}
}

// Register adds a job. It returns false without error when the name is
// already registered or the host declines background execution; neither
// is fatal. Registering while Run is active starts the job immediately.
func (s *Scheduler) Register(job Job) (bool, error) {
	if job.Name == "" {
		return false, errors.New("job name is required")
	}

	if job.Interval <= 0 {
		return false, fmt.Errorf("job %s: interval must be positive", job.Name)
	}

	if job.Run == nil {
		return false, fmt.Errorf("job %s: run function is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		s.logger.Debug("job already registered", slog.String("job", job.Name))
		return false, nil
	}

	if !s.host.AllowBackground(job.Name) {
		s.logger.Warn("background execution declined by host, job not registered",
			slog.String("job", job.Name))
		return false, nil
	}

	e := &entry{job: job, status: JobStatus{Name: job.Name, Interval: job.Interval}}
	s.jobs[job.Name] = e

	s.logger.Info("job registered",
		slog.String("job", job.Name),
		slog.Duration("interval", job.Interval),
	)

	if s.runCtx != nil {
		s.startLocked(s.runCtx, e)
	}

	return true, nil
}

// Run ticks every registered job at its interval until ctx is cancelled,
// then waits for in-flight runs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}

	s.runCtx = ctx
	for _, e := range s.jobs {
		s.startLocked(ctx, e)
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.runCtx = nil
	s.mu.Unlock()

	s.wg.Wait()

	return nil
}

func (s *Scheduler) startLocked(ctx context.Context, e *entry) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(e.job.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.exec(ctx, e)
			}
		}
	}()
}

// Trigger runs a job now, outside its schedule. If the job is already
// running the call returns ResultNoData without running it again.
func (s *Scheduler) Trigger(ctx context.Context, name string) (Result, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return ResultFailed, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	return s.exec(ctx, e)
}

// exec runs a job once. Errors and panics are logged and reported as
// ResultFailed; they never escape.
func (s *Scheduler) exec(ctx context.Context, e *entry) (result Result, err error) {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Debug("job still running, skipping", slog.String("job", e.job.Name))
		return ResultNoData, nil
	}
	defer e.running.Store(false)

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result, err = ResultFailed, fmt.Errorf("job %s panicked: %v", e.job.Name, r)
		}

		if err != nil {
			result = ResultFailed
			s.logger.Warn("job failed",
				slog.String("job", e.job.Name),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Debug("job finished",
				slog.String("job", e.job.Name),
				slog.String("result", result.String()),
				slog.Duration("took", time.Since(start)),
			)
		}

		e.mu.Lock()
		e.status.LastRun = start
		e.status.Result = result
		e.status.Runs++
		e.status.LastError = ""
		if err != nil {
			e.status.LastError = err.Error()
		}
		e.mu.Unlock()
	}()

	return e.job.Run(ctx)
}

// Status returns the status of every job, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.status)
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
