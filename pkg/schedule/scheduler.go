// Package schedule runs the periodic jobs of a tally daemon on a cron
// scheduler managed as a lifecycle worker.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/robfig/cron/v3"
)

// Job is a named periodic task. Spec uses robfig/cron syntax, e.g. "@every 15m".
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// JobStats records the outcome of a job's runs.
type JobStats struct {
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	Skipped   int       `json:"skipped"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

// Scheduler runs jobs on their schedule. A job never overlaps with itself:
// a tick that arrives while the previous run is still going is skipped.
type Scheduler struct {
	*worker.BaseWorker
	cron   *cron.Cron
	jobs   map[string]Job
	ids    map[string]cron.EntryID
	logger *slog.Logger
	cancel context.CancelFunc

	mu      sync.Mutex
	runCtx  context.Context
	running map[string]bool
	stats   map[string]*JobStats
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New validates the job specs and creates a stopped scheduler.
func New(jobs []Job, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		BaseWorker: worker.NewBaseWorker("scheduler"),
		jobs:       make(map[string]Job, len(jobs)),
		ids:        make(map[string]cron.EntryID, len(jobs)),
		logger:     slog.New(slog.DiscardHandler),
		running:    make(map[string]bool),
		stats:      make(map[string]*JobStats),
		runCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, errors.New("job needs a name and a run function")
		}
		if _, dup := s.jobs[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		name := j.Name
		id, err := s.cron.AddFunc(j.Spec, func() { s.fire(name) })
		if err != nil {
			return nil, fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Spec, err)
		}
		s.jobs[name] = j
		s.ids[name] = id
		s.stats[name] = &JobStats{}
	}
	return s, nil
}

// Start begins firing jobs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	status := s.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("scheduler already started (status: %s)", status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Lock()
	s.runCtx = runCtx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	s.SetStatus(worker.StatusRunning)
	return s.StartFunc(runCtx, s.run)
}

func (s *Scheduler) run(ctx context.Context) error {
	<-ctx.Done()
	// Wait for running jobs to observe cancellation and return.
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Stop cancels running jobs and waits for them.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.StopRequested = true
		s.cancel()
	}
	return s.BaseWorker.Stop(ctx)
}

// State implements the lifecycle worker state export.
func (s *Scheduler) State() worker.State {
	return s.ExportState(func(st *worker.State) {
		st.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
		}
	})
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if err := s.RunNow(ctx, name); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		s.logger.Error("job failed", "job", name, "error", err)
	}
}

// ErrAlreadyRunning is returned by RunNow when the job is mid-run.
var ErrAlreadyRunning = errors.New("job already running")

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}

	s.mu.Lock()
	if s.running[name] {
		s.stats[name].Skipped++
		s.mu.Unlock()
		s.logger.Debug("job still running, tick skipped", "job", name)
		return ErrAlreadyRunning
	}
	s.running[name] = true
	s.mu.Unlock()

	started := time.Now()
	err := job.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	st := s.stats[name]
	st.Runs++
	st.LastRun = started
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
		return err
	}
	s.logger.Debug("job finished", "job", name, "took", time.Since(started))
	return nil
}

// Trigger runs job every time source emits an event, until source closes or
// ctx is done. Bursts coalesce: events arriving while the job runs are dropped.
func (s *Scheduler) Trigger(ctx context.Context, source lifecycle.Source, job string) error {
	if _, ok := s.jobs[job]; !ok {
		return fmt.Errorf("unknown job %q", job)
	}
	if err := source.Start(ctx); err != nil {
		return err
	}
	lifecycle.Go(ctx, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-source.Events():
				if !ok {
					return nil
				}
				s.logger.Debug("change detected", "event", e.String(), "job", job)
				if err := s.RunNow(ctx, job); err != nil && !errors.Is(err, ErrAlreadyRunning) {
					s.logger.Error("triggered job failed", "job", job, "error", err)
				}
			}
		}
	}, lifecycle.WithErrorHandler(func(err error) {
		s.logger.Error("trigger loop crashed", "job", job, "error", err)
	}))
	return nil
}

// Stats returns a copy of the per-job statistics.
func (s *Scheduler) Stats() map[string]JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]JobStats, len(s.stats))
	for name, st := range s.stats {
		cp := *st
		cp.Next = s.cron.Entry(s.ids[name]).Next
		out[name] = cp
	}
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
