// Package schedule runs playbooks on cron schedules. Each tick submits the
// playbook to an engine.Pool; a tick that arrives while the previous run
// of the same entry is still in flight is skipped.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ormasoftchile/playbook/pkg/kernel/engine"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Run describes one finished (or skipped) scheduled execution.
type Run struct {
	Entry   cron.EntryID
	Name    string
	Start   time.Time
	Elapsed time.Duration
	Result  any
	Err     error
	Skipped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for run results and cron diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSeconds accepts six-field specs with a leading seconds field.
func WithSeconds() Option {
	return func(s *Scheduler) { s.seconds = true }
}

// WithHook registers fn to receive every Run.
func WithHook(fn func(Run)) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, fn) }
}

// Scheduler owns a cron instance whose jobs execute on a pool.
type Scheduler struct {
	pool    *engine.Pool
	logger  *slog.Logger
	seconds bool
	hooks   []func(Run)
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	names map[cron.EntryID]string
}

// New creates a stopped scheduler.
func New(pool *engine.Pool, opts ...Option) *Scheduler {
	s := &Scheduler{
		pool:   pool,
		logger: slog.New(slog.DiscardHandler),
		names:  map[cron.EntryID]string{},
	}
	for _, o := range opts {
		o(s)
	}
	copts := []cron.Option{cron.WithLogger(cronLogger{s.logger})}
	if s.seconds {
		copts = append(copts, cron.WithSeconds())
	}
	s.cron = cron.New(copts...)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Add schedules pb. file, when set, seeds $__file__ for relative paths.
func (s *Scheduler) Add(spec string, pb *schema.Playbook, file string, vars map[string]any) (cron.EntryID, error) {
	name := pb.Name
	if file != "" {
		name = filepath.Base(file)
	}
	return s.add(spec, name, func(ctx context.Context) engine.Future {
		return s.pool.Submit(ctx, pb, file, vars)
	})
}

// AddFile schedules the playbook at path. The file is loaded once to fail
// early on malformed documents; every tick reloads it, so edits apply to
// the next run.
func (s *Scheduler) AddFile(spec, path string, vars map[string]any) (cron.EntryID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", path, err)
	}
	if _, err := schema.LoadFile(abs); err != nil {
		return 0, err
	}
	return s.add(spec, filepath.Base(abs), func(ctx context.Context) engine.Future {
		return s.pool.SubmitFile(ctx, abs, vars)
	})
}

func (s *Scheduler) add(spec, name string, submit func(context.Context) engine.Future) (cron.EntryID, error) {
	j := &job{s: s, name: name, submit: submit}
	id, err := s.cron.AddJob(spec, j)
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", name, err)
	}
	j.id = id
	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
	s.logger.Info("scheduled", "entry", id, "playbook", name, "spec", spec)
	return id, nil
}

// Remove unschedules an entry. A run in flight finishes.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
	s.mu.Lock()
	delete(s.names, id)
	s.mu.Unlock()
}

// Entries returns the scheduled entries by playbook name.
func (s *Scheduler) Entries() map[cron.EntryID]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[cron.EntryID]string, len(s.names))
	for id, name := range s.names {
		out[id] = name
	}
	return out
}

// Next reports when id fires next; zero when unknown or not started.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Start begins firing in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops firing, cancels runs in flight and waits for them until ctx
// is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

func (s *Scheduler) report(r Run) {
	switch {
	case r.Skipped:
		s.logger.Warn("run skipped, previous still in flight", "entry", r.Entry, "playbook", r.Name)
	case r.Err != nil:
		s.logger.Error("run failed", "entry", r.Entry, "playbook", r.Name, "elapsed", r.Elapsed, "error", r.Err)
	default:
		s.logger.Info("run finished", "entry", r.Entry, "playbook", r.Name, "elapsed", r.Elapsed, "result", r.Result)
	}
	for _, h := range s.hooks {
		h(r)
	}
}

// job is one cron entry.
type job struct {
	s       *Scheduler
	id      cron.EntryID
	name    string
	submit  func(context.Context) engine.Future
	running atomic.Bool
}

// Run implements cron.Job. It blocks until the playbook finishes so the
// in-flight guard covers the whole execution.
func (j *job) Run() {
	if !j.running.CompareAndSwap(false, true) {
		j.s.report(Run{Entry: j.id, Name: j.name, Start: time.Now(), Skipped: true})
		return
	}
	defer j.running.Store(false)

	start := time.Now()
	result, err := j.submit(j.s.ctx).Result()
	j.s.report(Run{
		Entry:   j.id,
		Name:    j.name,
		Start:   start,
		Elapsed: time.Since(start),
		Result:  result,
		Err:     err,
	})
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
