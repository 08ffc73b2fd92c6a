// Package scheduler runs the registry's periodic maintenance tasks, such as
// the heartbeat sweep and event log pruning, on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrDuplicateTask is returned when a task name is registered twice.
var ErrDuplicateTask = errors.New("scheduler: duplicate task")

// ErrUnknownTask is returned by Run for a name that was never registered.
var ErrUnknownTask = errors.New("scheduler: unknown task")

// Task is the function executed on each tick. The context is cancelled
// when the scheduler stops.
type Task func(ctx context.Context) error

// Logger is the logging surface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	l Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

type task struct {
	name    string
	spec    string
	fn      Task
	entryID cron.EntryID

	mu       sync.Mutex
	lastErr  error
	runs     int
	failures int
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name     string
	Spec     string
	Next     time.Time
	Prev     time.Time
	Runs     int
	Failures int
	LastErr  error
}

// Scheduler wraps a cron runner. Overlapping runs of the same task are
// skipped and panics are recovered.
type Scheduler struct {
	cron   *cron.Cron
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	tasks   map[string]*task
	order   []string
	running bool
}

// New creates a stopped scheduler.
func New(logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	cl := cronLogger{l: logger}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
}

// Add registers fn under name with a cron spec. Standard five-field specs
// and descriptors such as "@daily" or "@every 30s" are accepted.
func (s *Scheduler) Add(name, spec string, fn Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}

	t := &task{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.execute(t) })
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	t.entryID = id

	s.tasks[name] = t
	s.order = append(s.order, name)
	s.logger.Info("task registered", "task", name, "spec", spec)
	return nil
}

// Every registers fn to run at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn Task) error {
	if interval <= 0 {
		return fmt.Errorf("scheduling %s: interval must be positive", name)
	}
	return s.Add(name, "@every "+interval.String(), fn)
}

// Start begins running tasks in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop halts the scheduler, cancels running tasks and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled tasks: %w", ctx.Err())
	}
}

// Run executes a registered task immediately, outside its schedule.
func (s *Scheduler) Run(name string) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.execute(t)
}

// Tasks returns the registered tasks in registration order.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskInfo, 0, len(s.order))
	for _, name := range s.order {
		t := s.tasks[name]
		e := s.cron.Entry(t.entryID)

		t.mu.Lock()
		out = append(out, TaskInfo{
			Name:     t.name,
			Spec:     t.spec,
			Next:     e.Next,
			Prev:     e.Prev,
			Runs:     t.runs,
			Failures: t.failures,
			LastErr:  t.lastErr,
		})
		t.mu.Unlock()
	}
	return out
}

func (s *Scheduler) execute(t *task) error {
	start := time.Now()
	err := t.fn(s.ctx)

	t.mu.Lock()
	t.runs++
	t.lastErr = err
	if err != nil {
		t.failures++
	}
	t.mu.Unlock()

	if err != nil {
		s.logger.Error("task failed", "task", t.name, "error", err)
		return err
	}
	s.logger.Debug("task completed", "task", t.name, "duration", time.Since(start))
	return nil
}
