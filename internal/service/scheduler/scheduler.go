package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"GridVol/pkg/logger"
)

// Task is one scheduled unit of work. It receives the scheduled fire time.
type Task func(ctx context.Context, at time.Time) error

type Config struct {
	// Location the cron specs are evaluated in.
	Location *time.Location
	// Timeout bounds a single task execution.
	Timeout time.Duration
}

// Scheduler runs tasks on cron specs. Overlapping executions of one task
// are skipped.
type Scheduler struct {
	cron    *cron.Cron
	log     *logger.Logger
	cfg     Config
	entries map[string]cron.EntryID
	tasks   map[string]Task
}

func New(cfg Config, log *logger.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		cfg:     cfg,
		entries: make(map[string]cron.EntryID),
		tasks:   make(map[string]Task),
	}
}

// Add registers task under name with a standard five-field spec or a
// descriptor such as @daily.
func (s *Scheduler) Add(name, spec string, task Task) error {
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("task %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunNow(context.Background(), name); err != nil {
			s.log.Error("scheduled task failed", logger.String("task", name), logger.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	s.entries[name] = id
	s.tasks[name] = task
	s.log.Info("task scheduled", logger.String("task", name), logger.String("spec", spec))
	return nil
}

// RunNow executes a registered task immediately and returns its fire time.
func (s *Scheduler) RunNow(ctx context.Context, name string) (time.Time, error) {
	task, ok := s.tasks[name]
	if !ok {
		return time.Time{}, fmt.Errorf("task %q not registered", name)
	}
	at := time.Now().In(s.cfg.Location)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := task(ctx, at)
	s.log.Info("task finished",
		logger.String("task", name),
		logger.Duration("duration_ms", time.Since(start)),
		logger.Bool("ok", err == nil))
	return at, err
}

// Next reports the next fire time of a task.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if !e.Valid() {
		return time.Time{}, false
	}
	if e.Next.IsZero() {
		sched := e.Schedule
		return sched.Next(time.Now().In(s.cfg.Location)), true
	}
	return e.Next, true
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops firing new runs and waits for running ones or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct{ log *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, logger.Any("kv", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, logger.Error(err), logger.Any("kv", keysAndValues))
}
