// Package jobs runs cron-scheduled maintenance work under the system manager.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/studiodesk/studiodesk/internal/app/system"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// Func is one scheduled unit of work.
type Func func(ctx context.Context) error

type job struct {
	name string
	spec string
	fn   Func
}

// Scheduler wraps a cron runner. Jobs are registered before Start.
type Scheduler struct {
	log     *logger.Logger
	timeout time.Duration
	loc     *time.Location

	mu      sync.Mutex
	jobs    []job
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Scheduler)(nil)

// NewScheduler creates a scheduler evaluating specs in loc.
func NewScheduler(loc *time.Location, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("jobs")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{log: log, loc: loc, timeout: 10 * time.Minute}
}

// Add registers a job. The spec is a standard five-field cron expression or a
// descriptor such as @hourly.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %s: scheduler already running", name)
	}
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("job %s already registered", name)
		}
	}
	s.jobs = append(s.jobs, job{name: name, spec: spec, fn: fn})
	return nil
}

// Jobs returns registered job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.name
	}
	return names
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *job
	for i := range s.jobs {
		if s.jobs[i].name == name {
			target = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return errors.NotFound("job", name)
	}
	return target.fn(ctx)
}

func (s *Scheduler) Name() string { return "jobs-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	c := cron.New(cron.WithLocation(s.loc), cron.WithChain(cron.Recover(cronLogger{s.log})))
	runCtx, cancel := context.WithCancel(ctx)
	for _, j := range s.jobs {
		j := j
		if _, err := c.AddFunc(j.spec, func() { s.run(runCtx, j) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.WithField("jobs", len(s.jobs)).Info("job scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, j job) {
	jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	entry := s.log.WithField("job", j.name)
	if err := j.fn(jobCtx); err != nil {
		entry.WithError(err).Error("scheduled job failed")
		return
	}
	entry.WithField("duration", time.Since(start).String()).Debug("scheduled job finished")
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
