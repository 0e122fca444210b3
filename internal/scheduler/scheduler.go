// Package scheduler fires script handlers after a delay or at a fixed rate.
//
// Tasks name their script and handler; both are resolved only when the task
// fires, against whatever generation is current at that moment. Fires share
// a bounded pool. A one-shot task waits for a free slot; a repeating task
// whose tick finds the pool saturated skips that tick.
//
// Tasks live in memory only and are gone after a restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/keshon/mycelium/pkg/jobmgr"
)

var (
	ErrClosed      = errors.New("scheduler closed")
	ErrUnknownTask = errors.New("unknown task")
)

// Target runs a handler of a script. *dispatch.Dispatcher implements it.
type Target interface {
	FireScheduled(ctx context.Context, script, handler string) error
}

// TargetFunc adapts a function to Target.
type TargetFunc func(ctx context.Context, script, handler string) error

func (f TargetFunc) FireScheduled(ctx context.Context, script, handler string) error {
	return f(ctx, script, handler)
}

type Kind string

const (
	Once      Kind = "once"
	Repeating Kind = "repeating"
)

// Task is a snapshot of one scheduled timer.
type Task struct {
	ID      string    `json:"id" yaml:"id"`
	Script  string    `json:"script" yaml:"script"`
	Handler string    `json:"handler" yaml:"handler"`
	Kind    Kind      `json:"kind" yaml:"kind"`
	Delay   int64     `json:"delay" yaml:"delay"`
	Period  int64     `json:"period,omitempty" yaml:"period,omitempty"`
	Unit    Unit      `json:"unit" yaml:"unit"`
	Created time.Time `json:"created" yaml:"created"`
	Runs    int       `json:"runs" yaml:"runs"`
	Skipped int       `json:"skipped" yaml:"skipped"`
}

type Config struct {
	Workers int
}

type Scheduler struct {
	target Target
	logger *log.Logger
	jobs   *jobmgr.Manager
	slots  chan struct{}

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a scheduler firing into target with cfg.Workers concurrent
// fires (5 when unset).
func New(target Target, cfg Config, logger *log.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		target: target,
		logger: logger,
		jobs:   jobmgr.NewManager(func(msg string) { logger.Debug("job " + msg) }),
		slots:  make(chan struct{}, cfg.Workers),
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ScheduleOnce fires handler once after delay units.
func (s *Scheduler) ScheduleOnce(script, handler string, delay int64, unit string) (Task, error) {
	u, err := ParseUnit(unit)
	if err != nil {
		return Task{}, err
	}
	t := &Task{Script: script, Handler: handler, Kind: Once, Delay: max(delay, 0), Unit: u}
	wait, err := u.Of(t.Delay)
	if err != nil {
		return Task{}, err
	}
	task, err := s.start(t, func(ctx context.Context) error {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		defer s.forget(t.ID)

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		defer func() { <-s.slots }()
		return s.fire(ctx, t)
	})
	if err != nil {
		return Task{}, err
	}
	s.logger.Info("scheduled task", "id", task.ID, "script", script, "handler", handler,
		"kind", Once, "delay", task.Delay, "unit", u)
	return task, nil
}

// ScheduleRepeating fires handler every period units, starting after
// initialDelay units, until the task is cancelled. A failing fire does not
// stop the task.
func (s *Scheduler) ScheduleRepeating(script, handler string, initialDelay, period int64, unit string) (Task, error) {
	u, err := ParseUnit(unit)
	if err != nil {
		return Task{}, err
	}
	if period <= 0 {
		return Task{}, fmt.Errorf("period must be positive, got %d", period)
	}
	t := &Task{Script: script, Handler: handler, Kind: Repeating, Delay: max(initialDelay, 0), Period: period, Unit: u}
	wait, err := u.Of(t.Delay)
	if err != nil {
		return Task{}, err
	}
	every, err := u.Of(t.Period)
	if err != nil {
		return Task{}, err
	}
	task, err := s.start(t, func(ctx context.Context) error {
		defer s.forget(t.ID)

		first := time.NewTimer(wait)
		defer first.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-first.C:
		}

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			s.tick(ctx, t)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	if err != nil {
		return Task{}, err
	}
	s.logger.Info("scheduled task", "id", task.ID, "script", script, "handler", handler,
		"kind", Repeating, "delay", task.Delay, "period", period, "unit", u)
	return task, nil
}

// Cancel stops the task with id. A fire already running is interrupted.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if err := s.jobs.Stop(id); err != nil && !errors.Is(err, jobmgr.ErrNotRunning) {
		return err
	}
	s.logger.Info("cancelled task", "id", id)
	return nil
}

// Tasks returns the pending tasks, oldest first.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b Task) int { return a.Created.Compare(b.Created) })
	return out
}

// Close cancels every task and waits for running fires to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.tasks = map[string]*Task{}
	s.mu.Unlock()

	s.cancel()
	s.jobs.StopAll()
}

func (s *Scheduler) start(t *Task, run func(ctx context.Context) error) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Task{}, ErrClosed
	}
	t.ID = uuid.NewString()
	t.Created = time.Now()
	s.tasks[t.ID] = t
	snapshot := *t
	if err := s.jobs.Start(s.ctx, t.ID, run); err != nil {
		delete(s.tasks, t.ID)
		return Task{}, err
	}
	return snapshot, nil
}

func (s *Scheduler) forget(id string) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

func (s *Scheduler) tick(ctx context.Context, t *Task) {
	select {
	case s.slots <- struct{}{}:
	default:
		s.mu.Lock()
		t.Skipped++
		s.mu.Unlock()
		s.logger.Debug("scheduler saturated, skipping tick", "id", t.ID, "handler", t.Handler)
		return
	}
	defer func() { <-s.slots }()
	_ = s.fire(ctx, t)
}

func (s *Scheduler) fire(ctx context.Context, t *Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			s.logger.Error("scheduled task failed", "id", t.ID, "script", t.Script, "handler", t.Handler, "err", err)
		}
	}()

	s.mu.Lock()
	t.Runs++
	s.mu.Unlock()
	return s.target.FireScheduled(ctx, t.Script, t.Handler)
}
