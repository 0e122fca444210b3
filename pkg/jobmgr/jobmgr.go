// Package jobmgr runs named background jobs with cancellation and in-memory
// tracking.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(func(msg string) {
//	    logger.Debug(msg)
//	})
//
//	err := jm.Start(ctx, "7f1c...", func(ctx context.Context) error {
//	    // do work until ctx is cancelled
//	    return nil
//	})
//
//	// later...
//	_ = jm.Stop("7f1c...")
//
// Jobs run in their own goroutines and are removed when they return. No retry
// logic, no persistence.
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	ErrRunning    = errors.New("job already running")
	ErrNotRunning = errors.New("job not running")
)

// Job is one running unit of work.
type Job struct {
	Name    string
	Started time.Time
	cancel  context.CancelFunc
}

// StatusReporter receives lifecycle events for jobs.
// Example messages:
//
//	running:7f1c...
//	error:7f1c...:handler failed
//	done:7f1c...
type StatusReporter func(string)

// Manager starts, stops and tracks jobs. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	wg       sync.WaitGroup
	Reporter StatusReporter
}

// NewManager creates a Manager. reporter may be nil.
func NewManager(reporter StatusReporter) *Manager {
	return &Manager{
		jobs:     make(map[string]*Job),
		Reporter: reporter,
	}
}

// Start runs runner in a new goroutine under a context derived from parent.
// A name may only run once at a time.
func (m *Manager) Start(parent context.Context, name string, runner func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrRunning, name)
	}

	ctx, cancel := context.WithCancel(parent)
	job := &Job{Name: name, Started: time.Now(), cancel: cancel}
	m.jobs[name] = job

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.report("running:" + name)

		if err := runner(ctx); err != nil {
			m.report("error:" + name + ":" + err.Error())
		} else {
			m.report("done:" + name)
		}

		m.mu.Lock()
		if m.jobs[name] == job {
			delete(m.jobs, name)
		}
		m.mu.Unlock()
	}()
	return nil
}

// Stop cancels a running job. It does not wait for the job to return.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	job.cancel()
	delete(m.jobs, name)
	return nil
}

// StopAll cancels every job and waits for all of them to return.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for name, job := range m.jobs {
		job.cancel()
		delete(m.jobs, name)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Running reports whether name is active.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok
}

// List returns the active job names, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
